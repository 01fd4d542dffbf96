package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// ExecDevice reads microphone samples from the stdout of a recorder command,
// typically ffmpeg writing f32le mono at the capture rate.
type ExecDevice struct {
	cmd []string
}

func NewExecDevice(command string) (*ExecDevice, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command empty")
	}
	return &ExecDevice{cmd: args}, nil
}

func (d *ExecDevice) Open(ctx context.Context) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, d.cmd[0], d.cmd[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture command: %w", err)
	}
	return &processReader{ReadCloser: stdout, cmd: cmd}, nil
}

type processReader struct {
	io.ReadCloser
	cmd *exec.Cmd
}

// Close stops the recorder process so the input device is released.
func (p *processReader) Close() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.ReadCloser.Close()
	_ = p.cmd.Wait()
	return nil
}
