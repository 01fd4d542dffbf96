package vision

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// ExecGrabber runs a command per capture and takes its stdout as the image,
// e.g. ffmpeg emitting a single mjpeg frame to image2pipe.
type ExecGrabber struct {
	cmd []string
}

func NewExecGrabber(command string) (*ExecGrabber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse vision command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("vision command empty")
	}
	return &ExecGrabber{cmd: args}, nil
}

func (g *ExecGrabber) Grab(ctx context.Context) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("vision command: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("vision command: %w", err)
	}
	return stdout.Bytes(), nil
}
