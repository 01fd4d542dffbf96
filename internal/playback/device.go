package playback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/aira-core/internal/audio"
)

const pendingLimit = 256

type pending struct {
	buf audio.Buffer
	at  float64
}

// ExecOutput plays audio by piping PCM16 LE into a player subprocess such as
// ffplay. Its clock starts when the process is launched.
type ExecOutput struct {
	log   *slog.Logger
	stdin io.WriteCloser
	wait  func() error
	start time.Time

	items     chan pending
	done      chan struct{}
	dead      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewExecOutput(ctx context.Context, command string, log *slog.Logger) (*ExecOutput, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playback command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("playback command empty")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("playback stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start playback command: %w", err)
	}

	return newOutput(stdin, cmd.Wait, log), nil
}

func newOutput(stdin io.WriteCloser, wait func() error, log *slog.Logger) *ExecOutput {
	o := &ExecOutput{
		log:   log.With(slog.String("component", "playback_device")),
		stdin: stdin,
		wait:  wait,
		start: time.Now(),
		items: make(chan pending, pendingLimit),
		done:  make(chan struct{}),
		dead:  make(chan struct{}),
	}
	o.wg.Add(1)
	go o.feed()
	return o
}

func (o *ExecOutput) Now() float64 {
	return time.Since(o.start).Seconds()
}

// Schedule queues buf for writing at the given clock time. When the device
// falls too far behind, the buffer is dropped. Once a write to the player
// has failed, every later buffer is dropped silently.
func (o *ExecOutput) Schedule(buf audio.Buffer, at float64) {
	select {
	case <-o.done:
		return
	case <-o.dead:
		return
	default:
	}
	select {
	case o.items <- pending{buf: buf, at: at}:
	default:
		o.log.Warn("playback device backlog full, dropping buffer")
	}
}

func (o *ExecOutput) feed() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case item := <-o.items:
			if wait := item.at - o.Now(); wait > 0 {
				timer := time.NewTimer(time.Duration(wait * float64(time.Second)))
				select {
				case <-o.done:
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			data := audio.EncodePCM16LE(audio.FloatToPCM16(item.buf.Samples))
			if _, err := o.stdin.Write(data); err != nil {
				o.log.Warn("playback write failed", slog.String("error", err.Error()))
				close(o.dead)
				return
			}
		}
	}
}

func (o *ExecOutput) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.done)
		o.wg.Wait()
		_ = o.stdin.Close()
		if werr := o.wait(); werr != nil {
			err = fmt.Errorf("playback command: %w", werr)
		}
	})
	return err
}
