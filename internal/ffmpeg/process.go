// Package ffmpeg runs ffmpeg and ffprobe as subprocesses to decode, probe and
// time-stretch audio for the playback engine.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// stderrTail is how much subprocess stderr is kept for error messages.
const stderrTail = 4096

// closeTimeout bounds how long Close waits for a killed process to exit.
const closeTimeout = 2 * time.Second

// CheckBinary checks if a binary exists in the system PATH.
func CheckBinary(name string) error {
	_, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("binary '%s' not found in PATH: %w", name, err)
	}
	return nil
}

// execute runs a command to completion and returns its stdout. stderr is
// attached to the error when the command fails.
func execute(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out after %v", name, timeout)
		}
		return nil, fmt.Errorf("%s cancelled: %w", name, ctx.Err())
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s failed: %w\nstderr: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// process is a running subprocess with piped stdout and optionally stdin.
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stdin  io.WriteCloser // nil unless requested
	stderr *tailBuffer
	cancel context.CancelFunc

	once     sync.Once
	waitErr  error
	waitDone chan struct{}
}

// startProcess launches name with args. The process lives until Close or
// until ctx is cancelled.
func startProcess(ctx context.Context, withStdin bool, name string, args ...string) (*process, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, name, args...)

	p := &process{
		cmd:      cmd,
		stderr:   &tailBuffer{max: stderrTail},
		cancel:   cancel,
		waitDone: make(chan struct{}),
	}
	cmd.Stderr = p.stderr

	var err error
	if withStdin {
		if p.stdin, err = cmd.StdinPipe(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
	}
	if p.stdout, err = cmd.StdoutPipe(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	return p, nil
}

// wait reaps the process once stdout has been fully read. It reports a
// non-zero exit together with the captured stderr.
func (p *process) wait() error {
	p.once.Do(func() {
		go func() {
			p.waitErr = p.cmd.Wait()
			close(p.waitDone)
		}()
	})
	<-p.waitDone
	if p.waitErr == nil {
		return nil
	}
	if msg := p.stderr.String(); msg != "" {
		return fmt.Errorf("%w: %s", p.waitErr, msg)
	}
	return p.waitErr
}

// Close kills the process and waits briefly for it to exit. Exit errors
// caused by the kill are not reported.
func (p *process) Close() error {
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		_ = p.wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(closeTimeout):
		if p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil {
				return fmt.Errorf("failed to kill %s: %w", p.cmd.Path, err)
			}
		}
		return nil
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
