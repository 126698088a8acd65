package remote

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type scriptFunc func(command, statement, secret string) (stdout, stderr string, status int)

type fakeTransport struct {
	script   scriptFunc
	delay    time.Duration
	startErr error
	aliveErr error

	active    atomic.Int32
	maxActive atomic.Int32
	closed    atomic.Bool

	mu       sync.Mutex
	commands []string
}

func (f *fakeTransport) Start(_ context.Context, command string) (Process, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	n := f.active.Add(1)
	for {
		current := f.maxActive.Load()
		if n <= current || f.maxActive.CompareAndSwap(current, n) {
			break
		}
	}
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	p := &fakeProcess{
		stdinR: stdinR, stdinW: stdinW,
		stdoutR: stdoutR, stdoutW: stdoutW,
		stderrR: stderrR, stderrW: stderrW,
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go f.run(command, p)
	return p, nil
}

func (f *fakeTransport) run(command string, p *fakeProcess) {
	defer close(p.done)
	defer f.active.Add(-1)

	reader := bufio.NewReader(p.stdinR)
	statement, _ := reader.ReadString('\n')
	secret, _ := reader.ReadString('\n')
	_, _ = io.Copy(io.Discard, reader)

	select {
	case <-time.After(f.delay):
	case <-p.closed:
		return
	}

	stdout, stderr, status := f.script(command, strings.TrimSuffix(statement, "\n"), strings.TrimSuffix(secret, "\n"))
	_, _ = io.WriteString(p.stdoutW, stdout)
	_ = p.stdoutW.Close()
	_, _ = io.WriteString(p.stderrW, stderr)
	_ = p.stderrW.Close()
	p.status = status
}

func (f *fakeTransport) Alive(context.Context) error {
	return f.aliveErr
}

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeTransport) recordedCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

type fakeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	status    int
	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader     { return p.stderrR }

func (p *fakeProcess) Wait() error {
	<-p.done
	if p.status != 0 {
		return &ExitError{Status: p.status}
	}
	return nil
}

func (p *fakeProcess) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.stdinR.CloseWithError(io.ErrClosedPipe)
		_ = p.stdoutW.CloseWithError(io.ErrClosedPipe)
		_ = p.stderrW.CloseWithError(io.ErrClosedPipe)
	})
	return nil
}
