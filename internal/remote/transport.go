package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrTransportClosed marks failures caused by the underlying connection going
// away rather than by the command itself.
var ErrTransportClosed = errors.New("transport closed")

// Process is one running remote command.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the command exits. A non-zero exit is an *ExitError.
	Wait() error
	// Close abandons the command on the client side.
	Close() error
}

// Transport is an authenticated connection able to run commands.
type Transport interface {
	Start(ctx context.Context, command string) (Process, error)
	// Alive actively probes the peer.
	Alive(ctx context.Context) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, identity, secret string) (Transport, error)
}

type ExitError struct {
	Status int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.Status)
}
