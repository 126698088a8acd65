// Package sshtransport opens password-authenticated SSH connections to the
// remote execution host.
package sshtransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/querybridge/querybridge/internal/remote"
)

const defaultConnectTimeout = 30 * time.Second

type Config struct {
	Host           string
	Port           int
	KnownHostsPath string
	// HostKey is an authorized_keys formatted public key pinned for Host.
	HostKey        string
	ConnectTimeout time.Duration
	// KeepAliveTimeout bounds the liveness probe.
	KeepAliveTimeout time.Duration
}

type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

func NewDialer(cfg Config, logger *slog.Logger) (*Dialer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("ssh host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.KeepAliveTimeout <= 0 {
		cfg.KeepAliveTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg, logger: logger}, nil
}

func (d *Dialer) Address() string {
	return net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
}

// Dial authenticates as identity with secret. The host key is checked against
// the pinned key or known_hosts file when one is configured.
func (d *Dialer) Dial(ctx context.Context, identity, secret string) (remote.Transport, error) {
	callback, err := d.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	clientConfig := &ssh.ClientConfig{
		User: identity,
		Auth: []ssh.AuthMethod{
			ssh.Password(secret),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = secret
				}
				return answers, nil
			}),
		},
		HostKeyCallback: callback,
		Timeout:         d.cfg.ConnectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
	defer cancel()

	var netDialer net.Dialer
	conn, err := netDialer.DialContext(dialCtx, "tcp", d.Address())
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", d.Address(), err)
	}
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, d.Address(), clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", d.Address(), err)
	}
	_ = conn.SetDeadline(time.Time{})

	d.logger.Info("ssh transport established", slog.String("host", d.Address()), slog.String("identity", identity))
	return &Transport{
		client:           ssh.NewClient(clientConn, chans, reqs),
		keepAliveTimeout: d.cfg.KeepAliveTimeout,
	}, nil
}

func (d *Dialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if key := strings.TrimSpace(d.cfg.HostKey); key != "" {
		parsed, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("parse pinned host key: %w", err)
		}
		return ssh.FixedHostKey(parsed), nil
	}
	if path := strings.TrimSpace(d.cfg.KnownHostsPath); path != "" {
		callback, err := knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
		}
		return callback, nil
	}
	d.logger.Warn("ssh host key verification disabled", slog.String("host", d.cfg.Host))
	return ssh.InsecureIgnoreHostKey(), nil
}

// Transport runs each command on its own channel of one SSH connection.
type Transport struct {
	client           *ssh.Client
	keepAliveTimeout time.Duration
	closeOnce        sync.Once
	closeErr         error
}

// Start opens a channel and launches command on it. Opening the channel waits
// on the peer, so it is raced against ctx; a channel that opens after ctx is
// done is closed again.
func (t *Transport) Start(ctx context.Context, command string) (remote.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type started struct {
		proc *process
		err  error
	}
	result := make(chan started, 1)
	go func() {
		proc, err := t.start(command)
		result <- started{proc: proc, err: err}
	}()

	select {
	case r := <-result:
		if r.err != nil {
			return nil, r.err
		}
		return r.proc, nil
	case <-ctx.Done():
		go func() {
			if r := <-result; r.proc != nil {
				_ = r.proc.Close()
			}
		}()
		return nil, fmt.Errorf("start remote command: %w", ctx.Err())
	}
}

func (t *Transport) start(command string) (*process, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return nil, classify(fmt.Errorf("open ssh channel: %w", err))
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := session.Start(command); err != nil {
		_ = session.Close()
		return nil, classify(fmt.Errorf("start remote command: %w", err))
	}
	return &process{session: session, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

// Alive sends an OpenSSH keepalive request and waits for any reply.
func (t *Transport) Alive(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.keepAliveTimeout)
	defer cancel()

	replied := make(chan error, 1)
	go func() {
		_, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil)
		replied <- err
	}()
	select {
	case err := <-replied:
		if err != nil {
			return classify(err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("keepalive: %w: %w", remote.ErrTransportClosed, ctx.Err())
	}
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.client.Close()
	})
	return t.closeErr
}

type process struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader
}

func (p *process) Stdin() io.WriteCloser { return p.stdin }
func (p *process) Stdout() io.Reader     { return p.stdout }
func (p *process) Stderr() io.Reader     { return p.stderr }

func (p *process) Wait() error {
	return mapWaitError(p.session.Wait())
}

func (p *process) Close() error {
	err := p.session.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func mapWaitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return &remote.ExitError{Status: exitErr.ExitStatus()}
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return fmt.Errorf("remote command ended without exit status: %w", remote.ErrTransportClosed)
	}
	return classify(err)
}

// classify tags errors caused by a dropped connection with ErrTransportClosed.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", remote.ErrTransportClosed, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %w", remote.ErrTransportClosed, err)
	}
	return err
}
