package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/querybridge/querybridge/internal/apperr"
	"github.com/querybridge/querybridge/internal/observability"
	"github.com/querybridge/querybridge/internal/sqlextract"
)

const (
	defaultExecTimeout = 60 * time.Second
	defaultAuthMarker  = "password authentication failed"
)

var identityPattern = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,64}$`)

type Config struct {
	// Command is the fixed remote command; the quoted identity is appended.
	Command     string
	ExecTimeout time.Duration
	AuthMarker  string
}

// Outcome is the decoded output of one remote execution.
type Outcome struct {
	Stdout     string
	Stderr     string
	ExitStatus int
	Duration   time.Duration
}

// Session wraps the single shared transport. Execute calls are serialized so
// two queries never interleave their stdin writes or output reads. Waiting for
// the session honours the caller's context.
type Session struct {
	turn      *semaphore.Weighted
	transport Transport
	identity  string
	cfg       Config
	logger    *slog.Logger
	dead      atomic.Bool
}

func NewSession(transport Transport, identity string, cfg Config, logger *slog.Logger) *Session {
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = defaultExecTimeout
	}
	if strings.TrimSpace(cfg.AuthMarker) == "" {
		cfg.AuthMarker = defaultAuthMarker
	}
	cfg.AuthMarker = strings.ToLower(cfg.AuthMarker)
	return &Session{turn: semaphore.NewWeighted(1), transport: transport, identity: identity, cfg: cfg, logger: logger}
}

// Identity is the account the transport was opened under.
func (s *Session) Identity() string {
	if s == nil {
		return ""
	}
	return s.identity
}

// Alive reports whether the transport still answers. A session that saw its
// transport fail is never alive again.
func (s *Session) Alive(ctx context.Context) error {
	if s == nil || s.transport == nil {
		return fmt.Errorf("no transport")
	}
	if s.dead.Load() {
		return ErrTransportClosed
	}
	if err := s.transport.Alive(ctx); err != nil {
		s.dead.Store(true)
		return err
	}
	return nil
}

// Dead reports whether a transport failure has been observed.
func (s *Session) Dead() bool {
	return s == nil || s.transport == nil || s.dead.Load()
}

func (s *Session) Close() error {
	if s == nil || s.transport == nil {
		return nil
	}
	s.dead.Store(true)
	return s.transport.Close()
}

// Execute runs the candidate under identity, feeding the statement and secret
// on stdin. The secret never appears on the command line.
func (s *Session) Execute(ctx context.Context, candidate sqlextract.Candidate, identity, secret string) (Outcome, error) {
	if s == nil || s.transport == nil {
		return Outcome{}, apperr.New(apperr.KindTransportNotReady, apperr.StageExecution, "no remote session is established")
	}
	if !identityPattern.MatchString(identity) {
		return Outcome{}, apperr.New(apperr.KindInvalidRequest, apperr.StageRequest, "identity contains unsupported characters")
	}
	if strings.TrimSpace(candidate.Statement) == "" {
		return Outcome{}, apperr.New(apperr.KindSQLGenerationFailed, apperr.StageGeneration, "no SQL statement to execute")
	}

	if err := s.turn.Acquire(ctx, 1); err != nil {
		observability.ObserveRemoteExecution("timeout")
		return Outcome{}, apperr.Wrap(apperr.KindRemoteExecution, apperr.StageExecution, "the remote session stayed busy past the request deadline", err)
	}
	defer s.turn.Release(1)

	// Acquire may succeed on an already finished context.
	if err := ctx.Err(); err != nil {
		observability.ObserveRemoteExecution("timeout")
		return Outcome{}, apperr.Wrap(apperr.KindRemoteExecution, apperr.StageExecution, "the request deadline passed before the remote command started", err)
	}
	if s.dead.Load() {
		return Outcome{}, apperr.New(apperr.KindTransportNotReady, apperr.StageExecution, "the remote session was lost and must be re-initialized")
	}

	// The execution budget starts once this request owns the session.
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()

	start := time.Now()
	proc, err := s.transport.Start(ctx, BuildCommand(s.cfg.Command, identity))
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrTransportClosed) {
			observability.ObserveRemoteExecution("timeout")
			return Outcome{}, apperr.Wrap(apperr.KindRemoteExecution, apperr.StageExecution, "the remote command could not be started in time", err)
		}
		return Outcome{}, s.transportFailure("could not start the remote command", err)
	}
	defer func() { _ = proc.Close() }()

	done := make(chan exchangeResult, 1)
	go func() {
		done <- exchange(proc, candidate.Statement, secret)
	}()

	var result exchangeResult
	select {
	case result = <-done:
	case <-ctx.Done():
		_ = proc.Close()
		observability.ObserveRemoteExecution("timeout")
		return Outcome{}, apperr.Wrap(apperr.KindRemoteExecution, apperr.StageExecution, "the remote command did not finish in time", ctx.Err())
	}

	outcome := Outcome{
		Stdout:     redact(decode(result.stdout), secret),
		Stderr:     redact(decode(result.stderr), secret),
		ExitStatus: result.exitStatus,
		Duration:   time.Since(start),
	}
	if s.logger != nil {
		s.logger.DebugContext(ctx, "remote command finished",
			append(observability.RequestAttrs(ctx),
				slog.String("identity", identity),
				slog.Int("exit_status", outcome.ExitStatus),
				slog.Int("stdout_bytes", len(outcome.Stdout)),
				slog.Int("stderr_bytes", len(outcome.Stderr)),
				slog.Duration("duration", outcome.Duration),
			)...,
		)
	}

	if strings.Contains(strings.ToLower(outcome.Stderr), s.cfg.AuthMarker) {
		observability.ObserveRemoteExecution("auth_failed")
		return outcome, &apperr.Error{
			Kind:       apperr.KindAuthenticationFailed,
			Stage:      apperr.StageAuthentication,
			Message:    "the database rejected the supplied password",
			Diagnostic: outcome.Stderr,
		}
	}
	if result.err != nil {
		if errors.Is(result.err, ErrTransportClosed) {
			return outcome, s.transportFailure("the remote session dropped during execution", result.err)
		}
		observability.ObserveRemoteExecution("error")
		return outcome, &apperr.Error{
			Kind:       apperr.KindRemoteExecution,
			Stage:      apperr.StageExecution,
			Message:    "the remote command failed",
			Diagnostic: outcome.Stderr,
			Err:        result.err,
		}
	}
	if outcome.ExitStatus != 0 {
		observability.ObserveRemoteExecution("error")
		return outcome, &apperr.Error{
			Kind:       apperr.KindRemoteExecution,
			Stage:      apperr.StageExecution,
			Message:    fmt.Sprintf("the remote command exited with status %d", outcome.ExitStatus),
			Diagnostic: outcome.Stderr,
		}
	}
	observability.ObserveRemoteExecution("ok")
	return outcome, nil
}

func (s *Session) transportFailure(message string, err error) error {
	if errors.Is(err, ErrTransportClosed) {
		s.dead.Store(true)
		observability.ObserveRemoteExecution("transport_lost")
		return apperr.Wrap(apperr.KindTransportNotReady, apperr.StageExecution, message, err)
	}
	observability.ObserveRemoteExecution("error")
	return apperr.Wrap(apperr.KindRemoteExecution, apperr.StageExecution, message, err)
}

type exchangeResult struct {
	stdout     []byte
	stderr     []byte
	exitStatus int
	err        error
}

func exchange(proc Process, statement, secret string) exchangeResult {
	var stdout, stderr bytes.Buffer
	var readers errgroup.Group
	readers.Go(func() error {
		_, err := io.Copy(&stdout, proc.Stdout())
		return err
	})
	readers.Go(func() error {
		_, err := io.Copy(&stderr, proc.Stderr())
		return err
	})

	writeErr := writeInput(proc.Stdin(), statement, secret)
	readErr := readers.Wait()
	waitErr := proc.Wait()

	result := exchangeResult{stdout: stdout.Bytes(), stderr: stderr.Bytes()}
	var exitErr *ExitError
	switch {
	case errors.As(waitErr, &exitErr):
		result.exitStatus = exitErr.Status
	case waitErr != nil:
		result.err = waitErr
	case readErr != nil:
		result.err = fmt.Errorf("read remote output: %w", readErr)
	case writeErr != nil && result.exitStatus == 0:
		result.err = fmt.Errorf("write remote input: %w", writeErr)
	}
	return result
}

// writeInput sends exactly two lines and then signals end of input.
func writeInput(stdin io.WriteCloser, statement, secret string) error {
	_, err := io.WriteString(stdin, statement+"\n"+secret+"\n")
	closeErr := stdin.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// BuildCommand appends the single-quoted identity to the fixed command.
func BuildCommand(command, identity string) string {
	return strings.TrimSpace(command) + " " + shellQuote(identity)
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// decode keeps valid UTF-8 and silently drops undecodable bytes.
func decode(raw []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))
}

func redact(text, secret string) string {
	if secret == "" {
		return text
	}
	return strings.ReplaceAll(text, secret, "***")
}
