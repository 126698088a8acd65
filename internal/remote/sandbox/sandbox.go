// Package sandbox runs queries against an in-process DuckDB database while
// speaking the same stdin/stdout protocol as the remote execution script.
package sandbox

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querybridge/querybridge/internal/remote"
)

type Config struct {
	// SeedPath is a SQL script creating and populating the sandbox tables.
	SeedPath string
	// SeedSQL is used when SeedPath is empty.
	SeedSQL string
	// DBPassword is compared against the secret line of each execution.
	DBPassword string
}

type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Dial opens a fresh in-memory database and loads the seed script. The
// transport secret is not checked.
func (d *Dialer) Dial(ctx context.Context, identity, _ string) (remote.Transport, error) {
	seed := d.cfg.SeedSQL
	if path := strings.TrimSpace(d.cfg.SeedPath); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read sandbox seed %q: %w", path, err)
		}
		seed = string(raw)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// One connection keeps every statement on the same in-memory database.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	if strings.TrimSpace(seed) != "" {
		if _, err := db.ExecContext(ctx, seed); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("load sandbox seed: %w", err)
		}
	}

	d.logger.Info("sandbox transport established", slog.String("identity", identity))
	return &Transport{db: db, identity: identity, password: d.cfg.DBPassword}, nil
}

type Transport struct {
	db       *sql.DB
	identity string
	password string

	mu     sync.Mutex
	closed bool
}

func (t *Transport) Start(ctx context.Context, _ string) (remote.Process, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("start sandbox command: %w", remote.ErrTransportClosed)
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	p := &process{
		stdinR: stdinR, stdinW: stdinW,
		stdoutR: stdoutR, stdoutW: stdoutW,
		stderrR: stderrR, stderrW: stderrW,
		done: make(chan struct{}),
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	go t.run(runCtx, p)
	return p, nil
}

func (t *Transport) run(ctx context.Context, p *process) {
	defer close(p.done)

	reader := bufio.NewReader(p.stdinR)
	statement, _ := reader.ReadString('\n')
	secret, _ := reader.ReadString('\n')
	_, _ = io.Copy(io.Discard, reader)

	stdout, stderr, status := t.answer(ctx, strings.TrimSpace(statement), strings.TrimSuffix(secret, "\n"))

	_, _ = io.WriteString(p.stdoutW, stdout)
	_ = p.stdoutW.Close()
	_, _ = io.WriteString(p.stderrW, stderr)
	_ = p.stderrW.Close()
	p.status = status
}

func (t *Transport) answer(ctx context.Context, statement, secret string) (string, string, int) {
	if secret != t.password {
		return "", fmt.Sprintf("psql: error: FATAL:  password authentication failed for user %q\n", t.identity), 2
	}
	if statement == "" {
		return "", "ERROR:  no statement received\n", 1
	}

	rows, err := t.db.QueryContext(ctx, statement)
	if err != nil {
		return "", "ERROR:  " + err.Error() + "\n", 1
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return "", "ERROR:  " + err.Error() + "\n", 1
	}
	var table [][]string
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return "", "ERROR:  " + err.Error() + "\n", 1
		}
		table = append(table, formatValues(values))
	}
	if err := rows.Err(); err != nil {
		return "", "ERROR:  " + err.Error() + "\n", 1
	}
	return renderFrame(columns, table), "", 0
}

// Alive pings the database.
func (t *Transport) Alive(ctx context.Context) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return remote.ErrTransportClosed
	}
	if err := t.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", remote.ErrTransportClosed, err)
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.db.Close()
}

type process struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	cancel    context.CancelFunc
	status    int
	done      chan struct{}
	closeOnce sync.Once
}

func (p *process) Stdin() io.WriteCloser { return p.stdinW }
func (p *process) Stdout() io.Reader     { return p.stdoutR }
func (p *process) Stderr() io.Reader     { return p.stderrR }

func (p *process) Wait() error {
	<-p.done
	if p.status != 0 {
		return &remote.ExitError{Status: p.status}
	}
	return nil
}

func (p *process) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		_ = p.stdinR.CloseWithError(io.ErrClosedPipe)
		_ = p.stdoutR.CloseWithError(io.ErrClosedPipe)
		_ = p.stderrR.CloseWithError(io.ErrClosedPipe)
	})
	return nil
}
