package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/querybridge/querybridge/internal/apperr"
	"github.com/querybridge/querybridge/internal/remote"
	"github.com/querybridge/querybridge/internal/results"
	"github.com/querybridge/querybridge/internal/sqlextract"
)

const seed = `
CREATE TABLE customers (customer_id INTEGER, name VARCHAR, email VARCHAR, balance DOUBLE);
INSERT INTO customers VALUES
  (1, 'JohnDoe', 'john@example.com', 10.5),
  (2, 'Alice', 'alice@example.com', NULL);
`

func dialSession(t *testing.T) *remote.Session {
	t.Helper()
	transport, err := NewDialer(Config{SeedSQL: seed, DBPassword: "pw"}, nil).Dial(context.Background(), "jdoe", "unused")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	session := remote.NewSession(transport, "jdoe", remote.Config{Command: "python3 ~/ilab_script.py"}, nil)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestSandboxRoundTripsThroughNormalizer(t *testing.T) {
	session := dialSession(t)

	outcome, err := session.Execute(context.Background(), sqlextract.Candidate{
		Statement: "SELECT customer_id, name, balance FROM customers ORDER BY customer_id;",
	}, "jdoe", "pw")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	result := results.Normalize(outcome.Stdout)
	if result.Dropped != 0 {
		t.Fatalf("Dropped = %d, output:\n%s", result.Dropped, outcome.Stdout)
	}
	if len(result.Records) != 2 {
		t.Fatalf("records = %d, output:\n%s", len(result.Records), outcome.Stdout)
	}
	first := result.Records[0].Map()
	if first["customer_id"] != int64(1) || first["name"] != "JohnDoe" || first["balance"] != 10.5 {
		t.Fatalf("first record = %#v", first)
	}
	if balance, ok := result.Records[1].Get("balance"); !ok || balance != nil {
		t.Fatalf("null balance = %#v, present = %v", balance, ok)
	}
}

func TestSandboxEmptyResultPrintsBanner(t *testing.T) {
	session := dialSession(t)

	outcome, err := session.Execute(context.Background(), sqlextract.Candidate{
		Statement: "SELECT name, email FROM customers WHERE customer_id > 100;",
	}, "jdoe", "pw")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	result := results.Normalize(outcome.Stdout)
	if len(result.Records) != 0 || len(result.Columns) != 2 || result.Columns[1] != "email" {
		t.Fatalf("result = %#v", result)
	}
}

func TestSandboxWrongPasswordIsAuthenticationFailure(t *testing.T) {
	session := dialSession(t)

	_, err := session.Execute(context.Background(), sqlextract.Candidate{Statement: "SELECT 1;"}, "jdoe", "nope")
	if kind := apperr.KindOf(err); kind != apperr.KindAuthenticationFailed {
		t.Fatalf("kind = %q, err = %v", kind, err)
	}
}

func TestSandboxQueryErrorIsRemoteExecutionError(t *testing.T) {
	session := dialSession(t)

	_, err := session.Execute(context.Background(), sqlextract.Candidate{Statement: "SELECT * FROM custmers;"}, "jdoe", "pw")
	typed := apperr.As(err)
	if typed.Kind != apperr.KindRemoteExecution || typed.Diagnostic == "" {
		t.Fatalf("err = %#v", typed)
	}
}

func TestSandboxClosedTransportIsReportedClosed(t *testing.T) {
	transport, err := NewDialer(Config{}, nil).Dial(context.Background(), "jdoe", "")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if err := transport.Alive(context.Background()); err != nil {
		t.Fatalf("Alive() error = %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := transport.Alive(context.Background()); !errors.Is(err, remote.ErrTransportClosed) {
		t.Fatalf("Alive() after close = %v", err)
	}
	if _, err := transport.Start(context.Background(), "run"); !errors.Is(err, remote.ErrTransportClosed) {
		t.Fatalf("Start() after close = %v", err)
	}
}

func TestRenderFrameAlignsColumns(t *testing.T) {
	got := renderFrame([]string{"id", "name"}, [][]string{{"1", "a"}, {"10", "bob"}})
	want := "   id  name\n0   1     a\n1  10   bob\n"
	if got != want {
		t.Fatalf("renderFrame() =\n%q\nwant\n%q", got, want)
	}
}
