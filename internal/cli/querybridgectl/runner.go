// Package querybridgectl is the command-line client for the querybridge API.
package querybridgectl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL         string
	Identity        string
	TransportSecret string
	DBSecret        string
	Timeout         time.Duration
	HTTPClient      *http.Client
	Stdout          io.Writer
	Stderr          io.Writer
}

// errUsage marks failures that should exit with status 2.
var errUsage = errors.New("usage error")

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

type client struct {
	baseURL string
	http    *http.Client
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := newRootCommand(defaults, stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var reqErr *httpError
	switch {
	case errors.As(err, &reqErr):
		_, _ = fmt.Fprintln(stderr, reqErr.Error())
		return 1
	case errors.Is(err, errUsage), isFlagError(err):
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		_, _ = fmt.Fprint(stderr, root.UsageString())
		return 2
	default:
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
}

func newRootCommand(defaults Options, stdout io.Writer) *cobra.Command {
	var (
		baseURL string
		timeout time.Duration
		cl      client
	)

	root := &cobra.Command{
		Use:           "querybridgectl",
		Short:         "Ask questions of a querybridge API",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cl = client{baseURL: strings.TrimRight(baseURL, "/"), http: defaults.HTTPClient}
			if cl.http == nil {
				cl.http = &http.Client{Timeout: timeout}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querybridge API base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 90s)")

	root.AddCommand(
		&cobra.Command{
			Use:   "health",
			Short: "GET /v1/health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return cl.call(cmd.Context(), stdout, http.MethodGet, "/v1/health", nil)
			},
		},
		&cobra.Command{
			Use:   "ready",
			Short: "GET /v1/ready",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return cl.call(cmd.Context(), stdout, http.MethodGet, "/v1/ready", nil)
			},
		},
		newInitCommand(defaults, &cl, stdout),
		newAskCommand(defaults, &cl, stdout),
		newHistoryCommand(&cl, stdout),
	)
	return root
}

func newInitCommand(defaults Options, cl *client, stdout io.Writer) *cobra.Command {
	var identity, transportSecret, dbSecret string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "POST /v1/initialize",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(identity) == "" {
				return fmt.Errorf("%w: --identity is required", errUsage)
			}
			return cl.call(cmd.Context(), stdout, http.MethodPost, "/v1/initialize", map[string]any{
				"identity":         identity,
				"transport_secret": transportSecret,
				"db_secret":        dbSecret,
			})
		},
	}
	cmd.Flags().StringVar(&identity, "identity", defaults.Identity, "remote account name")
	cmd.Flags().StringVar(&transportSecret, "transport-secret", defaults.TransportSecret, "remote login password")
	cmd.Flags().StringVar(&dbSecret, "db-secret", defaults.DBSecret, "database password, verified when set")
	return cmd
}

func newAskCommand(defaults Options, cl *client, stdout io.Writer) *cobra.Command {
	var identity, dbSecret string
	var export bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "POST /v1/query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(identity) == "" || dbSecret == "" {
				return fmt.Errorf("%w: --identity and --db-secret are required", errUsage)
			}
			return cl.call(cmd.Context(), stdout, http.MethodPost, "/v1/query", map[string]any{
				"question":  strings.Join(args, " "),
				"identity":  identity,
				"db_secret": dbSecret,
				"export":    export,
			})
		},
	}
	cmd.Flags().StringVar(&identity, "identity", defaults.Identity, "remote account name")
	cmd.Flags().StringVar(&dbSecret, "db-secret", defaults.DBSecret, "database password")
	cmd.Flags().BoolVar(&export, "export", false, "write the result to the object store as parquet")
	return cmd
}

func newHistoryCommand(cl *client, stdout io.Writer) *cobra.Command {
	var identity string
	var limit int
	cmd := &cobra.Command{
		Use:   "history [query-id]",
		Short: "GET /v1/history or /v1/history/{query_id}",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return cl.call(cmd.Context(), stdout, http.MethodGet, "/v1/history/"+url.PathEscape(args[0]), nil)
			}
			query := url.Values{}
			if identity != "" {
				query.Set("identity", identity)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			path := "/v1/history"
			if encoded := query.Encode(); encoded != "" {
				path += "?" + encoded
			}
			return cl.call(cmd.Context(), stdout, http.MethodGet, path, nil)
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "only list questions asked by this account")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to return")
	return cmd
}

func (c *client) call(ctx context.Context, stdout io.Writer, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &httpError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}

	if pretty, ok := prettyJSON(raw); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return nil
	}
	if len(raw) > 0 {
		_, _ = fmt.Fprintln(stdout, string(raw))
	}
	return nil
}

func isFlagError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag") ||
		strings.Contains(msg, "arg(s)") ||
		strings.HasPrefix(msg, "invalid argument")
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
