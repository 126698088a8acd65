package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/querybridge/querybridge/internal/cli/querybridgectl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("QUERYBRIDGE_CLI_TIMEOUT")), 2*time.Minute)
	options := querybridgectl.Options{
		BaseURL:         envOr("QUERYBRIDGE_API_URL", "http://localhost:8080"),
		Identity:        strings.TrimSpace(os.Getenv("QUERYBRIDGE_IDENTITY")),
		TransportSecret: os.Getenv("QUERYBRIDGE_TRANSPORT_SECRET"),
		DBSecret:        os.Getenv("QUERYBRIDGE_DB_SECRET"),
		Timeout:         timeout,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
	}

	code := querybridgectl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid QUERYBRIDGE_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
