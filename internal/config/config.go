package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type RemoteMode string

const (
	RemoteModeSSH     RemoteMode = "ssh"
	RemoteModeSandbox RemoteMode = "sandbox"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Remote        RemoteConfig
	Model         ModelConfig
	Schema        SchemaConfig
	ObjectStore   ObjectStoreConfig
	History       HistoryConfig
	Export        ExportConfig
	Sandbox       SandboxConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RemoteConfig struct {
	Mode             RemoteMode
	Host             string
	Port             int
	Command          string
	KnownHostsPath   string
	HostKey          string
	ConnectTimeout   time.Duration
	ExecTimeout      time.Duration
	KeepAliveTimeout time.Duration
}

type ModelConfig struct {
	BaseURL     string
	FallbackURL string
	APIKey      string
	Model       string
	MaxTokens   int
	Stop        []string
	Temperature float64
	Timeout     time.Duration
}

type SchemaConfig struct {
	Path      string
	ObjectKey string
}

type ObjectStoreConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type HistoryConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ExportConfig struct {
	Enabled bool
	Prefix  string
}

type SandboxConfig struct {
	SeedPath   string
	DBPassword string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYBRIDGE_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYBRIDGE_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "QUERYBRIDGE_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "QUERYBRIDGE_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "QUERYBRIDGE_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "QUERYBRIDGE_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "QUERYBRIDGE_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyRemoteMode(lookup, "QUERYBRIDGE_REMOTE_MODE", &cfg.Remote.Mode) },
		func() error { return applyString(lookup, "QUERYBRIDGE_REMOTE_HOST", &cfg.Remote.Host) },
		func() error { return applyInt(lookup, "QUERYBRIDGE_REMOTE_PORT", &cfg.Remote.Port) },
		func() error { return applyString(lookup, "QUERYBRIDGE_REMOTE_COMMAND", &cfg.Remote.Command) },
		func() error { return applyString(lookup, "QUERYBRIDGE_REMOTE_KNOWN_HOSTS", &cfg.Remote.KnownHostsPath) },
		func() error { return applyString(lookup, "QUERYBRIDGE_REMOTE_HOST_KEY", &cfg.Remote.HostKey) },
		func() error { return applyDuration(lookup, "QUERYBRIDGE_REMOTE_CONNECT_TIMEOUT", &cfg.Remote.ConnectTimeout) },
		func() error { return applyDuration(lookup, "QUERYBRIDGE_REMOTE_EXEC_TIMEOUT", &cfg.Remote.ExecTimeout) },
		func() error {
			return applyDuration(lookup, "QUERYBRIDGE_REMOTE_KEEPALIVE_TIMEOUT", &cfg.Remote.KeepAliveTimeout)
		},
		func() error { return applyString(lookup, "QUERYBRIDGE_MODEL_BASE_URL", &cfg.Model.BaseURL) },
		func() error { return applyString(lookup, "QUERYBRIDGE_MODEL_FALLBACK_URL", &cfg.Model.FallbackURL) },
		func() error { return applyString(lookup, "QUERYBRIDGE_MODEL_API_KEY", &cfg.Model.APIKey) },
		func() error { return applyString(lookup, "QUERYBRIDGE_MODEL_NAME", &cfg.Model.Model) },
		func() error { return applyInt(lookup, "QUERYBRIDGE_MODEL_MAX_TOKENS", &cfg.Model.MaxTokens) },
		func() error { return applyList(lookup, "QUERYBRIDGE_MODEL_STOP", &cfg.Model.Stop) },
		func() error { return applyFloat(lookup, "QUERYBRIDGE_MODEL_TEMPERATURE", &cfg.Model.Temperature) },
		func() error { return applyDuration(lookup, "QUERYBRIDGE_MODEL_TIMEOUT", &cfg.Model.Timeout) },
		func() error { return applyString(lookup, "QUERYBRIDGE_SCHEMA_PATH", &cfg.Schema.Path) },
		func() error { return applyString(lookup, "QUERYBRIDGE_SCHEMA_OBJECT_KEY", &cfg.Schema.ObjectKey) },
		func() error { return applyBool(lookup, "QUERYBRIDGE_OBJECTSTORE_ENABLED", &cfg.ObjectStore.Enabled) },
		func() error { return applyString(lookup, "QUERYBRIDGE_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "QUERYBRIDGE_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "QUERYBRIDGE_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "QUERYBRIDGE_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "QUERYBRIDGE_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "QUERYBRIDGE_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "QUERYBRIDGE_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "QUERYBRIDGE_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyString(lookup, "QUERYBRIDGE_HISTORY_DSN", &cfg.History.DSN) },
		func() error { return applyInt(lookup, "QUERYBRIDGE_HISTORY_MAX_OPEN_CONNS", &cfg.History.MaxOpenConns) },
		func() error { return applyInt(lookup, "QUERYBRIDGE_HISTORY_MAX_IDLE_CONNS", &cfg.History.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "QUERYBRIDGE_HISTORY_CONN_MAX_IDLE_TIME", &cfg.History.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "QUERYBRIDGE_HISTORY_CONN_MAX_LIFETIME", &cfg.History.ConnMaxLifetime)
		},
		func() error { return applyBool(lookup, "QUERYBRIDGE_EXPORT_ENABLED", &cfg.Export.Enabled) },
		func() error { return applyString(lookup, "QUERYBRIDGE_EXPORT_PREFIX", &cfg.Export.Prefix) },
		func() error { return applyString(lookup, "QUERYBRIDGE_SANDBOX_SEED_PATH", &cfg.Sandbox.SeedPath) },
		func() error { return applyString(lookup, "QUERYBRIDGE_SANDBOX_DB_PASSWORD", &cfg.Sandbox.DBPassword) },
		func() error { return applyBool(lookup, "QUERYBRIDGE_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "QUERYBRIDGE_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Remote.Mode == RemoteModeSSH && cfg.Remote.Host == "" {
		return Config{}, fmt.Errorf("remote host is required in ssh mode")
	}
	if profile == ProfileProd && cfg.Remote.Mode == RemoteModeSSH &&
		strings.TrimSpace(cfg.Remote.HostKey) == "" && strings.TrimSpace(cfg.Remote.KnownHostsPath) == "" {
		return Config{}, fmt.Errorf("prod profile requires QUERYBRIDGE_REMOTE_HOST_KEY or QUERYBRIDGE_REMOTE_KNOWN_HOSTS in ssh mode")
	}
	if strings.TrimSpace(cfg.Remote.Command) == "" {
		return Config{}, fmt.Errorf("remote command is required")
	}
	if cfg.Schema.Path == "" && cfg.Schema.ObjectKey == "" {
		return Config{}, fmt.Errorf("one of QUERYBRIDGE_SCHEMA_PATH or QUERYBRIDGE_SCHEMA_OBJECT_KEY is required")
	}
	if cfg.Schema.ObjectKey != "" && !cfg.ObjectStore.Enabled {
		return Config{}, fmt.Errorf("QUERYBRIDGE_SCHEMA_OBJECT_KEY requires the object store to be enabled")
	}
	if cfg.Export.Enabled && !cfg.ObjectStore.Enabled {
		return Config{}, fmt.Errorf("QUERYBRIDGE_EXPORT_ENABLED requires the object store to be enabled")
	}
	if cfg.Model.MaxTokens <= 0 {
		return Config{}, fmt.Errorf("model max tokens must be > 0")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querybridge-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Remote: RemoteConfig{
			Mode:             RemoteModeSSH,
			Host:             "ilab.cs.rutgers.edu",
			Port:             22,
			Command:          "python3 ~/ilab_script.py",
			ConnectTimeout:   30 * time.Second,
			ExecTimeout:      60 * time.Second,
			KeepAliveTimeout: 5 * time.Second,
		},
		Model: ModelConfig{
			BaseURL:     "http://localhost:8081",
			Model:       "Phi-3.5-mini-instruct-Q4_K_M",
			MaxTokens:   150,
			Stop:        []string{";"},
			Temperature: 0,
			Timeout:     60 * time.Second,
		},
		Schema: SchemaConfig{
			Path: "schema.sql",
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "querybridge",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			AutoCreateBucket: true,
		},
		History: HistoryConfig{
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Export: ExportConfig{
			Enabled: false,
			Prefix:  "exports",
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Remote.Mode = RemoteModeSandbox
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	items := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part == "" {
			continue
		}
		items = append(items, part)
	}
	*dst = items
	return nil
}

func applyRemoteMode(lookup LookupFunc, key string, dst *RemoteMode) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	mode := RemoteMode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case RemoteModeSSH, RemoteModeSandbox:
		*dst = mode
		return nil
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
