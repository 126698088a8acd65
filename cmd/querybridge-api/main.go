package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/querybridge/querybridge/internal/api"
	"github.com/querybridge/querybridge/internal/config"
	"github.com/querybridge/querybridge/internal/export"
	"github.com/querybridge/querybridge/internal/history"
	historypostgres "github.com/querybridge/querybridge/internal/history/postgres"
	"github.com/querybridge/querybridge/internal/nl2sql"
	"github.com/querybridge/querybridge/internal/observability"
	"github.com/querybridge/querybridge/internal/pipeline"
	"github.com/querybridge/querybridge/internal/registry"
	"github.com/querybridge/querybridge/internal/remote"
	"github.com/querybridge/querybridge/internal/remote/sandbox"
	"github.com/querybridge/querybridge/internal/remote/sshtransport"
	"github.com/querybridge/querybridge/internal/schema"
	"github.com/querybridge/querybridge/internal/storage"
	s3store "github.com/querybridge/querybridge/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("querybridge-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	var objectStore storage.ObjectStore
	if cfg.ObjectStore.Enabled {
		store, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		objectStore = store
	}

	schemaSource, err := schema.NewSource(cfg.Schema.Path, cfg.Schema.ObjectKey, objectStore)
	if err != nil {
		logger.Error("failed to configure schema source", slog.Any("error", err))
		os.Exit(1)
	}

	dialer, err := newDialer(cfg, logger)
	if err != nil {
		logger.Error("failed to configure remote transport", slog.Any("error", err))
		os.Exit(1)
	}

	models := nl2sql.NewLoader(nl2sql.LoaderConfig{
		OpenAIConfig: nl2sql.OpenAIConfig{
			BaseURL:     cfg.Model.BaseURL,
			APIKey:      cfg.Model.APIKey,
			Model:       cfg.Model.Model,
			Temperature: cfg.Model.Temperature,
			Timeout:     cfg.Model.Timeout,
		},
		FallbackURL: cfg.Model.FallbackURL,
	}, logger)

	reg := registry.New(models, schemaSource, dialer, remote.Config{
		Command:     cfg.Remote.Command,
		ExecTimeout: cfg.Remote.ExecTimeout,
	}, logger)
	defer func() { _ = reg.Close() }()

	pipelineDeps := pipeline.Deps{Resources: reg, Logger: logger}
	readiness := []api.ReadinessCheck{reg.HealthCheck}
	var historyReader api.HistoryReader

	if cfg.History.DSN != "" {
		historyDB, err := historypostgres.Open(context.Background(), historypostgres.DBConfig{
			DSN:             cfg.History.DSN,
			MaxOpenConns:    cfg.History.MaxOpenConns,
			MaxIdleConns:    cfg.History.MaxIdleConns,
			ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.History.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = historyDB.Close() }()

		repo := historypostgres.NewRepository(historyDB)
		var store history.Store = repo
		pipelineDeps.History = store
		historyReader = store
		readiness = append(readiness, repo.HealthCheck)
	}

	if cfg.Export.Enabled {
		exporter, err := export.NewExporter(objectStore, cfg.Export.Prefix)
		if err != nil {
			logger.Error("failed to configure result export", slog.Any("error", err))
			os.Exit(1)
		}
		pipelineDeps.Exporter = exporter
	}

	orchestrator, err := pipeline.New(pipelineDeps, pipeline.Config{
		MaxTokens:    cfg.Model.MaxTokens,
		Stop:         cfg.Model.Stop,
		ModelTimeout: cfg.Model.Timeout,
	})
	if err != nil {
		logger.Error("failed to build pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
		Initializer:       reg,
		Pipeline:          orchestrator,
		History:           historyReader,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("remote_mode", string(cfg.Remote.Mode)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func newDialer(cfg config.Config, logger *slog.Logger) (remote.Dialer, error) {
	if cfg.Remote.Mode == config.RemoteModeSandbox {
		return sandbox.NewDialer(sandbox.Config{
			SeedPath:   cfg.Sandbox.SeedPath,
			DBPassword: cfg.Sandbox.DBPassword,
		}, logger), nil
	}
	dialer, err := sshtransport.NewDialer(sshtransport.Config{
		Host:             cfg.Remote.Host,
		Port:             cfg.Remote.Port,
		KnownHostsPath:   cfg.Remote.KnownHostsPath,
		HostKey:          cfg.Remote.HostKey,
		ConnectTimeout:   cfg.Remote.ConnectTimeout,
		KeepAliveTimeout: cfg.Remote.KeepAliveTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return dialer, nil
}
