// Package registry owns the process-wide resources a query needs: the model
// handle, the schema text and the remote session.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/querybridge/querybridge/internal/apperr"
	"github.com/querybridge/querybridge/internal/nl2sql"
	"github.com/querybridge/querybridge/internal/observability"
	"github.com/querybridge/querybridge/internal/remote"
	"github.com/querybridge/querybridge/internal/schema"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateDegraded      State = "degraded"
	StateClosed        State = "closed"
)

type ModelLoader interface {
	Load(ctx context.Context) (nl2sql.Completer, error)
}

// Snapshot is a consistent view of the registry at one instant.
type Snapshot struct {
	State   State
	Model   nl2sql.Completer
	Schema  string
	Session *remote.Session
}

type Registry struct {
	models     ModelLoader
	schemas    schema.Source
	dialer     remote.Dialer
	sessionCfg remote.Config
	logger     *slog.Logger

	init singleflight.Group

	mu      sync.RWMutex
	state   State
	model   nl2sql.Completer
	schema  string
	session *remote.Session
}

func New(models ModelLoader, schemas schema.Source, dialer remote.Dialer, sessionCfg remote.Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		models:     models,
		schemas:    schemas,
		dialer:     dialer,
		sessionCfg: sessionCfg,
		logger:     logger,
		state:      StateUninitialized,
	}
	observability.SetRegistryState(string(StateUninitialized))
	return r
}

// EnsureReady brings every resource up. A ready registry probes its transport
// and re-initializes only when the probe fails. Concurrent callers share one
// initialization attempt, which runs with the first caller's credentials.
func (r *Registry) EnsureReady(ctx context.Context, identity, transportSecret string) error {
	snap := r.Snapshot()
	switch snap.State {
	case StateClosed:
		return apperr.New(apperr.KindResourceUnavailable, apperr.StageInitialization, "the service is shutting down")
	case StateReady:
		err := snap.Session.Alive(ctx)
		if err == nil {
			if identity != snap.Session.Identity() {
				r.logger.WarnContext(ctx, "keeping existing remote session opened under a different identity",
					append(observability.RequestAttrs(ctx),
						slog.String("session_identity", snap.Session.Identity()),
						slog.String("requested_identity", identity),
					)...,
				)
			}
			return nil
		}
		r.MarkDegraded(ctx, err.Error())
	}

	result := r.init.DoChan("initialize", func() (any, error) {
		return nil, r.initialize(context.WithoutCancel(ctx), identity, transportSecret)
	})
	select {
	case res := <-result:
		return res.Err
	case <-ctx.Done():
		return apperr.Wrap(apperr.KindResourceUnavailable, apperr.StageInitialization, "initialization did not finish before the request ended", ctx.Err())
	}
}

func (r *Registry) initialize(ctx context.Context, identity, transportSecret string) error {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return apperr.New(apperr.KindResourceUnavailable, apperr.StageInitialization, "the service is shutting down")
	}
	previous := r.state
	if previous == StateReady {
		r.mu.Unlock()
		return nil
	}
	r.setStateLocked(StateInitializing)
	model, schemaText, session := r.model, r.schema, r.session
	r.mu.Unlock()

	fail := func(resource, message string, err error) error {
		r.mu.Lock()
		if r.state == StateInitializing {
			r.setStateLocked(previous)
		}
		r.mu.Unlock()
		observability.ObserveRegistryInitialization(resource)
		r.logger.ErrorContext(ctx, "initialization failed",
			slog.String("resource", resource),
			slog.String("error", err.Error()),
		)
		return apperr.Wrap(apperr.KindResourceUnavailable, apperr.StageInitialization, message, err)
	}

	if model == nil {
		loaded, err := r.models.Load(ctx)
		if err != nil {
			return fail("model", "model could not be loaded", err)
		}
		model = loaded
		r.mu.Lock()
		r.model = model
		r.mu.Unlock()
	}

	if schemaText == "" {
		loaded, err := r.schemas.Load(ctx)
		if err != nil {
			return fail("schema", "schema could not be loaded", err)
		}
		schemaText = loaded
		r.mu.Lock()
		r.schema = schemaText
		r.mu.Unlock()
	}

	if session == nil || session.Dead() {
		if session != nil {
			_ = session.Close()
		}
		transport, err := r.dialer.Dial(ctx, identity, transportSecret)
		if err != nil {
			return fail("transport", "transport could not be established", err)
		}
		session = remote.NewSession(transport, identity, r.sessionCfg, r.logger)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateClosed {
		_ = session.Close()
		return apperr.New(apperr.KindResourceUnavailable, apperr.StageInitialization, "the service is shutting down")
	}
	r.session = session
	r.setStateLocked(StateReady)
	observability.ObserveRegistryInitialization("ok")
	r.logger.InfoContext(ctx, "registry ready", slog.String("identity", session.Identity()))
	return nil
}

// Snapshot returns the current state and resources. A ready registry whose
// session has seen its transport die reports degraded.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	snap := Snapshot{State: r.state, Model: r.model, Schema: r.schema, Session: r.session}
	r.mu.RUnlock()
	if snap.State == StateReady && snap.Session.Dead() {
		r.MarkDegraded(context.Background(), "remote session lost")
		snap.State = StateDegraded
	}
	return snap
}

func (r *Registry) State() State {
	return r.Snapshot().State
}

// HealthCheck reports an error unless the registry is ready to answer questions.
func (r *Registry) HealthCheck(context.Context) error {
	if state := r.State(); state != StateReady {
		return fmt.Errorf("registry is %s", state)
	}
	return nil
}

// MarkDegraded records that the transport is unusable. Only a ready registry
// changes state.
func (r *Registry) MarkDegraded(ctx context.Context, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateReady {
		return
	}
	r.setStateLocked(StateDegraded)
	r.logger.WarnContext(ctx, "registry degraded", slog.String("reason", reason))
}

func (r *Registry) Close() error {
	r.mu.Lock()
	session := r.session
	r.session = nil
	r.setStateLocked(StateClosed)
	r.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

func (r *Registry) setStateLocked(state State) {
	r.state = state
	observability.SetRegistryState(string(state))
}
