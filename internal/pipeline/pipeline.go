// Package pipeline answers a question end to end: prompt, model, extraction,
// remote execution and normalization.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/querybridge/querybridge/internal/apperr"
	"github.com/querybridge/querybridge/internal/export"
	"github.com/querybridge/querybridge/internal/history"
	"github.com/querybridge/querybridge/internal/nl2sql"
	"github.com/querybridge/querybridge/internal/observability"
	"github.com/querybridge/querybridge/internal/prompt"
	"github.com/querybridge/querybridge/internal/registry"
	"github.com/querybridge/querybridge/internal/results"
	"github.com/querybridge/querybridge/internal/sqlextract"
)

const (
	historyTimeout  = 5 * time.Second
	verifyStatement = "SELECT 1;"
)

type Request struct {
	Question string
	Identity string
	Secret   string
	Export   bool
}

type Answer struct {
	QueryID     string
	Statement   string
	ModelText   string
	Columns     []string
	Records     []results.Record
	DroppedRows int
	// Diagnostic carries remote stderr from a successful execution.
	Diagnostic  string
	ExportKey   string
	ExportError string
}

type Resources interface {
	Snapshot() registry.Snapshot
	MarkDegraded(ctx context.Context, reason string)
}

type Exporter interface {
	Export(ctx context.Context, req export.Request) (string, error)
}

type Config struct {
	MaxTokens    int
	Stop         []string
	ModelTimeout time.Duration
}

// Deps are the collaborators of an Orchestrator. Exporter and History are
// optional.
type Deps struct {
	Resources Resources
	Exporter  Exporter
	History   history.Recorder
	Logger    *slog.Logger
}

type Orchestrator struct {
	resources Resources
	exporter  Exporter
	history   history.Recorder
	logger    *slog.Logger
	cfg       Config

	now   func() time.Time
	newID func() string
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Resources == nil {
		return nil, fmt.Errorf("resources are required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 150
	}
	if len(cfg.Stop) == 0 {
		cfg.Stop = []string{";"}
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 60 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		resources: deps.Resources,
		exporter:  deps.Exporter,
		history:   deps.History,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// Answer never initializes resources and makes no network call unless the
// registry is ready. Every failure is an *apperr.Error.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (answer Answer, err error) {
	start := o.now()
	answer.QueryID = o.newID()
	ctx = observability.ContextWithQueryID(ctx, answer.QueryID)

	defer func() {
		if recovered := recover(); recovered != nil {
			o.logger.ErrorContext(ctx, "pipeline panic",
				append(observability.RequestAttrs(ctx),
					slog.Any("panic", recovered),
					slog.String("stack", string(debug.Stack())),
				)...,
			)
			err = apperr.New(apperr.KindInternal, apperr.StageRequest, "an internal error occurred while answering the question")
		}
		o.finish(ctx, req, answer, err, o.now().Sub(start))
	}()

	if req.Export && o.exporter == nil {
		return answer, apperr.New(apperr.KindInvalidRequest, apperr.StageRequest, "result export is not enabled")
	}

	snap := o.resources.Snapshot()
	switch snap.State {
	case registry.StateReady:
	case registry.StateDegraded:
		return answer, apperr.New(apperr.KindTransportNotReady, apperr.StageExecution, "the remote session was lost; initialize again")
	default:
		return answer, apperr.New(apperr.KindNotInitialized, apperr.StageInitialization, "the service has not been initialized")
	}

	text, err := o.generate(ctx, snap.Model, prompt.Build(snap.Schema, req.Question))
	if err != nil {
		return answer, err
	}
	answer.ModelText = text

	candidate, ok := sqlextract.Extract(text)
	observability.ObserveExtraction(candidate.Matcher)
	if !ok {
		return answer, apperr.New(apperr.KindSQLGenerationFailed, apperr.StageGeneration, "could not produce a valid SELECT statement for the question")
	}
	answer.Statement = candidate.Statement

	execStart := o.now()
	outcome, err := snap.Session.Execute(ctx, candidate, req.Identity, req.Secret)
	observability.ObserveStageDuration("execution", o.now().Sub(execStart))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindTransportNotReady {
			o.resources.MarkDegraded(ctx, err.Error())
		}
		return answer, err
	}
	answer.Diagnostic = outcome.Stderr

	normalized := results.Normalize(outcome.Stdout)
	answer.Columns = normalized.Columns
	answer.Records = normalized.Records
	answer.DroppedRows = normalized.Dropped
	observability.ObserveRows(len(normalized.Records), normalized.Dropped)

	if req.Export {
		key, exportErr := o.exporter.Export(ctx, export.Request{
			QueryID:   answer.QueryID,
			Identity:  req.Identity,
			CreatedAt: start,
			Result:    normalized,
		})
		if exportErr != nil {
			o.logger.WarnContext(ctx, "result export failed", append(observability.RequestAttrs(ctx), slog.String("error", exportErr.Error()))...)
			answer.ExportError = "the result could not be exported"
		} else {
			answer.ExportKey = key
		}
	}
	return answer, nil
}

// Verify runs a trivial statement to check the database secret right after
// initialization, so a wrong password surfaces before the first question.
func (o *Orchestrator) Verify(ctx context.Context, identity, secret string) error {
	snap := o.resources.Snapshot()
	if snap.State != registry.StateReady {
		return apperr.New(apperr.KindNotInitialized, apperr.StageInitialization, "the service has not been initialized")
	}
	_, err := snap.Session.Execute(ctx, sqlextract.Candidate{Statement: verifyStatement, Matcher: "verify"}, identity, secret)
	if err != nil && apperr.KindOf(err) == apperr.KindTransportNotReady {
		o.resources.MarkDegraded(ctx, err.Error())
	}
	return err
}

func (o *Orchestrator) generate(ctx context.Context, model nl2sql.Completer, text string) (string, error) {
	modelCtx, cancel := context.WithTimeout(ctx, o.cfg.ModelTimeout)
	defer cancel()

	started := o.now()
	completion, err := model.Complete(modelCtx, nl2sql.CompletionRequest{
		Prompt:    text,
		MaxTokens: o.cfg.MaxTokens,
		Stop:      o.cfg.Stop,
	})
	observability.ObserveStageDuration("generation", o.now().Sub(started))
	if err != nil {
		return "", apperr.Wrap(apperr.KindSQLGenerationFailed, apperr.StageGeneration, "the language model did not return a completion", err)
	}
	return completion, nil
}

func (o *Orchestrator) finish(ctx context.Context, req Request, answer Answer, err error, elapsed time.Duration) {
	outcome := "ok"
	status := history.StatusSucceeded
	errorKind := ""
	if err != nil {
		errorKind = string(apperr.KindOf(err))
		outcome = strings.ToLower(errorKind)
		status = history.StatusFailed
	}
	observability.ObservePipelineOutcome(outcome)

	attrs := append(observability.RequestAttrs(ctx),
		slog.String("identity", req.Identity),
		slog.String("outcome", outcome),
		slog.Int("records", len(answer.Records)),
		slog.Int("dropped_rows", answer.DroppedRows),
		slog.Duration("duration", elapsed),
	)
	if err != nil {
		o.logger.InfoContext(ctx, "question failed", append(attrs, slog.String("error", err.Error()))...)
	} else {
		o.logger.InfoContext(ctx, "question answered", attrs...)
	}

	// Questions rejected before any work was attempted are not audited.
	if o.history == nil || errorKind == string(apperr.KindNotInitialized) {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()
	entry := history.Entry{
		QueryID:     answer.QueryID,
		Identity:    req.Identity,
		Question:    req.Question,
		Statement:   answer.Statement,
		Status:      status,
		ErrorKind:   errorKind,
		RowCount:    len(answer.Records),
		DroppedRows: answer.DroppedRows,
		Duration:    elapsed,
		ExportKey:   answer.ExportKey,
		CreatedAt:   o.now().Add(-elapsed).UTC(),
	}
	if recordErr := o.history.Record(recordCtx, entry); recordErr != nil {
		o.logger.WarnContext(ctx, "query history not recorded", slog.String("query_id", answer.QueryID), slog.String("error", recordErr.Error()))
	}
}
