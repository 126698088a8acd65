package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/querybridge/querybridge/internal/apperr"
	"github.com/querybridge/querybridge/internal/observability"
	"github.com/querybridge/querybridge/internal/pipeline"
	"github.com/querybridge/querybridge/internal/results"
)

type initializeRequest struct {
	Identity        string `json:"identity"`
	TransportSecret string `json:"transport_secret"`
	DBSecret        string `json:"db_secret"`
}

type initializeResponse struct {
	Status              string `json:"status"`
	CredentialsVerified bool   `json:"credentials_verified"`
}

type queryRequest struct {
	Question string `json:"question"`
	Identity string `json:"identity"`
	DBSecret string `json:"db_secret"`
	Export   bool   `json:"export"`
}

type queryResponse struct {
	QueryID     string           `json:"query_id"`
	Statement   string           `json:"statement"`
	ModelText   string           `json:"model_text"`
	Columns     []string         `json:"columns"`
	Records     []results.Record `json:"records"`
	DroppedRows int              `json:"dropped_rows"`
	Diagnostic  string           `json:"diagnostic,omitempty"`
	ExportKey   string           `json:"export_key,omitempty"`
	ExportError string           `json:"export_error,omitempty"`
}

func handleInitialize(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Initializer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INITIALIZE_NOT_CONFIGURED", "initialization dependencies are not configured", false, nil)
		return
	}

	var request initializeRequest
	if err := decodeBody(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, string(apperr.KindInvalidRequest), "invalid initialize request body", false, map[string]any{"details": err.Error()})
		return
	}
	request.Identity = strings.TrimSpace(request.Identity)
	if request.Identity == "" {
		writeError(r.Context(), w, http.StatusBadRequest, string(apperr.KindInvalidRequest), "identity is required", false, nil)
		return
	}

	if err := deps.Initializer.EnsureReady(r.Context(), request.Identity, request.TransportSecret); err != nil {
		writeAppError(r.Context(), w, err, nil)
		return
	}

	response := initializeResponse{Status: "ready"}
	if request.DBSecret != "" && deps.Pipeline != nil {
		if err := deps.Pipeline.Verify(r.Context(), request.Identity, request.DBSecret); err != nil {
			writeAppError(r.Context(), w, err, nil)
			return
		}
		response.CredentialsVerified = true
	}
	writeJSON(w, http.StatusOK, response)
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}

	var request queryRequest
	if err := decodeBody(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, string(apperr.KindInvalidRequest), "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	request.Identity = strings.TrimSpace(request.Identity)
	if request.Identity == "" {
		writeError(r.Context(), w, http.StatusBadRequest, string(apperr.KindInvalidRequest), "identity is required", false, nil)
		return
	}
	if request.DBSecret == "" {
		writeError(r.Context(), w, http.StatusBadRequest, string(apperr.KindInvalidRequest), "db_secret is required", false, nil)
		return
	}

	answer, err := deps.Pipeline.Answer(r.Context(), pipeline.Request{
		Question: request.Question,
		Identity: request.Identity,
		Secret:   request.DBSecret,
		Export:   request.Export,
	})
	if answer.QueryID != "" {
		w.Header().Set(observability.QueryIDHeader, answer.QueryID)
	}
	if err != nil {
		extra := map[string]any{"query_id": answer.QueryID}
		if answer.Statement != "" {
			extra["statement"] = answer.Statement
		}
		writeAppError(r.Context(), w, err, extra)
		return
	}

	if deps.Logger != nil && answer.DroppedRows > 0 {
		deps.Logger.WarnContext(r.Context(), "remote output rows dropped",
			append(observability.RequestAttrs(r.Context()),
				slog.String("query_id", answer.QueryID),
				slog.Int("dropped_rows", answer.DroppedRows),
			)...,
		)
	}

	records := answer.Records
	if records == nil {
		records = []results.Record{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		QueryID:     answer.QueryID,
		Statement:   answer.Statement,
		ModelText:   answer.ModelText,
		Columns:     answer.Columns,
		Records:     records,
		DroppedRows: answer.DroppedRows,
		Diagnostic:  answer.Diagnostic,
		ExportKey:   answer.ExportKey,
		ExportError: answer.ExportError,
	})
}
