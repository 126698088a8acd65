package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/querybridge/querybridge/internal/apperr"
	"github.com/querybridge/querybridge/internal/history"
)

type historyEntryResponse struct {
	history.Entry
	DurationMs int64 `json:"duration_ms"`
}

func toHistoryResponse(entry history.Entry) historyEntryResponse {
	return historyEntryResponse{Entry: entry, DurationMs: entry.DurationMillis()}
}

func handleListHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "query history is not configured", false, nil)
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, string(apperr.KindInvalidRequest), "limit must be a positive integer", false, nil)
			return
		}
		limit = parsed
	}

	entries, err := deps.History.List(r.Context(), history.ListFilter{
		Identity: strings.TrimSpace(r.URL.Query().Get("identity")),
		Limit:    limit,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, string(apperr.KindResourceUnavailable), "query history is unavailable", true, nil)
		return
	}

	items := make([]historyEntryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, toHistoryResponse(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": items})
}

func handleGetHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "query history is not configured", false, nil)
		return
	}

	entry, err := deps.History.Get(r.Context(), r.PathValue("query_id"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "NOT_FOUND", "query not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusServiceUnavailable, string(apperr.KindResourceUnavailable), "query history is unavailable", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponse(entry))
}
