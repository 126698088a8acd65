package api

import (
	"context"
	"net/http"

	"github.com/querybridge/querybridge/internal/apperr"
)

// statusForKind maps failure kinds to HTTP status codes.
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotInitialized, apperr.KindSQLGenerationFailed, apperr.KindInvalidRequest:
		return http.StatusBadRequest
	case apperr.KindAuthenticationFailed:
		return http.StatusUnauthorized
	case apperr.KindTransportNotReady, apperr.KindResourceUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindRemoteExecution:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func retryableKind(kind apperr.Kind) bool {
	switch kind {
	case apperr.KindTransportNotReady, apperr.KindResourceUnavailable, apperr.KindRemoteExecution:
		return true
	default:
		return false
	}
}

// writeAppError renders err in the standard envelope. Internal causes are
// never echoed to the caller.
func writeAppError(ctx context.Context, w http.ResponseWriter, err error, extra map[string]any) {
	typed := apperr.As(err)
	if typed.Diagnostic != "" {
		if extra == nil {
			extra = map[string]any{}
		}
		extra["diagnostic"] = typed.Diagnostic
	}
	message := typed.Message
	if typed.Kind == apperr.KindInternal && message == "" {
		message = "an internal error occurred"
	}
	writeJSON(w, statusForKind(typed.Kind), errorBody(ctx, string(typed.Kind), message, string(typed.Stage), retryableKind(typed.Kind), extra))
}
