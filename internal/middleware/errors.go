package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// errorBody is the standard JSON error envelope:
// {"error": {"code": "...", "message": "..."}}
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSONError writes a standardized JSON error response from within a
// middleware. It records the error code on the context so the logging
// middleware includes it, and propagates the context via UpdateResponseContext.
func writeJSONError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	ctx = SetErrorCode(ctx, code)
	UpdateResponseContext(w, ctx)

	body := errorBody{Error: errorDetail{Code: code, Message: message}}
	data, err := json.Marshal(body)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}
