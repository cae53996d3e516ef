package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/arthahq/artha/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// How long a duplicate waits for the first execution to finish before giving
// up with a conflict, and how often it re-checks.
const (
	conflictWaitTimeout  = 1 * time.Second
	conflictPollInterval = 50 * time.Millisecond
)

// idempotencyKeyContextKey is the context key for storing the idempotency key.
type idempotencyKeyContextKey struct{}

// SetIdempotencyKey stores the idempotency key in the context.
func SetIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// GetIdempotencyKey retrieves the idempotency key from context. Returns empty string if not present.
func GetIdempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyContextKey{}).(string); ok {
		return key
	}
	return ""
}

// idempotencyResponseWriter captures the response so it can be persisted for
// replay to duplicate submissions.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	written    bool
}

func newIdempotencyResponseWriter(w http.ResponseWriter) *idempotencyResponseWriter {
	return &idempotencyResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

// WriteHeader captures the status code.
func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write captures the response body alongside the actual write.
func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b[:n])
	return n, err
}

// Unwrap exposes the underlying writer so UpdateResponseContext can reach
// the logging writer through this wrapper.
func (w *idempotencyResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// IdempotencyConfig configures the idempotency middleware.
type IdempotencyConfig struct {
	Repo idempotency.Repository

	// Routes is the set of paths whose mutating requests require an
	// idempotency key.
	Routes map[string]bool

	// Expiry is how long a completed record shields its key. Zero falls
	// back to idempotency.DefaultExpiry.
	Expiry time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

// Idempotency returns a middleware that enforces at-most-once execution for
// mutating requests (POST, PUT, PATCH, DELETE) on the configured routes. Each
// such request must carry an Idempotency-Key header holding a UUID v4.
//
// The first request to claim a key executes the handler; its response is
// persisted and replayed byte-for-byte to later duplicates. A duplicate that
// arrives while the first execution is still running waits briefly for it to
// complete, then either replays the stored response or answers 409 with a
// Retry-After hint. Handler failures (non-2xx or panic) release the key so a
// legitimate retry can execute.
//
// Unlike the cache, the record store is load-bearing: if it is unreachable
// the request fails with 503 rather than risking double execution.
func Idempotency(cfg IdempotencyConfig) func(http.Handler) http.Handler {
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = idempotency.DefaultExpiry
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMutating(r.Method) || !cfg.Routes[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				writeJSONError(w, r.Context(), http.StatusBadRequest, "missing_idempotency_key", "Idempotency-Key header is required for this request")
				return
			}
			if err := idempotency.ValidateKey(key); err != nil {
				writeJSONError(w, r.Context(), http.StatusBadRequest, "invalid_idempotency_key", "Idempotency-Key must be a UUID v4")
				return
			}

			ctx := SetIdempotencyKey(r.Context(), key)
			r = r.WithContext(ctx)

			scope := idempotency.Scope{
				Key:     key,
				OwnerID: GetUserID(ctx),
				Method:  r.Method,
				Route:   r.URL.Path,
			}

			// Claim the scope before executing. InsertIfAbsent is the only
			// serialization point between concurrent duplicates.
			now := time.Now()
			record := &idempotency.Record{
				Key:       scope.Key,
				OwnerID:   scope.OwnerID,
				Method:    scope.Method,
				Route:     scope.Route,
				Status:    idempotency.StatusProcessing,
				CreatedAt: now,
				ExpiresAt: now.Add(expiry),
			}

			err := cfg.Repo.InsertIfAbsent(ctx, record)
			switch {
			case err == nil:
				// We hold the claim; execute.
			case errors.Is(err, idempotency.ErrConflict):
				handleDuplicate(w, r, cfg, scope)
				return
			default:
				if cfg.Logger != nil {
					cfg.Logger.ErrorContext(ctx, "idempotency store unavailable", "key", key, "error", err)
				}
				writeJSONError(w, ctx, http.StatusServiceUnavailable, "store_unavailable", "Idempotency store is unavailable")
				return
			}

			captureWriter := newIdempotencyResponseWriter(w)

			// A panicking handler must not leave the key claimed forever.
			defer func() {
				if rec := recover(); rec != nil {
					releaseClaim(ctx, cfg, scope)
					panic(rec)
				}
			}()

			next.ServeHTTP(captureWriter, r)

			if captureWriter.statusCode >= 200 && captureWriter.statusCode < 300 {
				if err := cfg.Repo.Complete(ctx, scope, captureWriter.statusCode, captureWriter.body.String()); err != nil {
					// Response already sent; the claim stays processing and
					// lapses at expiry.
					if cfg.Logger != nil {
						cfg.Logger.ErrorContext(ctx, "failed to complete idempotency record", "key", key, "error", err)
					}
				}
				return
			}

			// Failed executions release the key so the client can retry.
			releaseClaim(ctx, cfg, scope)
		})
	}
}

// handleDuplicate serves a request whose scope is already claimed. If the
// first execution has completed, its response is replayed verbatim. If it is
// still in flight, the duplicate polls briefly for completion before
// answering 409.
func handleDuplicate(w http.ResponseWriter, r *http.Request, cfg IdempotencyConfig, scope idempotency.Scope) {
	ctx := r.Context()
	deadline := time.Now().Add(conflictWaitTimeout)

	for {
		record, err := cfg.Repo.Find(ctx, scope)
		if err != nil {
			if errors.Is(err, idempotency.ErrNotFound) {
				// The first execution failed and released the key between
				// our insert attempt and this lookup. Tell the client to
				// retry rather than executing out of order.
				writeConflict(w, ctx, cfg, scope)
				return
			}
			if cfg.Logger != nil {
				cfg.Logger.ErrorContext(ctx, "idempotency store unavailable", "key", scope.Key, "error", err)
			}
			writeJSONError(w, ctx, http.StatusServiceUnavailable, "store_unavailable", "Idempotency store is unavailable")
			return
		}

		if record.Completed() {
			replayResponse(w, ctx, cfg, scope, record)
			return
		}

		if time.Now().After(deadline) {
			writeConflict(w, ctx, cfg, scope)
			return
		}

		select {
		case <-ctx.Done():
			writeConflict(w, ctx, cfg, scope)
			return
		case <-time.After(conflictPollInterval):
		}
	}
}

// replayResponse writes the stored first-execution response byte-for-byte.
func replayResponse(w http.ResponseWriter, ctx context.Context, cfg IdempotencyConfig, scope idempotency.Scope, record *idempotency.Record) {
	if cfg.Metrics != nil {
		cfg.Metrics.IncIdempotencyReplays(scope.Route)
	}
	if cfg.Logger != nil {
		cfg.Logger.InfoContext(ctx, "replaying idempotent response",
			"key", scope.Key,
			"status", record.ResponseStatus,
		)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Idempotency-Replayed", "true")
	w.WriteHeader(record.ResponseStatus)
	_, _ = w.Write([]byte(record.ResponseBody))
}

func writeConflict(w http.ResponseWriter, ctx context.Context, cfg IdempotencyConfig, scope idempotency.Scope) {
	if cfg.Metrics != nil {
		cfg.Metrics.IncIdempotencyConflicts(scope.Route)
	}
	w.Header().Set("Retry-After", "1")
	writeJSONError(w, ctx, http.StatusConflict, "idempotency_conflict", "A request with this Idempotency-Key is still being processed")
}

func releaseClaim(ctx context.Context, cfg IdempotencyConfig, scope idempotency.Scope) {
	if err := cfg.Repo.Delete(ctx, scope); err != nil {
		if cfg.Logger != nil {
			cfg.Logger.ErrorContext(ctx, "failed to release idempotency claim", "key", scope.Key, "error", err)
		}
	}
}
