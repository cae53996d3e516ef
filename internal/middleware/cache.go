package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"time"

	"github.com/arthahq/artha/internal/cache"
)

// CacheConfig configures the read-through response cache middleware.
type CacheConfig struct {
	Store cache.Store

	// Skip lists paths that must never be cached (health, metrics).
	Skip map[string]bool

	// TTL bounds the lifetime of cached responses. Zero falls back to
	// cache.DefaultTTL.
	TTL time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

// cacheResponseWriter captures a response body for storage on the way out.
type cacheResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	written    bool
}

func newCacheResponseWriter(w http.ResponseWriter) *cacheResponseWriter {
	return &cacheResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

func (w *cacheResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *cacheResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b[:n])
	return n, err
}

func (w *cacheResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// ResponseCache is a middleware that serves GET responses from the cache and
// stores 200 responses on a miss. It is strictly fail-soft: a store error is
// logged and treated as a miss, so the cache can never make a request fail.
// Responses are keyed per user on top of the request URI, since authenticated
// reads are owner-scoped.
func ResponseCache(cfg CacheConfig) func(http.Handler) http.Handler {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || cfg.Skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := cache.PathKey(r.URL.RequestURI())
			if userID := GetUserID(ctx); userID != "" {
				key += ":user:" + userID
			}

			if body, err := cfg.Store.Get(ctx, key); err == nil {
				if cfg.Metrics != nil {
					cfg.Metrics.IncCacheHits(r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(body)
				return
			} else if err != cache.ErrMiss {
				if cfg.Metrics != nil {
					cfg.Metrics.IncCacheErrors()
				}
				if cfg.Logger != nil {
					cfg.Logger.WarnContext(ctx, "cache read failed, treating as miss", "key", key, "error", err)
				}
			} else if cfg.Metrics != nil {
				cfg.Metrics.IncCacheMisses(r.URL.Path)
			}

			cw := newCacheResponseWriter(w)
			cw.Header().Set("X-Cache", "MISS")
			next.ServeHTTP(cw, r)

			// Only plain 200 responses are cacheable.
			if cw.statusCode != http.StatusOK {
				return
			}
			if err := cfg.Store.Set(ctx, key, cw.body.Bytes(), ttl); err != nil {
				if cfg.Metrics != nil {
					cfg.Metrics.IncCacheErrors()
				}
				if cfg.Logger != nil {
					cfg.Logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
				}
			}
		})
	}
}
