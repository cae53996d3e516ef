package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
)

// ProfilingConfig configures the profiling middleware.
type ProfilingConfig struct {
	// Enabled controls whether the pprof endpoints are exposed. Must stay
	// false outside development: the profiles leak memory contents.
	Enabled bool

	// Environment is checked as a second gate; production values disable
	// profiling regardless of Enabled.
	Environment string
}

// Profiling exposes the net/http/pprof endpoints under /debug/pprof/* when
// enabled. Requests outside that prefix pass through untouched. Enabling it
// in a production environment is refused and logged.
func Profiling(config ProfilingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !config.Enabled {
			return next
		}

		if config.Environment == "production" || config.Environment == "prod" {
			slog.Error("refusing to enable profiling in production", "environment", config.Environment)
			return next
		}

		slog.Warn("profiling endpoints enabled",
			"environment", config.Environment,
			"endpoints", "/debug/pprof/*",
		)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/debug/pprof") {
				next.ServeHTTP(w, r)
				return
			}

			switch r.URL.Path {
			case "/debug/pprof/cmdline":
				pprof.Cmdline(w, r)
			case "/debug/pprof/profile":
				pprof.Profile(w, r)
			case "/debug/pprof/symbol":
				pprof.Symbol(w, r)
			case "/debug/pprof/trace":
				pprof.Trace(w, r)
			default:
				// /debug/pprof/ and named profiles (heap, goroutine, ...).
				pprof.Index(w, r)
			}
		})
	}
}

// ProfilingStatus reports whether profiling is enabled. Served on the public
// mux in development so the configuration can be verified without attaching
// a profiler.
func ProfilingStatus(config ProfilingConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		body := fmt.Sprintf(`{"profiling_enabled":%t,"environment":%q}`, config.Enabled, config.Environment)
		if _, err := w.Write([]byte(body)); err != nil {
			slog.Error("failed to write profiling status response", "error", err)
		}
	}
}
