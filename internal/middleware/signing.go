package middleware

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/arthahq/artha/internal/cache"
	"github.com/arthahq/artha/internal/signing"
)

// Request signing header names.
const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Timestamp"
	NonceHeader     = "X-Nonce"
)

// DefaultMaxSignedBodyBytes caps how much of a request body the signing
// middleware will buffer for verification.
const DefaultMaxSignedBodyBytes = 1 << 20

// SigningConfig configures the request signing middleware.
type SigningConfig struct {
	// Deriver produces the per-user signing secret.
	Deriver *signing.Deriver

	// Nonces records consumed nonces for single-use enforcement. Nonce
	// enforcement is fail-soft: if the store errors, the request proceeds.
	// With a NoopStore, nonces are not enforced at all.
	Nonces cache.Store

	// MaxTimestampAge bounds the replay window. Zero falls back to
	// signing.DefaultMaxTimestampAge.
	MaxTimestampAge time.Duration

	// MaxBodyBytes caps the request body size buffered for signature
	// verification. Zero falls back to DefaultMaxSignedBodyBytes.
	MaxBodyBytes int64

	Logger  *slog.Logger
	Metrics *Metrics
}

// RequestSigning is a middleware that verifies HMAC request signatures on
// mutating requests (POST, PUT, PATCH, DELETE). Reads pass through unsigned.
//
// The signature covers the authenticated user ID, the raw request body (when
// non-empty), the client timestamp, and a single-use nonce, so a verified
// request proves both integrity and freshness. Verification order: nonce
// format, timestamp window, HMAC, then nonce consumption — an invalid
// signature never burns its nonce.
func RequestSigning(cfg SigningConfig) func(http.Handler) http.Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxSignedBodyBytes
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			userID := GetUserID(ctx)
			if userID == "" {
				writeJSONError(w, ctx, http.StatusUnauthorized, "signature_invalid", "Request signing requires an authenticated user")
				return
			}

			sig := r.Header.Get(SignatureHeader)
			ts := r.Header.Get(TimestampHeader)
			nonce := r.Header.Get(NonceHeader)
			if sig == "" || ts == "" || nonce == "" {
				if cfg.Metrics != nil {
					cfg.Metrics.IncSignatureFailures("missing_headers")
				}
				writeJSONError(w, ctx, http.StatusUnauthorized, "signature_invalid", "X-Signature, X-Timestamp and X-Nonce headers are required")
				return
			}

			if !signing.IsValidNonceFormat(nonce) {
				if cfg.Metrics != nil {
					cfg.Metrics.IncReplayRejections("bad_nonce_format")
				}
				writeJSONError(w, ctx, http.StatusUnauthorized, "replay_rejected", "Nonce must be 32 lowercase hex characters")
				return
			}

			if !signing.IsValidTimestamp(ts, cfg.MaxTimestampAge) {
				if cfg.Metrics != nil {
					cfg.Metrics.IncReplayRejections("stale_timestamp")
				}
				writeJSONError(w, ctx, http.StatusUnauthorized, "replay_rejected", "Timestamp is outside the accepted window")
				return
			}

			// The body participates in the signature, so it must be read
			// here and restored for downstream handlers. MaxBytesReader
			// keeps an oversized body from being buffered unverified.
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
			body, err := io.ReadAll(r.Body)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeJSONError(w, ctx, http.StatusRequestEntityTooLarge, "bad_request", "Request body is too large")
					return
				}
				writeJSONError(w, ctx, http.StatusBadRequest, "bad_request", "Failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fields := map[string]any{
				"userId":    userID,
				"timestamp": ts,
				"nonce":     nonce,
			}
			if len(body) > 0 {
				fields["body"] = string(body)
			}

			secret := cfg.Deriver.Derive(userID)
			if !signing.Verify(fields, sig, secret) {
				if cfg.Metrics != nil {
					cfg.Metrics.IncSignatureFailures("bad_signature")
				}
				writeJSONError(w, ctx, http.StatusUnauthorized, "signature_invalid", "Request signature verification failed")
				return
			}

			// Consume the nonce only after the signature checks out. Store
			// errors degrade to allowing the request; the timestamp window
			// still bounds replay exposure.
			maxAge := cfg.MaxTimestampAge
			if maxAge <= 0 {
				maxAge = signing.DefaultMaxTimestampAge
			}
			fresh, err := cfg.Nonces.SetIfAbsent(ctx, cache.NonceKey(nonce), []byte("1"), maxAge)
			if err != nil {
				if cfg.Logger != nil {
					cfg.Logger.WarnContext(ctx, "nonce store unavailable, skipping single-use check", "error", err)
				}
			} else if !fresh {
				if cfg.Metrics != nil {
					cfg.Metrics.IncReplayRejections("nonce_reused")
				}
				writeJSONError(w, ctx, http.StatusUnauthorized, "replay_rejected", "Nonce has already been used")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isMutating reports whether the method changes server state and therefore
// requires a signed request.
func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
