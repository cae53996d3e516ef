// Package idempotency enforces at-most-one execution of mutating API
// operations. Each protected operation carries a client-supplied idempotency
// key; the first execution's response is persisted and replayed verbatim to
// any duplicate submission until the record expires.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Record status values. A record is created in StatusProcessing before the
// handler runs and moves to StatusCompleted once the response is captured.
// The database CHECK constraint mirrors these values; keep them in sync with
// the migrations.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

var (
	// ErrNotFound is returned when no record exists for a scope.
	ErrNotFound = errors.New("idempotency: record not found")

	// ErrConflict is returned by InsertIfAbsent when a live record
	// already holds the scope. The caller lost the race and must fall
	// back to the lookup-and-replay path.
	ErrConflict = errors.New("idempotency: record already exists")

	// ErrInvalidKey is returned when a key is not a plain UUID v4.
	ErrInvalidKey = errors.New("idempotency: key must be a UUID v4")
)

// DefaultExpiry is how long a completed record shields its key from
// re-execution. After this the record is logically expired: lookups treat it
// as absent and the reaper may remove it.
const DefaultExpiry = 24 * time.Hour

// keyTextLength is the length of the plain 8-4-4-4-12 UUID form. uuid.Parse
// also accepts braced and urn: forms, which are not valid on the wire.
const keyTextLength = 36

// Scope identifies a record. The same key presented by a different owner or
// against a different method/route is an independent operation, so keys can
// never collide across endpoints.
type Scope struct {
	Key     string
	OwnerID string
	Method  string
	Route   string
}

// Record is the persisted outcome of the first execution under a scope.
// It is created once, read thereafter, and never mutated by domain code.
type Record struct {
	Key            string    `json:"key"`
	OwnerID        string    `json:"owner_id"`
	Method         string    `json:"method"`
	Route          string    `json:"route"`
	Status         string    `json:"status"`
	ResponseStatus int       `json:"response_status"`
	ResponseBody   string    `json:"response_body"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Scope returns the identifying scope of the record.
func (r *Record) Scope() Scope {
	return Scope{Key: r.Key, OwnerID: r.OwnerID, Method: r.Method, Route: r.Route}
}

// Expired reports whether the record's shield has lapsed at t.
func (r *Record) Expired(t time.Time) bool {
	return !r.ExpiresAt.After(t)
}

// Completed reports whether the record carries a replayable response.
func (r *Record) Completed() bool {
	return r.Status == StatusCompleted
}

// ValidateKey checks that key is a textual UUID v4: 8-4-4-4-12 hex groups
// with the version and variant nibbles fixed per UUID v4 rules. Malformed
// keys are rejected before any lookup so they can never be silently
// accepted.
func ValidateKey(key string) error {
	if len(key) != keyTextLength {
		return ErrInvalidKey
	}
	id, err := uuid.Parse(key)
	if err != nil {
		return ErrInvalidKey
	}
	if id.Version() != 4 || id.Variant() != uuid.RFC4122 {
		return ErrInvalidKey
	}
	return nil
}

// Repository persists idempotency records. InsertIfAbsent must be atomic on
// the scope's uniqueness constraint: it is the sole serialization point
// between concurrent duplicates, including duplicates landing on different
// process instances. No in-process lock can substitute for it.
type Repository interface {
	// Find returns the record for scope, or ErrNotFound. Expired records
	// are still returned; staleness is the caller's decision.
	Find(ctx context.Context, scope Scope) (*Record, error)

	// InsertIfAbsent stores record unless a live record already exists
	// for its scope, in which case it returns ErrConflict. An expired
	// record is replaced rather than conflicting.
	InsertIfAbsent(ctx context.Context, record *Record) error

	// Complete transitions the scope's record from processing to
	// completed, attaching the response that duplicates will replay.
	Complete(ctx context.Context, scope Scope, responseStatus int, responseBody string) error

	// Delete removes the scope's record so a legitimate retry can
	// re-attempt execution after a failed handler run.
	Delete(ctx context.Context, scope Scope) error

	// DeleteExpired reaps records whose ExpiresAt has passed, returning
	// the number removed.
	DeleteExpired(ctx context.Context) (int64, error)
}
