package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository implements Repository with in-process storage. Suitable
// for development and tests; production deployments use PostgresRepository
// so the uniqueness constraint holds across process instances.
type InMemoryRepository struct {
	mu      sync.Mutex
	records map[Scope]*Record
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[Scope]*Record),
	}
}

// Find returns the record for scope, or ErrNotFound.
func (r *InMemoryRepository) Find(ctx context.Context, scope Scope) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[scope]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *record
	return &copied, nil
}

// InsertIfAbsent stores record unless a live record holds its scope.
// Expired records are replaced.
func (r *InMemoryRepository) InsertIfAbsent(ctx context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.records[record.Scope()]; ok && !existing.Expired(now) {
		return ErrConflict
	}

	// Store a copy with lifecycle defaults filled in.
	copied := *record
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = now
	}
	if copied.ExpiresAt.IsZero() {
		copied.ExpiresAt = copied.CreatedAt.Add(DefaultExpiry)
	}
	if copied.Status == "" {
		copied.Status = StatusProcessing
	}
	r.records[record.Scope()] = &copied
	return nil
}

// Complete attaches the captured response to the scope's record and marks it
// completed.
func (r *InMemoryRepository) Complete(ctx context.Context, scope Scope, responseStatus int, responseBody string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[scope]
	if !ok {
		return ErrNotFound
	}
	record.Status = StatusCompleted
	record.ResponseStatus = responseStatus
	record.ResponseBody = responseBody
	return nil
}

// Delete removes the scope's record. Deleting an absent scope is a no-op.
func (r *InMemoryRepository) Delete(ctx context.Context, scope Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, scope)
	return nil
}

// DeleteExpired removes records whose shields have lapsed.
func (r *InMemoryRepository) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var deleted int64
	for scope, record := range r.records {
		if record.Expired(now) {
			delete(r.records, scope)
			deleted++
		}
	}
	return deleted, nil
}
