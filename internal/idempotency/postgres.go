package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/arthahq/artha/internal/tracing"
)

// DefaultStoreTimeout bounds every record-store round-trip. Unlike the
// response cache, a timeout here is a hard failure: the request must not
// proceed as if its key were unseen, or the at-most-once guarantee breaks.
const DefaultStoreTimeout = 2 * time.Second

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

// recordsTable is the table holding idempotency records.
const recordsTable = "idempotency_keys"

// PostgresRepository implements Repository on PostgreSQL. The composite
// primary key on (key, owner_id, method, route) is the cross-process
// serialization point the at-most-once guarantee relies on.
type PostgresRepository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresRepository creates a repository with the default store timeout.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db:      db,
		timeout: DefaultStoreTimeout,
	}
}

func (r *PostgresRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// Find returns the record for scope, or ErrNotFound.
func (r *PostgresRepository) Find(ctx context.Context, scope Scope) (*Record, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, recordsTable, tracing.DBOperationQuery)
	record, err := r.find(ctx, scope)
	endSpan(err)
	return record, err
}

func (r *PostgresRepository) find(ctx context.Context, scope Scope) (*Record, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	const query = `
		SELECT key, owner_id, method, route, status,
		       response_status, response_body, created_at, expires_at
		FROM idempotency_keys
		WHERE key = $1 AND owner_id = $2 AND method = $3 AND route = $4`

	record := &Record{}
	err := r.db.QueryRowContext(ctx, query, scope.Key, scope.OwnerID, scope.Method, scope.Route).Scan(
		&record.Key, &record.OwnerID, &record.Method, &record.Route, &record.Status,
		&record.ResponseStatus, &record.ResponseBody, &record.CreatedAt, &record.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find idempotency record: %w", err)
	}
	return record, nil
}

// InsertIfAbsent inserts the record, relying on the primary key for
// atomicity. When the insert collides with an existing row, an expired row
// is taken over in place; a live row yields ErrConflict.
func (r *PostgresRepository) InsertIfAbsent(ctx context.Context, record *Record) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, recordsTable, tracing.DBOperationInsert)
	err := r.insertIfAbsent(ctx, record)
	endSpan(err)
	return err
}

func (r *PostgresRepository) insertIfAbsent(ctx context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	now := time.Now()
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	expiresAt := record.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = createdAt.Add(DefaultExpiry)
	}
	status := record.Status
	if status == "" {
		status = StatusProcessing
	}

	const insert = `
		INSERT INTO idempotency_keys
			(key, owner_id, method, route, status, response_status, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, insert,
		record.Key, record.OwnerID, record.Method, record.Route,
		status, record.ResponseStatus, record.ResponseBody, createdAt, expiresAt,
	)
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return fmt.Errorf("insert idempotency record: %w", err)
	}

	// A row already holds the scope. Take it over only if its shield has
	// lapsed; the conditional UPDATE keeps the takeover atomic.
	const takeover = `
		UPDATE idempotency_keys
		SET status = $5, response_status = $6, response_body = $7,
		    created_at = $8, expires_at = $9
		WHERE key = $1 AND owner_id = $2 AND method = $3 AND route = $4
		  AND expires_at <= NOW()`

	res, err := r.db.ExecContext(ctx, takeover,
		record.Key, record.OwnerID, record.Method, record.Route,
		status, record.ResponseStatus, record.ResponseBody, createdAt, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("take over expired idempotency record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("take over expired idempotency record: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

// Complete transitions a processing record to completed with its response.
func (r *PostgresRepository) Complete(ctx context.Context, scope Scope, responseStatus int, responseBody string) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, recordsTable, tracing.DBOperationUpdate)
	err := r.complete(ctx, scope, responseStatus, responseBody)
	endSpan(err)
	return err
}

func (r *PostgresRepository) complete(ctx context.Context, scope Scope, responseStatus int, responseBody string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	const query = `
		UPDATE idempotency_keys
		SET status = $5, response_status = $6, response_body = $7
		WHERE key = $1 AND owner_id = $2 AND method = $3 AND route = $4`

	res, err := r.db.ExecContext(ctx, query,
		scope.Key, scope.OwnerID, scope.Method, scope.Route,
		StatusCompleted, responseStatus, responseBody,
	)
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the scope's record.
func (r *PostgresRepository) Delete(ctx context.Context, scope Scope) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, recordsTable, tracing.DBOperationDelete)
	err := r.delete(ctx, scope)
	endSpan(err)
	return err
}

func (r *PostgresRepository) delete(ctx context.Context, scope Scope) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	const query = `
		DELETE FROM idempotency_keys
		WHERE key = $1 AND owner_id = $2 AND method = $3 AND route = $4`

	if _, err := r.db.ExecContext(ctx, query, scope.Key, scope.OwnerID, scope.Method, scope.Route); err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}
	return nil
}

// DeleteExpired reaps records whose shields have lapsed.
func (r *PostgresRepository) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, recordsTable, tracing.DBOperationDelete)
	removed, err := r.deleteExpired(ctx)
	endSpan(err)
	return removed, err
}

func (r *PostgresRepository) deleteExpired(ctx context.Context) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return res.RowsAffected()
}
