//go:build integration

// Integration tests for the PostgreSQL-backed idempotency repository.
// They start a disposable PostgreSQL container and are skipped when Docker
// is unavailable. Run with: go test -tags=integration -v ./internal/idempotency/...
package idempotency

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const createTableDDL = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
    key UUID NOT NULL,
    owner_id TEXT NOT NULL,
    method TEXT NOT NULL,
    route TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('processing', 'completed')),
    response_status INTEGER NOT NULL DEFAULT 0,
    response_body TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (key, owner_id, method, route)
)`

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("artha_test"),
		tcpostgres.WithUsername("artha"),
		tcpostgres.WithPassword("artha"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("could not start postgres container (is Docker running?): %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}
	if _, err := db.Exec(createTableDDL); err != nil {
		t.Fatalf("failed to create idempotency_keys table: %v", err)
	}
	return db
}

func TestPostgresRepository_InsertFindComplete(t *testing.T) {
	db := startPostgres(t)
	repo := NewPostgresRepository(db)
	ctx := context.Background()
	key := uuid.New().String()

	if _, err := repo.Find(ctx, testScope(key)); err != ErrNotFound {
		t.Errorf("expected ErrNotFound on empty table, got %v", err)
	}

	if err := repo.InsertIfAbsent(ctx, testRecord(key)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, err := repo.Find(ctx, testScope(key))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != StatusProcessing {
		t.Errorf("expected processing record, got %q", record.Status)
	}

	if err := repo.Complete(ctx, testScope(key), 201, `{"id":"e1"}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	record, err = repo.Find(ctx, testScope(key))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !record.Completed() || record.ResponseStatus != 201 || record.ResponseBody != `{"id":"e1"}` {
		t.Errorf("unexpected completed record: %+v", record)
	}
}

func TestPostgresRepository_Conflict(t *testing.T) {
	db := startPostgres(t)
	repo := NewPostgresRepository(db)
	ctx := context.Background()
	key := uuid.New().String()

	if err := repo.InsertIfAbsent(ctx, testRecord(key)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.InsertIfAbsent(ctx, testRecord(key)); err != ErrConflict {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	// Same key under another owner is an independent scope.
	other := testRecord(key)
	other.OwnerID = "u2"
	if err := repo.InsertIfAbsent(ctx, other); err != nil {
		t.Errorf("same key for another owner should not conflict: %v", err)
	}
}

func TestPostgresRepository_ExpiredTakeover(t *testing.T) {
	db := startPostgres(t)
	repo := NewPostgresRepository(db)
	ctx := context.Background()
	key := uuid.New().String()

	stale := testRecord(key)
	stale.CreatedAt = time.Now().Add(-48 * time.Hour)
	stale.ExpiresAt = time.Now().Add(-24 * time.Hour)
	stale.Status = StatusCompleted
	if err := repo.InsertIfAbsent(ctx, stale); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := repo.InsertIfAbsent(ctx, testRecord(key)); err != nil {
		t.Errorf("expected takeover of expired record, got %v", err)
	}
	record, err := repo.Find(ctx, testScope(key))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != StatusProcessing {
		t.Errorf("takeover should reset the record to processing, got %q", record.Status)
	}
}

func TestPostgresRepository_DeleteAndReap(t *testing.T) {
	db := startPostgres(t)
	repo := NewPostgresRepository(db)
	ctx := context.Background()

	key := uuid.New().String()
	if err := repo.InsertIfAbsent(ctx, testRecord(key)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.Delete(ctx, testScope(key)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.Find(ctx, testScope(key)); err != ErrNotFound {
		t.Errorf("expected record gone after delete, got %v", err)
	}

	stale := testRecord(uuid.New().String())
	stale.CreatedAt = time.Now().Add(-48 * time.Hour)
	stale.ExpiresAt = time.Now().Add(-24 * time.Hour)
	if err := repo.InsertIfAbsent(ctx, stale); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deleted, err := repo.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 record reaped, got %d", deleted)
	}
}

// TestPostgresRepository_ConcurrentInsert verifies the primary key serializes
// concurrent duplicates: exactly one insert wins across parallel writers.
func TestPostgresRepository_ConcurrentInsert(t *testing.T) {
	db := startPostgres(t)
	repo := NewPostgresRepository(db)
	ctx := context.Background()
	key := uuid.New().String()

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.InsertIfAbsent(ctx, testRecord(key)); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly 1 winning insert, got %d", winners)
	}
}
