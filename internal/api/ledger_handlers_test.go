package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arthahq/artha/internal/cache"
	"github.com/arthahq/artha/internal/ledger"
	"github.com/arthahq/artha/internal/middleware"
)

// newLedgerMux builds the same route table the server mounts, backed by fresh
// in-memory stores.
func newLedgerMux(t *testing.T, cacheStore cache.Store) (*http.ServeMux, *LedgerHandlers) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := NewLedgerHandlers(ledger.NewInMemoryStore(), cacheStore, time.Minute, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ledger", handlers.CreateEntry)
	mux.HandleFunc("GET /ledger", handlers.ListEntries)
	mux.HandleFunc("GET /ledger/summary", handlers.Summary)
	mux.HandleFunc("GET /ledger/{id}", handlers.GetEntry)
	mux.HandleFunc("POST /invoices", handlers.CreateInvoice)
	mux.HandleFunc("GET /invoices", handlers.ListInvoices)
	mux.HandleFunc("POST /expenses", handlers.CreateExpense)
	mux.HandleFunc("GET /expenses", handlers.ListExpenses)
	return mux, handlers
}

// doAs issues a request against the mux with the user ID already established
// in the context, the way the auth middleware would.
func doAs(t *testing.T, mux *http.ServeMux, userID, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req = req.WithContext(middleware.SetUserID(req.Context(), userID))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestCreateEntry_Success(t *testing.T) {
	mux, _ := newLedgerMux(t, cache.NewInMemoryStore())

	rr := doAs(t, mux, "u1", http.MethodPost, "/ledger",
		`{"type":"credit","amount":5000,"currency":"INR","category":"sales"}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var entry ledger.Entry
	if err := json.Unmarshal(rr.Body.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if entry.ID == "" {
		t.Error("expected assigned entry ID")
	}
	if entry.OwnerID != "u1" {
		t.Errorf("expected owner u1, got %s", entry.OwnerID)
	}
	if entry.Amount != 5000 {
		t.Errorf("expected amount 5000, got %d", entry.Amount)
	}
	if entry.OccurredAt.IsZero() {
		t.Error("expected occurred_at to default to creation time")
	}
}

func TestCreateEntry_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{"type":`},
		{"unknown type", `{"type":"transfer","amount":100,"currency":"INR","category":"misc"}`},
		{"zero amount", `{"type":"credit","amount":0,"currency":"INR","category":"misc"}`},
		{"negative amount", `{"type":"debit","amount":-50,"currency":"INR","category":"misc"}`},
		{"missing currency", `{"type":"credit","amount":100,"category":"misc"}`},
		{"missing category", `{"type":"credit","amount":100,"currency":"INR"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _ := newLedgerMux(t, cache.NewInMemoryStore())
			rr := doAs(t, mux, "u1", http.MethodPost, "/ledger", tt.body)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}

			var resp ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse error response: %v", err)
			}
			if resp.Error.Code != ErrCodeValidation && resp.Error.Code != ErrCodeBadRequest {
				t.Errorf("expected validation or bad_request code, got %s", resp.Error.Code)
			}
		})
	}
}

func TestListEntries_OwnerScoped(t *testing.T) {
	mux, _ := newLedgerMux(t, cache.NewInMemoryStore())

	for _, userID := range []string{"u1", "u1", "u2"} {
		rr := doAs(t, mux, userID, http.MethodPost, "/ledger",
			`{"type":"credit","amount":100,"currency":"INR","category":"sales"}`)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create failed: %d: %s", rr.Code, rr.Body.String())
		}
	}

	rr := doAs(t, mux, "u1", http.MethodGet, "/ledger", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Entries []*ledger.Entry `json:"entries"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Entries) != 2 {
		t.Errorf("expected 2 entries for u1, got %d", len(resp.Entries))
	}
	for _, entry := range resp.Entries {
		if entry.OwnerID != "u1" {
			t.Errorf("entry leaked from owner %s", entry.OwnerID)
		}
	}
}

func TestGetEntry(t *testing.T) {
	mux, _ := newLedgerMux(t, cache.NewInMemoryStore())

	rr := doAs(t, mux, "u1", http.MethodPost, "/ledger",
		`{"type":"debit","amount":250,"currency":"INR","category":"office"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", rr.Code)
	}
	var created ledger.Entry
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to parse created entry: %v", err)
	}

	rr = doAs(t, mux, "u1", http.MethodGet, "/ledger/"+created.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var fetched ledger.Entry
	if err := json.Unmarshal(rr.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("failed to parse fetched entry: %v", err)
	}
	if fetched.ID != created.ID {
		t.Errorf("expected entry %s, got %s", created.ID, fetched.ID)
	}

	// Another owner cannot see it.
	rr = doAs(t, mux, "u2", http.MethodGet, "/ledger/"+created.ID, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for other owner, got %d", rr.Code)
	}

	// Unknown ID.
	rr = doAs(t, mux, "u1", http.MethodGet, "/ledger/no-such-id", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown ID, got %d", rr.Code)
	}
}

func TestCreateInvoice(t *testing.T) {
	mux, _ := newLedgerMux(t, cache.NewInMemoryStore())

	rr := doAs(t, mux, "u1", http.MethodPost, "/invoices",
		`{"number":"INV-001","client_name":"Acme","amount":120000,"currency":"INR","status":"sent","due_date":"2026-09-30T00:00:00Z"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var invoice ledger.Invoice
	if err := json.Unmarshal(rr.Body.Bytes(), &invoice); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if invoice.Status != ledger.InvoiceStatusSent {
		t.Errorf("expected status sent, got %s", invoice.Status)
	}

	// Omitted status defaults to draft.
	rr = doAs(t, mux, "u1", http.MethodPost, "/invoices",
		`{"number":"INV-002","client_name":"Acme","amount":5000,"currency":"INR","due_date":"2026-10-15T00:00:00Z"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &invoice); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if invoice.Status != ledger.InvoiceStatusDraft {
		t.Errorf("expected default status draft, got %s", invoice.Status)
	}

	// Unknown status is rejected.
	rr = doAs(t, mux, "u1", http.MethodPost, "/invoices",
		`{"number":"INV-003","client_name":"Acme","amount":5000,"currency":"INR","status":"void"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid status, got %d", rr.Code)
	}
}

func TestCreateExpense(t *testing.T) {
	mux, _ := newLedgerMux(t, cache.NewInMemoryStore())

	rr := doAs(t, mux, "u1", http.MethodPost, "/expenses",
		`{"vendor":"CloudHost","amount":9900,"currency":"INR","category":"infrastructure"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var expense ledger.Expense
	if err := json.Unmarshal(rr.Body.Bytes(), &expense); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if expense.Vendor != "CloudHost" {
		t.Errorf("expected vendor CloudHost, got %s", expense.Vendor)
	}
	if expense.IncurredAt.IsZero() {
		t.Error("expected incurred_at to default to creation time")
	}

	rr = doAs(t, mux, "u1", http.MethodGet, "/expenses", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Expenses []*ledger.Expense `json:"expenses"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Expenses) != 1 {
		t.Errorf("expected 1 expense, got %d", len(resp.Expenses))
	}
}

func TestSummary_Aggregates(t *testing.T) {
	mux, _ := newLedgerMux(t, cache.NewInMemoryStore())

	writes := []struct {
		target string
		body   string
	}{
		{"/ledger", `{"type":"credit","amount":10000,"currency":"INR","category":"sales"}`},
		{"/ledger", `{"type":"debit","amount":1500,"currency":"INR","category":"office"}`},
		{"/invoices", `{"number":"INV-001","client_name":"Acme","amount":20000,"currency":"INR","status":"sent","due_date":"2026-09-30T00:00:00Z"}`},
		{"/invoices", `{"number":"INV-002","client_name":"Acme","amount":5000,"currency":"INR","status":"paid","due_date":"2026-08-01T00:00:00Z"}`},
		{"/expenses", `{"vendor":"CloudHost","amount":9900,"currency":"INR","category":"infrastructure"}`},
	}
	for _, w := range writes {
		rr := doAs(t, mux, "u1", http.MethodPost, w.target, w.body)
		if rr.Code != http.StatusCreated {
			t.Fatalf("write to %s failed: %d: %s", w.target, rr.Code, rr.Body.String())
		}
	}

	rr := doAs(t, mux, "u1", http.MethodGet, "/ledger/summary", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var summary ledger.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to parse summary: %v", err)
	}
	if summary.TotalCredits != 10000 {
		t.Errorf("expected total credits 10000, got %d", summary.TotalCredits)
	}
	if summary.TotalDebits != 1500 {
		t.Errorf("expected total debits 1500, got %d", summary.TotalDebits)
	}
	if summary.Net != 8500 {
		t.Errorf("expected net 8500, got %d", summary.Net)
	}
	if summary.InvoiceTotal != 25000 {
		t.Errorf("expected invoice total 25000, got %d", summary.InvoiceTotal)
	}
	if summary.OutstandingInvoices != 1 {
		t.Errorf("expected 1 outstanding invoice, got %d", summary.OutstandingInvoices)
	}
	if summary.ExpenseTotal != 9900 {
		t.Errorf("expected expense total 9900, got %d", summary.ExpenseTotal)
	}
}

func TestSummary_CachedReadThrough(t *testing.T) {
	store := cache.NewInMemoryStore()
	mux, _ := newLedgerMux(t, store)

	rr := doAs(t, mux, "u1", http.MethodPost, "/ledger",
		`{"type":"credit","amount":10000,"currency":"INR","category":"sales"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", rr.Code)
	}

	rr = doAs(t, mux, "u1", http.MethodGet, "/ledger/summary", "")
	if got := rr.Header().Get("X-Cache"); got != "MISS" {
		t.Fatalf("first summary read should be a MISS, got %q", got)
	}
	firstBody := rr.Body.String()

	rr = doAs(t, mux, "u1", http.MethodGet, "/ledger/summary", "")
	if got := rr.Header().Get("X-Cache"); got != "HIT" {
		t.Fatalf("second summary read should be a HIT, got %q", got)
	}
	if rr.Body.String() != firstBody {
		t.Errorf("cached summary must be byte-identical")
	}

	// Another owner's summary is keyed independently.
	rr = doAs(t, mux, "u2", http.MethodGet, "/ledger/summary", "")
	if got := rr.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("other owner's read should be a MISS, got %q", got)
	}
}

func TestSummary_InvalidatedByWrites(t *testing.T) {
	store := cache.NewInMemoryStore()
	mux, _ := newLedgerMux(t, store)

	// Prime the cache.
	rr := doAs(t, mux, "u1", http.MethodGet, "/ledger/summary", "")
	if got := rr.Header().Get("X-Cache"); got != "MISS" {
		t.Fatalf("expected MISS, got %q", got)
	}
	rr = doAs(t, mux, "u1", http.MethodGet, "/ledger/summary", "")
	if got := rr.Header().Get("X-Cache"); got != "HIT" {
		t.Fatalf("expected HIT, got %q", got)
	}

	// Each kind of write invalidates the ledger namespace.
	writes := []struct {
		target string
		body   string
	}{
		{"/ledger", `{"type":"credit","amount":100,"currency":"INR","category":"sales"}`},
		{"/invoices", `{"number":"INV-001","client_name":"Acme","amount":100,"currency":"INR","status":"draft","due_date":"2026-09-30T00:00:00Z"}`},
		{"/expenses", `{"vendor":"CloudHost","amount":100,"currency":"INR","category":"infrastructure"}`},
	}
	for _, w := range writes {
		if rr := doAs(t, mux, "u1", http.MethodPost, w.target, w.body); rr.Code != http.StatusCreated {
			t.Fatalf("write to %s failed: %d", w.target, rr.Code)
		}

		rr := doAs(t, mux, "u1", http.MethodGet, "/ledger/summary", "")
		if got := rr.Header().Get("X-Cache"); got != "MISS" {
			t.Errorf("summary after write to %s should be a MISS, got %q", w.target, got)
		}
	}
}

func TestSummary_CacheFailureDegradesToRecompute(t *testing.T) {
	mux, _ := newLedgerMux(t, &erroringCacheStore{})

	rr := doAs(t, mux, "u1", http.MethodPost, "/ledger",
		`{"type":"credit","amount":7000,"currency":"INR","category":"sales"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create failed despite broken cache: %d: %s", rr.Code, rr.Body.String())
	}

	rr = doAs(t, mux, "u1", http.MethodGet, "/ledger/summary", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("summary must survive a broken cache, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("expected MISS with broken cache, got %q", got)
	}

	var summary ledger.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to parse summary: %v", err)
	}
	if summary.Net != 7000 {
		t.Errorf("expected net 7000, got %d", summary.Net)
	}
}

// erroringCacheStore fails every operation, standing in for an unreachable
// cache backend.
type erroringCacheStore struct{}

func (s *erroringCacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("cache backend unreachable")
}

func (s *erroringCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("cache backend unreachable")
}

func (s *erroringCacheStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return false, errors.New("cache backend unreachable")
}

func (s *erroringCacheStore) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	return 0, errors.New("cache backend unreachable")
}
