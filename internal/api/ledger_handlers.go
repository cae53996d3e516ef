package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/arthahq/artha/internal/cache"
	"github.com/arthahq/artha/internal/ledger"
	"github.com/arthahq/artha/internal/middleware"
)

// CreateEntryRequest represents the request body for creating a ledger entry.
type CreateEntryRequest struct {
	Type        string    `json:"type"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	OccurredAt  time.Time `json:"occurred_at,omitempty"`
}

// CreateInvoiceRequest represents the request body for creating an invoice.
type CreateInvoiceRequest struct {
	Number     string    `json:"number"`
	ClientName string    `json:"client_name"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	DueDate    time.Time `json:"due_date"`
}

// CreateExpenseRequest represents the request body for creating an expense.
type CreateExpenseRequest struct {
	Vendor     string    `json:"vendor"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Category   string    `json:"category"`
	IncurredAt time.Time `json:"incurred_at,omitempty"`
}

// LedgerHandlers holds dependencies for the financial record HTTP handlers.
type LedgerHandlers struct {
	store  ledger.Store
	cache  cache.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewLedgerHandlers creates a new LedgerHandlers instance. cacheTTL bounds
// the lifetime of the cached summary; zero falls back to cache.DefaultTTL.
func NewLedgerHandlers(store ledger.Store, cacheStore cache.Store, cacheTTL time.Duration, logger *slog.Logger) *LedgerHandlers {
	if cacheTTL <= 0 {
		cacheTTL = cache.DefaultTTL
	}
	return &LedgerHandlers{
		store:  store,
		cache:  cacheStore,
		ttl:    cacheTTL,
		logger: logger,
	}
}

// CreateEntry handles POST /ledger - records a credit or debit.
func (h *LedgerHandlers) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	entry := &ledger.Entry{
		OwnerID:     middleware.GetUserID(r.Context()),
		Type:        req.Type,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Category:    req.Category,
		Description: req.Description,
		OccurredAt:  req.OccurredAt,
	}

	if err := h.store.CreateEntry(r.Context(), entry); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	h.invalidate(r, "ledger")
	h.writeJSON(w, r, http.StatusCreated, entry)
}

// ListEntries handles GET /ledger - lists the caller's entries.
func (h *LedgerHandlers) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ListEntries(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"entries": entries})
}

// GetEntry handles GET /ledger/{id} - fetches a single entry.
func (h *LedgerHandlers) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.GetEntry(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Entry not found")
			return
		}
		h.writeStoreError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, entry)
}

// Summary handles GET /ledger/summary - the aggregate financial position.
//
// The summary is the expensive read the response cache exists for: it is
// served read-through from the cache under the caller's summary key and
// recomputed only on a miss. Cache failures degrade to recomputation.
func (h *LedgerHandlers) Summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetUserID(ctx)
	key := cache.Key("ledger", "summary", "user", ownerID)

	if cached, err := h.cache.Get(ctx, key); err == nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Cache", "HIT")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(cached)
		return
	} else if !errors.Is(err, cache.ErrMiss) && h.logger != nil {
		h.logger.WarnContext(ctx, "summary cache read failed, recomputing", "key", key, "error", err)
	}

	summary, err := h.store.Summarize(ctx, ownerID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	data, err := json.Marshal(summary)
	if err != nil {
		ctx := middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to encode summary")
		return
	}

	if err := h.cache.Set(ctx, key, data, h.ttl); err != nil && h.logger != nil {
		h.logger.WarnContext(ctx, "summary cache write failed", "key", key, "error", err)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// CreateInvoice handles POST /invoices.
func (h *LedgerHandlers) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if req.Status == "" {
		req.Status = ledger.InvoiceStatusDraft
	}

	invoice := &ledger.Invoice{
		OwnerID:    middleware.GetUserID(r.Context()),
		Number:     req.Number,
		ClientName: req.ClientName,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Status:     req.Status,
		DueDate:    req.DueDate,
	}

	if err := h.store.CreateInvoice(r.Context(), invoice); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	// Invoices feed the summary, so the ledger namespace goes too.
	h.invalidate(r, "invoices")
	h.invalidate(r, "ledger")
	h.writeJSON(w, r, http.StatusCreated, invoice)
}

// ListInvoices handles GET /invoices.
func (h *LedgerHandlers) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.store.ListInvoices(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"invoices": invoices})
}

// CreateExpense handles POST /expenses.
func (h *LedgerHandlers) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req CreateExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	expense := &ledger.Expense{
		OwnerID:    middleware.GetUserID(r.Context()),
		Vendor:     req.Vendor,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Category:   req.Category,
		IncurredAt: req.IncurredAt,
	}

	if err := h.store.CreateExpense(r.Context(), expense); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	h.invalidate(r, "expenses")
	h.invalidate(r, "ledger")
	h.writeJSON(w, r, http.StatusCreated, expense)
}

// ListExpenses handles GET /expenses.
func (h *LedgerHandlers) ListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.store.ListExpenses(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"expenses": expenses})
}

// invalidate drops every cache entry in the domain's namespace after a
// successful write. Failures are logged and otherwise ignored: stale entries
// age out at TTL.
func (h *LedgerHandlers) invalidate(r *http.Request, domain string) {
	removed, err := cache.InvalidateNamespace(r.Context(), h.cache, domain)
	if err != nil {
		if h.logger != nil {
			h.logger.WarnContext(r.Context(), "cache invalidation failed", "domain", domain, "error", err)
		}
		return
	}
	if removed > 0 && h.logger != nil {
		h.logger.DebugContext(r.Context(), "cache namespace invalidated", "domain", domain, "removed", removed)
	}
}

// writeStoreError maps domain validation errors to 400s and everything else
// to a 500.
func (h *LedgerHandlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidEntryType),
		errors.Is(err, ledger.ErrInvalidInvoiceStatus),
		errors.Is(err, ledger.ErrMissingField):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
	}
}

func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && h.logger != nil {
		h.logger.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
