package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists financial records. All reads and writes are scoped to an
// owner; no operation can observe another owner's records.
type Store interface {
	CreateEntry(ctx context.Context, entry *Entry) error
	GetEntry(ctx context.Context, ownerID, id string) (*Entry, error)
	ListEntries(ctx context.Context, ownerID string) ([]*Entry, error)

	CreateInvoice(ctx context.Context, invoice *Invoice) error
	ListInvoices(ctx context.Context, ownerID string) ([]*Invoice, error)

	CreateExpense(ctx context.Context, expense *Expense) error
	ListExpenses(ctx context.Context, ownerID string) ([]*Expense, error)

	// Summarize walks every record the owner has. It is deliberately
	// unindexed; callers front it with the response cache.
	Summarize(ctx context.Context, ownerID string) (*Summary, error)
}

// InMemoryStore is an in-memory implementation of Store for development and
// testing. Safe for concurrent use.
type InMemoryStore struct {
	mu       sync.RWMutex
	entries  map[string][]*Entry
	invoices map[string][]*Invoice
	expenses map[string][]*Expense
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries:  make(map[string][]*Entry),
		invoices: make(map[string][]*Invoice),
		expenses: make(map[string][]*Expense),
	}
}

// CreateEntry stores a new ledger entry, assigning its ID and creation time.
func (s *InMemoryStore) CreateEntry(_ context.Context, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = entry.CreatedAt
	}
	stored := *entry
	s.entries[entry.OwnerID] = append(s.entries[entry.OwnerID], &stored)
	return nil
}

// GetEntry returns the owner's entry with the given ID, or ErrNotFound.
func (s *InMemoryStore) GetEntry(_ context.Context, ownerID, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.entries[ownerID] {
		if entry.ID == id {
			found := *entry
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// ListEntries returns all of the owner's entries in insertion order.
func (s *InMemoryStore) ListEntries(_ context.Context, ownerID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*Entry, 0, len(s.entries[ownerID]))
	for _, entry := range s.entries[ownerID] {
		found := *entry
		entries = append(entries, &found)
	}
	return entries, nil
}

// CreateInvoice stores a new invoice, assigning its ID and creation time.
func (s *InMemoryStore) CreateInvoice(_ context.Context, invoice *Invoice) error {
	if err := invoice.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice.ID = uuid.New().String()
	invoice.CreatedAt = time.Now()
	stored := *invoice
	s.invoices[invoice.OwnerID] = append(s.invoices[invoice.OwnerID], &stored)
	return nil
}

// ListInvoices returns all of the owner's invoices in insertion order.
func (s *InMemoryStore) ListInvoices(_ context.Context, ownerID string) ([]*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoices := make([]*Invoice, 0, len(s.invoices[ownerID]))
	for _, invoice := range s.invoices[ownerID] {
		found := *invoice
		invoices = append(invoices, &found)
	}
	return invoices, nil
}

// CreateExpense stores a new expense, assigning its ID and creation time.
func (s *InMemoryStore) CreateExpense(_ context.Context, expense *Expense) error {
	if err := expense.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	expense.ID = uuid.New().String()
	expense.CreatedAt = time.Now()
	if expense.IncurredAt.IsZero() {
		expense.IncurredAt = expense.CreatedAt
	}
	stored := *expense
	s.expenses[expense.OwnerID] = append(s.expenses[expense.OwnerID], &stored)
	return nil
}

// ListExpenses returns all of the owner's expenses in insertion order.
func (s *InMemoryStore) ListExpenses(_ context.Context, ownerID string) ([]*Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]*Expense, 0, len(s.expenses[ownerID]))
	for _, expense := range s.expenses[ownerID] {
		found := *expense
		expenses = append(expenses, &found)
	}
	return expenses, nil
}

// Summarize aggregates the owner's entries, invoices, and expenses.
func (s *InMemoryStore) Summarize(_ context.Context, ownerID string) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &Summary{
		OwnerID:     ownerID,
		GeneratedAt: time.Now(),
	}

	for _, entry := range s.entries[ownerID] {
		summary.EntryCount++
		if entry.Type == EntryTypeCredit {
			summary.TotalCredits += entry.Amount
		} else {
			summary.TotalDebits += entry.Amount
		}
	}
	summary.Net = summary.TotalCredits - summary.TotalDebits

	for _, invoice := range s.invoices[ownerID] {
		summary.InvoiceTotal += invoice.Amount
		if invoice.Status != InvoiceStatusPaid {
			summary.OutstandingInvoices++
		}
	}

	for _, expense := range s.expenses[ownerID] {
		summary.ExpenseCount++
		summary.ExpenseTotal += expense.Amount
	}

	return summary, nil
}
