// Package ledger holds the financial records the API keeps: ledger entries,
// invoices, and expenses, all scoped to the owning user. Amounts are stored
// in minor currency units (paise, cents) as integers; the package never does
// floating-point money arithmetic.
package ledger

import (
	"errors"
	"time"
)

// Entry types.
const (
	EntryTypeCredit = "credit"
	EntryTypeDebit  = "debit"
)

// Invoice status values.
const (
	InvoiceStatusDraft = "draft"
	InvoiceStatusSent  = "sent"
	InvoiceStatusPaid  = "paid"
)

var (
	// ErrNotFound is returned when a record does not exist for the owner.
	ErrNotFound = errors.New("ledger: record not found")

	// ErrInvalidAmount is returned when an amount is zero or negative.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInvalidEntryType is returned when an entry type is neither credit
	// nor debit.
	ErrInvalidEntryType = errors.New("ledger: entry type must be credit or debit")

	// ErrInvalidInvoiceStatus is returned for unknown invoice statuses.
	ErrInvalidInvoiceStatus = errors.New("ledger: invalid invoice status")

	// ErrMissingField is returned when a required field is empty.
	ErrMissingField = errors.New("ledger: required field is missing")
)

// Entry is a single credit or debit against the owner's ledger.
type Entry struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Type        string    `json:"type"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the entry's client-supplied fields.
func (e *Entry) Validate() error {
	if e.Type != EntryTypeCredit && e.Type != EntryTypeDebit {
		return ErrInvalidEntryType
	}
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}
	if e.Currency == "" || e.Category == "" {
		return ErrMissingField
	}
	return nil
}

// Invoice is a bill issued to a client.
type Invoice struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Number     string    `json:"number"`
	ClientName string    `json:"client_name"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	DueDate    time.Time `json:"due_date"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks the invoice's client-supplied fields.
func (i *Invoice) Validate() error {
	if i.Amount <= 0 {
		return ErrInvalidAmount
	}
	if i.Number == "" || i.ClientName == "" || i.Currency == "" {
		return ErrMissingField
	}
	switch i.Status {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid:
		return nil
	}
	return ErrInvalidInvoiceStatus
}

// Expense is money paid out to a vendor.
type Expense struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Vendor     string    `json:"vendor"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Category   string    `json:"category"`
	IncurredAt time.Time `json:"incurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks the expense's client-supplied fields.
func (e *Expense) Validate() error {
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}
	if e.Vendor == "" || e.Currency == "" || e.Category == "" {
		return ErrMissingField
	}
	return nil
}

// Summary aggregates an owner's financial position. It is the expensive read
// the response cache exists for.
type Summary struct {
	OwnerID             string    `json:"owner_id"`
	TotalCredits        int64     `json:"total_credits"`
	TotalDebits         int64     `json:"total_debits"`
	Net                 int64     `json:"net"`
	EntryCount          int       `json:"entry_count"`
	InvoiceTotal        int64     `json:"invoice_total"`
	OutstandingInvoices int       `json:"outstanding_invoices"`
	ExpenseTotal        int64     `json:"expense_total"`
	ExpenseCount        int       `json:"expense_count"`
	GeneratedAt         time.Time `json:"generated_at"`
}
