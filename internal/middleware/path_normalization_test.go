package middleware

import (
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		// Static routes - no normalization
		{
			name:     "root path",
			path:     "/",
			expected: "/",
		},
		{
			name:     "ledger collection",
			path:     "/ledger",
			expected: "/ledger",
		},
		{
			name:     "ledger summary",
			path:     "/ledger/summary",
			expected: "/ledger/summary",
		},
		{
			name:     "invoices collection",
			path:     "/invoices",
			expected: "/invoices",
		},
		{
			name:     "expenses collection",
			path:     "/expenses",
			expected: "/expenses",
		},
		{
			name:     "health endpoint",
			path:     "/health",
			expected: "/health",
		},
		{
			name:     "ready endpoint",
			path:     "/ready",
			expected: "/ready",
		},
		{
			name:     "metrics endpoint",
			path:     "/metrics",
			expected: "/metrics",
		},

		// Entity-by-id patterns
		{
			name:     "ledger entry by id",
			path:     "/ledger/123",
			expected: "/ledger/{id}",
		},
		{
			name:     "ledger entry by uuid",
			path:     "/ledger/550e8400-e29b-41d4-a716-446655440000",
			expected: "/ledger/{id}",
		},
		{
			name:     "invoice by id",
			path:     "/invoices/42",
			expected: "/invoices/{id}",
		},
		{
			name:     "expense by id",
			path:     "/expenses/abc",
			expected: "/expenses/{id}",
		},

		// Summary wins over the id pattern
		{
			name:     "summary is not an id",
			path:     "/ledger/summary",
			expected: "/ledger/summary",
		},

		// Unknown paths pass through untouched
		{
			name:     "unknown path",
			path:     "/unknown/route",
			expected: "/unknown/route",
		},
		{
			name:     "deeply nested path",
			path:     "/ledger/123/audit",
			expected: "/ledger/123/audit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizePath(tt.path)
			if got != tt.expected {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}
