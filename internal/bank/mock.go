package bank

import (
	"context"
	"sync"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/model"
)

// MockSource is a Source for tests.
type MockSource struct {
	// ListTransactionsFn controls behavior; the default returns no transactions.
	ListTransactionsFn func(ctx context.Context, accountRef string, since time.Time) ([]model.BankTransaction, error)

	calls []ListTransactionsCall
	mu    sync.Mutex
}

// ListTransactionsCall records the parameters of a ListTransactions call.
type ListTransactionsCall struct {
	Since      time.Time
	AccountRef string
}

// NewMockSource creates a new mock source.
func NewMockSource() *MockSource {
	return &MockSource{}
}

// ListTransactions implements Source.
func (m *MockSource) ListTransactions(ctx context.Context, accountRef string, since time.Time) ([]model.BankTransaction, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ListTransactionsCall{AccountRef: accountRef, Since: since})
	fn := m.ListTransactionsFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, accountRef, since)
	}
	return []model.BankTransaction{}, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockSource) Calls() []ListTransactionsCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ListTransactionsCall(nil), m.calls...)
}

// Reset clears all call tracking.
func (m *MockSource) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ Source = (*MockSource)(nil)
