package plaid

import (
	"context"
	"sync"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/bank"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
)

// MockClient is a mock implementation of Client for testing.
type MockClient struct {
	// Functions that can be set by tests to control behavior
	ListTransactionsFn    func(ctx context.Context, accessToken string, since time.Time) ([]model.BankTransaction, error)
	CreateLinkTokenFn     func(ctx context.Context, therapistID string) (string, error)
	ExchangePublicTokenFn func(ctx context.Context, publicToken string) (string, string, error)

	// Call tracking
	ListTransactionsCalls    []ListTransactionsCall
	ExchangePublicTokenCalls []string
	mu                       sync.Mutex
}

// ListTransactionsCall records the parameters of a ListTransactions call.
type ListTransactionsCall struct {
	Since       time.Time
	AccessToken string
}

// NewMockClient creates a new mock Plaid client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// ListTransactions implements bank.Source.
func (m *MockClient) ListTransactions(ctx context.Context, accessToken string, since time.Time) ([]model.BankTransaction, error) {
	m.mu.Lock()
	m.ListTransactionsCalls = append(m.ListTransactionsCalls, ListTransactionsCall{AccessToken: accessToken, Since: since})
	m.mu.Unlock()

	if m.ListTransactionsFn != nil {
		return m.ListTransactionsFn(ctx, accessToken, since)
	}
	return []model.BankTransaction{}, nil
}

// CreateLinkToken implements Linker.
func (m *MockClient) CreateLinkToken(ctx context.Context, therapistID string) (string, error) {
	if m.CreateLinkTokenFn != nil {
		return m.CreateLinkTokenFn(ctx, therapistID)
	}
	return "link-sandbox-" + therapistID, nil
}

// ExchangePublicToken implements Linker.
func (m *MockClient) ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error) {
	m.mu.Lock()
	m.ExchangePublicTokenCalls = append(m.ExchangePublicTokenCalls, publicToken)
	m.mu.Unlock()

	if m.ExchangePublicTokenFn != nil {
		return m.ExchangePublicTokenFn(ctx, publicToken)
	}
	return "access-" + publicToken, "item-" + publicToken, nil
}

// Reset clears all call tracking.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListTransactionsCalls = nil
	m.ExchangePublicTokenCalls = nil
}

var (
	_ bank.Source = (*MockClient)(nil)
	_ Linker      = (*MockClient)(nil)
)
