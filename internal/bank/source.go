// Package bank defines the bank-aggregation source contract and routes
// connections to the adapter registered for their provider.
package bank

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
)

// Source lists transactions reported for one linked account.
// accountRef is the provider-specific handle stored on the connection.
type Source interface {
	ListTransactions(ctx context.Context, accountRef string, since time.Time) ([]model.BankTransaction, error)
}

// Router dispatches a connection to the source registered for its provider.
type Router struct {
	sources map[model.Provider]Source
	mu      sync.RWMutex
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{sources: make(map[model.Provider]Source)}
}

// Register binds a provider to a source, replacing any previous binding.
func (r *Router) Register(provider model.Provider, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[provider] = src
}

// Providers returns the registered providers.
func (r *Router) Providers() []model.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]model.Provider, 0, len(r.sources))
	for p := range r.sources {
		providers = append(providers, p)
	}
	return providers
}

// ListTransactions fetches transactions for conn from its provider's source.
func (r *Router) ListTransactions(ctx context.Context, conn model.BankConnection, since time.Time) ([]model.BankTransaction, error) {
	r.mu.RLock()
	src, ok := r.sources[conn.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no source registered for provider %q", common.ErrInvalidConfig, conn.Provider)
	}

	txns, err := src.ListTransactions(ctx, conn.ProviderAccountID, since)
	if err != nil {
		return nil, fmt.Errorf("%s connection %s: %w", conn.Provider, conn.ID, err)
	}
	return txns, nil
}
