package plaid

import "context"

// Linker turns a Plaid Link session into an access token that is stored as
// the connection's provider account id.
type Linker interface {
	CreateLinkToken(ctx context.Context, therapistID string) (string, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (accessToken, itemID string, err error)
}

var _ Linker = (*Client)(nil)
