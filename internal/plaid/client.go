// Package plaid provides the live bank source backed by the Plaid API.
package plaid

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/bank"
	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/service"
	"github.com/plaid/plaid-go/v20/plaid"
)

// Config holds Plaid API configuration.
type Config struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: plaid client ID is required", common.ErrMissingConfig)
	}
	if c.Secret == "" {
		return fmt.Errorf("%w: plaid secret is required", common.ErrMissingConfig)
	}
	if c.Environment == "" {
		return fmt.Errorf("%w: plaid environment is required", common.ErrMissingConfig)
	}

	validEnvs := map[string]bool{
		"sandbox":    true,
		"production": true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("%w: plaid environment must be sandbox or production", common.ErrInvalidConfig)
	}

	return nil
}

// Client lists transactions for a Plaid item. The connection's provider
// account id is the item's access token.
type Client struct {
	client      *plaid.APIClient
	logger      *slog.Logger
	retryOpts   service.RetryOptions
	environment string
}

// NewClient creates a new Plaid client with the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)

	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	return &Client{
		client:      plaid.NewAPIClient(configuration),
		environment: cfg.Environment,
		logger:      slog.Default().With("component", "plaid"),
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

// ListTransactions fetches transactions posted since the given time.
func (c *Client) ListTransactions(ctx context.Context, accessToken string, since time.Time) ([]model.BankTransaction, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("%w: empty plaid access token", common.ErrInvalidAccount)
	}

	startDate := since.Format("2006-01-02")
	endDate := time.Now().Format("2006-01-02")

	var allTransactions []plaid.Transaction
	offset := int32(0)
	const pageSize = int32(500) // Plaid's max page size

	for {
		var page []plaid.Transaction
		var total int32

		retryErr := common.WithRetry(ctx, func() error {
			request := plaid.NewTransactionsGetRequest(accessToken, startDate, endDate)
			request.SetOptions(plaid.TransactionsGetRequestOptions{
				Count:  plaid.PtrInt32(pageSize),
				Offset: plaid.PtrInt32(offset),
			})

			resp, _, err := c.client.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*request).Execute()
			if err != nil {
				return c.classifyError(err, "failed to fetch transactions")
			}

			page = resp.GetTransactions()
			total = resp.GetTotalTransactions()
			return nil
		}, c.retryOpts)
		if retryErr != nil {
			return nil, retryErr
		}

		allTransactions = append(allTransactions, page...)
		c.logger.Debug("fetched transaction batch", "count", len(page), "offset", offset, "total", total)

		if len(page) < int(pageSize) || int32(len(allTransactions)) >= total {
			break
		}
		offset += pageSize
	}

	transactions := make([]model.BankTransaction, 0, len(allTransactions))
	for _, pt := range allTransactions {
		transactions = append(transactions, c.mapPlaidTransaction(pt))
	}
	return transactions, nil
}

// classifyError turns rate limits into retryable errors and everything else
// into provider failures that WithRetry will not repeat.
func (c *Client) classifyError(err error, msg string) error {
	if plaidError := extractPlaidError(err); plaidError != nil {
		if plaidError.ErrorCode == "RATE_LIMIT_EXCEEDED" {
			c.logger.Warn("rate limit hit, will retry", "error", plaidError.ErrorMessage)
			return &common.RetryableError{Err: fmt.Errorf("%w: %s", common.ErrPlaidRateLimit, plaidError.ErrorMessage), Retryable: true}
		}
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: plaid API error: %s - %s", common.ErrProviderFailure, plaidError.ErrorCode, plaidError.ErrorMessage),
			Retryable: false,
		}
	}
	return fmt.Errorf("%w: %s: %w", common.ErrProviderFailure, msg, err)
}

// mapPlaidTransaction converts a Plaid transaction to our internal model.
// Plaid reports money leaving the account as positive amounts, so the sign is flipped.
func (c *Client) mapPlaidTransaction(pt plaid.Transaction) model.BankTransaction {
	date, err := time.Parse("2006-01-02", pt.GetDate())
	if err != nil {
		c.logger.Error("failed to parse transaction date", "transaction_id", pt.GetTransactionId(), "error", err)
		date = time.Now()
	}

	meta := pt.GetPaymentMeta()
	payerName := meta.GetPayer()
	if payerName == "" {
		payerName = meta.GetByOrderOf()
	}

	tx := model.BankTransaction{
		ID:          pt.GetTransactionId(),
		AccountID:   pt.GetAccountId(),
		Date:        date,
		Amount:      -model.MinorUnitsFromFloat(pt.GetAmount()),
		Description: pt.GetName(),
		Type:        pt.GetPaymentChannel(),
	}
	if payerName != "" || meta.GetReferenceNumber() != "" {
		tx.Payer = &model.Payer{
			Name:       payerName,
			EndToEndID: meta.GetReferenceNumber(),
		}
	}
	if tx.ID == "" {
		tx.ID = tx.GenerateHash()
	}
	return tx
}

// extractPlaidError attempts to extract a Plaid error from a generic error.
func extractPlaidError(err error) *plaid.PlaidError {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return nil
	}
	return &plaidErr
}

// CreateLinkToken creates a Link token so a therapist can link an account.
func (c *Client) CreateLinkToken(ctx context.Context, therapistID string) (string, error) {
	user := plaid.LinkTokenCreateRequestUser{
		ClientUserId: "fees-" + therapistID,
	}

	request := plaid.NewLinkTokenCreateRequest(
		"Fees",
		"en",
		[]plaid.CountryCode{plaid.COUNTRYCODE_US},
		user,
	)
	request.SetProducts([]plaid.Products{plaid.PRODUCTS_TRANSACTIONS})

	// OAuth banks require a redirect URI in production.
	if c.environment == "production" {
		request.SetRedirectUri("https://localhost:8080/")
	}

	resp, _, err := c.client.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*request).Execute()
	if err != nil {
		return "", c.classifyError(err, "failed to create link token")
	}
	return resp.GetLinkToken(), nil
}

// ExchangePublicToken exchanges a public token from Link for an access token.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error) {
	request := plaid.NewItemPublicTokenExchangeRequest(publicToken)
	resp, _, err := c.client.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*request).Execute()
	if err != nil {
		return "", "", c.classifyError(err, "failed to exchange public token")
	}
	return resp.GetAccessToken(), resp.GetItemId(), nil
}

var _ bank.Source = (*Client)(nil)
