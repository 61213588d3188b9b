// Package simplefin provides a bank source backed by a SimpleFIN Bridge.
// The connection's provider account id is the claimed access URL.
package simplefin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/bank"
	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/service"
)

type accountSet struct {
	Errors   []string  `json:"errors"`
	Accounts []account `json:"accounts"`
}

type account struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Currency     string        `json:"currency"`
	Transactions []transaction `json:"transactions"`
}

type transaction struct {
	ID          string `json:"id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Payee       string `json:"payee"`
	Posted      int64  `json:"posted"`
	Pending     bool   `json:"pending"`
}

// Client lists transactions from SimpleFIN access URLs.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	retryOpts  service.RetryOptions
}

// NewClient creates a client using httpClient, or a default one when nil.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		logger:     slog.Default().With("component", "simplefin"),
		retryOpts:  common.DefaultRetryOptions(),
	}
}

// ClaimAccessURL exchanges a one-time setup token for an access URL.
// Setup tokens are base64-encoded claim URLs.
func (c *Client) ClaimAccessURL(ctx context.Context, setupToken string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(strings.TrimSpace(setupToken))
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(strings.TrimSpace(setupToken))
		if err != nil {
			return "", fmt.Errorf("%w: setup token is not base64: %v", common.ErrInvalidAccount, err)
		}
	}
	claimURL := string(decoded)
	if !isHTTPURL(claimURL) {
		return "", fmt.Errorf("%w: setup token does not decode to a URL", common.ErrInvalidAccount)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claimURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create claim request: %w", err)
	}
	// Claims are single use, so a failed claim is never retried.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: failed to claim access URL: %w", common.ErrProviderFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read access URL: %w", common.ErrProviderFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: claim returned %d: %s", common.ErrProviderFailure, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	accessURL := strings.TrimSpace(string(body))
	if !isHTTPURL(accessURL) {
		return "", fmt.Errorf("%w: claim returned an invalid access URL", common.ErrProviderFailure)
	}
	c.logger.Info("claimed SimpleFIN access URL")
	return accessURL, nil
}

// ListTransactions fetches posted transactions since the given time across
// every account behind accessURL. Pending transactions are skipped.
func (c *Client) ListTransactions(ctx context.Context, accessURL string, since time.Time) ([]model.BankTransaction, error) {
	if !isHTTPURL(accessURL) {
		return nil, fmt.Errorf("%w: invalid SimpleFIN access URL", common.ErrInvalidAccount)
	}

	u, err := url.Parse(strings.TrimSuffix(accessURL, "/") + "/accounts")
	if err != nil {
		return nil, fmt.Errorf("%w: invalid SimpleFIN access URL: %v", common.ErrInvalidAccount, err)
	}
	q := u.Query()
	q.Set("start-date", strconv.FormatInt(since.Unix(), 10))
	u.RawQuery = q.Encode()

	var set accountSet
	err = common.WithRetry(ctx, func() error {
		set = accountSet{}
		return c.fetch(ctx, u.String(), &set)
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}
	for _, msg := range set.Errors {
		c.logger.Warn("bridge reported an error", "message", msg)
	}

	var transactions []model.BankTransaction
	for _, acct := range set.Accounts {
		for _, tx := range acct.Transactions {
			if tx.Pending {
				continue
			}
			posted := time.Unix(tx.Posted, 0).UTC()
			if posted.Before(since) {
				continue
			}
			amount, err := model.MinorUnitsFromString(tx.Amount)
			if err != nil {
				return nil, fmt.Errorf("%w: transaction %s has invalid amount %q", common.ErrProviderFailure, tx.ID, tx.Amount)
			}

			bt := model.BankTransaction{
				ID:          acct.ID + "_" + tx.ID,
				AccountID:   acct.ID,
				Date:        posted,
				Amount:      amount,
				Description: tx.Description,
			}
			if payee := strings.TrimSpace(tx.Payee); payee != "" {
				bt.Payer = &model.Payer{Name: payee}
			}
			transactions = append(transactions, bt)
		}
	}

	c.logger.Debug("fetched transactions", "accounts", len(set.Accounts), "count", len(transactions))
	return transactions, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string, out *accountSet) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &common.RetryableError{Err: fmt.Errorf("failed to create request: %w", err), Retryable: false}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrProviderFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &common.RetryableError{Err: fmt.Errorf("%w: simplefin", common.ErrRateLimit), Retryable: true}
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: simplefin returned %d", common.ErrProviderFailure, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: simplefin returned %d: %s", common.ErrProviderFailure, resp.StatusCode, strings.TrimSpace(string(body))),
			Retryable: false,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &common.RetryableError{Err: fmt.Errorf("%w: failed to decode accounts: %w", common.ErrProviderFailure, err), Retryable: false}
	}
	return nil
}

func isHTTPURL(raw string) bool {
	return strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "http://")
}

var _ bank.Source = (*Client)(nil)
