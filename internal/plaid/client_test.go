package plaid

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		wantErr error
		config  Config
		name    string
	}{
		{
			name:   "valid config",
			config: Config{ClientID: "test-client-id", Secret: "test-secret", Environment: "sandbox"},
		},
		{
			name:    "missing client ID",
			config:  Config{Secret: "test-secret", Environment: "sandbox"},
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "missing secret",
			config:  Config{ClientID: "test-client-id", Environment: "sandbox"},
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "missing environment",
			config:  Config{ClientID: "test-client-id", Secret: "test-secret"},
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "invalid environment",
			config:  Config{ClientID: "test-client-id", Secret: "test-secret", Environment: "development"},
			wantErr: common.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewClient(t *testing.T) {
	client, err := NewClient(Config{ClientID: "id", Secret: "secret", Environment: "sandbox"})
	require.NoError(t, err)
	assert.NotNil(t, client.client)
	assert.NotNil(t, client.logger)
	assert.Equal(t, 3, client.retryOpts.MaxAttempts)

	_, err = NewClient(Config{ClientID: "id"})
	assert.Error(t, err)
}

func TestClient_ListTransactions_Validation(t *testing.T) {
	client := &Client{logger: slog.Default().With("component", "plaid-test")}

	//nolint:staticcheck // nil context is the case under test
	_, err := client.ListTransactions(nil, "token", time.Now())
	assert.ErrorContains(t, err, "context cannot be nil")

	_, err = client.ListTransactions(context.Background(), "", time.Now())
	assert.ErrorIs(t, err, common.ErrInvalidAccount)
}

func TestMapPlaidTransaction(t *testing.T) {
	client := &Client{logger: slog.Default().With("component", "plaid-test")}

	meta := plaid.PaymentMeta{}
	meta.SetPayer("MARIA SILVA")
	meta.SetReferenceNumber("E2E-123")

	var credit plaid.Transaction
	credit.SetTransactionId("txn-1")
	credit.SetAccountId("acct-1")
	credit.SetDate("2024-03-05")
	credit.SetName("TRANSFER FROM MARIA SILVA")
	credit.SetAmount(-200.00)
	credit.SetPaymentMeta(meta)

	tx := client.mapPlaidTransaction(credit)
	assert.Equal(t, "txn-1", tx.ID)
	assert.Equal(t, "acct-1", tx.AccountID)
	assert.Equal(t, int64(20000), tx.Amount)
	assert.True(t, tx.IsIncoming())
	assert.Equal(t, time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC), tx.Date)
	assert.Equal(t, "MARIA SILVA", tx.SenderName())
	assert.Equal(t, "E2E-123", tx.SettlementRef())

	var debit plaid.Transaction
	debit.SetTransactionId("txn-2")
	debit.SetDate("2024-03-06")
	debit.SetName("COFFEE")
	debit.SetAmount(4.35)

	tx = client.mapPlaidTransaction(debit)
	assert.Equal(t, int64(-435), tx.Amount)
	assert.False(t, tx.IsIncoming())
	assert.Nil(t, tx.Payer)
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient()
	since := time.Now().AddDate(0, 0, -30)

	expected := []model.BankTransaction{{ID: "tx1", Amount: 1050}}
	mock.ListTransactionsFn = func(_ context.Context, _ string, _ time.Time) ([]model.BankTransaction, error) {
		return expected, nil
	}

	txs, err := mock.ListTransactions(context.Background(), "token", since)
	require.NoError(t, err)
	assert.Equal(t, expected, txs)
	require.Len(t, mock.ListTransactionsCalls, 1)
	assert.Equal(t, "token", mock.ListTransactionsCalls[0].AccessToken)
	assert.Equal(t, since, mock.ListTransactionsCalls[0].Since)

	access, item, err := mock.ExchangePublicToken(context.Background(), "public-1")
	require.NoError(t, err)
	assert.Equal(t, "access-public-1", access)
	assert.Equal(t, "item-public-1", item)

	mock.Reset()
	assert.Empty(t, mock.ListTransactionsCalls)
	assert.Empty(t, mock.ExchangePublicTokenCalls)
}
