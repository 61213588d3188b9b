package bank

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFixtures = `{
  "accounts": {
    "acct-1": [
      {"id": "tx-2", "date": "2024-03-10", "amount": "200.00", "description": "PIX RECEBIDO",
       "payer": {"name": "MARIA SILVA SANTOS", "document": "123.456.789-09", "end_to_end_id": "E123"}},
      {"id": "tx-1", "date": "2024-02-01", "amount": "150.5", "description": "PIX RECEBIDO"},
      {"date": "2024-03-11", "amount": "-35.90", "description": "TARIFA"}
    ]
  }
}`

func TestSimulatedSource_ListTransactions(t *testing.T) {
	src, err := ParseFixtures([]byte(testFixtures))
	require.NoError(t, err)

	since := time.Date(2024, time.March, 1, 15, 0, 0, 0, time.UTC)
	txns, err := src.ListTransactions(context.Background(), "acct-1", since)
	require.NoError(t, err)
	require.Len(t, txns, 2)

	assert.Equal(t, "tx-2", txns[0].ID)
	assert.Equal(t, int64(20000), txns[0].Amount)
	assert.True(t, txns[0].IsIncoming())
	assert.Equal(t, "MARIA SILVA SANTOS", txns[0].SenderName())
	assert.Equal(t, "E123", txns[0].SettlementRef())

	assert.Equal(t, int64(-3590), txns[1].Amount)
	assert.False(t, txns[1].IsIncoming())
	assert.Equal(t, txns[1].GenerateHash(), txns[1].ID, "missing ids fall back to the content hash")

	// Same input, same output.
	again, err := src.ListTransactions(context.Background(), "acct-1", since)
	require.NoError(t, err)
	assert.Equal(t, txns, again)
}

func TestSimulatedSource_UnknownAccount(t *testing.T) {
	src, err := ParseFixtures([]byte(testFixtures))
	require.NoError(t, err)

	_, err = src.ListTransactions(context.Background(), "nope", time.Time{})
	assert.ErrorIs(t, err, common.ErrInvalidAccount)
}

func TestParseFixtures_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `{`},
		{name: "bad date", data: `{"accounts": {"a": [{"id": "x", "date": "03/10/2024", "amount": "1"}]}}`},
		{name: "bad amount", data: `{"accounts": {"a": [{"id": "x", "date": "2024-03-10", "amount": "abc"}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFixtures([]byte(tt.data))
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestRouter_Dispatch(t *testing.T) {
	plaidSrc := NewMockSource()
	plaidSrc.ListTransactionsFn = func(_ context.Context, ref string, _ time.Time) ([]model.BankTransaction, error) {
		return []model.BankTransaction{{ID: "p-1", AccountID: ref, Amount: 100}}, nil
	}
	failing := NewMockSource()
	failing.ListTransactionsFn = func(context.Context, string, time.Time) ([]model.BankTransaction, error) {
		return nil, common.ErrProviderFailure
	}

	router := NewRouter()
	router.Register(model.ProviderPlaid, plaidSrc)
	router.Register(model.ProviderOFX, failing)
	assert.ElementsMatch(t, []model.Provider{model.ProviderPlaid, model.ProviderOFX}, router.Providers())

	since := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	txns, err := router.ListTransactions(context.Background(),
		model.BankConnection{ID: "c1", Provider: model.ProviderPlaid, ProviderAccountID: "token-1"}, since)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "token-1", txns[0].AccountID)
	require.Len(t, plaidSrc.Calls(), 1)
	assert.Equal(t, since, plaidSrc.Calls()[0].Since)

	_, err = router.ListTransactions(context.Background(),
		model.BankConnection{ID: "c2", Provider: model.ProviderOFX, ProviderAccountID: "x"}, since)
	assert.True(t, errors.Is(err, common.ErrProviderFailure))

	_, err = router.ListTransactions(context.Background(),
		model.BankConnection{ID: "c3", Provider: model.ProviderSimulated}, since)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}
