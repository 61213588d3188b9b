package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
)

// fixtureFile is the on-disk layout read by SimulatedSource:
//
//	{"accounts": {"acct-1": [{"id": "tx-1", "date": "2024-03-05", "amount": "200.00", ...}]}}
type fixtureFile struct {
	Accounts map[string][]fixtureTransaction `json:"accounts"`
}

type fixtureTransaction struct {
	Payer       *fixturePayer `json:"payer,omitempty"`
	ID          string        `json:"id"`
	Date        string        `json:"date"`
	Amount      string        `json:"amount"`
	Description string        `json:"description"`
	Type        string        `json:"type"`
}

type fixturePayer struct {
	Name       string `json:"name"`
	Document   string `json:"document"`
	EndToEndID string `json:"end_to_end_id"`
}

// SimulatedSource serves deterministic transactions from a fixtures file.
// It is the bank source used in simulated mode.
type SimulatedSource struct {
	logger   *slog.Logger
	accounts map[string][]model.BankTransaction
}

// NewSimulatedSource loads fixtures from path.
func NewSimulatedSource(path string) (*SimulatedSource, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures builds a SimulatedSource from fixture JSON.
func ParseFixtures(data []byte) (*SimulatedSource, error) {
	var file fixtureFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: fixtures: %v", common.ErrInvalidConfig, err)
	}

	accounts := make(map[string][]model.BankTransaction, len(file.Accounts))
	for account, fixtures := range file.Accounts {
		txns := make([]model.BankTransaction, 0, len(fixtures))
		for i, f := range fixtures {
			tx, err := f.toTransaction(account)
			if err != nil {
				return nil, fmt.Errorf("%w: fixtures %s[%d]: %v", common.ErrInvalidConfig, account, i, err)
			}
			txns = append(txns, tx)
		}
		sort.SliceStable(txns, func(i, j int) bool { return txns[i].Date.Before(txns[j].Date) })
		accounts[account] = txns
	}

	return &SimulatedSource{
		accounts: accounts,
		logger:   slog.Default().With("component", "simulated-bank"),
	}, nil
}

func (f fixtureTransaction) toTransaction(account string) (model.BankTransaction, error) {
	date, err := time.Parse("2006-01-02", f.Date)
	if err != nil {
		return model.BankTransaction{}, fmt.Errorf("invalid date %q", f.Date)
	}
	amount, err := model.MinorUnitsFromString(f.Amount)
	if err != nil {
		return model.BankTransaction{}, err
	}

	tx := model.BankTransaction{
		ID:          f.ID,
		AccountID:   account,
		Date:        date,
		Amount:      amount,
		Description: f.Description,
		Type:        f.Type,
	}
	if f.Payer != nil {
		tx.Payer = &model.Payer{Name: f.Payer.Name, Document: f.Payer.Document, EndToEndID: f.Payer.EndToEndID}
	}
	if tx.ID == "" {
		tx.ID = tx.GenerateHash()
	}
	return tx, nil
}

// ListTransactions returns the account's fixtures dated on or after since.
func (s *SimulatedSource) ListTransactions(ctx context.Context, accountRef string, since time.Time) ([]model.BankTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fixtures, ok := s.accounts[accountRef]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrInvalidAccount, accountRef)
	}

	cutoff := since.Truncate(24 * time.Hour)
	txns := make([]model.BankTransaction, 0, len(fixtures))
	for _, tx := range fixtures {
		if tx.Date.Before(cutoff) {
			continue
		}
		txns = append(txns, tx)
	}

	s.logger.Debug("served simulated transactions", "account", accountRef, "count", len(txns))
	return txns, nil
}

var _ Source = (*SimulatedSource)(nil)
