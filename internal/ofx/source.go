package ofx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/bank"
	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
)

// Source serves statement files as a bank source. The connection's provider
// account id is a path to one statement or to a directory of statements.
type Source struct {
	parser *Parser
}

// NewSource creates a statement-file bank source.
func NewSource() *Source {
	return &Source{parser: NewParser()}
}

// ListTransactions parses every statement under path and returns the
// transactions posted on or after since. Overlapping statements are
// de-duplicated by transaction id.
func (s *Source) ListTransactions(ctx context.Context, path string, since time.Time) ([]model.BankTransaction, error) {
	files, err := statementFiles(path)
	if err != nil {
		return nil, err
	}

	cutoff := since.Truncate(24 * time.Hour)
	seen := make(map[string]bool)
	var transactions []model.BankTransaction

	for _, file := range files {
		txns, err := s.parseFile(ctx, file)
		if err != nil {
			return nil, err
		}
		for _, tx := range txns {
			if tx.Date.Before(cutoff) || seen[tx.ID] {
				continue
			}
			seen[tx.ID] = true
			transactions = append(transactions, tx)
		}
	}

	sort.SliceStable(transactions, func(i, j int) bool {
		return transactions[i].Date.Before(transactions[j].Date)
	})
	return transactions, nil
}

func (s *Source) parseFile(ctx context.Context, path string) ([]model.BankTransaction, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the connection record
	if err != nil {
		return nil, fmt.Errorf("failed to open statement: %w", err)
	}
	defer func() { _ = f.Close() }()

	txns, err := s.parser.ParseFile(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return txns, nil
}

// statementFiles expands path into the sorted list of .ofx/.qfx files it names.
func statementFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidAccount, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read statement directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".ofx", ".qfx":
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

var _ bank.Source = (*Source)(nil)
