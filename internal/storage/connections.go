package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
)

// CreateConnection links a bank account to a therapist.
func (s *SQLiteStorage) CreateConnection(ctx context.Context, conn *model.BankConnection) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if conn != nil && conn.Status == "" {
		conn.Status = model.ConnectionActive
	}
	if err := validateConnection(conn); err != nil {
		return err
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_connections (id, therapist_id, provider, provider_account_id, status, last_sync_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.TherapistID, string(conn.Provider), conn.ProviderAccountID,
		string(conn.Status), nullableTime(conn.LastSyncAt), conn.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: connection %s", common.ErrDuplicateEntry, conn.ID)
		}
		return fmt.Errorf("failed to insert connection: %w", err)
	}
	return nil
}

const connectionColumns = `id, therapist_id, provider, provider_account_id, status, last_sync_at, created_at`

func scanConnection(row interface{ Scan(...any) error }) (*model.BankConnection, error) {
	var (
		c                model.BankConnection
		provider, status string
		lastSync         sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.TherapistID, &provider, &c.ProviderAccountID, &status, &lastSync, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Provider = model.Provider(provider)
	c.Status = model.ConnectionStatus(status)
	c.LastSyncAt = timePtr(lastSync)
	return &c, nil
}

// GetConnection returns a connection by id.
func (s *SQLiteStorage) GetConnection(ctx context.Context, id string) (*model.BankConnection, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	c, err := scanConnection(s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM bank_connections WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: connection %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return c, nil
}

// ListConnections returns connections with the given status, or all when status is empty.
func (s *SQLiteStorage) ListConnections(ctx context.Context, status model.ConnectionStatus) ([]model.BankConnection, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + connectionColumns + ` FROM bank_connections`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conns []model.BankConnection
	for rows.Next() {
		c, scanErr := scanConnection(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", scanErr)
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

// UpdateLastSync advances a connection's checkpoint.
func (s *SQLiteStorage) UpdateLastSync(ctx context.Context, id string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE bank_connections SET last_sync_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update last sync: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: connection %s", common.ErrNotFound, id)
	}
	return nil
}
