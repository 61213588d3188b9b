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

// RecordPayment inserts a payment after checking, in the same transaction,
// that the period exists and is not void.
func (s *SQLiteStorage) RecordPayment(ctx context.Context, payment *model.Payment) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePayment(payment); err != nil {
		return err
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM billing_periods WHERE id = ?`, payment.BillingPeriodID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", common.ErrPeriodNotFound, payment.BillingPeriodID)
		}
		if err != nil {
			return fmt.Errorf("failed to load billing period: %w", err)
		}
		if model.PeriodStatus(status) == model.PeriodVoid {
			return fmt.Errorf("%w: %s", common.ErrPeriodVoided, payment.BillingPeriodID)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO payments (id, billing_period_id, amount, method, payment_date, reference, recorded_by, notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			payment.ID, payment.BillingPeriodID, payment.Amount, payment.Method,
			payment.PaymentDate.UTC(), payment.Reference, payment.RecordedBy, payment.Notes,
			payment.CreatedAt.UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: payment %s", common.ErrDuplicateEntry, payment.ID)
			}
			return fmt.Errorf("failed to insert payment: %w", err)
		}
		return nil
	})
}

// DeletePayment removes a payment and reports whether it existed.
func (s *SQLiteStorage) DeletePayment(ctx context.Context, id string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete payment: %w", err)
	}
	return n > 0, nil
}

// ListPayments returns a period's payments, oldest first.
func (s *SQLiteStorage) ListPayments(ctx context.Context, periodID string) ([]model.Payment, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, billing_period_id, amount, method, payment_date, reference, recorded_by, notes, created_at
		FROM payments
		WHERE billing_period_id = ?
		ORDER BY payment_date, created_at`, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var payments []model.Payment
	for rows.Next() {
		var p model.Payment
		if err := rows.Scan(&p.ID, &p.BillingPeriodID, &p.Amount, &p.Method, &p.PaymentDate,
			&p.Reference, &p.RecordedBy, &p.Notes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
