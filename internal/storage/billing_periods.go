package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
)

// CreateBillingPeriod inserts a period. The partial unique index on
// (therapist_id, patient_id, year, month) WHERE status != 'void' turns a
// concurrent duplicate into common.ErrAlreadyProcessed.
func (s *SQLiteStorage) CreateBillingPeriod(ctx context.Context, period *model.BillingPeriod) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePeriod(period); err != nil {
		return err
	}

	snapshot, err := json.Marshal(period.Sessions)
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}
	if period.Status == "" {
		period.Status = model.PeriodProcessed
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO billing_periods (
			id, therapist_id, patient_id, year, month, session_count, total_amount,
			sessions_snapshot, processed_at, processed_by, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		period.ID, period.TherapistID, period.PatientID, period.Year, int(period.Month),
		period.SessionCount, period.TotalAmount, string(snapshot),
		period.ProcessedAt.UTC(), period.ProcessedBy, string(period.Status))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", common.ErrAlreadyProcessed, period.Key())
		}
		return fmt.Errorf("failed to insert billing period: %w", err)
	}

	period.CanBeVoided = period.Status != model.PeriodVoid
	return nil
}

const periodSelect = `
	SELECT bp.id, bp.therapist_id, bp.patient_id, bp.year, bp.month, bp.session_count,
	       bp.total_amount, bp.sessions_snapshot, bp.processed_at, bp.processed_by,
	       bp.status, bp.voided_at, bp.voided_by, bp.void_reason,
	       COALESCE(SUM(p.amount), 0), COUNT(p.id)
	FROM billing_periods bp
	LEFT JOIN payments p ON p.billing_period_id = bp.id`

func scanPeriod(row interface{ Scan(...any) error }) (*model.BillingPeriod, error) {
	var (
		p        model.BillingPeriod
		month    int
		snapshot string
		status   string
		voidedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.TherapistID, &p.PatientID, &p.Year, &month, &p.SessionCount,
		&p.TotalAmount, &snapshot, &p.ProcessedAt, &p.ProcessedBy,
		&status, &voidedAt, &p.VoidedBy, &p.VoidReason,
		&p.PaidAmount, &p.PaymentCount)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(snapshot), &p.Sessions); err != nil {
		return nil, fmt.Errorf("%w: billing period %s snapshot: %v", common.ErrDatabaseCorrupted, p.ID, err)
	}
	p.Month = time.Month(month)
	p.Status = model.PeriodStatus(status)
	p.VoidedAt = timePtr(voidedAt)
	p.CanBeVoided = p.Status != model.PeriodVoid && p.PaymentCount == 0
	return &p, nil
}

// GetBillingPeriod returns a period with its derived payment totals.
func (s *SQLiteStorage) GetBillingPeriod(ctx context.Context, id string) (*model.BillingPeriod, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	p, err := scanPeriod(s.db.QueryRowContext(ctx, periodSelect+` WHERE bp.id = ? GROUP BY bp.id`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrPeriodNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing period: %w", err)
	}
	return p, nil
}

// GetActiveBillingPeriod returns the non-void period for key, or common.ErrNotFound.
func (s *SQLiteStorage) GetActiveBillingPeriod(ctx context.Context, key model.PeriodKey) (*model.BillingPeriod, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	p, err := scanPeriod(s.db.QueryRowContext(ctx, periodSelect+`
		WHERE bp.therapist_id = ? AND bp.patient_id = ? AND bp.year = ? AND bp.month = ?
		  AND bp.status != 'void'
		GROUP BY bp.id`,
		key.TherapistID, key.PatientID, key.Year, int(key.Month)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: billing period %s", common.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing period: %w", err)
	}
	return p, nil
}

// ListBillingPeriods returns every period, void ones included, for a therapist's month.
func (s *SQLiteStorage) ListBillingPeriods(ctx context.Context, therapistID string, year int, month time.Month) ([]model.BillingPeriod, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, periodSelect+`
		WHERE bp.therapist_id = ? AND bp.year = ? AND bp.month = ?
		GROUP BY bp.id
		ORDER BY bp.patient_id, bp.processed_at`,
		therapistID, year, int(month))
	if err != nil {
		return nil, fmt.Errorf("failed to query billing periods: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var periods []model.BillingPeriod
	for rows.Next() {
		p, scanErr := scanPeriod(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan billing period: %w", scanErr)
		}
		periods = append(periods, *p)
	}
	return periods, rows.Err()
}

// VoidBillingPeriod checks the void gate and flips the status inside one transaction.
func (s *SQLiteStorage) VoidBillingPeriod(ctx context.Context, id, therapistID, voidedBy, reason string, at time.Time) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}

	voided := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var owner, status string
		err := tx.QueryRowContext(ctx,
			`SELECT therapist_id, status FROM billing_periods WHERE id = ?`, id).Scan(&owner, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load billing period: %w", err)
		}
		if owner != therapistID || model.PeriodStatus(status) == model.PeriodVoid {
			return nil
		}

		var payments int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM payments WHERE billing_period_id = ?`, id).Scan(&payments); err != nil {
			return fmt.Errorf("failed to count payments: %w", err)
		}
		if payments > 0 {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE billing_periods
			SET status = 'void', voided_at = ?, voided_by = ?, void_reason = ?
			WHERE id = ? AND status != 'void'`,
			at.UTC(), voidedBy, reason, id)
		if err != nil {
			return fmt.Errorf("failed to void billing period: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to void billing period: %w", err)
		}
		voided = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return voided, nil
}

// MarkBillingPeriodPaid moves a processed period to paid. Marking a paid period again is a no-op.
func (s *SQLiteStorage) MarkBillingPeriodPaid(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM billing_periods WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", common.ErrPeriodNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to load billing period: %w", err)
		}

		switch model.PeriodStatus(status) {
		case model.PeriodVoid:
			return fmt.Errorf("%w: %s", common.ErrPeriodVoided, id)
		case model.PeriodPaid:
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE billing_periods SET status = 'paid' WHERE id = ? AND status = 'processed'`, id); err != nil {
			return fmt.Errorf("failed to mark billing period paid: %w", err)
		}
		return nil
	})
}
