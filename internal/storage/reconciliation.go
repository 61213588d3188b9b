package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/service"
)

// IsProcessed reports whether a provider transaction has a ledger row.
func (s *SQLiteStorage) IsProcessed(ctx context.Context, connectionID, providerTransactionID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM processed_events
		WHERE connection_id = ? AND provider_transaction_id = ?`,
		connectionID, providerTransactionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return true, nil
}

// RecordUnmatched inserts a match_found=false ledger row. A second insert for
// the same transaction fails with common.ErrEventProcessed.
func (s *SQLiteStorage) RecordUnmatched(ctx context.Context, connectionID, providerTransactionID string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(connectionID, "connectionID"); err != nil {
		return err
	}
	if err := validateString(providerTransactionID, "providerTransactionID"); err != nil {
		return err
	}

	return insertProcessedEvent(ctx, s.db, connectionID, providerTransactionID, false, at)
}

func insertProcessedEvent(ctx context.Context, q queryable, connectionID, providerTransactionID string, matched bool, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO processed_events (connection_id, provider_transaction_id, match_found, processed_at)
		VALUES (?, ?, ?, ?)`,
		connectionID, providerTransactionID, matched, at.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: transaction %s on connection %s",
				common.ErrEventProcessed, providerTransactionID, connectionID)
		}
		return fmt.Errorf("failed to insert processed event: %w", err)
	}
	return nil
}

// RecordMatch writes the matched event, settles the session and inserts the
// ledger row in one transaction. If the session already has a match the
// whole unit rolls back with common.ErrAlreadyMatched and the transaction
// stays unprocessed.
func (s *SQLiteStorage) RecordMatch(ctx context.Context, event *model.MatchedEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if event != nil && event.Status == "" {
		event.Status = model.MatchConfirmed
	}
	if err := validateMatchedEvent(event); err != nil {
		return err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO matched_events (
				id, connection_id, provider_transaction_id, amount, date,
				sender_first_name, sender_initials, settlement_ref,
				session_id, patient_id, match_type, confidence, reason,
				amount_difference, status, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			event.ID, event.ConnectionID, event.ProviderTransactionID, event.Amount, event.Date.UTC(),
			event.SenderFirstName, event.SenderInitials, event.SettlementRef,
			event.SessionID, event.PatientID, string(event.MatchType), event.Confidence, event.Reason,
			event.AmountDifference, string(event.Status), event.CreatedAt.UTC())
		if err != nil {
			if isUniqueViolation(err) {
				if strings.Contains(err.Error(), "matched_events.session_id") {
					return fmt.Errorf("%w: session %s", common.ErrAlreadyMatched, event.SessionID)
				}
				return fmt.Errorf("%w: transaction %s on connection %s",
					common.ErrEventProcessed, event.ProviderTransactionID, event.ConnectionID)
			}
			return fmt.Errorf("failed to insert matched event: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, payment_status = ?
			WHERE id = ?`,
			string(model.SessionAttended), string(model.PaymentPaid), event.SessionID)
		if err != nil {
			return fmt.Errorf("failed to settle session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: session %s", common.ErrNotFound, event.SessionID)
		}

		return insertProcessedEvent(ctx, tx, event.ConnectionID, event.ProviderTransactionID, true, event.CreatedAt)
	})
}

// ListCandidateSessions returns unpaid, unmatched, not-yet-attended sessions
// in the filter's window, most recent first.
func (s *SQLiteStorage) ListCandidateSessions(ctx context.Context, filter service.CandidateFilter) ([]model.CandidateSession, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(filter.TherapistID, "therapistID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.therapist_id, s.patient_id, s.date, s.status, s.price,
		       s.payment_status, s.calendar_event_id, p.name, p.document
		FROM sessions s
		JOIN patients p ON p.id = s.patient_id
		LEFT JOIN matched_events m ON m.session_id = s.id
		WHERE s.therapist_id = ?
		  AND s.payment_status != 'paid'
		  AND s.status != 'attended'
		  AND s.date >= ? AND s.date <= ?
		  AND m.id IS NULL
		ORDER BY s.date DESC, s.id`,
		filter.TherapistID, filter.From.UTC(), filter.To.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []model.CandidateSession
	for rows.Next() {
		var (
			c                     model.CandidateSession
			status, paymentStatus string
		)
		if err := rows.Scan(&c.ID, &c.TherapistID, &c.PatientID, &c.Date, &status, &c.Price,
			&paymentStatus, &c.CalendarEventID, &c.PatientName, &c.PatientDocument); err != nil {
			return nil, fmt.Errorf("failed to scan candidate session: %w", err)
		}
		c.Status = model.SessionStatus(status)
		c.PaymentStatus = model.PaymentStatus(paymentStatus)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// GetProcessedEvent returns the ledger row for a provider transaction.
func (s *SQLiteStorage) GetProcessedEvent(ctx context.Context, connectionID, providerTransactionID string) (*model.ProcessedEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var e model.ProcessedEvent
	err := s.db.QueryRowContext(ctx, `
		SELECT connection_id, provider_transaction_id, match_found, processed_at
		FROM processed_events
		WHERE connection_id = ? AND provider_transaction_id = ?`,
		connectionID, providerTransactionID).
		Scan(&e.ConnectionID, &e.ProviderTransactionID, &e.MatchFound, &e.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: processed event %s/%s", common.ErrNotFound, connectionID, providerTransactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processed event: %w", err)
	}
	return &e, nil
}

// ListMatchedEvents returns a therapist's matched events, newest transaction first.
func (s *SQLiteStorage) ListMatchedEvents(ctx context.Context, therapistID string) ([]model.MatchedEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.connection_id, m.provider_transaction_id, m.amount, m.date,
		       m.sender_first_name, m.sender_initials, m.settlement_ref,
		       m.session_id, m.patient_id, m.match_type, m.confidence, m.reason,
		       m.amount_difference, m.status, m.created_at
		FROM matched_events m
		JOIN bank_connections c ON c.id = m.connection_id
		WHERE c.therapist_id = ?
		ORDER BY m.date DESC, m.id`, therapistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query matched events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.MatchedEvent
	for rows.Next() {
		var (
			e                 model.MatchedEvent
			matchType, status string
		)
		if err := rows.Scan(&e.ID, &e.ConnectionID, &e.ProviderTransactionID, &e.Amount, &e.Date,
			&e.SenderFirstName, &e.SenderInitials, &e.SettlementRef,
			&e.SessionID, &e.PatientID, &matchType, &e.Confidence, &e.Reason,
			&e.AmountDifference, &status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan matched event: %w", err)
		}
		e.MatchType = model.MatchType(matchType)
		e.Status = model.MatchedEventStatus(status)
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpdateMatchedEventStatus changes the review status of a matched event.
func (s *SQLiteStorage) UpdateMatchedEventStatus(ctx context.Context, id string, status model.MatchedEventStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if status != model.MatchConfirmed && status != model.MatchDisputed {
		return fmt.Errorf("%w: %q", ErrInvalidMatchStatus, status)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE matched_events SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update matched event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: matched event %s", common.ErrNotFound, id)
	}
	return nil
}
