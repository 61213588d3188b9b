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

// CreateTherapist inserts a therapist.
func (s *SQLiteStorage) CreateTherapist(ctx context.Context, therapist *model.Therapist) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if therapist == nil {
		return fmt.Errorf("%w: therapist", ErrNilParameter)
	}
	if err := validateString(therapist.ID, "therapist.ID"); err != nil {
		return err
	}
	if therapist.CreatedAt.IsZero() {
		therapist.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO therapists (id, name, calendar_id, time_zone, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		therapist.ID, therapist.Name, therapist.CalendarID, therapist.TimeZone, therapist.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: therapist %s", common.ErrDuplicateEntry, therapist.ID)
		}
		return fmt.Errorf("failed to insert therapist: %w", err)
	}
	return nil
}

// GetTherapist returns a therapist by id.
func (s *SQLiteStorage) GetTherapist(ctx context.Context, id string) (*model.Therapist, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var t model.Therapist
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, calendar_id, time_zone, created_at
		FROM therapists WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.CalendarID, &t.TimeZone, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: therapist %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get therapist: %w", err)
	}
	return &t, nil
}

// CreatePatient inserts a patient.
func (s *SQLiteStorage) CreatePatient(ctx context.Context, patient *model.Patient) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePatient(patient); err != nil {
		return err
	}
	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patients (id, therapist_id, name, email, document, price, billing_start_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		patient.ID, patient.TherapistID, patient.Name, patient.Email, patient.Document,
		patient.Price, nullableTime(patient.BillingStartDate), patient.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: patient %s", common.ErrDuplicateEntry, patient.ID)
		}
		return fmt.Errorf("failed to insert patient: %w", err)
	}
	return nil
}

const patientColumns = `id, therapist_id, name, email, document, price, billing_start_date, created_at`

func scanPatient(row interface{ Scan(...any) error }) (*model.Patient, error) {
	var p model.Patient
	var start sql.NullTime
	if err := row.Scan(&p.ID, &p.TherapistID, &p.Name, &p.Email, &p.Document, &p.Price, &start, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.BillingStartDate = timePtr(start)
	return &p, nil
}

// GetPatient returns a patient by id.
func (s *SQLiteStorage) GetPatient(ctx context.Context, id string) (*model.Patient, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	p, err := scanPatient(s.db.QueryRowContext(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: patient %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return p, nil
}

// ListPatients returns a therapist's patients ordered by name.
func (s *SQLiteStorage) ListPatients(ctx context.Context, therapistID string) ([]model.Patient, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE therapist_id = ? ORDER BY name, id`, therapistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patients []model.Patient
	for rows.Next() {
		p, scanErr := scanPatient(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", scanErr)
		}
		patients = append(patients, *p)
	}
	return patients, rows.Err()
}

// CreateSession inserts a session into the registry.
func (s *SQLiteStorage) CreateSession(ctx context.Context, session *model.Session) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSession(session); err != nil {
		return err
	}
	if session.Status == "" {
		session.Status = model.SessionScheduled
	}
	if session.PaymentStatus == "" {
		session.PaymentStatus = model.PaymentPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, therapist_id, patient_id, date, status, price, payment_status, calendar_event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.TherapistID, session.PatientID, session.Date.UTC(),
		string(session.Status), session.Price, string(session.PaymentStatus), session.CalendarEventID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: session %s", common.ErrDuplicateEntry, session.ID)
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by id.
func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var sess model.Session
	var status, paymentStatus string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, therapist_id, patient_id, date, status, price, payment_status, calendar_event_id
		FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.TherapistID, &sess.PatientID, &sess.Date, &status,
			&sess.Price, &paymentStatus, &sess.CalendarEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess.Status = model.SessionStatus(status)
	sess.PaymentStatus = model.PaymentStatus(paymentStatus)
	return &sess, nil
}
