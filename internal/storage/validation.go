package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-fees-must-flow/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidPeriod      = errors.New("invalid billing period")
	ErrInvalidPayment     = errors.New("invalid payment")
	ErrInvalidConnection  = errors.New("invalid bank connection")
	ErrInvalidMatchEvent  = errors.New("invalid matched event")
	ErrInvalidPatient     = errors.New("invalid patient")
	ErrInvalidSession     = errors.New("invalid session")
	ErrInvalidMatchStatus = errors.New("invalid matched event status")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validatePatient(p *model.Patient) error {
	if p == nil {
		return fmt.Errorf("%w: patient", ErrNilParameter)
	}
	if p.ID == "" || p.TherapistID == "" {
		return fmt.Errorf("%w: missing id or therapist", ErrInvalidPatient)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidPatient)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: negative price", ErrInvalidPatient)
	}
	return nil
}

func validateSession(s *model.Session) error {
	if s == nil {
		return fmt.Errorf("%w: session", ErrNilParameter)
	}
	if s.ID == "" || s.TherapistID == "" || s.PatientID == "" {
		return fmt.Errorf("%w: missing id, therapist or patient", ErrInvalidSession)
	}
	if s.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidSession)
	}
	return nil
}

func validatePeriod(p *model.BillingPeriod) error {
	if p == nil {
		return fmt.Errorf("%w: billing period", ErrNilParameter)
	}
	if p.ID == "" || p.TherapistID == "" || p.PatientID == "" {
		return fmt.Errorf("%w: missing id, therapist or patient", ErrInvalidPeriod)
	}
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("%w: month %d", ErrInvalidPeriod, p.Month)
	}
	if p.SessionCount != len(p.Sessions) {
		return fmt.Errorf("%w: session count %d does not match snapshot length %d",
			ErrInvalidPeriod, p.SessionCount, len(p.Sessions))
	}
	return nil
}

func validatePayment(p *model.Payment) error {
	if p == nil {
		return fmt.Errorf("%w: payment", ErrNilParameter)
	}
	if p.ID == "" || p.BillingPeriodID == "" {
		return fmt.Errorf("%w: missing id or billing period", ErrInvalidPayment)
	}
	if strings.TrimSpace(p.Method) == "" {
		return fmt.Errorf("%w: missing method", ErrInvalidPayment)
	}
	if p.PaymentDate.IsZero() {
		return fmt.Errorf("%w: missing payment date", ErrInvalidPayment)
	}
	return nil
}

func validateConnection(c *model.BankConnection) error {
	if c == nil {
		return fmt.Errorf("%w: connection", ErrNilParameter)
	}
	if c.ID == "" || c.TherapistID == "" || c.ProviderAccountID == "" {
		return fmt.Errorf("%w: missing id, therapist or account", ErrInvalidConnection)
	}
	switch c.Status {
	case model.ConnectionActive, model.ConnectionRevoked:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidConnection, c.Status)
	}
	return nil
}

func validateMatchedEvent(e *model.MatchedEvent) error {
	if e == nil {
		return fmt.Errorf("%w: matched event", ErrNilParameter)
	}
	if e.ID == "" || e.ConnectionID == "" || e.ProviderTransactionID == "" {
		return fmt.Errorf("%w: missing id, connection or transaction", ErrInvalidMatchEvent)
	}
	if e.SessionID == "" || e.PatientID == "" {
		return fmt.Errorf("%w: missing session or patient", ErrInvalidMatchEvent)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidMatchEvent)
	}
	return nil
}
