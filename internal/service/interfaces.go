// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/model"
)

// CandidateFilter narrows the sessions offered to the matcher.
type CandidateFilter struct {
	From        time.Time
	To          time.Time
	TherapistID string
}

// PracticeStore is the patient/session registry owned by the surrounding product.
type PracticeStore interface {
	CreateTherapist(ctx context.Context, therapist *model.Therapist) error
	GetTherapist(ctx context.Context, id string) (*model.Therapist, error)
	CreatePatient(ctx context.Context, patient *model.Patient) error
	GetPatient(ctx context.Context, id string) (*model.Patient, error)
	ListPatients(ctx context.Context, therapistID string) ([]model.Patient, error)
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
}

// BillingStore persists billing periods and their payments.
type BillingStore interface {
	// CreateBillingPeriod fails with common.ErrAlreadyProcessed when a non-void
	// period exists for the same key.
	CreateBillingPeriod(ctx context.Context, period *model.BillingPeriod) error
	GetBillingPeriod(ctx context.Context, id string) (*model.BillingPeriod, error)
	GetActiveBillingPeriod(ctx context.Context, key model.PeriodKey) (*model.BillingPeriod, error)
	ListBillingPeriods(ctx context.Context, therapistID string, year int, month time.Month) ([]model.BillingPeriod, error)
	// VoidBillingPeriod returns false when the period is missing, owned by
	// another therapist, already void, or has payments.
	VoidBillingPeriod(ctx context.Context, id, therapistID, voidedBy, reason string, at time.Time) (bool, error)
	MarkBillingPeriodPaid(ctx context.Context, id string) error

	RecordPayment(ctx context.Context, payment *model.Payment) error
	DeletePayment(ctx context.Context, id string) (bool, error)
	ListPayments(ctx context.Context, periodID string) ([]model.Payment, error)
}

// ConnectionStore manages linked bank accounts.
type ConnectionStore interface {
	CreateConnection(ctx context.Context, conn *model.BankConnection) error
	GetConnection(ctx context.Context, id string) (*model.BankConnection, error)
	ListConnections(ctx context.Context, status model.ConnectionStatus) ([]model.BankConnection, error)
	UpdateLastSync(ctx context.Context, id string, at time.Time) error
}

// ReconciliationStore holds the idempotency ledger and matched events.
type ReconciliationStore interface {
	IsProcessed(ctx context.Context, connectionID, providerTransactionID string) (bool, error)
	// RecordUnmatched inserts a match_found=false ledger row and nothing else.
	RecordUnmatched(ctx context.Context, connectionID, providerTransactionID string, at time.Time) error
	// RecordMatch writes the matched event, settles the session and inserts the
	// match_found=true ledger row as one unit.
	RecordMatch(ctx context.Context, event *model.MatchedEvent) error
	ListCandidateSessions(ctx context.Context, filter CandidateFilter) ([]model.CandidateSession, error)
	GetProcessedEvent(ctx context.Context, connectionID, providerTransactionID string) (*model.ProcessedEvent, error)
	ListMatchedEvents(ctx context.Context, therapistID string) ([]model.MatchedEvent, error)
	UpdateMatchedEventStatus(ctx context.Context, id string, status model.MatchedEventStatus) error
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	PracticeStore
	BillingStore
	ConnectionStore
	ReconciliationStore

	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
