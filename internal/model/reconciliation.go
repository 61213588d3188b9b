package model

import "time"

// ConnectionStatus is the state of a linked bank account.
type ConnectionStatus string

// Connection statuses.
const (
	ConnectionActive  ConnectionStatus = "active"
	ConnectionRevoked ConnectionStatus = "revoked"
)

// Provider names a bank-aggregation source.
type Provider string

// Supported providers.
const (
	ProviderPlaid     Provider = "plaid"
	ProviderSimpleFIN Provider = "simplefin"
	ProviderOFX       Provider = "ofx"
	ProviderSimulated Provider = "simulated"
)

// BankConnection is a linked external account for a therapist.
type BankConnection struct {
	CreatedAt         time.Time
	LastSyncAt        *time.Time
	ID                string
	TherapistID       string
	Provider          Provider
	ProviderAccountID string
	Status            ConnectionStatus
}

// ProcessedEvent is the idempotency marker for one provider transaction.
type ProcessedEvent struct {
	ProcessedAt           time.Time
	ConnectionID          string
	ProviderTransactionID string
	MatchFound            bool
}

// MatchType names the strategy that produced a match.
type MatchType string

// Match strategies, in priority order.
const (
	MatchDocument   MatchType = "document"
	MatchAmountDate MatchType = "amount_date"
	MatchNameAmount MatchType = "name_amount"
)

// MatchedEventStatus is the only mutable field of a matched event.
type MatchedEventStatus string

// Matched event statuses.
const (
	MatchConfirmed MatchedEventStatus = "confirmed"
	MatchDisputed  MatchedEventStatus = "disputed"
)

// MatchedEvent is a confirmed reconciliation outcome.
// Only the sender's first name and initials are kept.
type MatchedEvent struct {
	Date                  time.Time
	CreatedAt             time.Time
	ID                    string
	ConnectionID          string
	ProviderTransactionID string
	SenderFirstName       string
	SenderInitials        string
	SettlementRef         string
	SessionID             string
	PatientID             string
	MatchType             MatchType
	Reason                string
	Status                MatchedEventStatus
	Amount                int64
	AmountDifference      int64
	Confidence            float64
}

// CalendarEvent is an entry returned by the calendar source.
type CalendarEvent struct {
	// Start is nil for all-day entries.
	Start       *time.Time
	End         *time.Time
	ID          string
	Title       string
	Description string
	Status      string
	Attendees   []string
}

// IsCancelled reports whether the calendar marked the event as cancelled.
func (e *CalendarEvent) IsCancelled() bool {
	return e.Status == "cancelled"
}

// DurationMinutes returns the event length, or zero when unknown.
func (e *CalendarEvent) DurationMinutes() int {
	if e.Start == nil || e.End == nil {
		return 0
	}
	return int(e.End.Sub(*e.Start).Minutes())
}
