package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/service"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MatchedEventStore persists matches with a minimal sender identifier.
type MatchedEventStore struct {
	store  service.ReconciliationStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewMatchedEventStore creates a matched event store.
func NewMatchedEventStore(store service.ReconciliationStore) *MatchedEventStore {
	return &MatchedEventStore{
		store:  store,
		logger: slog.Default().With("component", "matched_events"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Store writes the matched event and settles the session in one unit. A
// session that already carries a match fails with common.ErrAlreadyMatched.
func (s *MatchedEventStore) Store(ctx context.Context, conn model.BankConnection, tx model.BankTransaction, result Result) (*model.MatchedEvent, error) {
	first, initials := senderIdentifier(tx.SenderName())

	event := &model.MatchedEvent{
		ID:                    s.newID(),
		ConnectionID:          conn.ID,
		ProviderTransactionID: tx.ID,
		Amount:                tx.Amount,
		Date:                  tx.Date,
		SenderFirstName:       first,
		SenderInitials:        initials,
		SettlementRef:         tx.SettlementRef(),
		SessionID:             result.Session.ID,
		PatientID:             result.Session.PatientID,
		MatchType:             result.MatchType,
		Confidence:            result.Confidence,
		Reason:                result.Reason,
		AmountDifference:      tx.Amount - result.Session.Price,
		Status:                model.MatchConfirmed,
		CreatedAt:             s.now().UTC(),
	}

	if err := s.store.RecordMatch(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record match for %s/%s: %w", conn.ID, tx.ID, err)
	}

	s.logger.Info("matched transaction",
		"connection_id", conn.ID,
		"transaction_id", tx.ID,
		"session_id", event.SessionID,
		"match_type", event.MatchType,
		"confidence", event.Confidence)
	return event, nil
}

// senderIdentifier reduces a full name to a title-cased first name and the
// initials of the remaining tokens, e.g. "MARIA DA SILVA" -> "Maria", "D.S.".
func senderIdentifier(name string) (string, string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}

	// Casers are stateful, so each call gets its own.
	first := cases.Title(language.Und).String(fields[0])

	var initials strings.Builder
	for _, f := range fields[1:] {
		r, _ := utf8.DecodeRuneInString(f)
		initials.WriteString(strings.ToUpper(string(r)))
		initials.WriteByte('.')
	}
	return first, initials.String()
}

// List returns a therapist's matched events, most recent first.
func (s *MatchedEventStore) List(ctx context.Context, therapistID string) ([]model.MatchedEvent, error) {
	return s.store.ListMatchedEvents(ctx, therapistID)
}

// Dispute flags a match for review. The status is the only mutable field.
func (s *MatchedEventStore) Dispute(ctx context.Context, id string) error {
	return s.UpdateStatus(ctx, id, model.MatchDisputed)
}

// UpdateStatus sets a matched event's status.
func (s *MatchedEventStore) UpdateStatus(ctx context.Context, id string, status model.MatchedEventStatus) error {
	if err := s.store.UpdateMatchedEventStatus(ctx, id, status); err != nil {
		return err
	}
	s.logger.Info("updated matched event status", "id", id, "status", status)
	return nil
}
