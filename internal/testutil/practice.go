package testutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/service"
)

// DefaultTimeZone is the therapist time zone used by the builder.
const DefaultTimeZone = "America/Sao_Paulo"

// Practice is the seeded registry, keyed by id.
type Practice struct {
	Therapist   *model.Therapist
	Patients    map[string]*model.Patient
	Sessions    map[string]*model.Session
	Connections map[string]*model.BankConnection
}

// PatientOption customizes a seeded patient.
type PatientOption func(*model.Patient)

// WithEmail sets the patient's e-mail.
func WithEmail(email string) PatientOption {
	return func(p *model.Patient) { p.Email = email }
}

// WithDocument sets the patient's tax document.
func WithDocument(document string) PatientOption {
	return func(p *model.Patient) { p.Document = document }
}

// WithBillingStart sets the first billable day. A zero time clears it.
func WithBillingStart(start time.Time) PatientOption {
	return func(p *model.Patient) {
		if start.IsZero() {
			p.BillingStartDate = nil
			return
		}
		p.BillingStartDate = &start
	}
}

// SessionOption customizes a seeded session.
type SessionOption func(*model.Session)

// WithSessionStatus sets the clinical status.
func WithSessionStatus(status model.SessionStatus) SessionOption {
	return func(s *model.Session) { s.Status = status }
}

// WithPaymentStatus sets the payment status.
func WithPaymentStatus(status model.PaymentStatus) SessionOption {
	return func(s *model.Session) { s.PaymentStatus = status }
}

// PracticeBuilder seeds a therapist's registry through the storage API.
type PracticeBuilder struct {
	t           *testing.T
	store       service.Storage
	therapist   *model.Therapist
	patients    []*model.Patient
	sessions    []*model.Session
	connections []*model.BankConnection
}

func newPracticeBuilder(t *testing.T, store service.Storage) *PracticeBuilder {
	return &PracticeBuilder{t: t, store: store}
}

// WithTherapist sets the therapist every other entity belongs to.
func (b *PracticeBuilder) WithTherapist(id string) *PracticeBuilder {
	b.therapist = &model.Therapist{
		ID:         id,
		Name:       "Therapist " + id,
		CalendarID: "cal-" + id,
		TimeZone:   DefaultTimeZone,
	}
	return b
}

// WithPatient adds a patient billable since 2000 with an e-mail derived from the name.
func (b *PracticeBuilder) WithPatient(id, name string, price int64, opts ...PatientOption) *PracticeBuilder {
	start := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	p := &model.Patient{
		ID:               id,
		Name:             name,
		Email:            strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		Price:            price,
		BillingStartDate: &start,
	}
	for _, opt := range opts {
		opt(p)
	}
	b.patients = append(b.patients, p)
	return b
}

// WithSession adds a session for a previously added patient at its price.
func (b *PracticeBuilder) WithSession(id, patientID string, date time.Time, opts ...SessionOption) *PracticeBuilder {
	s := &model.Session{
		ID:        id,
		PatientID: patientID,
		Date:      date,
	}
	for _, p := range b.patients {
		if p.ID == patientID {
			s.Price = p.Price
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	b.sessions = append(b.sessions, s)
	return b
}

// WithConnection adds an active bank connection.
func (b *PracticeBuilder) WithConnection(id string, provider model.Provider, accountRef string) *PracticeBuilder {
	b.connections = append(b.connections, &model.BankConnection{
		ID:                id,
		Provider:          provider,
		ProviderAccountID: accountRef,
		Status:            model.ConnectionActive,
	})
	return b
}

// Build writes everything to storage, failing the test on any error.
func (b *PracticeBuilder) Build() *Practice {
	b.t.Helper()
	ctx := context.Background()

	if b.therapist == nil {
		b.WithTherapist("th-1")
	}
	if err := b.store.CreateTherapist(ctx, b.therapist); err != nil {
		b.t.Fatalf("failed to seed therapist: %v", err)
	}

	practice := &Practice{
		Therapist:   b.therapist,
		Patients:    make(map[string]*model.Patient, len(b.patients)),
		Sessions:    make(map[string]*model.Session, len(b.sessions)),
		Connections: make(map[string]*model.BankConnection, len(b.connections)),
	}

	for _, p := range b.patients {
		p.TherapistID = b.therapist.ID
		if err := b.store.CreatePatient(ctx, p); err != nil {
			b.t.Fatalf("failed to seed patient %s: %v", p.ID, err)
		}
		practice.Patients[p.ID] = p
	}
	for _, s := range b.sessions {
		s.TherapistID = b.therapist.ID
		if err := b.store.CreateSession(ctx, s); err != nil {
			b.t.Fatalf("failed to seed session %s: %v", s.ID, err)
		}
		practice.Sessions[s.ID] = s
	}
	for _, c := range b.connections {
		c.TherapistID = b.therapist.ID
		if err := b.store.CreateConnection(ctx, c); err != nil {
			b.t.Fatalf("failed to seed connection %s: %v", c.ID, err)
		}
		practice.Connections[c.ID] = c
	}
	return practice
}
