// Package billing turns a therapist's calendar into immutable monthly billing
// periods and records the payments made against them.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/calendar"
	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/service"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// ErrInvalidMonth is returned for months outside 1-12.
var ErrInvalidMonth = errors.New("month must be between 1 and 12")

// titlePrefix matches the session labels therapists put before a patient name.
var titlePrefix = regexp.MustCompile(`(?i)^\s*(session|therapy|sessão|terapia)\s*-\s*`)

// Store is the persistence the billing package needs.
type Store interface {
	service.PracticeStore
	service.BillingStore
}

// Manager processes, summarizes and voids billing periods.
type Manager struct {
	store    Store
	calendar calendar.Source
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewManager creates a billing period manager.
func NewManager(store Store, cal calendar.Source) *Manager {
	return &Manager{
		store:    store,
		calendar: cal,
		logger:   slog.Default().With("component", "billing"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Process snapshots the patient's sessions for the month into a new billing
// period. It fails with common.ErrAlreadyProcessed when a non-void period
// exists and with common.ErrBillingNotStarted when the patient is not yet
// billable. Nothing is persisted on failure.
func (m *Manager) Process(ctx context.Context, therapistID, patientID string, year int, month time.Month, processedBy string) (*model.BillingPeriod, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMonth, month)
	}

	therapist, err := m.store.GetTherapist(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	patient, err := m.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if patient.TherapistID != therapistID {
		return nil, fmt.Errorf("%w: patient %s for therapist %s", common.ErrNotFound, patientID, therapistID)
	}
	if !patient.BillableIn(year, month) {
		return nil, fmt.Errorf("%w: patient %s, %04d-%02d", common.ErrBillingNotStarted, patientID, year, int(month))
	}

	key := model.PeriodKey{TherapistID: therapistID, PatientID: patientID, Year: year, Month: month}
	existing, err := m.store.GetActiveBillingPeriod(ctx, key)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s (period %s)", common.ErrAlreadyProcessed, key, existing.ID)
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	loc := therapist.Location()
	start, end := key.Range(loc)
	events, err := m.calendar.ListEvents(ctx, therapist.CalendarID, start, end)
	if err != nil {
		if !errors.Is(err, common.ErrProviderFailure) {
			err = fmt.Errorf("%w: %w", common.ErrProviderFailure, err)
		}
		return nil, fmt.Errorf("failed to read calendar for %s: %w", key, err)
	}

	sessions := snapshotSessions(events, patient, start, end, loc)
	period := &model.BillingPeriod{
		ID:           m.newID(),
		TherapistID:  therapistID,
		PatientID:    patientID,
		Year:         year,
		Month:        month,
		SessionCount: len(sessions),
		TotalAmount:  int64(len(sessions)) * patient.Price,
		Sessions:     sessions,
		ProcessedAt:  m.now().UTC(),
		ProcessedBy:  processedBy,
		Status:       model.PeriodProcessed,
	}

	if err := m.store.CreateBillingPeriod(ctx, period); err != nil {
		return nil, err
	}

	m.logger.Info("processed billing period",
		"period_id", period.ID,
		"key", key.String(),
		"sessions", period.SessionCount,
		"total", model.FormatMinorUnits(period.TotalAmount))
	return period, nil
}

// snapshotSessions keeps the patient's timed, non-cancelled events that start
// inside [start, end] and freezes them in start-time order.
func snapshotSessions(events []model.CalendarEvent, patient *model.Patient, start, end time.Time, loc *time.Location) []model.SessionSnapshot {
	matched := make([]model.CalendarEvent, 0, len(events))
	for _, e := range events {
		if e.IsCancelled() || e.Start == nil {
			continue
		}
		if e.Start.Before(start) || e.Start.After(end) {
			continue
		}
		if eventBelongsTo(e, patient) {
			matched = append(matched, e)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Start.Before(*matched[j].Start)
	})

	sessions := make([]model.SessionSnapshot, 0, len(matched))
	for _, e := range matched {
		local := e.Start.In(loc)
		sessions = append(sessions, model.SessionSnapshot{
			Date:            local.Format("2006-01-02"),
			Time:            local.Format("15:04"),
			ExternalEventID: e.ID,
			DurationMinutes: e.DurationMinutes(),
		})
	}
	return sessions
}

// eventBelongsTo matches on attendee e-mail first, then on the patient name
// appearing in the title once a session label prefix is removed.
func eventBelongsTo(e model.CalendarEvent, patient *model.Patient) bool {
	if patient.Email != "" {
		for _, attendee := range e.Attendees {
			if strings.EqualFold(strings.TrimSpace(attendee), patient.Email) {
				return true
			}
		}
	}

	name := strings.TrimSpace(patient.Name)
	if name == "" {
		return false
	}
	fold := cases.Fold()
	title := titlePrefix.ReplaceAllString(e.Title, "")
	return strings.Contains(fold.String(title), fold.String(name))
}

// Summarize returns one row per patient for the month: the active period's
// figures, or a placeholder that can be processed once billing has started.
func (m *Manager) Summarize(ctx context.Context, therapistID string, year int, month time.Month) ([]model.PeriodSummary, error) {
	patients, err := m.store.ListPatients(ctx, therapistID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	periods, err := m.store.ListBillingPeriods(ctx, therapistID, year, month)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing periods: %w", err)
	}

	active := make(map[string]model.BillingPeriod, len(periods))
	for _, p := range periods {
		if p.Status != model.PeriodVoid {
			active[p.PatientID] = p
		}
	}

	summaries := make([]model.PeriodSummary, 0, len(patients))
	for _, patient := range patients {
		summary := model.PeriodSummary{
			PatientID:   patient.ID,
			PatientName: patient.Name,
		}
		if p, ok := active[patient.ID]; ok {
			summary.PeriodID = p.ID
			summary.Status = p.Status
			summary.SessionCount = p.SessionCount
			summary.TotalAmount = p.TotalAmount
			summary.PaidAmount = p.PaidAmount
			summary.HasPayment = p.HasPayment()
		} else {
			summary.CanProcess = patient.BillableIn(year, month)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Void marks a period void so the month can be reprocessed. It returns false
// without error when the period is missing, belongs to another therapist, is
// already void, or has payments.
func (m *Manager) Void(ctx context.Context, periodID, therapistID, voidedBy, reason string) (bool, error) {
	voided, err := m.store.VoidBillingPeriod(ctx, periodID, therapistID, voidedBy, reason, m.now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to void billing period: %w", err)
	}
	if voided {
		m.logger.Info("voided billing period", "period_id", periodID, "voided_by", voidedBy)
	} else {
		m.logger.Debug("billing period not voidable", "period_id", periodID)
	}
	return voided, nil
}

// Get returns a period with its payment totals.
func (m *Manager) Get(ctx context.Context, periodID string) (*model.BillingPeriod, error) {
	return m.store.GetBillingPeriod(ctx, periodID)
}

// List returns all of a therapist's periods for the month, void ones included.
func (m *Manager) List(ctx context.Context, therapistID string, year int, month time.Month) ([]model.BillingPeriod, error) {
	return m.store.ListBillingPeriods(ctx, therapistID, year, month)
}

// MarkPaid settles a processed period. Void periods cannot be marked paid.
func (m *Manager) MarkPaid(ctx context.Context, periodID string) error {
	if err := m.store.MarkBillingPeriodPaid(ctx, periodID); err != nil {
		return err
	}
	m.logger.Info("marked billing period paid", "period_id", periodID)
	return nil
}
