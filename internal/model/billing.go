package model

import (
	"fmt"
	"time"
)

// PeriodStatus is the lifecycle state of a billing period.
type PeriodStatus string

// Billing period statuses.
const (
	PeriodProcessed PeriodStatus = "processed"
	PeriodPaid      PeriodStatus = "paid"
	PeriodVoid      PeriodStatus = "void"
)

// SessionSnapshot is one session frozen into a billing period.
type SessionSnapshot struct {
	Date            string `json:"date"`
	Time            string `json:"time"`
	ExternalEventID string `json:"external_event_id"`
	DurationMinutes int    `json:"duration"`
}

// PeriodKey identifies a billing month for one patient.
type PeriodKey struct {
	TherapistID string
	PatientID   string
	Year        int
	Month       time.Month
}

func (k PeriodKey) String() string {
	return fmt.Sprintf("%s/%s/%04d-%02d", k.TherapistID, k.PatientID, k.Year, int(k.Month))
}

// Range returns the first instant of the month and the last instant of its last day in loc.
func (k PeriodKey) Range(loc *time.Location) (time.Time, time.Time) {
	start := time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return start, end
}

// BillingPeriod is the immutable monthly bill for one patient.
type BillingPeriod struct {
	ProcessedAt  time.Time
	VoidedAt     *time.Time
	ID           string
	TherapistID  string
	PatientID    string
	ProcessedBy  string
	VoidedBy     string
	VoidReason   string
	Status       PeriodStatus
	Sessions     []SessionSnapshot
	Year         int
	Month        time.Month
	SessionCount int
	TotalAmount  int64
	// PaidAmount and PaymentCount are derived from the payments table on read.
	PaidAmount   int64
	PaymentCount int
	CanBeVoided  bool
}

// Key returns the period's uniqueness key.
func (p *BillingPeriod) Key() PeriodKey {
	return PeriodKey{
		TherapistID: p.TherapistID,
		PatientID:   p.PatientID,
		Year:        p.Year,
		Month:       p.Month,
	}
}

// HasPayment reports whether at least one payment is recorded.
func (p *BillingPeriod) HasPayment() bool {
	return p.PaymentCount > 0
}

// IsCovered reports whether recorded payments reach the period total.
// It does not change Status; see MarkPaid in the billing package.
func (p *BillingPeriod) IsCovered() bool {
	return p.Status != PeriodVoid && p.HasPayment() && p.PaidAmount >= p.TotalAmount
}

// Payment is a settlement recorded against a billing period.
type Payment struct {
	PaymentDate     time.Time
	CreatedAt       time.Time
	ID              string
	BillingPeriodID string
	Method          string
	Reference       string
	RecordedBy      string
	Notes           string
	Amount          int64
}

// PeriodSummary is one row of a therapist's monthly overview.
type PeriodSummary struct {
	PatientID    string
	PatientName  string
	PeriodID     string
	Status       PeriodStatus
	SessionCount int
	TotalAmount  int64
	PaidAmount   int64
	HasPayment   bool
	CanProcess   bool
}
