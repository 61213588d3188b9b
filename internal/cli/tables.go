package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/reconcile"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(SubtleStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return TableCellStyle
		}).
		Headers(headers...)
}

// RenderPeriodSummaries renders a therapist's monthly overview.
func RenderPeriodSummaries(year int, month time.Month, summaries []model.PeriodSummary) string {
	t := newTable("Patient", "Status", "Sessions", "Total", "Paid", "Period")
	for _, s := range summaries {
		status := FormatPeriodStatus(s.Status)
		sessions, total, paid := "-", "-", "-"
		if !s.CanProcess {
			sessions = strconv.Itoa(s.SessionCount)
			total = FormatMoney(s.TotalAmount)
			paid = FormatMoney(s.PaidAmount)
		}
		t.Row(s.PatientName, status, sessions, total, paid, s.PeriodID)
	}
	return FormatTitle(fmt.Sprintf("Billing %04d-%02d", year, int(month))) + "\n" + t.String()
}

// RenderPeriod renders one billing period with its snapshot and payments.
func RenderPeriod(period *model.BillingPeriod, payments []model.Payment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patient:   %s\n", period.PatientID)
	fmt.Fprintf(&b, "Month:     %04d-%02d\n", period.Year, int(period.Month))
	fmt.Fprintf(&b, "Status:    %s\n", FormatPeriodStatus(period.Status))
	fmt.Fprintf(&b, "Sessions:  %d\n", period.SessionCount)
	fmt.Fprintf(&b, "Total:     %s\n", FormatMoney(period.TotalAmount))
	fmt.Fprintf(&b, "Paid:      %s\n", FormatMoney(period.PaidAmount))
	fmt.Fprintf(&b, "Covered:   %s\n", yesNo(period.IsCovered()))
	fmt.Fprintf(&b, "Processed: %s by %s\n", period.ProcessedAt.Format(time.RFC3339), period.ProcessedBy)
	if period.Status == model.PeriodVoid && period.VoidedAt != nil {
		fmt.Fprintf(&b, "Voided:    %s by %s (%s)\n", period.VoidedAt.Format(time.RFC3339), period.VoidedBy, period.VoidReason)
	}

	sessions := newTable("Date", "Time", "Minutes", "Event")
	for _, s := range period.Sessions {
		sessions.Row(s.Date, s.Time, strconv.Itoa(s.DurationMinutes), s.ExternalEventID)
	}
	b.WriteString("\n" + sessions.String())

	if len(payments) > 0 {
		b.WriteString("\n" + RenderPayments(payments))
	}
	return RenderBox("Billing period "+period.ID, b.String())
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// RenderPayments renders a period's payments.
func RenderPayments(payments []model.Payment) string {
	t := newTable("ID", "Date", "Amount", "Method", "Reference", "Recorded by")
	for _, p := range payments {
		t.Row(p.ID, p.PaymentDate.Format(time.DateOnly), FormatMoney(p.Amount), p.Method, p.Reference, p.RecordedBy)
	}
	return t.String()
}

// RenderMatchedEvents renders reconciliation outcomes for review.
func RenderMatchedEvents(events []model.MatchedEvent) string {
	t := newTable("ID", "Date", "Amount", "Sender", "Session", "Strategy", "Confidence", "Status")
	for _, e := range events {
		sender := strings.TrimSpace(e.SenderFirstName + " " + e.SenderInitials)
		t.Row(
			e.ID,
			e.Date.Format(time.DateOnly),
			FormatMoney(e.Amount),
			sender,
			e.SessionID,
			string(e.MatchType),
			fmt.Sprintf("%.0f%%", e.Confidence*100),
			FormatMatchStatus(e.Status),
		)
	}
	return t.String()
}

// RenderConnections renders linked bank accounts.
func RenderConnections(conns []model.BankConnection) string {
	t := newTable("ID", "Therapist", "Provider", "Account", "Status", "Last sync")
	for _, c := range conns {
		lastSync := "never"
		if c.LastSyncAt != nil {
			lastSync = c.LastSyncAt.Format(time.RFC3339)
		}
		t.Row(c.ID, c.TherapistID, string(c.Provider), accountLabel(c), string(c.Status), lastSync)
	}
	return t.String()
}

// accountLabel hides credentials stored as account references.
func accountLabel(c model.BankConnection) string {
	switch c.Provider {
	case model.ProviderPlaid, model.ProviderSimpleFIN:
		ref := c.ProviderAccountID
		if len(ref) <= 4 {
			return "****"
		}
		return "****" + ref[len(ref)-4:]
	default:
		return c.ProviderAccountID
	}
}

// RenderPatients renders a therapist's patients.
func RenderPatients(patients []model.Patient) string {
	t := newTable("ID", "Name", "Price", "Billing start")
	for _, p := range patients {
		start := "-"
		if p.BillingStartDate != nil {
			start = p.BillingStartDate.Format(time.DateOnly)
		}
		t.Row(p.ID, p.Name, FormatMoney(p.Price), start)
	}
	return t.String()
}

// RenderRunSummary renders the totals of a reconciliation run.
func RenderRunSummary(s *reconcile.RunSummary) string {
	lines := []string{
		fmt.Sprintf("%s Connections: %d (%d failed)", BankIcon, s.Connections, s.Failed),
		fmt.Sprintf("Fetched:     %d", s.Fetched),
		fmt.Sprintf("Matched:     %s", SuccessStyle.Render(strconv.Itoa(s.Matched))),
		fmt.Sprintf("Unmatched:   %d", s.Unmatched),
		fmt.Sprintf("Skipped:     %d", s.Skipped),
		fmt.Sprintf("Ignored:     %d", s.Ignored),
	}
	if s.Conflicts > 0 {
		lines = append(lines, WarningStyle.Render(fmt.Sprintf("Conflicts:   %d", s.Conflicts)))
	}
	for _, err := range s.Errors {
		lines = append(lines, FormatError(err.Error()))
	}
	lines = append(lines, SubtleStyle.Render(fmt.Sprintf("Completed in %s", s.ProcessingTime.Round(time.Millisecond))))
	return RenderBox("Reconciliation", strings.Join(lines, "\n"))
}
