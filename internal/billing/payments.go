package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/service"
	"github.com/google/uuid"
)

// DefaultPaymentMethod is recorded when the caller does not name one.
const DefaultPaymentMethod = "other"

// RecordPaymentInput describes a payment against a billing period.
type RecordPaymentInput struct {
	PaymentDate time.Time
	PeriodID    string
	Method      string
	Reference   string
	RecordedBy  string
	Notes       string
	Amount      int64
}

// PaymentLedger records payments. Amounts are not validated against the period total.
type PaymentLedger struct {
	store  service.BillingStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewPaymentLedger creates a payment ledger.
func NewPaymentLedger(store service.BillingStore) *PaymentLedger {
	return &PaymentLedger{
		store:  store,
		logger: slog.Default().With("component", "payments"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Record stores a payment. It fails with common.ErrPeriodNotFound or
// common.ErrPeriodVoided; the status check and insert are one transaction.
func (l *PaymentLedger) Record(ctx context.Context, in RecordPaymentInput) (*model.Payment, error) {
	payment := &model.Payment{
		ID:              l.newID(),
		BillingPeriodID: in.PeriodID,
		Amount:          in.Amount,
		Method:          in.Method,
		PaymentDate:     in.PaymentDate,
		Reference:       in.Reference,
		RecordedBy:      in.RecordedBy,
		Notes:           in.Notes,
		CreatedAt:       l.now().UTC(),
	}
	if payment.Method == "" {
		payment.Method = DefaultPaymentMethod
	}
	if payment.PaymentDate.IsZero() {
		payment.PaymentDate = payment.CreatedAt
	}

	if err := l.store.RecordPayment(ctx, payment); err != nil {
		return nil, err
	}

	l.logger.Info("recorded payment",
		"payment_id", payment.ID,
		"period_id", payment.BillingPeriodID,
		"amount", model.FormatMinorUnits(payment.Amount))
	return payment, nil
}

// Delete removes a payment and reports whether it existed. Removing the last
// payment makes the period voidable again.
func (l *PaymentLedger) Delete(ctx context.Context, paymentID string) (bool, error) {
	existed, err := l.store.DeletePayment(ctx, paymentID)
	if err != nil {
		return false, err
	}
	if existed {
		l.logger.Info("deleted payment", "payment_id", paymentID)
	}
	return existed, nil
}

// List returns a period's payments.
func (l *PaymentLedger) List(ctx context.Context, periodID string) ([]model.Payment, error) {
	return l.store.ListPayments(ctx, periodID)
}
