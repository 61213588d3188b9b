package model

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMinorUnitConversions(t *testing.T) {
	assert.Equal(t, int64(20000), MinorUnitsFromFloat(200))
	assert.Equal(t, int64(20050), MinorUnitsFromFloat(200.5))
	assert.Equal(t, int64(1999), MinorUnitsFromFloat(19.99))
	assert.Equal(t, int64(-1050), MinorUnitsFromFloat(-10.5))
	assert.Equal(t, int64(15075), MinorUnitsFromRat(big.NewRat(30150, 200)))
	assert.Equal(t, int64(0), MinorUnitsFromRat(nil))

	v, err := MinorUnitsFromString("200.50")
	assert.NoError(t, err)
	assert.Equal(t, int64(20050), v)

	_, err = MinorUnitsFromString("abc")
	assert.Error(t, err)

	assert.Equal(t, "200.50", FormatMinorUnits(20050))
	assert.Equal(t, "0.07", FormatMinorUnits(7))
}

func TestPatient_BillableIn(t *testing.T) {
	start := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		start *time.Time
		name  string
		year  int
		month time.Month
		want  bool
	}{
		{name: "unset start", start: nil, year: 2024, month: time.March, want: false},
		{name: "same month", start: &start, year: 2024, month: time.March, want: true},
		{name: "earlier month", start: &start, year: 2024, month: time.February, want: false},
		{name: "later month", start: &start, year: 2024, month: time.June, want: true},
		{name: "previous year", start: &start, year: 2023, month: time.December, want: false},
		{name: "next year", start: &start, year: 2025, month: time.January, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Patient{BillingStartDate: tt.start}
			assert.Equal(t, tt.want, p.BillableIn(tt.year, tt.month))
		})
	}
}

func TestPeriodKey_Range(t *testing.T) {
	key := PeriodKey{Year: 2024, Month: time.February}
	start, end := key.Range(time.UTC)
	assert.Equal(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 29, end.Day())
	assert.Equal(t, time.February, end.Month())
}

func TestBillingPeriod_IsCovered(t *testing.T) {
	p := BillingPeriod{Status: PeriodProcessed, TotalAmount: 60000}
	assert.False(t, p.IsCovered())

	p.PaymentCount, p.PaidAmount = 1, 30000
	assert.False(t, p.IsCovered())

	p.PaidAmount = 60000
	assert.True(t, p.IsCovered())
	assert.Equal(t, PeriodProcessed, p.Status)

	p.Status = PeriodVoid
	assert.False(t, p.IsCovered())
}

func TestBankTransaction_PayerAccessors(t *testing.T) {
	txn := BankTransaction{Amount: 100}
	assert.True(t, txn.IsIncoming())
	assert.Empty(t, txn.SenderName())
	assert.Empty(t, txn.SenderDocument())
	assert.Empty(t, txn.SettlementRef())

	txn.Payer = &Payer{Name: "Maria Silva", Document: "123", EndToEndID: "E2E"}
	assert.Equal(t, "Maria Silva", txn.SenderName())
	assert.Equal(t, "123", txn.SenderDocument())
	assert.Equal(t, "E2E", txn.SettlementRef())

	txn.Amount = -5
	assert.False(t, txn.IsIncoming())
}
