// Package reconcile matches incoming bank transactions to unpaid sessions and
// records the outcome exactly once per provider transaction.
package reconcile

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/Veraticus/the-fees-must-flow/internal/model"
)

// Strategy confidences.
const (
	DocumentConfidence   = 0.95
	AmountDateConfidence = 0.80
	NameAmountConfidence = 0.70
)

// MaxDayDistance is the widest gap, in calendar days, accepted by the
// amount and date strategy.
const MaxDayDistance = 3

// Result is the winning candidate and the strategy that selected it.
type Result struct {
	Session    model.CandidateSession
	MatchType  model.MatchType
	Reason     string
	Confidence float64
}

type strategy func(tx *model.BankTransaction, c *model.CandidateSession) (string, bool)

type rankedStrategy struct {
	match      strategy
	matchType  model.MatchType
	confidence float64
}

// strategies in priority order.
var strategies = []rankedStrategy{
	{match: matchDocument, matchType: model.MatchDocument, confidence: DocumentConfidence},
	{match: matchAmountDate, matchType: model.MatchAmountDate, confidence: AmountDateConfidence},
	{match: matchNameAmount, matchType: model.MatchNameAmount, confidence: NameAmountConfidence},
}

// Match walks the candidates in the given order and, for each, tries the
// strategies by priority. The first candidate and strategy pair that hits
// wins; there is no search for a better pair further down the list.
// Callers pass candidates most recent first, so the newest unpaid session
// wins ties.
func Match(tx model.BankTransaction, candidates []model.CandidateSession) (Result, bool) {
	for i := range candidates {
		c := &candidates[i]
		for _, s := range strategies {
			if reason, ok := s.match(&tx, c); ok {
				return Result{
					Session:    *c,
					MatchType:  s.matchType,
					Reason:     reason,
					Confidence: s.confidence,
				}, true
			}
		}
	}
	return Result{}, false
}

func matchDocument(tx *model.BankTransaction, c *model.CandidateSession) (string, bool) {
	sender := digitsOnly(tx.SenderDocument())
	if sender == "" {
		return "", false
	}
	if sender != digitsOnly(c.PatientDocument) {
		return "", false
	}
	return "document match", true
}

func matchAmountDate(tx *model.BankTransaction, c *model.CandidateSession) (string, bool) {
	if tx.Amount != c.Price {
		return "", false
	}
	days := dayDistance(tx.Date, c.Date)
	if days > MaxDayDistance {
		return "", false
	}
	return fmt.Sprintf("amount match within %d days", days), true
}

func matchNameAmount(tx *model.BankTransaction, c *model.CandidateSession) (string, bool) {
	if tx.Amount != c.Price {
		return "", false
	}
	sender := firstToken(tx.SenderName())
	if sender == "" || !strings.EqualFold(sender, firstToken(c.PatientName)) {
		return "", false
	}
	return "first name and amount match", true
}

// dayDistance counts calendar days between the wall-clock dates of a and b,
// ignoring the time of day.
func dayDistance(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func firstToken(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
