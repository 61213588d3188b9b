package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Payer carries whatever the provider reports about who sent the funds.
// It is held in memory only and never persisted for unmatched transactions.
type Payer struct {
	Name       string
	Document   string
	EndToEndID string
}

// BankTransaction is one transaction reported by a bank-aggregation source.
type BankTransaction struct {
	Date        time.Time
	Payer       *Payer
	ID          string
	AccountID   string
	Description string
	Type        string
	// Amount in minor units; positive means incoming funds.
	Amount int64
}

// IsIncoming reports whether the transaction moved money into the account.
func (t *BankTransaction) IsIncoming() bool {
	return t.Amount > 0
}

// SenderName returns the payer name or an empty string.
func (t *BankTransaction) SenderName() string {
	if t.Payer == nil {
		return ""
	}
	return t.Payer.Name
}

// SenderDocument returns the payer document or an empty string.
func (t *BankTransaction) SenderDocument() string {
	if t.Payer == nil {
		return ""
	}
	return t.Payer.Document
}

// SettlementRef returns the end-to-end settlement identifier, if any.
func (t *BankTransaction) SettlementRef() string {
	if t.Payer == nil {
		return ""
	}
	return t.Payer.EndToEndID
}

// GenerateHash creates a stable identifier for sources that do not supply one.
func (t *BankTransaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%d:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.Description,
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
