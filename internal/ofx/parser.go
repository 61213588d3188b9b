// Package ofx reads OFX/QFX bank statements and serves them as a bank source
// for connections that have no aggregator.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/aclindsa/ofxgo"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	tagFixRegex   = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Parser implements OFX/QFX file parsing.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{logger: slog.Default().With("component", "ofx")}
}

// preprocessOFX fixes common formatting issues in OFX files.
func (p *Parser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")

	// SEVERITY must be upper case.
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)

	// SGML exports sometimes drop the closing bracket of an empty opening tag.
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// ParseFile parses an OFX/QFX statement. Credits are positive amounts.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader) ([]model.BankTransaction, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var transactions []model.BankTransaction
	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		accountID := string(stmt.BankAcctFrom.AcctID)
		for _, ofxTx := range stmt.BankTranList.Transactions {
			transactions = append(transactions, p.convertTransaction(ofxTx, accountID))
		}
	}

	p.logger.Debug("parsed OFX statement", "transactions", len(transactions), "statements", len(resp.Bank))
	return transactions, nil
}

// convertTransaction converts an OFX transaction to our model.
func (p *Parser) convertTransaction(ofxTx ofxgo.Transaction, accountID string) model.BankTransaction {
	tx := model.BankTransaction{
		ID:          string(ofxTx.FiTID),
		AccountID:   accountID,
		Date:        ofxTx.DtPosted.Time,
		Amount:      model.MinorUnitsFromRat(&ofxTx.TrnAmt.Rat),
		Description: strings.TrimSpace(string(ofxTx.Memo)),
		Type:        ofxTx.TrnType.String(),
	}
	if tx.Description == "" {
		tx.Description = strings.TrimSpace(string(ofxTx.Name))
	}

	if name := payerName(ofxTx); name != "" || ofxTx.RefNum != "" {
		tx.Payer = &model.Payer{Name: name, EndToEndID: string(ofxTx.RefNum)}
	}

	if tx.ID == "" {
		tx.ID = tx.GenerateHash()
	}
	return tx
}

// payerName prefers the PAYEE aggregate and falls back to NAME, skipping
// generic bank labels.
func payerName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := strings.TrimSpace(string(tx.Name))
	if isGenericDescription(name) {
		return ""
	}
	return name
}

// isGenericDescription checks if a transaction name is too generic to be a payer.
func isGenericDescription(name string) bool {
	generic := []string{
		"DEBIT",
		"CREDIT",
		"DEPOSIT",
		"PAYMENT",
		"TRANSFER",
		"PIX RECEBIDO",
		"TED RECEBIDA",
	}

	upperName := strings.ToUpper(name)
	for _, g := range generic {
		if upperName == g {
			return true
		}
	}
	return false
}
