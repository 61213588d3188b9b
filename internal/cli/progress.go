package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/reconcile"
	"github.com/schollz/progressbar/v3"
)

// ReconcileProgress shows one tick per reconciled bank connection.
type ReconcileProgress struct {
	writer io.Writer
	bar    *progressbar.ProgressBar
	failed []string
	mu     sync.Mutex
}

// NewReconcileProgress creates a progress bar for total connections.
func NewReconcileProgress(writer io.Writer, total int) *ReconcileProgress {
	if writer == nil {
		writer = os.Stdout
	}

	p := &ReconcileProgress{writer: writer}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Reconciling connections...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(writer); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return p
}

// Advance is a reconcile.ProgressFunc.
func (p *ReconcileProgress) Advance(conn model.BankConnection, result reconcile.RunSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if result.Failed > 0 {
		p.failed = append(p.failed, conn.ID)
	}
	if err := p.bar.Add(1); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// FailedConnections returns the ids of connections whose batch failed.
func (p *ReconcileProgress) FailedConnections() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.failed...)
}
