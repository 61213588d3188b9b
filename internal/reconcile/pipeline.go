package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/service"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Options configures a reconciliation run.
type Options struct {
	Workers              int            // Connections reconciled concurrently
	ConnectionTimeout    time.Duration  // Budget for one connection's whole batch
	LookbackDays         int            // Transactions fetched since now minus this
	CandidateDaysBack    int            // Oldest session offered to the matcher
	CandidateDaysForward int            // Newest session offered to the matcher
	RequestsPerSecond    float64        // Shared limit on provider fetches; zero means unlimited
	Location             *time.Location // Zone whose calendar dates sessions are matched on
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Workers:              4,
		ConnectionTimeout:    30 * time.Second,
		LookbackDays:         30,
		CandidateDaysBack:    60,
		CandidateDaysForward: 7,
		RequestsPerSecond:    5,
		Location:             time.UTC,
	}
}

// Store is the persistence the pipeline needs.
type Store interface {
	service.ConnectionStore
	service.ReconciliationStore
}

// Fetcher lists a connection's transactions. bank.Router implements it.
type Fetcher interface {
	ListTransactions(ctx context.Context, conn model.BankConnection, since time.Time) ([]model.BankTransaction, error)
}

// ProgressFunc is called after each connection finishes.
type ProgressFunc func(conn model.BankConnection, result RunSummary)

// RunSummary contains statistics about a reconciliation run.
type RunSummary struct {
	Errors         []error
	ProcessingTime time.Duration
	Connections    int // Connections attempted
	Failed         int // Connections whose fetch or batch failed
	Fetched        int // Transactions returned by providers
	Ignored        int // Outgoing or zero-amount transactions
	Skipped        int // Already in the ledger
	Matched        int
	Unmatched      int
	Conflicts      int // Lost a race on the session or the ledger
}

func (s *RunSummary) add(o RunSummary) {
	s.Connections += o.Connections
	s.Failed += o.Failed
	s.Fetched += o.Fetched
	s.Ignored += o.Ignored
	s.Skipped += o.Skipped
	s.Matched += o.Matched
	s.Unmatched += o.Unmatched
	s.Conflicts += o.Conflicts
	s.Errors = append(s.Errors, o.Errors...)
}

// Pipeline pulls transactions for every active connection and reconciles
// them against unpaid sessions.
type Pipeline struct {
	store    Store
	fetcher  Fetcher
	matches  *MatchedEventStore
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time
	progress ProgressFunc
	opts     Options
}

// NewPipeline creates a reconciliation pipeline.
func NewPipeline(store Store, fetcher Fetcher, opts Options) *Pipeline {
	defaults := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = defaults.ConnectionTimeout
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = defaults.LookbackDays
	}
	if opts.CandidateDaysBack <= 0 {
		opts.CandidateDaysBack = defaults.CandidateDaysBack
	}
	if opts.CandidateDaysForward < 0 {
		opts.CandidateDaysForward = defaults.CandidateDaysForward
	}
	if opts.Location == nil {
		opts.Location = defaults.Location
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Pipeline{
		store:   store,
		fetcher: fetcher,
		matches: NewMatchedEventStore(store),
		limiter: rate.NewLimiter(limit, 1),
		logger:  slog.Default().With("component", "reconcile"),
		now:     time.Now,
		opts:    opts,
	}
}

// OnProgress registers a callback invoked once per finished connection.
func (p *Pipeline) OnProgress(fn ProgressFunc) {
	p.progress = fn
}

// Run reconciles every active connection. Revoked connections are not read.
// A failing connection is logged and counted; it never stops the others.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	start := time.Now()

	conns, err := p.store.ListConnections(ctx, model.ConnectionActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	summary := &RunSummary{}
	if len(conns) == 0 {
		p.logger.Info("no active bank connections")
		return summary, nil
	}

	p.logger.Info("starting reconciliation",
		"connections", len(conns),
		"workers", p.opts.Workers)

	now := p.now()
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)

	for _, conn := range conns {
		g.Go(func() error {
			result := p.reconcileConnection(ctx, conn, now)

			mu.Lock()
			defer mu.Unlock()
			summary.add(result)
			if p.progress != nil {
				p.progress(conn, result)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.ProcessingTime = time.Since(start)
	p.logger.Info("reconciliation complete",
		"connections", summary.Connections,
		"failed", summary.Failed,
		"fetched", summary.Fetched,
		"matched", summary.Matched,
		"unmatched", summary.Unmatched,
		"skipped", summary.Skipped,
		"conflicts", summary.Conflicts,
		"duration", summary.ProcessingTime)
	return summary, nil
}

// RunConnection reconciles a single connection on demand.
func (p *Pipeline) RunConnection(ctx context.Context, connectionID string) (*RunSummary, error) {
	start := time.Now()

	conn, err := p.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.Status != model.ConnectionActive {
		return nil, fmt.Errorf("%w: connection %s is %s", common.ErrInvalidAccount, conn.ID, conn.Status)
	}

	result := p.reconcileConnection(ctx, *conn, p.now())
	if p.progress != nil {
		p.progress(*conn, result)
	}
	result.ProcessingTime = time.Since(start)
	return &result, nil
}

// reconcileConnection processes one connection's batch sequentially under a
// single timeout. The checkpoint only advances when the batch completes.
func (p *Pipeline) reconcileConnection(ctx context.Context, conn model.BankConnection, now time.Time) RunSummary {
	result := RunSummary{Connections: 1}
	logger := p.logger.With("connection_id", conn.ID, "provider", conn.Provider)

	batchCtx, cancel := context.WithTimeout(ctx, p.opts.ConnectionTimeout)
	defer cancel()

	fail := func(err error) RunSummary {
		logger.Warn("connection batch failed", "error", err)
		result.Failed++
		result.Errors = append(result.Errors, fmt.Errorf("connection %s: %w", conn.ID, err))
		return result
	}

	if err := p.limiter.Wait(batchCtx); err != nil {
		return fail(err)
	}

	since := now.AddDate(0, 0, -p.opts.LookbackDays)
	txs, err := p.fetcher.ListTransactions(batchCtx, conn, since)
	if err != nil {
		return fail(err)
	}
	result.Fetched = len(txs)
	logger.Debug("fetched transactions", "count", len(txs), "since", since.Format(time.DateOnly))

	filter := service.CandidateFilter{
		TherapistID: conn.TherapistID,
		From:        now.AddDate(0, 0, -p.opts.CandidateDaysBack),
		To:          now.AddDate(0, 0, p.opts.CandidateDaysForward),
	}

	for _, tx := range txs {
		if batchCtx.Err() != nil {
			break
		}
		if !tx.IsIncoming() {
			result.Ignored++
			continue
		}
		if err := p.processTransaction(batchCtx, logger, conn, tx, filter, &result); err != nil {
			logger.Warn("transaction left unprocessed", "transaction_id", tx.ID, "error", err)
			result.Errors = append(result.Errors, fmt.Errorf("connection %s transaction %s: %w", conn.ID, tx.ID, err))
		}
	}

	if err := batchCtx.Err(); err != nil {
		return fail(err)
	}

	if err := p.store.UpdateLastSync(batchCtx, conn.ID, now.UTC()); err != nil {
		return fail(fmt.Errorf("failed to update last sync: %w", err))
	}

	logger.Info("connection reconciled",
		"fetched", result.Fetched,
		"matched", result.Matched,
		"unmatched", result.Unmatched,
		"skipped", result.Skipped)
	return result
}

// processTransaction consults the ledger, matches, and writes the outcome.
// A returned error means nothing was written and the next run retries.
func (p *Pipeline) processTransaction(ctx context.Context, logger *slog.Logger, conn model.BankConnection, tx model.BankTransaction, filter service.CandidateFilter, result *RunSummary) error {
	if tx.ID == "" {
		return errors.New("transaction has no provider id")
	}

	processed, err := p.store.IsProcessed(ctx, conn.ID, tx.ID)
	if err != nil {
		return fmt.Errorf("failed to check ledger: %w", err)
	}
	if processed {
		result.Skipped++
		return nil
	}

	candidates, err := p.store.ListCandidateSessions(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list candidate sessions: %w", err)
	}
	// Sessions come back in UTC; compare on the practice's wall-clock date.
	for i := range candidates {
		candidates[i].Date = candidates[i].Date.In(p.opts.Location)
	}

	match, ok := Match(tx, candidates)
	if !ok {
		err := p.store.RecordUnmatched(ctx, conn.ID, tx.ID, p.now().UTC())
		switch {
		case err == nil:
			result.Unmatched++
			logger.Debug("no match", "transaction_id", tx.ID)
		case errors.Is(err, common.ErrEventProcessed):
			result.Skipped++
		default:
			return fmt.Errorf("failed to record unmatched transaction: %w", err)
		}
		return nil
	}

	if _, err := p.matches.Store(ctx, conn, tx, match); err != nil {
		if common.IsConflict(err) {
			result.Conflicts++
			logger.Info("match conflict, leaving transaction for the next run",
				"transaction_id", tx.ID,
				"session_id", match.Session.ID,
				"error", err)
			return nil
		}
		return err
	}
	result.Matched++
	return nil
}
