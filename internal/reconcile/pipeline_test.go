package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/bank"
	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runAt = time.Date(2024, time.March, 20, 12, 0, 0, 0, time.UTC)

type pipelineFixture struct {
	db       *testutil.TestDB
	practice *testutil.Practice
	source   *bank.MockSource
	pipeline *Pipeline
}

// newPipelineFixture seeds three unpaid sessions, most recent first:
// s-recent (Maria, 2 days ago), s-joao (João, 3 days ago), s-older (Maria, 10 days ago).
func newPipelineFixture(t *testing.T, connections ...string) *pipelineFixture {
	t.Helper()
	if len(connections) == 0 {
		connections = []string{"conn-1"}
	}

	db := testutil.SetupTestDB(t)
	builder := db.Practice().
		WithPatient("pt-maria", "Maria Silva", 20000, testutil.WithDocument("123.456.789-09")).
		WithPatient("pt-joao", "João Souza", 18000).
		WithSession("s-recent", "pt-maria", runAt.AddDate(0, 0, -2)).
		WithSession("s-joao", "pt-joao", runAt.AddDate(0, 0, -3)).
		WithSession("s-older", "pt-maria", runAt.AddDate(0, 0, -10)).
		WithSession("s-paid", "pt-maria", runAt.AddDate(0, 0, -1), testutil.WithPaymentStatus(model.PaymentPaid)).
		WithSession("s-stale", "pt-maria", runAt.AddDate(0, 0, -90))
	for _, id := range connections {
		builder = builder.WithConnection(id, model.ProviderSimulated, "acct-"+id)
	}
	practice := builder.Build()

	source := bank.NewMockSource()
	router := bank.NewRouter()
	router.Register(model.ProviderSimulated, source)

	p := newTestPipeline(db.Storage, router)
	return &pipelineFixture{db: db, practice: practice, source: source, pipeline: p}
}

func newTestPipeline(store Store, fetcher Fetcher) *Pipeline {
	opts := DefaultOptions()
	opts.RequestsPerSecond = 0
	p := NewPipeline(store, fetcher, opts)
	p.now = func() time.Time { return runAt }
	return p
}

func standardBatch() []model.BankTransaction {
	return []model.BankTransaction{
		{
			ID:     "tx-doc",
			Amount: 15000,
			Date:   runAt.AddDate(0, 0, -1),
			Payer:  &model.Payer{Name: "MARIA DA SILVA", Document: "12345678909", EndToEndID: "E2E-1"},
		},
		{ID: "tx-fee", Amount: -500, Date: runAt.AddDate(0, 0, -1), Description: "TARIFA"},
		{ID: "tx-amount", Amount: 20000, Date: runAt.AddDate(0, 0, -9)},
		{
			ID:     "tx-unknown",
			Amount: 12345,
			Date:   runAt.AddDate(0, 0, -4),
			Payer:  &model.Payer{Name: "Carlos Pereira", Document: "111.222.333-44"},
		},
	}
}

func (f *pipelineFixture) serve(batch []model.BankTransaction) {
	f.source.ListTransactionsFn = func(context.Context, string, time.Time) ([]model.BankTransaction, error) {
		return batch, nil
	}
}

func TestPipeline_Run(t *testing.T) {
	f := newPipelineFixture(t)
	f.serve(standardBatch())
	ctx := context.Background()

	summary, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 1, summary.Connections)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 4, summary.Fetched)
	assert.Equal(t, 1, summary.Ignored)
	assert.Equal(t, 2, summary.Matched)
	assert.Equal(t, 1, summary.Unmatched)
	assert.Equal(t, 0, summary.Skipped)

	calls := f.source.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "acct-conn-1", calls[0].AccountRef)
	assert.True(t, calls[0].Since.Equal(runAt.AddDate(0, 0, -30)))

	events, err := f.db.Storage.ListMatchedEvents(ctx, "th-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	bySession := make(map[string]model.MatchedEvent)
	for _, e := range events {
		bySession[e.SessionID] = e
	}

	doc := bySession["s-recent"]
	assert.Equal(t, "tx-doc", doc.ProviderTransactionID)
	assert.Equal(t, model.MatchDocument, doc.MatchType)
	assert.Equal(t, "Maria", doc.SenderFirstName)
	assert.Equal(t, "D.S.", doc.SenderInitials)
	assert.Equal(t, int64(-5000), doc.AmountDifference)

	amount := bySession["s-older"]
	assert.Equal(t, "tx-amount", amount.ProviderTransactionID)
	assert.Equal(t, model.MatchAmountDate, amount.MatchType)
	assert.Equal(t, "amount match within 1 days", amount.Reason)

	for _, id := range []string{"s-recent", "s-older"} {
		s, err := f.db.Storage.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentPaid, s.PaymentStatus, id)
		assert.Equal(t, model.SessionAttended, s.Status, id)
	}
	joao, err := f.db.Storage.GetSession(ctx, "s-joao")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, joao.PaymentStatus)

	unmatched, err := f.db.Storage.GetProcessedEvent(ctx, "conn-1", "tx-unknown")
	require.NoError(t, err)
	assert.False(t, unmatched.MatchFound)

	matched, err := f.db.Storage.GetProcessedEvent(ctx, "conn-1", "tx-doc")
	require.NoError(t, err)
	assert.True(t, matched.MatchFound)

	_, err = f.db.Storage.GetProcessedEvent(ctx, "conn-1", "tx-fee")
	assert.ErrorIs(t, err, common.ErrNotFound, "outgoing transactions are not recorded")

	conn, err := f.db.Storage.GetConnection(ctx, "conn-1")
	require.NoError(t, err)
	require.NotNil(t, conn.LastSyncAt)
	assert.True(t, conn.LastSyncAt.Equal(runAt))
}

func TestPipeline_Run_IsIdempotent(t *testing.T) {
	f := newPipelineFixture(t)
	f.serve(standardBatch())
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx)
	require.NoError(t, err)

	summary, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 1, summary.Ignored)
	assert.Zero(t, summary.Matched)
	assert.Zero(t, summary.Unmatched)

	events, err := f.db.Storage.ListMatchedEvents(ctx, "th-1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestPipeline_Run_SkipsRevokedConnections(t *testing.T) {
	f := newPipelineFixture(t)
	f.serve(standardBatch())
	ctx := context.Background()

	require.NoError(t, f.db.Storage.CreateConnection(ctx, &model.BankConnection{
		ID:                "conn-revoked",
		TherapistID:       "th-1",
		Provider:          model.ProviderSimulated,
		ProviderAccountID: "acct-revoked",
		Status:            model.ConnectionRevoked,
	}))

	summary, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Connections)
	for _, call := range f.source.Calls() {
		assert.NotEqual(t, "acct-revoked", call.AccountRef)
	}

	_, err = f.pipeline.RunConnection(ctx, "conn-revoked")
	assert.ErrorIs(t, err, common.ErrInvalidAccount)
}

func TestPipeline_Run_IsolatesConnectionFailures(t *testing.T) {
	f := newPipelineFixture(t, "conn-bad", "conn-good")
	ctx := context.Background()

	f.source.ListTransactionsFn = func(_ context.Context, accountRef string, _ time.Time) ([]model.BankTransaction, error) {
		if accountRef == "acct-conn-bad" {
			return nil, common.ErrProviderFailure
		}
		return []model.BankTransaction{{ID: "tx-1", Amount: 20000, Date: runAt.AddDate(0, 0, -2)}}, nil
	}

	summary, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Connections)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Matched)
	require.Len(t, summary.Errors, 1)
	assert.ErrorIs(t, summary.Errors[0], common.ErrProviderFailure)

	bad, err := f.db.Storage.GetConnection(ctx, "conn-bad")
	require.NoError(t, err)
	assert.Nil(t, bad.LastSyncAt, "checkpoint is unchanged after a failed fetch")

	good, err := f.db.Storage.GetConnection(ctx, "conn-good")
	require.NoError(t, err)
	assert.NotNil(t, good.LastSyncAt)
}

func TestPipeline_Run_TimesOutSlowConnections(t *testing.T) {
	f := newPipelineFixture(t)
	f.pipeline.opts.ConnectionTimeout = 20 * time.Millisecond
	f.source.ListTransactionsFn = func(ctx context.Context, _ string, _ time.Time) ([]model.BankTransaction, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	summary, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.ErrorIs(t, summary.Errors[0], context.DeadlineExceeded)

	conn, err := f.db.Storage.GetConnection(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Nil(t, conn.LastSyncAt)
}

// flakyStore fails RecordMatch with a fixed error.
type flakyStore struct {
	Store
	err error
}

func (s *flakyStore) RecordMatch(context.Context, *model.MatchedEvent) error {
	return s.err
}

func TestPipeline_Run_FailedMatchWriteLeavesTransactionUnprocessed(t *testing.T) {
	tests := []struct {
		err           error
		name          string
		wantConflicts int
		wantErrors    int
	}{
		{name: "storage failure", err: errors.New("disk I/O error"), wantErrors: 1},
		{name: "session matched by a racing run", err: common.ErrAlreadyMatched, wantConflicts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t)
			ctx := context.Background()
			f.serve([]model.BankTransaction{{ID: "tx-1", Amount: 20000, Date: runAt.AddDate(0, 0, -2)}})

			router := bank.NewRouter()
			router.Register(model.ProviderSimulated, f.source)
			failing := newTestPipeline(&flakyStore{Store: f.db.Storage, err: tt.err}, router)

			summary, err := failing.Run(ctx)
			require.NoError(t, err)
			assert.Zero(t, summary.Matched)
			assert.Zero(t, summary.Failed)
			assert.Equal(t, tt.wantConflicts, summary.Conflicts)
			assert.Len(t, summary.Errors, tt.wantErrors)

			processed, err := f.db.Storage.IsProcessed(ctx, "conn-1", "tx-1")
			require.NoError(t, err)
			assert.False(t, processed)

			// The next healthy run picks it up.
			summary, err = f.pipeline.Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, summary.Matched)

			event, err := f.db.Storage.GetProcessedEvent(ctx, "conn-1", "tx-1")
			require.NoError(t, err)
			assert.True(t, event.MatchFound)
		})
	}
}

func TestPipeline_Run_ConcurrentConnectionsMatchEachSessionOnce(t *testing.T) {
	f := newPipelineFixture(t, "conn-a", "conn-b", "conn-c")
	ctx := context.Background()

	// Every account reports a payment that fits s-recent.
	f.source.ListTransactionsFn = func(_ context.Context, accountRef string, _ time.Time) ([]model.BankTransaction, error) {
		return []model.BankTransaction{{ID: "tx-" + accountRef, Amount: 20000, Date: runAt.AddDate(0, 0, -2)}}, nil
	}

	summary, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Connections)
	assert.Equal(t, 3, summary.Matched+summary.Unmatched+summary.Conflicts)

	events, err := f.db.Storage.ListMatchedEvents(ctx, "th-1")
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, e := range events {
		assert.False(t, seen[e.SessionID], "session %s matched twice", e.SessionID)
		seen[e.SessionID] = true
	}
}

func TestPipeline_RunConnection(t *testing.T) {
	f := newPipelineFixture(t, "conn-1", "conn-2")
	f.serve(standardBatch())
	ctx := context.Background()

	var mu sync.Mutex
	var reported []string
	f.pipeline.OnProgress(func(conn model.BankConnection, _ RunSummary) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, conn.ID)
	})

	summary, err := f.pipeline.RunConnection(ctx, "conn-2")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Connections)
	assert.Equal(t, 2, summary.Matched)
	assert.Equal(t, []string{"conn-2"}, reported)

	calls := f.source.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "acct-conn-2", calls[0].AccountRef)

	_, err = f.pipeline.RunConnection(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPipeline_Run_MatchesOnPracticeCalendarDate(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	// 21:30 on the 18th in Sao Paulo is already the 19th in UTC.
	evening := time.Date(2024, time.March, 18, 21, 30, 0, 0, loc)
	batch := []model.BankTransaction{{ID: "tx-pix", Amount: 20000, Date: time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)}}

	tests := []struct {
		loc       *time.Location
		name      string
		wantMatch int
	}{
		{name: "practice zone", loc: loc, wantMatch: 1},
		{name: "utc", loc: time.UTC, wantMatch: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.SetupTestDB(t)
			db.Practice().
				WithPatient("pt-maria", "Maria Silva", 20000).
				WithSession("s-evening", "pt-maria", evening).
				WithConnection("conn-1", model.ProviderSimulated, "acct-1").
				Build()

			source := bank.NewMockSource()
			source.ListTransactionsFn = func(context.Context, string, time.Time) ([]model.BankTransaction, error) {
				return batch, nil
			}
			router := bank.NewRouter()
			router.Register(model.ProviderSimulated, source)

			opts := DefaultOptions()
			opts.RequestsPerSecond = 0
			opts.Location = tt.loc
			p := NewPipeline(db.Storage, router, opts)
			p.now = func() time.Time { return runAt }

			summary, err := p.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantMatch, summary.Matched)
			assert.Equal(t, 1-tt.wantMatch, summary.Unmatched)
		})
	}
}
