package storage

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedConnection(t *testing.T, store *SQLiteStorage, therapistID string) *model.BankConnection {
	t.Helper()
	conn := &model.BankConnection{
		ID:                "conn-1",
		TherapistID:       therapistID,
		Provider:          model.ProviderSimulated,
		ProviderAccountID: "acct-1",
	}
	require.NoError(t, store.CreateConnection(context.Background(), conn))
	return conn
}

func newTestMatch(id, connID, txID string, session *model.Session) *model.MatchedEvent {
	return &model.MatchedEvent{
		ID:                    id,
		ConnectionID:          connID,
		ProviderTransactionID: txID,
		Amount:                session.Price,
		Date:                  session.Date,
		SenderFirstName:       "Maria",
		SenderInitials:        "S",
		SessionID:             session.ID,
		PatientID:             session.PatientID,
		MatchType:             model.MatchDocument,
		Confidence:            0.95,
		Reason:                "document match",
	}
}

func TestProcessedEvents_Idempotent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	therapist, _ := seedPractice(t, store, 20000)
	conn := seedConnection(t, store, therapist.ID)

	processed, err := store.IsProcessed(ctx, conn.ID, "tx-1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, store.RecordUnmatched(ctx, conn.ID, "tx-1", time.Now()))

	processed, err = store.IsProcessed(ctx, conn.ID, "tx-1")
	require.NoError(t, err)
	assert.True(t, processed)

	err = store.RecordUnmatched(ctx, conn.ID, "tx-1", time.Now())
	assert.ErrorIs(t, err, common.ErrEventProcessed)
	assert.True(t, common.IsConflict(err))

	event, err := store.GetProcessedEvent(ctx, conn.ID, "tx-1")
	require.NoError(t, err)
	assert.False(t, event.MatchFound)

	_, err = store.GetProcessedEvent(ctx, conn.ID, "tx-2")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRecordMatch_SettlesSessionAtomically(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	therapist, patient := seedPractice(t, store, 20000)
	conn := seedConnection(t, store, therapist.ID)

	session := makeSession("s-1", patient, time.Now().Add(-48*time.Hour))
	require.NoError(t, store.CreateSession(ctx, session))

	require.NoError(t, store.RecordMatch(ctx, newTestMatch("m-1", conn.ID, "tx-1", session)))

	got, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionAttended, got.Status)
	assert.Equal(t, model.PaymentPaid, got.PaymentStatus)

	event, err := store.GetProcessedEvent(ctx, conn.ID, "tx-1")
	require.NoError(t, err)
	assert.True(t, event.MatchFound)

	matches, err := store.ListMatchedEvents(ctx, therapist.ID)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, model.MatchConfirmed, matches[0].Status)
	assert.Equal(t, "Maria", matches[0].SenderFirstName)
}

func TestRecordMatch_SessionAlreadyMatchedLeavesNoLedgerRow(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	therapist, patient := seedPractice(t, store, 20000)
	conn := seedConnection(t, store, therapist.ID)

	session := makeSession("s-1", patient, time.Now().Add(-48*time.Hour))
	require.NoError(t, store.CreateSession(ctx, session))
	require.NoError(t, store.RecordMatch(ctx, newTestMatch("m-1", conn.ID, "tx-1", session)))

	err := store.RecordMatch(ctx, newTestMatch("m-2", conn.ID, "tx-2", session))
	require.ErrorIs(t, err, common.ErrAlreadyMatched)

	processed, err := store.IsProcessed(ctx, conn.ID, "tx-2")
	require.NoError(t, err)
	assert.False(t, processed, "a rolled back match must leave the transaction unprocessed")

	matches, err := store.ListMatchedEvents(ctx, therapist.ID)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRecordMatch_UnknownSessionRollsBack(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	therapist, patient := seedPractice(t, store, 20000)
	conn := seedConnection(t, store, therapist.ID)

	ghost := makeSession("ghost", patient, time.Now())
	err := store.RecordMatch(ctx, newTestMatch("m-1", conn.ID, "tx-1", ghost))
	require.Error(t, err)

	processed, err := store.IsProcessed(ctx, conn.ID, "tx-1")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestListCandidateSessions(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	therapist, patient := seedPractice(t, store, 20000)
	conn := seedConnection(t, store, therapist.ID)

	now := time.Date(2024, time.March, 20, 12, 0, 0, 0, time.UTC)
	sessions := []*model.Session{
		makeSession("old", patient, now.AddDate(0, 0, -61)),
		makeSession("early", patient, now.AddDate(0, 0, -10)),
		makeSession("recent", patient, now.AddDate(0, 0, -2)),
		makeSession("upcoming", patient, now.AddDate(0, 0, 5)),
		makeSession("far", patient, now.AddDate(0, 0, 8)),
		makeSession("attended", patient, now.AddDate(0, 0, -3)),
		makeSession("paid", patient, now.AddDate(0, 0, -4)),
		makeSession("matched", patient, now.AddDate(0, 0, -5)),
	}
	sessions[5].Status = model.SessionAttended
	sessions[6].PaymentStatus = model.PaymentPaid
	for _, s := range sessions {
		require.NoError(t, store.CreateSession(ctx, s))
	}
	// Matching settles the session too, so reset it to isolate the matched_events filter.
	require.NoError(t, store.RecordMatch(ctx, newTestMatch("m-1", conn.ID, "tx-1", sessions[7])))
	_, err := store.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'scheduled', payment_status = 'pending' WHERE id = 'matched'`)
	require.NoError(t, err)

	candidates, err := store.ListCandidateSessions(ctx, service.CandidateFilter{
		TherapistID: therapist.ID,
		From:        now.AddDate(0, 0, -60),
		To:          now.AddDate(0, 0, 7),
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
		assert.Equal(t, "Maria Silva", c.PatientName)
		assert.Equal(t, "123.456.789-09", c.PatientDocument)
	}
	assert.Equal(t, []string{"upcoming", "recent", "early"}, ids)
}

func TestUpdateMatchedEventStatus(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	therapist, patient := seedPractice(t, store, 20000)
	conn := seedConnection(t, store, therapist.ID)

	session := makeSession("s-1", patient, time.Now())
	require.NoError(t, store.CreateSession(ctx, session))
	require.NoError(t, store.RecordMatch(ctx, newTestMatch("m-1", conn.ID, "tx-1", session)))

	require.NoError(t, store.UpdateMatchedEventStatus(ctx, "m-1", model.MatchDisputed))
	assert.ErrorIs(t, store.UpdateMatchedEventStatus(ctx, "m-1", "bogus"), ErrInvalidMatchStatus)
	assert.ErrorIs(t, store.UpdateMatchedEventStatus(ctx, "missing", model.MatchDisputed), common.ErrNotFound)

	matches, err := store.ListMatchedEvents(ctx, therapist.ID)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, model.MatchDisputed, matches[0].Status)
}

func TestConnections(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	therapist, _ := seedPractice(t, store, 20000)
	conn := seedConnection(t, store, therapist.ID)

	require.NoError(t, store.CreateConnection(ctx, &model.BankConnection{
		ID: "conn-2", TherapistID: therapist.ID, Provider: model.ProviderPlaid,
		ProviderAccountID: "token", Status: model.ConnectionRevoked,
	}))

	active, err := store.ListConnections(ctx, model.ConnectionActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, conn.ID, active[0].ID)
	assert.Nil(t, active[0].LastSyncAt)

	all, err := store.ListConnections(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	at := time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateLastSync(ctx, conn.ID, at))
	got, err := store.GetConnection(ctx, conn.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, got.LastSyncAt.Equal(at))

	assert.ErrorIs(t, store.UpdateLastSync(ctx, "missing", at), common.ErrNotFound)
	_, err = store.GetConnection(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
