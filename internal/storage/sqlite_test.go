package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

// seedPractice creates a therapist with one patient billed at price.
func seedPractice(t *testing.T, store *SQLiteStorage, price int64) (*model.Therapist, *model.Patient) {
	t.Helper()
	ctx := context.Background()

	therapist := &model.Therapist{ID: "th-1", Name: "Dr. Ana", CalendarID: "primary", TimeZone: "America/Sao_Paulo"}
	require.NoError(t, store.CreateTherapist(ctx, therapist))

	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	patient := &model.Patient{
		ID:               "pt-1",
		TherapistID:      therapist.ID,
		Name:             "Maria Silva",
		Email:            "maria@example.com",
		Document:         "123.456.789-09",
		Price:            price,
		BillingStartDate: &start,
	}
	require.NoError(t, store.CreatePatient(ctx, patient))
	return therapist, patient
}

func makeSession(id string, patient *model.Patient, date time.Time) *model.Session {
	return &model.Session{
		ID:          id,
		TherapistID: patient.TherapistID,
		PatientID:   patient.ID,
		Date:        date,
		Price:       patient.Price,
	}
}

func TestSQLiteStorage_Migrations(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store1, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store1.Migrate(ctx))
	_ = store1.Close()

	// Running migrations again must not error.
	store2, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer func() { _ = store2.Close() }()
	require.NoError(t, store2.Migrate(ctx))

	var version int
	require.NoError(t, store2.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version))
	assert.Equal(t, ExpectedSchemaVersion, version)

	for _, index := range []string{"idx_billing_periods_active_key", "idx_matched_events_session"} {
		var count int
		require.NoError(t, store2.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, index).Scan(&count))
		assert.Equal(t, 1, count, "index %s", index)
	}
}

func TestSQLiteStorage_ProcessedEventsHasNoPayerColumns(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	rows, err := store.db.Query(`PRAGMA table_info(processed_events)`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	var columns []string
	for rows.Next() {
		var (
			cid           int
			name, colType string
			notNull, pk   int
			defaultValue  any
		)
		require.NoError(t, rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk))
		columns = append(columns, name)
	}
	require.NoError(t, rows.Err())
	assert.ElementsMatch(t, []string{"connection_id", "provider_transaction_id", "match_found", "processed_at"}, columns)
}

func TestSQLiteStorage_NilContext(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	//nolint:staticcheck // nil context is the case under test
	_, err := store.GetBillingPeriod(nil, "x")
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestSQLiteStorage_ConcurrentPeriodCreation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	therapist, patient := seedPractice(t, store, 20000)

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.CreateBillingPeriod(ctx, &model.BillingPeriod{
				ID:          fmt.Sprintf("bp-%d", i),
				TherapistID: therapist.ID,
				PatientID:   patient.ID,
				Year:        2024,
				Month:       time.March,
				ProcessedAt: time.Now(),
				ProcessedBy: "test",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
				return
			}
			errs = append(errs, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	require.Len(t, errs, writers-1)
	for _, err := range errs {
		assert.ErrorIs(t, err, common.ErrAlreadyProcessed)
	}
}
