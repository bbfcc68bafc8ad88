package persistence_test

import (
	"Parimutuel/internal/ledger"
	"Parimutuel/internal/market"
	"Parimutuel/internal/persistence"
	"Parimutuel/internal/testutil"
	"Parimutuel/migrations"
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventRow(seq int64, op, key string) persistence.EventRow {
	return persistence.EventRow{
		Sequence:       seq,
		EventType:      "WagerPlaced",
		Operation:      op,
		IdempotencyKey: key,
		Token:          "TOKEN",
		Facet:          "truthfulness",
		Participant:    "alice",
		Round:          1,
		Payload:        []byte(`{"amount":100}`),
		StateDigest:    []byte(`{}`),
		StateHash:      []byte(fmt.Sprintf("hash-%02d", seq)),
		PrevHash:       []byte(fmt.Sprintf("hash-%02d", seq-1)),
		Timestamp:      time.Date(2026, 3, 1, 12, 0, int(seq), 0, time.UTC).UnixNano(),
	}
}

func writeEvents(t *testing.T, db *sql.DB, rows []persistence.EventRow, journals []persistence.JournalRow) {
	t.Helper()
	w := persistence.NewEventLogWriter(db, persistence.DialectSQLite)
	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, w.WriteEventBatch(context.Background(), rows, tx))
	require.NoError(t, w.WriteJournalBatch(context.Background(), journals, tx))
	require.NoError(t, tx.Commit())
}

// ============================================================================
// Test: EventLogWriter
// ============================================================================

func TestEventLogWriter_WriteIsIdempotent(t *testing.T) {
	db := testutil.SetupSQLite(t)
	rows := []persistence.EventRow{eventRow(0, "wager", "c0"), eventRow(1, "wager", "c1")}

	writeEvents(t, db, rows, nil)
	writeEvents(t, db, rows, nil) // retried batch

	sm := persistence.NewSnapshotManager(db, persistence.DialectSQLite)
	latest, err := sm.GetLatestSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest)

	events, err := sm.LoadEventsFrom(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, rows[1], events[1])
}

func TestEventLogWriter_CustodyBalancesFromJournals(t *testing.T) {
	db := testutil.SetupSQLite(t)
	gen := ledger.NewJournalGenerator(func() time.Time { return time.Unix(1, 0) })

	var journals []persistence.JournalRow
	journals = append(journals, persistence.JournalRowsFromBatch(gen.GenerateFund("f1", "alice", ledger.AssetSOL, 1000))...)
	journals = append(journals, persistence.JournalRowsFromBatch(gen.GenerateWager("w1", "alice", "treasury", 400))...)
	writeEvents(t, db, nil, journals)

	w := persistence.NewEventLogWriter(db, persistence.DialectSQLite)
	balances, err := w.LoadCustodyBalances(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(600), balances[ledger.NewParticipantAccountKey("alice", ledger.AssetSOL)])
	assert.Equal(t, int64(400), balances[ledger.NewTreasuryAccountKey("treasury", ledger.AssetSOL)])
	assert.Equal(t, int64(-1000), balances[ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetSOL)])
}

func TestSnapshotManager_ChainTipAndRecentKeys(t *testing.T) {
	db := testutil.SetupSQLite(t)
	sm := persistence.NewSnapshotManager(db, persistence.DialectSQLite)
	ctx := context.Background()

	next, hash, err := sm.ChainTip(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), next)
	assert.Nil(t, hash)

	writeEvents(t, db, []persistence.EventRow{
		eventRow(0, "start_market", "a"),
		eventRow(1, "wager", "b"),
		eventRow(2, "vote", "c"),
	}, nil)

	next, hash, err = sm.ChainTip(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), next)
	assert.Equal(t, []byte("hash-02"), hash)

	keys, err := sm.RecentIdempotencyKeys(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"wager:b", "vote:c"}, keys)
}

// ============================================================================
// Test: Snapshots
// ============================================================================

func TestSnapshotManager_OnlyVerifiedSnapshotsLoad(t *testing.T) {
	db := testutil.SetupSQLite(t)
	sm := persistence.NewSnapshotManager(db, persistence.DialectSQLite)
	ctx := context.Background()

	balances := map[ledger.AccountKey]int64{
		ledger.NewParticipantAccountKey("alice", ledger.AssetSOL):                    600,
		ledger.NewTreasuryAccountKey("treasury", ledger.AssetSOL):                    400,
		ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetSOL): -1000,
	}
	snap := &persistence.SnapshotData{
		Sequence:        7,
		StateHash:       []byte("tip"),
		Records:         &market.Records{},
		Balances:        persistence.BalanceEntries(balances),
		MintInitialised: true,
		IdempotencyKeys: []string{"wager:x"},
		CreatedAt:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	data, err := sm.SaveSnapshot(ctx, snap)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	loaded, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "unverified snapshot must not load")

	pending, err := sm.UnverifiedSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64][]byte{7: []byte("tip")}, pending)

	require.NoError(t, sm.MarkVerified(ctx, 7))
	loaded, err = sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, int64(7), loaded.Sequence)
	assert.True(t, loaded.MintInitialised)

	restored, err := persistence.BalanceMap(loaded.Balances)
	require.NoError(t, err)
	assert.Equal(t, balances, restored)
}

// ============================================================================
// Test: Idempotency lookup
// ============================================================================

func TestDBIdempotencyChecker(t *testing.T) {
	db := testutil.SetupSQLite(t)
	writeEvents(t, db, []persistence.EventRow{eventRow(0, "wager", "cmd-1")}, nil)

	c := persistence.NewDBIdempotencyChecker(db, persistence.DialectSQLite)

	dup, err := c.IsDuplicate("wager", "cmd-1")
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = c.IsDuplicate("vote", "cmd-1")
	require.NoError(t, err)
	assert.False(t, dup, "same id under another operation is a different command")

	dup, err = c.IsDuplicate("wager", uuid.NewString())
	require.NoError(t, err)
	assert.False(t, dup)
}

// ============================================================================
// Test: Migrator
// ============================================================================

func TestMigrator_UpIsRepeatableAndDownRollsBack(t *testing.T) {
	db := testutil.SetupSQLite(t) // already migrated once
	ctx := context.Background()
	m := persistence.NewMigrator(db, persistence.DialectSQLite, migrations.FS, zerolog.Nop())

	require.NoError(t, m.Up(ctx))
	applied, err := m.Applied(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001", "000002", "000003"}, applied)

	require.NoError(t, m.Down(ctx))
	applied, err = m.Applied(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001", "000002"}, applied)

	_, err = db.Exec(`SELECT 1 FROM settlements`)
	assert.Error(t, err, "projection tables dropped")

	require.NoError(t, m.Up(ctx))
	_, err = db.Exec(`SELECT 1 FROM settlements`)
	assert.NoError(t, err)
}

// ============================================================================
// Test: PersistenceWorker
// ============================================================================

func TestPersistenceWorker_DrainsOnClose(t *testing.T) {
	db := testutil.SetupSQLite(t)
	in := make(chan persistence.Output, 8)
	w := persistence.NewPersistenceWorker(db, persistence.DialectSQLite, in, 100, time.Hour, nil, zerolog.Nop())

	gen := ledger.NewJournalGenerator(nil)
	for i := int64(0); i < 3; i++ {
		row := eventRow(i, "wager", fmt.Sprintf("c%d", i))
		in <- persistence.Output{
			EventRow:    &row,
			JournalRows: persistence.JournalRowsFromBatch(gen.GenerateWager(row.IdempotencyKey, "alice", "treasury", 10)),
		}
	}
	close(in)

	require.NoError(t, w.Run(context.Background()))

	sm := persistence.NewSnapshotManager(db, persistence.DialectSQLite)
	latest, err := sm.GetLatestSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest)

	balances, err := w.GetWriter().LoadCustodyBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(30), balances[ledger.NewTreasuryAccountKey("treasury", ledger.AssetSOL)])
}
