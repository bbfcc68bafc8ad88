package persistence_test

import (
	"Parimutuel/internal/market"
	"Parimutuel/internal/persistence"
	"Parimutuel/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]market.Store {
	return map[string]market.Store{
		"memory": persistence.NewMemoryStore(),
		"sqlite": persistence.NewSQLStore(testutil.SetupSQLite(t), persistence.DialectSQLite),
	}
}

func sampleChangeSet(t *testing.T) *market.ChangeSet {
	t.Helper()
	m, err := market.NewMarket("TOKEN", []market.Facet{market.FacetTruthfulness, market.FacetOriginality}, 2*market.MinAllowedTimeout)
	require.NoError(t, err)
	m.Round = 3
	m.StartTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.Transition(market.MarketStateBetting))

	key := market.FacetKey{Token: "TOKEN", Facet: market.FacetTruthfulness}
	esc := market.NewEscrow(key)
	esc.Initialiser = "alice"
	esc.Bettors = market.Roster{"alice", "bob"}
	esc.TotFor = 1000
	esc.TotAgainst = 500

	poll := market.NewPoll(key)
	poll.Voters = market.Roster{"carol"}
	poll.TotalFor = 1

	bettor := market.NewBettor(market.ParticipantKey{Token: "TOKEN", Facet: market.FacetTruthfulness, Participant: "alice"})
	bettor.TotFor = 1000

	voter := market.NewVoter(market.ParticipantKey{Token: "TOKEN", Facet: market.FacetTruthfulness, Participant: "carol"})
	voter.Amount = 5_000_000
	voter.Direction = true

	cs := &market.ChangeSet{}
	cs.PutMarket(m)
	cs.PutEscrow(esc)
	cs.PutPoll(poll)
	cs.PutBettor(bettor)
	cs.PutVoter(voter)
	return cs
}

// ============================================================================
// Test: Store contract (memory and SQL)
// ============================================================================

func TestStore_MissingRecordsAreNotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetMarket(ctx, "NOPE")
			assert.ErrorIs(t, err, market.ErrNotFound)

			_, err = s.GetEscrow(ctx, market.FacetKey{Token: "NOPE", Facet: market.FacetTruthfulness})
			assert.ErrorIs(t, err, market.ErrNotFound)

			_, err = s.GetVoter(ctx, market.ParticipantKey{Token: "NOPE", Facet: market.FacetTruthfulness, Participant: "x"})
			assert.ErrorIs(t, err, market.ErrNotFound)
		})
	}
}

func TestStore_CommitAndRead(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			cs := sampleChangeSet(t)
			require.NoError(t, s.Commit(ctx, cs))

			m, err := s.GetMarket(ctx, "TOKEN")
			require.NoError(t, err)
			assert.Equal(t, market.MarketStateBetting, m.State)
			assert.Equal(t, uint32(3), m.Round)
			assert.True(t, m.StartTime.Equal(cs.Markets[0].StartTime))
			assert.Equal(t, cs.Markets[0].Facets, m.Facets)

			key := market.FacetKey{Token: "TOKEN", Facet: market.FacetTruthfulness}
			esc, err := s.GetEscrow(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, cs.Escrows[0], esc)

			poll, err := s.GetPoll(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, cs.Polls[0], poll)

			b, err := s.GetBettor(ctx, market.ParticipantKey{Token: "TOKEN", Facet: market.FacetTruthfulness, Participant: "alice"})
			require.NoError(t, err)
			assert.Equal(t, uint64(1000), b.TotFor)

			v, err := s.GetVoter(ctx, market.ParticipantKey{Token: "TOKEN", Facet: market.FacetTruthfulness, Participant: "carol"})
			require.NoError(t, err)
			assert.Equal(t, uint64(5_000_000), v.Amount)
			assert.True(t, v.Direction)
		})
	}
}

func TestStore_GettersReturnCopies(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Commit(ctx, sampleChangeSet(t)))

			key := market.FacetKey{Token: "TOKEN", Facet: market.FacetTruthfulness}
			esc, err := s.GetEscrow(ctx, key)
			require.NoError(t, err)
			esc.Bettors[0] = "mallory"
			esc.TotFor = 0

			again, err := s.GetEscrow(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, market.Identity("alice"), again.Bettors[0])
			assert.Equal(t, uint64(1000), again.TotFor)
		})
	}
}

func TestStore_CommitOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			cs := sampleChangeSet(t)
			require.NoError(t, s.Commit(ctx, cs))

			esc := cs.Escrows[0].Clone()
			esc.Reset()
			next := &market.ChangeSet{}
			next.PutEscrow(esc)
			require.NoError(t, s.Commit(ctx, next))

			got, err := s.GetEscrow(ctx, market.FacetKey{Token: "TOKEN", Facet: market.FacetTruthfulness})
			require.NoError(t, err)
			assert.True(t, got.Empty())
			assert.Nil(t, got.Bettors)
		})
	}
}

func TestStore_LoadAllRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Commit(ctx, sampleChangeSet(t)))

			all, err := s.LoadAll(ctx)
			require.NoError(t, err)
			assert.Len(t, all.Markets, 1)
			assert.Len(t, all.Escrows, 1)
			assert.Len(t, all.Polls, 1)
			assert.Len(t, all.Bettors, 1)
			assert.Len(t, all.Voters, 1)

			// a dump restores into an empty store
			fresh := persistence.NewMemoryStore()
			require.NoError(t, fresh.Commit(ctx, all.ChangeSet()))
			again, err := fresh.LoadAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, all.Escrows, again.Escrows)
		})
	}
}

func TestMemoryStore_CancelledCommit(t *testing.T) {
	s := persistence.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Commit(ctx, sampleChangeSet(t))
	require.Error(t, err)

	_, err = s.GetMarket(context.Background(), "TOKEN")
	assert.ErrorIs(t, err, market.ErrNotFound)
}

// ============================================================================
// Test: Dialect
// ============================================================================

func TestDialect_Rebind(t *testing.T) {
	q := `SELECT * FROM t WHERE a = $1 AND b = $2 AND c = '$x' OR d = $12`

	assert.Equal(t, q, persistence.DialectPostgres.Rebind(q))
	assert.Equal(t,
		`SELECT * FROM t WHERE a = ?1 AND b = ?2 AND c = '$x' OR d = ?12`,
		persistence.DialectSQLite.Rebind(q))
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    persistence.Dialect
		wantErr bool
	}{
		{"postgres", persistence.DialectPostgres, false},
		{"PostgreSQL", persistence.DialectPostgres, false},
		{"sqlite", persistence.DialectSQLite, false},
		{"sqlite3", persistence.DialectSQLite, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := persistence.ParseDialect(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
