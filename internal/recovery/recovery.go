package recovery

import (
	"Parimutuel/internal/core"
	"Parimutuel/internal/custody"
	"Parimutuel/internal/market"
	"Parimutuel/internal/persistence"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// State is everything the service rebuilds on start and captures in snapshots
type State struct {
	Engine    *core.Engine
	Store     market.Store
	Book      *custody.Book
	Treasury  *custody.Treasury
	Mint      *custody.VotingMint
	Idem      *core.IdempotencyChecker
	Snapshots *persistence.SnapshotManager
	Writer    *persistence.EventLogWriter
}

// Result describes a completed restore
type Result struct {
	NextSequence     int64
	SnapshotSequence int64 // -1 when no verified snapshot was found
	Accounts         int
	WarmedKeys       int
	RecordsRestored  bool
	Replayed         int
}

const replayPage = 1000

// Restore rebuilds in-memory state from the database in this order:
// custody balances from the journal, market records from the latest verified
// snapshot plus the event log tail when the store is empty, the hash chain tip
// from the event log, then the idempotency LRU from the most recent events.
func Restore(ctx context.Context, s State, warmKeys int, logger zerolog.Logger) (*Result, error) {
	res := &Result{SnapshotSequence: -1}

	balances, err := s.Writer.LoadCustodyBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("custody balances: %w", err)
	}
	if err := s.Book.Restore(balances); err != nil {
		return nil, err
	}
	s.Treasury.Resync()
	res.Accounts = len(balances)

	snap, err := s.Snapshots.LoadLatestSnapshot(ctx)
	if err != nil {
		// snapshots only speed up recovery
		logger.Warn().Err(err).Msg("failed to load snapshot")
	}
	if snap != nil {
		res.SnapshotSequence = snap.Sequence
		if snap.MintInitialised {
			s.Mint.Restore(true)
		}
	}
	if res.RecordsRestored, res.Replayed, err = restoreRecords(ctx, s, snap); err != nil {
		return nil, err
	}

	next, tip, err := s.Snapshots.ChainTip(ctx)
	if err != nil {
		return nil, err
	}
	if next > 0 {
		var hash [32]byte
		copy(hash[:], tip)
		s.Engine.RestoreChain(next, hash)
	}
	res.NextSequence = next

	if s.Idem != nil && warmKeys > 0 {
		keys, err := s.Snapshots.RecentIdempotencyKeys(ctx, warmKeys)
		if err != nil {
			return nil, fmt.Errorf("recent idempotency keys: %w", err)
		}
		s.Idem.Warm(keys)
		res.WarmedKeys = len(keys)
	}

	logger.Info().
		Int64("next_sequence", res.NextSequence).
		Int64("snapshot_sequence", res.SnapshotSequence).
		Int("accounts", res.Accounts).
		Int("warmed_keys", res.WarmedKeys).
		Bool("records_restored", res.RecordsRestored).
		Int("replayed", res.Replayed).
		Msg("state restored")
	return res, nil
}

// restoreRecords rebuilds a store that holds no records: snapshot records
// first, then the change sets of every later event. A durable store that
// already holds records is newer than any snapshot and is left alone.
func restoreRecords(ctx context.Context, s State, snap *persistence.SnapshotData) (restored bool, replayed int, err error) {
	existing, err := s.Store.LoadAll(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("load records: %w", err)
	}
	if len(existing.Markets) > 0 {
		return false, 0, nil
	}

	from := int64(0)
	if snap != nil {
		from = snap.Sequence + 1
		if snap.Records != nil && len(snap.Records.Markets) > 0 {
			if err := s.Store.Commit(ctx, snap.Records.ChangeSet()); err != nil {
				return false, 0, fmt.Errorf("restore records from snapshot %d: %w", snap.Sequence, err)
			}
			restored = true
		}
	}

	for {
		rows, err := s.Snapshots.LoadEventsFrom(ctx, from, replayPage)
		if err != nil {
			return restored, replayed, fmt.Errorf("load events from %d: %w", from, err)
		}
		for _, row := range rows {
			var cs market.ChangeSet
			if err := json.Unmarshal(row.StateDigest, &cs); err != nil {
				return restored, replayed, fmt.Errorf("decode change set %d: %w", row.Sequence, err)
			}
			if !cs.Empty() {
				if err := s.Store.Commit(ctx, &cs); err != nil {
					return restored, replayed, fmt.Errorf("replay %d: %w", row.Sequence, err)
				}
			}
			replayed++
			from = row.Sequence + 1
		}
		if len(rows) < replayPage {
			return restored, replayed, nil
		}
	}
}
