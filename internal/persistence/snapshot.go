package persistence

import (
	"Parimutuel/internal/ledger"
	"Parimutuel/internal/market"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager stores point-in-time snapshots and reads back the event log
// for chain verification and replay.
type SnapshotManager struct {
	db      *sql.DB
	dialect Dialect
}

// SnapshotData is the full state at a point in the event log
type SnapshotData struct {
	Sequence        int64           `json:"sequence"` // last applied sequence
	StateHash       []byte          `json:"state_hash"`
	Records         *market.Records `json:"records"`
	Balances        []BalanceEntry  `json:"balances"`
	MintInitialised bool            `json:"mint_initialised"`
	IdempotencyKeys []string        `json:"idempotency_keys"` // recent keys for LRU warming
	CreatedAt       time.Time       `json:"created_at"`
}

// BalanceEntry is one custody account balance
type BalanceEntry struct {
	Account string `json:"account"` // AccountPath
	Balance int64  `json:"balance"`
}

// BalanceEntries flattens custody balances in a stable order
func BalanceEntries(balances map[ledger.AccountKey]int64) []BalanceEntry {
	out := make([]BalanceEntry, 0, len(balances))
	for k, v := range balances {
		if v == 0 {
			continue
		}
		out = append(out, BalanceEntry{Account: k.AccountPath(), Balance: v})
	}
	sortBalanceEntries(out)
	return out
}

// BalanceMap is the inverse of BalanceEntries
func BalanceMap(entries []BalanceEntry) (map[ledger.AccountKey]int64, error) {
	out := make(map[ledger.AccountKey]int64, len(entries))
	for _, e := range entries {
		k, err := ledger.ParseAccountPath(e.Account)
		if err != nil {
			return nil, err
		}
		out[k] = e.Balance
	}
	return out, nil
}

func sortBalanceEntries(entries []BalanceEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Account < entries[j].Account })
}

func NewSnapshotManager(db *sql.DB, dialect Dialect) *SnapshotManager {
	return &SnapshotManager{db: db, dialect: dialect}
}

// SaveSnapshot stores snap unverified and returns its encoded form
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, sm.dialect.Rebind(`
		INSERT INTO snapshots
			(sequence, snapshot_id, data, state_hash, format_version, size_bytes, verified, created_at_ns)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = excluded.data, state_hash = excluded.state_hash, size_bytes = excluded.size_bytes
	`), snap.Sequence, uuid.New().String(), data, snap.StateHash, formatVersion, len(data), snap.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("save snapshot %d: %w", snap.Sequence, err)
	}
	return data, nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a cold start
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after its chain check passed
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, sm.dialect.Rebind(
		`UPDATE snapshots SET verified = TRUE WHERE sequence = $1`,
	), sequence)
	return err
}

// UnverifiedSnapshots lists (sequence, state_hash) of snapshots awaiting verification
func (sm *SnapshotManager) UnverifiedSnapshots(ctx context.Context) (map[int64][]byte, error) {
	rows, err := sm.db.QueryContext(ctx,
		`SELECT sequence, state_hash FROM snapshots WHERE verified = FALSE ORDER BY sequence`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]byte)
	for rows.Next() {
		var seq int64
		var hash []byte
		if err := rows.Scan(&seq, &hash); err != nil {
			return nil, err
		}
		out[seq] = hash
	}
	return out, rows.Err()
}

// LoadEventsFrom loads events from a sequence, ascending, for replay and verification
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, sm.dialect.Rebind(`
		SELECT sequence, event_type, operation, idempotency_key, token, facet, participant, round,
		       payload, state_digest, state_hash, prev_hash, timestamp_ns
		FROM events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`), fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.Operation, &e.IdempotencyKey,
			&e.Token, &e.Facet, &e.Participant, &e.Round,
			&e.Payload, &e.StateDigest, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1 when empty
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// ChainTip returns the next sequence and the last state hash of the log.
// An empty log returns (0, nil).
func (sm *SnapshotManager) ChainTip(ctx context.Context) (int64, []byte, error) {
	var seq int64
	var hash []byte
	err := sm.db.QueryRowContext(ctx,
		`SELECT sequence, state_hash FROM events ORDER BY sequence DESC LIMIT 1`,
	).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("chain tip: %w", err)
	}
	return seq + 1, hash, nil
}

// RecentIdempotencyKeys returns the composite keys of the latest events, oldest first
func (sm *SnapshotManager) RecentIdempotencyKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, sm.dialect.Rebind(`
		SELECT operation, idempotency_key FROM events
		ORDER BY sequence DESC
		LIMIT $1
	`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var op, key string
		if err := rows.Scan(&op, &key); err != nil {
			return nil, err
		}
		keys = append(keys, op+":"+key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys, nil
}
