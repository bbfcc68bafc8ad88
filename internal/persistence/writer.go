package persistence

import (
	"Parimutuel/internal/event"
	"Parimutuel/internal/ledger"
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// EventLogWriter writes settlement events and custody journals using
// multi-row inserts. Rows already present are skipped, so retries are safe.
type EventLogWriter struct {
	db      *sql.DB
	dialect Dialect
}

// EventRow represents a row in events
type EventRow struct {
	Sequence       int64
	EventType      string
	Operation      string
	IdempotencyKey string
	Token          string
	Facet          string
	Participant    string
	Round          int64
	Payload        []byte // JSON-encoded event payload
	StateDigest    []byte
	StateHash      []byte
	PrevHash       []byte
	Timestamp      int64 // Unix nanoseconds
}

// JournalRow represents a row in custody_journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

// EventRowFromEnvelope flattens an envelope and its state delta for storage
func EventRowFromEnvelope(env *event.EventEnvelope, digest []byte) EventRow {
	facet := ""
	if env.Facet.Valid() {
		facet = env.Facet.String()
	}
	return EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		Operation:      string(env.Operation),
		IdempotencyKey: env.IdempotencyKey,
		Token:          string(env.Token),
		Facet:          facet,
		Participant:    string(env.Participant),
		Round:          int64(env.Round),
		Payload:        env.Payload,
		StateDigest:    digest,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp.UnixNano(),
	}
}

// JournalRowsFromBatch converts an applied custody batch
func JournalRowsFromBatch(b *ledger.Batch) []JournalRow {
	rows := make([]JournalRow, 0, len(b.Journals))
	for _, j := range b.Journals {
		rows = append(rows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			AssetID:       uint16(j.AssetID),
			Amount:        int64(j.Amount),
			JournalType:   int32(j.JournalType),
			Timestamp:     j.Timestamp,
		})
	}
	return rows
}

func NewEventLogWriter(db *sql.DB, dialect Dialect) *EventLogWriter {
	return &EventLogWriter{db: db, dialect: dialect}
}

// placeholders renders "($1, $2, ...), (...)" for n rows of width columns
func placeholders(n, width int) string {
	values := make([]string, 0, n)
	for i := 0; i < n; i++ {
		cols := make([]string, width)
		for c := 0; c < width; c++ {
			cols[c] = fmt.Sprintf("$%d", i*width+c+1)
		}
		values = append(values, "("+strings.Join(cols, ", ")+")")
	}
	return strings.Join(values, ", ")
}

// WriteEventBatch writes a batch of events in tx
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow, tx *sql.Tx) error {
	if len(events) == 0 {
		return nil
	}

	const width = 13
	args := make([]interface{}, 0, len(events)*width)
	for _, e := range events {
		args = append(args,
			e.Sequence, e.EventType, e.Operation, e.IdempotencyKey,
			e.Token, e.Facet, e.Participant, e.Round,
			e.Payload, e.StateDigest, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query := `INSERT INTO events
		(sequence, event_type, operation, idempotency_key, token, facet, participant, round,
		 payload, state_digest, state_hash, prev_hash, timestamp_ns)
		VALUES ` + placeholders(len(events), width) +
		` ON CONFLICT (sequence) DO NOTHING`

	_, err := tx.ExecContext(ctx, w.dialect.Rebind(query), args...)
	return err
}

// WriteJournalBatch writes custody journal entries in tx
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, journals []JournalRow, tx *sql.Tx) error {
	if len(journals) == 0 {
		return nil
	}

	const width = 9
	args := make([]interface{}, 0, len(journals)*width)
	for _, j := range journals {
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query := `INSERT INTO custody_journal
		(journal_id, batch_id, event_ref, debit_account, credit_account, asset_id, amount, journal_type, timestamp_us)
		VALUES ` + placeholders(len(journals), width) +
		` ON CONFLICT (journal_id) DO NOTHING`

	_, err := tx.ExecContext(ctx, w.dialect.Rebind(query), args...)
	return err
}

// LoadCustodyBalances sums every stored journal into account balances.
// Balances are sums, so the replay order does not matter.
func (w *EventLogWriter) LoadCustodyBalances(ctx context.Context) (map[ledger.AccountKey]int64, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT debit_account, credit_account, amount FROM custody_journal`)
	if err != nil {
		return nil, fmt.Errorf("load journals: %w", err)
	}
	defer rows.Close()

	balances := make(map[ledger.AccountKey]int64)
	for rows.Next() {
		var debit, credit string
		var amount int64
		if err := rows.Scan(&debit, &credit, &amount); err != nil {
			return nil, err
		}
		dk, err := ledger.ParseAccountPath(debit)
		if err != nil {
			return nil, err
		}
		ck, err := ledger.ParseAccountPath(credit)
		if err != nil {
			return nil, err
		}
		balances[dk] += amount
		balances[ck] -= amount
	}
	return balances, rows.Err()
}
