package projection

import (
	"Parimutuel/internal/event"
	"Parimutuel/internal/observability"
	"Parimutuel/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const workerID = "main"

// ProjectionOutput is one committed event for the projection worker.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence  int64
	Event     event.Event
	Timestamp int64 // unix ns
}

// EventSource pages through the stored event log
type EventSource interface {
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.EventRow, error)
}

// ProjectionWorker maintains the rounds and settlements read models.
// The projection channel is non-blocking with drop; if projections fall
// behind they are rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	dialect   persistence.Dialect
	inputChan <-chan ProjectionOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(
	db *sql.DB,
	dialect persistence.Dialect,
	inputChan <-chan ProjectionOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		dialect:   dialect,
		inputChan: inputChan,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run applies outputs until ctx is cancelled or the channel is closed
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if pw.lastSeq >= 0 && output.Sequence > pw.lastSeq+1 {
				pw.logger.Warn().
					Int64("expected", pw.lastSeq+1).
					Int64("got", output.Sequence).
					Msg("projection gap; rebuild from the event log to catch up")
			}

			if err := pw.Apply(ctx, output); err != nil {
				// eventually consistent: the next rebuild repairs it
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
			}
			pw.lastSeq = output.Sequence
		}
	}
}

// Apply writes one event and advances the watermark in a single transaction.
// Re-applying an already projected sequence is a no-op.
func (pw *ProjectionWorker) Apply(ctx context.Context, output ProjectionOutput) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := pw.project(ctx, tx, output); err != nil {
		return fmt.Errorf("%s at %d: %w", output.Event.EventType(), output.Sequence, err)
	}

	if _, err := tx.ExecContext(ctx, pw.dialect.Rebind(`
		INSERT INTO projection_watermark (worker_id, last_sequence, updated_at_ns)
		VALUES ($1, $2, $3)
		ON CONFLICT (worker_id) DO UPDATE
			SET last_sequence = excluded.last_sequence, updated_at_ns = excluded.updated_at_ns
	`), workerID, output.Sequence, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(projectionName(output.Event)).Observe(time.Since(start).Seconds())
	}
	return nil
}

func projectionName(evt event.Event) string {
	switch evt.(type) {
	case *event.BettorSettled, *event.VoterSettled:
		return "settlements"
	default:
		return "rounds"
	}
}

func (pw *ProjectionWorker) project(ctx context.Context, tx *sql.Tx, o ProjectionOutput) error {
	switch e := o.Event.(type) {
	case *event.MarketInitialised:
		return nil

	case *event.RoundStarted:
		return pw.exec(ctx, tx, `
			INSERT INTO rounds (token, round, state, initialiser, wagers, staked, votes, started_at_ns, closed_at_ns, last_sequence)
			VALUES ($1, $2, 'Betting', $3, 1, $4, 0, $5, 0, $6)
			ON CONFLICT (token, round) DO NOTHING
		`, string(e.Token), int64(e.Round), string(e.Initialiser), int64(e.Amount), e.StartTime.UnixNano(), o.Sequence)

	case *event.WagerPlaced:
		return pw.bumpStake(ctx, tx, o.Sequence, string(e.Token), e.Round, e.Amount)

	case *event.UnderdogBetPlaced:
		return pw.bumpStake(ctx, tx, o.Sequence, string(e.Token), e.Round, e.Amount)

	case *event.BettingClosed:
		return pw.setState(ctx, tx, o.Sequence, string(e.Token), e.Round, "Voting")

	case *event.VoteCast:
		return pw.exec(ctx, tx, `
			UPDATE rounds SET votes = votes + 1, state = 'Voting', last_sequence = $1
			WHERE token = $2 AND round = $3 AND last_sequence < $1
		`, o.Sequence, string(e.Token), int64(e.Round))

	case *event.BettorSettled:
		kind := "bettor"
		if e.MintRetry {
			kind = "bettor_mint_retry"
		}
		if err := pw.insertSettlement(ctx, tx, o, settlementRow{
			token: string(e.Token), facet: e.Facet.String(), round: e.Round, participant: string(e.Participant),
			kind: kind, tie: e.Tie, direction: e.Direction,
			betReturned: e.BetReturned, winningsPre: e.WinningsPre, minted: e.Minted, mintFailed: e.MintFailed,
		}); err != nil {
			return err
		}
		// a retried mint may land after the round closed
		if e.MintRetry {
			return nil
		}
		return pw.setState(ctx, tx, o.Sequence, string(e.Token), e.Round, "Consolidating")

	case *event.VoterSettled:
		if err := pw.insertSettlement(ctx, tx, o, settlementRow{
			token: string(e.Token), facet: e.Facet.String(), round: e.Round, participant: string(e.Participant),
			kind: "voter", tie: e.Tie, direction: e.Direction,
			reimbursed: e.Reimbursed, minted: e.Reminted,
		}); err != nil {
			return err
		}
		return pw.setState(ctx, tx, o.Sequence, string(e.Token), e.Round, "Consolidating")

	case *event.RoundClosed:
		if !e.Final {
			return nil
		}
		return pw.exec(ctx, tx, `
			UPDATE rounds SET state = 'Inactive', closed_at_ns = $1, last_sequence = $2
			WHERE token = $3 AND round = $4 AND last_sequence < $2
		`, o.Timestamp, o.Sequence, string(e.Token), int64(e.Round))

	default:
		return fmt.Errorf("unhandled event %T", o.Event)
	}
}

type settlementRow struct {
	token       string
	facet       string
	round       uint32
	participant string
	kind        string
	tie         bool
	direction   bool
	betReturned uint64
	winningsPre uint64
	minted      uint64
	reimbursed  uint64
	mintFailed  bool
}

func (pw *ProjectionWorker) insertSettlement(ctx context.Context, tx *sql.Tx, o ProjectionOutput, r settlementRow) error {
	return pw.exec(ctx, tx, `
		INSERT INTO settlements
			(sequence, token, facet, round, participant, kind, tie, direction,
			 bet_returned, winnings_pre, minted, reimbursed, mint_failed, timestamp_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (sequence) DO NOTHING
	`, o.Sequence, r.token, r.facet, int64(r.round), r.participant, r.kind, r.tie, r.direction,
		int64(r.betReturned), int64(r.winningsPre), int64(r.minted), int64(r.reimbursed), r.mintFailed, o.Timestamp)
}

func (pw *ProjectionWorker) bumpStake(ctx context.Context, tx *sql.Tx, seq int64, token string, round uint32, amount uint64) error {
	return pw.exec(ctx, tx, `
		UPDATE rounds SET wagers = wagers + 1, staked = staked + $1, last_sequence = $2
		WHERE token = $3 AND round = $4 AND last_sequence < $2
	`, int64(amount), seq, token, int64(round))
}

func (pw *ProjectionWorker) setState(ctx context.Context, tx *sql.Tx, seq int64, token string, round uint32, state string) error {
	return pw.exec(ctx, tx, `
		UPDATE rounds SET state = $1, last_sequence = $2
		WHERE token = $3 AND round = $4 AND last_sequence < $2
	`, state, seq, token, int64(round))
}

func (pw *ProjectionWorker) exec(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) error {
	_, err := tx.ExecContext(ctx, pw.dialect.Rebind(query), args...)
	return err
}

// Watermark returns the last projected sequence, or -1
func (pw *ProjectionWorker) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := pw.db.QueryRowContext(ctx, pw.dialect.Rebind(
		`SELECT last_sequence FROM projection_watermark WHERE worker_id = $1`), workerID,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	return seq, err
}

// RebuildProjections clears the read models and replays the whole event log
// into them. Projections can always be rebuilt from the event log.
func RebuildProjections(ctx context.Context, pw *ProjectionWorker, src EventSource) (int, error) {
	for _, stmt := range []string{
		`DELETE FROM settlements`,
		`DELETE FROM rounds`,
		`DELETE FROM projection_watermark`,
	} {
		if _, err := pw.db.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}

	const page = 1000
	var applied int
	from := int64(0)
	for {
		rows, err := src.LoadEventsFrom(ctx, from, page)
		if err != nil {
			return applied, fmt.Errorf("load events from %d: %w", from, err)
		}
		for _, row := range rows {
			evt, err := event.Decode(event.ParseEventType(row.EventType), row.Payload)
			if err != nil {
				return applied, fmt.Errorf("sequence %d: %w", row.Sequence, err)
			}
			if err := pw.Apply(ctx, ProjectionOutput{Sequence: row.Sequence, Event: evt, Timestamp: row.Timestamp}); err != nil {
				return applied, err
			}
			applied++
		}
		if len(rows) < page {
			break
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	pw.logger.Info().Int("events", applied).Msg("projection rebuild complete")
	return applied, nil
}
