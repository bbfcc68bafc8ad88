package query

import (
	"Parimutuel/internal/core"
	"Parimutuel/internal/ledger"
	"Parimutuel/internal/market"
	"Parimutuel/internal/observability"
	"Parimutuel/internal/persistence"
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// QueryService provides read-only access to the market records, the event log
// and the projection tables. Queries are served over gRPC and HTTP/JSON
// (gRPC-Gateway). Responses carry as_of_sequence for freshness.
type QueryService struct {
	db        *sql.DB
	dialect   persistence.Dialect
	store     market.Store
	snapshots *persistence.SnapshotManager
	writer    *persistence.EventLogWriter
	metrics   *observability.Metrics
}

func NewQueryService(db *sql.DB, dialect persistence.Dialect, store market.Store, metrics *observability.Metrics) *QueryService {
	return &QueryService{
		db:        db,
		dialect:   dialect,
		store:     store,
		snapshots: persistence.NewSnapshotManager(db, dialect),
		writer:    persistence.NewEventLogWriter(db, dialect),
		metrics:   metrics,
	}
}

// ErrNotFound is returned when the requested market or round does not exist
var ErrNotFound = errors.New("not found")

// GetMarket returns the live market record with every facet's escrow and poll
func (qs *QueryService) GetMarket(ctx context.Context, token string) (resp *MarketResponse, err error) {
	defer qs.observe("get_market", time.Now(), &err)

	m, err := qs.store.GetMarket(ctx, market.Identity(token))
	if errors.Is(err, market.ErrNotFound) {
		return nil, fmt.Errorf("market %s: %w", token, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	asOf, err := qs.snapshots.GetLatestSequence(ctx)
	if err != nil {
		return nil, err
	}

	resp = &MarketResponse{
		Token:        string(m.Token),
		State:        m.State.String(),
		Round:        m.Round,
		TimeoutSecs:  int64(m.Timeout / time.Second),
		AsOfSequence: asOf,
	}
	if !m.StartTime.IsZero() {
		resp.StartTimeNs = m.StartTime.UnixNano()
		resp.BettingEndNs = m.BettingEnd().UnixNano()
	}

	for _, f := range m.Facets {
		key := market.FacetKey{Token: m.Token, Facet: f}
		fr := FacetResponse{Facet: f.String(), Closed: m.FacetClosed(f)}
		if esc, err := qs.store.GetEscrow(ctx, key); err == nil {
			fr.Initialiser = string(esc.Initialiser)
			fr.TotFor, fr.TotAgainst, fr.TotUnderdog = esc.TotFor, esc.TotAgainst, esc.TotUnderdog
			fr.Bettors, fr.BettorsConsolidated = len(esc.Bettors), len(esc.BettorsConsolidated)
		} else if !errors.Is(err, market.ErrNotFound) {
			return nil, err
		}
		if poll, err := qs.store.GetPoll(ctx, key); err == nil {
			fr.VotesFor, fr.VotesAgainst = poll.TotalFor, poll.TotalAgainst
			fr.Voters, fr.VotersConsolidated = len(poll.Voters), len(poll.VotersConsolidated)
		} else if !errors.Is(err, market.ErrNotFound) {
			return nil, err
		}
		resp.Facets = append(resp.Facets, fr)
	}
	return resp, nil
}

// GetRound returns one round from the rounds projection
func (qs *QueryService) GetRound(ctx context.Context, token string, round int64) (resp *RoundResponse, err error) {
	defer qs.observe("get_round", time.Now(), &err)

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	r := RoundResponse{AsOfSequence: asOf}
	err = qs.db.QueryRowContext(ctx, qs.dialect.Rebind(`
		SELECT token, round, state, initialiser, wagers, staked, votes, started_at_ns, closed_at_ns
		FROM rounds WHERE token = $1 AND round = $2
	`), token, round).Scan(
		&r.Token, &r.Round, &r.State, &r.Initialiser, &r.Wagers, &r.Staked, &r.Votes, &r.StartedAtNs, &r.ClosedAtNs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("round %s/%d: %w", token, round, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetSettlements returns the settlements of one round, newest first.
// afterSequence is an exclusive cursor from the previous page.
func (qs *QueryService) GetSettlements(
	ctx context.Context,
	token string,
	round int64,
	limit int,
	afterSequence *int64,
) (out []SettlementResponse, err error) {
	defer qs.observe("get_settlements", time.Now(), &err)

	query := `
		SELECT sequence, token, facet, round, participant, kind, tie, direction,
		       bet_returned, winnings_pre, minted, reimbursed, mint_failed, timestamp_ns
		FROM settlements
		WHERE token = $1 AND round = $2
	`
	args := []interface{}{token, round}
	return qs.settlements(ctx, query, args, limit, afterSequence)
}

// GetParticipantSettlements returns a participant's settlements across markets, newest first
func (qs *QueryService) GetParticipantSettlements(
	ctx context.Context,
	participant string,
	limit int,
	afterSequence *int64,
) (out []SettlementResponse, err error) {
	defer qs.observe("get_participant_settlements", time.Now(), &err)

	query := `
		SELECT sequence, token, facet, round, participant, kind, tie, direction,
		       bet_returned, winnings_pre, minted, reimbursed, mint_failed, timestamp_ns
		FROM settlements
		WHERE participant = $1
	`
	return qs.settlements(ctx, query, []interface{}{participant}, limit, afterSequence)
}

func (qs *QueryService) settlements(
	ctx context.Context,
	query string,
	args []interface{},
	limit int,
	afterSequence *int64,
) ([]SettlementResponse, error) {
	argIdx := len(args) + 1
	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}
	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, qs.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SettlementResponse
	for rows.Next() {
		var s SettlementResponse
		if err := rows.Scan(
			&s.Sequence, &s.Token, &s.Facet, &s.Round, &s.Participant, &s.Kind, &s.Tie, &s.Direction,
			&s.BetReturned, &s.WinningsPre, &s.Minted, &s.Reimbursed, &s.MintFailed, &s.TimestampNs,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetBalance returns a participant's custody wallet balances
func (qs *QueryService) GetBalance(ctx context.Context, participant string) (resp *BalanceResponse, err error) {
	defer qs.observe("get_balance", time.Now(), &err)

	asOf, err := qs.snapshots.GetLatestSequence(ctx)
	if err != nil {
		return nil, err
	}
	sol, err := qs.accountBalance(ctx, ledger.NewParticipantAccountKey(participant, ledger.AssetSOL))
	if err != nil {
		return nil, err
	}
	votes, err := qs.accountBalance(ctx, ledger.NewParticipantAccountKey(participant, ledger.AssetVote))
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{
		Participant:  participant,
		SOL:          sol,
		VotingTokens: votes,
		AsOfSequence: asOf,
	}, nil
}

// GetTreasury returns the custody balances of the treasury authority
func (qs *QueryService) GetTreasury(ctx context.Context, authority string) (resp *TreasuryResponse, err error) {
	defer qs.observe("get_treasury", time.Now(), &err)

	asOf, err := qs.snapshots.GetLatestSequence(ctx)
	if err != nil {
		return nil, err
	}
	resp = &TreasuryResponse{Authority: authority, AsOfSequence: asOf}
	if resp.SOL, err = qs.accountBalance(ctx, ledger.NewTreasuryAccountKey(authority, ledger.AssetSOL)); err != nil {
		return nil, err
	}
	if resp.VotingTokens, err = qs.accountBalance(ctx, ledger.NewTreasuryAccountKey(authority, ledger.AssetVote)); err != nil {
		return nil, err
	}
	minted, err := qs.accountBalance(ctx, ledger.NewExternalAccountKey(ledger.SubTypeExternalMint, ledger.AssetVote))
	if err != nil {
		return nil, err
	}
	resp.Minted = -minted
	return resp, nil
}

// accountBalance is debits minus credits of one account path
func (qs *QueryService) accountBalance(ctx context.Context, key ledger.AccountKey) (int64, error) {
	var debit, credit sql.NullInt64
	err := qs.db.QueryRowContext(ctx, qs.dialect.Rebind(`
		SELECT
			(SELECT SUM(amount) FROM custody_journal WHERE debit_account = $1),
			(SELECT SUM(amount) FROM custody_journal WHERE credit_account = $1)
	`), key.AccountPath()).Scan(&debit, &credit)
	if err != nil {
		return 0, err
	}
	return debit.Int64 - credit.Int64, nil
}

// GetJournalHistory returns custody journal entries touching a participant, newest first.
// beforeUs is an exclusive timestamp cursor.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	participant string,
	limit int,
	beforeUs *int64,
) (entries []JournalHistoryEntry, err error) {
	defer qs.observe("get_journal_history", time.Now(), &err)

	accountPrefix := fmt.Sprintf("participant:%s:%%", participant)

	query := `
		SELECT journal_id, batch_id, event_ref, debit_account, credit_account,
		       asset_id, amount, journal_type, timestamp_us
		FROM custody_journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeUs != nil {
		query += fmt.Sprintf(" AND timestamp_us < $%d", argIdx)
		args = append(args, *beforeUs)
		argIdx++
	}

	query += " ORDER BY timestamp_us DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, qs.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e JournalHistoryEntry
		var jt int32
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.DebitAccount, &e.CreditAccount,
			&e.AssetID, &e.Amount, &jt, &e.TimestampUs,
		); err != nil {
			return nil, err
		}
		e.JournalType = ledger.JournalType(jt).String()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEventLogInfo returns the size and chain tip of the event log
func (qs *QueryService) GetEventLogInfo(ctx context.Context) (info *EventLogInfo, err error) {
	defer qs.observe("get_event_log_info", time.Now(), &err)

	info = &EventLogInfo{}
	if err := qs.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&info.EventCount); err != nil {
		return nil, err
	}
	next, tip, err := qs.snapshots.ChainTip(ctx)
	if err != nil {
		return nil, err
	}
	info.LatestSequence = next - 1
	info.ChainTip = hex.EncodeToString(tip)
	if info.Watermark, err = qs.getWatermark(ctx); err != nil {
		return nil, err
	}
	return info, nil
}

// --- Admin APIs ---

// VerifyIntegrity replays the stored hash chain from genesis and checks the
// custody journal for negative internal accounts and unbalanced assets.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.observe("verify_integrity", time.Now(), &err)

	report = &IntegrityReport{}
	breaks, checked, err := qs.verifyChain(ctx, -1)
	if err != nil {
		return nil, err
	}
	report.HashChainBreaks = breaks
	report.EventsChecked = checked

	balances, err := qs.writer.LoadCustodyBalances(ctx)
	if err != nil {
		return nil, err
	}
	perAsset := make(map[ledger.AssetID]int64)
	for key, bal := range balances {
		perAsset[key.AssetID] += bal
		if key.Scope != ledger.AccountScopeExternal && bal < 0 {
			report.NegativeAccounts = append(report.NegativeAccounts, NegativeAccount{Account: key.AccountPath(), Balance: bal})
		}
	}
	for asset, total := range perAsset {
		if total != 0 {
			report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{AssetID: uint16(asset), Imbalance: total})
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.NegativeAccounts) == 0 &&
		len(report.UnbalancedAssets) == 0
	return report, nil
}

// VerifySnapshots marks every unverified snapshot whose state hash matches an
// intact chain at its sequence, and returns the sequences it verified.
func (qs *QueryService) VerifySnapshots(ctx context.Context) (verified []int64, err error) {
	defer qs.observe("verify_snapshots", time.Now(), &err)

	pending, err := qs.snapshots.UnverifiedSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	var upTo int64
	for seq := range pending {
		if seq > upTo {
			upTo = seq
		}
	}
	breaks, _, err := qs.verifyChain(ctx, upTo)
	if err != nil {
		return nil, err
	}
	firstBreak := int64(-1)
	if len(breaks) > 0 {
		firstBreak = breaks[0]
	}

	for seq, hash := range pending {
		if firstBreak >= 0 && seq >= firstBreak {
			continue
		}
		stored, err := qs.eventHash(ctx, seq)
		if err != nil {
			return verified, err
		}
		if stored == nil || !bytes.Equal(stored, hash) {
			continue
		}
		if err := qs.snapshots.MarkVerified(ctx, seq); err != nil {
			return verified, err
		}
		verified = append(verified, seq)
	}
	return verified, nil
}

// verifyChain walks events in pages from genesis up to upTo (or the end when
// upTo < 0). It stops at the first break, since every later hash depends on it.
func (qs *QueryService) verifyChain(ctx context.Context, upTo int64) ([]int64, int64, error) {
	const page = 1000
	prev := core.NewStateHasher().GetPrevHash()
	var checked int64
	from := int64(0)

	for {
		rows, err := qs.snapshots.LoadEventsFrom(ctx, from, page)
		if err != nil {
			return nil, checked, err
		}
		links := make([]core.ChainLink, 0, len(rows))
		for _, r := range rows {
			if upTo >= 0 && r.Sequence > upTo {
				break
			}
			if r.Sequence != from+int64(len(links)) {
				return []int64{from + int64(len(links))}, checked, nil
			}
			var l core.ChainLink
			l.Sequence = r.Sequence
			l.Digest = r.StateDigest
			copy(l.StateHash[:], r.StateHash)
			links = append(links, l)
		}

		if bad := core.VerifyChain(prev, links); bad >= 0 {
			return []int64{bad}, checked + (bad - from), nil
		}
		checked += int64(len(links))
		if len(links) < page {
			return nil, checked, nil
		}
		prev = links[len(links)-1].StateHash
		from = links[len(links)-1].Sequence + 1
	}
}

func (qs *QueryService) eventHash(ctx context.Context, seq int64) ([]byte, error) {
	var hash []byte
	err := qs.db.QueryRowContext(ctx, qs.dialect.Rebind(
		`SELECT state_hash FROM events WHERE sequence = $1`), seq).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return hash, err
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projection_watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) observe(endpoint string, start time.Time, errp *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if *errp != nil {
		status = "error"
		code := "internal"
		if errors.Is(*errp, ErrNotFound) {
			code = "not_found"
		}
		qs.metrics.QueryErrors.WithLabelValues(endpoint, code).Inc()
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}
