package core

import (
	"Parimutuel/internal/event"
	"Parimutuel/internal/market"
	fpmath "Parimutuel/internal/math"
	"Parimutuel/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"
)

// payout is one outbound custody call made after the zeroed records are committed
type payout struct {
	call string
	run  func(ctx context.Context) error
}

// WagerResults settles one bettor. The stake (or the whole stake on a tie) is
// returned in SOL and the fee-adjusted winnings are minted as voting tokens.
func (e *Engine) WagerResults(ctx context.Context, p market.Params) error {
	return e.call(ctx, event.OpWagerResults, p, func(ctx context.Context, now time.Time) error {
		if err := checkParams(p); err != nil {
			return err
		}

		m, err := e.loadMarket(ctx, p.Token)
		if err != nil {
			return err
		}
		if !m.HasFacet(p.Facet) {
			return market.ErrFacetNotInMarket
		}
		esc, poll, err := e.facetRecords(ctx, p.FacetKey())
		if err != nil {
			return err
		}
		bettor, err := e.store.GetBettor(ctx, p.ParticipantKey())
		if err != nil && !errors.Is(err, market.ErrNotFound) {
			return err
		}
		awaiting := esc.Bettors.Contains(p.Participant) && !esc.BettorsConsolidated.Contains(p.Participant)
		if bettor != nil && bettor.PendingMint > 0 && !awaiting {
			return e.retryPendingMint(ctx, p, m, bettor, now)
		}

		if poll.Tally() < e.cfg.VoteThreshold {
			return market.ErrVotingNotFinished
		}
		if !esc.Bettors.Contains(p.Participant) {
			return market.ErrNotABettor
		}
		if esc.BettorsConsolidated.Contains(p.Participant) {
			return market.ErrAlreadyConsolidated
		}
		if err := requireSettling(m); err != nil {
			return err
		}
		if bettor == nil {
			return market.ErrNotABettor
		}
		if esc.TotFor < bettor.TotFor || esc.TotAgainst < bettor.TotAgainst || esc.TotUnderdog < bettor.TotUnderdog {
			return market.ErrRecordsInconsistent
		}

		direction, tie := fpmath.Outcome(poll.TotalFor, poll.TotalAgainst)
		settled := &event.BettorSettled{
			Token:       p.Token,
			Facet:       p.Facet,
			Participant: p.Participant,
			Round:       m.Round,
			Tie:         tie,
			Direction:   direction,
		}

		var refund, minted uint64
		if tie {
			if refund, err = bettor.Total(); err != nil {
				return err
			}
		} else {
			r, err := fpmath.ComputeReturns(direction,
				fpmath.Pool{For: esc.TotFor, Against: esc.TotAgainst, Underdog: esc.TotUnderdog},
				fpmath.Stake{For: bettor.TotFor, Against: bettor.TotAgainst, Underdog: bettor.TotUnderdog})
			if err != nil {
				return err
			}
			// a losing bettor gets nothing back and nothing minted
			if r.BetReturned > 0 {
				refund = r.BetReturned
				minted = fpmath.ApplyFee(r.WinningsPre)
				settled.WinningsPre = r.WinningsPre
			}
		}

		// winnings left over from an earlier failed mint ride along
		owed := minted + bettor.PendingMint
		if owed < minted {
			return market.ErrOverflow
		}
		if err := e.preflight(ctx, refund, owed > 0); err != nil {
			return err
		}

		restore := &market.ChangeSet{}
		restore.PutMarket(m.Clone())
		restore.PutEscrow(esc.Clone())
		restore.PutBettor(bettor.Clone())

		prev := m.State
		esc.BettorsConsolidated = esc.BettorsConsolidated.With(p.Participant)
		if m.State == market.MarketStateVoting {
			if err := m.Transition(market.MarketStateConsolidating); err != nil {
				return err
			}
		}
		bettor.Reset()
		bettor.PendingMint = 0

		cs := &market.ChangeSet{}
		cs.PutMarket(m)
		cs.PutEscrow(esc)
		cs.PutBettor(bettor)

		var payouts []payout
		if refund > 0 {
			payouts = append(payouts, payout{call: "reimburse", run: func(ctx context.Context) error {
				return e.treasury.Reimburse(ctx, e.cfg.TreasuryAuthority, p.Participant, refund)
			}})
		}
		if owed > 0 {
			payouts = append(payouts, payout{call: "mint", run: func(ctx context.Context) error {
				return e.mint.MintTokens(ctx, p.Participant, owed)
			}})
		}

		done, err := e.settle(ctx, event.OpWagerResults, cs, restore, payouts)
		if err != nil && done == 0 {
			return err
		}

		settled.BetReturned = refund
		if done == len(payouts) {
			settled.Minted = owed
		} else {
			settled.MintFailed = true
			settled.MintPending = owed
			e.owePendingMint(ctx, bettor, owed)
		}
		e.recordPayouts(settled.BetReturned, "bet_returned", settled.Minted, "winnings")
		e.recordTransition(prev, m.State)
		e.recordRosters(esc, nil)

		e.emit(event.OpWagerResults, settled, cs, now, commandIDFrom(ctx))
		return err
	})
}

// VoterResults settles one voter. Winners are paid SOL from the treasury, losers
// forfeit their voting tokens, and a tie re-mints the staked tokens.
func (e *Engine) VoterResults(ctx context.Context, p market.Params) error {
	return e.call(ctx, event.OpVoterResults, p, func(ctx context.Context, now time.Time) error {
		if err := checkParams(p); err != nil {
			return err
		}

		m, err := e.loadMarket(ctx, p.Token)
		if err != nil {
			return err
		}
		if !m.HasFacet(p.Facet) {
			return market.ErrFacetNotInMarket
		}
		_, poll, err := e.facetRecords(ctx, p.FacetKey())
		if err != nil {
			return err
		}
		if poll.Tally() < e.cfg.VoteThreshold {
			return market.ErrVotingNotFinished
		}
		if !poll.Voters.Contains(p.Participant) {
			return market.ErrNotAVoter
		}
		if poll.VotersConsolidated.Contains(p.Participant) {
			return market.ErrAlreadyConsolidated
		}
		if err := requireSettling(m); err != nil {
			return err
		}

		voter, err := e.store.GetVoter(ctx, p.ParticipantKey())
		if errors.Is(err, market.ErrNotFound) {
			return market.ErrNotAVoter
		}
		if err != nil {
			return err
		}

		direction, tie := fpmath.Outcome(poll.TotalFor, poll.TotalAgainst)
		var reimbursed, reminted uint64
		if tie {
			reminted = voter.Amount
		} else {
			reimbursed = fpmath.WinningsFromVotes(direction, voter.Direction, voter.Amount)
		}

		if err := e.preflight(ctx, reimbursed, reminted > 0); err != nil {
			return err
		}

		restore := &market.ChangeSet{}
		restore.PutMarket(m.Clone())
		restore.PutPoll(poll.Clone())
		restore.PutVoter(voter.Clone())

		prev := m.State
		poll.VotersConsolidated = poll.VotersConsolidated.With(p.Participant)
		if m.State == market.MarketStateVoting {
			if err := m.Transition(market.MarketStateConsolidating); err != nil {
				return err
			}
		}
		voter.Amount = 0

		cs := &market.ChangeSet{}
		cs.PutMarket(m)
		cs.PutPoll(poll)
		cs.PutVoter(voter)

		var payouts []payout
		if reimbursed > 0 {
			payouts = append(payouts, payout{call: "reimburse", run: func(ctx context.Context) error {
				return e.treasury.Reimburse(ctx, e.cfg.TreasuryAuthority, p.Participant, reimbursed)
			}})
		}
		if reminted > 0 {
			payouts = append(payouts, payout{call: "mint", run: func(ctx context.Context) error {
				return e.mint.MintTokens(ctx, p.Participant, reminted)
			}})
		}

		if _, err := e.settle(ctx, event.OpVoterResults, cs, restore, payouts); err != nil {
			return err
		}
		e.recordPayouts(reimbursed, "vote_winnings", reminted, "tie_refund")
		e.recordTransition(prev, m.State)
		e.recordRosters(nil, poll)

		e.emit(event.OpVoterResults, &event.VoterSettled{
			Token:       p.Token,
			Facet:       p.Facet,
			Participant: p.Participant,
			Round:       m.Round,
			Tie:         tie,
			Direction:   direction,
			Reimbursed:  reimbursed,
			Reminted:    reminted,
		}, cs, now, commandIDFrom(ctx))
		return nil
	})
}

// CallMarket closes one facet once all of its bettors and voters are
// consolidated. The market goes back to Inactive when no facet is left open.
// Only the treasury authority may close.
func (e *Engine) CallMarket(ctx context.Context, p market.Params, caller market.Identity) error {
	return e.call(ctx, event.OpCallMarket, p, func(ctx context.Context, now time.Time) error {
		if p.Token == "" {
			return market.ErrMarketNotFound
		}

		m, err := e.loadMarket(ctx, p.Token)
		if err != nil {
			return err
		}
		if m.State != market.MarketStateConsolidating {
			return market.ErrNotConsolidating
		}
		if !m.HasFacet(p.Facet) {
			return market.ErrFacetNotInMarket
		}
		if m.FacetClosed(p.Facet) {
			return market.ErrFacetClosed
		}

		esc, poll, err := e.facetRecords(ctx, p.FacetKey())
		if err != nil {
			return err
		}
		if !esc.Settled() {
			return market.ErrWagersDontAddUp
		}
		if !poll.Settled() {
			return market.ErrVotesDontAddUp
		}
		if caller != e.cfg.TreasuryAuthority {
			return market.ErrSignerNotAuthority
		}

		esc.Reset()
		poll.Reset()
		cs := &market.ChangeSet{}
		cs.PutEscrow(esc)
		cs.PutPoll(poll)

		final, err := e.lastOpenFacet(ctx, m, p.Facet)
		if err != nil {
			return err
		}
		prev := m.State
		if final {
			if err := m.Transition(market.MarketStateInactive); err != nil {
				return err
			}
		} else {
			m.CloseFacet(p.Facet)
		}
		cs.PutMarket(m)
		if err := e.commit(ctx, cs); err != nil {
			return err
		}
		e.recordTransition(prev, m.State)
		e.recordRosters(esc, nil)
		e.recordRosters(nil, poll)

		e.emit(event.OpCallMarket, &event.RoundClosed{
			Token:  p.Token,
			Facet:  p.Facet,
			Round:  m.Round,
			Caller: caller,
			Final:  final,
		}, cs, now, commandIDFrom(ctx))
		return nil
	})
}

// lastOpenFacet reports whether closing f leaves no facet open. A facet
// nobody bet or voted on does not hold the round open.
func (e *Engine) lastOpenFacet(ctx context.Context, m *market.Market, f market.Facet) (bool, error) {
	for _, other := range m.Facets {
		if other == f || m.FacetClosed(other) {
			continue
		}
		esc, poll, err := e.facetRecords(ctx, market.FacetKey{Token: m.Token, Facet: other})
		if err != nil {
			return false, err
		}
		if !esc.Empty() || !poll.Empty() {
			return false, nil
		}
	}
	return true, nil
}

// owePendingMint records winnings the mint failed to deliver on the bettor so
// a later WagerResults can pay them. bettor is already in the emitted change set.
func (e *Engine) owePendingMint(ctx context.Context, bettor *market.Bettor, owed uint64) {
	bettor.PendingMint = owed
	owe := &market.ChangeSet{}
	owe.PutBettor(bettor)
	if err := e.commit(context.WithoutCancel(ctx), owe); err != nil {
		logger := observability.ForMarket(e.logger, string(bettor.Token), bettor.Facet.String())
		logger.Error().
			Str("participant", string(bettor.Participant)).
			Uint64("pending_mint", owed).
			Err(err).
			Msg("CRITICAL: mint failed and the owed amount could not be recorded")
	}
}

// retryPendingMint pays winnings left owing by an earlier failed mint. The
// pending amount is cleared before the mint and put back if it fails.
func (e *Engine) retryPendingMint(ctx context.Context, p market.Params, m *market.Market, bettor *market.Bettor, now time.Time) error {
	if err := e.preflight(ctx, 0, true); err != nil {
		return err
	}
	owed := bettor.PendingMint

	restore := &market.ChangeSet{}
	restore.PutBettor(bettor.Clone())

	bettor.PendingMint = 0
	cs := &market.ChangeSet{}
	cs.PutBettor(bettor)

	mint := []payout{{call: "mint", run: func(ctx context.Context) error {
		return e.mint.MintTokens(ctx, p.Participant, owed)
	}}}
	if _, err := e.settle(ctx, event.OpWagerResults, cs, restore, mint); err != nil {
		return err
	}
	e.recordPayouts(0, "", owed, "winnings")

	e.emit(event.OpWagerResults, &event.BettorSettled{
		Token:       p.Token,
		Facet:       p.Facet,
		Participant: p.Participant,
		Round:       m.Round,
		Minted:      owed,
		MintRetry:   true,
	}, cs, now, commandIDFrom(ctx))
	return nil
}

func requireSettling(m *market.Market) error {
	if m.State != market.MarketStateVoting && m.State != market.MarketStateConsolidating {
		return market.ErrNotConsolidating
	}
	return nil
}

// preflight checks custody can cover the payouts before anything is mutated
func (e *Engine) preflight(ctx context.Context, sol uint64, mint bool) error {
	if sol > 0 {
		balance, err := e.treasury.SOLBalance(ctx, e.cfg.TreasuryAuthority)
		if err != nil {
			return externalErr("sol_balance", err)
		}
		if balance < sol {
			return market.ErrInsufficientTreasury
		}
	}
	if mint {
		if info, ok := e.mint.(MintInfo); ok && !info.Initialised() {
			return market.ErrMintNotInitialised
		}
	}
	return nil
}

// settle commits the zeroed records and then runs the payouts in order. It
// returns how many payouts completed. When the first payout fails nothing has
// left custody, so the pre-images are committed back.
func (e *Engine) settle(
	ctx context.Context,
	op event.Operation,
	cs, restore *market.ChangeSet,
	payouts []payout,
) (int, error) {
	if err := e.commit(ctx, cs); err != nil {
		return 0, err
	}

	for i, po := range payouts {
		err := po.run(ctx)
		if err == nil {
			continue
		}
		e.recordExternalError(po.call)
		wrapped := fmt.Errorf("%w: %s: %v", market.ErrExternalCall, po.call, err)

		if i > 0 {
			e.logger.Error().
				Str("operation", string(op)).
				Str("call", po.call).
				Err(err).
				Msg("payout partially applied; records stay settled")
			return i, wrapped
		}

		if rerr := e.commit(context.WithoutCancel(ctx), restore); rerr != nil {
			e.logger.Error().
				Str("operation", string(op)).
				Err(rerr).
				AnErr("payout_error", err).
				Msg("CRITICAL: payout failed and records could not be restored")
			return 0, fmt.Errorf("%w (restore: %v)", wrapped, rerr)
		}
		if e.metrics != nil {
			e.metrics.Compensations.WithLabelValues(string(op)).Inc()
		}
		return 0, wrapped
	}
	return len(payouts), nil
}

func (e *Engine) recordPayouts(sol uint64, solKind string, minted uint64, mintReason string) {
	if e.metrics == nil {
		return
	}
	if sol > 0 {
		e.metrics.PayoutsTotal.WithLabelValues(solKind).Add(float64(sol))
	}
	if minted > 0 {
		e.metrics.MintedTotal.WithLabelValues(mintReason).Add(float64(minted))
	}
}
