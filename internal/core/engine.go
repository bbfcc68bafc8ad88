package core

import (
	"Parimutuel/internal/event"
	"Parimutuel/internal/market"
	"Parimutuel/internal/observability"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the protocol parameters the engine enforces
type Config struct {
	TreasuryAuthority market.Identity
	VotingMint        market.Identity
	MaxWagers         int
	VoteThreshold     uint32
	MinVoteAmount     uint64
	MaxVoteAmount     uint64
}

func DefaultConfig(authority, mint market.Identity) Config {
	return Config{
		TreasuryAuthority: authority,
		VotingMint:        mint,
		MaxWagers:         market.MaxWagers,
		VoteThreshold:     market.VoteThreshold,
		MinVoteAmount:     market.MinVoteAmount,
		MaxVoteAmount:     market.MaxVoteAmount,
	}
}

// Deps are the collaborators of the engine. Clock defaults to SystemClock and
// Logger to a disabled logger; Metrics and both channels may be nil.
type Deps struct {
	Store    market.Store
	Treasury Treasury
	Mint     Mint
	Wallets  Wallets
	Locker   Locker
	Clock    Clock
	Metrics  *observability.Metrics
	Logger   *zerolog.Logger

	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
}

// Engine runs the market entry points. Every call holds the per-token lock,
// reads the clock once, validates on fresh copies and commits in one store
// transaction.
type Engine struct {
	cfg      Config
	store    market.Store
	treasury Treasury
	mint     Mint
	wallets  Wallets
	locker   Locker
	clock    Clock
	metrics  *observability.Metrics
	logger   zerolog.Logger

	// entry points hold barrier shared; Quiesce holds it exclusively
	barrier sync.RWMutex

	emitMu         sync.Mutex
	sequence       int64
	hasher         *StateHasher
	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one committed event on its way to the log and projections
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Event      event.Event
	StateDelta []byte
}

func NewEngine(cfg Config, deps Deps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock
	}
	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = *deps.Logger
	}

	return &Engine{
		cfg:            cfg,
		store:          deps.Store,
		treasury:       deps.Treasury,
		mint:           deps.Mint,
		wallets:        deps.Wallets,
		locker:         deps.Locker,
		clock:          clock,
		metrics:        deps.Metrics,
		logger:         logger,
		hasher:         NewStateHasher(),
		persistChan:    deps.PersistChan,
		projectionChan: deps.ProjectionChan,
	}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// InitialiseMarketplace verifies the custody wiring before traffic is accepted
func (e *Engine) InitialiseMarketplace(ctx context.Context) error {
	if e.treasury.Authority() != e.cfg.TreasuryAuthority {
		return market.ErrWrongTreasury
	}
	if _, err := e.treasury.SOLBalance(ctx, e.cfg.TreasuryAuthority); err != nil {
		return externalErr("sol_balance", err)
	}
	if info, ok := e.mint.(MintInfo); ok {
		if info.ID() != e.cfg.VotingMint {
			return market.ErrNotTheRightMint
		}
		if !info.Initialised() {
			return market.ErrMintNotInitialised
		}
	}
	return nil
}

// === Entry points: market and betting ===

// InitialiseMarket creates the market for a token with its escrows and polls
func (e *Engine) InitialiseMarket(ctx context.Context, token market.Identity, facets []market.Facet, timeout time.Duration) error {
	p := market.Params{Token: token}
	return e.call(ctx, event.OpInitialiseMarket, p, func(ctx context.Context, now time.Time) error {
		_, err := e.store.GetMarket(ctx, token)
		switch {
		case err == nil:
			return market.ErrMarketExists
		case !errors.Is(err, market.ErrNotFound):
			return err
		}

		m, err := market.NewMarket(token, facets, timeout)
		if err != nil {
			return err
		}

		cs := &market.ChangeSet{}
		cs.PutMarket(m)
		for _, f := range m.Facets {
			key := market.FacetKey{Token: token, Facet: f}
			cs.PutEscrow(market.NewEscrow(key))
			cs.PutPoll(market.NewPoll(key))
		}
		if err := e.commit(ctx, cs); err != nil {
			return err
		}

		e.emit(event.OpInitialiseMarket, &event.MarketInitialised{
			Token:   token,
			Facets:  m.Facets,
			Timeout: m.Timeout,
		}, cs, now, commandIDFrom(ctx))
		return nil
	})
}

// StartMarket opens a new round and places the caller's first bet
func (e *Engine) StartMarket(ctx context.Context, p market.Params, amount uint64, direction bool) error {
	return e.call(ctx, event.OpStartMarket, p, func(ctx context.Context, now time.Time) error {
		if err := checkParams(p); err != nil {
			return err
		}
		if amount == 0 {
			return market.ErrZeroAmount
		}

		m, err := e.loadMarket(ctx, p.Token)
		if err != nil {
			return err
		}
		if !m.State.AcceptsNewRound() {
			return market.ErrRoundInProgress
		}
		if !m.HasFacet(p.Facet) {
			return market.ErrFacetNotInMarket
		}

		cs := &market.ChangeSet{}
		var target *market.Escrow
		for _, f := range m.Facets {
			esc, poll, err := e.facetRecords(ctx, market.FacetKey{Token: p.Token, Facet: f})
			if err != nil {
				return err
			}
			if len(esc.Bettors) > 0 || len(poll.Voters) > 0 {
				return market.ErrRoundNotReset
			}
			esc.Reset()
			poll.Reset()
			if f == p.Facet {
				target = esc
			} else {
				cs.PutEscrow(esc)
			}
			cs.PutPoll(poll)
		}

		if err := e.requireFunds(ctx, p.Participant, amount); err != nil {
			return err
		}

		bettor, err := e.bettorOrNew(ctx, p.ParticipantKey())
		if err != nil {
			return err
		}
		if bettor.TotUnderdog != 0 {
			return market.ErrBetWithUnderdogBet
		}

		prev := m.State
		m.Round++
		m.StartTime = now
		if err := m.Transition(market.MarketStateBetting); err != nil {
			return err
		}

		target.Initialiser = p.Participant
		if err := market.AddStake(target, bettor, amount, direction); err != nil {
			return err
		}
		target.Bettors = target.Bettors.With(p.Participant)

		cs.PutMarket(m)
		cs.PutEscrow(target)
		cs.PutBettor(bettor)

		if err := e.stakeSOL(ctx, event.OpStartMarket, p.Participant, amount, cs); err != nil {
			return err
		}
		e.recordTransition(prev, m.State)
		e.recordRosters(target, nil)

		e.emit(event.OpStartMarket, &event.RoundStarted{
			Token:       p.Token,
			Facet:       p.Facet,
			Initialiser: p.Participant,
			Round:       m.Round,
			StartTime:   now,
			Amount:      amount,
			Direction:   direction,
		}, cs, now, commandIDFrom(ctx))
		return nil
	})
}

// Wager places a standard bet for or against the facet
func (e *Engine) Wager(ctx context.Context, p market.Params, amount uint64, direction bool) error {
	return e.call(ctx, event.OpWager, p, func(ctx context.Context, now time.Time) error {
		if err := checkParams(p); err != nil {
			return err
		}
		if amount == 0 {
			return market.ErrZeroAmount
		}

		m, err := e.loadMarket(ctx, p.Token)
		if err != nil {
			return err
		}
		if m.State != market.MarketStateBetting {
			return market.ErrMarketNotInBettingState
		}
		if !m.BettingOpen(now) {
			return e.closeBetting(ctx, event.OpWager, m, now)
		}
		if err := e.requireFunds(ctx, p.Participant, amount); err != nil {
			return err
		}
		if !m.HasFacet(p.Facet) {
			return market.ErrFacetNotInMarket
		}

		esc, _, err := e.facetRecords(ctx, p.FacetKey())
		if err != nil {
			return err
		}
		bettor, err := e.bettorOrNew(ctx, p.ParticipantKey())
		if err != nil {
			return err
		}
		if bettor.TotUnderdog != 0 {
			return market.ErrBetWithUnderdogBet
		}
		if err := e.requireCapacity(esc, p.Participant); err != nil {
			return err
		}

		if err := market.AddStake(esc, bettor, amount, direction); err != nil {
			return err
		}
		esc.Bettors = esc.Bettors.With(p.Participant)

		cs := &market.ChangeSet{}
		cs.PutEscrow(esc)
		cs.PutBettor(bettor)

		if err := e.stakeSOL(ctx, event.OpWager, p.Participant, amount, cs); err != nil {
			return err
		}
		e.recordRosters(esc, nil)

		e.emit(event.OpWager, &event.WagerPlaced{
			Token:       p.Token,
			Facet:       p.Facet,
			Participant: p.Participant,
			Round:       m.Round,
			Amount:      amount,
			Direction:   direction,
		}, cs, now, commandIDFrom(ctx))
		return nil
	})
}

// UnderdogBet stakes on neither side; the stake is apportioned at settlement
func (e *Engine) UnderdogBet(ctx context.Context, p market.Params, amount uint64) error {
	return e.call(ctx, event.OpUnderdogBet, p, func(ctx context.Context, now time.Time) error {
		if err := checkParams(p); err != nil {
			return err
		}
		if amount == 0 {
			return market.ErrZeroAmount
		}

		m, err := e.loadMarket(ctx, p.Token)
		if err != nil {
			return err
		}
		if m.State != market.MarketStateBetting {
			return market.ErrMarketNotInBettingState
		}
		if !m.BettingOpen(now) {
			return e.closeBetting(ctx, event.OpUnderdogBet, m, now)
		}
		if err := e.requireFunds(ctx, p.Participant, amount); err != nil {
			return err
		}
		if !m.HasFacet(p.Facet) {
			return market.ErrFacetNotInMarket
		}

		esc, _, err := e.facetRecords(ctx, p.FacetKey())
		if err != nil {
			return err
		}
		standard, err := esc.Standard()
		if err != nil {
			return err
		}
		if standard == 0 {
			return market.ErrUnderdogBetTooEarly
		}

		bettor, err := e.bettorOrNew(ctx, p.ParticipantKey())
		if err != nil {
			return err
		}
		own, err := bettor.Standard()
		if err != nil {
			return err
		}
		if own != 0 {
			return market.ErrUnderdogWithOtherBet
		}
		if err := e.requireCapacity(esc, p.Participant); err != nil {
			return err
		}

		if err := market.AddUnderdog(esc, bettor, amount); err != nil {
			return err
		}
		esc.Bettors = esc.Bettors.With(p.Participant)

		cs := &market.ChangeSet{}
		cs.PutEscrow(esc)
		cs.PutBettor(bettor)

		if err := e.stakeSOL(ctx, event.OpUnderdogBet, p.Participant, amount, cs); err != nil {
			return err
		}
		e.recordRosters(esc, nil)

		e.emit(event.OpUnderdogBet, &event.UnderdogBetPlaced{
			Token:       p.Token,
			Facet:       p.Facet,
			Participant: p.Participant,
			Round:       m.Round,
			Amount:      amount,
		}, cs, now, commandIDFrom(ctx))
		return nil
	})
}

// Vote stakes voting tokens on the facet outcome once betting has ended.
// The tally counts voters; the amount only weighs the voter's payout.
// Each facet's poll closes on its own threshold.
func (e *Engine) Vote(ctx context.Context, p market.Params, amount uint64, direction bool) error {
	return e.call(ctx, event.OpVote, p, func(ctx context.Context, now time.Time) error {
		if err := checkParams(p); err != nil {
			return err
		}

		m, err := e.loadMarket(ctx, p.Token)
		if err != nil {
			return err
		}
		// a facet keeps voting while others are already settling
		switch m.State {
		case market.MarketStateBetting, market.MarketStateVoting, market.MarketStateConsolidating:
		default:
			return market.ErrNotVotingTime
		}
		if m.BettingOpen(now) {
			return market.ErrNotVotingTime
		}
		if !m.HasFacet(p.Facet) {
			return market.ErrFacetNotInMarket
		}
		if m.FacetClosed(p.Facet) {
			return market.ErrVotingClosed
		}

		esc, poll, err := e.facetRecords(ctx, p.FacetKey())
		if err != nil {
			return err
		}
		if poll.Voters.Contains(p.Participant) {
			return market.ErrAlreadyVoted
		}
		if poll.Tally() >= e.cfg.VoteThreshold {
			return market.ErrVotingClosed
		}
		if esc.Bettors.Contains(p.Participant) {
			return market.ErrCannotVoteWithBets
		}

		balance, err := e.wallets.VotingTokenBalance(ctx, p.Participant)
		if err != nil {
			return externalErr("voting_token_balance", err)
		}
		if balance < amount {
			return market.ErrInsufficientVotingTokens
		}
		if amount < e.cfg.MinVoteAmount {
			return market.ErrAmountTooLow
		}
		if amount > e.cfg.MaxVoteAmount {
			return market.ErrAmountTooHigh
		}

		cs := &market.ChangeSet{}
		prev := m.State
		if m.State == market.MarketStateBetting {
			if err := m.Transition(market.MarketStateVoting); err != nil {
				return err
			}
			cs.PutMarket(m)
		}

		if direction {
			poll.TotalFor++
		} else {
			poll.TotalAgainst++
		}
		poll.Voters = poll.Voters.With(p.Participant)

		voter := market.NewVoter(p.ParticipantKey())
		voter.Amount = amount
		voter.Direction = direction

		cs.PutPoll(poll)
		cs.PutVoter(voter)

		err = e.inflow(ctx, event.OpVote, cs,
			func(ctx context.Context) error {
				return e.treasury.DepositVotingTokens(ctx, p.Participant, amount)
			},
			func(ctx context.Context) error {
				return e.treasury.ReimburseVotingTokens(ctx, e.cfg.TreasuryAuthority, p.Participant, amount)
			})
		if err != nil {
			return err
		}
		e.recordTransition(prev, m.State)
		e.recordRosters(nil, poll)

		e.emit(event.OpVote, &event.VoteCast{
			Token:        p.Token,
			Facet:        p.Facet,
			Participant:  p.Participant,
			Round:        m.Round,
			Amount:       amount,
			Direction:    direction,
			TotalFor:     poll.TotalFor,
			TotalAgainst: poll.TotalAgainst,
		}, cs, now, commandIDFrom(ctx))
		return nil
	})
}

// closeBetting commits only the Betting→Voting flip and rejects the late call
func (e *Engine) closeBetting(ctx context.Context, op event.Operation, m *market.Market, now time.Time) error {
	prev := m.State
	if err := m.Transition(market.MarketStateVoting); err != nil {
		return err
	}
	cs := &market.ChangeSet{}
	cs.PutMarket(m)
	if err := e.commit(ctx, cs); err != nil {
		return err
	}
	e.recordTransition(prev, m.State)

	e.emit(op, &event.BettingClosed{
		Token:    m.Token,
		Round:    m.Round,
		ClosedAt: m.BettingEnd(),
	}, cs, now, fmt.Sprintf("betting-closed:%s:%d", m.Token, m.Round))
	return market.ErrBettingClosed
}

// === Shared helpers ===

type commandIDKey struct{}

// WithCommandID attaches the command ID that the emitted event is keyed by
func WithCommandID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, commandIDKey{}, id)
}

func commandIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(commandIDKey{}).(string); ok && id != "" {
		return id
	}
	return ""
}

// LockKey is the lock name shared by every entry point of one market
func LockKey(token market.Identity) string {
	return "market:" + string(token)
}

func (e *Engine) call(
	ctx context.Context,
	op event.Operation,
	p market.Params,
	fn func(ctx context.Context, now time.Time) error,
) error {
	start := time.Now()

	unlock, err := e.locker.Lock(ctx, LockKey(p.Token))
	if err != nil {
		err = fmt.Errorf("acquire market lock: %w", err)
		e.observe(op, p, start, err)
		return err
	}

	e.barrier.RLock()
	err = fn(ctx, e.clock.Now())
	e.barrier.RUnlock()
	unlock()

	e.observe(op, p, start, err)
	return err
}

func (e *Engine) observe(op event.Operation, p market.Params, start time.Time, err error) {
	if e.metrics != nil {
		if err != nil {
			e.metrics.EntryPointsRejected.WithLabelValues(string(op), market.CodeOf(err)).Inc()
		} else {
			e.metrics.EntryPointsApplied.WithLabelValues(string(op)).Inc()
		}
		e.metrics.EntryPointDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
	}

	logger := observability.ForMarket(e.logger, string(p.Token), p.Facet.String())
	if err != nil {
		logger.Warn().
			Str("operation", string(op)).
			Str("participant", string(p.Participant)).
			Str("code", market.CodeOf(err)).
			Err(err).
			Msg("entry point rejected")
		return
	}
	logger.Info().
		Str("operation", string(op)).
		Str("participant", string(p.Participant)).
		Dur("took", time.Since(start)).
		Msg("entry point applied")
}

func checkParams(p market.Params) error {
	if p.Token == "" {
		return market.ErrMarketNotFound
	}
	if !p.Facet.Valid() {
		return market.ErrInvalidFacets
	}
	if p.Participant == "" {
		return market.ErrInvalidParticipant
	}
	return nil
}

func (e *Engine) loadMarket(ctx context.Context, token market.Identity) (*market.Market, error) {
	m, err := e.store.GetMarket(ctx, token)
	if errors.Is(err, market.ErrNotFound) {
		return nil, market.ErrMarketNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.Token != token {
		return nil, market.ErrNotTheSameToken
	}
	return m, nil
}

// facetRecords loads the escrow and poll of a registered facet
func (e *Engine) facetRecords(ctx context.Context, key market.FacetKey) (*market.Escrow, *market.Poll, error) {
	esc, err := e.store.GetEscrow(ctx, key)
	if errors.Is(err, market.ErrNotFound) {
		esc = market.NewEscrow(key)
	} else if err != nil {
		return nil, nil, err
	}

	poll, err := e.store.GetPoll(ctx, key)
	if errors.Is(err, market.ErrNotFound) {
		poll = market.NewPoll(key)
	} else if err != nil {
		return nil, nil, err
	}
	return esc, poll, nil
}

func (e *Engine) bettorOrNew(ctx context.Context, key market.ParticipantKey) (*market.Bettor, error) {
	b, err := e.store.GetBettor(ctx, key)
	if errors.Is(err, market.ErrNotFound) {
		return market.NewBettor(key), nil
	}
	return b, err
}

// requireFunds checks the wallet strictly exceeds the stake
func (e *Engine) requireFunds(ctx context.Context, id market.Identity, amount uint64) error {
	balance, err := e.wallets.FundsBalance(ctx, id)
	if err != nil {
		return externalErr("funds_balance", err)
	}
	if balance <= amount {
		return market.ErrInsufficientFunds
	}
	return nil
}

func (e *Engine) requireCapacity(esc *market.Escrow, id market.Identity) error {
	if !esc.Bettors.Contains(id) && len(esc.Bettors) >= e.cfg.MaxWagers {
		return market.ErrMaxWagersReached
	}
	return nil
}

func (e *Engine) stakeSOL(ctx context.Context, op event.Operation, from market.Identity, amount uint64, cs *market.ChangeSet) error {
	return e.inflow(ctx, op, cs,
		func(ctx context.Context) error {
			return e.treasury.Deposit(ctx, from, amount)
		},
		func(ctx context.Context) error {
			return e.treasury.Reimburse(ctx, e.cfg.TreasuryAuthority, from, amount)
		})
}

// inflow moves funds into custody and then commits. A failed commit returns the funds.
func (e *Engine) inflow(
	ctx context.Context,
	op event.Operation,
	cs *market.ChangeSet,
	deposit, refund func(ctx context.Context) error,
) error {
	if err := deposit(ctx); err != nil {
		e.recordExternalError("deposit")
		return externalErr("deposit", err)
	}

	if err := e.commit(ctx, cs); err != nil {
		if rerr := refund(context.WithoutCancel(ctx)); rerr != nil {
			e.recordExternalError("refund")
			e.logger.Error().
				Str("operation", string(op)).
				Err(rerr).
				AnErr("commit_error", err).
				Msg("CRITICAL: commit failed and deposit could not be returned")
		}
		if e.metrics != nil {
			e.metrics.Compensations.WithLabelValues(string(op)).Inc()
		}
		return err
	}
	return nil
}

func (e *Engine) commit(ctx context.Context, cs *market.ChangeSet) error {
	if err := e.store.Commit(ctx, cs); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}
	return nil
}

// externalErr keeps coded errors from custody and wraps anything else
func externalErr(call string, err error) error {
	var me *market.Error
	if errors.As(err, &me) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", market.ErrExternalCall, call, err)
}

// emit assigns the next sequence, extends the hash chain and hands the output
// to the persistence (blocking) and projection (non-blocking) channels.
func (e *Engine) emit(op event.Operation, evt event.Event, cs *market.ChangeSet, now time.Time, key string) {
	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode %s: %v", evt.EventType(), err))
	}
	digest, err := json.Marshal(cs)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode change set: %v", err))
	}
	token, facet, participant, round := evt.Context()

	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	prev := e.hasher.GetPrevHash()
	hash := e.hasher.ComputeHash(e.sequence, digest)

	if key == "" {
		key = fmt.Sprintf("%s:%d", evt.EventType(), e.sequence)
	}

	output := CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       e.sequence,
			IdempotencyKey: key,
			Operation:      op,
			EventType:      evt.EventType(),
			Token:          token,
			Facet:          facet,
			Participant:    participant,
			Round:          round,
			Timestamp:      now,
			Payload:        payload,
			StateHash:      hash,
			PrevHash:       prev,
		},
		Event:      evt,
		StateDelta: digest,
	}
	e.sequence++

	// Persistence: blocking send. The engine stalls until the worker drains,
	// so no committed event is lost from the log.
	if e.persistChan != nil {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}
	}

	// Projections: non-blocking send, rebuilt from the event log when behind
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("settlements").Inc()
			}
		}
	}

	if e.metrics != nil {
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}
}

func (e *Engine) recordTransition(from, to market.MarketState) {
	if from == to || e.metrics == nil {
		return
	}
	e.metrics.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (e *Engine) recordRosters(esc *market.Escrow, poll *market.Poll) {
	if e.metrics == nil {
		return
	}
	if esc != nil {
		e.metrics.RosterSize.WithLabelValues(string(esc.Token), esc.Facet.String(), "bettors").Set(float64(len(esc.Bettors)))
		e.metrics.RosterSize.WithLabelValues(string(esc.Token), esc.Facet.String(), "bettors_consolidated").Set(float64(len(esc.BettorsConsolidated)))
	}
	if poll != nil {
		e.metrics.RosterSize.WithLabelValues(string(poll.Token), poll.Facet.String(), "voters").Set(float64(len(poll.Voters)))
		e.metrics.RosterSize.WithLabelValues(string(poll.Token), poll.Facet.String(), "voters_consolidated").Set(float64(len(poll.VotersConsolidated)))
	}
}

func (e *Engine) recordExternalError(call string) {
	if e.metrics != nil {
		e.metrics.ExternalCallErrors.WithLabelValues(call).Inc()
	}
}

// === Snapshot support ===

// GetSequence returns the next sequence to assign
func (e *Engine) GetSequence() int64 {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	return e.sequence
}

// GetStateHash returns the current chain tip
func (e *Engine) GetStateHash() [32]byte {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	return e.hasher.GetPrevHash()
}

// Quiesce runs fn while no entry point is in flight, so the store, custody
// and chain tip it observes all belong to the same sequence.
func (e *Engine) Quiesce(fn func(nextSequence int64, tip [32]byte) error) error {
	e.barrier.Lock()
	defer e.barrier.Unlock()
	return fn(e.GetSequence(), e.GetStateHash())
}

// RestoreChain resumes the sequence and hash chain after a snapshot load
func (e *Engine) RestoreChain(nextSequence int64, tip [32]byte) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.sequence = nextSequence
	e.hasher.SetPrevHash(tip)
}
