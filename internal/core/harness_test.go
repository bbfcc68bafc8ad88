package core_test

import (
	"Parimutuel/internal/core"
	"Parimutuel/internal/custody"
	"Parimutuel/internal/ledger"
	"Parimutuel/internal/lock"
	"Parimutuel/internal/market"
	"Parimutuel/internal/persistence"
	"Parimutuel/internal/testutil"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

const (
	authority market.Identity = "treasury-authority"
	mintID    market.Identity = "vote-mint"
	token     market.Identity = "TOKEN"

	voteStake uint64 = 1_000_000
)

var (
	t0       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mintMeta = custody.MintMetadata{Name: "Pari Vote", Symbol: "PVOTE", URI: "https://example.invalid/pvote.json", Decimals: 9}
)

// failingStore fails Commit while failCommit is set
type failingStore struct {
	*persistence.MemoryStore
	mu         sync.Mutex
	failCommit bool
}

func (s *failingStore) setFail(v bool) {
	s.mu.Lock()
	s.failCommit = v
	s.mu.Unlock()
}

func (s *failingStore) Commit(ctx context.Context, cs *market.ChangeSet) error {
	s.mu.Lock()
	fail := s.failCommit
	s.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return s.MemoryStore.Commit(ctx, cs)
}

// flakyTreasury fails Reimburse while failReimburse is set
type flakyTreasury struct {
	*custody.Treasury
	failReimburse bool
}

func (t *flakyTreasury) Reimburse(ctx context.Context, signer, to market.Identity, amount uint64) error {
	if t.failReimburse {
		return errors.New("rpc timeout")
	}
	return t.Treasury.Reimburse(ctx, signer, to, amount)
}

// flakyMint fails MintTokens while failMint is set
type flakyMint struct {
	*custody.VotingMint
	failMint bool
}

func (m *flakyMint) MintTokens(ctx context.Context, to market.Identity, amount uint64) error {
	if m.failMint {
		return errors.New("mint offline")
	}
	return m.VotingMint.MintTokens(ctx, to, amount)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	engine   *core.Engine
	store    *failingStore
	book     *custody.Book
	treasury *flakyTreasury
	mint     *flakyMint
	wallets  *custody.Wallets
	clock    *testutil.ManualClock
	outputs  chan core.CoreOutput
}

func newHarness(t *testing.T, threshold uint32) *harness {
	t.Helper()
	ctx := context.Background()
	clock := testutil.NewManualClock(t0)

	book := custody.NewBook(clock.Now)
	treasury := &flakyTreasury{Treasury: custody.NewTreasury(authority, book)}
	mint := &flakyMint{VotingMint: custody.NewVotingMint(mintID, authority, mintMeta, book)}
	wallets := custody.NewWallets(book)
	store := &failingStore{MemoryStore: persistence.NewMemoryStore()}

	if err := mint.Init(ctx, authority, mintMeta); err != nil {
		t.Fatalf("mint init: %v", err)
	}
	if err := treasury.Seed(ctx, 10_000_000); err != nil {
		t.Fatalf("seed treasury: %v", err)
	}

	cfg := core.DefaultConfig(authority, mintID)
	cfg.VoteThreshold = threshold

	outputs := make(chan core.CoreOutput, 256)
	engine := core.NewEngine(cfg, core.Deps{
		Store:       store,
		Treasury:    treasury,
		Mint:        mint,
		Wallets:     wallets,
		Locker:      newLocker(),
		Clock:       clock,
		PersistChan: outputs,
	})
	if err := engine.InitialiseMarketplace(ctx); err != nil {
		t.Fatalf("initialise marketplace: %v", err)
	}

	return &harness{
		t:        t,
		ctx:      ctx,
		engine:   engine,
		store:    store,
		book:     book,
		treasury: treasury,
		mint:     mint,
		wallets:  wallets,
		clock:    clock,
		outputs:  outputs,
	}
}

func newLocker() core.Locker {
	return lock.NewKeyedMutex(nil)
}

func params(participant market.Identity) market.Params {
	return market.Params{Token: token, Facet: market.FacetTruthfulness, Participant: participant}
}

func (h *harness) fund(id market.Identity, asset ledger.AssetID, amount uint64) {
	h.t.Helper()
	if err := h.wallets.Fund(h.ctx, fmt.Sprintf("fund-%s-%d", id, asset), id, asset, amount); err != nil {
		h.t.Fatalf("fund %s: %v", id, err)
	}
}

func (h *harness) sol(id market.Identity) uint64 {
	b, _ := h.wallets.FundsBalance(h.ctx, id)
	return b
}

func (h *harness) votes(id market.Identity) uint64 {
	b, _ := h.wallets.VotingTokenBalance(h.ctx, id)
	return b
}

func (h *harness) treasurySOL() uint64 {
	b, err := h.treasury.SOLBalance(h.ctx, authority)
	if err != nil {
		h.t.Fatalf("treasury balance: %v", err)
	}
	return b
}

func (h *harness) loadMarket() *market.Market {
	h.t.Helper()
	m, err := h.store.GetMarket(h.ctx, token)
	if err != nil {
		h.t.Fatalf("get market: %v", err)
	}
	return m
}

func (h *harness) escrow() *market.Escrow {
	h.t.Helper()
	e, err := h.store.GetEscrow(h.ctx, market.FacetKey{Token: token, Facet: market.FacetTruthfulness})
	if err != nil {
		h.t.Fatalf("get escrow: %v", err)
	}
	return e
}

func (h *harness) poll() *market.Poll {
	h.t.Helper()
	p, err := h.store.GetPoll(h.ctx, market.FacetKey{Token: token, Facet: market.FacetTruthfulness})
	if err != nil {
		h.t.Fatalf("get poll: %v", err)
	}
	return p
}

// drain returns every output emitted so far
func (h *harness) drain() []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-h.outputs:
			out = append(out, o)
		default:
			return out
		}
	}
}

func (h *harness) must(err error) {
	h.t.Helper()
	if err != nil {
		h.t.Fatalf("unexpected error: %v", err)
	}
}

func (h *harness) expect(err, want error) {
	h.t.Helper()
	if !errors.Is(err, want) {
		h.t.Fatalf("got %v, want %v", err, want)
	}
}

// openRound creates the market with alice betting 1000 for and bob 500 against
func (h *harness) openRound() {
	h.t.Helper()
	h.must(h.engine.InitialiseMarket(h.ctx, token,
		[]market.Facet{market.FacetTruthfulness, market.FacetOriginality}, market.MinAllowedTimeout))

	h.fund("alice", ledger.AssetSOL, 10_000)
	h.fund("bob", ledger.AssetSOL, 10_000)
	h.must(h.engine.StartMarket(h.ctx, params("alice"), 1_000, true))

	h.clock.Advance(time.Hour)
	h.must(h.engine.Wager(h.ctx, params("bob"), 500, false))
}

// castVotes closes betting and casts one vote per direction entry
func (h *harness) castVotes(directions ...bool) []market.Identity {
	h.t.Helper()
	h.clock.Advance(market.MinAllowedTimeout)

	voters := make([]market.Identity, len(directions))
	for i, d := range directions {
		id := market.Identity(fmt.Sprintf("voter-%d", i))
		h.fund(id, ledger.AssetVote, 5*voteStake)
		h.must(h.engine.Vote(h.ctx, params(id), voteStake, d))
		voters[i] = id
	}
	return voters
}

func (h *harness) bettor(id market.Identity) *market.Bettor {
	h.t.Helper()
	b, err := h.store.GetBettor(h.ctx, params(id).ParticipantKey())
	if err != nil {
		h.t.Fatalf("get bettor %s: %v", id, err)
	}
	return b
}

func originality(participant market.Identity) market.Params {
	return market.Params{Token: token, Facet: market.FacetOriginality, Participant: participant}
}
