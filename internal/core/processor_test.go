package core_test

import (
	"Parimutuel/internal/core"
	"Parimutuel/internal/event"
	"Parimutuel/internal/ledger"
	"Parimutuel/internal/market"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

type fakeDB struct {
	seen map[string]bool
	err  error
}

func (f *fakeDB) IsDuplicate(operation, commandID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.seen[operation+":"+commandID], nil
}

func initCommand(id string) *event.Command {
	return &event.Command{
		CommandID:      id,
		Operation:      event.OpInitialiseMarket,
		Token:          string(token),
		Facets:         []string{"truthfulness", "originality"},
		TimeoutSeconds: int64(market.MinAllowedTimeout.Seconds()),
	}
}

// ============================================================================
// Test: Processor
// ============================================================================

func TestProcessor_DuplicateCommandIsSkipped(t *testing.T) {
	h := newHarness(t, 3)
	idem := core.NewIdempotencyChecker(100, nil)
	p := core.NewProcessor(h.engine, idem, nil, zerolog.Nop())

	h.must(p.Process(h.ctx, initCommand("c-1")))
	h.must(p.Process(h.ctx, initCommand("c-1")))

	if outs := h.drain(); len(outs) != 1 {
		t.Errorf("events: got %d, want 1", len(outs))
	}
	if lru, _ := idem.GetMetrics().GetDuplicates(string(event.OpInitialiseMarket)); lru != 1 {
		t.Errorf("lru duplicates: got %d, want 1", lru)
	}
}

func TestProcessor_RejectedCommandIsNotRemembered(t *testing.T) {
	h := newHarness(t, 3)
	idem := core.NewIdempotencyChecker(100, nil)
	p := core.NewProcessor(h.engine, idem, nil, zerolog.Nop())
	h.must(p.Process(h.ctx, initCommand("c-1")))

	wager := &event.Command{
		CommandID:   "w-1",
		Operation:   event.OpWager,
		Token:       string(token),
		Facet:       "truthfulness",
		Participant: "carol",
		Amount:      10,
		Direction:   true,
	}
	h.expect(p.Process(h.ctx, wager), market.ErrMarketNotInBettingState)
	if idem.IsDuplicate(string(event.OpWager), "w-1") {
		t.Error("rejected command marked processed")
	}
}

func TestProcessor_DispatchesEveryOperation(t *testing.T) {
	h := newHarness(t, 1)
	p := core.NewProcessor(h.engine, core.NewIdempotencyChecker(100, nil), nil, zerolog.Nop())
	h.fund("alice", ledger.AssetSOL, 10_000)
	h.fund("voter", ledger.AssetVote, 5*voteStake)

	seq := 0
	run := func(cmd *event.Command) {
		t.Helper()
		seq++
		cmd.CommandID = fmt.Sprintf("cmd-%d", seq)
		if cmd.Token == "" {
			cmd.Token = string(token)
		}
		if err := p.Process(h.ctx, cmd); err != nil {
			t.Fatalf("%s: %v", cmd.Operation, err)
		}
	}

	run(initCommand(""))
	run(&event.Command{Operation: event.OpStartMarket, Facet: "truthfulness", Participant: "alice", Amount: 1_000, Direction: true})
	h.clock.Advance(market.MinAllowedTimeout + 1)
	run(&event.Command{Operation: event.OpVote, Facet: "truthfulness", Participant: "voter", Amount: voteStake, Direction: true})
	run(&event.Command{Operation: event.OpWagerResults, Facet: "truthfulness", Participant: "alice"})
	run(&event.Command{Operation: event.OpVoterResults, Facet: "truthfulness", Participant: "voter"})
	run(&event.Command{Operation: event.OpCallMarket, Facet: "truthfulness", Participant: "alice", Caller: string(authority)})

	if got := h.loadMarket().State; got != market.MarketStateInactive {
		t.Errorf("state: got %s, want Inactive", got)
	}
	for i, o := range h.drain() {
		if want := fmt.Sprintf("cmd-%d", i+1); o.Envelope.IdempotencyKey != want {
			t.Errorf("event %d key: got %q, want %q", i, o.Envelope.IdempotencyKey, want)
		}
	}
}

func TestProcessor_InvalidCommand(t *testing.T) {
	h := newHarness(t, 3)
	p := core.NewProcessor(h.engine, nil, nil, zerolog.Nop())

	tests := []struct {
		name string
		cmd  *event.Command
	}{
		{"missing id", &event.Command{Operation: event.OpWager, Token: "T", Facet: "truthfulness", Participant: "a"}},
		{"unknown operation", &event.Command{CommandID: "x", Operation: "withdraw", Token: "T", Facet: "truthfulness", Participant: "a"}},
		{"missing participant", &event.Command{CommandID: "x", Operation: event.OpWager, Token: "T", Facet: "truthfulness"}},
		{"call without caller", &event.Command{CommandID: "x", Operation: event.OpCallMarket, Token: "T", Facet: "truthfulness", Participant: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Process(h.ctx, tt.cmd)
			if !errors.Is(err, core.ErrInvalidCommand) {
				t.Errorf("got %v, want ErrInvalidCommand", err)
			}
			if core.Retryable(err) {
				t.Error("invalid command reported retryable")
			}
		})
	}

	err := p.Process(h.ctx, &event.Command{CommandID: "x", Operation: event.OpWager, Token: "T", Facet: "sincerity", Participant: "a"})
	h.expect(err, market.ErrInvalidFacets)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{market.ErrAlreadyVoted, false},
		{market.ErrBettingClosed, false},
		{market.ErrInsufficientTreasury, false},
		{fmt.Errorf("%w: mint: offline", market.ErrExternalCall), true},
		{market.ErrBalancesDisagree, true},
		{errors.New("connection reset"), true},
		{fmt.Errorf("%w: bad", core.ErrInvalidCommand), false},
	}
	for _, tt := range tests {
		if got := core.Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v): got %v, want %v", tt.err, got, tt.want)
		}
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestIdempotencyChecker_DBTier(t *testing.T) {
	db := &fakeDB{seen: map[string]bool{"wager:old": true}}
	ic := core.NewIdempotencyChecker(10, db)

	if !ic.IsDuplicate("wager", "old") {
		t.Error("db-known command not reported duplicate")
	}
	if ic.IsDuplicate("vote", "old") {
		t.Error("operation is part of the key")
	}
	if _, pg := ic.GetMetrics().GetDuplicates("wager"); pg != 1 {
		t.Errorf("postgres duplicates: got %d, want 1", pg)
	}

	// promoted into the LRU
	db.seen = nil
	if !ic.IsDuplicate("wager", "old") {
		t.Error("db hit not cached")
	}
}

func TestIdempotencyChecker_DBErrorFailsOpen(t *testing.T) {
	ic := core.NewIdempotencyChecker(10, &fakeDB{err: errors.New("db down")})
	if ic.IsDuplicate("wager", "x") {
		t.Error("db error reported duplicate")
	}
	if got := ic.GetMetrics().GetTier2Errors(); got != 1 {
		t.Errorf("tier2 errors: got %d, want 1", got)
	}
}

func TestIdempotencyLRU_Eviction(t *testing.T) {
	ic := core.NewIdempotencyChecker(2, nil)
	ic.Warm([]string{"wager:a", "wager:b"})
	ic.MarkProcessed("wager", "c")

	if ic.IsDuplicate("wager", "a") {
		t.Error("oldest key not evicted")
	}
	if !ic.IsDuplicate("wager", "c") {
		t.Error("newest key missing")
	}
	size, evictions := ic.Stats()
	if size != 2 || evictions != 1 {
		t.Errorf("stats: got size=%d evictions=%d, want 2/1", size, evictions)
	}
	if got := ic.Keys(); len(got) != 2 || got[1] != "wager:c" {
		t.Errorf("keys: got %v", got)
	}
}

// ============================================================================
// Test: Hasher
// ============================================================================

func TestStateHasher_Deterministic(t *testing.T) {
	a, b := core.NewStateHasher(), core.NewStateHasher()
	for seq := int64(0); seq < 5; seq++ {
		digest := []byte(fmt.Sprintf(`{"seq":%d}`, seq))
		if a.ComputeHash(seq, digest) != b.ComputeHash(seq, digest) {
			t.Fatalf("hash diverged at %d", seq)
		}
	}

	c, d := core.NewStateHasher(), core.NewStateHasher()
	if c.ComputeHash(0, []byte(`{"seq":0}`)) == d.ComputeHash(0, []byte(`{"seq":1}`)) {
		t.Error("different digests produced the same hash")
	}
	if c.ComputeHash(1, nil) == d.ComputeHash(1, nil) {
		t.Error("different chain prefixes produced the same hash")
	}
}
