package market_test

import (
	"Parimutuel/internal/market"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// ============================================================================
// Test: Facet
// ============================================================================

func TestParseFacet_Known(t *testing.T) {
	cases := map[string]market.Facet{
		"truthfulness": market.FacetTruthfulness,
		"Originality":  market.FacetOriginality,
		"authenticity": market.FacetAuthenticity,
	}
	for in, want := range cases {
		got, err := market.ParseFacet(in)
		if err != nil {
			t.Fatalf("ParseFacet(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestParseFacet_Unknown(t *testing.T) {
	_, err := market.ParseFacet("beauty")
	if !errors.Is(err, market.ErrInvalidFacets) {
		t.Errorf("expected ErrInvalidFacets, got %v", err)
	}
}

func TestFacet_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(market.FacetOriginality)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"originality"` {
		t.Errorf("got %s, want %q", data, "originality")
	}
	var f market.Facet
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f != market.FacetOriginality {
		t.Errorf("got %v, want originality", f)
	}
}

// ============================================================================
// Test: MarketState transitions
// ============================================================================

func TestMarketState_Transitions(t *testing.T) {
	tests := []struct {
		from, to market.MarketState
		ok       bool
	}{
		{market.MarketStateInitialised, market.MarketStateBetting, true},
		{market.MarketStateInactive, market.MarketStateBetting, true},
		{market.MarketStateBetting, market.MarketStateVoting, true},
		{market.MarketStateVoting, market.MarketStateConsolidating, true},
		{market.MarketStateConsolidating, market.MarketStateInactive, true},
		{market.MarketStateBetting, market.MarketStateConsolidating, false},
		{market.MarketStateVoting, market.MarketStateBetting, false},
		{market.MarketStateConsolidating, market.MarketStateBetting, false},
		{market.MarketStateInactive, market.MarketStateInitialised, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

// ============================================================================
// Test: Market construction
// ============================================================================

func TestNewMarket_Valid(t *testing.T) {
	m, err := market.NewMarket("TOKEN", []market.Facet{market.FacetTruthfulness}, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if m.State != market.MarketStateInitialised {
		t.Errorf("got %s, want Initialised", m.State)
	}
	if m.Round != 0 {
		t.Errorf("round should start at 0, got %d", m.Round)
	}
	if !m.HasFacet(market.FacetTruthfulness) || m.HasFacet(market.FacetOriginality) {
		t.Error("facet membership mismatch")
	}
}

func TestNewMarket_Rejects(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		name    string
		facets  []market.Facet
		timeout time.Duration
		want    error
	}{
		{"empty facets", nil, day, market.ErrInvalidFacets},
		{"duplicate facets", []market.Facet{market.FacetTruthfulness, market.FacetTruthfulness}, day, market.ErrInvalidFacets},
		{"unknown facet", []market.Facet{market.FacetUnknown}, day, market.ErrInvalidFacets},
		{"timeout too large", []market.Facet{market.FacetTruthfulness}, 15 * day, market.ErrTimeoutTooLarge},
		{"timeout too small", []market.Facet{market.FacetTruthfulness}, time.Hour, market.ErrTimeoutTooSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := market.NewMarket("TOKEN", tt.facets, tt.timeout)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMarket_BettingOpenBoundary(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &market.Market{StartTime: start, Timeout: 24 * time.Hour}

	if !m.BettingOpen(start.Add(24 * time.Hour)) {
		t.Error("betting should be open exactly at start+timeout")
	}
	if m.BettingOpen(start.Add(24*time.Hour + time.Nanosecond)) {
		t.Error("betting should be closed after start+timeout")
	}
}

func TestMarket_CloneIsDeep(t *testing.T) {
	m, _ := market.NewMarket("TOKEN", []market.Facet{market.FacetTruthfulness}, 24*time.Hour)
	c := m.Clone()
	c.Facets[0] = market.FacetOriginality
	if m.Facets[0] != market.FacetTruthfulness {
		t.Error("clone shares facet slice with original")
	}

	m.CloseFacet(market.FacetTruthfulness)
	c = m.Clone()
	c.ClosedFacets[0] = market.FacetOriginality
	if !m.FacetClosed(market.FacetTruthfulness) {
		t.Error("clone shares closed facet slice with original")
	}
}

func TestMarket_ClosedFacetsClearedWithRound(t *testing.T) {
	m, _ := market.NewMarket("TOKEN", []market.Facet{market.FacetTruthfulness, market.FacetOriginality}, 24*time.Hour)
	m.State = market.MarketStateConsolidating

	m.CloseFacet(market.FacetTruthfulness)
	m.CloseFacet(market.FacetTruthfulness)
	if len(m.ClosedFacets) != 1 {
		t.Errorf("closed facets: got %v, want one entry", m.ClosedFacets)
	}
	if m.FacetClosed(market.FacetOriginality) {
		t.Error("originality reported closed")
	}

	if err := m.Transition(market.MarketStateInactive); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if m.FacetClosed(market.FacetTruthfulness) {
		t.Error("closed facets survived the end of the round")
	}
}

// ============================================================================
// Test: Roster
// ============================================================================

func TestRoster_SetEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b market.Roster
		want bool
	}{
		{"both none", nil, nil, true},
		{"order independent", market.Roster{"a", "b", "c"}, market.Roster{"c", "a", "b"}, true},
		{"missing element", market.Roster{"a", "b"}, market.Roster{"a"}, false},
		{"extra element", market.Roster{"a"}, market.Roster{"a", "b"}, false},
		{"different element", market.Roster{"a", "b"}, market.Roster{"a", "c"}, false},
		{"none vs some", nil, market.Roster{"a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.SetEqual(tt.b); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoster_WithDoesNotDuplicate(t *testing.T) {
	r := market.Roster(nil).With("a").With("b").With("a")
	if len(r) != 2 {
		t.Errorf("got %d entries, want 2", len(r))
	}
}

func TestRoster_SetEqualDoesNotReorder(t *testing.T) {
	r := market.Roster{"c", "a", "b"}
	r.SetEqual(market.Roster{"a", "b", "c"})
	if r[0] != "c" {
		t.Error("SetEqual must not sort the receiver in place")
	}
}

// ============================================================================
// Test: Stake accumulation
// ============================================================================

func TestAddStake_SplitsByDirection(t *testing.T) {
	key := market.ParticipantKey{Token: "T", Facet: market.FacetTruthfulness, Participant: "p"}
	e := market.NewEscrow(market.FacetKey{Token: "T", Facet: market.FacetTruthfulness})
	b := market.NewBettor(key)

	if err := market.AddStake(e, b, 1000, true); err != nil {
		t.Fatal(err)
	}
	if err := market.AddStake(e, b, 300, false); err != nil {
		t.Fatal(err)
	}
	if e.TotFor != 1000 || e.TotAgainst != 300 {
		t.Errorf("escrow totals: got %d/%d, want 1000/300", e.TotFor, e.TotAgainst)
	}
	if b.TotFor != 1000 || b.TotAgainst != 300 || b.TotUnderdog != 0 {
		t.Errorf("bettor totals: got %d/%d/%d", b.TotFor, b.TotAgainst, b.TotUnderdog)
	}
}

func TestAddStake_OverflowLeavesRecordsUntouched(t *testing.T) {
	e := &market.Escrow{TotFor: ^uint64(0)}
	b := &market.Bettor{}

	err := market.AddStake(e, b, 1, true)
	if !errors.Is(err, market.ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if b.TotFor != 0 {
		t.Errorf("bettor mutated on overflow: %d", b.TotFor)
	}
}

func TestEscrow_ResetKeepsIdentity(t *testing.T) {
	e := &market.Escrow{
		Initialiser: "init", Token: "T", Facet: market.FacetTruthfulness,
		Bettors: market.Roster{"a"}, BettorsConsolidated: market.Roster{"a"},
		TotFor: 10, TotAgainst: 5, TotUnderdog: 1,
	}
	e.Reset()
	if !e.Empty() {
		t.Error("escrow should be empty after reset")
	}
	if e.Token != "T" || e.Facet != market.FacetTruthfulness {
		t.Error("reset cleared identity fields")
	}
}

// ============================================================================
// Test: Errors
// ============================================================================

func TestCodeAndCategory(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), market.ErrAlreadyVoted)
	if got := market.CodeOf(wrapped); got != "AlreadyVoted" {
		t.Errorf("got %q, want %q", got, "AlreadyVoted")
	}
	if got := market.CategoryOf(wrapped); got != market.CategoryDoubleAction {
		t.Errorf("got %s, want double_action", got)
	}
	if got := market.CodeOf(errors.New("boom")); got != "Internal" {
		t.Errorf("got %q, want %q", got, "Internal")
	}
}

func TestRecordsInconsistentIsInternal(t *testing.T) {
	if got := market.CategoryOf(market.ErrRecordsInconsistent); got != market.CategoryInternal {
		t.Errorf("got %s, want internal", got)
	}
	if market.CategoryOf(market.ErrRecordsInconsistent) == market.CategoryOf(market.ErrWagersDontAddUp) {
		t.Error("corrupt records share the category of an unfinished consolidation")
	}
}
