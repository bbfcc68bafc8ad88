package math_test

import (
	fpmath "Parimutuel/internal/math"
	"Parimutuel/internal/market"
	"errors"
	"math/rand"
	"testing"
)

// ============================================================================
// Test: ComputeReturns
// ============================================================================

func TestComputeReturns_Symmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		a := rng.Uint64() % 1_000_000_000_000
		b := rng.Uint64() % 1_000_000_000_000
		if a+b == 0 {
			a = 1
		}
		c := rng.Uint64() % 1_000_000_000_000
		vnf := a / uint64(rng.Intn(5)+1)
		vna := b / uint64(rng.Intn(5)+1)
		vu := c / uint64(rng.Intn(5)+1)

		forRes, err := fpmath.ComputeReturns(true,
			fpmath.Pool{For: a, Against: b, Underdog: c},
			fpmath.Stake{For: vnf, Against: vna, Underdog: vu})
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		againstRes, err := fpmath.ComputeReturns(false,
			fpmath.Pool{For: b, Against: a, Underdog: c},
			fpmath.Stake{For: vna, Against: vnf, Underdog: vu})
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}

		if forRes != againstRes {
			t.Fatalf("case %d (a=%d b=%d c=%d vnf=%d vna=%d vu=%d): got %+v vs %+v",
				i, a, b, c, vnf, vna, vu, forRes, againstRes)
		}
	}
}

func TestComputeReturns_NoUnderdogDegenerates(t *testing.T) {
	tests := []struct {
		a, b, vnf uint64
	}{
		{1000, 500, 1000},
		{1000, 500, 333},
		{7, 3, 5},
		{3, 7, 1},
		{1, 1_000_000_000_000, 1},
	}
	for _, tt := range tests {
		got, err := fpmath.ComputeReturns(true,
			fpmath.Pool{For: tt.a, Against: tt.b},
			fpmath.Stake{For: tt.vnf})
		if err != nil {
			t.Fatal(err)
		}
		want := tt.b * tt.vnf / tt.a
		if got.WinningsPre != want {
			t.Errorf("a=%d b=%d vnf=%d: got %d, want %d", tt.a, tt.b, tt.vnf, got.WinningsPre, want)
		}
		if got.BetReturned != tt.vnf {
			t.Errorf("bet returned: got %d, want %d", got.BetReturned, tt.vnf)
		}
	}
}

func TestComputeReturns_FullPoolNoProfit(t *testing.T) {
	got, err := fpmath.ComputeReturns(true,
		fpmath.Pool{For: 2500},
		fpmath.Stake{For: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if got.BetReturned != 1000 {
		t.Errorf("bet returned: got %d, want 1000", got.BetReturned)
	}
	if got.WinningsPre != 0 {
		t.Errorf("winnings: got %d, want 0 with no opposing pool", got.WinningsPre)
	}
}

func TestComputeReturns_EndToEndNumbers(t *testing.T) {
	pool := fpmath.Pool{For: 1000, Against: 500}

	winner, err := fpmath.ComputeReturns(true, pool, fpmath.Stake{For: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if winner.BetReturned != 1000 || winner.WinningsPre != 500 {
		t.Errorf("winner: got %+v, want {1000 500}", winner)
	}
	if paid := fpmath.ApplyFee(winner.WinningsPre); paid != 475 {
		t.Errorf("paid winnings: got %d, want 475", paid)
	}

	loser, err := fpmath.ComputeReturns(true, pool, fpmath.Stake{Against: 500})
	if err != nil {
		t.Fatal(err)
	}
	if loser.BetReturned != 0 || loser.WinningsPre != 0 {
		t.Errorf("loser: got %+v, want zero", loser)
	}
}

func TestComputeReturns_UnderdogApportionedByOppositeWeight(t *testing.T) {
	// a=300 b=100 c=200: final_for = 300 + 200*100/400 = 350,
	// final_against = 100 + 200*300/400 = 250
	pool := fpmath.Pool{For: 300, Against: 100, Underdog: 200}

	// underdog bettor vu=200, for wins: underdog_for = 100*200/400 = 50,
	// winnings = 250*50/350 = 35
	got, err := fpmath.ComputeReturns(true, pool, fpmath.Stake{Underdog: 200})
	if err != nil {
		t.Fatal(err)
	}
	if got.BetReturned != 50 || got.WinningsPre != 35 {
		t.Errorf("for wins: got %+v, want {50 35}", got)
	}

	// against wins: underdog_against = 300*200/400 = 150,
	// winnings = 350*150/250 = 210
	got, err = fpmath.ComputeReturns(false, pool, fpmath.Stake{Underdog: 200})
	if err != nil {
		t.Fatal(err)
	}
	if got.BetReturned != 150 || got.WinningsPre != 210 {
		t.Errorf("against wins: got %+v, want {150 210}", got)
	}

	// standard for bettor vnf=300: winnings = 250*300/350 = 214
	got, err = fpmath.ComputeReturns(true, pool, fpmath.Stake{For: 300})
	if err != nil {
		t.Fatal(err)
	}
	if got.BetReturned != 300 || got.WinningsPre != 214 {
		t.Errorf("standard for: got %+v, want {300 214}", got)
	}
}

func TestComputeReturns_EmptyPoolRejected(t *testing.T) {
	_, err := fpmath.ComputeReturns(true, fpmath.Pool{Underdog: 10}, fpmath.Stake{Underdog: 10})
	if !errors.Is(err, market.ErrEmptyPool) {
		t.Errorf("expected ErrEmptyPool, got %v", err)
	}
}

func TestComputeReturns_EmptyWinningSideYieldsZero(t *testing.T) {
	// Nobody staked "for" and there is no underdog pool: the for side gets nothing
	got, err := fpmath.ComputeReturns(true, fpmath.Pool{Against: 500}, fpmath.Stake{})
	if err != nil {
		t.Fatal(err)
	}
	if got != (fpmath.Returns{}) {
		t.Errorf("got %+v, want zero", got)
	}
}

func TestComputeReturns_LargeStakesDoNotWrap(t *testing.T) {
	big := uint64(1) << 62
	got, err := fpmath.ComputeReturns(true,
		fpmath.Pool{For: big, Against: big},
		fpmath.Stake{For: big})
	if err != nil {
		t.Fatal(err)
	}
	if got.BetReturned != big || got.WinningsPre != big {
		t.Errorf("got %+v, want {%d %d}", got, big, big)
	}
}

// ============================================================================
// Test: Fee
// ============================================================================

func TestApplyFee_Truncates(t *testing.T) {
	tests := []struct{ in, want uint64 }{
		{0, 0},
		{1, 0},
		{19, 18},
		{20, 19},
		{500, 475},
		{^uint64(0), 17524406870024074034},
	}
	for _, tt := range tests {
		if got := fpmath.ApplyFee(tt.in); got != tt.want {
			t.Errorf("ApplyFee(%d): got %d, want %d", tt.in, got, tt.want)
		}
	}
}

// ============================================================================
// Test: Tally
// ============================================================================

func TestWinningsFromVotes(t *testing.T) {
	for _, d := range []bool{true, false} {
		if got := fpmath.WinningsFromVotes(d, d, 1234); got != 1234 {
			t.Errorf("matching direction %v: got %d, want 1234", d, got)
		}
		if got := fpmath.WinningsFromVotes(d, !d, 1234); got != 0 {
			t.Errorf("opposite direction %v: got %d, want 0", d, got)
		}
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		forVotes, againstVotes uint32
		direction, tie         bool
	}{
		{2, 1, true, false},
		{1, 2, false, false},
		{2, 2, false, true},
		{0, 0, false, true},
	}
	for _, tt := range tests {
		d, tie := fpmath.Outcome(tt.forVotes, tt.againstVotes)
		if d != tt.direction || tie != tt.tie {
			t.Errorf("Outcome(%d,%d): got (%v,%v), want (%v,%v)",
				tt.forVotes, tt.againstVotes, d, tie, tt.direction, tt.tie)
		}
	}
}
