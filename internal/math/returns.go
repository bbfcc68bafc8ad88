package math

import (
	"Parimutuel/internal/market"

	"github.com/holiman/uint256"
)

// Pool is the escrow totals of one facet (a, b, c)
type Pool struct {
	For      uint64
	Against  uint64
	Underdog uint64
}

// Stake is one bettor's totals (vnf, vna, vu)
type Stake struct {
	For      uint64
	Against  uint64
	Underdog uint64
}

// Returns is the settlement of one bettor before the protocol fee
type Returns struct {
	BetReturned uint64 // own stake returned at par
	WinningsPre uint64 // profit before fee
}

// ComputeReturns settles one bettor against the pool for the winning direction.
//
// The underdog pool is apportioned to each side by the opposite side's weight:
//
//	final_for     = a + c*b/(a+b)
//	final_against = b + c*a/(a+b)
//
// and an underdog bettor's own stake is split the same way before the
// losing pool is shared pro-rata among winners. Only the winning side's
// terms are evaluated. The (for, a, vnf) and (against, b, vna) roles go
// through the same helper, so flipping direction and swapping the inputs
// swaps the results exactly.
func ComputeReturns(direction bool, pool Pool, stake Stake) (Returns, error) {
	a, b, c := Wide(pool.For), Wide(pool.Against), Wide(pool.Underdog)

	total := new(uint256.Int).Add(a, b)
	if total.IsZero() {
		return Returns{}, market.ErrEmptyPool
	}

	if direction {
		return sideReturns(a, b, c, total, Wide(stake.For), Wide(stake.Underdog))
	}
	return sideReturns(b, a, c, total, Wide(stake.Against), Wide(stake.Underdog))
}

// sideReturns computes returns for a bettor on side "own", where "other" is
// the opposing standard pool.
func sideReturns(own, other, c, total, ownStake, vu *uint256.Int) (Returns, error) {
	finalOwn, err := apportion(own, other, c, total)
	if err != nil {
		return Returns{}, err
	}
	finalOther, err := apportion(other, own, c, total)
	if err != nil {
		return Returns{}, err
	}

	// underdog_own = other * vu / (a+b)
	underdogOwn, err := BufferedMulDiv(other, vu, total)
	if err != nil {
		return Returns{}, err
	}

	winnings, err := BufferedMulDiv(finalOther, ownStake, finalOwn)
	if err != nil {
		return Returns{}, err
	}
	underdogWinnings, err := BufferedMulDiv(finalOther, underdogOwn, finalOwn)
	if err != nil {
		return Returns{}, err
	}

	returned, overflow := new(uint256.Int).AddOverflow(ownStake, underdogOwn)
	if overflow {
		return Returns{}, market.ErrOverflow
	}
	pre, overflow := new(uint256.Int).AddOverflow(winnings, underdogWinnings)
	if overflow {
		return Returns{}, market.ErrOverflow
	}

	var out Returns
	if out.BetReturned, err = Narrow(returned); err != nil {
		return Returns{}, err
	}
	if out.WinningsPre, err = Narrow(pre); err != nil {
		return Returns{}, err
	}
	return out, nil
}

// apportion returns side + c*opposite/(a+b)
func apportion(side, opposite, c, total *uint256.Int) (*uint256.Int, error) {
	share, err := BufferedMulDiv(c, opposite, total)
	if err != nil {
		return nil, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(side, share)
	if overflow {
		return nil, market.ErrOverflow
	}
	return sum, nil
}
