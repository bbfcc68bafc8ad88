package market

import (
	"encoding/json"
	"fmt"
)

// MarketState is the lifecycle position of a market round
type MarketState int32

const (
	MarketStateInitialised MarketState = iota
	MarketStateInactive
	MarketStateBetting
	MarketStateVoting
	MarketStateConsolidating
)

func (s MarketState) String() string {
	switch s {
	case MarketStateInitialised:
		return "Initialised"
	case MarketStateInactive:
		return "Inactive"
	case MarketStateBetting:
		return "Betting"
	case MarketStateVoting:
		return "Voting"
	case MarketStateConsolidating:
		return "Consolidating"
	default:
		return "Unknown"
	}
}

var validTransitions = map[MarketState][]MarketState{
	MarketStateInitialised: {
		MarketStateBetting,
	},
	MarketStateInactive: {
		MarketStateBetting, // Next round
	},
	MarketStateBetting: {
		MarketStateVoting,
	},
	MarketStateVoting: {
		MarketStateConsolidating,
	},
	MarketStateConsolidating: {
		MarketStateInactive,
	},
}

// CanTransitionTo validates state transitions
func (s MarketState) CanTransitionTo(next MarketState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AcceptsNewRound reports whether start may open a round from this state
func (s MarketState) AcceptsNewRound() bool {
	return s == MarketStateInitialised || s == MarketStateInactive
}

func (s MarketState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *MarketState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for candidate := MarketStateInitialised; candidate <= MarketStateConsolidating; candidate++ {
		if candidate.String() == name {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown market state %q", name)
}
