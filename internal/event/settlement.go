package event

import (
	"Parimutuel/internal/market"
	"encoding/json"
	"fmt"
	"time"
)

type MarketInitialised struct {
	Token   market.Identity `json:"token"`
	Facets  []market.Facet  `json:"facets"`
	Timeout time.Duration   `json:"timeout"`
}

func (e *MarketInitialised) EventType() EventType { return EventTypeMarketInitialised }

func (e *MarketInitialised) Context() (market.Identity, market.Facet, market.Identity, uint32) {
	return e.Token, market.FacetUnknown, "", 0
}

// RoundStarted also carries the initialiser's first bet
type RoundStarted struct {
	Token       market.Identity `json:"token"`
	Facet       market.Facet    `json:"facet"`
	Initialiser market.Identity `json:"initialiser"`
	Round       uint32          `json:"round"`
	StartTime   time.Time       `json:"start_time"`
	Amount      uint64          `json:"amount"`
	Direction   bool            `json:"direction"`
}

func (e *RoundStarted) EventType() EventType { return EventTypeRoundStarted }

func (e *RoundStarted) Context() (market.Identity, market.Facet, market.Identity, uint32) {
	return e.Token, e.Facet, e.Initialiser, e.Round
}

type WagerPlaced struct {
	Token       market.Identity `json:"token"`
	Facet       market.Facet    `json:"facet"`
	Participant market.Identity `json:"participant"`
	Round       uint32          `json:"round"`
	Amount      uint64          `json:"amount"`
	Direction   bool            `json:"direction"`
}

func (e *WagerPlaced) EventType() EventType { return EventTypeWagerPlaced }

func (e *WagerPlaced) Context() (market.Identity, market.Facet, market.Identity, uint32) {
	return e.Token, e.Facet, e.Participant, e.Round
}

type UnderdogBetPlaced struct {
	Token       market.Identity `json:"token"`
	Facet       market.Facet    `json:"facet"`
	Participant market.Identity `json:"participant"`
	Round       uint32          `json:"round"`
	Amount      uint64          `json:"amount"`
}

func (e *UnderdogBetPlaced) EventType() EventType { return EventTypeUnderdogBetPlaced }

func (e *UnderdogBetPlaced) Context() (market.Identity, market.Facet, market.Identity, uint32) {
	return e.Token, e.Facet, e.Participant, e.Round
}

type VoteCast struct {
	Token        market.Identity `json:"token"`
	Facet        market.Facet    `json:"facet"`
	Participant  market.Identity `json:"participant"`
	Round        uint32          `json:"round"`
	Amount       uint64          `json:"amount"`
	Direction    bool            `json:"direction"`
	TotalFor     uint32          `json:"total_for"`
	TotalAgainst uint32          `json:"total_against"`
}

func (e *VoteCast) EventType() EventType { return EventTypeVoteCast }

func (e *VoteCast) Context() (market.Identity, market.Facet, market.Identity, uint32) {
	return e.Token, e.Facet, e.Participant, e.Round
}

// BettingClosed is emitted when a late wager flips the market to Voting
type BettingClosed struct {
	Token    market.Identity `json:"token"`
	Round    uint32          `json:"round"`
	ClosedAt time.Time       `json:"closed_at"`
}

func (e *BettingClosed) EventType() EventType { return EventTypeBettingClosed }

func (e *BettingClosed) Context() (market.Identity, market.Facet, market.Identity, uint32) {
	return e.Token, market.FacetUnknown, "", e.Round
}

type BettorSettled struct {
	Token       market.Identity `json:"token"`
	Facet       market.Facet    `json:"facet"`
	Participant market.Identity `json:"participant"`
	Round       uint32          `json:"round"`
	Tie         bool            `json:"tie"`
	Direction   bool            `json:"direction"`
	BetReturned uint64          `json:"bet_returned"`
	WinningsPre uint64          `json:"winnings_pre"`
	Minted      uint64          `json:"minted"`
	MintFailed  bool            `json:"mint_failed,omitempty"`
	MintPending uint64          `json:"mint_pending,omitempty"` // owed after a failed mint
	MintRetry   bool            `json:"mint_retry,omitempty"`   // pays an earlier MintPending
}

func (e *BettorSettled) EventType() EventType { return EventTypeBettorSettled }

func (e *BettorSettled) Context() (market.Identity, market.Facet, market.Identity, uint32) {
	return e.Token, e.Facet, e.Participant, e.Round
}

type VoterSettled struct {
	Token       market.Identity `json:"token"`
	Facet       market.Facet    `json:"facet"`
	Participant market.Identity `json:"participant"`
	Round       uint32          `json:"round"`
	Tie         bool            `json:"tie"`
	Direction   bool            `json:"direction"`
	Reimbursed  uint64          `json:"reimbursed"`
	Reminted    uint64          `json:"reminted"`
}

func (e *VoterSettled) EventType() EventType { return EventTypeVoterSettled }

func (e *VoterSettled) Context() (market.Identity, market.Facet, market.Identity, uint32) {
	return e.Token, e.Facet, e.Participant, e.Round
}

// RoundClosed closes one facet. Final is set when it was the last open facet
// and the market went back to Inactive.
type RoundClosed struct {
	Token  market.Identity `json:"token"`
	Facet  market.Facet    `json:"facet"`
	Round  uint32          `json:"round"`
	Caller market.Identity `json:"caller"`
	Final  bool            `json:"final"`
}

func (e *RoundClosed) EventType() EventType { return EventTypeRoundClosed }

func (e *RoundClosed) Context() (market.Identity, market.Facet, market.Identity, uint32) {
	return e.Token, e.Facet, "", e.Round
}

// Decode unmarshals a stored payload into its typed event
func Decode(et EventType, payload []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypeMarketInitialised:
		evt = &MarketInitialised{}
	case EventTypeRoundStarted:
		evt = &RoundStarted{}
	case EventTypeWagerPlaced:
		evt = &WagerPlaced{}
	case EventTypeUnderdogBetPlaced:
		evt = &UnderdogBetPlaced{}
	case EventTypeVoteCast:
		evt = &VoteCast{}
	case EventTypeBettingClosed:
		evt = &BettingClosed{}
	case EventTypeBettorSettled:
		evt = &BettorSettled{}
	case EventTypeVoterSettled:
		evt = &VoterSettled{}
	case EventTypeRoundClosed:
		evt = &RoundClosed{}
	default:
		return nil, fmt.Errorf("unknown event type %d", et)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
