package market

import (
	"time"
)

// Identity is an opaque participant, token or authority key
type Identity string

// Params addresses one participant in one facet of one market
type Params struct {
	Token       Identity `json:"token" validate:"required"`
	Facet       Facet    `json:"facet" validate:"required"`
	Participant Identity `json:"participant" validate:"required"`
}

// FacetKey identifies the escrow and poll of a market facet
type FacetKey struct {
	Token Identity
	Facet Facet
}

// ParticipantKey identifies a bettor or voter record
type ParticipantKey struct {
	Token       Identity
	Facet       Facet
	Participant Identity
}

func (p Params) FacetKey() FacetKey {
	return FacetKey{Token: p.Token, Facet: p.Facet}
}

func (p Params) ParticipantKey() ParticipantKey {
	return ParticipantKey{Token: p.Token, Facet: p.Facet, Participant: p.Participant}
}

// Market is the per-token round state. The betting window is shared by all
// facets; each facet is voted on, settled and closed on its own, and the
// round ends once no facet is left open.
type Market struct {
	Token     Identity      `json:"token"`
	Facets    []Facet       `json:"facets"`
	StartTime time.Time     `json:"start_time"`
	Timeout   time.Duration `json:"timeout"`
	State     MarketState   `json:"state"`
	Round     uint32        `json:"round"`

	ClosedFacets []Facet `json:"closed_facets,omitempty"` // closed this round
}

// NewMarket validates facets and returns a market in the Initialised state
func NewMarket(token Identity, facets []Facet, timeout time.Duration) (*Market, error) {
	if token == "" {
		return nil, ErrNotTheSameToken
	}
	if len(facets) == 0 || len(facets) > MaxFacets {
		return nil, ErrInvalidFacets
	}
	seen := make(map[Facet]bool, len(facets))
	for _, f := range facets {
		if !f.Valid() || seen[f] {
			return nil, ErrInvalidFacets
		}
		seen[f] = true
	}
	if timeout > MaxAllowedTimeout {
		return nil, ErrTimeoutTooLarge
	}
	if timeout < MinAllowedTimeout {
		return nil, ErrTimeoutTooSmall
	}

	return &Market{
		Token:   token,
		Facets:  append([]Facet(nil), facets...),
		Timeout: timeout,
		State:   MarketStateInitialised,
	}, nil
}

func (m *Market) HasFacet(f Facet) bool {
	for _, candidate := range m.Facets {
		if candidate == f {
			return true
		}
	}
	return false
}

// FacetClosed reports whether f was already closed this round
func (m *Market) FacetClosed(f Facet) bool {
	for _, c := range m.ClosedFacets {
		if c == f {
			return true
		}
	}
	return false
}

// CloseFacet records f as closed for the current round
func (m *Market) CloseFacet(f Facet) {
	if !m.FacetClosed(f) {
		m.ClosedFacets = append(m.ClosedFacets, f)
	}
}

// BettingEnd is the last instant at which wagers are accepted
func (m *Market) BettingEnd() time.Time {
	return m.StartTime.Add(m.Timeout)
}

// BettingOpen reports now <= start_time + timeout
func (m *Market) BettingOpen(now time.Time) bool {
	return !now.After(m.BettingEnd())
}

// Transition moves the market to next if the transition table allows it
func (m *Market) Transition(next MarketState) error {
	if !m.State.CanTransitionTo(next) {
		return ErrRoundInProgress
	}
	m.State = next
	if next == MarketStateInactive || next == MarketStateBetting {
		m.ClosedFacets = nil
	}
	return nil
}

func (m *Market) Clone() *Market {
	c := *m
	c.Facets = append([]Facet(nil), m.Facets...)
	if m.ClosedFacets != nil {
		c.ClosedFacets = append([]Facet(nil), m.ClosedFacets...)
	}
	return &c
}
