package event

import (
	"Parimutuel/internal/market"
	"fmt"
	"time"
)

// Operation names a public entry point
type Operation string

const (
	OpInitialiseMarket Operation = "initialise_market"
	OpStartMarket      Operation = "start_market"
	OpWager            Operation = "wager"
	OpUnderdogBet      Operation = "underdog_bet"
	OpVote             Operation = "vote"
	OpVoterResults     Operation = "voter_results"
	OpWagerResults     Operation = "wager_results"
	OpCallMarket       Operation = "call_market"
)

// Operations lists every entry point in lifecycle order
var Operations = []Operation{
	OpInitialiseMarket,
	OpStartMarket,
	OpWager,
	OpUnderdogBet,
	OpVote,
	OpVoterResults,
	OpWagerResults,
	OpCallMarket,
}

// Command is the wire form of an entry point call, shared by NATS and RPC ingress
type Command struct {
	CommandID      string    `json:"command_id" validate:"required,max=128"`
	Operation      Operation `json:"operation" validate:"required,oneof=initialise_market start_market wager underdog_bet vote voter_results wager_results call_market"`
	Token          string    `json:"token" validate:"required,max=64"`
	Facet          string    `json:"facet,omitempty" validate:"required_unless=Operation initialise_market"`
	Participant    string    `json:"participant,omitempty" validate:"required_unless=Operation initialise_market,max=64"`
	Facets         []string  `json:"facets,omitempty" validate:"required_if=Operation initialise_market,max=8"`
	TimeoutSeconds int64     `json:"timeout_seconds,omitempty" validate:"required_if=Operation initialise_market,gte=0"`
	Amount         uint64    `json:"amount,omitempty"`
	Direction      bool      `json:"direction,omitempty"`
	Caller         string    `json:"caller,omitempty" validate:"required_if=Operation call_market"`
}

func (c *Command) IdempotencyKey() string {
	return c.CommandID
}

// Params converts the command's market coordinates
func (c *Command) Params() (market.Params, error) {
	facet, err := market.ParseFacet(c.Facet)
	if err != nil {
		return market.Params{}, err
	}
	return market.Params{
		Token:       market.Identity(c.Token),
		Facet:       facet,
		Participant: market.Identity(c.Participant),
	}, nil
}

// MarketFacets parses the facet list of an initialise command
func (c *Command) MarketFacets() ([]market.Facet, error) {
	out := make([]market.Facet, 0, len(c.Facets))
	for _, s := range c.Facets {
		f, err := market.ParseFacet(s)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (c *Command) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *Command) String() string {
	return fmt.Sprintf("%s[%s] token=%s facet=%s participant=%s", c.Operation, c.CommandID, c.Token, c.Facet, c.Participant)
}
