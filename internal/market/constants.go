package market

import "time"

const (
	LamportsPerSOL uint64 = 1_000_000_000

	// MaxWagers bounds the bettor roster of one escrow
	MaxWagers = 10_000

	// VoteThreshold is the vote count that closes a poll
	VoteThreshold uint32 = 1_000

	MinVoteAmount uint64 = 1_000_000
	MaxVoteAmount uint64 = 100 * LamportsPerSOL

	// PercentageWinningsKept is the share of gross winnings paid out; the rest is the protocol fee
	PercentageWinningsKept uint64 = 95

	// DivBuffer scales every numerator before division in the returns calculator
	DivBuffer uint64 = 1_000_000_000

	MinAllowedTimeout = 24 * time.Hour
	MaxAllowedTimeout = 14 * 24 * time.Hour

	MaxFacets = 8
)
