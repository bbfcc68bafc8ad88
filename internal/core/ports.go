package core

import (
	"Parimutuel/internal/market"
	"context"
	"time"
)

// Treasury custodies stakes and pays out. Payout and balance calls are signed
// by the treasury authority.
type Treasury interface {
	Authority() market.Identity
	Deposit(ctx context.Context, from market.Identity, amount uint64) error
	DepositVotingTokens(ctx context.Context, from market.Identity, amount uint64) error
	Reimburse(ctx context.Context, signer, to market.Identity, amount uint64) error
	ReimburseVotingTokens(ctx context.Context, signer, to market.Identity, amount uint64) error
	SOLBalance(ctx context.Context, signer market.Identity) (uint64, error)
	VotingTokenBalance(ctx context.Context, signer market.Identity) (uint64, error)
}

// Mint issues voting tokens
type Mint interface {
	MintTokens(ctx context.Context, to market.Identity, amount uint64) error
}

// MintInfo is implemented by mints that can report their identity and init state
type MintInfo interface {
	ID() market.Identity
	Initialised() bool
}

// Wallets reads participant balances outside custody
type Wallets interface {
	FundsBalance(ctx context.Context, id market.Identity) (uint64, error)
	VotingTokenBalance(ctx context.Context, id market.Identity) (uint64, error)
}

// Locker serialises entry points per market
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Clock is the trusted time source, read once per entry point
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })
