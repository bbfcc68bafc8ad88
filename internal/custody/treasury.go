package custody

import (
	"Parimutuel/internal/ledger"
	"Parimutuel/internal/market"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Treasury custodies stakes. It keeps its own running balances and checks them
// against the book before every payout.
type Treasury struct {
	mu        sync.Mutex
	authority market.Identity
	book      *Book

	solBalance  uint64
	voteBalance uint64
}

func NewTreasury(authority market.Identity, book *Book) *Treasury {
	return &Treasury{authority: authority, book: book}
}

func (t *Treasury) Authority() market.Identity {
	return t.authority
}

// Seed tops up the treasury from outside the system
func (t *Treasury) Seed(_ context.Context, amount uint64) error {
	if amount == 0 {
		return market.ErrZeroAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.book.post(func(gen *ledger.JournalGenerator) *ledger.Batch {
		return gen.GenerateTreasuryDeposit(ref(), string(t.authority), ledger.AssetSOL, amount)
	})
	if err != nil {
		return err
	}
	t.solBalance += amount
	return nil
}

// Deposit moves a wager from the participant wallet into custody
func (t *Treasury) Deposit(_ context.Context, from market.Identity, amount uint64) error {
	if amount == 0 {
		return market.ErrZeroAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.book.post(func(gen *ledger.JournalGenerator) *ledger.Batch {
		return gen.GenerateWager(ref(), string(from), string(t.authority), amount)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", market.ErrInsufficientFunds, err)
	}
	t.solBalance += amount
	return nil
}

// DepositVotingTokens moves a vote stake into custody
func (t *Treasury) DepositVotingTokens(_ context.Context, from market.Identity, amount uint64) error {
	if amount == 0 {
		return market.ErrZeroAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.book.post(func(gen *ledger.JournalGenerator) *ledger.Batch {
		return gen.GenerateVoteStake(ref(), string(from), string(t.authority), amount)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", market.ErrInsufficientVotingTokens, err)
	}
	t.voteBalance += amount
	return nil
}

// Reimburse pays out of custody. Only the authority may sign.
func (t *Treasury) Reimburse(_ context.Context, signer, to market.Identity, amount uint64) error {
	if signer != t.authority {
		return market.ErrSignerNotAuthority
	}
	if amount == 0 {
		return market.ErrZeroAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.reconcile(); err != nil {
		return err
	}
	if t.solBalance < amount {
		return market.ErrInsufficientTreasury
	}

	err := t.book.post(func(gen *ledger.JournalGenerator) *ledger.Batch {
		return gen.GenerateReimburse(ref(), string(t.authority), string(to), ledger.AssetSOL, amount)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", market.ErrExternalCall, err)
	}
	t.solBalance -= amount
	return nil
}

// ReimburseVotingTokens returns voting tokens held in custody. Only the authority may sign.
func (t *Treasury) ReimburseVotingTokens(_ context.Context, signer, to market.Identity, amount uint64) error {
	if signer != t.authority {
		return market.ErrSignerNotAuthority
	}
	if amount == 0 {
		return market.ErrZeroAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.reconcile(); err != nil {
		return err
	}
	if t.voteBalance < amount {
		return market.ErrInsufficientTreasury
	}

	err := t.book.post(func(gen *ledger.JournalGenerator) *ledger.Batch {
		return gen.GenerateReimburse(ref(), string(t.authority), string(to), ledger.AssetVote, amount)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", market.ErrExternalCall, err)
	}
	t.voteBalance -= amount
	return nil
}

func (t *Treasury) SOLBalance(_ context.Context, signer market.Identity) (uint64, error) {
	if signer != t.authority {
		return 0, market.ErrSignerNotAuthority
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.reconcile(); err != nil {
		return 0, err
	}
	return t.solBalance, nil
}

func (t *Treasury) VotingTokenBalance(_ context.Context, signer market.Identity) (uint64, error) {
	if signer != t.authority {
		return 0, market.ErrSignerNotAuthority
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.reconcile(); err != nil {
		return 0, err
	}
	return t.voteBalance, nil
}

// Resync reloads the running balances from the book after a snapshot restore
func (t *Treasury) Resync() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.solBalance = t.book.balance(ledger.NewTreasuryAccountKey(string(t.authority), ledger.AssetSOL))
	t.voteBalance = t.book.balance(ledger.NewTreasuryAccountKey(string(t.authority), ledger.AssetVote))
}

// reconcile requires t.mu
func (t *Treasury) reconcile() error {
	sol := t.book.balance(ledger.NewTreasuryAccountKey(string(t.authority), ledger.AssetSOL))
	vote := t.book.balance(ledger.NewTreasuryAccountKey(string(t.authority), ledger.AssetVote))
	if sol != t.solBalance || vote != t.voteBalance {
		return fmt.Errorf("%w: recorded sol=%d vote=%d, ledger sol=%d vote=%d",
			market.ErrBalancesDisagree, t.solBalance, t.voteBalance, sol, vote)
	}
	return nil
}

func ref() string {
	return uuid.NewString()
}
