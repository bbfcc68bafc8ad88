package custody

import (
	"Parimutuel/internal/ledger"
	"fmt"
	"sync"
	"time"
)

// Book is the shared double-entry ledger behind the treasury, mint and wallets
type Book struct {
	mu        sync.Mutex
	tracker   *ledger.BalanceTracker
	validator *ledger.InvariantValidator
	gen       *ledger.JournalGenerator
	onBatch   func(*ledger.Batch)
}

func NewBook(now func() time.Time) *Book {
	tracker := ledger.NewBalanceTracker()
	return &Book{
		tracker:   tracker,
		validator: ledger.NewInvariantValidator(tracker),
		gen:       ledger.NewJournalGenerator(now),
	}
}

// OnBatch registers a callback for every applied batch. Called with the book locked.
func (b *Book) OnBatch(fn func(*ledger.Batch)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onBatch = fn
}

// post applies a batch after checking that the credited internal account can cover it
func (b *Book) post(build func(gen *ledger.JournalGenerator) *ledger.Batch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := build(b.gen)
	for _, j := range batch.Journals {
		if j.CreditAccount.Scope == ledger.AccountScopeExternal {
			continue
		}
		if err := b.tracker.ValidateSufficient(j.CreditAccount, j.Amount); err != nil {
			return err
		}
	}

	if err := b.tracker.ApplyBatch(batch); err != nil {
		return err
	}
	if err := b.validator.ValidateGlobalBalance(); err != nil {
		b.tracker.RevertBatch(batch)
		return fmt.Errorf("custody invariant: %w", err)
	}

	if b.onBatch != nil {
		b.onBatch(batch)
	}
	return nil
}

func (b *Book) balance(key ledger.AccountKey) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.tracker.GetBalance(key)
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func (b *Book) raw(key ledger.AccountKey) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tracker.GetBalance(key)
}

// Snapshot returns a copy of every balance
func (b *Book) Snapshot() map[ledger.AccountKey]int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tracker.Snapshot()
}

// Restore replaces every balance, used when loading a snapshot
func (b *Book) Restore(balances map[ledger.AccountKey]int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tracker.Restore(balances)
	if err := b.validator.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("restored balances: %w", err)
	}
	return b.validator.ValidateInternalNonNegative()
}
