package custody

import (
	"Parimutuel/internal/ledger"
	"Parimutuel/internal/market"
	"context"
)

// Wallets exposes participant balances held in the book
type Wallets struct {
	book *Book
}

func NewWallets(book *Book) *Wallets {
	return &Wallets{book: book}
}

func (w *Wallets) FundsBalance(_ context.Context, id market.Identity) (uint64, error) {
	return w.book.balance(ledger.NewParticipantAccountKey(string(id), ledger.AssetSOL)), nil
}

func (w *Wallets) VotingTokenBalance(_ context.Context, id market.Identity) (uint64, error) {
	return w.book.balance(ledger.NewParticipantAccountKey(string(id), ledger.AssetVote)), nil
}

// Fund credits a participant from outside the system
func (w *Wallets) Fund(_ context.Context, ref string, id market.Identity, asset ledger.AssetID, amount uint64) error {
	if id == "" {
		return market.ErrInvalidParticipant
	}
	if amount == 0 {
		return market.ErrZeroAmount
	}
	return w.book.post(func(gen *ledger.JournalGenerator) *ledger.Batch {
		return gen.GenerateFund(ref, string(id), asset, amount)
	})
}
