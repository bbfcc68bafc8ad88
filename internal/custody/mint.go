package custody

import (
	"Parimutuel/internal/ledger"
	"Parimutuel/internal/market"
	"context"
	"fmt"
	"sync"
)

// MintMetadata is the fixed description of the voting token
type MintMetadata struct {
	Name     string `mapstructure:"name" validate:"required"`
	Symbol   string `mapstructure:"symbol" validate:"required"`
	URI      string `mapstructure:"uri" validate:"required"`
	Decimals uint8  `mapstructure:"decimals"`
}

// VotingMint issues voting tokens. It must be initialised exactly once with
// metadata matching its configuration before it can mint.
type VotingMint struct {
	mu          sync.Mutex
	id          market.Identity
	authority   market.Identity
	expected    MintMetadata
	initialised bool
	supply      uint64
	book        *Book
}

func NewVotingMint(id, authority market.Identity, expected MintMetadata, book *Book) *VotingMint {
	return &VotingMint{id: id, authority: authority, expected: expected, book: book}
}

func (m *VotingMint) ID() market.Identity {
	return m.id
}

func (m *VotingMint) Init(_ context.Context, signer market.Identity, meta MintMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialised {
		return market.ErrMintAlreadyInit
	}
	if signer != m.authority {
		return market.ErrWrongSigner
	}
	if meta.Name != m.expected.Name {
		return market.ErrWrongName
	}
	if meta.Symbol != m.expected.Symbol {
		return market.ErrWrongSymbol
	}
	if meta.URI != m.expected.URI {
		return market.ErrWrongURI
	}
	if meta.Decimals != m.expected.Decimals {
		return market.ErrWrongDecimals
	}

	m.initialised = true
	return nil
}

func (m *VotingMint) Initialised() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialised
}

// MintTokens issues amount new voting tokens to a participant wallet
func (m *VotingMint) MintTokens(_ context.Context, to market.Identity, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialised {
		return market.ErrMintNotInitialised
	}
	if amount == 0 {
		return market.ErrZeroAmount
	}

	err := m.book.post(func(gen *ledger.JournalGenerator) *ledger.Batch {
		return gen.GenerateMint(ref(), string(to), amount)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", market.ErrExternalCall, err)
	}
	m.supply += amount
	return nil
}

func (m *VotingMint) Supply() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply
}

// Restore sets the init flag and recomputes supply from the book after a snapshot load
func (m *VotingMint) Restore(initialised bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialised = initialised
	issued := m.book.raw(ledger.NewExternalAccountKey(ledger.SubTypeExternalMint, ledger.AssetVote))
	m.supply = uint64(-issued)
}
