package ledger

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeFund JournalType = iota
	JournalTypeWager
	JournalTypeVoteStake
	JournalTypeReimburse
	JournalTypeMint
	JournalTypeTreasuryDeposit
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeFund:
		return "fund"
	case JournalTypeWager:
		return "wager"
	case JournalTypeVoteStake:
		return "vote_stake"
	case JournalTypeReimburse:
		return "reimburse"
	case JournalTypeMint:
		return "mint"
	case JournalTypeTreasuryDeposit:
		return "treasury_deposit"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Reference of the source call
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        uint64      // Base units (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Epoch microseconds
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from the credit account to the debit
// account, so every entry is balanced on its own.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == 0 {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		// Balances are signed 64-bit
		if j.Amount > math.MaxInt64 {
			return fmt.Errorf("journal %s amount exceeds int64: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s moves asset %d between accounts of another asset", j.JournalID, j.AssetID)
		}
	}

	return nil
}
