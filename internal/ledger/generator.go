package ledger

import (
	"time"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches for custody movements
type JournalGenerator struct {
	now func() time.Time
}

func NewJournalGenerator(now func() time.Time) *JournalGenerator {
	if now == nil {
		now = time.Now
	}
	return &JournalGenerator{now: now}
}

// GenerateFund credits a participant wallet from outside the system.
// Moves funds: external:funding → participant:wallet
func (jg *JournalGenerator) GenerateFund(ref, participant string, assetID AssetID, amount uint64) *Batch {
	return jg.single(ref, JournalTypeFund,
		NewParticipantAccountKey(participant, assetID),
		NewExternalAccountKey(SubTypeExternalFunding, assetID),
		assetID, amount)
}

// GenerateTreasuryDeposit seeds the treasury custody account from outside.
// Moves funds: external:funding → treasury:custody
func (jg *JournalGenerator) GenerateTreasuryDeposit(ref, authority string, assetID AssetID, amount uint64) *Batch {
	return jg.single(ref, JournalTypeTreasuryDeposit,
		NewTreasuryAccountKey(authority, assetID),
		NewExternalAccountKey(SubTypeExternalFunding, assetID),
		assetID, amount)
}

// GenerateWager moves a stake into custody.
// Moves funds: participant:wallet → treasury:custody (SOL)
func (jg *JournalGenerator) GenerateWager(ref, participant, authority string, amount uint64) *Batch {
	return jg.single(ref, JournalTypeWager,
		NewTreasuryAccountKey(authority, AssetSOL),
		NewParticipantAccountKey(participant, AssetSOL),
		AssetSOL, amount)
}

// GenerateVoteStake moves voting tokens into custody.
// Moves funds: participant:wallet → treasury:custody (VOTE)
func (jg *JournalGenerator) GenerateVoteStake(ref, participant, authority string, amount uint64) *Batch {
	return jg.single(ref, JournalTypeVoteStake,
		NewTreasuryAccountKey(authority, AssetVote),
		NewParticipantAccountKey(participant, AssetVote),
		AssetVote, amount)
}

// GenerateReimburse pays out of custody.
// Moves funds: treasury:custody → participant:wallet
func (jg *JournalGenerator) GenerateReimburse(ref, authority, participant string, assetID AssetID, amount uint64) *Batch {
	return jg.single(ref, JournalTypeReimburse,
		NewParticipantAccountKey(participant, assetID),
		NewTreasuryAccountKey(authority, assetID),
		assetID, amount)
}

// GenerateMint issues new voting tokens.
// Moves funds: external:mint → participant:wallet (VOTE)
func (jg *JournalGenerator) GenerateMint(ref, participant string, amount uint64) *Batch {
	return jg.single(ref, JournalTypeMint,
		NewParticipantAccountKey(participant, AssetVote),
		NewExternalAccountKey(SubTypeExternalMint, AssetVote),
		AssetVote, amount)
}

func (jg *JournalGenerator) single(
	ref string,
	journalType JournalType,
	debit, credit AccountKey,
	assetID AssetID,
	amount uint64,
) *Batch {
	batchID := uuid.New()
	ts := jg.now().UnixMicro()

	return &Batch{
		BatchID:   batchID,
		EventRef:  ref,
		Timestamp: ts,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      ref,
			DebitAccount:  debit,
			CreditAccount: credit,
			AssetID:       assetID,
			Amount:        amount,
			JournalType:   journalType,
			Timestamp:     ts,
		}},
	}
}
