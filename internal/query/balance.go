package query

// BalanceResponse is a participant's custody wallet balances, summed from the
// custody journal
type BalanceResponse struct {
	Participant string `json:"participant"`

	SOL          int64 `json:"sol"`           // lamports
	VotingTokens int64 `json:"voting_tokens"` // voting token base units

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last persisted event sequence
}

// TreasuryResponse is the custody account of the treasury authority
type TreasuryResponse struct {
	Authority    string `json:"authority"`
	SOL          int64  `json:"sol"`
	VotingTokens int64  `json:"voting_tokens"`
	Minted       int64  `json:"minted"` // total voting tokens ever issued
	AsOfSequence int64  `json:"as_of_sequence"`
}
