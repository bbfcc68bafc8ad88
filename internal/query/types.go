package query

// MarketResponse is the live state of a market and its facets
type MarketResponse struct {
	Token        string          `json:"token"`
	State        string          `json:"state"`
	Round        uint32          `json:"round"`
	StartTimeNs  int64           `json:"start_time_ns"`
	BettingEndNs int64           `json:"betting_end_ns"`
	TimeoutSecs  int64           `json:"timeout_seconds"`
	Facets       []FacetResponse `json:"facets"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// FacetResponse summarises the escrow and poll of one facet
type FacetResponse struct {
	Facet               string `json:"facet"`
	Initialiser         string `json:"initialiser,omitempty"`
	TotFor              uint64 `json:"tot_for"`
	TotAgainst          uint64 `json:"tot_against"`
	TotUnderdog         uint64 `json:"tot_underdog"`
	Bettors             int    `json:"bettors"`
	BettorsConsolidated int    `json:"bettors_consolidated"`
	VotesFor            uint32 `json:"votes_for"`
	VotesAgainst        uint32 `json:"votes_against"`
	Voters              int    `json:"voters"`
	VotersConsolidated  int    `json:"voters_consolidated"`
	Closed              bool   `json:"closed,omitempty"`
}

// RoundResponse is one row of the rounds projection
type RoundResponse struct {
	Token        string `json:"token"`
	Round        int64  `json:"round"`
	State        string `json:"state"`
	Initialiser  string `json:"initialiser"`
	Wagers       int64  `json:"wagers"`
	Staked       int64  `json:"staked"`
	Votes        int64  `json:"votes"`
	StartedAtNs  int64  `json:"started_at_ns"`
	ClosedAtNs   int64  `json:"closed_at_ns"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// SettlementResponse is one bettor or voter settlement
type SettlementResponse struct {
	Sequence    int64  `json:"sequence"`
	Token       string `json:"token"`
	Facet       string `json:"facet"`
	Round       int64  `json:"round"`
	Participant string `json:"participant"`
	Kind        string `json:"kind"`
	Tie         bool   `json:"tie"`
	Direction   bool   `json:"direction"`
	BetReturned int64  `json:"bet_returned"`
	WinningsPre int64  `json:"winnings_pre"`
	Minted      int64  `json:"minted"`
	Reimbursed  int64  `json:"reimbursed"`
	MintFailed  bool   `json:"mint_failed"`
	TimestampNs int64  `json:"timestamp_ns"`
}

// JournalHistoryEntry represents a custody journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	TimestampUs   int64  `json:"timestamp_us"`
}

// EventLogInfo describes the stored event log
type EventLogInfo struct {
	EventCount     int64  `json:"event_count"`
	LatestSequence int64  `json:"latest_sequence"`
	ChainTip       string `json:"chain_tip"`
	Watermark      int64  `json:"projection_watermark"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	EventsChecked    int64             `json:"events_checked"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	NegativeAccounts []NegativeAccount `json:"negative_accounts,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// NegativeAccount is an internal custody account below zero
type NegativeAccount struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
