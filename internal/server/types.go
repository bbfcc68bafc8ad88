package server

import "Parimutuel/internal/query"

// Request and response bodies of the Market service. The same structs are
// used on the gRPC JSON codec and on the HTTP gateway.

type FundParticipantRequest struct {
	Participant string `json:"participant" validate:"required,max=64"`
	Asset       string `json:"asset" validate:"required,oneof=SOL VOTE"`
	Amount      uint64 `json:"amount" validate:"gt=0"`
}

type FundParticipantResponse struct {
	Ref string `json:"ref"`
}

type SeedTreasuryRequest struct {
	Amount uint64 `json:"amount" validate:"gt=0"`
}

type SubmitCommandResponse struct {
	CommandID string `json:"command_id"`
}

type GetMarketRequest struct {
	Token string `json:"token" validate:"required,max=64"`
}

type GetRoundRequest struct {
	Token string `json:"token" validate:"required,max=64"`
	Round int64  `json:"round" validate:"gte=1"`
}

type ListSettlementsRequest struct {
	Token         string `json:"token" validate:"required,max=64"`
	Round         int64  `json:"round" validate:"gte=1"`
	PageSize      int    `json:"page_size" validate:"gte=0,lte=500"`
	AfterSequence *int64 `json:"after_sequence,omitempty"`
}

type ListParticipantSettlementsRequest struct {
	Participant   string `json:"participant" validate:"required,max=64"`
	PageSize      int    `json:"page_size" validate:"gte=0,lte=500"`
	AfterSequence *int64 `json:"after_sequence,omitempty"`
}

type SettlementsResponse struct {
	Settlements []query.SettlementResponse `json:"settlements"`
}

type GetBalanceRequest struct {
	Participant string `json:"participant" validate:"required,max=64"`
}

type GetTreasuryRequest struct {
	Authority string `json:"authority" validate:"required,max=64"`
}

type ListJournalsRequest struct {
	Participant string `json:"participant" validate:"required,max=64"`
	PageSize    int    `json:"page_size" validate:"gte=0,lte=500"`
	BeforeUs    *int64 `json:"before_us,omitempty"`
}

type JournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type VerifySnapshotsResponse struct {
	Verified []int64 `json:"verified"`
}

type RebuildProjectionsResponse struct {
	Events int `json:"events"`
}

type TakeSnapshotResponse struct {
	Sequence int64 `json:"sequence"` // -1 when the log is empty
}

// Empty is the request of calls without parameters and the response of
// calls without a result
type Empty struct{}
