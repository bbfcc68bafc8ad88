package market

import "errors"

// Category groups rejection reasons so callers can react without matching every code
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryStateMismatch
	CategoryIdentityMismatch
	CategoryFunds
	CategoryDoubleAction
	CategoryCapacity
	CategoryExternalCall
	CategoryConsolidationIncomplete
	CategoryInternal
)

func (c Category) String() string {
	switch c {
	case CategoryStateMismatch:
		return "state_mismatch"
	case CategoryIdentityMismatch:
		return "identity_mismatch"
	case CategoryFunds:
		return "funds"
	case CategoryDoubleAction:
		return "double_action"
	case CategoryCapacity:
		return "capacity"
	case CategoryExternalCall:
		return "external_call"
	case CategoryConsolidationIncomplete:
		return "consolidation_incomplete"
	case CategoryInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a rejection with a stable code that is surfaced verbatim to callers
type Error struct {
	Code     string
	Category Category
	Message  string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func newError(category Category, code, message string) *Error {
	return &Error{Code: code, Category: category, Message: message}
}

// State mismatch
var (
	ErrMarketNotInBettingState = newError(CategoryStateMismatch, "MarketNotInBettingState", "market is not accepting wagers")
	ErrBettingClosed           = newError(CategoryStateMismatch, "BettingClosed", "betting timeout has passed, market moved to voting")
	ErrNotVotingTime           = newError(CategoryStateMismatch, "NotVotingTime", "voting has not opened for this round")
	ErrVotingClosed            = newError(CategoryStateMismatch, "VotingClosed", "vote threshold already reached")
	ErrVotingNotFinished       = newError(CategoryStateMismatch, "VotingNotFinished", "voting has not finished")
	ErrRoundInProgress         = newError(CategoryStateMismatch, "RoundInProgress", "market round is still open")
	ErrNotConsolidating        = newError(CategoryStateMismatch, "NotConsolidating", "market is not consolidating")
	ErrUnderdogBetTooEarly     = newError(CategoryStateMismatch, "UnderdogBetTooEarly", "underdog bets need standard bets in the escrow first")
)

// Identity mismatch
var (
	ErrFacetNotInMarket   = newError(CategoryIdentityMismatch, "FacetNotInMarket", "facet is not registered on the market")
	ErrNotTheSameToken    = newError(CategoryIdentityMismatch, "NotTheSameToken", "token does not match the market")
	ErrMarketNotFound     = newError(CategoryIdentityMismatch, "MarketNotFound", "no market for token")
	ErrInvalidFacets      = newError(CategoryIdentityMismatch, "InvalidFacets", "facets must be a non-empty set of known facets")
	ErrInvalidParticipant = newError(CategoryIdentityMismatch, "InvalidParticipant", "participant identity is required")
	ErrNotABettor         = newError(CategoryIdentityMismatch, "NotABettor", "participant has no wager in this round")
	ErrNotAVoter          = newError(CategoryIdentityMismatch, "NotAVoter", "participant has no vote in this round")
	ErrSignerNotAuthority = newError(CategoryIdentityMismatch, "SignerNotAuthority", "signer is not the treasury authority")
	ErrWrongTreasury      = newError(CategoryIdentityMismatch, "WrongTreasury", "treasury is not the configured treasury")
	ErrNotTheRightMint    = newError(CategoryIdentityMismatch, "NotTheRightMintPK", "mint is not the voting token mint")
	ErrTimeoutTooLarge    = newError(CategoryIdentityMismatch, "TimeoutTooLarge", "timeout exceeds the maximum allowed")
	ErrTimeoutTooSmall    = newError(CategoryIdentityMismatch, "TimeoutTooSmall", "timeout is below the minimum allowed")
)

// Funds
var (
	ErrInsufficientFunds        = newError(CategoryFunds, "InsufficientFunds", "balance does not cover the wager")
	ErrInsufficientVotingTokens = newError(CategoryFunds, "InsufficientVotingTokens", "voting token balance does not cover the vote")
	ErrAmountTooLow             = newError(CategoryFunds, "AmountTooLow", "vote amount below minimum")
	ErrAmountTooHigh            = newError(CategoryFunds, "AmountTooHigh", "vote amount above maximum")
	ErrZeroAmount               = newError(CategoryFunds, "ZeroAmount", "amount must be positive")
)

// Double action
var (
	ErrAlreadyVoted         = newError(CategoryDoubleAction, "AlreadyVoted", "participant already voted this round")
	ErrAlreadyConsolidated  = newError(CategoryDoubleAction, "AlreadyConsolidated", "participant already consolidated this round")
	ErrCannotVoteWithBets   = newError(CategoryDoubleAction, "CannotVoteWithBets", "bettors cannot vote in the same round")
	ErrUnderdogWithOtherBet = newError(CategoryDoubleAction, "UnderdogWithOtherBet", "participant already holds a standard bet")
	ErrBetWithUnderdogBet   = newError(CategoryDoubleAction, "BetWithUnderdogBet", "participant already holds an underdog bet")
	ErrMarketExists         = newError(CategoryDoubleAction, "MarketExists", "market already initialised for token")
	ErrRoundNotReset        = newError(CategoryDoubleAction, "RoundNotReset", "escrow or poll still holds participants")
	ErrMintAlreadyInit      = newError(CategoryDoubleAction, "MintAlreadyInitialised", "mint already initialised")
	ErrFacetClosed          = newError(CategoryDoubleAction, "FacetAlreadyClosed", "facet already closed this round")
)

// Capacity
var (
	ErrMaxWagersReached = newError(CategoryCapacity, "MaxWagersReached", "bettor roster is full")
)

// External call
var (
	ErrExternalCall         = newError(CategoryExternalCall, "ExternalCall", "treasury or mint call failed")
	ErrInsufficientTreasury = newError(CategoryExternalCall, "InsufficientTreasuryFunds", "treasury cannot cover the payout")
	ErrBalancesDisagree     = newError(CategoryExternalCall, "BalancesDisagree", "treasury record disagrees with custody ledger")
	ErrMintNotInitialised   = newError(CategoryExternalCall, "MintNotInitialised", "mint has not been initialised")
	ErrWrongName            = newError(CategoryExternalCall, "WrongName", "mint name does not match")
	ErrWrongSymbol          = newError(CategoryExternalCall, "WrongSymbol", "mint symbol does not match")
	ErrWrongURI             = newError(CategoryExternalCall, "WrongUri", "mint uri does not match")
	ErrWrongDecimals        = newError(CategoryExternalCall, "WrongDecimals", "mint decimals do not match")
	ErrWrongSigner          = newError(CategoryExternalCall, "WrongSigner", "signer is not the mint authority")
)

// Consolidation incomplete
var (
	ErrWagersDontAddUp = newError(CategoryConsolidationIncomplete, "WagersDontAddUp", "bettor roster and consolidated bettors differ")
	ErrVotesDontAddUp  = newError(CategoryConsolidationIncomplete, "VotesDontAddUp", "voter roster and consolidated voters differ")
)

// Internal
var (
	ErrEmptyPool = newError(CategoryInternal, "EmptyPool", "division by an empty pool")
	ErrOverflow  = newError(CategoryInternal, "Overflow", "amount overflows 64 bits")
	ErrNotFound  = newError(CategoryInternal, "NotFound", "record not found")

	ErrRecordsInconsistent = newError(CategoryInternal, "RecordsInconsistent", "bettor stake exceeds escrow totals")
)

// CodeOf returns the stable code carried by err, or "Internal" for foreign errors
func CodeOf(err error) string {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return "Internal"
}

// CategoryOf returns the category of err
func CategoryOf(err error) Category {
	var me *Error
	if errors.As(err, &me) {
		return me.Category
	}
	return CategoryInternal
}
