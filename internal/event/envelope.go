package event

import (
	"Parimutuel/internal/market"
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMarketInitialised
	EventTypeRoundStarted
	EventTypeWagerPlaced
	EventTypeUnderdogBetPlaced
	EventTypeVoteCast
	EventTypeBettingClosed
	EventTypeBettorSettled
	EventTypeVoterSettled
	EventTypeRoundClosed
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Command ID that produced the event, or a derived key for system events
	IdempotencyKey string

	// Operation of the command that produced the event
	Operation Operation

	// Event type discriminator
	EventType EventType

	// Market context
	Token       market.Identity
	Facet       market.Facet
	Participant market.Identity
	Round       uint32

	// Clock reading taken inside the entry point
	Timestamp time.Time

	// JSON-encoded event body
	Payload []byte

	// SHA-256 chain tip AFTER applying this event
	StateHash [32]byte

	// Previous chain tip
	PrevHash [32]byte
}

// Event is the interface all settlement events implement
type Event interface {
	EventType() EventType

	// Context returns the market coordinates the event belongs to
	Context() (token market.Identity, facet market.Facet, participant market.Identity, round uint32)
}

func (et EventType) String() string {
	switch et {
	case EventTypeMarketInitialised:
		return "MarketInitialised"
	case EventTypeRoundStarted:
		return "RoundStarted"
	case EventTypeWagerPlaced:
		return "WagerPlaced"
	case EventTypeUnderdogBetPlaced:
		return "UnderdogBetPlaced"
	case EventTypeVoteCast:
		return "VoteCast"
	case EventTypeBettingClosed:
		return "BettingClosed"
	case EventTypeBettorSettled:
		return "BettorSettled"
	case EventTypeVoterSettled:
		return "VoterSettled"
	case EventTypeRoundClosed:
		return "RoundClosed"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String
func ParseEventType(s string) EventType {
	for et := EventTypeMarketInitialised; et <= EventTypeRoundClosed; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
