package core

import (
	"Parimutuel/internal/event"
	"Parimutuel/internal/market"
	"Parimutuel/internal/observability"
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Processor validates wire commands, drops duplicates and dispatches them to the engine
type Processor struct {
	engine   *Engine
	idem     *IdempotencyChecker
	validate *validator.Validate
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewProcessor(engine *Engine, idem *IdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *Processor {
	return &Processor{
		engine:   engine,
		idem:     idem,
		validate: validator.New(),
		metrics:  metrics,
		logger:   logger,
	}
}

// Process applies cmd once. A duplicate command ID returns nil without touching state.
func (p *Processor) Process(ctx context.Context, cmd *event.Command) error {
	if err := p.validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	op := string(cmd.Operation)
	if p.idem != nil && p.idem.IsDuplicate(op, cmd.CommandID) {
		if p.metrics != nil {
			p.metrics.IdempotencyDuplicates.WithLabelValues(op, "lru").Inc()
		}
		p.logger.Debug().Str("command", cmd.String()).Msg("duplicate command skipped")
		return nil
	}

	if err := p.dispatch(WithCommandID(ctx, cmd.CommandID), cmd); err != nil {
		return err
	}

	if p.idem != nil {
		p.idem.MarkProcessed(op, cmd.CommandID)
		if p.metrics != nil {
			size, _ := p.idem.Stats()
			p.metrics.DedupLRUSize.Set(float64(size))
		}
	}
	return nil
}

func (p *Processor) dispatch(ctx context.Context, cmd *event.Command) error {
	if cmd.Operation == event.OpInitialiseMarket {
		facets, err := cmd.MarketFacets()
		if err != nil {
			return err
		}
		return p.engine.InitialiseMarket(ctx, market.Identity(cmd.Token), facets, cmd.Timeout())
	}

	params, err := cmd.Params()
	if err != nil {
		return err
	}

	switch cmd.Operation {
	case event.OpStartMarket:
		return p.engine.StartMarket(ctx, params, cmd.Amount, cmd.Direction)
	case event.OpWager:
		return p.engine.Wager(ctx, params, cmd.Amount, cmd.Direction)
	case event.OpUnderdogBet:
		return p.engine.UnderdogBet(ctx, params, cmd.Amount)
	case event.OpVote:
		return p.engine.Vote(ctx, params, cmd.Amount, cmd.Direction)
	case event.OpVoterResults:
		return p.engine.VoterResults(ctx, params)
	case event.OpWagerResults:
		return p.engine.WagerResults(ctx, params)
	case event.OpCallMarket:
		return p.engine.CallMarket(ctx, params, market.Identity(cmd.Caller))
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidCommand, cmd.Operation)
	}
}

// ErrInvalidCommand marks commands that fail wire validation
var ErrInvalidCommand = errors.New("invalid command")

// Retryable reports whether redelivering the command may succeed. Protocol
// rejections are final; custody failures and foreign errors are not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidCommand) {
		return false
	}
	var me *market.Error
	if !errors.As(err, &me) {
		return true
	}
	return me.Category == market.CategoryExternalCall && !errors.Is(err, market.ErrInsufficientTreasury)
}
