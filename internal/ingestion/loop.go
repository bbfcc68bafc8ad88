package ingestion

import (
	"Parimutuel/internal/core"
	"Parimutuel/internal/event"
	"Parimutuel/internal/observability"
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CommandHandler applies one command; core.Processor implements it
type CommandHandler interface {
	Process(ctx context.Context, cmd *event.Command) error
}

// CommandLoop drains raw commands into the handler. Messages are acked after
// the command is applied or finally rejected, so a crash before apply
// redelivers; the idempotency checker drops the replays.
type CommandLoop struct {
	rawChan  <-chan RawCommand
	handler  CommandHandler
	nakDelay time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewCommandLoop(
	rawChan <-chan RawCommand,
	handler CommandHandler,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *CommandLoop {
	return &CommandLoop{
		rawChan:  rawChan,
		handler:  handler,
		nakDelay: 2 * time.Second,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run processes until ctx is cancelled or the channel is closed
func (l *CommandLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-l.rawChan:
			if !ok {
				return nil
			}
			l.handle(ctx, raw)
		}
	}
}

func (l *CommandLoop) handle(ctx context.Context, raw RawCommand) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		l.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable command")
		raw.TermFunc()
		return
	}

	err = l.handler.Process(ctx, cmd)
	if l.metrics != nil {
		l.metrics.IngestToApply.WithLabelValues(string(cmd.Operation)).Observe(time.Since(raw.Timestamp).Seconds())
	}

	switch {
	case err == nil:
		raw.AckFunc()
	case core.Retryable(err):
		l.logger.Warn().Err(err).Str("command", cmd.String()).Msg("command failed, requesting redelivery")
		raw.NakFunc(l.nakDelay)
	default:
		// rejected by the protocol; redelivery would be rejected the same way
		l.logger.Info().Err(err).Str("command", cmd.String()).Msg("command rejected")
		raw.AckFunc()
	}
}
