package server

import (
	"Parimutuel/internal/event"
	"Parimutuel/internal/observability"
	"context"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// participantScoped is implemented by requests that act for one participant
type participantScoped interface {
	participantKey() string
}

func (r *FundParticipantRequest) participantKey() string { return r.Participant }

// rateKey returns the participant a request is limited under, or "" when the
// request is not limited
func rateKey(req any) string {
	switch r := req.(type) {
	case *event.Command:
		if r.Operation == event.OpCallMarket && r.Caller != "" {
			return r.Caller
		}
		return r.Participant
	case participantScoped:
		return r.participantKey()
	}
	return ""
}

// ParticipantLimiter hands out one token bucket per participant. The bucket
// set is dropped once it grows past maxKeys.
type ParticipantLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	maxKeys  int
	metrics  *observability.Metrics
}

// NewParticipantLimiter allows perSecond sustained calls per participant.
// A non-positive perSecond disables limiting.
func NewParticipantLimiter(perSecond float64, burst int, metrics *observability.Metrics) *ParticipantLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ParticipantLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		maxKeys:  100_000,
		metrics:  metrics,
	}
}

// Allow reports whether a call for req may proceed now
func (l *ParticipantLimiter) Allow(method string, req any) error {
	if l == nil || l.limit <= 0 {
		return nil
	}
	key := rateKey(req)
	if key == "" {
		return nil
	}

	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.maxKeys {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	if lim.Allow() {
		return nil
	}
	if l.metrics != nil {
		l.metrics.RateLimited.WithLabelValues(method).Inc()
	}
	return status.Errorf(codes.ResourceExhausted, "rate limit exceeded for participant %s", key)
}

// UnaryInterceptor refuses calls over the participant's rate
func (l *ParticipantLimiter) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := l.Allow(path.Base(info.FullMethod), req); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs every call with its status code and duration.
// Rejections are logged at warn level, internal failures at error level.
func LoggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(logger, path.Base(info.FullMethod), start, err)
		return resp, err
	}
}

func logCall(logger zerolog.Logger, method string, start time.Time, err error) {
	code := status.Code(err)
	var e *zerolog.Event
	switch code {
	case codes.OK:
		e = logger.Debug()
	case codes.Internal, codes.Unknown, codes.DataLoss:
		e = logger.Error().Err(err)
	default:
		e = logger.Warn().Err(err)
	}
	e.Str("method", method).
		Str("code", code.String()).
		Dur("duration", time.Since(start)).
		Msg("rpc")
}
