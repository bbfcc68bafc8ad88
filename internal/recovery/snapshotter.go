package recovery

import (
	"Parimutuel/internal/observability"
	"Parimutuel/internal/persistence"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Snapshotter captures State at a quiescent point and stores it, optionally
// copying the encoded snapshot to an archive.
type Snapshotter struct {
	state    State
	archiver persistence.Archiver
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewSnapshotter(state State, archiver persistence.Archiver, metrics *observability.Metrics, logger zerolog.Logger) *Snapshotter {
	return &Snapshotter{
		state:    state,
		archiver: archiver,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Take stores a snapshot of the last applied sequence and returns it, or -1
// when nothing has been applied yet. The snapshot is saved unverified.
func (s *Snapshotter) Take(ctx context.Context) (int64, error) {
	start := time.Now()

	var snap *persistence.SnapshotData
	err := s.state.Engine.Quiesce(func(next int64, tip [32]byte) error {
		if next == 0 {
			return nil
		}
		records, err := s.state.Store.LoadAll(ctx)
		if err != nil {
			return fmt.Errorf("load records: %w", err)
		}
		snap = &persistence.SnapshotData{
			Sequence:        next - 1,
			StateHash:       append([]byte(nil), tip[:]...),
			Records:         records,
			Balances:        persistence.BalanceEntries(s.state.Book.Snapshot()),
			MintInitialised: s.state.Mint.Initialised(),
			CreatedAt:       s.now().UTC(),
		}
		if s.state.Idem != nil {
			snap.IdempotencyKeys = s.state.Idem.Keys()
		}
		return nil
	})
	if err != nil {
		return -1, err
	}
	if snap == nil {
		return -1, nil
	}

	data, err := s.state.Snapshots.SaveSnapshot(ctx, snap)
	if err != nil {
		return -1, err
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(len(data)))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, snap.Sequence, data); err != nil {
			// the database copy is authoritative
			s.logger.Warn().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot archive failed")
		}
	}

	s.logger.Info().Int64("sequence", snap.Sequence).Int("bytes", len(data)).Msg("snapshot saved")
	return snap.Sequence, nil
}

// RunPeriodic checks every tick and snapshots once at least interval events
// have been applied since the last snapshot.
func (s *Snapshotter) RunPeriodic(ctx context.Context, interval int64, tick time.Duration) error {
	if interval <= 0 {
		interval = 10_000
	}
	last := s.state.Engine.GetSequence()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current := s.state.Engine.GetSequence()
			if current-last < interval {
				continue
			}
			if _, err := s.Take(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = current
		}
	}
}
