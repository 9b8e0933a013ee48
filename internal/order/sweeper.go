package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultRetentionWindow = 30 * 24 * time.Hour
	DefaultSweepInterval   = 24 * time.Hour
)

type SweeperConfig struct {
	// RetentionWindow is the age past which orders are purged.
	RetentionWindow time.Duration
	// Interval between sweeps started by Run.
	Interval time.Duration
	// TerminalOnly restricts purging to DELIVERED and CANCELLED orders.
	TerminalOnly bool
	// BatchSize caps the orders removed by one sweep. Zero means no cap.
	BatchSize int
}

// Sweeper hard-deletes orders older than the retention window.
type Sweeper struct {
	repo    Repository
	cfg     SweeperConfig
	metrics Metrics
	clock   func() time.Time
}

func NewSweeper(repo Repository, cfg SweeperConfig, metrics Metrics, clock func() time.Time) (*Sweeper, error) {
	if repo == nil {
		return nil, errors.New("sweeper: repository is required")
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = DefaultRetentionWindow
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("sweeper: batch size must be non-negative, got %d", cfg.BatchSize)
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if clock == nil {
		clock = time.Now
	}

	return &Sweeper{repo: repo, cfg: cfg, metrics: metrics, clock: clock}, nil
}

// Sweep removes every eligible order together with its items and returns the number of
// orders deleted. A failure rolls back the whole batch.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.clock().UTC().Add(-s.cfg.RetentionWindow)

	purged, err := s.repo.PurgeOrders(ctx, PurgeQuery{
		CreatedBefore: cutoff,
		TerminalOnly:  s.cfg.TerminalOnly,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		s.metrics.SweepFailed()
		log.Error().Err(err).Time("cutoff", cutoff).Msg("sweeper: failed to purge expired orders")
		return 0, fmt.Errorf("sweeper: failed to purge orders: %w", err)
	}

	s.metrics.OrdersPurged(purged)
	if purged > 0 {
		log.Info().Int64("purged", purged).Time("cutoff", cutoff).Msg("sweeper: expired orders purged")
	} else {
		log.Debug().Time("cutoff", cutoff).Msg("sweeper: nothing to purge")
	}
	return purged, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.cfg.Interval).Dur("retention", s.cfg.RetentionWindow).Bool("terminal_only", s.cfg.TerminalOnly).Msg("sweeper: started")

	for {
		// Errors are already logged; the next tick retries.
		_, _ = s.Sweep(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper: stopped")
			return
		case <-ticker.C:
		}
	}
}
