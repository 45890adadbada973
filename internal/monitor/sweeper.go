package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/metrics"
)

// Target is a live session that can evaluate itself. Tick must not block: a
// busy session simply misses this round.
type Target interface {
	Tick(now time.Time) bool
}

type Registry interface {
	Targets(ctx context.Context) []Target
}

type Sweeper struct {
	registry Registry
	interval time.Duration
	now      func() time.Time
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewSweeper(registry Registry, interval time.Duration, now func() time.Time, log *zap.Logger, m *metrics.Metrics) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{registry: registry, interval: interval, now: now, log: log.Named("sweeper"), metrics: m}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info("sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep ticks every live session once and returns how many missed the tick.
func (s *Sweeper) Sweep(ctx context.Context) int {
	start := time.Now()
	now := s.now()
	missed := 0
	for _, t := range s.registry.Targets(ctx) {
		if !t.Tick(now) {
			missed++
		}
	}
	s.metrics.ObserveSweep(time.Since(start))
	if missed > 0 {
		s.log.Warn("sessions missed sweep tick", zap.Int("missed", missed))
	}
	return missed
}
