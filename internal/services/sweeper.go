package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSweepInterval is used when no interval is configured
const DefaultSweepInterval = 10 * time.Second

// ExpirySweeper is the work a Sweeper runs on every tick
type ExpirySweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweeper periodically expires overdue images
type Sweeper struct {
	target   ExpirySweeper
	interval time.Duration
}

// NewSweeper creates a sweeper ticking every interval
func NewSweeper(target ExpirySweeper, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{target: target, interval: interval}
}

// Run sweeps on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("Expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.target.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("Scheduled sweep failed")
			}
		}
	}
}
