package sessions

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper is implemented by stores that can reclaim idle sessions.
type Sweeper interface {
	SweepStale(ctx context.Context) int
	Len() int
}

// Janitor periodically reclaims stale sessions. Store.Create also sweeps
// opportunistically; the janitor covers processes that stop creating
// sessions.
type Janitor struct {
	store    Sweeper
	interval time.Duration
}

// NewJanitor creates a janitor that sweeps on the given interval.
func NewJanitor(s Sweeper, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Janitor{store: s, interval: interval}
}

// Start blocks, sweeping once per interval, until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().Dur("interval", j.interval).Msg("Session janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep.
func (j *Janitor) RunCycle(ctx context.Context) int {
	start := time.Now()
	n := j.store.SweepStale(ctx)
	if n > 0 {
		log.Info().
			Int("reaped", n).
			Int("remaining", j.store.Len()).
			Dur("elapsed", time.Since(start)).
			Msg("🧹 Stale sessions reclaimed")
	}
	return n
}
