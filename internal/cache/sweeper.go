package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the sweep every ten minutes.
const DefaultSweepSchedule = "*/10 * * * *"

// Sweeper periodically removes expired entries from the backend so lazy
// purge-on-read is not the only thing bounding storage growth.
type Sweeper struct {
	cache    *ContentCache
	schedule string
	cron     *cron.Cron
}

// NewSweeper creates a sweeper for the cache. An empty schedule falls back
// to DefaultSweepSchedule.
func NewSweeper(c *ContentCache, schedule string) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		cache:    c,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start schedules the sweep and begins running it. It returns an error when
// the schedule expression does not parse.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		removed, err := s.cache.Purge(ctx)
		if err != nil {
			slog.Error("cache sweep failed", slog.Any("error", err))
			return
		}
		if removed > 0 {
			slog.Info("cache sweep removed expired entries",
				slog.Int64("removed", removed))
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	slog.Info("cache sweeper started", slog.String("schedule", s.schedule))
	return nil
}

// Stop stops scheduling new sweeps and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
