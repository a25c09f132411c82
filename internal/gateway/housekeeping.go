package gateway

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// startHousekeeping schedules the periodic maintenance jobs: bounding
// rate limiter memory, pruning expired announcements and refreshing the
// cluster gauges. The caller owns the returned scheduler and must call
// Shutdown on exit.
func (g *Gateway) startHousekeeping() (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(g.limiter.Cleanup),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule limiter cleanup: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			if pruned := g.announcements.Prune(); pruned > 0 {
				g.logger.Info("pruned expired announcements", zap.Int("count", pruned))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule announcement pruning: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(15*time.Second),
		gocron.NewTask(g.syncGauges),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule gauge sync: %w", err)
	}

	scheduler.Start()
	return scheduler, nil
}
