package scheduler

import (
	"context"
	"time"

	"github.com/ikkim/cartage/config"
	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/ikkim/cartage/pkg/logger"
	"github.com/robfig/cron/v3"
)

// CartJanitor periodically deletes carts that have not been modified within
// the retention window
type CartJanitor struct {
	cron *cron.Cron
	repo *cartage.Cartage
	cfg  config.JanitorConfig
	now  func() time.Time
}

type JanitorOption func(*CartJanitor)

// WithJanitorClock overrides the clock used to compute the retention cutoff
func WithJanitorClock(now func() time.Time) JanitorOption {
	return func(j *CartJanitor) { j.now = now }
}

// NewCartJanitor creates a janitor working through repo. The security
// manager behind repo needs the list and delete permissions.
func NewCartJanitor(repo *cartage.Cartage, cfg config.JanitorConfig, opts ...JanitorOption) *CartJanitor {
	j := &CartJanitor{
		cron: cron.New(),
		repo: repo,
		cfg:  cfg,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// RunOnce deletes every stale cart and returns how many were removed.
// Finalized carts are kept unless PurgeFinalized is set.
func (j *CartJanitor) RunOnce(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.cfg.Retention)
	stale, err := j.repo.GetCarts(ctx, nil, &cartage.Range{End: cutoff})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, info := range stale {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if info.Finalized && !j.cfg.PurgeFinalized {
			continue
		}

		if err := j.repo.DeleteCart(ctx, info.Identifier); err != nil {
			logger.Error("Failed to delete stale cart", err, map[string]interface{}{
				"cart_id": info.Identifier,
			})
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Start registers the purge job on the configured schedule
func (j *CartJanitor) Start() error {
	_, err := j.cron.AddFunc(j.cfg.Schedule, func() {
		logger.Info("Starting scheduled cart purge", map[string]interface{}{
			"retention": j.cfg.Retention.String(),
		})

		deleted, err := j.RunOnce(context.Background())
		if err != nil {
			logger.Error("Scheduled cart purge failed", err, map[string]interface{}{
				"deleted": deleted,
			})
			return
		}

		logger.Info("Scheduled cart purge finished", map[string]interface{}{
			"deleted": deleted,
		})
	})
	if err != nil {
		logger.Error("Failed to add cron job for cart purge", err, map[string]interface{}{
			"schedule": j.cfg.Schedule,
		})
		return err
	}

	j.cron.Start()
	logger.Info("Cart janitor started", map[string]interface{}{
		"schedule": j.cfg.Schedule,
	})
	return nil
}

// Stop stops the scheduler and waits for a running purge to finish
func (j *CartJanitor) Stop() {
	logger.Info("Stopping cart janitor...")
	<-j.cron.Stop().Done()
	logger.Info("Cart janitor stopped")
}
