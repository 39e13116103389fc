// Package sweeper runs the background housekeeping loops: message TTL
// expiry, task deadline expiry and cron-scheduled compaction of the
// durable log.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"agentbus/pkg/config"
	"agentbus/pkg/logger"
	"agentbus/pkg/store"
	"agentbus/pkg/tasks"
)

// Sweeper owns the background goroutines. Start once, cancel the
// context to stop.
type Sweeper struct {
	store *store.Store
	tasks *tasks.Manager
	cfg   config.StoreConfig
	tcfg  config.TasksConfig
}

func New(st *store.Store, tm *tasks.Manager, storeCfg config.StoreConfig, taskCfg config.TasksConfig) *Sweeper {
	return &Sweeper{store: st, tasks: tm, cfg: storeCfg, tcfg: taskCfg}
}

// Start launches the sweep loops. Compaction only runs when a cron
// expression and retention age are configured.
func (s *Sweeper) Start(ctx context.Context) error {
	ttlEvery := s.cfg.SweepInterval.Duration()
	if ttlEvery <= 0 {
		ttlEvery = 120 * time.Second
	}
	go s.runTTL(ctx, ttlEvery)

	taskEvery := s.tcfg.SweepInterval.Duration()
	if taskEvery <= 0 {
		taskEvery = 60 * time.Second
	}
	go s.runTasks(ctx, taskEvery)

	if s.cfg.CompactCron != "" {
		if !gronx.IsValid(s.cfg.CompactCron) {
			return fmt.Errorf("invalid compaction cron expression: %s", s.cfg.CompactCron)
		}
		go s.runCompaction(ctx, s.cfg.CompactCron)
		logger.Info("compaction_scheduler_started", "cron", s.cfg.CompactCron)
	}
	return nil
}

func (s *Sweeper) runTTL(ctx context.Context, every time.Duration) {
	ttl := s.cfg.MessageTTL.Duration()
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("ttl_sweeper_stopping")
			return
		case <-ticker.C:
			if n := s.store.SweepExpired(ttl); n > 0 {
				logger.Info("ttl_sweep", "expired", n)
			}
		}
	}
}

func (s *Sweeper) runTasks(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("task_sweeper_stopping")
			return
		case <-ticker.C:
			s.tasks.Sweep()
		}
	}
}

// runCompaction computes the next cron tick with gronx and sleeps until
// it, then deletes durable inbox entries older than the retention age.
func (s *Sweeper) runCompaction(ctx context.Context, cronExpr string) {
	age := s.cfg.CompactAge.Duration()
	if age <= 0 {
		age = 24 * time.Hour
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("compaction_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("compaction_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			cutoff := time.Now().UTC().Add(-age)
			n, err := s.store.CompactBefore(cutoff)
			if err != nil {
				logger.Error("compaction_failed", "error", err)
				continue
			}
			logger.Info("compaction_done", "deleted", n, "cutoff", cutoff)
		case <-ctx.Done():
			logger.Info("compaction_scheduler_stopping")
			return
		}
	}
}
