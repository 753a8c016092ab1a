package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/moznion/go-optional"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"marketfeed/internal/provider"
)

// Engine is the part of the engine the scheduled jobs use.
type Engine interface {
	ClearCache(ctx context.Context, horizon time.Duration) (int64, error)
	GetMany(ctx context.Context, symbols []string) map[string]optional.Option[provider.Series]
}

// Scheduler runs cache cleanup and watchlist warm-up on cron schedules.
type Scheduler struct {
	Cron      *cron.Cron
	Engine    Engine
	Horizon   time.Duration
	Watchlist []string
	Ctx       context.Context
	Log       *zap.Logger
}

// NewScheduler creates a Scheduler with standard five-field cron specs.
func NewScheduler(ctx context.Context, eng Engine, horizon time.Duration, watchlist []string, log *zap.Logger) *Scheduler {
	return &Scheduler{
		Cron:      cron.New(),
		Engine:    eng,
		Horizon:   horizon,
		Watchlist: watchlist,
		Ctx:       ctx,
		Log:       log,
	}
}

// RegisterAll registers the cleanup job and, when a cron expression and a watchlist
// are configured, the warm-up job.
func (s *Scheduler) RegisterAll(cleanupCron, warmCron string) error {
	if _, err := s.Cron.AddFunc(cleanupCron, s.cleanupTask); err != nil {
		return fmt.Errorf("register cleanup task: %w", err)
	}
	if warmCron == "" || len(s.Watchlist) == 0 {
		return nil
	}
	if _, err := s.Cron.AddFunc(warmCron, s.warmTask); err != nil {
		return fmt.Errorf("register warm-up task: %w", err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Log.Info("scheduler started", zap.Int("jobs", len(s.Cron.Entries())))
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.Log.Info("scheduler stopped")
}

// RunWarmNow executes the warm-up immediately (RUN_ON_START).
func (s *Scheduler) RunWarmNow() {
	s.warmTask()
}

func (s *Scheduler) cleanupTask() {
	n, err := s.Engine.ClearCache(s.Ctx, s.Horizon)
	if err != nil {
		s.Log.Error("cache cleanup failed", zap.Error(err))
		return
	}
	s.Log.Info("cache cleanup done", zap.Int64("removed", n))
}

func (s *Scheduler) warmTask() {
	if len(s.Watchlist) == 0 {
		return
	}
	start := time.Now()
	got := s.Engine.GetMany(s.Ctx, s.Watchlist)
	var missing []string
	for _, sym := range s.Watchlist {
		if v, ok := got[sym]; !ok || v.IsNone() {
			missing = append(missing, sym)
		}
	}
	s.Log.Info("watchlist warmed",
		zap.Int("symbols", len(s.Watchlist)),
		zap.Strings("missing", missing),
		zap.Duration("took", time.Since(start)))
}
