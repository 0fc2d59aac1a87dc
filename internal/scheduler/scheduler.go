package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/core-coin/settlement/internal/config"
	"github.com/core-coin/settlement/internal/models"
	"github.com/core-coin/settlement/pkg/logger"
)

// Report sums up one daily run.
type Report struct {
	Day       time.Time `json:"day"`
	Purchases int       `json:"purchases"`
	Accrued   int64     `json:"accrued"`
	Replayed  int64     `json:"replayed"`
	Skipped   int64     `json:"skipped"`
	Failed    int64     `json:"failed"`
}

// Scheduler drives the accrual engine over every accruing purchase once per day.
// It may run any number of times for the same day.
type Scheduler struct {
	logger *logger.Logger
	repo   models.Repository
	engine models.AccrualEngine

	interval time.Duration
	workers  int
	timeout  time.Duration

	now func() time.Time
}

// NewScheduler creates a new Scheduler instance
func NewScheduler(repo models.Repository, engine models.AccrualEngine, logger *logger.Logger, cfg *config.Config) *Scheduler {
	workers := cfg.SchedulerWorkers
	if workers < 1 {
		workers = 1
	}
	interval := cfg.SchedulerInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		logger:   logger,
		repo:     repo,
		engine:   engine,
		interval: interval,
		workers:  workers,
		timeout:  cfg.StoreTimeout,
		now:      time.Now,
	}
}

// Start runs the accrual for the current day right away and then on every
// tick, until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunDay(ctx, s.now()); err != nil {
			s.logger.Error("Daily accrual run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunDay accrues day for every paid purchase, together with any earlier day a
// purchase is missing. A failing purchase is logged and counted; it never stops
// the others.
func (s *Scheduler) RunDay(ctx context.Context, day time.Time) (*Report, error) {
	listCtx, cancel := context.WithTimeout(ctx, s.timeout)
	purchases, err := s.repo.ListPurchasesByStatus(listCtx, models.PurchasePaid)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("list accruing purchases: %w", err)
	}

	report := &Report{Day: day, Purchases: len(purchases)}
	var accrued, replayed, skipped, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, purchase := range purchases {
		if ctx.Err() != nil {
			break
		}
		purchase := purchase
		g.Go(func() error {
			results, err := s.engine.AccrueThrough(ctx, purchase.ID, day)
			for _, result := range results {
				switch {
				case result.Created:
					accrued.Add(1)
				case result.Event != nil:
					replayed.Add(1)
				default:
					skipped.Add(1)
				}
			}
			if err != nil {
				failed.Add(1)
				s.logger.Error("Accrual failed", "purchase", purchase.ID, "user", purchase.UserID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Accrued = accrued.Load()
	report.Replayed = replayed.Load()
	report.Skipped = skipped.Load()
	report.Failed = failed.Load()

	s.logger.Info("Daily accrual run finished", "day", day.Format(time.DateOnly), "purchases", report.Purchases,
		"accrued", report.Accrued, "replayed", report.Replayed, "skipped", report.Skipped, "failed", report.Failed)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}
