// Package scheduler advances approved inscriptions once their next phase opens.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"aurora/internal/engine"
)

const (
	defaultConcurrency = 4
	defaultBatchSize   = 500
)

// Sweeper advances every inscription that is ready to move to its next phase.
type Sweeper struct {
	Engine      engine.Engine
	Concurrency int
	BatchSize   int
	Logger      *slog.Logger
}

type Result struct {
	Candidates int `json:"candidates"`
	Advanced   int `json:"advanced"`
	Skipped    int `json:"skipped"`
}

// Sweep runs one pass. Business-rule refusals are skipped; the first
// infrastructure error stops the pass and is returned.
func (s Sweeper) Sweep(ctx context.Context) (Result, error) {
	logger := s.logger()
	batch := s.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	ids, err := s.Engine.AdvanceCandidates(ctx, batch)
	if err != nil {
		return Result{}, fmt.Errorf("list advance candidates: %w", err)
	}
	var advanced, skipped atomic.Int64
	limit := s.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			next, err := s.Engine.Advance(gctx, id, engine.SystemActor)
			switch {
			case err == nil:
				advanced.Add(1)
				logger.Info("auto-advanced inscription", "inscription_id", id, "phase_id", next.PhaseID)
				return nil
			case skippable(err):
				skipped.Add(1)
				logger.Debug("skipped inscription", "inscription_id", id, "reason", err)
				return nil
			default:
				return fmt.Errorf("advance %s: %w", id, err)
			}
		})
	}
	err = g.Wait()
	return Result{Candidates: len(ids), Advanced: int(advanced.Load()), Skipped: int(skipped.Load())}, err
}

func skippable(err error) bool {
	var (
		notOpen  engine.PhaseNotOpenError
		notElig  engine.NotEligibleError
		noNext   engine.NoNextPhaseError
		conflict engine.ConcurrentModificationError
		missing  engine.NotFoundError
	)
	return errors.As(err, &notOpen) || errors.As(err, &notElig) || errors.As(err, &noNext) ||
		errors.As(err, &conflict) || errors.As(err, &missing)
}

func (s Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// New registers the sweep as a singleton duration job. The caller starts and
// shuts down the returned scheduler.
func New(ctx context.Context, s Sweeper, interval time.Duration) (gocron.Scheduler, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	logger := s.logger()
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			res, err := s.Sweep(ctx)
			if err != nil {
				logger.Error("sweep failed", "err", err)
				return
			}
			if res.Candidates > 0 {
				logger.Info("sweep finished", "candidates", res.Candidates, "advanced", res.Advanced, "skipped", res.Skipped)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("auto-advance"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	return sched, nil
}
