// Package sweeper runs the periodic cleanup jobs: expired queue entries,
// battles past their hard expiry, and battles stuck in a pipeline phase
// after a worker died mid-flight.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/promptclash/promptclash-backend/db"
	"github.com/promptclash/promptclash-backend/internal/battle"
	"github.com/promptclash/promptclash-backend/internal/phase"
	"github.com/promptclash/promptclash-backend/internal/store"
)

type Config struct {
	Interval        time.Duration
	GeneratingStall time.Duration
	JudgingStall    time.Duration
}

type Sweeper struct {
	store       *store.Postgres
	coordinator *battle.Service
	cfg         Config
	scheduler   gocron.Scheduler
}

func New(st *store.Postgres, coordinator *battle.Service, cfg Config) *Sweeper {
	return &Sweeper{store: st, coordinator: coordinator, cfg: cfg}
}

// Start registers the sweep jobs and begins running them. Sweeps are
// idempotent: every recovery action goes through a compare-and-set phase
// transition, so a sweep racing a live worker is harmless.
func (s *Sweeper) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	s.scheduler = sched

	if _, err := sched.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(s.sweep),
	); err != nil {
		return err
	}

	sched.Start()
	log.Printf("Sweeper started, interval %s", s.cfg.Interval)
	return nil
}

func (s *Sweeper) Stop() {
	if s.scheduler != nil {
		if err := s.scheduler.Shutdown(); err != nil {
			log.Printf("Sweeper shutdown error: %v", err)
		}
	}
}

func (s *Sweeper) sweep() {
	ctx := context.Background()
	s.sweepQueue(ctx)
	s.sweepExpiredBattles(ctx)
	s.sweepStalledGeneration(ctx)
	s.sweepStalledJudging(ctx)
}

func (s *Sweeper) sweepQueue(ctx context.Context) {
	n, err := s.store.DeleteExpiredQueueEntries(ctx)
	if err != nil {
		log.Printf("Failed to delete expired queue entries: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Removed %d expired queue entries", n)
	}
}

func (s *Sweeper) sweepExpiredBattles(ctx context.Context) {
	ids, err := s.store.ListExpiredBattles(ctx)
	if err != nil {
		log.Printf("Failed to list expired battles: %v", err)
		return
	}
	for _, id := range ids {
		if err := s.coordinator.ExpireBattle(ctx, id); err != nil {
			log.Printf("Failed to expire battle %s: %v", id, err)
		}
	}
}

// sweepStalledGeneration recovers battles stuck in the generating phase.
// If both entries already have output the judging hand-off was lost and is
// re-enqueued; otherwise a generator is down and the battle is cancelled.
func (s *Sweeper) sweepStalledGeneration(ctx context.Context) {
	ids, err := s.store.ListStalledBattles(ctx, phase.Generating, s.cfg.GeneratingStall)
	if err != nil {
		log.Printf("Failed to list stalled generating battles: %v", err)
		return
	}
	for _, id := range ids {
		subs, err := s.store.ListSubmissions(ctx, id)
		if err != nil {
			log.Printf("Failed to list submissions for stalled battle %s: %v", id, err)
			continue
		}
		if bothGenerated(subs) {
			log.Printf("Re-enqueueing judging for stalled battle %s", id)
			s.coordinator.EnqueueJudging(id)
			continue
		}
		if err := s.coordinator.Cancel(ctx, id, "image generation failed"); err != nil {
			log.Printf("Failed to cancel stalled battle %s: %v", id, err)
		}
	}
}

func (s *Sweeper) sweepStalledJudging(ctx context.Context) {
	ids, err := s.store.ListStalledBattles(ctx, phase.Judging, s.cfg.JudgingStall)
	if err != nil {
		log.Printf("Failed to list stalled judging battles: %v", err)
		return
	}
	for _, id := range ids {
		log.Printf("Re-enqueueing judging for stalled battle %s", id)
		s.coordinator.EnqueueJudging(id)
	}
}

func bothGenerated(subs []db.Submission) bool {
	if len(subs) < 2 {
		return false
	}
	for _, sub := range subs {
		if sub.GeneratedURL == "" {
			return false
		}
	}
	return true
}
