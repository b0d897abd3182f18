package main

import (
	"database/sql"
	"log"

	_ "github.com/lib/pq"

	"github.com/promptclash/promptclash-backend/config"
	"github.com/promptclash/promptclash-backend/internal/agent"
	"github.com/promptclash/promptclash-backend/internal/battle"
	"github.com/promptclash/promptclash-backend/internal/events"
	"github.com/promptclash/promptclash-backend/internal/generation"
	"github.com/promptclash/promptclash-backend/internal/judge"
	"github.com/promptclash/promptclash-backend/internal/phase"
	"github.com/promptclash/promptclash-backend/internal/store"
	"github.com/promptclash/promptclash-backend/internal/sweeper"
	"github.com/promptclash/promptclash-backend/internal/tasks"
	rdbPkg "github.com/promptclash/promptclash-backend/pkg/redis"
)

// The sweeper runs as its own process so periodic cleanup survives API
// server restarts. Recovery actions go through the same coordinator and
// compare-and-set transitions as the live path, so running it alongside
// any number of API instances is safe.
func main() {
	cfg := config.LoadConfig()

	sqlDB, err := sql.Open("postgres", cfg.DBUrl)
	if err != nil {
		log.Fatal("Failed to connect database:", err)
	}
	defer sqlDB.Close()

	rdb := rdbPkg.NewRedisClient(cfg.RedisAddr)

	st := store.NewPostgres(sqlDB)
	bus := events.NewPublisher(rdb)
	runner := tasks.NewRunner(&tasks.RedisLocker{Rdb: rdb})

	genWorker := generation.NewWorker(generation.NewHTTPClient(cfg.GenerationURL), st, bus, runner)
	pipeline := judge.NewPipeline(st, judge.NewHTTPClient(cfg.JudgeURL), bus)
	aiOpponent := agent.NewHTTPOpponent(cfg.AgentURL)

	coordinator := battle.NewService(st, bus, runner, genWorker, pipeline, aiOpponent, battle.ServiceConfig{
		CountdownSeconds:    cfg.CountdownSeconds,
		BattleDuration:      cfg.BattleDuration,
		TimeoutBuffer:       cfg.TimeoutBuffer,
		RevealWindow:        cfg.RevealWindow,
		TurnDuration:        cfg.TurnDuration,
		AsyncDeadline:       cfg.AsyncDeadline,
		MaxExtensions:       cfg.MaxExtensions,
		WinnerPoints:        cfg.WinnerPoints,
		ParticipationPoints: cfg.ParticipationPoints,
		AIOpponentID:        cfg.AIOpponentID,
		Enforcement:         phase.WarnOnly,
	})
	genWorker.OnGenerated = coordinator.HandleGenerated
	pipeline.OnReveal = coordinator.ScheduleCompletion

	s := sweeper.New(st, coordinator, sweeper.Config{
		Interval:        cfg.SweepInterval,
		GeneratingStall: cfg.GeneratingStall,
		JudgingStall:    cfg.JudgingStall,
	})
	if err := s.Start(); err != nil {
		log.Fatal("Failed to start sweeper:", err)
	}

	select {}
}
