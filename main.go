package main

import (
	"database/sql"
	"log"
	"net/http"

	_ "github.com/lib/pq"

	"github.com/promptclash/promptclash-backend/config"
	"github.com/promptclash/promptclash-backend/internal/agent"
	"github.com/promptclash/promptclash-backend/internal/auth"
	"github.com/promptclash/promptclash-backend/internal/battle"
	"github.com/promptclash/promptclash-backend/internal/events"
	"github.com/promptclash/promptclash-backend/internal/generation"
	"github.com/promptclash/promptclash-backend/internal/invite"
	"github.com/promptclash/promptclash-backend/internal/judge"
	"github.com/promptclash/promptclash-backend/internal/matchmaking"
	"github.com/promptclash/promptclash-backend/internal/phase"
	"github.com/promptclash/promptclash-backend/internal/store"
	"github.com/promptclash/promptclash-backend/internal/tasks"
	"github.com/promptclash/promptclash-backend/internal/ws"
	rdbPkg "github.com/promptclash/promptclash-backend/pkg/redis"
	wsPkg "github.com/promptclash/promptclash-backend/pkg/websocket"
)

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
	verifier := auth.NewVerifier(cfg)

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
	// Callback wiring closes the generation -> judging -> reveal loop
	// without the worker packages importing the coordinator.
	genWorker.OnGenerated = coordinator.HandleGenerated
	pipeline.OnReveal = coordinator.ScheduleCompletion

	matcher := matchmaking.NewService(sqlDB, st, bus, matchmaking.Config{
		QueueEntryTTL:    cfg.QueueEntryTTL,
		BattleExpiry:     cfg.BattleExpiry,
		InvitationTTL:    cfg.InvitationTTL,
		AIOpponentID:     cfg.AIOpponentID,
		ActiveUserWindow: cfg.ActiveUserWindow,
		ActiveUserTopN:   cfg.ActiveUserTopN,
	})
	invites := invite.NewService(st, cfg.InvitationTTL)
	inviteHandler := invite.NewHandler(invites, matcher, verifier)

	hub := wsPkg.NewHub()
	userHub := wsPkg.NewUserHub()
	go wsPkg.NewBridge(rdb, hub, userHub).Run()

	battleHandler := ws.NewBattleHandler(hub, verifier, coordinator, cfg.AllowedOrigins)
	matchmakingHandler := ws.NewMatchmakingHandler(userHub, verifier, matcher, st, cfg.AllowedOrigins)

	http.HandleFunc("/ws/battle", battleHandler.ServeWS)
	http.HandleFunc("/ws/matchmaking", matchmakingHandler.ServeWS)

	http.HandleFunc("/api/v1/battles/link", inviteHandler.CreateLink)
	http.HandleFunc("/api/v1/invitations/accept", inviteHandler.Accept)
	http.HandleFunc("/api/v1/invitations/decline", inviteHandler.Decline)

	log.Println("Server started at :8080")
	log.Fatal(http.ListenAndServe(":8080", nil))
}
