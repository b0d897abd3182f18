package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUrl     string
	RedisAddr string
	JWTSecret string

	// Origins allowed to open battle/matchmaking sockets.
	AllowedOrigins []string

	// Identity used as the opponent for instant AI matches.
	AIOpponentID string

	// External collaborators.
	GenerationURL string
	JudgeURL      string
	AgentURL      string

	CountdownSeconds int
	BattleDuration   time.Duration
	// Extra slack added on top of BattleDuration before the per-battle
	// timeout task fires, so a slow client is not cut off mid-submit.
	TimeoutBuffer   time.Duration
	RevealWindow    time.Duration
	QueueEntryTTL   time.Duration
	InvitationTTL   time.Duration
	BattleExpiry    time.Duration
	TurnDuration    time.Duration
	AsyncDeadline   time.Duration
	MaxExtensions   int
	GeneratingStall time.Duration
	JudgingStall    time.Duration
	SweepInterval   time.Duration

	// Active-user matchmaking: how recently a user must have been seen,
	// and how many of the most recent candidates we pick among.
	ActiveUserWindow time.Duration
	ActiveUserTopN   int

	WinnerPoints        int
	ParticipationPoints int
}

func LoadConfig() Config {
	err := godotenv.Load()

	if err != nil {
		log.Println("No .env file found. Using environment variables.")
	}

	return Config{
		DBUrl:     os.Getenv("DB_URL"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		JWTSecret: os.Getenv("JWT_SECRET"),

		AllowedOrigins: splitEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
		AIOpponentID:   envStr("AI_OPPONENT_ID", "ai-opponent"),

		GenerationURL: os.Getenv("GENERATION_URL"),
		JudgeURL:      os.Getenv("JUDGE_URL"),
		AgentURL:      os.Getenv("AGENT_URL"),

		CountdownSeconds: envInt("COUNTDOWN_SECONDS", 3),
		BattleDuration:   envDuration("BATTLE_DURATION", 3*time.Minute),
		TimeoutBuffer:    envDuration("TIMEOUT_BUFFER", 10*time.Second),
		RevealWindow:     envDuration("REVEAL_WINDOW", 10*time.Second),
		QueueEntryTTL:    envDuration("QUEUE_ENTRY_TTL", 5*time.Minute),
		InvitationTTL:    envDuration("INVITATION_TTL", 24*time.Hour),
		BattleExpiry:     envDuration("BATTLE_EXPIRY", 30*time.Minute),
		TurnDuration:     envDuration("TURN_DURATION", 5*time.Minute),
		AsyncDeadline:    envDuration("ASYNC_DEADLINE", 24*time.Hour),
		MaxExtensions:    envInt("MAX_EXTENSIONS", 3),
		GeneratingStall:  envDuration("GENERATING_STALL", 5*time.Minute),
		JudgingStall:     envDuration("JUDGING_STALL", 3*time.Minute),
		SweepInterval:    envDuration("SWEEP_INTERVAL", 1*time.Minute),

		ActiveUserWindow: envDuration("ACTIVE_USER_WINDOW", 15*time.Minute),
		ActiveUserTopN:   envInt("ACTIVE_USER_TOP_N", 5),

		WinnerPoints:        envInt("WINNER_POINTS", 100),
		ParticipationPoints: envInt("PARTICIPATION_POINTS", 25),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Invalid duration for %s: %q, using default %s", key, v, fallback)
		return fallback
	}
	return d
}

func splitEnv(key, fallback string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
