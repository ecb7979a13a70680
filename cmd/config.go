package main

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"group-adder/internal/governor"
)

// config holds everything read from the environment. Nothing outside this
// package reads environment variables.
type config struct {
	TelegramAPIURL string
	ReportTable    string
	Limits         governor.Limits
	Cooldown       time.Duration
	PollTimeout    int
	LogLevel       slog.Level
}

func loadConfig() config {
	limits := governor.DefaultLimits()
	limits.MaxPerHour = envInt("MAX_ADDITIONS_PER_HOUR", limits.MaxPerHour)
	limits.MaxPerDay = envInt("MAX_DAILY_ADDITIONS", limits.MaxPerDay)
	limits.MinDelay = envSeconds("MIN_DELAY_SECONDS", limits.MinDelay)
	limits.MaxDelay = envSeconds("MAX_DELAY_SECONDS", limits.MaxDelay)

	return config{
		TelegramAPIURL: os.Getenv("TELEGRAM_API_URL"),
		ReportTable:    strings.TrimSpace(os.Getenv("REPORT_TABLE")),
		Limits:         limits,
		Cooldown:       envSeconds("COOLDOWN_SECONDS", 60*time.Second),
		PollTimeout:    envInt("POLL_TIMEOUT_SECONDS", 25),
		LogLevel:       parseLevel(os.Getenv("LOG_LEVEL")),
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envSeconds(key string, def time.Duration) time.Duration {
	n := envInt(key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
