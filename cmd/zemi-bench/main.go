// README: Smoke and race runner against a live zemi-api; executes HTTP, DB and Redis checks and prints results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	results := NewRunner(cfg).RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case statusPass:
			pass++
		case statusFail:
			fail++
		case statusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)
	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	JWTSecret      string
	DSN            string
	RedisAddr      string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Credits        int
	Requests       int
	Drivers        int
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("ZEMI_BENCH_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", os.Getenv("ZEMI_JWT_SECRET"), "HS256 secret shared with the API")
	flag.StringVar(&cfg.DSN, "dsn", os.Getenv("ZEMI_DB_DSN"), "Postgres DSN (optional)")
	flag.StringVar(&cfg.RedisAddr, "redis", os.Getenv("ZEMI_REDIS_ADDR"), "Redis address (optional)")
	flag.BoolVar(&cfg.ApplyMigration, "apply-migration", envOrDefault("ZEMI_BENCH_APPLY_MIGRATION", "") == "true", "Apply migrations/0001_init.sql first")
	flag.BoolVar(&cfg.Strict, "strict", false, "Fail when a check is skipped")
	flag.DurationVar(&cfg.Timeout, "timeout", 60*time.Second, "Total timeout")
	flag.IntVar(&cfg.Credits, "credits", envOrDefaultInt("ZEMI_BENCH_CREDITS", 5), "Trip credits granted to the bench client")
	flag.IntVar(&cfg.Requests, "requests", envOrDefaultInt("ZEMI_BENCH_REQUESTS", 20), "Concurrent trip requests")
	flag.IntVar(&cfg.Drivers, "drivers", envOrDefaultInt("ZEMI_BENCH_DRIVERS", 5), "Drivers racing to accept each trip")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}
