package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DBDSN    string
	HTTPAddr string
	LogLevel string
	RedisDSN string

	// raw secret kept in-memory only; never log this
	BotToken       string
	AdminSecretKey string
	CORSOrigins    []string

	WorkerCount int

	// ReconcileStrict makes a failed store reconciliation fail the
	// whole lookup instead of being logged and swallowed.
	ReconcileStrict bool
}

func Load() (Config, error) {
	cfg := Config{
		DBDSN:          os.Getenv("DB_DSN"),
		HTTPAddr:       getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:       getenvDefault("LOG_LEVEL", "info"),
		RedisDSN:       getenvDefault("REDIS_DSN", "redis://localhost:6379/0"),
		BotToken:       os.Getenv("BOT_TOKEN"),
		AdminSecretKey: getenvDefault("ADMIN_SECRET_KEY", ""),
	}

	if cfg.DBDSN == "" {
		return Config{}, errors.New("missing DB_DSN")
	}

	cfg.WorkerCount = getenvInt("WORKER_COUNT", 5)
	cfg.ReconcileStrict = getenvBool("RECONCILE_STRICT", false)

	corsOrigins := getenvDefault("CORS_ORIGINS", "")
	if corsOrigins != "" {
		cfg.CORSOrigins = strings.Split(corsOrigins, ",")
		for i := range cfg.CORSOrigins {
			cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
		}
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000"} // default
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
