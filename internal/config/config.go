package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type APIConfig struct {
	Addr        string
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DataDir     string
	AdminUser   string
	AdminPass   string
	RoundEvery  time.Duration
	SeedFile    string
	AutoLock    bool
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("BAKESIM_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:        addr,
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:  envInt32Default("BAKESIM_DB_MAX_CONNS", 10),
		DBMinConns:  envInt32Default("BAKESIM_DB_MIN_CONNS", 2),
		DataDir:     envDefault("BAKESIM_DATA_DIR", "data"),
		AdminUser:   strings.TrimSpace(os.Getenv("ADMIN_USER")),
		AdminPass:   strings.TrimSpace(os.Getenv("ADMIN_PASS")),
		RoundEvery:  envDurationDefault("BAKESIM_ROUND_EVERY", 20*time.Minute),
		SeedFile:    strings.TrimSpace(os.Getenv("BAKESIM_SEED_FILE")),
		AutoLock:    envBoolDefault("BAKESIM_WORKER_AUTO_LOCK", true),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AdminUser == "" {
		return cfg, fmt.Errorf("ADMIN_USER is required")
	}
	if cfg.AdminPass == "" {
		return cfg, fmt.Errorf("ADMIN_PASS is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("BAKE_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt32Default(key string, fallback int32) int32 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 1 {
		return fallback
	}
	return int32(n)
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
