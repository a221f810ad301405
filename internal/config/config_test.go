package config

import "testing"

func TestEnvInt32Default(t *testing.T) {
	const key = "BAKESIM_TEST_INT32"

	if got := envInt32Default(key, 10); got != 10 {
		t.Fatalf("unset: got %d want 10", got)
	}
	t.Setenv(key, "25")
	if got := envInt32Default(key, 10); got != 25 {
		t.Fatalf("set: got %d want 25", got)
	}
	t.Setenv(key, "0")
	if got := envInt32Default(key, 10); got != 10 {
		t.Fatalf("non-positive falls back: got %d want 10", got)
	}
	t.Setenv(key, "lots")
	if got := envInt32Default(key, 10); got != 10 {
		t.Fatalf("garbage falls back: got %d want 10", got)
	}
}

func TestLoadAPIFromEnvPoolSizing(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bakesim")
	t.Setenv("ADMIN_USER", "instructor")
	t.Setenv("ADMIN_PASS", "hunter2")
	t.Setenv("BAKESIM_DB_MAX_CONNS", "4")
	t.Setenv("BAKESIM_DB_MIN_CONNS", "1")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBMaxConns != 4 || cfg.DBMinConns != 1 {
		t.Fatalf("pool sizing: got max=%d min=%d", cfg.DBMaxConns, cfg.DBMinConns)
	}
}
