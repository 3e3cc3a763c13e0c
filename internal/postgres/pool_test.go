package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestNewPool_BadURL(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(context.Background(), "postgres://%zz"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyPoolConfig(t *testing.T) {
	t.Parallel()

	cfg, err := pgxpool.ParseConfig("postgres://user@localhost:5432/payslipd")
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	defMax := cfg.MaxConns

	applyPoolConfig(cfg, PoolConfig{})
	if cfg.MaxConns != defMax {
		t.Errorf("zero PoolConfig changed MaxConns to %d", cfg.MaxConns)
	}

	applyPoolConfig(cfg, PoolConfig{MaxConns: 7, MaxConnLifetime: time.Minute, ConnectTimeout: 3 * time.Second})
	if cfg.MaxConns != 7 || cfg.MaxConnLifetime != time.Minute || cfg.ConnConfig.ConnectTimeout != 3*time.Second {
		t.Errorf("cfg = max %d lifetime %v timeout %v", cfg.MaxConns, cfg.MaxConnLifetime, cfg.ConnConfig.ConnectTimeout)
	}
}

func TestNewPool_Integration(t *testing.T) {
	url := os.Getenv("PAYSLIPD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PAYSLIPD_TEST_DATABASE_URL not set")
	}

	pool, err := NewPool(context.Background(), url, PoolConfig{MaxConns: 2})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	var one int
	if err := pool.QueryRow(context.Background(), "SELECT 1").Scan(&one); err != nil || one != 1 {
		t.Fatalf("SELECT 1 = %d, %v", one, err)
	}
}
