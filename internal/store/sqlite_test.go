package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lp-rfq/internal/config"
)

func TestNewSQLite_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "quotes.db")
	s, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2, MaxIdleConns: 2, ConnMaxLifetime: time.Minute})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(context.Background(), `CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if _, err := s.DB().Exec(`INSERT INTO t (id) VALUES (1)`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
}

func TestNewMemory_SharesSingleConnection(t *testing.T) {
	s, err := NewMemory()
	if err != nil {
		t.Fatalf("NewMemory returned error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Migrate(ctx, `CREATE TABLE t (v TEXT)`); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := s.DB().ExecContext(ctx, `INSERT INTO t (v) VALUES ('x')`); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
	}
	var n int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM t`).Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 10 {
		t.Errorf("expected 10 rows, got %d", n)
	}
}
