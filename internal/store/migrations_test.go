package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMigrations(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	tables := map[string]int{
		"api_keys":       9,
		"captures":       10,
		"rate_limit_log": 3,
	}
	for table, columns := range tables {
		t.Run(table+" table exists", func(t *testing.T) {
			var count int
			err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pragma_table_info(?)`, table).Scan(&count)
			if err != nil {
				t.Fatalf("Failed to query %s table info: %v", table, err)
			}
			if count != columns {
				t.Errorf("Expected %d columns in %s table, got %d", columns, table, count)
			}
		})
	}

	t.Run("indexes exist", func(t *testing.T) {
		for _, name := range []string{"idx_captures_status_created", "idx_api_keys_prefix", "idx_rate_limit_key_ts"} {
			var count int
			err := store.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, name).Scan(&count)
			if err != nil {
				t.Fatalf("Failed to query index %s: %v", name, err)
			}
			if count != 1 {
				t.Errorf("Expected index %s to exist", name)
			}
		}
	})

	t.Run("status check constraint", func(t *testing.T) {
		_, err := store.db.ExecContext(ctx,
			`INSERT INTO captures (api_key_id, content, status, created_at) VALUES (1, 'x', 'bogus', 0)`)
		if err == nil {
			t.Error("Expected invalid status to be rejected")
		}
	})
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	for i := 0; i < 2; i++ {
		store, err := NewStore(path)
		if err != nil {
			t.Fatalf("Open %d failed: %v", i, err)
		}
		store.Close()
	}
}
