package events

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestStoreAppendAndList(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	t0 := time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)
	first := New(KindAssigned, "ride_pg", "d1", t0)
	second := New(KindOfferDeclined, "ride_pg", "d1", t0.Add(time.Second)).With("reason", "timeout")
	reset := New(KindPoolReset, "ride_pg", "", t0.Add(2*time.Second))

	for _, e := range []Event{second, first, reset} {
		if err := store.Publish(ctx, e); err != nil {
			t.Fatalf("publish %s: %v", e.Kind, err)
		}
	}
	// redelivery of the same event is absorbed
	if err := store.Publish(ctx, first); err != nil {
		t.Fatalf("republish: %v", err)
	}

	got, err := store.ListByRide(ctx, "ride_pg")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Kind != KindAssigned || got[1].Kind != KindOfferDeclined || got[2].Kind != KindPoolReset {
		t.Fatalf("unexpected order: %s %s %s", got[0].Kind, got[1].Kind, got[2].Kind)
	}
	if got[1].Detail["reason"] != "timeout" {
		t.Fatalf("detail lost: %v", got[1].Detail)
	}
	if got[2].DriverID != nil {
		t.Fatalf("expected null driver on reset, got %v", *got[2].DriverID)
	}
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("ECO_TEST_DSN")
	if dsn == "" {
		t.Skip("ECO_TEST_DSN not set; skipping DB-backed event log tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE dispatch_events"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewStore(db)
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_dispatch_events.sql"))
	if err != nil {
		return err
	}
	for _, stmt := range splitSQL(stripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
