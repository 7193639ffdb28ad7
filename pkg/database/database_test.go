package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath, DefaultLimits())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db, dbPath
}

func TestMessagesSurviveReopen(t *testing.T) {
	db, dbPath := newTestDB(t)
	ctx := context.Background()

	first, err := db.Append(ctx, "alice", "persisted")
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := Open(dbPath, DefaultLimits())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	recent, err := reopened.Recent(ctx, 50)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 1 || recent[0] != *first {
		t.Fatalf("expected %+v after reopen, got %+v", *first, recent)
	}
}

func TestReopenedClockNeverGoesBackwards(t *testing.T) {
	db, dbPath := newTestDB(t)
	ctx := context.Background()

	// Write a message stamped in the future, as if the clock was ahead last run
	future := time.Now().Add(time.Hour).UnixMilli()
	if _, err := db.writeConn.Exec(
		"INSERT INTO Message (id, username, body, created_at) VALUES (?, ?, ?, ?)",
		1, "alice", "from the future", future,
	); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	db.Close()

	reopened, err := Open(dbPath, DefaultLimits())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	msg, err := reopened.Append(ctx, "bob", "now")
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if msg.CreatedAt.UnixMilli() < future {
		t.Fatalf("timestamp went backwards: %d < %d", msg.CreatedAt.UnixMilli(), future)
	}

	recent, err := reopened.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 1 || recent[0].Body != "now" {
		t.Fatalf("expected newest message to be the latest append, got %+v", recent)
	}
}

func TestCustomLimits(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath, Limits{MaxUsernameLength: 5, MaxMessageLength: 3})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()

	if _, err := db.Append(context.Background(), "abcde", "abc"); err != nil {
		t.Fatalf("expected limits to allow boundary values: %v", err)
	}
	if _, err := db.Append(context.Background(), "abcdef", "abc"); err == nil {
		t.Fatalf("expected username over custom limit to fail")
	}
	if _, err := db.Append(context.Background(), "abc", "abcd"); err == nil {
		t.Fatalf("expected body over custom limit to fail")
	}
}
