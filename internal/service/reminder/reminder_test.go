package reminder

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatkeeper/internal/apperr"
	"chatkeeper/internal/config"
	"chatkeeper/internal/models"
	"chatkeeper/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "reminders.db"))
	db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite3", DSN: dsn})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func isCompleted(t *testing.T, db *sql.DB, id int64) bool {
	t.Helper()
	var done bool
	if err := db.QueryRow(`SELECT is_completed FROM reminders WHERE id = ?`, id).Scan(&done); err != nil {
		t.Fatalf("query reminder %d: %v", id, err)
	}
	return done
}

func TestSaveAndDue(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	pastID, err := store.Save(ctx, models.Reminder{
		ChatID: "room_test", Content: "drink water", RemindTime: now.Add(-time.Hour), UserName: "bob",
	})
	if err != nil {
		t.Fatalf("save past: %v", err)
	}
	exactID, err := store.Save(ctx, models.Reminder{
		ChatID: "room_test", Content: "stand up", RemindTime: now, UserName: "bob",
	})
	if err != nil {
		t.Fatalf("save exact: %v", err)
	}
	if _, err := store.Save(ctx, models.Reminder{
		ChatID: "room_test", Content: "later", RemindTime: now.Add(time.Minute), UserName: "bob",
	}); err != nil {
		t.Fatalf("save future: %v", err)
	}

	due, err := store.Due(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	ids := map[int64]models.Reminder{}
	for _, r := range due {
		ids[r.ID] = r
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due reminders, got %+v", due)
	}
	past, ok := ids[pastID]
	if !ok {
		t.Fatalf("past reminder missing from %+v", due)
	}
	if _, ok := ids[exactID]; !ok {
		t.Fatalf("reminder at exactly now must be due")
	}
	if past.UserName != "bob" || past.Content != "drink water" || past.IsCompleted {
		t.Fatalf("unexpected reminder %+v", past)
	}
	if !past.RemindTime.Equal(now.Add(-time.Hour)) {
		t.Fatalf("remind time round trip: got %v", past.RemindTime)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := store.Save(ctx, models.Reminder{
		ChatID: "user_alice", Content: "call mom", RemindTime: now.Add(-time.Minute), UserName: "alice",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Complete(ctx, id); err != nil {
			t.Fatalf("complete pass %d: %v", i, err)
		}
		if !isCompleted(t, db, id) {
			t.Fatalf("reminder not completed after pass %d", i)
		}
	}
	due, err := store.Due(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("completed reminders must not be due: %+v", due)
	}
}

func TestCompleteUnknownIDIsNoop(t *testing.T) {
	db := openTestDB(t)
	if err := NewStore(db).Complete(context.Background(), 4242); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
}

func TestSaveValidation(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)

	_, err := store.Save(context.Background(), models.Reminder{ChatID: "room_test", Content: " "})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"content", "remind_time", "user_name"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("message %q should name %s", err.Error(), field)
		}
	}
	if strings.Contains(err.Error(), "chat_id") {
		t.Fatalf("chat_id was provided: %q", err.Error())
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM reminders`).Scan(&count); err != nil || count != 0 {
		t.Fatalf("invalid reminder persisted: count=%d err=%v", count, err)
	}
}

func TestParseRemindTime(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-06-01T12:30:00Z", time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)},
		{"2024-06-01T12:30:00+08:00", time.Date(2024, 6, 1, 4, 30, 0, 0, time.UTC)},
		{"2024-06-01T12:30:00", time.Date(2024, 6, 1, 12, 30, 0, 0, loc)},
		{"2024-06-01 12:30:00", time.Date(2024, 6, 1, 12, 30, 0, 0, loc)},
		{"2024-06-01T12:30:00.250", time.Date(2024, 6, 1, 12, 30, 0, 250_000_000, loc)},
		{" 2024-06-01 12:30 ", time.Date(2024, 6, 1, 12, 30, 0, 0, loc)},
	}
	for _, tc := range cases {
		got, err := ParseRemindTime(tc.in, loc)
		if err != nil {
			t.Fatalf("ParseRemindTime(%q): %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("ParseRemindTime(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "tomorrow", "2024-13-01T00:00:00"} {
		if _, err := ParseRemindTime(bad, loc); apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("ParseRemindTime(%q) expected validation error, got %v", bad, err)
		}
	}
}

func TestDueIncludesRowsWrittenWithISOTimes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for _, row := range []struct{ content, at string }{
		{"iso utc", "2024-05-01T08:00:00.000Z"},
		{"iso offset", "2024-05-01T16:30:00+08:00"},
		{"iso later", "2024-05-01T10:00:00.000Z"},
	} {
		if _, err := db.Exec(
			`INSERT INTO reminders (chat_id, content, remind_time, user_name) VALUES (?, ?, ?, ?)`,
			"room_test", row.content, row.at, "alice",
		); err != nil {
			t.Fatalf("insert %s: %v", row.content, err)
		}
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	due, err := NewStore(db).Due(ctx, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due reminders, got %+v", due)
	}
	want := []struct {
		content string
		at      time.Time
	}{
		{"iso utc", time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
		{"iso offset", time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)},
	}
	for i, w := range want {
		if due[i].Content != w.content || !due[i].RemindTime.Equal(w.at) {
			t.Fatalf("due[%d] = %+v, want %s at %v", i, due[i], w.content, w.at)
		}
	}
}
