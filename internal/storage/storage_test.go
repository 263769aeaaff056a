package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chime/internal/reminder"
	"chime/internal/schedule"
	logx "chime/pkg/logx"
)

func sample() []reminder.Reminder {
	off := 5.5
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	return []reminder.Reminder{
		{
			ID:               "01J00000000000000000000001",
			Message:          "stand up",
			Schedule:         schedule.Spec{Kind: schedule.KindRelative, Delay: schedule.Delay{Minutes: 30}, RepeatCount: 3},
			RemainingRepeats: 2,
			NextFireAt:       at.Add(123 * time.Millisecond),
			Enabled:          true,
			Channel:          reminder.ChannelBoth,
			History:          []reminder.HistoryEntry{{FiredAt: at, Message: "stand up", Source: reminder.SourceTimer}},
			CreatedAt:        at.Add(-time.Hour),
			UpdatedAt:        at,
		},
		{
			ID:      "01J00000000000000000000002",
			Message: "pay rent",
			Schedule: schedule.Spec{
				Kind:          schedule.KindAbsolute,
				At:            schedule.TimeOfDay{Hour: 8},
				Recurrence:    schedule.RecurMonthly,
				DayOfMonth:    31,
				TZOffsetHours: &off,
			},
			NextFireAt: at.AddDate(0, 0, 14),
			Enabled:    true,
			Channel:    reminder.ChannelPush,
			CreatedAt:  at,
			UpdatedAt:  at,
		},
	}
}

func openDriver(t *testing.T, driver string) reminder.Backend {
	t.Helper()
	dir := t.TempDir()
	name := "reminders.json"
	if driver == "sqlite" {
		name = "reminders.db"
	}
	b, err := Open(Config{Driver: driver, Path: filepath.Join(dir, name), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackendsRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite", "memory"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			b := openDriver(t, driver)

			got, err := b.Load(ctx)
			if err != nil {
				t.Fatalf("initial Load: %v", err)
			}
			if len(got) != 0 {
				t.Fatalf("initial Load returned %d items", len(got))
			}

			want := sample()
			if err := b.Save(ctx, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err = b.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(got) != len(want) {
				t.Fatalf("len = %d, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i].ID != want[i].ID || got[i].Message != want[i].Message {
					t.Fatalf("[%d] = %+v", i, got[i])
				}
				if !got[i].NextFireAt.Equal(want[i].NextFireAt) {
					t.Fatalf("[%d] next_fire_at = %v, want %v", i, got[i].NextFireAt, want[i].NextFireAt)
				}
				if got[i].Schedule.Describe() != want[i].Schedule.Describe() {
					t.Fatalf("[%d] schedule = %q, want %q", i, got[i].Schedule.Describe(), want[i].Schedule.Describe())
				}
				if len(got[i].History) != len(want[i].History) {
					t.Fatalf("[%d] history len = %d", i, len(got[i].History))
				}
			}
		})
	}
}

func TestFileSaveOfLoadIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "reminders.json")
	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := b.Save(ctx, sample()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	items, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := b.Save(ctx, items); err != nil {
		t.Fatalf("Save: %v", err)
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Fatalf("Save(Load()) changed the file:\n%s\n---\n%s", before, after)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestSQLiteSaveReplacesRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := openDriver(t, "sqlite")
	items := sample()
	if err := b.Save(ctx, items); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := b.Save(ctx, items[1:]); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].ID != items[1].ID {
		t.Fatalf("Load = %+v", got)
	}

	dup := []reminder.Reminder{items[0], items[0]}
	if err := b.Save(ctx, dup); err == nil {
		t.Fatal("expected unique constraint failure")
	}
	got, _ = b.Load(ctx)
	if len(got) != 1 {
		t.Fatalf("failed save was not rolled back: %d rows", len(got))
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestMemoryFailSave(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	m.FailSave(os.ErrPermission)
	if err := m.Save(context.Background(), sample()); err == nil {
		t.Fatal("expected error")
	}
	m.FailSave(nil)
	if err := m.Save(context.Background(), sample()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if m.Saves() != 1 {
		t.Fatalf("saves = %d", m.Saves())
	}
}
