package mirror

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"chime/internal/reminder"
	"chime/internal/scheduler"
	"chime/internal/storage"
	logx "chime/pkg/logx"
)

var t0 = time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T) *scheduler.Service {
	t.Helper()
	store, err := reminder.OpenStore(context.Background(), storage.NewMemory())
	if err != nil {
		t.Fatal(err)
	}
	svc := scheduler.New(scheduler.Config{}, store, nil, logx.Nop(),
		scheduler.WithClock(clockwork.NewFakeClockAt(t0)), scheduler.WithLocation(time.UTC))
	svc.Start(context.Background())
	t.Cleanup(svc.Stop)
	return svc
}

func newMirror(t *testing.T, src Source) *Mirror {
	dir := t.TempDir()
	return New(Config{
		Path:        filepath.Join(dir, "mirror.json"),
		ReportsPath: filepath.Join(dir, "reports.jsonl"),
	}, src, nil, logx.Nop())
}

func daily(msg string, hour int) reminder.Input {
	return reminder.Input{Message: msg, Kind: "absolute", Hour: hour, Recurrence: "daily"}
}

func TestWriteSnapshotListsEnabledInOrder(t *testing.T) {
	t.Parallel()
	svc := newScheduler(t)
	ctx := context.Background()
	late, _ := svc.Create(ctx, daily("late", 20))
	early, _ := svc.Create(ctx, daily("early", 16))
	off, _ := svc.Create(ctx, daily("off", 17))
	if _, err := svc.Toggle(ctx, off.ID); err != nil {
		t.Fatal(err)
	}

	m := newMirror(t, svc)
	if err := m.WriteSnapshot(); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	b, err := os.ReadFile(m.cfg.Path)
	if err != nil {
		t.Fatal(err)
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("snapshot is not JSON: %v", err)
	}
	if len(doc.Reminders) != 2 || doc.Reminders[0].ID != early.ID || doc.Reminders[1].ID != late.ID {
		t.Fatalf("snapshot = %+v", doc.Reminders)
	}
	if got := doc.Reminders[0]; got.NextFireMs != early.NextFireAt.UnixMilli() || got.Channel != reminder.ChannelPopup {
		t.Fatalf("entry = %+v", got)
	}
}

func TestIngestAdvancesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	svc := newScheduler(t)
	ctx := context.Background()
	r, err := svc.Create(ctx, daily("stretch", 16))
	if err != nil {
		t.Fatal(err)
	}
	first := r.NextFireAt // 2026-10-16 16:00

	m := newMirror(t, svc)
	lines := []string{
		`{"id":"` + r.ID + `","fired_at":"` + first.Format(time.RFC3339) + `"}`,
		`{"id":"` + r.ID + `","fired_at":` + jsonInt(first.UnixMilli()) + `}`,
		`{"id":"unknown","fired_at":"2026-10-16T16:00:00Z"}`,
		`not json`,
		``,
	}
	writeReports(t, m.cfg.ReportsPath, lines)

	n, err := m.Ingest(ctx)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 1 {
		t.Fatalf("applied %d reports, want 1", n)
	}
	got, _ := svc.Get(r.ID)
	if want := first.Add(24 * time.Hour); !got.NextFireAt.Equal(want) {
		t.Fatalf("next = %v, want %v", got.NextFireAt, want)
	}
	if len(got.History) != 1 || got.History[0].Source != reminder.SourceBackground {
		t.Fatalf("history = %+v", got.History)
	}
	if _, err := os.Stat(m.cfg.ReportsPath); !os.IsNotExist(err) {
		t.Fatalf("reports file not consumed: %v", err)
	}

	// Replaying the same report later is a no-op.
	writeReports(t, m.cfg.ReportsPath, lines[:1])
	if n, err := m.Ingest(ctx); err != nil || n != 0 {
		t.Fatalf("replay = %d, %v", n, err)
	}
}

func TestIngestWithoutReportsFile(t *testing.T) {
	t.Parallel()
	m := newMirror(t, newScheduler(t))
	if n, err := m.Ingest(context.Background()); err != nil || n != 0 {
		t.Fatalf("Ingest = %d, %v", n, err)
	}
}

func TestReportTime(t *testing.T) {
	t.Parallel()
	want := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	for _, raw := range []string{`"2026-10-17T09:00:00Z"`, jsonInt(want.UnixMilli())} {
		var rt ReportTime
		if err := json.Unmarshal([]byte(raw), &rt); err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if !rt.Equal(want) {
			t.Fatalf("%s: got %v", raw, rt.Time)
		}
	}
	var rt ReportTime
	if err := json.Unmarshal([]byte(`true`), &rt); err == nil {
		t.Fatal("bool accepted")
	}
}

func TestRunWritesOnEvents(t *testing.T) {
	t.Parallel()
	svc := newScheduler(t)
	m := newMirror(t, svc)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat(m.cfg.Path); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("initial snapshot not written")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func writeReports(t *testing.T, path string, lines []string) {
	t.Helper()
	var b []byte
	for _, l := range lines {
		b = append(b, l...)
		b = append(b, '\n')
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
