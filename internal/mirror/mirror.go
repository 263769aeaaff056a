// Package mirror hands the armed reminders to an external waker that can
// deliver them while the daemon is not running, and feeds the waker's fire
// reports back into the scheduler.
//
// The snapshot file is rewritten on every reminder.* event. The waker
// appends one JSON object per line to the reports file:
//
//	{"id":"01J...","fired_at":"2026-10-17T09:00:00Z"}
//
// fired_at may also be epoch milliseconds.
package mirror

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chime/internal/eventbus"
	"chime/internal/reminder"
	logx "chime/pkg/logx"
)

const defaultIngestEvery = time.Minute

type Config struct {
	Path        string
	ReportsPath string
	IngestEvery time.Duration
}

// Source is the scheduler surface the mirror needs.
type Source interface {
	List() []reminder.Reminder
	RecordBackgroundFire(ctx context.Context, id string, firedAt time.Time) (bool, error)
}

// Entry is one reminder in the snapshot file.
type Entry struct {
	ID         string           `json:"id"`
	Message    string           `json:"message"`
	Channel    reminder.Channel `json:"channel"`
	NextFireAt time.Time        `json:"next_fire_at"`
	// Epoch milliseconds of NextFireAt, for wakers without a date parser.
	NextFireMs int64 `json:"next_fire_ms"`
}

type document struct {
	GeneratedAt time.Time `json:"generated_at"`
	Reminders   []Entry   `json:"reminders"`
}

type Mirror struct {
	cfg Config
	src Source
	bus eventbus.Bus
	log logx.Logger

	// wmu serializes snapshot writes and ingest runs.
	wmu sync.Mutex
}

func New(cfg Config, src Source, bus eventbus.Bus, log logx.Logger) *Mirror {
	if cfg.IngestEvery <= 0 {
		cfg.IngestEvery = defaultIngestEvery
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Mirror{cfg: cfg, src: src, bus: bus, log: log}
}

// Run writes an initial snapshot, ingests pending reports, then keeps both
// current until ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	events, unsub := m.bus.Subscribe(64)
	defer unsub()

	if n, err := m.Ingest(ctx); err != nil {
		m.log.Warn("initial report ingest failed", logx.Err(err))
	} else if n > 0 {
		m.log.Info("ingested background fires", logx.Int("count", n))
	}
	if err := m.WriteSnapshot(); err != nil {
		m.log.Warn("mirror snapshot failed", logx.Err(err))
	}

	c := cron.New()
	job := cron.FuncJob(func() {
		n, err := m.Ingest(ctx)
		if err != nil {
			m.log.Warn("report ingest failed", logx.Err(err))
			return
		}
		if n > 0 {
			m.log.Info("ingested background fires", logx.Int("count", n))
		}
	})
	c.Schedule(cron.Every(m.cfg.IngestEvery), job)
	c.Start()
	defer func() { <-c.Stop().Done() }()

	m.log.Info("mirror started", logx.String("path", m.cfg.Path), logx.Duration("ingest_every", m.cfg.IngestEvery))
	eventbus.Consume(ctx, events, "reminder.", func(eventbus.Event) {
		if err := m.WriteSnapshot(); err != nil {
			m.log.Warn("mirror snapshot failed", logx.Err(err))
		}
	})
	return nil
}

// Snapshot returns the enabled reminders ordered by next fire instant.
func (m *Mirror) Snapshot() []Entry {
	var out []Entry
	for _, r := range m.src.List() {
		if !r.Enabled || r.NextFireAt.IsZero() {
			continue
		}
		out = append(out, Entry{
			ID:         r.ID,
			Message:    r.Message,
			Channel:    r.Channel,
			NextFireAt: r.NextFireAt,
			NextFireMs: r.NextFireAt.UnixMilli(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NextFireAt.Before(out[j].NextFireAt) })
	return out
}

// WriteSnapshot atomically replaces the snapshot file.
func (m *Mirror) WriteSnapshot() error {
	m.wmu.Lock()
	defer m.wmu.Unlock()

	doc := document{GeneratedAt: time.Now().UTC(), Reminders: m.Snapshot()}
	if doc.Reminders == nil {
		doc.Reminders = []Entry{}
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(m.cfg.Path, append(b, '\n'))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Report is one line of the reports file.
type Report struct {
	ID      string     `json:"id"`
	FiredAt ReportTime `json:"fired_at"`
}

// ReportTime accepts an RFC 3339 string or epoch milliseconds.
type ReportTime struct{ time.Time }

func (t *ReportTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return t.Time.UnmarshalJSON(b)
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("fired_at: %w", err)
	}
	t.Time = time.UnixMilli(ms)
	return nil
}

// Ingest claims the reports file and records every valid report. It returns
// how many advanced a reminder. Duplicate and stale reports are no-ops.
func (m *Mirror) Ingest(ctx context.Context) (int, error) {
	m.wmu.Lock()
	defer m.wmu.Unlock()

	claimed := m.cfg.ReportsPath + ".ingest"
	// A leftover claim means a previous run died mid-way; finish it first.
	if _, err := os.Stat(claimed); errors.Is(err, fs.ErrNotExist) {
		if err := os.Rename(m.cfg.ReportsPath, claimed); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return 0, nil
			}
			return 0, err
		}
	}

	f, err := os.Open(claimed)
	if err != nil {
		return 0, err
	}
	var reports []Report
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var r Report
		if err := json.Unmarshal(raw, &r); err != nil || r.ID == "" || r.FiredAt.IsZero() {
			m.log.Warn("skipping malformed report", logx.Int("line", line), logx.Err(err))
			continue
		}
		reports = append(reports, r)
	}
	scanErr := sc.Err()
	_ = f.Close()
	if scanErr != nil {
		return 0, scanErr
	}

	// Oldest first so a recurring reminder advances occurrence by occurrence.
	sort.SliceStable(reports, func(i, j int) bool { return reports[i].FiredAt.Before(reports[j].FiredAt.Time) })
	applied := 0
	for _, r := range reports {
		ok, err := m.src.RecordBackgroundFire(ctx, r.ID, r.FiredAt.Time)
		if err != nil {
			// Keep the claim so the remaining reports are retried next run.
			return applied, fmt.Errorf("record %s: %w", r.ID, err)
		}
		if ok {
			applied++
		}
	}
	if err := os.Remove(claimed); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return applied, err
	}
	return applied, nil
}
