package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"chime/internal/eventbus"
	"chime/internal/reminder"
	"chime/internal/schedule"
	"chime/internal/storage"
	logx "chime/pkg/logx"
)

// friday 2026-10-16 15:00 UTC
var t0 = time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)

type recorder struct {
	mu   sync.Mutex
	got  []reminder.Reminder
	fail error
}

func (r *recorder) Present(_ context.Context, rem reminder.Reminder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, rem)
	return r.fail
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

type harness struct {
	svc    *Service
	clock  *clockwork.FakeClock
	mem    *storage.Memory
	pres   *recorder
	bus    eventbus.Bus
	events <-chan eventbus.Event
}

func newHarness(t *testing.T, seed ...reminder.Reminder) *harness {
	t.Helper()
	mem := storage.NewMemory(seed...)
	store, err := reminder.OpenStore(context.Background(), mem)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	h := &harness{clock: clockwork.NewFakeClockAt(t0), mem: mem, pres: &recorder{}, bus: eventbus.New()}
	events, unsub := h.bus.Subscribe(256)
	t.Cleanup(unsub)
	h.events = events
	h.svc = New(Config{}, store, h.pres, logx.Nop(), WithClock(h.clock), WithLocation(time.UTC), WithBus(h.bus))
	h.svc.Start(context.Background())
	t.Cleanup(h.svc.Stop)
	return h
}

// step advances the clock by d onto a timer deadline and waits until the
// callback it releases has finished.
func (h *harness) step(t *testing.T, d time.Duration) eventbus.Event {
	t.Helper()
	h.clock.Advance(d)
	return h.awaitFire(t)
}

// awaitFire returns the next fired or persist_failed event. Both are
// published under the scheduler lock, so any locked call afterwards waits for
// the callback to complete.
func (h *harness) awaitFire(t *testing.T) eventbus.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-h.events:
			if e.Type != eventbus.TypeFired && e.Type != eventbus.TypePersistFailed {
				continue
			}
			_ = h.svc.Armed()
			return e
		case <-timeout:
			t.Fatal("no timer fired")
			return eventbus.Event{}
		}
	}
}

// pending waits until exactly n timers are outstanding on the fake clock.
func (h *harness) pending(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("want %d pending timers: %v", n, err)
	}
}

func relative(msg string, minutes, repeat int) reminder.Input {
	return reminder.Input{Message: msg, Kind: "relative", DelayMinutes: minutes, RepeatCount: repeat}
}

func mustCreate(t *testing.T, h *harness, in reminder.Input) reminder.Reminder {
	t.Helper()
	r, err := h.svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return r
}

func mustGet(t *testing.T, h *harness, id string) reminder.Reminder {
	t.Helper()
	r, err := h.svc.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return r
}


func TestRelativeOnceFiresThenRetires(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := mustCreate(t, h, relative("drink water", 5, 0))
	if want := t0.Add(5 * time.Minute); !r.NextFireAt.Equal(want) {
		t.Fatalf("next = %v, want %v", r.NextFireAt, want)
	}
	if r.RemainingRepeats != 1 || len(h.svc.Armed()) != 1 {
		t.Fatalf("remaining = %d, armed = %v", r.RemainingRepeats, h.svc.Armed())
	}

	h.clock.Advance(4 * time.Minute)
	if h.pres.count() != 0 {
		t.Fatal("fired early")
	}
	h.step(t, time.Minute)
	if h.pres.count() != 1 {
		t.Fatalf("presented %d times, want 1", h.pres.count())
	}
	got := mustGet(t, h, r.ID)
	if got.Enabled || len(got.History) != 1 || got.History[0].Source != reminder.SourceTimer {
		t.Fatalf("after fire: %+v", got)
	}
	if !got.History[0].FiredAt.Equal(t0.Add(5 * time.Minute)) {
		t.Fatalf("fired_at = %v", got.History[0].FiredAt)
	}
	if len(h.svc.Armed()) != 0 {
		t.Fatalf("armed = %v", h.svc.Armed())
	}
	h.pending(t, 0)
}

func TestRelativeRepeatsNTimes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := mustCreate(t, h, relative("stretch", 10, 3))

	for range 3 {
		h.step(t, 10*time.Minute)
	}
	h.pending(t, 0)
	h.clock.Advance(24 * time.Hour)
	if h.pres.count() != 3 {
		t.Fatalf("presented %d times, want 3", h.pres.count())
	}
	got := mustGet(t, h, r.ID)
	if got.Enabled || got.RemainingRepeats != 0 || len(got.History) != 3 {
		t.Fatalf("after repeats: enabled=%v remaining=%d history=%d", got.Enabled, got.RemainingRepeats, len(got.History))
	}
	for i, e := range got.History {
		if want := t0.Add(time.Duration(i+1) * 10 * time.Minute); !e.FiredAt.Equal(want) {
			t.Fatalf("history[%d] = %v, want %v", i, e.FiredAt, want)
		}
	}
}

func TestDisableBeforeExpiryNeverFires(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := mustCreate(t, h, relative("x", 5, 0))
	h.clock.Advance(time.Minute)
	off, err := h.svc.Toggle(context.Background(), r.ID)
	if err != nil || off.Enabled {
		t.Fatalf("Toggle = %+v, %v", off, err)
	}
	h.pending(t, 0)
	h.clock.Advance(time.Hour)
	if h.pres.count() != 0 {
		t.Fatal("disabled reminder fired")
	}
	if len(h.svc.Armed()) != 0 {
		t.Fatalf("timer not released: armed=%v", h.svc.Armed())
	}
}

func TestStaleCallbackIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := mustCreate(t, h, relative("x", 5, 0))

	h.svc.mu.Lock()
	gen := h.svc.gen[r.ID]
	h.svc.mu.Unlock()

	if _, err := h.svc.Toggle(context.Background(), r.ID); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if _, err := h.svc.Toggle(context.Background(), r.ID); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	// A callback from the first arming wakes up late.
	h.svc.onTimer(r.ID, gen)
	if h.pres.count() != 0 {
		t.Fatal("stale callback presented")
	}
	if got := h.svc.Armed(); len(got) != 1 || got[0] != r.ID {
		t.Fatalf("armed = %v", got)
	}
	h.pending(t, 1)
}

func TestDeleteReleasesTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := mustCreate(t, h, relative("x", 5, 0))
	if err := h.svc.Delete(context.Background(), r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	h.pending(t, 0)
	h.clock.Advance(time.Hour)
	if h.pres.count() != 0 {
		t.Fatalf("presented=%d", h.pres.count())
	}
	if _, err := h.svc.Get(r.ID); !errors.Is(err, reminder.ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
	if err := h.svc.Delete(context.Background(), r.ID); !errors.Is(err, reminder.ErrNotFound) {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestPresentationFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.pres.fail = &reminder.PresentationError{Sink: "popup", Err: errors.New("no display")}
	r := mustCreate(t, h, relative("x", 1, 2))
	h.step(t, time.Minute)
	h.step(t, time.Minute)
	got := mustGet(t, h, r.ID)
	if len(got.History) != 2 || got.Enabled {
		t.Fatalf("history=%d enabled=%v", len(got.History), got.Enabled)
	}
}

func TestPersistFailureOnFireLeavesReminderUnarmed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := mustCreate(t, h, relative("x", 5, 3))
	h.mem.FailSave(errors.New("disk full"))

	e := h.step(t, 5*time.Minute)
	if e.Type != eventbus.TypePersistFailed || e.ReminderID != r.ID {
		t.Fatalf("event = %+v, want persist_failed", e)
	}
	if h.pres.count() != 1 {
		t.Fatalf("presented %d times, want 1", h.pres.count())
	}
	if len(h.svc.Armed()) != 0 {
		t.Fatalf("armed = %v", h.svc.Armed())
	}
	got := mustGet(t, h, r.ID)
	if !got.Enabled || len(got.History) != 0 || got.RemainingRepeats != 3 {
		t.Fatalf("store diverged: %+v", got)
	}
	h.pending(t, 0)
}

func TestPersistFailureIsReturnedToCaller(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.mem.FailSave(errors.New("read-only"))
	_, err := h.svc.Create(context.Background(), relative("x", 5, 0))
	if !errors.Is(err, reminder.ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if len(h.svc.List()) != 0 || len(h.svc.Armed()) != 0 {
		t.Fatal("failed create left state behind")
	}

	h.mem.FailSave(nil)
	r := mustCreate(t, h, relative("y", 5, 0))
	h.mem.FailSave(errors.New("read-only"))
	if err := h.svc.Delete(context.Background(), r.ID); !errors.Is(err, reminder.ErrPersistence) {
		t.Fatalf("Delete err = %v", err)
	}
	if got := h.svc.Armed(); len(got) != 1 {
		t.Fatalf("failed delete should keep the timer, armed = %v", got)
	}
}

func TestValidationErrorsSurface(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.svc.Create(context.Background(), reminder.Input{Message: "x", Kind: "absolute", Recurrence: "weekly"})
	if !errors.Is(err, reminder.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
	_, err = h.svc.Create(context.Background(), reminder.Input{Message: "x", Kind: "relative", DelayHours: 3_000_000, RepeatCount: 3})
	if !errors.Is(err, reminder.ErrValidation) {
		t.Fatalf("oversized delay: err = %v", err)
	}
	if h.mem.Saves() != 0 {
		t.Fatal("invalid input reached storage")
	}
}

func TestStartArmsPersistedInstant(t *testing.T) {
	t.Parallel()
	persisted := t0.Add(90 * time.Second)
	seed := []reminder.Reminder{
		{
			ID:         "daily",
			Message:    "journal",
			Schedule:   schedule.Spec{Kind: schedule.KindAbsolute, At: schedule.TimeOfDay{Hour: 9}, Recurrence: schedule.RecurDaily},
			NextFireAt: persisted,
			Enabled:    true,
		},
		{
			ID:               "overdue",
			Message:          "late",
			Schedule:         schedule.Spec{Kind: schedule.KindRelative, Delay: schedule.Delay{Minutes: 1}},
			RemainingRepeats: 1,
			NextFireAt:       t0.Add(-time.Hour),
			Enabled:          true,
		},
		{
			ID:         "off",
			Message:    "disabled",
			Schedule:   schedule.Spec{Kind: schedule.KindRelative, Delay: schedule.Delay{Minutes: 1}},
			NextFireAt: t0.Add(time.Minute),
		},
	}
	h := newHarness(t, seed...)

	// The overdue timer is due at once.
	if e := h.step(t, 0); e.ReminderID != "overdue" {
		t.Fatalf("first fire = %q, want overdue", e.ReminderID)
	}
	if h.pres.count() != 1 {
		t.Fatalf("presented %d, want 1", h.pres.count())
	}
	if got := h.svc.Armed(); len(got) != 1 || got[0] != "daily" {
		t.Fatalf("armed = %v", got)
	}

	h.clock.Advance(89 * time.Second)
	if h.pres.count() != 1 {
		t.Fatal("daily fired before its persisted instant")
	}
	if e := h.step(t, time.Second); e.ReminderID != "daily" {
		t.Fatalf("second fire = %q, want daily", e.ReminderID)
	}
	got := mustGet(t, h, "daily")
	if want := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC); !got.NextFireAt.Equal(want) || !got.Enabled {
		t.Fatalf("daily next = %v enabled=%v, want %v", got.NextFireAt, got.Enabled, want)
	}
}

func TestWeeklyReArms(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := mustCreate(t, h, reminder.Input{
		Message: "standup", Kind: "absolute", Hour: 9, Recurrence: "weekly", Weekdays: []int{1, 3},
	})
	monday := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	if !r.NextFireAt.Equal(monday) {
		t.Fatalf("next = %v, want %v", r.NextFireAt, monday)
	}
	h.step(t, monday.Sub(t0))
	if h.pres.count() != 1 {
		t.Fatalf("presented %d", h.pres.count())
	}
	got := mustGet(t, h, r.ID)
	if want := time.Date(2026, 10, 21, 9, 0, 0, 0, time.UTC); !got.NextFireAt.Equal(want) || !got.Enabled {
		t.Fatalf("next = %v enabled=%v", got.NextFireAt, got.Enabled)
	}
	if len(h.svc.Armed()) != 1 {
		t.Fatal("weekly reminder not re-armed")
	}
	times, err := h.svc.Preview(r.ID, 3)
	if err != nil || len(times) != 3 || !times[2].Equal(time.Date(2026, 10, 28, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("Preview = %v, %v", times, err)
	}
}

func TestAbsoluteNoneRetires(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := mustCreate(t, h, reminder.Input{Message: "dentist", Kind: "absolute", Hour: 16, Minute: 30})
	if want := t0.Add(90 * time.Minute); !r.NextFireAt.Equal(want) {
		t.Fatalf("next = %v, want %v", r.NextFireAt, want)
	}
	h.step(t, 90*time.Minute)
	h.pending(t, 0)
	h.clock.Advance(48 * time.Hour)
	if h.pres.count() != 1 || mustGet(t, h, r.ID).Enabled {
		t.Fatalf("presented %d", h.pres.count())
	}
}

func TestToggleEnableResetsRepeats(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := mustCreate(t, h, relative("x", 10, 2))
	h.step(t, 10*time.Minute)
	if got := mustGet(t, h, r.ID); got.RemainingRepeats != 1 {
		t.Fatalf("remaining = %d", got.RemainingRepeats)
	}
	ctx := context.Background()
	if _, err := h.svc.Toggle(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(3 * time.Minute)
	on, err := h.svc.Toggle(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if on.RemainingRepeats != 2 || !on.NextFireAt.Equal(h.clock.Now().Add(10*time.Minute)) {
		t.Fatalf("after enable: remaining=%d next=%v", on.RemainingRepeats, on.NextFireAt)
	}
}

func TestUpdateRearms(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := mustCreate(t, h, relative("x", 5, 0))
	h.clock.Advance(2 * time.Minute)
	up, err := h.svc.Update(context.Background(), r.ID, relative("y", 30, 0))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if up.ID != r.ID || up.Message != "y" || !up.CreatedAt.Equal(r.CreatedAt) {
		t.Fatalf("update = %+v", up)
	}
	h.pending(t, 1)
	h.clock.Advance(10 * time.Minute)
	if h.pres.count() != 0 {
		t.Fatal("old timer survived update")
	}
	h.step(t, 20*time.Minute)
	if h.pres.count() != 1 || h.pres.got[0].Message != "y" {
		t.Fatalf("presented %d", h.pres.count())
	}
}

func TestUpdateWithoutEnabledKeepsRetiredState(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := mustCreate(t, h, relative("x", 5, 0))
	h.step(t, 5*time.Minute)

	up, err := h.svc.Update(context.Background(), r.ID, relative("x again", 5, 0))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if up.Enabled || len(h.svc.Armed()) != 0 {
		t.Fatalf("retired reminder re-enabled by update: %+v", up)
	}
}

func TestRecordBackgroundFire(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	r := mustCreate(t, h, reminder.Input{Message: "pill", Kind: "absolute", Hour: 9, Recurrence: "daily"})

	ok, err := h.svc.RecordBackgroundFire(ctx, r.ID, r.NextFireAt.Add(-time.Minute))
	if err != nil || ok {
		t.Fatalf("early report = %v, %v", ok, err)
	}
	if ok, _ := h.svc.RecordBackgroundFire(ctx, "nope", r.NextFireAt); ok {
		t.Fatal("unknown id accepted")
	}

	ok, err = h.svc.RecordBackgroundFire(ctx, r.ID, r.NextFireAt)
	if err != nil || !ok {
		t.Fatalf("report = %v, %v", ok, err)
	}
	got := mustGet(t, h, r.ID)
	if len(got.History) != 1 || got.History[0].Source != reminder.SourceBackground {
		t.Fatalf("history = %+v", got.History)
	}
	if !got.NextFireAt.Equal(r.NextFireAt.AddDate(0, 0, 1)) {
		t.Fatalf("next = %v", got.NextFireAt)
	}
	if h.pres.count() != 0 {
		t.Fatal("background fire was presented again")
	}
	if ok, _ := h.svc.RecordBackgroundFire(ctx, r.ID, r.NextFireAt); ok {
		t.Fatal("replayed report accepted")
	}
	if len(h.svc.Armed()) != 1 {
		t.Fatal("reminder not re-armed after background fire")
	}
}

func TestStopReleasesTimersAndStartResumes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := mustCreate(t, h, relative("x", 5, 0))
	h.svc.Stop()
	h.pending(t, 0)
	h.clock.Advance(time.Minute)
	if n := h.svc.Start(context.Background()); n != 1 {
		t.Fatalf("Start armed %d", n)
	}
	h.step(t, 4*time.Minute)
	if h.pres.count() != 1 {
		t.Fatalf("presented %d", h.pres.count())
	}
	if got := mustGet(t, h, r.ID); got.Enabled {
		t.Fatal("still enabled")
	}
}
