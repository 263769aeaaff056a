package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"chime/internal/eventbus"
	"chime/internal/reminder"
	"chime/internal/schedule"
	logx "chime/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	store     *reminder.Store
	presenter Presenter
	clock     clockwork.Clock
	loc       *time.Location
	bus       eventbus.Bus
	log       logx.Logger

	// base is the context handed to timer-driven work; set by Start.
	base    context.Context
	running bool

	timers map[string]clockwork.Timer
	gen    map[string]uint64
}

func New(cfg Config, store *reminder.Store, p Presenter, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if p == nil {
		p = nopPresenter{}
	}
	s := &Service{
		store:     store,
		presenter: p,
		clock:     clockwork.NewRealClock(),
		bus:       eventbus.Nop{},
		log:       log,
		base:      context.Background(),
		timers:    map[string]clockwork.Timer{},
		gen:       map[string]uint64{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.loc == nil {
		s.loc = loadLocation(cfg.Timezone, log)
	}
	return s
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location is the default zone for absolute reminders.
func (s *Service) Location() *time.Location { return s.loc }

// Now returns the scheduler clock at millisecond precision.
func (s *Service) Now() time.Time { return reminder.Millis(s.clock.Now()) }

// Start reconciles persisted reminders: every enabled reminder is armed for
// its stored next fire instant without recomputing it. Overdue reminders fire
// immediately. It returns the number of armed reminders.
func (s *Service) Start(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return len(s.timers)
	}
	s.base = context.WithoutCancel(ctx)
	s.running = true

	for _, r := range s.store.List() {
		if !r.Enabled {
			continue
		}
		if r.NextFireAt.IsZero() {
			// Never computed (hand-edited file); compute once and persist.
			next, err := s.nextLocked(r.Schedule, s.Now())
			if err != nil {
				s.log.Error("cannot compute next fire time", logx.String("id", r.ID), logx.Err(err))
				continue
			}
			r.NextFireAt = next
			if err := s.store.Replace(ctx, r); err != nil {
				s.log.Error("persist on reconcile failed", logx.String("id", r.ID), logx.Err(err))
				continue
			}
		}
		s.armLocked(r)
	}
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("reminders", s.store.Len()), logx.Int("armed", len(s.timers)))
	return len(s.timers)
}

// Stop releases every timer. Durable state is untouched, so a later Start
// resumes where this one left off.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.timers {
		s.disarmLocked(id)
	}
	s.running = false
	s.log.Info("scheduler stopped")
}

// Armed returns the ids that currently hold a live timer, sorted.
func (s *Service) Armed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armedLocked()
}

func (s *Service) armedLocked() []string {
	out := make([]string, 0, len(s.timers))
	for id := range s.timers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Timezone: s.loc.String(), Armed: s.armedLocked(), Running: s.running}
	for _, r := range s.store.List() {
		snap.Reminders++
		if r.Enabled {
			snap.Enabled++
		}
	}
	return snap
}

// armLocked cancels any existing timer for r and, if r is enabled, starts a
// new one for max(0, NextFireAt-now).
func (s *Service) armLocked(r reminder.Reminder) {
	s.disarmLocked(r.ID)
	if !r.Enabled || !s.running {
		return
	}
	delay := max(0, r.NextFireAt.Sub(s.clock.Now()))
	id, gen := r.ID, s.gen[r.ID]
	s.timers[id] = s.clock.AfterFunc(delay, func() { s.onTimer(id, gen) })
	s.log.Debug("armed", logx.String("id", id), logx.Time("at", r.NextFireAt), logx.Duration("in", delay))
	s.publish(eventbus.TypeArmed, id, r.NextFireAt)
}

// disarmLocked is idempotent. It always bumps the generation so a callback
// already in flight becomes stale.
func (s *Service) disarmLocked(id string) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.gen[id]++
}

func (s *Service) onTimer(id string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.gen[id] != gen {
		return
	}
	delete(s.timers, id)
	r, ok := s.store.Get(id)
	if !ok || !r.Enabled {
		return
	}
	firedAt := s.Now()
	if err := s.expireLocked(s.base, r, reminder.SourceTimer, firedAt); err != nil {
		s.log.Error("reminder left unarmed after failed save", logx.String("id", id), logx.Err(err))
		s.publish(eventbus.TypePersistFailed, id, err.Error())
	}
}

// expireLocked records one occurrence of r and moves it to its next state:
// relative with repeats left or any recurring absolute schedule re-arms,
// everything else retires. Timer-driven occurrences are presented first.
//
// On a failed save the store keeps the previous state and no timer is
// changed by this call.
func (s *Service) expireLocked(ctx context.Context, r reminder.Reminder, src reminder.Source, firedAt time.Time) error {
	if src == reminder.SourceTimer {
		if err := s.presenter.Present(ctx, r); err != nil {
			s.log.Warn("presentation failed", logx.String("id", r.ID), logx.Err(err))
		}
	}

	now := s.Now()
	next := r.Clone()
	next.History = append(next.History, reminder.HistoryEntry{FiredAt: firedAt, Message: r.Message, Source: src})
	next.UpdatedAt = now

	rearm := false
	switch {
	case r.Schedule.Kind == schedule.KindRelative && r.RemainingRepeats > 1:
		next.RemainingRepeats--
		rearm = true
	case r.Schedule.Kind == schedule.KindRelative:
		next.RemainingRepeats = 0
		next.Enabled = false
	case !r.Schedule.Recurring():
		next.Enabled = false
	default:
		rearm = true
	}
	if rearm {
		// A background report may carry an instant ahead of our clock.
		ref := now
		if firedAt.After(ref) {
			ref = firedAt
		}
		at, err := s.nextLocked(r.Schedule, ref)
		if err != nil {
			if !errors.Is(err, reminder.ErrInvariant) {
				return err
			}
			// The fallback instant is still usable.
			s.log.Error("occurrence calculator invariant", logx.String("id", r.ID), logx.Err(err))
		}
		next.NextFireAt = at
	}

	if err := s.store.Replace(ctx, next); err != nil {
		return err
	}

	info := FireInfo{FiredAt: firedAt, Source: src, Retired: !rearm}
	if rearm {
		info.NextFireAt = next.NextFireAt
	}
	s.log.Info("reminder fired", logx.String("id", r.ID), logx.String("source", string(src)), logx.Bool("retired", !rearm))
	if src == reminder.SourceBackground {
		s.publish(eventbus.TypeBackgroundHit, r.ID, info)
	} else {
		s.publish(eventbus.TypeFired, r.ID, info)
	}

	if rearm {
		s.armLocked(next)
	} else {
		s.disarmLocked(r.ID)
		s.publish(eventbus.TypeRetired, r.ID, nil)
	}
	return nil
}

func (s *Service) nextLocked(spec schedule.Spec, ref time.Time) (time.Time, error) {
	at, err := schedule.Next(spec, ref, s.loc)
	return reminder.Millis(at), err
}

func (s *Service) publish(typ, id string, data any) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), ReminderID: id, Data: data})
}
