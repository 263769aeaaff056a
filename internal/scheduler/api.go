package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chime/internal/eventbus"
	"chime/internal/reminder"
	"chime/internal/schedule"
	logx "chime/pkg/logx"
)

// Create validates in, persists the new reminder and arms it.
func (s *Service) Create(ctx context.Context, in reminder.Input) (reminder.Reminder, error) {
	d, err := in.Validate()
	if err != nil {
		return reminder.Reminder{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	r := reminder.Reminder{
		ID:        reminder.NewID(),
		Message:   d.Message,
		Schedule:  d.Schedule,
		Enabled:   d.Enabled,
		Channel:   d.Channel,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.resetLocked(&r, now); err != nil {
		return reminder.Reminder{}, err
	}
	if err := s.store.Insert(ctx, r); err != nil {
		return reminder.Reminder{}, err
	}
	s.log.Info("reminder created", logx.String("id", r.ID), logx.String("schedule", r.Schedule.Describe()), logx.Time("next", r.NextFireAt))
	s.publish(eventbus.TypeCreated, r.ID, nil)
	s.armLocked(r)
	return r.Clone(), nil
}

// Update replaces the editable fields of an existing reminder, recomputes its
// next fire instant from now and re-arms it. History and creation time are
// kept. A nil in.Enabled keeps the current enabled state.
func (s *Service) Update(ctx context.Context, id string, in reminder.Input) (reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.store.Get(id)
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("%w: %s", reminder.ErrNotFound, id)
	}
	if in.Enabled == nil {
		en := cur.Enabled
		in.Enabled = &en
	}
	d, err := in.Validate()
	if err != nil {
		return reminder.Reminder{}, err
	}

	now := s.Now()
	r := cur.Clone()
	r.Message = d.Message
	r.Schedule = d.Schedule
	r.Channel = d.Channel
	r.Enabled = d.Enabled
	r.UpdatedAt = now
	if err := s.resetLocked(&r, now); err != nil {
		return reminder.Reminder{}, err
	}
	if err := s.store.Replace(ctx, r); err != nil {
		return reminder.Reminder{}, err
	}
	s.publish(eventbus.TypeUpdated, r.ID, nil)
	s.armLocked(r)
	return r.Clone(), nil
}

// Delete disarms and removes a reminder. If the removal cannot be persisted
// the reminder is re-armed and the error returned.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", reminder.ErrNotFound, id)
	}
	s.disarmLocked(id)
	if err := s.store.Remove(ctx, id); err != nil {
		s.armLocked(cur)
		return err
	}
	delete(s.gen, id)
	s.log.Info("reminder deleted", logx.String("id", id))
	s.publish(eventbus.TypeDeleted, id, nil)
	return nil
}

// Toggle flips the enabled flag. Enabling recomputes the next fire instant
// from now (resetting repeats) and arms; disabling disarms.
func (s *Service) Toggle(ctx context.Context, id string) (reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.store.Get(id)
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("%w: %s", reminder.ErrNotFound, id)
	}
	now := s.Now()
	r := cur.Clone()
	r.Enabled = !cur.Enabled
	r.UpdatedAt = now
	if r.Enabled {
		if err := s.resetLocked(&r, now); err != nil {
			return reminder.Reminder{}, err
		}
	}
	if err := s.store.Replace(ctx, r); err != nil {
		return reminder.Reminder{}, err
	}
	s.publish(eventbus.TypeToggled, r.ID, r.Enabled)
	if r.Enabled {
		s.armLocked(r)
	} else {
		s.disarmLocked(r.ID)
	}
	return r.Clone(), nil
}

func (s *Service) Get(id string) (reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.store.Get(id)
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("%w: %s", reminder.ErrNotFound, id)
	}
	return r, nil
}

func (s *Service) List() []reminder.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.List()
}

// History returns the fire log of one reminder, oldest first.
func (s *Service) History(id string) ([]reminder.HistoryEntry, error) {
	r, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return r.History, nil
}

// RecordBackgroundFire applies an occurrence that an out-of-process waker
// already presented. It reports false, with no error, for unknown or
// disabled ids and for instants before the reminder's current next fire
// time, so replaying the same report twice is harmless.
func (s *Service) RecordBackgroundFire(ctx context.Context, id string, firedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.store.Get(id)
	if !ok || !r.Enabled {
		return false, nil
	}
	firedAt = reminder.Millis(firedAt)
	if firedAt.Before(r.NextFireAt) {
		return false, nil
	}
	if err := s.expireLocked(ctx, r, reminder.SourceBackground, firedAt); err != nil {
		return false, err
	}
	return true, nil
}

// Preview lists upcoming occurrences of a stored reminder.
func (s *Service) Preview(id string, n int) ([]time.Time, error) {
	r, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !r.Enabled {
		return nil, nil
	}
	switch {
	case r.Schedule.Kind == schedule.KindRelative:
		n = min(n, r.RemainingRepeats)
	case !r.Schedule.Recurring():
		n = min(n, 1)
	}
	if n <= 0 {
		return nil, nil
	}
	out := []time.Time{r.NextFireAt}
	if n == 1 {
		return out, nil
	}
	rest, err := schedule.Preview(r.Schedule, r.NextFireAt, n-1, s.loc)
	if err != nil && !errors.Is(err, reminder.ErrInvariant) {
		return nil, err
	}
	return append(out, rest...), nil
}

// resetLocked sets the repeat counter and next fire instant as if r had just
// been created at now.
func (s *Service) resetLocked(r *reminder.Reminder, now time.Time) error {
	r.RemainingRepeats = 0
	if r.Schedule.Kind == schedule.KindRelative {
		r.RemainingRepeats = r.TotalFires()
	}
	next, err := s.nextLocked(r.Schedule, now)
	if err != nil {
		return err
	}
	r.NextFireAt = next
	return nil
}
