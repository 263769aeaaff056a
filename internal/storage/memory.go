package storage

import (
	"context"
	"sync"

	"chime/internal/reminder"
)

// Memory is an in-process Backend. FailSave makes subsequent saves fail,
// which tests use to exercise persistence error paths.
type Memory struct {
	mu       sync.Mutex
	items    []reminder.Reminder
	saves    int
	failSave error
}

func NewMemory(seed ...reminder.Reminder) *Memory {
	m := &Memory{}
	for _, r := range seed {
		m.items = append(m.items, r.Clone())
	}
	return m
}

func (m *Memory) Load(ctx context.Context) ([]reminder.Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAll(m.items), nil
}

func (m *Memory) Save(ctx context.Context, items []reminder.Reminder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	m.items = cloneAll(items)
	m.saves++
	return nil
}

func (m *Memory) Close() error { return nil }

// FailSave sets the error returned by Save; nil restores normal behavior.
func (m *Memory) FailSave(err error) {
	m.mu.Lock()
	m.failSave = err
	m.mu.Unlock()
}

// Saves reports the number of successful saves.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func cloneAll(in []reminder.Reminder) []reminder.Reminder {
	if in == nil {
		return nil
	}
	out := make([]reminder.Reminder, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
