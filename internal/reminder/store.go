package reminder

import (
	"context"
	"fmt"
	"sync"
)

// Backend is the whole-list persistence boundary implemented by the storage
// drivers.
type Backend interface {
	Load(ctx context.Context) ([]Reminder, error)
	Save(ctx context.Context, items []Reminder) error
	Close() error
}

// Store keeps the authoritative in-memory list and writes the whole list
// through to the Backend on every mutation. A failed save restores the
// previous list, so memory never runs ahead of disk.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	items   []Reminder
}

// OpenStore loads the persisted list. Duplicate ids in the stored data are
// rejected with ErrDuplicateID.
func OpenStore(ctx context.Context, b Backend) (*Store, error) {
	items, err := b.Load(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}
	seen := make(map[string]struct{}, len(items))
	for _, r := range items {
		if _, ok := seen[r.ID]; ok {
			return nil, &PersistenceError{Op: "load", Err: fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)}
		}
		seen[r.ID] = struct{}{}
	}
	return &Store{backend: b, items: items}, nil
}

// List returns copies of all reminders in insertion order.
func (s *Store) List() []Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Reminder, len(s.items))
	for i, r := range s.items {
		out[i] = r.Clone()
	}
	return out
}

func (s *Store) Get(id string) (Reminder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.items[i].Clone(), true
	}
	return Reminder{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) Insert(ctx context.Context, r Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(r.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
	}
	next := append(s.snapshotLocked(), r.Clone())
	return s.commitLocked(ctx, "insert", next)
}

// Replace overwrites the reminder with the same id.
func (s *Store) Replace(ctx context.Context, r Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(r.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	next := s.snapshotLocked()
	next[i] = r.Clone()
	return s.commitLocked(ctx, "update", next)
}

func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := s.snapshotLocked()
	next = append(next[:i], next[i+1:]...)
	return s.commitLocked(ctx, "delete", next)
}

func (s *Store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() []Reminder {
	out := make([]Reminder, len(s.items), len(s.items)+1)
	copy(out, s.items)
	return out
}

func (s *Store) commitLocked(ctx context.Context, op string, next []Reminder) error {
	if err := s.backend.Save(ctx, next); err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	s.items = next
	return nil
}
