package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"chime/internal/eventbus"
	"chime/internal/reminder"
)

type Config struct {
	// Timezone is an IANA name used for absolute reminders without an explicit
	// offset. Empty means the host's local zone.
	Timezone string
}

// Presenter shows a fired reminder to the user. Implementations must not block.
type Presenter interface {
	Present(ctx context.Context, r reminder.Reminder) error
}

type PresenterFunc func(ctx context.Context, r reminder.Reminder) error

func (f PresenterFunc) Present(ctx context.Context, r reminder.Reminder) error { return f(ctx, r) }

type nopPresenter struct{}

func (nopPresenter) Present(context.Context, reminder.Reminder) error { return nil }

type Option func(*Service)

// WithClock replaces the real clock; tests pass a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

// WithLocation overrides Config.Timezone.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

// FireInfo is the Data payload of fired and background events.
type FireInfo struct {
	FiredAt    time.Time       `json:"fired_at"`
	Source     reminder.Source `json:"source"`
	NextFireAt time.Time       `json:"next_fire_at,omitzero"`
	Retired    bool            `json:"retired"`
}

// Snapshot summarizes scheduler state for status output.
type Snapshot struct {
	Timezone  string   `json:"timezone"`
	Reminders int      `json:"reminders"`
	Enabled   int      `json:"enabled"`
	Armed     []string `json:"armed"`
	Running   bool     `json:"running"`
}
