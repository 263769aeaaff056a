// Package reminder holds the reminder model, input validation, the error
// taxonomy shared by the daemon, and the in-memory Store that mirrors a
// persistence Backend.
package reminder

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"chime/internal/schedule"
)

// Channel is a presentation hint for the notifier.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelPopup Channel = "popup"
	ChannelBoth  Channel = "both"
)

// ParseChannel normalizes a channel name; empty means popup.
func ParseChannel(s string) (Channel, bool) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case "", ChannelPopup:
		return ChannelPopup, true
	case ChannelPush:
		return ChannelPush, true
	case ChannelBoth:
		return ChannelBoth, true
	default:
		return "", false
	}
}

// Wants reports whether the channel routes to sink ("push" or "popup").
func (c Channel) Wants(sink Channel) bool {
	return c == ChannelBoth || c == sink || (c == "" && sink == ChannelPopup)
}

// Source records what produced a history entry.
type Source string

const (
	SourceTimer      Source = "timer"
	SourceBackground Source = "background"
)

type HistoryEntry struct {
	FiredAt time.Time `json:"fired_at"`
	Message string    `json:"message"`
	Source  Source    `json:"source"`
}

// Reminder is the persisted record.
type Reminder struct {
	ID               string         `json:"id"`
	Message          string         `json:"message"`
	Schedule         schedule.Spec  `json:"schedule"`
	RemainingRepeats int            `json:"remaining_repeats"`
	NextFireAt       time.Time      `json:"next_fire_at"`
	Enabled          bool           `json:"enabled"`
	Channel          Channel        `json:"channel"`
	History          []HistoryEntry `json:"history,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so callers never share slices with the Store.
func (r Reminder) Clone() Reminder {
	cp := r
	cp.Schedule = r.Schedule.Clone()
	if r.History != nil {
		cp.History = append([]HistoryEntry(nil), r.History...)
	}
	return cp
}

// TotalFires is the number of times a relative reminder fires before retiring.
func (r Reminder) TotalFires() int {
	return max(1, r.Schedule.RepeatCount)
}

// NewID returns a fresh lexicographically sortable id.
func NewID() string { return ulid.Make().String() }

// Millis truncates t to millisecond precision and strips the monotonic clock
// reading, matching what survives a storage round trip.
func Millis(t time.Time) time.Time {
	return t.Round(0).Truncate(time.Millisecond)
}
