package schedule

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind selects how the next fire instant is derived.
type Kind string

const (
	KindRelative Kind = "relative"
	KindAbsolute Kind = "absolute"
)

// Recurrence applies to absolute schedules only.
type Recurrence string

const (
	RecurNone    Recurrence = "none"
	RecurDaily   Recurrence = "daily"
	RecurWeekly  Recurrence = "weekly"
	RecurMonthly Recurrence = "monthly"
)

// ErrInvariant marks an internal logic error (for example an exhausted weekly scan).
var ErrInvariant = errors.New("invariant violation")

// InvariantError carries the details of an ErrInvariant failure.
type InvariantError struct {
	What string
}

func (e *InvariantError) Error() string        { return "invariant violation: " + e.What }
func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

// MaxDelay bounds a relative offset; larger values are rejected at input.
const MaxDelay = 10 * 366 * 24 * time.Hour

// Delay is a relative offset from the moment a reminder is (re)armed.
type Delay struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// Duration converts d, clamping at MaxDelay so that hand-edited storage can
// never produce an overflowed offset.
func (d Delay) Duration() time.Duration {
	const maxH, maxM = int(MaxDelay / time.Hour), int(MaxDelay / time.Minute)
	if d.Hours > maxH || d.Minutes > maxM {
		return MaxDelay
	}
	return min(time.Duration(d.Hours)*time.Hour+time.Duration(d.Minutes)*time.Minute, MaxDelay)
}

// TimeOfDay is a wall-clock hour and minute.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// ParseWeekdays parses a comma separated list of weekday numbers (0=Sunday..6=Saturday).
func ParseWeekdays(s string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid weekday %q (use 0=Sunday..6=Saturday)", p)
		}
		out = append(out, time.Weekday(n))
	}
	return out, nil
}

// Spec is the full schedule configuration of a reminder.
//
// Relative specs use Delay and RepeatCount. Absolute specs use At, Recurrence,
// Weekdays (weekly), DayOfMonth (monthly) and the optional TZOffsetHours.
type Spec struct {
	Kind Kind `json:"kind"`

	Delay       Delay `json:"delay,omitzero"`
	RepeatCount int   `json:"repeat_count,omitempty"`

	At            TimeOfDay      `json:"at,omitzero"`
	Recurrence    Recurrence     `json:"recurrence,omitempty"`
	Weekdays      []time.Weekday `json:"weekdays,omitempty"`
	DayOfMonth    int            `json:"day_of_month,omitempty"`
	TZOffsetHours *float64       `json:"tz_offset_hours,omitempty"`
}

// Recurring reports whether an absolute spec keeps firing after an occurrence.
func (s Spec) Recurring() bool {
	if s.Kind != KindAbsolute {
		return false
	}
	switch s.Recurrence {
	case RecurDaily, RecurWeekly, RecurMonthly:
		return true
	default:
		return false
	}
}

// Location returns the zone used for calendar arithmetic: the fixed zone of
// TZOffsetHours when set, otherwise def (time.Local when nil).
func (s Spec) Location(def *time.Location) *time.Location {
	if s.TZOffsetHours != nil {
		secs := int(math.Round(*s.TZOffsetHours * 3600))
		return time.FixedZone(offsetName(secs), secs)
	}
	if def == nil {
		return time.Local
	}
	return def
}

func offsetName(secs int) string {
	sign := '+'
	if secs < 0 {
		sign = '-'
		secs = -secs
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, secs/3600, (secs%3600)/60)
}

// Clone returns a deep copy.
func (s Spec) Clone() Spec {
	cp := s
	if s.Weekdays != nil {
		cp.Weekdays = append([]time.Weekday(nil), s.Weekdays...)
	}
	if s.TZOffsetHours != nil {
		v := *s.TZOffsetHours
		cp.TZOffsetHours = &v
	}
	return cp
}

// Describe renders a short human-readable summary.
func (s Spec) Describe() string {
	switch s.Kind {
	case KindRelative:
		d := fmt.Sprintf("in %dh%02dm", s.Delay.Hours, s.Delay.Minutes)
		if s.RepeatCount > 0 {
			d += fmt.Sprintf(", %d times", s.RepeatCount)
		}
		return d
	case KindAbsolute:
		var b strings.Builder
		b.WriteString("at ")
		b.WriteString(s.At.String())
		switch s.Recurrence {
		case RecurDaily:
			b.WriteString(" daily")
		case RecurWeekly:
			names := make([]string, 0, len(s.Weekdays))
			for _, d := range s.Weekdays {
				names = append(names, d.String()[:3])
			}
			b.WriteString(" every ")
			b.WriteString(strings.Join(names, ","))
		case RecurMonthly:
			fmt.Fprintf(&b, " monthly on day %d", s.DayOfMonth)
		}
		if s.TZOffsetHours != nil {
			b.WriteString(" ")
			b.WriteString(s.Location(nil).String())
		}
		return b.String()
	default:
		return string(s.Kind)
	}
}
