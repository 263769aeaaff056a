package reminder

import (
	"math"
	"slices"
	"strings"
	"time"

	"chime/internal/schedule"
)

// Input is the user-facing form of a reminder. Validate turns it into a Draft
// exactly once; nothing downstream re-checks field ranges.
type Input struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`

	DelayHours   int `json:"delay_hours,omitempty"`
	DelayMinutes int `json:"delay_minutes,omitempty"`
	RepeatCount  int `json:"repeat_count,omitempty"`

	Hour          int      `json:"hour,omitempty"`
	Minute        int      `json:"minute,omitempty"`
	Recurrence    string   `json:"recurrence,omitempty"`
	Weekdays      []int    `json:"weekdays,omitempty"`
	DayOfMonth    int      `json:"day_of_month,omitempty"`
	TZOffsetHours *float64 `json:"tz_offset_hours,omitempty"`

	Channel string `json:"channel,omitempty"`
	// Enabled defaults to true when nil.
	Enabled *bool `json:"enabled,omitempty"`
}

// Draft is validated input, ready to become a Reminder.
type Draft struct {
	Message  string
	Schedule schedule.Spec
	Channel  Channel
	Enabled  bool
}

// Validate checks every field and returns the first *ValidationError found.
func (in Input) Validate() (Draft, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return Draft{}, invalid("message", "must not be empty")
	}
	ch, ok := ParseChannel(in.Channel)
	if !ok {
		return Draft{}, invalid("channel", "%q is not one of push, popup, both", in.Channel)
	}
	d := Draft{Message: msg, Channel: ch, Enabled: in.Enabled == nil || *in.Enabled}

	switch schedule.Kind(strings.ToLower(strings.TrimSpace(in.Kind))) {
	case schedule.KindRelative:
		spec, err := in.relative()
		if err != nil {
			return Draft{}, err
		}
		d.Schedule = spec
	case schedule.KindAbsolute:
		spec, err := in.absolute()
		if err != nil {
			return Draft{}, err
		}
		d.Schedule = spec
	default:
		return Draft{}, invalid("kind", "%q is not relative or absolute", in.Kind)
	}
	return d, nil
}

func (in Input) relative() (schedule.Spec, error) {
	if in.DelayHours < 0 {
		return schedule.Spec{}, invalid("delay_hours", "must be >= 0")
	}
	if in.DelayMinutes < 0 {
		return schedule.Spec{}, invalid("delay_minutes", "must be >= 0")
	}
	if in.DelayHours == 0 && in.DelayMinutes == 0 {
		return schedule.Spec{}, invalid("delay", "hours and minutes must not both be zero")
	}
	if in.RepeatCount < 0 {
		return schedule.Spec{}, invalid("repeat_count", "must be >= 0")
	}
	// Compared field by field first; the sum of two huge ints would wrap.
	const maxMinutes = int(schedule.MaxDelay / time.Minute)
	if in.DelayHours > maxMinutes/60 || in.DelayMinutes > maxMinutes || in.DelayHours*60+in.DelayMinutes > maxMinutes {
		return schedule.Spec{}, invalid("delay", "must not exceed %d hours", maxMinutes/60)
	}
	return schedule.Spec{
		Kind:        schedule.KindRelative,
		Delay:       schedule.Delay{Hours: in.DelayHours, Minutes: in.DelayMinutes},
		RepeatCount: in.RepeatCount,
	}, nil
}

func (in Input) absolute() (schedule.Spec, error) {
	if in.Hour < 0 || in.Hour > 23 {
		return schedule.Spec{}, invalid("hour", "%d is outside 0-23", in.Hour)
	}
	if in.Minute < 0 || in.Minute > 59 {
		return schedule.Spec{}, invalid("minute", "%d is outside 0-59", in.Minute)
	}
	spec := schedule.Spec{
		Kind: schedule.KindAbsolute,
		At:   schedule.TimeOfDay{Hour: in.Hour, Minute: in.Minute},
	}

	if in.TZOffsetHours != nil {
		off := *in.TZOffsetHours
		if math.IsNaN(off) || off < -12 || off > 14 {
			return schedule.Spec{}, invalid("tz_offset_hours", "%v is outside -12..14", off)
		}
		if q := off * 4; q != math.Trunc(q) {
			return schedule.Spec{}, invalid("tz_offset_hours", "%v is not a multiple of 0.25", off)
		}
		v := off
		spec.TZOffsetHours = &v
	}

	switch schedule.Recurrence(strings.ToLower(strings.TrimSpace(in.Recurrence))) {
	case "", schedule.RecurNone:
		spec.Recurrence = schedule.RecurNone
	case schedule.RecurDaily:
		spec.Recurrence = schedule.RecurDaily
	case schedule.RecurWeekly:
		if len(in.Weekdays) == 0 {
			return schedule.Spec{}, invalid("weekdays", "weekly recurrence needs at least one weekday")
		}
		days := make([]time.Weekday, 0, len(in.Weekdays))
		for _, n := range in.Weekdays {
			if n < 0 || n > 6 {
				return schedule.Spec{}, invalid("weekdays", "%d is outside 0 (Sunday) - 6 (Saturday)", n)
			}
			if !slices.Contains(days, time.Weekday(n)) {
				days = append(days, time.Weekday(n))
			}
		}
		slices.Sort(days)
		spec.Recurrence = schedule.RecurWeekly
		spec.Weekdays = days
	case schedule.RecurMonthly:
		if in.DayOfMonth < 1 || in.DayOfMonth > 31 {
			return schedule.Spec{}, invalid("day_of_month", "%d is outside 1-31", in.DayOfMonth)
		}
		spec.Recurrence = schedule.RecurMonthly
		spec.DayOfMonth = in.DayOfMonth
	default:
		return schedule.Spec{}, invalid("recurrence", "%q is not none, daily, weekly or monthly", in.Recurrence)
	}
	return spec, nil
}

// InputFrom converts a stored reminder back into editable input.
func InputFrom(r Reminder) Input {
	s := r.Schedule
	enabled := r.Enabled
	in := Input{
		Message:       r.Message,
		Kind:          string(s.Kind),
		DelayHours:    s.Delay.Hours,
		DelayMinutes:  s.Delay.Minutes,
		RepeatCount:   s.RepeatCount,
		Hour:          s.At.Hour,
		Minute:        s.At.Minute,
		Recurrence:    string(s.Recurrence),
		DayOfMonth:    s.DayOfMonth,
		TZOffsetHours: s.Clone().TZOffsetHours,
		Channel:       string(r.Channel),
		Enabled:       &enabled,
	}
	for _, d := range s.Weekdays {
		in.Weekdays = append(in.Weekdays, int(d))
	}
	return in
}
