// Package schedule computes reminder occurrences.
//
// Every function here is pure and depends only on its arguments. "Next" is always strictly after
// the reference instant, so recomputing at the exact fire time never yields
// the same occurrence again.
package schedule

import (
	"fmt"
	"time"
)

// weeklyScanDays bounds the weekly search; any weekday repeats within 7 days.
const weeklyScanDays = 14

// Next returns the first occurrence of s strictly after ref.
//
// def is the location used for absolute specs without a TZOffsetHours.
// For an exhausted weekly scan Next returns the same-or-next-day candidate
// together with an error matching ErrInvariant.
func Next(s Spec, ref time.Time, def *time.Location) (time.Time, error) {
	switch s.Kind {
	case KindRelative:
		return ref.Add(s.Delay.Duration()), nil
	case KindAbsolute:
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}

	loc := s.Location(def)
	switch s.Recurrence {
	case "", RecurNone, RecurDaily:
		return sameOrNextDay(s.At, ref, loc), nil
	case RecurWeekly:
		return nextWeekly(s.At, s.Weekdays, ref, loc)
	case RecurMonthly:
		return nextMonthly(s.At, s.DayOfMonth, ref, loc), nil
	default:
		return time.Time{}, fmt.Errorf("unknown recurrence %q", s.Recurrence)
	}
}

// Preview returns up to n successive occurrences after ref. Relative specs
// stop after their total fire count, one-shot absolute specs after one.
func Preview(s Spec, ref time.Time, n int, def *time.Location) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	limit := n
	switch {
	case s.Kind == KindRelative:
		limit = min(n, max(1, s.RepeatCount))
	case !s.Recurring():
		limit = 1
	}
	out := make([]time.Time, 0, limit)
	t := ref
	for i := 0; i < limit; i++ {
		next, err := Next(s, t, def)
		if err != nil {
			return out, err
		}
		out = append(out, next)
		t = next
	}
	return out, nil
}

func atOn(year int, month time.Month, day int, at TimeOfDay, loc *time.Location) time.Time {
	return time.Date(year, month, day, at.Hour, at.Minute, 0, 0, loc)
}

func sameOrNextDay(at TimeOfDay, ref time.Time, loc *time.Location) time.Time {
	base := ref.In(loc)
	c := atOn(base.Year(), base.Month(), base.Day(), at, loc)
	if !c.After(ref) {
		c = atOn(base.Year(), base.Month(), base.Day()+1, at, loc)
	}
	return c
}

func nextWeekly(at TimeOfDay, days []time.Weekday, ref time.Time, loc *time.Location) (time.Time, error) {
	var set [7]bool
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			set[d] = true
		}
	}
	base := ref.In(loc)
	for off := 0; off < weeklyScanDays; off++ {
		c := atOn(base.Year(), base.Month(), base.Day()+off, at, loc)
		if c.After(ref) && set[c.Weekday()] {
			return c, nil
		}
	}
	return sameOrNextDay(at, ref, loc), &InvariantError{What: fmt.Sprintf("weekly scan found no match in %d days (weekdays=%v)", weeklyScanDays, days)}
}

// nextMonthly clamps day to the length of the target month, so day 31 fires
// on the last day of 30-day months and February.
func nextMonthly(at TimeOfDay, day int, ref time.Time, loc *time.Location) time.Time {
	base := ref.In(loc)
	c := monthlyCandidate(base.Year(), base.Month(), day, at, loc)
	if !c.After(ref) {
		c = monthlyCandidate(base.Year(), base.Month()+1, day, at, loc)
	}
	return c
}

func monthlyCandidate(year int, month time.Month, day int, at TimeOfDay, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	year, month = first.Year(), first.Month()
	if day < 1 {
		day = 1
	}
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return atOn(year, month, day, at, loc)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
