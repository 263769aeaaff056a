package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chime/internal/reminder"
	"chime/internal/schedule"
)

type nextFlags struct {
	at       string
	daily    bool
	weekly   string
	monthly  int
	offset   float64
	tz       string
	from     string
	count    int
	hasShift bool
}

func newNextCmd() *cobra.Command {
	f := &nextFlags{}
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Preview the next fire times of a schedule",
		Example: "  chime next --at 09:00 --weekly 1,3,5\n" +
			"  chime next --at 08:30 --monthly 31 -n 12",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.hasShift = cmd.Flags().Changed("tz-offset")
			times, err := f.preview(time.Now())
			if err != nil {
				return err
			}
			for _, t := range times {
				fmt.Fprintln(cmd.OutOrStdout(), t.Format("Mon 2006-01-02 15:04 MST"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.at, "at", "", "Time of day HH:MM (required)")
	cmd.Flags().BoolVar(&f.daily, "daily", false, "Repeat every day")
	cmd.Flags().StringVar(&f.weekly, "weekly", "", "Repeat on weekdays, comma separated 0=Sunday..6=Saturday")
	cmd.Flags().IntVar(&f.monthly, "monthly", 0, "Repeat monthly on this day (1-31)")
	cmd.Flags().Float64Var(&f.offset, "tz-offset", 0, "Fixed UTC offset in hours")
	cmd.Flags().StringVar(&f.tz, "tz", "", "IANA timezone (default: local)")
	cmd.Flags().StringVar(&f.from, "from", "", "Reference instant, RFC 3339 (default: now)")
	cmd.Flags().IntVarP(&f.count, "count", "n", 5, "Number of occurrences")
	cmd.MarkFlagsMutuallyExclusive("daily", "weekly", "monthly")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func (f *nextFlags) input() (reminder.Input, error) {
	at, err := schedule.ParseTimeOfDay(f.at)
	if err != nil {
		return reminder.Input{}, err
	}
	in := reminder.Input{Message: "preview", Kind: "absolute", Hour: at.Hour, Minute: at.Minute, Recurrence: "none"}
	switch {
	case f.daily:
		in.Recurrence = "daily"
	case strings.TrimSpace(f.weekly) != "":
		days, err := schedule.ParseWeekdays(f.weekly)
		if err != nil {
			return reminder.Input{}, err
		}
		in.Recurrence = "weekly"
		for _, d := range days {
			in.Weekdays = append(in.Weekdays, int(d))
		}
	case f.monthly != 0:
		in.Recurrence = "monthly"
		in.DayOfMonth = f.monthly
	}
	if f.hasShift {
		off := f.offset
		in.TZOffsetHours = &off
	}
	return in, nil
}

func (f *nextFlags) preview(now time.Time) ([]time.Time, error) {
	if f.count <= 0 {
		return nil, errors.New("--count must be positive")
	}
	in, err := f.input()
	if err != nil {
		return nil, err
	}
	d, err := in.Validate()
	if err != nil {
		return nil, err
	}
	loc := time.Local
	if f.tz != "" {
		if loc, err = time.LoadLocation(f.tz); err != nil {
			return nil, fmt.Errorf("--tz: %w", err)
		}
	}
	ref := now
	if f.from != "" {
		if ref, err = time.Parse(time.RFC3339, f.from); err != nil {
			return nil, fmt.Errorf("--from: %w", err)
		}
	}
	return schedule.Preview(d.Schedule, ref, f.count, loc)
}
