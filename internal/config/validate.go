package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative duration; empty is zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

var soundKinds = map[string]bool{"": true, "chime": true, "bell": true, "alarm": true}

// Validate checks cross-field rules the decoder cannot express. All
// problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %w", err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "memory", "none":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add("storage.path is required when storage.driver=sqlite")
		}
	default:
		add("unknown storage.driver: %s", cfg.Storage.Driver)
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if n := cfg.Notifier; n != nil {
		for name, v := range map[string]int{
			"notifier.workers":           n.Workers,
			"notifier.queue_size":        n.QueueSize,
			"notifier.rate_per_sec":      n.RatePerSec,
			"notifier.retry_max":         n.RetryMax,
			"notifier.dedup_max_entries": n.DedupMaxEntries,
		} {
			if v < 0 {
				add("%s must be >= 0", name)
			}
		}
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.dedup_window", n.DedupWindow)
		dur("notifier.deliver_timeout", n.DeliverTimeout)
	}

	if strings.TrimSpace(cfg.Telegram.Token) != "" && cfg.Telegram.ChatID == 0 {
		add("telegram.chat_id is required when telegram.token is set")
	}
	dur("telegram.timeout", cfg.Telegram.Timeout)

	if !soundKinds[strings.ToLower(strings.TrimSpace(cfg.Sound.Kind))] {
		add("sound.kind %q is not one of chime, bell, alarm", cfg.Sound.Kind)
	}
	if v := cfg.Sound.Volume; math.IsNaN(v) || v < 0 || v > 1 {
		add("sound.volume must be within 0..1")
	}

	if cfg.Mirror.Enabled {
		if strings.TrimSpace(cfg.Mirror.Path) == "" {
			add("mirror.path is required when mirror.enabled")
		}
		if strings.TrimSpace(cfg.Mirror.ReportsPath) == "" {
			add("mirror.reports_path is required when mirror.enabled")
		}
	}
	dur("mirror.ingest_every", cfg.Mirror.IngestEvery)

	if addr := strings.TrimSpace(cfg.Debug.Addr); cfg.Debug.Enabled && addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			add("debug.addr: %w", err)
		}
	}

	return errors.Join(errs...)
}
