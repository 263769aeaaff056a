package app

import (
	"strings"
	"time"

	"chime/internal/config"
	"chime/internal/mirror"
	"chime/internal/notifier"
	"chime/internal/observability/debug"
	"chime/internal/storage"
	"chime/internal/transport/telegram"
	logx "chime/pkg/logx"
)

const (
	defaultStorePath   = "./chime.json"
	defaultBusyTimeout = time.Second
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		if path == "" {
			path = defaultStorePath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{Driver: driver}, nil
	}
}

// mapNotifier applies defaults; an omitted section means enabled.
func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       256,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		DedupWindow:     time.Minute,
		DedupMaxEntries: 2000,
		DeliverTimeout:  10 * time.Second,
	}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	out.Enabled = n.IsEnabled()
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries != 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	if out.DeliverTimeout, err = config.ParseDurationOrDefault("notifier.deliver_timeout", n.DeliverTimeout, out.DeliverTimeout); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapSound(cfg *config.Config) notifier.SoundConfig {
	return notifier.SoundConfig{
		Enabled: cfg.Sound.Enabled,
		Kind:    cfg.Sound.Kind,
		Volume:  cfg.Sound.Volume,
		Muted:   cfg.Sound.Muted,
	}
}

// mapTelegram reports false when push delivery is not configured.
func mapTelegram(cfg *config.Config) (telegram.Config, bool, error) {
	tc := cfg.Telegram
	if strings.TrimSpace(tc.Token) == "" {
		return telegram.Config{}, false, nil
	}
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", tc.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{
		Token:    strings.TrimSpace(tc.Token),
		ChatID:   tc.ChatID,
		ThreadID: tc.ThreadID,
		Timeout:  timeout,
	}, true, nil
}

func mapMirror(cfg *config.Config) (mirror.Config, bool, error) {
	mc := cfg.Mirror
	if !mc.Enabled {
		return mirror.Config{}, false, nil
	}
	every, err := config.ParseDurationField("mirror.ingest_every", mc.IngestEvery)
	if err != nil {
		return mirror.Config{}, false, err
	}
	return mirror.Config{
		Path:        strings.TrimSpace(mc.Path),
		ReportsPath: strings.TrimSpace(mc.ReportsPath),
		IngestEvery: every,
	}, true, nil
}

func mapDebug(cfg *config.Config) debug.Config {
	d := cfg.Debug
	return debug.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
	}
}
