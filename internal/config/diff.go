package config

import (
	"reflect"
	"sort"
	"strings"

	logx "chime/pkg/logx"
)

// HotSections are applied without a restart; changes elsewhere are logged
// as requiring one.
var HotSections = map[string]bool{"logging": true, "notifier": true, "sound": true, "debug": true}

// SummarizeConfigChange returns the sorted names of changed sections and
// log attributes describing them. Secrets are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	oldN, newN := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if (oldCfg.Notifier == nil) != (newCfg.Notifier == nil) || oldN != newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.present", newCfg.Notifier != nil),
			logx.Bool("notifier.enabled", newN.IsEnabled()),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
		)
	}

	// Token presence only.
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot != nt {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Int64("telegram.chat_id", nt.ChatID),
		)
	}

	if oldCfg.Sound != newCfg.Sound {
		changed = append(changed, "sound")
		attrs = append(attrs,
			logx.Bool("sound.enabled", newCfg.Sound.Enabled),
			logx.String("sound.kind", newCfg.Sound.Kind),
			logx.Any("sound.volume", newCfg.Sound.Volume),
			logx.Bool("sound.muted", newCfg.Sound.Muted),
		)
	}

	if oldCfg.Popup != newCfg.Popup {
		changed = append(changed, "popup")
		attrs = append(attrs, logx.Bool("popup.enabled", newCfg.Popup.Enabled))
	}

	if oldCfg.Mirror != newCfg.Mirror {
		changed = append(changed, "mirror")
		attrs = append(attrs,
			logx.Bool("mirror.enabled", newCfg.Mirror.Enabled),
			logx.String("mirror.ingest_every", newCfg.Mirror.IngestEvery),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that are not hot-reloadable.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !HotSections[s] {
			out = append(out, s)
		}
	}
	return out
}

var flagOn, flagOff = true, false

// derefNotifier returns a copy whose Enabled points at a shared flag, so two
// sections with the same settings compare equal.
func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{Enabled: &flagOn}
	}
	out := *n
	if out.IsEnabled() {
		out.Enabled = &flagOn
	} else {
		out.Enabled = &flagOff
	}
	return out
}
