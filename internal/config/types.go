package config

// Config is the on-disk daemon configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "1m"). Sections that
// are omitted fall back to the defaults applied by the consumers.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`

	// Notifier is optional; when omitted the pipeline runs with defaults
	// and enabled=true.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Telegram TelegramConfig `json:"telegram"`
	Sound    SoundConfig    `json:"sound"`
	Popup    PopupConfig    `json:"popup"`
	Mirror   MirrorConfig   `json:"mirror"`
	Systemd  SystemdConfig  `json:"systemd"`
	Debug    DebugConfig    `json:"debug"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls occurrence computation.
type SchedulerConfig struct {
	// IANA zone for absolute reminders without an explicit offset.
	// Empty means the host zone.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig selects the reminder backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./chime.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifierConfig controls the async presentation pipeline.
type NotifierConfig struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	DeliverTimeout  string `json:"deliver_timeout,omitempty"`
}

// IsEnabled reports the enabled flag, true when the key is absent.
func (n NotifierConfig) IsEnabled() bool { return n.Enabled == nil || *n.Enabled }

// TelegramConfig enables the push sink. An empty token disables it.
type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type SoundConfig struct {
	Enabled bool    `json:"enabled"`
	Kind    string  `json:"kind,omitempty"` // chime | bell | alarm
	Volume  float64 `json:"volume"`
	Muted   bool    `json:"muted,omitempty"`
}

type PopupConfig struct {
	Enabled bool `json:"enabled"`
}

// MirrorConfig controls the background-delivery handoff files.
type MirrorConfig struct {
	Enabled     bool   `json:"enabled"`
	Path        string `json:"path"`
	ReportsPath string `json:"reports_path"`
	IngestEvery string `json:"ingest_every,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// DebugConfig controls the local HTTP endpoint (/healthz, /status, pprof).
// Binding to a non-loopback address needs a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
