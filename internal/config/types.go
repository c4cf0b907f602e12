package config

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Engine   EngineConfig   `json:"engine"`
	Storage  StorageConfig  `json:"storage"`
	History  HistoryConfig  `json:"history"`
	Notifier NotifierConfig `json:"notifier"`
	API      APIConfig      `json:"api"`
	Systemd  SystemdConfig  `json:"systemd"`
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

// EngineConfig controls the polling engine.
//
// All durations are Go duration strings (e.g. "500ms", "1s", "5m").
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "1s"
//   - timezone: "" (process local time)
//   - delay_step: "5m"
//   - default_pre_alerts: [5, 10, 15]
type EngineConfig struct {
	TickInterval     string `json:"tick_interval,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	DelayStep        string `json:"delay_step,omitempty"`
	DefaultPreAlerts []int  `json:"default_pre_alerts,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./bosstimer_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type HistoryConfig struct {
	Limit int `json:"limit,omitempty"`
}

// NotifierConfig controls the async notification pipeline and its sinks.
//
// Enabled is a pointer so an omitted key keeps the default (enabled) while
// an explicit false turns every sink off.
type NotifierConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	Bell     bool           `json:"bell,omitempty"`
	Desktop  DesktopConfig  `json:"desktop"`
	Telegram TelegramConfig `json:"telegram"`
}

// IsEnabled reports the effective enabled flag.
func (n NotifierConfig) IsEnabled() bool {
	return n.Enabled == nil || *n.Enabled
}

type DesktopConfig struct {
	Enabled bool   `json:"enabled"`
	AppName string `json:"app_name,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// APIConfig controls the local HTTP control surface.
//
// Security note: the API has no authentication. Keep it on a loopback address.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8787"
	Pprof   bool   `json:"pprof,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}
