package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTickInterval = time.Second
	DefaultDelayStep    = 5 * time.Minute
	DefaultAPIAddr      = "127.0.0.1:8787"
	DefaultStoreDriver  = "file"
	DefaultStorePath    = "./bosstimer_store"
	DefaultHistoryLimit = 10
)

// DefaultPreAlerts are the lead times preselected for new timers.
var DefaultPreAlerts = []int{5, 10, 15}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Engine: EngineConfig{
			TickInterval:     DefaultTickInterval.String(),
			DelayStep:        DefaultDelayStep.String(),
			DefaultPreAlerts: append([]int(nil), DefaultPreAlerts...),
		},
		Storage: StorageConfig{Driver: DefaultStoreDriver, Path: DefaultStorePath},
		History: HistoryConfig{Limit: DefaultHistoryLimit},
		API:     APIConfig{Enabled: true, Addr: DefaultAPIAddr},
	}
}

// Validate checks fields that the strict decoder cannot: durations, the
// timezone name, the storage driver, and numeric ranges.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := ParseDurationField("engine.tick_interval", cfg.Engine.TickInterval); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("engine.delay_step", cfg.Engine.DelayStep); err != nil {
		errs = append(errs, err)
	}
	if _, err := LoadLocation(cfg.Engine.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("engine.timezone: %w", err))
	}
	for _, m := range cfg.Engine.DefaultPreAlerts {
		if m <= 0 {
			errs = append(errs, fmt.Errorf("engine.default_pre_alerts: %d must be > 0", m))
			break
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if cfg.History.Limit < 0 {
		errs = append(errs, errors.New("history.limit: must be >= 0"))
	}

	n := cfg.Notifier
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
		errs = append(errs, errors.New("notifier: numeric fields must be >= 0"))
	}
	if _, err := ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("notifier.desktop.timeout", n.Desktop.Timeout); err != nil {
		errs = append(errs, err)
	}
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.Token) == "" {
			errs = append(errs, errors.New("notifier.telegram.token: required when telegram is enabled"))
		}
		if n.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("notifier.telegram.chat_id: required when telegram is enabled"))
		}
	}

	return errors.Join(errs...)
}

// LoadLocation resolves an IANA zone name. Empty means process local time.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
