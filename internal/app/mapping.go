package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"bosstimer/internal/config"
	"bosstimer/internal/dispatch"
	"bosstimer/internal/storage"
	logx "bosstimer/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = config.DefaultStorePath
	}
	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	case "memory":
		return storage.Config{Driver: driver}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// engineSettings are the live-reloadable engine and store knobs.
type engineSettings struct {
	interval  time.Duration
	loc       *time.Location
	delayStep time.Duration
	preAlerts []int
}

func mapEngineConfig(cfg *config.Config) (engineSettings, error) {
	ec := cfg.Engine
	interval, err := config.ParseDurationOrDefault("engine.tick_interval", ec.TickInterval, config.DefaultTickInterval)
	if err != nil {
		return engineSettings{}, err
	}
	step, err := config.ParseDurationOrDefault("engine.delay_step", ec.DelayStep, config.DefaultDelayStep)
	if err != nil {
		return engineSettings{}, err
	}
	loc, err := config.LoadLocation(ec.Timezone)
	if err != nil {
		return engineSettings{}, fmt.Errorf("engine.timezone: %w", err)
	}
	pre := ec.DefaultPreAlerts
	if pre == nil {
		pre = config.DefaultPreAlerts
	}
	return engineSettings{interval: interval, loc: loc, delayStep: step, preAlerts: pre}, nil
}

func mapNotifierConfig(cfg *config.Config) (dispatch.Config, error) {
	n := cfg.Notifier
	base, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return dispatch.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	out := dispatch.Config{
		Enabled:       n.IsEnabled(),
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}
	if out.Workers <= 0 {
		out.Workers = 2
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 512
	}
	if out.RatePerSec <= 0 {
		out.RatePerSec = 3
	}
	if out.RetryMax == 0 {
		out.RetryMax = 2
	}
	return out, nil
}

// sinkSet is the delivery channels built from one config.
type sinkSet struct {
	sinks   []dispatch.Sink
	desktop *dispatch.DesktopSink
}

func (s sinkSet) close() {
	if s.desktop != nil {
		_ = s.desktop.Close()
	}
}

func (s sinkSet) names() []string {
	out := make([]string, 0, len(s.sinks))
	for _, sk := range s.sinks {
		out = append(out, sk.Name())
	}
	return out
}

func buildSinks(cfg *config.Config, log logx.Logger) (sinkSet, error) {
	n := cfg.Notifier
	set := sinkSet{sinks: []dispatch.Sink{dispatch.LogSink{Log: log}}}
	if n.Bell {
		set.sinks = append(set.sinks, dispatch.NewBellSink(os.Stdout))
	}
	if n.Desktop.Enabled {
		timeout, err := config.ParseDurationOrDefault("notifier.desktop.timeout", n.Desktop.Timeout, 0)
		if err != nil {
			return sinkSet{}, err
		}
		set.desktop = dispatch.NewDesktopSink(n.Desktop.AppName, timeout)
		set.sinks = append(set.sinks, set.desktop)
	}
	if n.Telegram.Enabled {
		tg, err := dispatch.NewTelegramSink(dispatch.TelegramConfig{
			Token:    n.Telegram.Token,
			ChatID:   n.Telegram.ChatID,
			ThreadID: n.Telegram.ThreadID,
		})
		if err != nil {
			set.close()
			return sinkSet{}, fmt.Errorf("notifier.telegram: %w", err)
		}
		set.sinks = append(set.sinks, tg)
	}
	return set, nil
}
