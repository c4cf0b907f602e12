package config

import (
	"reflect"
	"sort"
	"strings"

	logx "bosstimer/pkg/logx"
)

// SummarizeConfigChange returns (1) a sorted list of changed sections and
// (2) safe structured attrs for logging (never includes the telegram token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.tick_interval", strings.TrimSpace(newCfg.Engine.TickInterval)),
			logx.String("engine.timezone", strings.TrimSpace(newCfg.Engine.Timezone)),
			logx.String("engine.delay_step", strings.TrimSpace(newCfg.Engine.DelayStep)),
			logx.Any("engine.default_pre_alerts", newCfg.Engine.DefaultPreAlerts),
		)
	}

	o, n := oldCfg.Storage, newCfg.Storage
	if strings.TrimSpace(o.Driver) != strings.TrimSpace(n.Driver) ||
		strings.TrimSpace(o.Path) != strings.TrimSpace(n.Path) ||
		strings.TrimSpace(o.BusyTimeout) != strings.TrimSpace(n.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(n.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(n.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(n.BusyTimeout)),
		)
	}

	if oldCfg.History.Limit != newCfg.History.Limit {
		changed = append(changed, "history")
		attrs = append(attrs, logx.Int("history.limit", newCfg.History.Limit))
	}

	on, nn := oldCfg.Notifier, newCfg.Notifier
	tokenChanged := strings.TrimSpace(on.Telegram.Token) != strings.TrimSpace(nn.Telegram.Token)
	on.Telegram.Token, nn.Telegram.Token = "", ""
	if tokenChanged || !reflect.DeepEqual(on, nn) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.Notifier.IsEnabled()),
			logx.Int("notifier.queue_size", nn.QueueSize),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.RetryMax),
			logx.Bool("notifier.bell", nn.Bell),
			logx.Bool("notifier.desktop", nn.Desktop.Enabled),
			logx.Bool("notifier.telegram", nn.Telegram.Enabled),
			logx.Bool("notifier.telegram_token_changed", tokenChanged),
		)
	}

	if oldCfg.API != newCfg.API {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", strings.TrimSpace(newCfg.API.Addr)),
			logx.Bool("api.pprof", newCfg.API.Pprof),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections that changed but are only applied at startup.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "storage", "api", "systemd":
			out = append(out, s)
		}
	}
	return out
}
