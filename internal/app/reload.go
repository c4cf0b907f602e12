package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"bosstimer/internal/config"
	logx "bosstimer/pkg/logx"
)

// reloadLoop applies published configs to the running components.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	// Track last applied config to generate a safe diff summary for logx.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			newCfg = drainLatest(sub, newCfg)
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func drainLatest(sub chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool { return slices.Contains(sections, name) }

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	if changed("logging") && a.logs != nil {
		a.logs.Apply(mapLoggingConfig(newCfg))
	}

	if changed("engine") {
		es, err := mapEngineConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
		} else {
			a.engine.SetInterval(es.interval)
			a.timers.SetLocation(es.loc)
			a.timers.SetDelayStep(es.delayStep)
			a.timers.SetDefaultPreAlerts(es.preAlerts)
		}
	}

	if changed("history") && newCfg.History.Limit > 0 {
		limit, err := a.history.SetLimit(ctx, newCfg.History.Limit)
		if err != nil {
			a.log.Warn("history limit not persisted", logx.Err(err))
		} else {
			a.log.Debug("history limit applied", logx.Int("limit", limit))
		}
	}

	if changed("notifier") {
		a.applyNotifier(ctx, newCfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyNotifier(ctx context.Context, cfg *config.Config) {
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	sinks, err := buildSinks(cfg, a.compLog("alert"))
	if err != nil {
		a.log.Warn("invalid notifier sinks; keeping previous", logx.Err(err))
		return
	}
	old := a.sinks
	a.sinks = sinks
	a.notif.SetSinks(sinks.sinks...)
	old.close()

	wasEnabled := a.notif.Enabled()
	a.notif.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(a.notifCtx)
	}
	a.log.Debug("notifier sinks applied", logx.Any("sinks", sinks.names()))
}
