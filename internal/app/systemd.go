package app

import (
	"context"
	"time"

	logx "bosstimer/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

const (
	sdReady    = daemon.SdNotifyReady
	sdStopping = daemon.SdNotifyStopping
	sdWatchdog = daemon.SdNotifyWatchdog
)

// notifySystemd sends state to the service manager. Outside systemd
// (no NOTIFY_SOCKET) it is a no-op.
func (a *App) notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if !sent {
		a.log.Debug("systemd notify skipped; no socket", logx.String("state", state))
	}
}

// startSystemd reports readiness and, when the unit sets WatchdogSec,
// pings the watchdog at half the interval while the engine keeps ticking.
func (a *App) startSystemd() {
	a.notifySystemd(sdReady)

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	period := interval / 2
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	a.sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if !a.engineHealthy(interval) {
					a.log.Warn("engine stalled; withholding watchdog ping")
					continue
				}
				a.notifySystemd(sdWatchdog)
			}
		}
	})
}

// engineHealthy reports whether the engine ticked within max.
func (a *App) engineHealthy(max time.Duration) bool {
	st := a.engine.Stats()
	if st.LastTick.IsZero() {
		return true
	}
	return time.Since(st.LastTick) < max+a.engine.Interval()
}
