package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bosstimer/internal/api"
	"bosstimer/internal/config"
	"bosstimer/internal/dispatch"
	"bosstimer/internal/engine"
	"bosstimer/internal/eventbus"
	"bosstimer/internal/history"
	"bosstimer/internal/prefs"
	rtsup "bosstimer/internal/runtime/supervisor"
	"bosstimer/internal/schedule"
	"bosstimer/internal/storage"
	"bosstimer/internal/timer"
	logx "bosstimer/pkg/logx"
)

// StopReason is logged when the daemon shuts down.
type StopReason string

const (
	StopSignal StopReason = "signal"
	StopFatal  StopReason = "fatal"
	StopManual StopReason = "manual"
)

// Option customizes NewApp.
type Option func(*App)

// WithClock replaces the wall clock used by the engine and the API.
func WithClock(c schedule.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithLogger replaces the configured log sinks. Logging config reloads
// are ignored.
func WithLogger(log logx.Logger) Option {
	return func(a *App) { a.logOverride = log }
}

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log         logx.Logger
	logs        *logx.Service
	logOverride logx.Logger
	clock       schedule.Clock

	bus     *eventbus.MemBus
	kv      storage.Store
	timers  *timer.Store
	history *history.Recorder
	layout  *prefs.Layout

	notif    *dispatch.Service
	notifCtx context.Context
	sinks    sinkSet
	engine   *engine.Engine
	api      *api.Server

	sdNotify bool
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	a := &App{cfgPath: cfgPath, clock: schedule.SystemClock()}
	for _, o := range opts {
		o(a)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a.cfgm = cfgm

	if a.logOverride.IsZero() {
		logSvc, log := logx.New(mapLoggingConfig(cfg))
		a.logs = logSvc
		a.log = log.With(logx.String("comp", "app"))
	} else {
		a.log = a.logOverride.With(logx.String("comp", "app"))
	}

	es, err := mapEngineConfig(cfg)
	if err != nil {
		a.closeLogs()
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		a.closeLogs()
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.closeLogs()
		return nil, err
	}

	kv, err := storage.Open(sc, a.compLog("storage"))
	if err != nil {
		a.closeLogs()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.kv = kv
	a.log.Info("storage opened", logx.String("driver", sc.Driver))

	sinks, err := buildSinks(cfg, a.compLog("alert"))
	if err != nil {
		_ = kv.Close()
		a.closeLogs()
		return nil, err
	}
	a.sinks = sinks

	a.bus = eventbus.New()
	a.timers = timer.NewStore(kv, a.compLog("timers"), timer.Options{
		Location:         es.loc,
		DelayStep:        es.delayStep,
		DefaultPreAlerts: es.preAlerts,
	})
	a.history = history.NewRecorder(kv, a.compLog("history"), cfg.History.Limit)
	a.layout = prefs.NewLayout(kv, a.compLog("prefs"))
	a.notif = dispatch.New(ncfg, a.compLog("dispatch"), sinks.sinks...)
	a.engine = engine.New(a.timers, a.compLog("engine"), engine.Options{
		Interval: es.interval,
		Clock:    a.clock,
		Notifier: a.notif,
		History:  a.history,
		Bus:      a.bus,
	})

	if cfg.API.Enabled {
		addr := strings.TrimSpace(cfg.API.Addr)
		if addr == "" {
			addr = config.DefaultAPIAddr
		}
		a.api = api.NewServer(api.Deps{
			Timers:  a.timers,
			Engine:  a.engine,
			History: a.history,
			Layout:  a.layout,
			Bus:     a.bus,
			Clock:   a.clock,
			Health:  a.health,
		}, api.Options{Addr: addr, Pprof: cfg.API.Pprof}, a.compLog("api"))
	}
	a.sdNotify = cfg.Systemd.Notify
	return a, nil
}

func (a *App) compLog(name string) logx.Logger {
	base := a.logOverride
	if base.IsZero() {
		base = a.logs.Logger()
	}
	return base.With(logx.String("comp", name))
}

func (a *App) closeLogs() {
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func (a *App) Timers() *timer.Store       { return a.timers }
func (a *App) History() *history.Recorder { return a.history }
func (a *App) Engine() *engine.Engine     { return a.engine }
func (a *App) Bus() *eventbus.MemBus      { return a.bus }
func (a *App) Dispatcher() *dispatch.Service {
	return a.notif
}

// APIAddr is the bound API address, or "" when the API is disabled.
func (a *App) APIAddr() string {
	if a.api == nil {
		return ""
	}
	return a.api.Addr()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.compLog("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	loadCtx, cancel := context.WithTimeout(a.sup.Context(), 5*time.Second)
	timers := a.timers.Load(loadCtx)
	a.history.Load(loadCtx)
	layout := a.layout.Load(loadCtx)
	cancel()
	a.log.Info("state loaded",
		logx.Int("timers", len(timers)),
		logx.Int("history_limit", a.history.Limit()),
		logx.String("layout", layout),
	)

	// Dispatch outlives the supervisor so queued alerts drain during Stop.
	a.notifCtx = context.WithoutCancel(ctx)
	if a.notif.Enabled() {
		a.notif.Start(a.notifCtx)
	}

	a.sup.GoRestart("engine", a.engine.Run,
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	if a.api != nil {
		if err := a.api.Start(a.sup.Context()); err != nil {
			a.sup.Cancel()
			return fmt.Errorf("start api: %w", err)
		}
		a.log.Info("api listening", logx.String("addr", a.api.Addr()))
	}

	// Optional: log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.sdNotify {
		a.startSystemd()
	}

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sdNotify {
		a.notifySystemd(sdStopping)
	}

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.runStep(ctx, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	// The API goes first so no request mutates state during the rest of shutdown.
	step("api", 3*time.Second, func(c context.Context) error {
		if a.api == nil {
			return nil
		}
		return a.api.Stop(c)
	})

	a.sup.Cancel()
	// Engine, config watcher and reload loop unwind with the supervisor context.
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("dispatch", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("sinks", time.Second, func(context.Context) error { a.sinks.close(); return nil })
	step("storage", time.Second, func(context.Context) error { return a.kv.Close() })

	a.log.Info("stopped")
	a.closeLogs()
	return errors.Join(errs...)
}

// runStep runs a shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) runStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			max = time.Millisecond
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			return err
		}
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
		return stepCtx.Err()
	}
}

func (a *App) health() map[string]any {
	out := map[string]any{
		"bus_dropped": a.bus.Dropped(),
		"sinks":       a.notif.Sinks(),
		"notifier":    a.notif.Enabled(),
	}
	if a.sup != nil {
		out["supervisor"] = a.sup.Snapshot()
	}
	return out
}
