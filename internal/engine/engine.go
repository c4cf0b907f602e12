// Package engine is the polling loop that fires pre-alerts and due events.
//
// Every tick reads the clock once and evaluates the whole collection under
// the store lock. An alert key fires at most once per cycle; a pre-alert
// fires only inside [nextAt - min, nextAt) and due fires however late the
// tick is. Notifications, history writes and bus events are issued after
// the evaluation has been committed to the store.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bosstimer/internal/dispatch"
	"bosstimer/internal/eventbus"
	"bosstimer/internal/history"
	"bosstimer/internal/schedule"
	"bosstimer/internal/timer"
	logx "bosstimer/pkg/logx"
)

const DefaultInterval = time.Second

// HistorySink receives one entry per due firing.
type HistorySink interface {
	Record(ctx context.Context, e history.Entry) (history.Entry, error)
}

type Options struct {
	Interval time.Duration
	Clock    schedule.Clock
	Notifier dispatch.Notifier
	History  HistorySink
	Bus      eventbus.Bus
}

// Alert is the payload of prealert, due, advanced and removed events.
type Alert struct {
	TimerID string `json:"timerId"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Minutes int    `json:"minutes,omitempty"`
	NextAt  int64  `json:"nextAt"`
	LateMs  int64  `json:"lateMs,omitempty"`
}

// Report summarizes one tick.
type Report struct {
	PreAlerts int
	Due       int
	Advanced  int
	Removed   int
	Changed   bool
}

func (r Report) empty() bool { return r.PreAlerts == 0 && r.Due == 0 && !r.Changed }

type Engine struct {
	store    *timer.Store
	clock    schedule.Clock
	notifier dispatch.Notifier
	history  HistorySink
	bus      eventbus.Bus
	log      logx.Logger

	mu       sync.Mutex
	interval time.Duration
	reset    chan struct{}

	ticks    atomic.Uint64
	lastTick atomic.Int64
}

func New(store *timer.Store, log logx.Logger, opts Options) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		store:    store,
		clock:    opts.Clock,
		notifier: opts.Notifier,
		history:  opts.History,
		bus:      opts.Bus,
		log:      log,
		reset:    make(chan struct{}, 1),
	}
	if e.clock == nil {
		e.clock = schedule.SystemClock()
	}
	if e.notifier == nil {
		e.notifier = dispatch.Nop{}
	}
	if e.bus == nil {
		e.bus = eventbus.Nop{}
	}
	e.interval = opts.Interval
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	return e
}

func (e *Engine) Interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

// SetInterval changes the polling period; a running loop picks it up at once.
func (e *Engine) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	e.mu.Lock()
	changed := e.interval != d
	e.interval = d
	e.mu.Unlock()
	if changed {
		select {
		case e.reset <- struct{}{}:
		default:
		}
	}
}

// Stats is exposed on /health.
type Stats struct {
	Ticks    uint64    `json:"ticks"`
	LastTick time.Time `json:"last_tick"`
	Interval string    `json:"interval"`
}

func (e *Engine) Stats() Stats {
	st := Stats{Ticks: e.ticks.Load(), Interval: e.Interval().String()}
	if ms := e.lastTick.Load(); ms > 0 {
		st.LastTick = time.UnixMilli(ms)
	}
	return st
}

// Run ticks immediately and then once per interval until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.Interval()
	e.log.Info("engine started", logx.Duration("interval", interval))
	defer e.log.Info("engine stopped")

	e.step(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.reset:
			interval = e.Interval()
			t.Reset(interval)
			e.log.Info("engine interval changed", logx.Duration("interval", interval))
		case <-t.C:
			e.step(ctx)
		}
	}
}

func (e *Engine) step(ctx context.Context) {
	now := e.clock.Now()
	rep, err := e.Tick(ctx, now)
	if err != nil {
		// State is kept in memory and the next changing tick retries the write.
		e.log.Warn("tick not persisted", logx.Err(err))
	}
	if !rep.empty() {
		e.log.Debug("tick",
			logx.Int("prealerts", rep.PreAlerts),
			logx.Int("due", rep.Due),
			logx.Int("advanced", rep.Advanced),
			logx.Int("removed", rep.Removed),
		)
	}
}

// effect is a side effect deferred until the tick has committed.
type effect struct {
	event string
	alert Alert
	title string
	body  string
}

// Tick evaluates every timer against now. The returned error only reports
// a failed write; the in-memory state has advanced regardless.
func (e *Engine) Tick(ctx context.Context, now time.Time) (Report, error) {
	nowMs := now.UnixMilli()
	loc := e.store.Location()

	var (
		rep     Report
		effects []effect
	)
	err := e.store.Update(ctx, func(timers []*timer.Timer) ([]*timer.Timer, bool) {
		keep := make([]*timer.Timer, 0, len(timers))
		for _, t := range timers {
			out := e.evaluate(t, nowMs, loc)
			effects = append(effects, out.effects...)
			rep.PreAlerts += out.preAlerts
			if out.due {
				rep.Due++
			}
			if out.changed {
				rep.Changed = true
			}
			if out.remove {
				rep.Removed++
				rep.Changed = true
				continue
			}
			if out.advanced {
				rep.Advanced++
			}
			keep = append(keep, t)
		}
		return keep, rep.Changed
	})

	e.ticks.Add(1)
	e.lastTick.Store(nowMs)
	e.apply(ctx, now, effects)
	return rep, err
}

type outcome struct {
	effects   []effect
	preAlerts int
	due       bool
	advanced  bool
	remove    bool
	changed   bool
}

func (e *Engine) evaluate(t *timer.Timer, nowMs int64, loc *time.Location) outcome {
	var out outcome
	nextAt := t.NextAt
	kind := t.Kind()

	cycle := t.CycleKey()
	for k := range t.Fired {
		if k != cycle {
			out.changed = true
			break
		}
	}
	t.EnsureCycle()

	if nowMs < nextAt {
		for _, m := range t.PreAlerts {
			if m <= 0 {
				continue
			}
			key := timer.PreAlertKey(m)
			if nowMs < nextAt-int64(m)*60_000 || t.HasFired(key) {
				continue
			}
			t.MarkFired(key)
			out.changed = true
			out.preAlerts++
			out.effects = append(out.effects, effect{
				event: eventbus.TimerPreAlert,
				alert: Alert{TimerID: t.ID, Name: t.Name, Kind: kind, Minutes: m, NextAt: nextAt},
				title: "Starting soon: " + t.Name,
				body:  fmt.Sprintf("Starts in %d min.", m),
			})
		}
		return out
	}

	if !t.HasFired(timer.DueKey) {
		t.MarkFired(timer.DueKey)
		out.changed = true
		out.due = true
		out.effects = append(out.effects, effect{
			event: eventbus.TimerDue,
			alert: Alert{TimerID: t.ID, Name: t.Name, Kind: kind, NextAt: nextAt, LateMs: nowMs - nextAt},
			title: "Starting: " + t.Name,
			body:  "Start now!",
		})
	}

	switch {
	case t.Mode == timer.ModeDaily:
		next, err := schedule.NextDailyMillis(t.DailyHHMM, nowMs, loc)
		if err != nil {
			e.log.Warn("daily timer has an unusable time; retiring it",
				logx.String("id", t.ID), logx.String("hhmm", t.DailyHHMM), logx.Err(err))
			out.remove = true
			out.effects = append(out.effects, effect{event: eventbus.TimerRemoved, alert: Alert{TimerID: t.ID, Name: t.Name, Kind: kind, NextAt: nextAt}})
			return out
		}
		t.NextAt = next
	case t.RepeatEvery:
		t.NextAt = nowMs + t.DurationMs
	default:
		out.remove = true
		out.effects = append(out.effects, effect{event: eventbus.TimerRemoved, alert: Alert{TimerID: t.ID, Name: t.Name, Kind: kind, NextAt: nextAt}})
		return out
	}
	t.BeginCycle()
	out.advanced = true
	out.changed = true
	out.effects = append(out.effects, effect{event: eventbus.TimerAdvanced, alert: Alert{TimerID: t.ID, Name: t.Name, Kind: kind, NextAt: t.NextAt}})
	return out
}

func (e *Engine) apply(ctx context.Context, now time.Time, effects []effect) {
	for _, fx := range effects {
		if fx.title != "" {
			e.notifier.Notify(fx.title, fx.body)
		}
		e.bus.Publish(eventbus.Event{Type: fx.event, Time: now, Data: fx.alert})
		switch fx.event {
		case eventbus.TimerPreAlert:
			e.log.Info("pre-alert", logx.String("id", fx.alert.TimerID), logx.String("name", fx.alert.Name), logx.Int("minutes", fx.alert.Minutes))
		case eventbus.TimerDue:
			e.log.Info("due", logx.String("id", fx.alert.TimerID), logx.String("name", fx.alert.Name), logx.Int64("late_ms", fx.alert.LateMs))
			e.record(ctx, now, fx.alert)
		case eventbus.TimerRemoved:
			e.log.Info("timer retired", logx.String("id", fx.alert.TimerID), logx.String("name", fx.alert.Name))
		}
	}
}

func (e *Engine) record(ctx context.Context, now time.Time, a Alert) {
	if e.history == nil {
		return
	}
	entry, err := e.history.Record(ctx, history.Entry{
		TimerID:     a.TimerID,
		Title:       a.Name,
		Type:        a.Kind,
		TriggeredAt: now,
		Extra:       map[string]any{"nextAt": a.NextAt, "lateMs": a.LateMs},
	})
	if err != nil {
		e.log.Warn("history not saved", logx.String("id", a.TimerID), logx.Err(err))
		return
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.HistoryRecorded, Time: now, Data: entry})
}

// Test sends a sample notification for the timer with id.
func (e *Engine) Test(id string) error {
	t, err := e.store.Get(id)
	if err != nil {
		return err
	}
	e.notifier.Notify("Test: "+t.Name, "Notifications are working.")
	return nil
}
