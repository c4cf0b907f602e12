package engine

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"bosstimer/internal/dispatch"
	"bosstimer/internal/eventbus"
	"bosstimer/internal/history"
	"bosstimer/internal/schedule"
	"bosstimer/internal/storage"
	"bosstimer/internal/timer"
	logx "bosstimer/pkg/logx"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type flakyKV struct {
	storage.Store
	fail atomic.Bool
}

func (f *flakyKV) Put(ctx context.Context, key string, value []byte) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, key, value)
}

type harness struct {
	kv    *flakyKV
	store *timer.Store
	notes *dispatch.Recorder
	hist  *history.Recorder
	bus   *eventbus.MemBus
	eng   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		kv:    &flakyKV{Store: storage.NewMemory()},
		notes: &dispatch.Recorder{},
		bus:   eventbus.New(),
	}
	h.store = timer.NewStore(h.kv, logx.Nop(), timer.Options{Location: time.UTC})
	h.hist = history.NewRecorder(h.kv, logx.Nop(), 10)
	h.eng = New(h.store, logx.Nop(), Options{
		Clock:    schedule.NewManualClock(base),
		Notifier: h.notes,
		History:  h.hist,
		Bus:      h.bus,
	})
	return h
}

func (h *harness) add(t *testing.T, spec timer.Spec) timer.Timer {
	t.Helper()
	tm, err := h.store.Add(context.Background(), spec, base)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return tm
}

func (h *harness) tick(t *testing.T, now time.Time) Report {
	t.Helper()
	rep, err := h.eng.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return rep
}

func titles(msgs []dispatch.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Title)
	}
	return out
}

func TestPreAlertWindow(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		offset time.Duration // relative to nextAt
		want   []string
	}{
		{"eleven minutes before", -11 * time.Minute, []string{}},
		{"window opens", -10 * time.Minute, []string{"Starting soon: Boss"}},
		{"inside window", -time.Minute, []string{"Starting soon: Boss"}},
		{"exactly due", 0, []string{"Starting: Boss"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			tm := h.add(t, timer.Spec{Name: "Boss", Mode: timer.ModeCountdown, Minutes: 60, Repeat: true, PreAlerts: []int{10}})
			h.tick(t, time.UnixMilli(tm.NextAt).Add(tc.offset))
			if got := titles(h.notes.Messages()); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("notifications = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPreAlertBody(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tm := h.add(t, timer.Spec{Name: "Boss", Mode: timer.ModeCountdown, Minutes: 60, PreAlerts: []int{15}})
	h.tick(t, time.UnixMilli(tm.NextAt).Add(-15*time.Minute))
	msgs := h.notes.Messages()
	if len(msgs) != 1 || msgs[0].Body != "Starts in 15 min." {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestTickIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tm := h.add(t, timer.Spec{Name: "Boss", Mode: timer.ModeCountdown, Minutes: 60, Repeat: true, PreAlerts: []int{5, 10, 15}})
	now := time.UnixMilli(tm.NextAt).Add(-4 * time.Minute)

	first := h.tick(t, now)
	if first.PreAlerts != 3 {
		t.Fatalf("first tick prealerts = %d, want 3", first.PreAlerts)
	}
	second := h.tick(t, now)
	if second.PreAlerts != 0 || second.Changed {
		t.Fatalf("second tick = %+v", second)
	}
	if n := len(h.notes.Messages()); n != 3 {
		t.Fatalf("notifications = %d, want 3", n)
	}
}

func TestEachPreAlertFiresOncePerCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tm := h.add(t, timer.Spec{Name: "Boss", Mode: timer.ModeCountdown, Minutes: 30, PreAlerts: []int{5, 10}})
	due := time.UnixMilli(tm.NextAt)

	for at := due.Add(-12 * time.Minute); at.Before(due); at = at.Add(time.Second) {
		h.tick(t, at)
	}
	want := []string{"Starting soon: Boss", "Starting soon: Boss"}
	if got := titles(h.notes.Messages()); !reflect.DeepEqual(got, want) {
		t.Fatalf("notifications = %v", got)
	}
}

func TestOneShotRemovedAfterDue(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tm := h.add(t, timer.Spec{Name: "Once", Mode: timer.ModeCountdown, Minutes: 1, PreAlerts: []int{}})

	rep := h.tick(t, time.UnixMilli(tm.NextAt))
	if rep.Due != 1 || rep.Removed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if _, err := h.store.Get(tm.ID); !errors.Is(err, timer.ErrNotFound) {
		t.Fatalf("Get after due: %v", err)
	}
	h.tick(t, time.UnixMilli(tm.NextAt).Add(time.Second))
	if n := len(h.notes.Messages()); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}

	reloaded := timer.NewStore(h.kv, logx.Nop(), timer.Options{Location: time.UTC})
	if got := reloaded.Load(context.Background()); len(got) != 0 {
		t.Fatalf("persisted = %+v", got)
	}
}

func TestRepeatingCountdownAdvances(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tm := h.add(t, timer.Spec{Name: "Loop", Mode: timer.ModeCountdown, Minutes: 1, Repeat: true, PreAlerts: []int{}})
	now := time.UnixMilli(tm.NextAt)

	rep := h.tick(t, now)
	if rep.Due != 1 || rep.Advanced != 1 {
		t.Fatalf("report = %+v", rep)
	}
	got, err := h.store.Get(tm.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.NextAt != now.UnixMilli()+60_000 {
		t.Fatalf("nextAt = %d, want %d", got.NextAt, now.UnixMilli()+60_000)
	}
	wantFired := timer.Fired{got.CycleKey(): {}}
	if !reflect.DeepEqual(got.Fired, wantFired) {
		t.Fatalf("fired = %v, want %v", got.Fired, wantFired)
	}
}

func TestRepeatAnchorsOnTickInstant(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tm := h.add(t, timer.Spec{Name: "Loop", Mode: timer.ModeCountdown, Minutes: 1, Repeat: true, PreAlerts: []int{}})
	late := time.UnixMilli(tm.NextAt).Add(90 * time.Second)

	h.tick(t, late)
	got, _ := h.store.Get(tm.ID)
	if got.NextAt != late.UnixMilli()+60_000 {
		t.Fatalf("nextAt = %d, want %d", got.NextAt, late.UnixMilli()+60_000)
	}
}

func TestDailyRollsOverAtExactInstant(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tm := h.add(t, timer.Spec{Name: "Guild", Mode: timer.ModeDaily, DailyHHMM: "13:00", PreAlerts: []int{}})
	due := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	if tm.NextAt != due.UnixMilli() {
		t.Fatalf("nextAt = %d, want %d", tm.NextAt, due.UnixMilli())
	}

	h.tick(t, due)
	got, _ := h.store.Get(tm.ID)
	if want := due.AddDate(0, 0, 1).UnixMilli(); got.NextAt != want {
		t.Fatalf("nextAt = %v, want %v", time.UnixMilli(got.NextAt).UTC(), time.UnixMilli(want).UTC())
	}
	if got := titles(h.notes.Messages()); !reflect.DeepEqual(got, []string{"Starting: Guild"}) {
		t.Fatalf("notifications = %v", got)
	}
}

func TestLateTickSkipsPreAlertsButFiresDue(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tm := h.add(t, timer.Spec{Name: "Boss", Mode: timer.ModeCountdown, Minutes: 30, PreAlerts: []int{5, 10}})
	late := time.UnixMilli(tm.NextAt).Add(2 * time.Hour)

	rep := h.tick(t, late)
	if rep.PreAlerts != 0 || rep.Due != 1 {
		t.Fatalf("report = %+v", rep)
	}
	items, _ := h.hist.List()
	if len(items) != 1 {
		t.Fatalf("history = %+v", items)
	}
	if lateMs, _ := items[0].Extra["lateMs"].(int64); lateMs != (2 * time.Hour).Milliseconds() {
		t.Fatalf("extra = %+v", items[0].Extra)
	}
}

func TestHistoryRecordsKind(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	once := h.add(t, timer.Spec{Name: "Once", Mode: timer.ModeCountdown, Minutes: 1, PreAlerts: []int{}})
	h.add(t, timer.Spec{Name: "Loop", Mode: timer.ModeCountdown, Minutes: 1, Repeat: true, PreAlerts: []int{}})

	h.tick(t, time.UnixMilli(once.NextAt))
	items, _ := h.hist.List()
	kinds := map[string]string{}
	for _, it := range items {
		kinds[it.Title] = it.Type
		if !it.TriggeredAt.Equal(time.UnixMilli(once.NextAt)) {
			t.Fatalf("triggeredAt = %v", it.TriggeredAt)
		}
	}
	want := map[string]string{"Once": timer.KindOnce, "Loop": timer.KindCountdown}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestDelayStartsFreshCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tm := h.add(t, timer.Spec{Name: "Boss", Mode: timer.ModeCountdown, Minutes: 30, Repeat: true, PreAlerts: []int{10}})
	now := time.UnixMilli(tm.NextAt).Add(-5 * time.Minute)
	h.tick(t, now)

	if _, err := h.store.Delay(context.Background(), tm.ID, 0); err != nil {
		t.Fatal(err)
	}
	h.tick(t, now)
	want := []string{"Starting soon: Boss", "Starting soon: Boss"}
	if got := titles(h.notes.Messages()); !reflect.DeepEqual(got, want) {
		t.Fatalf("notifications = %v", got)
	}
}

func TestStaleFiredRecordsAreDropped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tm := h.add(t, timer.Spec{Name: "Boss", Mode: timer.ModeCountdown, Minutes: 30, PreAlerts: []int{}})
	_ = h.store.Update(context.Background(), func(ts []*timer.Timer) ([]*timer.Timer, bool) {
		ts[0].Fired["12345"] = map[string]bool{timer.DueKey: true}
		return ts, false
	})

	rep := h.tick(t, base)
	if !rep.Changed {
		t.Fatal("dropping stale records should persist")
	}
	got, _ := h.store.Get(tm.ID)
	if len(got.Fired) != 1 {
		t.Fatalf("fired = %v", got.Fired)
	}
	if _, ok := got.Fired[got.CycleKey()]; !ok {
		t.Fatalf("current cycle missing: %v", got.Fired)
	}
}

func TestPersistFailureKeepsState(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tm := h.add(t, timer.Spec{Name: "Boss", Mode: timer.ModeCountdown, Minutes: 30, PreAlerts: []int{10}})
	h.kv.fail.Store(true)

	now := time.UnixMilli(tm.NextAt).Add(-time.Minute)
	if _, err := h.eng.Tick(context.Background(), now); err == nil {
		t.Fatal("expected persist error")
	}
	if _, err := h.eng.Tick(context.Background(), now); err != nil {
		t.Fatalf("unchanged tick err = %v", err)
	}
	if n := len(h.notes.Messages()); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}
}

func TestEventsPublished(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ch, unsub := h.bus.Subscribe(16)
	defer unsub()
	tm := h.add(t, timer.Spec{Name: "Loop", Mode: timer.ModeCountdown, Minutes: 1, Repeat: true, PreAlerts: []int{}})

	h.tick(t, time.UnixMilli(tm.NextAt))
	var got []string
	for len(ch) > 0 {
		got = append(got, (<-ch).Type)
	}
	want := []string{eventbus.TimerDue, eventbus.HistoryRecorded, eventbus.TimerAdvanced}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestTestNotification(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tm := h.add(t, timer.Spec{Name: "Boss", Mode: timer.ModeCountdown, Minutes: 5})
	if err := h.eng.Test(tm.ID); err != nil {
		t.Fatal(err)
	}
	msgs := h.notes.Messages()
	if len(msgs) != 1 || msgs[0].Title != "Test: Boss" || msgs[0].Body != "Notifications are working." {
		t.Fatalf("messages = %+v", msgs)
	}
	if err := h.eng.Test("missing"); !errors.Is(err, timer.ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestRunTicksWithClock(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	clock := schedule.NewManualClock(base)
	h.eng.clock = clock
	h.eng.SetInterval(5 * time.Millisecond)
	tm := h.add(t, timer.Spec{Name: "Once", Mode: timer.ModeCountdown, Minutes: 1, PreAlerts: []int{}})
	clock.Set(time.UnixMilli(tm.NextAt))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.eng.Run(ctx) }()

	deadline := time.After(3 * time.Second)
	for len(h.notes.Messages()) == 0 {
		select {
		case <-deadline:
			t.Fatal("Run never fired the due timer")
		case <-time.After(5 * time.Millisecond):
		}
	}
	h.eng.SetInterval(10 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v", err)
	}
	if st := h.eng.Stats(); st.Ticks == 0 || st.LastTick.IsZero() {
		t.Fatalf("stats = %+v", st)
	}
}
