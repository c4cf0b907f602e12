package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bosstimer/internal/config"
	"bosstimer/internal/eventbus"
	"bosstimer/internal/schedule"
	"bosstimer/internal/timer"
	logx "bosstimer/pkg/logx"
)

const testConfig = `{
  "logging": {"level": "debug", "console": false},
  "engine": {"tick_interval": "10ms", "timezone": "UTC"},
  "storage": {"driver": "memory"},
  "history": {"limit": 5},
  "api": {"enabled": false}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func newTestApp(t *testing.T, clock schedule.Clock) *App {
	t.Helper()
	a, err := NewApp(writeConfig(t, testConfig), WithLogger(logx.Nop()), WithClock(clock))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return a
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopManual); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestAppStartStop(t *testing.T) {
	t.Parallel()

	clock := schedule.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	a := newTestApp(t, clock)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.APIAddr() != "" {
		t.Fatalf("api should be disabled, addr=%q", a.APIAddr())
	}
	if got := a.History().Limit(); got != 5 {
		t.Fatalf("history limit = %d, want 5", got)
	}
	if got := a.Engine().Interval(); got != 10*time.Millisecond {
		t.Fatalf("engine interval = %v", got)
	}

	stopApp(t, a)
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
	if err := a.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
}

func TestAppFiresDueAlert(t *testing.T) {
	t.Parallel()

	clock := schedule.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	a := newTestApp(t, clock)
	events, unsub := a.Bus().Subscribe(64)
	defer unsub()

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)

	tm, err := a.Timers().Add(context.Background(), timer.Spec{
		Name: "Dragon", Mode: timer.ModeCountdown, Minutes: 1,
	}, clock.Now())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	clock.Advance(61 * time.Second)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type != eventbus.TimerDue {
				continue
			}
			items, _ := a.History().List()
			wait := time.Now().Add(time.Second)
			for time.Now().Before(wait) && len(items) == 0 {
				time.Sleep(5 * time.Millisecond)
				items, _ = a.History().List()
			}
			if len(items) != 1 || items[0].TimerID != tm.ID {
				t.Fatalf("history = %+v, want one entry for %s", items, tm.ID)
			}
			if _, err := a.Timers().Get(tm.ID); err == nil {
				t.Fatalf("one-shot timer still present after due")
			}
			return
		case <-deadline:
			t.Fatalf("no %s event", eventbus.TimerDue)
		}
	}
}

func TestApplyConfigLiveUpdates(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, schedule.NewManualClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()
	old := a.cfgm.Get()

	next := *old
	next.Engine.TickInterval = "250ms"
	next.Engine.Timezone = "Asia/Jakarta"
	next.Engine.DelayStep = "2m"
	next.History.Limit = 7
	off := false
	next.Notifier.Enabled = &off

	a.applyConfig(ctx, old, &next)

	if got := a.Engine().Interval(); got != 250*time.Millisecond {
		t.Fatalf("interval = %v", got)
	}
	if got := a.Timers().Location().String(); got != "Asia/Jakarta" {
		t.Fatalf("location = %s", got)
	}
	if got := a.History().Limit(); got != 7 {
		t.Fatalf("history limit = %d", got)
	}
	if a.Dispatcher().Enabled() {
		t.Fatalf("notifier should be disabled")
	}
	_ = a.kv.Close()
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"unknown field", `{"nope": 1}`},
		{"bad duration", `{"engine": {"tick_interval": "soon"}}`},
		{"bad timezone", `{"engine": {"timezone": "Mars/Olympus"}}`},
		{"bad driver", `{"storage": {"driver": "redis"}}`},
		{"telegram without chat", `{"notifier": {"telegram": {"enabled": true, "token": "x"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewApp(writeConfig(t, tt.body), WithLogger(logx.Nop())); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{name: "default file", in: config.StorageConfig{}, driver: "file"},
		{name: "sqlite busy", in: config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "3s"}, driver: "sqlite", busy: 3 * time.Second},
		{name: "sqlite default busy", in: config.StorageConfig{Driver: "sqlite"}, driver: "sqlite", busy: time.Second},
		{name: "memory", in: config.StorageConfig{Driver: "memory"}, driver: "memory"},
		{name: "unknown", in: config.StorageConfig{Driver: "bolt"}, wantErr: true},
		{name: "bad busy", in: config.StorageConfig{Driver: "sqlite", BusyTimeout: "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Driver != tt.driver || got.BusyTimeout != tt.busy {
				t.Fatalf("got %+v", got)
			}
			if tt.driver == "file" && got.Path != config.DefaultStorePath {
				t.Fatalf("path = %q", got.Path)
			}
		})
	}
}

func TestMapNotifierConfigDefaults(t *testing.T) {
	t.Parallel()

	got, err := mapNotifierConfig(config.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Enabled || got.Workers != 2 || got.QueueSize != 512 || got.RatePerSec != 3 || got.RetryMax != 2 {
		t.Fatalf("defaults = %+v", got)
	}
	if got.RetryBase != 500*time.Millisecond || got.RetryMaxDelay != 10*time.Second {
		t.Fatalf("retry = %v/%v", got.RetryBase, got.RetryMaxDelay)
	}
}

func TestBuildSinks(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Notifier.Bell = true
	cfg.Notifier.Desktop.Enabled = true
	set, err := buildSinks(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("buildSinks: %v", err)
	}
	defer set.close()
	if got := strings.Join(set.names(), ","); got != "log,bell,desktop" {
		t.Fatalf("sinks = %s", got)
	}

	cfg.Notifier.Telegram.Enabled = true
	if _, err := buildSinks(cfg, logx.Nop()); err == nil {
		t.Fatalf("telegram without token should fail")
	}
}

func TestRunStepDeadline(t *testing.T) {
	t.Parallel()

	a := &App{log: logx.Nop()}
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := a.runStep(context.Background(), "slow", 20*time.Millisecond, func(ctx context.Context) error {
		<-release
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("step did not honor its bound")
	}

	err = a.runStep(context.Background(), "panics", time.Second, func(context.Context) error {
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v, want panic error", err)
	}
}
