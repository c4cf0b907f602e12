package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join(t.TempDir(), "absent.json"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("cfg = %+v, want defaults", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return committed config")
	}
}

func TestLoadJSONOverlaysDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "bosstimer.json", `{
		"engine": {"timezone": "UTC", "delay_step": "10m"},
		"history": {"limit": 25}
	}`)
	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Engine.Timezone != "UTC" || cfg.Engine.DelayStep != "10m" {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.TickInterval != "1s" {
		t.Fatalf("tick_interval = %q, want default 1s", cfg.Engine.TickInterval)
	}
	if cfg.History.Limit != 25 {
		t.Fatalf("history.limit = %d, want 25", cfg.History.Limit)
	}
	if cfg.API.Addr != DefaultAPIAddr {
		t.Fatalf("api.addr = %q", cfg.API.Addr)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "bosstimer.yaml", `
storage:
  driver: sqlite
  path: ./state.db
  busy_timeout: 3s
notifier:
  bell: true
  telegram:
    enabled: true
    token: abc
    chat_id: 42
`)
	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "3s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if !cfg.Notifier.Bell || cfg.Notifier.Telegram.ChatID != 42 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if !cfg.Notifier.IsEnabled() {
		t.Fatal("notifier should default to enabled")
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown field", file: "c.json", body: `{"engine": {"tick": "1s"}}`},
		{name: "trailing data", file: "c.json", body: `{} {}`},
		{name: "bad yaml", file: "c.yml", body: "engine: [1, 2"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, t.TempDir(), tt.file, tt.body)
			if _, err := NewConfigManager(p).Parse(); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "bad tick", mutate: func(c *Config) { c.Engine.TickInterval = "soon" }, wantErr: "engine.tick_interval"},
		{name: "negative delay", mutate: func(c *Config) { c.Engine.DelayStep = "-1m" }, wantErr: "engine.delay_step"},
		{name: "bad zone", mutate: func(c *Config) { c.Engine.Timezone = "Mars/Olympus" }, wantErr: "engine.timezone"},
		{name: "bad pre-alert", mutate: func(c *Config) { c.Engine.DefaultPreAlerts = []int{5, 0} }, wantErr: "default_pre_alerts"},
		{name: "bad driver", mutate: func(c *Config) { c.Storage.Driver = "redis" }, wantErr: "storage.driver"},
		{name: "telegram without token", mutate: func(c *Config) {
			c.Notifier.Telegram = TelegramConfig{Enabled: true, ChatID: 1}
		}, wantErr: "notifier.telegram.token"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	ch := m.Subscribe(1)
	first, second := Default(), Default()
	second.History.Limit = 3

	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got != second {
			t.Fatalf("got %+v, want newest config", got.History)
		}
	case <-time.After(time.Second):
		t.Fatal("no config delivered")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5*time.Minute)
	if err != nil || d != 5*time.Minute {
		t.Fatalf("got %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "90s", time.Minute)
	if err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "-2s", time.Minute); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := Default()
	newCfg := Default()
	newCfg.History.Limit = 20
	newCfg.Storage.Driver = "sqlite"
	newCfg.Notifier.Telegram.Token = "secret"

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"history", "notifier", "storage"}
	if !reflect.DeepEqual(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(changed); !reflect.DeepEqual(got, []string{"storage"}) {
		t.Fatalf("RestartRequired = %v", got)
	}
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path string
		body string
		want Format
	}{
		{"c.json", "engine: {}", FormatJSON},
		{"c.YML", "{}", FormatYAML},
		{"/etc/bosstimer/config", "  {\"engine\": {}}", FormatJSON},
		{"/etc/bosstimer/config", "engine:\n  tick: 1s\n", FormatYAML},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.path, []byte(tt.body)); got != tt.want {
			t.Fatalf("DetectFormat(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestDecodeExtensionlessYAML(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if err := Decode("config", []byte("history:\n  limit: 9\n"), cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.History.Limit != 9 {
		t.Fatalf("limit = %d, want 9", cfg.History.Limit)
	}
}

// startWatch runs Watch on a config holding history.limit 4 and returns the
// manager, its subscription and the file path.
func startWatch(t *testing.T) (*ConfigManager, chan *Config, string) {
	t.Helper()
	p := writeFile(t, t.TempDir(), "bosstimer.json", `{"history":{"limit":4}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, ch, p
}

func writeLimit(t *testing.T, path string, limit int) {
	t.Helper()
	body := fmt.Sprintf(`{"history":{"limit":%d}}`, limit)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWatchPublishesEdits(t *testing.T) {
	t.Parallel()
	m, ch, p := startWatch(t)

	// give the watcher time to register, then edit once; edits are retried
	// with gaps longer than the settle delay in case the first was missed
	time.Sleep(300 * time.Millisecond)
	writeLimit(t, p, 7)
	retry := time.NewTicker(time.Second)
	defer retry.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got.History.Limit != 7 {
				t.Fatalf("published limit %d, want 7", got.History.Limit)
			}
			if m.Get() != got {
				t.Fatal("published config was not committed")
			}
			return
		case <-retry.C:
			writeLimit(t, p, 7)
		case <-deadline:
			t.Fatal("no config published after edit")
		}
	}
}

func TestWatchReloadsDuringContinuousWrites(t *testing.T) {
	t.Parallel()
	_, ch, p := startWatch(t)

	// writes every 50ms never settle; the reload must still happen
	write := time.NewTicker(50 * time.Millisecond)
	defer write.Stop()
	deadline := time.After(3*settleMax + time.Second)
	for limit := 5; ; limit++ {
		select {
		case got := <-ch:
			if got.History.Limit < 5 {
				t.Fatalf("published stale limit %d", got.History.Limit)
			}
			return
		case <-write.C:
			writeLimit(t, p, limit)
		case <-deadline:
			t.Fatal("continuous writes starved the reload")
		}
	}
}
