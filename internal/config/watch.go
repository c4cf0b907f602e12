package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"time"

	logx "bosstimer/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	settleDelay    = 250 * time.Millisecond
	settleMax      = 2 * time.Second
	watchRetryMin  = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
	relevantFileOp = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
)

// Watch follows the config file until ctx ends, reloading once writes have
// settled (or settleMax after the first of a continuous stream). The parent directory is watched so editors that save by rename
// are seen. A broken watcher is recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, name := filepath.Split(m.path)
	if dir == "" {
		dir = "."
	}
	retry := watchRetryMin
	for {
		err := m.watchOnce(ctx, dir, name)
		if ctx.Err() != nil {
			return nil
		}
		wait := retry + rand.N(retry/2+1)
		retry = min(retry*2, watchRetryMax)
		m.log.Warn("config watcher down; retrying",
			logx.String("dir", dir), logx.Duration("backoff", wait), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// watchOnce runs one fsnotify watcher until ctx ends or it breaks.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, name string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	// pendingSince is the first change not yet reloaded; a file that keeps
	// changing still reloads settleMax after it.
	var pendingSince time.Time
	arm := func() {
		now := time.Now()
		if pendingSince.IsZero() {
			pendingSince = now
		}
		settle.Reset(max(min(settleDelay, settleMax-now.Sub(pendingSince)), 0))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settle.C:
			pendingSince = time.Time{}
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event stream closed")
			}
			if filepath.Base(ev.Name) != name || ev.Op&relevantFileOp == 0 {
				continue
			}
			arm()
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errors.New("error stream closed")
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				arm()
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}
