// Package prefs stores UI preferences that the engine never reads.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"bosstimer/internal/storage"
	logx "bosstimer/pkg/logx"
)

const (
	LayoutKey     = "bosstimer_layout"
	DefaultLayout = "list"
)

var ErrInvalidLayout = errors.New("invalid layout")

var reLayout = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// ValidLayout reports whether s is an acceptable layout token.
func ValidLayout(s string) bool { return reLayout.MatchString(s) }

// Layout persists the preferred list layout as a bare token.
type Layout struct {
	kv  storage.Store
	log logx.Logger

	mu    sync.Mutex
	value string
}

func NewLayout(kv storage.Store, log logx.Logger) *Layout {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Layout{kv: kv, log: log, value: DefaultLayout}
}

// Load reads the stored token. Anything unusable falls back to the default.
func (l *Layout) Load(ctx context.Context) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok, err := l.kv.Get(ctx, LayoutKey)
	switch {
	case err != nil:
		l.log.Warn("layout unreadable", logx.Err(err))
	case ok:
		if v := strings.TrimSpace(string(b)); ValidLayout(v) {
			l.value = v
		} else {
			l.log.Warn("layout value ignored", logx.String("value", v))
		}
	}
	return l.value
}

func (l *Layout) Get() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

// Set validates and persists v.
func (l *Layout) Set(ctx context.Context, v string) error {
	v = strings.ToLower(strings.TrimSpace(v))
	if !ValidLayout(v) {
		return fmt.Errorf("%w: %q", ErrInvalidLayout, v)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.kv.Put(ctx, LayoutKey, []byte(v)); err != nil {
		return fmt.Errorf("save layout: %w", err)
	}
	l.value = v
	return nil
}
