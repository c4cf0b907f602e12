// Package history keeps a bounded, newest-first log of timer firings.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"bosstimer/internal/storage"
	logx "bosstimer/pkg/logx"

	"github.com/google/uuid"
)

const (
	StorageKey   = "bosstimer_history_v1"
	DefaultLimit = 10
	MinLimit     = 1
	MaxLimit     = 50
)

var ErrNotFound = errors.New("history entry not found")

type Entry struct {
	ID          string         `json:"id"`
	TimerID     string         `json:"timerId,omitempty"`
	Title       string         `json:"title"`
	Type        string         `json:"type"`
	TriggeredAt time.Time      `json:"triggeredAt"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// document is the persisted shape.
type document struct {
	Items []Entry `json:"items"`
	Limit int     `json:"limit"`
}

// ClampLimit bounds n to [MinLimit, MaxLimit].
func ClampLimit(n int) int {
	return min(max(n, MinLimit), MaxLimit)
}

// Recorder owns the history list. Every mutation is written through to
// storage before it returns.
type Recorder struct {
	kv  storage.Store
	log logx.Logger
	now func() time.Time

	mu    sync.Mutex
	items []Entry
	limit int
}

func NewRecorder(kv storage.Store, log logx.Logger, limit int) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	return &Recorder{kv: kv, log: log, now: time.Now, limit: ClampLimit(limit)}
}

// Load reads the persisted history. Malformed data is discarded with a
// warning; the limit given to NewRecorder is kept when none was stored.
func (r *Recorder) Load(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok, err := r.kv.Get(ctx, StorageKey)
	if err != nil {
		r.log.Warn("history storage unreadable; starting empty", logx.Err(err))
		return
	}
	if !ok {
		return
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		r.log.Warn("history storage corrupted; starting empty", logx.Err(err))
		return
	}
	if doc.Limit != 0 {
		r.limit = ClampLimit(doc.Limit)
	}
	r.items = doc.Items
	r.pruneLocked()
}

func (r *Recorder) pruneLocked() {
	if len(r.items) > r.limit {
		r.items = r.items[:r.limit]
	}
}

func (r *Recorder) persistLocked(ctx context.Context) error {
	items := r.items
	if items == nil {
		items = []Entry{}
	}
	b, err := json.Marshal(document{Items: items, Limit: r.limit})
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := r.kv.Put(ctx, StorageKey, b); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// Record prepends e and drops the oldest entries beyond the limit. A missing
// ID or TriggeredAt is filled in.
func (r *Recorder) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.TriggeredAt.IsZero() {
		e.TriggeredAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append([]Entry{e}, r.items...)
	r.pruneLocked()
	return e, r.persistLocked(ctx)
}

// SetLimit clamps n to [1,50], prunes immediately and returns the applied limit.
func (r *Recorder) SetLimit(ctx context.Context, n int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limit = ClampLimit(n)
	r.pruneLocked()
	return r.limit, r.persistLocked(ctx)
}

func (r *Recorder) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.items {
		if e.ID == id {
			r.items = append(r.items[:i:i], r.items[i+1:]...)
			return r.persistLocked(ctx)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (r *Recorder) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
	return r.persistLocked(ctx)
}

// List returns a copy of the entries, newest first, and the current limit.
func (r *Recorder) List() ([]Entry, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry{}, r.items...), r.limit
}

func (r *Recorder) Limit() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limit
}
