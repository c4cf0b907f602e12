package timer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"bosstimer/internal/schedule"
	"bosstimer/internal/storage"
	logx "bosstimer/pkg/logx"

	"github.com/google/uuid"
)

// StorageKey is the storage key of the persisted collection.
const StorageKey = "bosstimer_v1"

// DefaultDelayStep is the manual delay applied when none is given.
const DefaultDelayStep = 5 * time.Minute

// Spec is user input for a new timer.
//
// PreAlerts nil means "use the store defaults"; an empty, non-nil slice
// means no pre-alerts.
type Spec struct {
	Name      string `json:"name"`
	Mode      Mode   `json:"mode"`
	Minutes   int    `json:"minutes,omitempty"`
	Repeat    bool   `json:"repeat,omitempty"`
	DailyHHMM string `json:"dailyHHMM,omitempty"`
	PreAlerts []int  `json:"preAlerts,omitempty"`
}

type Options struct {
	Key              string
	Location         *time.Location
	DelayStep        time.Duration
	DefaultPreAlerts []int
}

// Store is the single owner of the timer collection. Every read and write
// takes mu, so a tick running under Update never interleaves with a user
// mutation.
type Store struct {
	kv  storage.Store
	key string
	log logx.Logger

	mu        sync.Mutex
	timers    []*Timer
	loc       *time.Location
	delayStep time.Duration
	preAlerts []int
}

func NewStore(kv storage.Store, log logx.Logger, opts Options) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{
		kv:  kv,
		key: strings.TrimSpace(opts.Key),
		log: log,
	}
	if s.key == "" {
		s.key = StorageKey
	}
	s.SetLocation(opts.Location)
	s.SetDelayStep(opts.DelayStep)
	s.SetDefaultPreAlerts(opts.DefaultPreAlerts)
	return s
}

func (s *Store) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	s.mu.Lock()
	s.loc = loc
	s.mu.Unlock()
}

func (s *Store) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func (s *Store) SetDelayStep(d time.Duration) {
	if d <= 0 {
		d = DefaultDelayStep
	}
	s.mu.Lock()
	s.delayStep = d
	s.mu.Unlock()
}

func (s *Store) SetDefaultPreAlerts(mins []int) {
	norm := NormalizePreAlerts(mins)
	if mins == nil {
		norm = []int{5, 10, 15}
	}
	s.mu.Lock()
	s.preAlerts = norm
	s.mu.Unlock()
}

// Load replaces the in-memory collection with the persisted one.
//
// It never fails: unreadable or malformed storage yields an empty
// collection, and individual records that do not validate are dropped.
func (s *Store) Load(ctx context.Context) []Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timers = nil
	b, ok, err := s.kv.Get(ctx, s.key)
	switch {
	case err != nil:
		s.log.Warn("timer storage unreadable; starting empty", logx.String("key", s.key), logx.Err(err))
	case ok:
		s.timers = s.decodePersisted(b)
	}
	return s.snapshotLocked()
}

func (s *Store) decodePersisted(b []byte) []*Timer {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		s.log.Warn("timer storage corrupted; starting empty", logx.String("key", s.key), logx.Err(err))
		return nil
	}
	out := make([]*Timer, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, r := range raw {
		var t Timer
		if err := json.Unmarshal(r, &t); err != nil {
			s.log.Warn("dropping malformed timer record", logx.Int("index", i), logx.Err(err))
			continue
		}
		if err := t.Validate(); err != nil {
			s.log.Warn("dropping invalid timer record", logx.Int("index", i), logx.String("id", t.ID), logx.Err(err))
			continue
		}
		if _, dup := seen[t.ID]; dup {
			s.log.Warn("dropping duplicate timer record", logx.Int("index", i), logx.String("id", t.ID))
			continue
		}
		seen[t.ID] = struct{}{}
		if t.PreAlerts == nil {
			t.PreAlerts = []int{}
		}
		t.EnsureCycle()
		out = append(out, &t)
	}
	return out
}

// Save persists the current collection.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx, s.timers)
}

func (s *Store) persistLocked(ctx context.Context, timers []*Timer) error {
	if timers == nil {
		timers = []*Timer{}
	}
	b, err := json.Marshal(timers)
	if err != nil {
		return fmt.Errorf("encode timers: %w", err)
	}
	if err := s.kv.Put(ctx, s.key, b); err != nil {
		return fmt.Errorf("save timers: %w", err)
	}
	return nil
}

func (s *Store) snapshotLocked() []Timer {
	out := make([]Timer, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, *t.Clone())
	}
	return out
}

// All returns copies in collection order.
func (s *Store) All() []Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// List returns copies ordered by nextAt (ties by name, then id).
func (s *Store) List() []Timer {
	out := s.All()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NextAt != out[j].NextAt {
			return out[i].NextAt < out[j].NextAt
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Get(id string) (Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return *s.timers[i].Clone(), nil
	}
	return Timer{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *Store) indexLocked(id string) int {
	for i, t := range s.timers {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Build validates spec and returns a new timer scheduled relative to now.
func Build(spec Spec, now time.Time, loc *time.Location, defaultPreAlerts []int) (*Timer, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "required"}
	}
	pre := defaultPreAlerts
	if spec.PreAlerts != nil {
		for _, m := range spec.PreAlerts {
			if m <= 0 {
				return nil, &ValidationError{Field: "preAlerts", Reason: fmt.Sprintf("%d is not a positive number of minutes", m)}
			}
		}
		pre = spec.PreAlerts
	}

	t := &Timer{ID: uuid.NewString(), Name: name, PreAlerts: NormalizePreAlerts(pre)}
	switch spec.Mode {
	case ModeCountdown, "":
		if spec.Minutes <= 0 {
			return nil, &ValidationError{Field: "minutes", Reason: "must be > 0"}
		}
		t.Mode = ModeCountdown
		t.DurationMs = int64(spec.Minutes) * time.Minute.Milliseconds()
		t.RepeatEvery = spec.Repeat
		t.NextAt = now.UnixMilli() + t.DurationMs
	case ModeDaily:
		if strings.TrimSpace(spec.DailyHHMM) == "" {
			return nil, &ValidationError{Field: "dailyHHMM", Reason: "required"}
		}
		hhmm, err := schedule.NormalizeHHMM(spec.DailyHHMM)
		if err != nil {
			return nil, &ValidationError{Field: "dailyHHMM", Reason: err.Error()}
		}
		next, err := schedule.NextDaily(hhmm, now, loc)
		if err != nil {
			return nil, &ValidationError{Field: "dailyHHMM", Reason: err.Error()}
		}
		t.Mode = ModeDaily
		t.DailyHHMM = hhmm
		t.NextAt = next.UnixMilli()
	default:
		return nil, &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", spec.Mode)}
	}
	t.BeginCycle()
	return t, nil
}

// Add creates and persists a timer. On error nothing changes.
func (s *Store) Add(ctx context.Context, spec Spec, now time.Time) (Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := Build(spec, now, s.loc, s.preAlerts)
	if err != nil {
		return Timer{}, err
	}
	next := append(append(make([]*Timer, 0, len(s.timers)+1), s.timers...), t)
	if err := s.persistLocked(ctx, next); err != nil {
		return Timer{}, err
	}
	s.timers = next
	s.log.Info("timer added",
		logx.String("id", t.ID),
		logx.String("name", t.Name),
		logx.String("mode", string(t.Mode)),
		logx.EpochMs("next_at", t.NextAt),
	)
	return *t.Clone(), nil
}

// Remove deletes a timer by id.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := make([]*Timer, 0, len(s.timers)-1)
	next = append(next, s.timers[:i]...)
	next = append(next, s.timers[i+1:]...)
	if err := s.persistLocked(ctx, next); err != nil {
		return err
	}
	s.timers = next
	s.log.Info("timer removed", logx.String("id", id))
	return nil
}

// Delay pushes nextAt back by d (the configured step when d <= 0) and starts
// a fresh firing record under the new cycle key.
func (s *Store) Delay(ctx context.Context, id string, d time.Duration) (Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return Timer{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if d <= 0 {
		d = s.delayStep
	}
	t := s.timers[i].Clone()
	t.NextAt += d.Milliseconds()
	t.BeginCycle()

	next := append([]*Timer(nil), s.timers...)
	next[i] = t
	if err := s.persistLocked(ctx, next); err != nil {
		return Timer{}, err
	}
	s.timers = next
	s.log.Info("timer delayed", logx.String("id", id), logx.Duration("by", d), logx.EpochMs("next_at", t.NextAt))
	return *t.Clone(), nil
}

// Update runs fn over the live collection with the store locked. fn may
// mutate the timers in place and returns the collection to keep plus
// whether anything changed. Changed collections are persisted; the
// in-memory result is kept even if persisting fails.
func (s *Store) Update(ctx context.Context, fn func(timers []*Timer) ([]*Timer, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, changed := fn(s.timers)
	s.timers = next
	if !changed {
		return nil
	}
	if err := s.persistLocked(ctx, next); err != nil {
		s.log.Warn("timer save failed", logx.Err(err))
		return err
	}
	return nil
}

// Export returns the collection as pretty-printed JSON.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	timers := s.timers
	if timers == nil {
		timers = []*Timer{}
	}
	return json.MarshalIndent(timers, "", "  ")
}

// Import replaces the collection with the usable records of the payload and
// reports the records it skipped. On error the collection is left untouched.
func (s *Store) Import(ctx context.Context, data []byte, now time.Time) ([]Timer, []*ImportError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timers, skipped, err := DecodeImport(data, now, s.loc)
	if err != nil {
		return nil, skipped, err
	}
	if err := s.persistLocked(ctx, timers); err != nil {
		return nil, skipped, err
	}
	s.timers = timers
	for _, sk := range skipped {
		s.log.Warn("import record skipped", logx.Int("index", sk.Index), logx.String("field", sk.Field), logx.String("reason", sk.Reason))
	}
	s.log.Info("timers imported", logx.Int("count", len(timers)), logx.Int("skipped", len(skipped)))
	return s.snapshotLocked(), skipped, nil
}
