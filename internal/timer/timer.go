// Package timer owns the timer collection: the record type, its validation,
// the persisted store, and the import/export formats.
package timer

import (
	"sort"
	"strconv"
	"strings"

	"bosstimer/internal/schedule"
)

type Mode string

const (
	ModeCountdown Mode = "countdown"
	ModeDaily     Mode = "daily"
)

// DueKey is the alert key recorded when a timer reaches nextAt.
const DueKey = "due"

// Kind values used in history entries.
const (
	KindCountdown = "countdown"
	KindDaily     = "daily"
	KindOnce      = "once"
)

// Fired maps cycle key -> alert key -> fired. Only fired keys are present.
type Fired map[string]map[string]bool

// Timer is one reminder. Only the fields of the active Mode are set:
// countdown uses DurationMs and RepeatEvery, daily uses DailyHHMM.
type Timer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Mode        Mode   `json:"mode"`
	DurationMs  int64  `json:"durationMs,omitempty"`
	RepeatEvery bool   `json:"repeatEvery,omitempty"`
	DailyHHMM   string `json:"dailyHHMM,omitempty"`
	NextAt      int64  `json:"nextAt"`
	PreAlerts   []int  `json:"preAlerts"`
	Fired       Fired  `json:"fired"`
}

// CycleKey identifies the current scheduling period.
func (t *Timer) CycleKey() string { return strconv.FormatInt(t.NextAt, 10) }

// PreAlertKey is the alert key for a lead time in minutes.
func PreAlertKey(min int) string { return strconv.Itoa(min) }

// Kind classifies the timer for history: daily, repeating countdown, or once.
func (t *Timer) Kind() string {
	switch {
	case t.Mode == ModeDaily:
		return KindDaily
	case t.RepeatEvery:
		return KindCountdown
	default:
		return KindOnce
	}
}

// EnsureCycle returns the firing record of the current cycle, creating it
// when absent. Records of other cycles are dropped.
func (t *Timer) EnsureCycle() map[string]bool {
	key := t.CycleKey()
	if t.Fired == nil {
		t.Fired = Fired{}
	}
	for k := range t.Fired {
		if k != key {
			delete(t.Fired, k)
		}
	}
	rec, ok := t.Fired[key]
	if !ok || rec == nil {
		rec = map[string]bool{}
		t.Fired[key] = rec
	}
	return rec
}

// BeginCycle replaces the firing record with an empty one for the current nextAt.
func (t *Timer) BeginCycle() {
	t.Fired = Fired{t.CycleKey(): {}}
}

// HasFired reports whether alertKey fired in the current cycle.
func (t *Timer) HasFired(alertKey string) bool {
	return t.Fired[t.CycleKey()][alertKey]
}

// MarkFired records alertKey for the current cycle.
func (t *Timer) MarkFired(alertKey string) {
	t.EnsureCycle()[alertKey] = true
}

// Clone returns a deep copy.
func (t *Timer) Clone() *Timer {
	cp := *t
	cp.PreAlerts = append([]int(nil), t.PreAlerts...)
	if t.Fired != nil {
		cp.Fired = make(Fired, len(t.Fired))
		for k, rec := range t.Fired {
			m := make(map[string]bool, len(rec))
			for ak, v := range rec {
				m[ak] = v
			}
			cp.Fired[k] = m
		}
	}
	return &cp
}

// Validate checks the record invariants.
func (t *Timer) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return &ValidationError{Field: "id", Reason: "required"}
	}
	if strings.TrimSpace(t.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	switch t.Mode {
	case ModeCountdown:
		if t.DurationMs <= 0 {
			return &ValidationError{Field: "durationMs", Reason: "must be > 0"}
		}
		if t.DailyHHMM != "" {
			return &ValidationError{Field: "dailyHHMM", Reason: "not allowed for countdown timers"}
		}
	case ModeDaily:
		if _, _, err := schedule.ParseHHMM(t.DailyHHMM); err != nil {
			return &ValidationError{Field: "dailyHHMM", Reason: err.Error()}
		}
		if t.DurationMs != 0 || t.RepeatEvery {
			return &ValidationError{Field: "mode", Reason: "daily timers take no duration or repeat flag"}
		}
	default:
		return &ValidationError{Field: "mode", Reason: "must be countdown or daily"}
	}
	if t.NextAt <= 0 {
		return &ValidationError{Field: "nextAt", Reason: "must be > 0"}
	}
	for _, m := range t.PreAlerts {
		if m <= 0 {
			return &ValidationError{Field: "preAlerts", Reason: "minutes must be > 0"}
		}
	}
	return nil
}

// NormalizePreAlerts drops non-positive values, de-duplicates and sorts ascending.
func NormalizePreAlerts(in []int) []int {
	out := make([]int, 0, len(in))
	seen := make(map[int]struct{}, len(in))
	for _, m := range in {
		if m <= 0 {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Ints(out)
	return out
}
