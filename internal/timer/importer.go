package timer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"bosstimer/internal/schedule"

	"github.com/google/uuid"
)

// UnnamedTimer replaces a missing name on import.
const UnnamedTimer = "Unnamed"

const defaultImportHHMM = "00:00"

// minDerivedDurationMs floors the duration given to a one-shot countdown
// imported with only nextAt.
const minDerivedDurationMs = int64(60_000)

// DecodeImport turns an untrusted JSON array into validated timers.
//
// Each record is coerced: a missing id gets a new one, an unknown mode
// becomes countdown, a missing nextAt is derived from durationMs or
// dailyHHMM, a one-shot countdown with only nextAt gets its duration from
// nextAt, unusable preAlerts entries are dropped, and fired is always reset.
// Records that still cannot form a valid timer are left out and returned
// as skipped. The document fails as a whole only when it is unreadable, not
// an array, or has records but none usable.
func DecodeImport(data []byte, now time.Time, loc *time.Location) ([]*Timer, []*ImportError, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, &ImportError{Index: -1, Reason: "invalid JSON: " + err.Error()}
	}
	if dec.More() {
		return nil, nil, &ImportError{Index: -1, Reason: "invalid JSON: trailing data"}
	}
	arr, ok := doc.([]any)
	if !ok {
		return nil, nil, ErrImportNotArray
	}

	var (
		out     = make([]*Timer, 0, len(arr))
		skipped []*ImportError
		ids     = make(map[string]struct{}, len(arr))
	)
	for i, raw := range arr {
		rec, ok := raw.(map[string]any)
		if !ok {
			skipped = append(skipped, &ImportError{Index: i, Reason: "record is not an object"})
			continue
		}
		t, ierr := coerceRecord(i, rec, now, loc)
		if ierr != nil {
			skipped = append(skipped, ierr)
			continue
		}
		if _, dup := ids[t.ID]; dup {
			t.ID = uuid.NewString()
		}
		ids[t.ID] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 && len(skipped) > 0 {
		return nil, skipped, skipped[0]
	}
	return out, skipped, nil
}

func coerceRecord(i int, rec map[string]any, now time.Time, loc *time.Location) (*Timer, *ImportError) {
	t := &Timer{
		ID:   strings.TrimSpace(stringOf(rec["id"])),
		Name: strings.TrimSpace(stringOf(rec["name"])),
		Mode: ModeCountdown,
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Name == "" {
		t.Name = UnnamedTimer
	}
	if s, _ := rec["mode"].(string); Mode(s) == ModeDaily {
		t.Mode = ModeDaily
	}

	switch t.Mode {
	case ModeDaily:
		hhmm := strings.TrimSpace(stringOf(rec["dailyHHMM"]))
		if hhmm == "" {
			hhmm = defaultImportHHMM
		}
		norm, err := schedule.NormalizeHHMM(hhmm)
		if err != nil {
			return nil, &ImportError{Index: i, Field: "dailyHHMM", Reason: err.Error()}
		}
		t.DailyHHMM = norm
	default:
		t.RepeatEvery = truthy(rec["repeatEvery"])
		if d, ok := numberOf(rec["durationMs"]); ok && d >= 1 {
			t.DurationMs = int64(d)
		}
	}

	if n, ok := numberOf(rec["nextAt"]); ok && n >= 1 {
		t.NextAt = int64(n)
	}
	if t.Mode == ModeCountdown && t.DurationMs == 0 {
		// a one-shot with a due time needs no duration of its own
		if t.RepeatEvery || t.NextAt == 0 {
			return nil, &ImportError{Index: i, Field: "durationMs", Reason: "must be a positive number of milliseconds"}
		}
		t.DurationMs = max(t.NextAt-now.UnixMilli(), minDerivedDurationMs)
	}

	switch {
	case t.NextAt > 0:
	case t.Mode == ModeDaily:
		next, err := schedule.NextDaily(t.DailyHHMM, now, loc)
		if err != nil {
			return nil, &ImportError{Index: i, Field: "dailyHHMM", Reason: err.Error()}
		}
		t.NextAt = next.UnixMilli()
	default:
		t.NextAt = now.UnixMilli() + t.DurationMs
	}

	if list, ok := rec["preAlerts"].([]any); ok {
		mins := make([]int, 0, len(list))
		for _, v := range list {
			f, ok := numberOf(v)
			if !ok || f <= 0 || f != math.Trunc(f) || f > math.MaxInt32 {
				continue
			}
			mins = append(mins, int(f))
		}
		t.PreAlerts = NormalizePreAlerts(mins)
	} else {
		t.PreAlerts = []int{}
	}

	t.BeginCycle()
	if err := t.Validate(); err != nil {
		return nil, &ImportError{Index: i, Reason: err.Error()}
	}
	return t, nil
}

// numberOf converts JSON numbers and numeric strings. NaN and infinities are rejected.
func numberOf(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		var err error
		if f, err = x.Float64(); err != nil {
			return 0, false
		}
	case float64:
		f = x
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(x), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func stringOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool, float64:
		return fmt.Sprint(x)
	default:
		return ""
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x != ""
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	case nil:
		return false
	default:
		return true
	}
}
