// Package schedule holds the pure time helpers used by the engine: the next
// occurrence of a daily HH:MM alarm and the remaining-time label.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseHHMM parses a 24h "HH:MM" wall-clock time.
func ParseHHMM(s string) (hour, minute int, err error) {
	m := reHHMM.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return hour, minute, nil
}

// NormalizeHHMM returns the zero-padded form of a valid time ("9:05" -> "09:05").
func NormalizeHHMM(s string) (string, error) {
	h, m, err := ParseHHMM(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// Daily returns the cron schedule firing every day at hhmm in loc.
func Daily(hhmm string, loc *time.Location) (*cron.SpecSchedule, error) {
	h, m, err := ParseHHMM(hhmm)
	if err != nil {
		return nil, err
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", m, h))
	if err != nil {
		return nil, err
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("unexpected schedule type %T", sched)
	}
	if loc == nil {
		loc = time.Local
	}
	spec.Location = loc
	return spec, nil
}

// NextDaily returns the first instant strictly after now whose wall clock in
// loc reads hhmm:00.000. When now is exactly at the target, the result is
// the same time on the following day. On a day where hhmm does not exist
// (spring-forward gap) the alarm fires that day at the shifted wall time,
// e.g. 02:30 becomes 03:30, instead of skipping the day.
func NextDaily(hhmm string, now time.Time, loc *time.Location) (time.Time, error) {
	spec, err := Daily(hhmm, loc)
	if err != nil {
		return time.Time{}, err
	}
	next := spec.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("no occurrence of %q after %s", strings.TrimSpace(hhmm), now.Format(time.RFC3339))
	}

	h, m, _ := ParseHHMM(hhmm)
	local := now.In(spec.Location)
	for day := 0; day <= 1; day++ {
		c := wallTime(local.Year(), local.Month(), local.Day()+day, h, m, spec.Location)
		if c.After(now) {
			if c.Before(next) {
				next = c
			}
			break
		}
	}
	return next, nil
}

// wallTime is time.Date for h:m that moves a time inside a spring-forward
// gap forward by the gap length. time.Date alone may resolve it backwards.
func wallTime(y int, mo time.Month, d, h, m int, loc *time.Location) time.Time {
	t := time.Date(y, mo, d, h, m, 0, 0, loc)
	if t.Hour() == h && t.Minute() == m {
		return t
	}
	// offsets only jump up across a gap, so the smaller one was in force
	// before it
	_, before := t.Add(-12 * time.Hour).Zone()
	if _, after := t.Add(12 * time.Hour).Zone(); after < before {
		before = after
	}
	naive := time.Date(y, mo, d, h, m, 0, 0, time.UTC)
	return naive.Add(-time.Duration(before) * time.Second).In(loc)
}

// NextDailyMillis is NextDaily on epoch milliseconds.
func NextDailyMillis(hhmm string, nowMs int64, loc *time.Location) (int64, error) {
	next, err := NextDaily(hhmm, time.UnixMilli(nowMs), loc)
	if err != nil {
		return 0, err
	}
	return next.UnixMilli(), nil
}
