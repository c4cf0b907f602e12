package schedule

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw    string
		h, m   int
		wantOK bool
	}{
		{raw: "09:00", h: 9, m: 0, wantOK: true},
		{raw: "9:05", h: 9, m: 5, wantOK: true},
		{raw: "23:59", h: 23, m: 59, wantOK: true},
		{raw: "00:00", wantOK: true},
		{raw: "24:00"},
		{raw: "12:60"},
		{raw: "1230"},
		{raw: ""},
		{raw: "ab:cd"},
	}
	for _, tt := range tests {
		h, m, err := ParseHHMM(tt.raw)
		if tt.wantOK != (err == nil) {
			t.Fatalf("ParseHHMM(%q) err = %v, wantOK %v", tt.raw, err, tt.wantOK)
		}
		if tt.wantOK && (h != tt.h || m != tt.m) {
			t.Fatalf("ParseHHMM(%q) = %d:%d, want %d:%d", tt.raw, h, m, tt.h, tt.m)
		}
	}
	if got, _ := NormalizeHHMM("7:3"); got != "" {
		t.Fatalf("NormalizeHHMM(7:3) = %q, want rejection", got)
	}
	if got, _ := NormalizeHHMM("7:03"); got != "07:03" {
		t.Fatalf("NormalizeHHMM(7:03) = %q", got)
	}
}

func TestNextDaily(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("KST", 9*3600)
	day := func(d, h, m, s, ms int) time.Time {
		return time.Date(2024, 3, d, h, m, s, ms*int(time.Millisecond), loc)
	}
	tests := []struct {
		name string
		hhmm string
		now  time.Time
		want time.Time
	}{
		{name: "exactly at target rolls over", hhmm: "09:00", now: day(10, 9, 0, 0, 0), want: day(11, 9, 0, 0, 0)},
		{name: "just before target", hhmm: "09:00", now: day(10, 8, 59, 59, 999), want: day(10, 9, 0, 0, 0)},
		{name: "just after target", hhmm: "09:00", now: day(10, 9, 0, 0, 1), want: day(11, 9, 0, 0, 0)},
		{name: "later today", hhmm: "21:30", now: day(10, 9, 0, 0, 0), want: day(10, 21, 30, 0, 0)},
		{name: "midnight", hhmm: "00:00", now: day(10, 23, 59, 0, 0), want: day(11, 0, 0, 0, 0)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NextDaily(tt.hhmm, tt.now, loc)
			if err != nil {
				t.Fatalf("NextDaily error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("NextDaily(%q, %s) = %s, want %s", tt.hhmm, tt.now, got, tt.want)
			}
			if !got.After(tt.now) {
				t.Fatalf("result %s not after now %s", got, tt.now)
			}
		})
	}

	if _, err := NextDaily("25:00", day(10, 0, 0, 0, 0), loc); err == nil {
		t.Fatal("expected error for invalid time")
	}
}

func TestNextDailyAcrossDST(t *testing.T) {
	t.Parallel()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	utc := func(mo time.Month, d, h, m int) time.Time {
		return time.Date(2024, mo, d, h, m, 0, 0, time.UTC)
	}
	tests := []struct {
		name string
		hhmm string
		now  time.Time
		want time.Time
	}{
		// 2024-03-10 02:00 EST jumps to 03:00 EDT
		{name: "missing time fires same day shifted", hhmm: "02:30", now: utc(time.March, 10, 5, 0), want: utc(time.March, 10, 7, 30)},
		{name: "just before shifted alarm", hhmm: "02:30", now: utc(time.March, 10, 7, 15), want: utc(time.March, 10, 7, 30)},
		{name: "after shifted alarm rolls to next day", hhmm: "02:30", now: utc(time.March, 10, 7, 30), want: utc(time.March, 11, 6, 30)},
		{name: "spring day after the gap", hhmm: "09:00", now: utc(time.March, 10, 5, 0), want: utc(time.March, 10, 13, 0)},
		// 2024-11-03 02:00 EDT falls back to 01:00 EST
		{name: "fall back day", hhmm: "09:00", now: utc(time.November, 2, 14, 0), want: utc(time.November, 3, 14, 0)},
		{name: "repeated hour fires once at first pass", hhmm: "01:30", now: utc(time.November, 3, 4, 0), want: utc(time.November, 3, 5, 30)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NextDaily(tt.hhmm, tt.now, ny)
			if err != nil {
				t.Fatalf("NextDaily error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("NextDaily(%q, %s) = %s, want %s", tt.hhmm, tt.now.In(ny), got.In(ny), tt.want.In(ny))
			}
		})
	}
}

func TestNextDailyMillis(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	got, err := NextDailyMillis("09:00", now.UnixMilli(), time.UTC)
	if err != nil {
		t.Fatalf("NextDailyMillis error: %v", err)
	}
	if want := now.Add(24 * time.Hour).UnixMilli(); got != want {
		t.Fatalf("NextDailyMillis = %d, want %d", got, want)
	}
}

func TestRemainLabel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		delta   int64
		label   string
		urgency Urgency
	}{
		{delta: 0, label: "00:00:00", urgency: UrgencySoon},
		{delta: 5 * 60_000, label: "00:05:00", urgency: UrgencySoon},
		{delta: 5*60_000 + 1, label: "00:05:00", urgency: UrgencyNone},
		{delta: 3_723_000, label: "01:02:03", urgency: UrgencyNone},
		{delta: -61_000, label: "-00:01:01", urgency: UrgencyOverdue},
		{delta: -1, label: "-00:00:00", urgency: UrgencyOverdue},
		{delta: 100 * 3_600_000, label: "100:00:00", urgency: UrgencyNone},
	}
	for _, tt := range tests {
		got := RemainLabel(tt.delta)
		if got.Label != tt.label || got.Urgency != tt.urgency || got.Ms != tt.delta {
			t.Fatalf("RemainLabel(%d) = %+v, want label %q urgency %q", tt.delta, got, tt.label, tt.urgency)
		}
	}
}

func TestManualClock(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	c.Advance(90 * time.Second)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("Now = %s", got)
	}
}
