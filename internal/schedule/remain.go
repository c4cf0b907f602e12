package schedule

import (
	"fmt"
	"time"
)

type Urgency string

const (
	UrgencyNone    Urgency = ""
	UrgencySoon    Urgency = "soon"
	UrgencyOverdue Urgency = "overdue"
)

// SoonWindow is the largest remaining time still classified as soon.
const SoonWindow = 5 * time.Minute

type Remain struct {
	Ms      int64   `json:"remainMs"`
	Label   string  `json:"label"`
	Urgency Urgency `json:"urgency,omitempty"`
}

// RemainLabel formats deltaMs as [-]HH:MM:SS. Hours are not capped at two digits.
func RemainLabel(deltaMs int64) Remain {
	var u Urgency
	switch {
	case deltaMs < 0:
		u = UrgencyOverdue
	case deltaMs <= SoonWindow.Milliseconds():
		u = UrgencySoon
	}

	abs := deltaMs
	sign := ""
	if abs < 0 {
		abs = -abs
		sign = "-"
	}
	h := abs / 3_600_000
	m := (abs / 60_000) % 60
	s := (abs / 1000) % 60
	return Remain{
		Ms:      deltaMs,
		Label:   fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s),
		Urgency: u,
	}
}
