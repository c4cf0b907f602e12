package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"bosstimer/internal/history"
	"bosstimer/internal/schedule"
	"bosstimer/internal/timer"
)

// TimerView is a timer plus its remaining time relative to the server clock.
type TimerView struct {
	timer.Timer
	Remain schedule.Remain `json:"remain"`
}

func viewOf(t timer.Timer, now time.Time) TimerView {
	return TimerView{Timer: t, Remain: schedule.RemainLabel(t.NextAt - now.UnixMilli())}
}

func viewsOf(ts []timer.Timer, now time.Time) []TimerView {
	out := make([]TimerView, 0, len(ts))
	for _, t := range ts {
		out = append(out, viewOf(t, now))
	}
	return out
}

type TimerList struct {
	Now   int64       `json:"now"`
	Items []TimerView `json:"items"`
}

type ImportResult struct {
	Imported int          `json:"imported"`
	Items    []TimerView  `json:"items"`
	Skipped  []ImportSkip `json:"skipped"`
}

// ImportSkip is a record left out of an import.
type ImportSkip struct {
	Index  int    `json:"index"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

type HistoryList struct {
	Items []history.Entry `json:"items"`
	Limit int             `json:"limit"`
}

type DelayRequest struct {
	Minutes int `json:"minutes"`
}

type LimitRequest struct {
	Limit int `json:"limit"`
}

type LayoutBody struct {
	Layout string `json:"layout"`
}

// ErrorBody is the JSON shape of every non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Index *int   `json:"index,omitempty"`
}

// wsEnvelope is one websocket frame.
type wsEnvelope struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// errorResponse maps domain errors to a status code and body.
func errorResponse(err error) (int, ErrorBody) {
	var (
		verr *timer.ValidationError
		ierr *timer.ImportError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorBody{Error: verr.Error(), Field: verr.Field}
	case errors.As(err, &ierr):
		body := ErrorBody{Error: ierr.Error(), Field: ierr.Field}
		if ierr.Index >= 0 {
			idx := ierr.Index
			body.Index = &idx
		}
		return http.StatusBadRequest, body
	case errors.Is(err, timer.ErrImportNotArray):
		return http.StatusBadRequest, ErrorBody{Error: err.Error()}
	case errors.Is(err, timer.ErrNotFound), errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Error: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorBody{Error: err.Error()}
	}
}

// APIError is returned by Client for non-2xx responses.
type APIError struct {
	Status  int
	Message string
	Field   string
	Index   *int
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, msg)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}
