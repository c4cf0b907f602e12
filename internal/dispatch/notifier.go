// Package dispatch delivers alert notifications without ever blocking or
// failing the caller.
//
// The engine sees only the one-method Notifier interface. The daemon wires
// it to Service, which queues messages and fans them out on worker
// goroutines to the configured sinks (log, terminal bell, desktop
// notification, Telegram) with rate limiting and retry. Delivery errors are
// logged and dropped at this boundary.
package dispatch

import (
	"context"
	"sync"
	"time"
)

// Notifier raises a user-visible alert. Implementations must return
// promptly and must not panic.
type Notifier interface {
	Notify(title, body string)
}

// Message is one alert as seen by sinks.
type Message struct {
	Title string    `json:"title"`
	Body  string    `json:"body"`
	At    time.Time `json:"at"`
}

// Sink is a delivery channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(string, string) {}

// Recorder keeps every notification in memory. Tests use it in place of the
// real service.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Notify(title, body string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, Message{Title: title, Body: body, At: time.Now()})
	r.mu.Unlock()
}

// Messages returns a copy of what was recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Reset forgets recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}

// Func adapts a function to Notifier.
type Func func(title, body string)

func (f Func) Notify(title, body string) { f(title, body) }
