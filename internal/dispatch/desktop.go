package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod = "org.freedesktop.Notifications.Notify"
)

// DesktopSink shows a freedesktop notification over the session bus.
// The connection is opened on first use and reopened after a failure.
type DesktopSink struct {
	appName string
	timeout time.Duration

	mu   sync.Mutex
	conn *dbus.Conn
	dial func() (*dbus.Conn, error)
}

func NewDesktopSink(appName string, timeout time.Duration) *DesktopSink {
	if appName == "" {
		appName = "bosstimer"
	}
	return &DesktopSink{
		appName: appName,
		timeout: timeout,
		dial:    func() (*dbus.Conn, error) { return dbus.ConnectSessionBus() },
	}
}

func (*DesktopSink) Name() string { return "desktop" }

func (s *DesktopSink) Send(ctx context.Context, m Message) error {
	conn, err := s.connect()
	if err != nil {
		return err
	}
	// expire_timeout: -1 lets the server decide.
	expire := int32(-1)
	if s.timeout > 0 {
		expire = int32(s.timeout / time.Millisecond)
	}
	obj := conn.Object(notifyDest, notifyPath)
	call := obj.CallWithContext(ctx, notifyMethod, 0,
		s.appName, uint32(0), "", m.Title, m.Body,
		[]string{}, map[string]dbus.Variant{}, expire)
	if call.Err != nil {
		s.reset()
		return fmt.Errorf("desktop notify: %w", call.Err)
	}
	return nil
}

func (s *DesktopSink) connect() (*dbus.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.conn.Connected() {
		return s.conn, nil
	}
	conn, err := s.dial()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}
	s.conn = conn
	return conn, nil
}

func (s *DesktopSink) reset() {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

// Close releases the bus connection.
func (s *DesktopSink) Close() error {
	s.reset()
	return nil
}
