package api

import (
	"net/http"
	"time"

	logx "bosstimer/pkg/logx"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12
	wsBuffer   = 64
)

// The API is loopback-only, so any origin may connect.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConnect streams bus events. The first frame is a snapshot of the
// timer list.
func (s *Server) wsConnect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("ws upgrade failed", logx.Err(err))
		return
	}
	defer func() { _ = conn.Close() }()

	events, unsub := s.deps.Bus.Subscribe(wsBuffer)
	defer unsub()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go s.wsReader(conn, done)

	now := s.deps.Clock.Now()
	snap := wsEnvelope{Type: "snapshot", Time: now}
	if s.deps.Timers != nil {
		snap.Data = TimerList{Now: now.UnixMilli(), Items: viewsOf(s.deps.Timers.List(), now)}
	}
	if err := writeJSON(conn, snap); err != nil {
		s.log.Debug("ws write failed", logx.Err(err))
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	quit := s.quitCh()
	for {
		select {
		case <-done:
			return
		case <-quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
				time.Now().Add(writeWait))
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := writeJSON(conn, wsEnvelope{Type: e.Type, Time: e.Time, Data: e.Data}); err != nil {
				s.log.Debug("ws write failed", logx.Err(err))
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// wsReader drains client frames so control messages are handled and a
// closed connection is noticed.
func (s *Server) wsReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.log.Debug("ws closed", logx.Err(err))
			return
		}
	}
}
