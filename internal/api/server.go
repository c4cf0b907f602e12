// Package api is the local HTTP control surface of the daemon and the
// client the CLI uses to talk to it.
//
// The server binds to a loopback address and has no authentication.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"bosstimer/internal/engine"
	"bosstimer/internal/eventbus"
	"bosstimer/internal/history"
	"bosstimer/internal/prefs"
	"bosstimer/internal/schedule"
	"bosstimer/internal/timer"
	logx "bosstimer/pkg/logx"

	"github.com/gin-gonic/gin"
)

const (
	maxHeaderBytes    = 1 << 20
	maxImportBytes    = 4 << 20
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Deps are the components the handlers operate on.
type Deps struct {
	Timers  *timer.Store
	Engine  *engine.Engine
	History *history.Recorder
	Layout  *prefs.Layout
	Bus     eventbus.Bus
	Clock   schedule.Clock
	// Health adds fields to GET /health.
	Health func() map[string]any
}

type Options struct {
	Addr  string
	Pprof bool
}

type Server struct {
	deps Deps
	opts Options
	log  logx.Logger
	h    http.Handler

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
	quit chan struct{} // closed on shutdown; ends websocket streams
}

func NewServer(deps Deps, opts Options, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = schedule.SystemClock()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop{}
	}
	s := &Server{deps: deps, opts: opts, log: log, quit: make(chan struct{})}
	s.h = s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.h }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/health", s.health)
	r.GET("/ws", s.wsConnect)

	v1 := r.Group("/api/v1")
	{
		timers := v1.Group("/timers")
		timers.GET("", s.listTimers)
		timers.POST("", s.addTimer)
		timers.DELETE("/:id", s.deleteTimer)
		timers.POST("/:id/delay", s.delayTimer)
		timers.POST("/:id/test", s.testTimer)

		v1.GET("/export", s.exportTimers)
		v1.POST("/import", s.importTimers)

		hist := v1.Group("/history")
		hist.GET("", s.listHistory)
		hist.PUT("/limit", s.setHistoryLimit)
		hist.DELETE("/:id", s.deleteHistory)
		hist.DELETE("", s.clearHistory)

		v1.GET("/layout", s.getLayout)
		v1.PUT("/layout", s.putLayout)
	}

	if s.opts.Pprof {
		dbg := r.Group("/debug/pprof")
		dbg.GET("/", gin.WrapF(pprof.Index))
		dbg.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		dbg.GET("/profile", gin.WrapF(pprof.Profile))
		dbg.POST("/symbol", gin.WrapF(pprof.Symbol))
		dbg.GET("/symbol", gin.WrapF(pprof.Symbol))
		dbg.GET("/trace", gin.WrapF(pprof.Trace))
		dbg.GET("/:name", gin.WrapF(pprof.Index))
	}
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.h,
		MaxHeaderBytes:    maxHeaderBytes,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	quit := make(chan struct{})
	srv.RegisterOnShutdown(func() { close(quit) })
	s.srv, s.ln, s.addr, s.quit = srv, ln, ln.Addr().String(), quit

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("api server error", logx.String("addr", s.Addr()), logx.Err(err))
		}
	}()
	s.log.Info("api listening", logx.String("addr", s.addr))
	return nil
}

func (s *Server) quitCh() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quit
}

// Addr reports the listen address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, addr := s.srv, s.addr
	s.srv, s.ln, s.addr = nil, nil, ""
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
	}
	err := srv.Shutdown(ctx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = srv.Close()
		s.log.Warn("api shutdown error", logx.String("addr", addr), logx.Err(err))
		return err
	}
	s.log.Info("api stopped", logx.String("addr", addr))
	return nil
}
