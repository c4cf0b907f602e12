package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"bosstimer/internal/eventbus"
	"bosstimer/internal/prefs"
	"bosstimer/internal/timer"
	logx "bosstimer/pkg/logx"

	"github.com/gin-gonic/gin"
)

const exportFilename = "bosstimer-export.json"

func (s *Server) fail(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed", logx.String("path", c.FullPath()), logx.Err(err))
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorBody{Error: msg})
}

func (s *Server) publish(typ string, data any) {
	s.deps.Bus.Publish(eventbus.Event{Type: typ, Time: s.deps.Clock.Now(), Data: data})
}

func (s *Server) health(c *gin.Context) {
	out := gin.H{
		"status": "ok",
		"time":   s.deps.Clock.Now(),
	}
	if s.deps.Timers != nil {
		out["timers"] = len(s.deps.Timers.All())
	}
	if s.deps.Engine != nil {
		out["engine"] = s.deps.Engine.Stats()
	}
	if s.deps.Health != nil {
		for k, v := range s.deps.Health() {
			out[k] = v
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listTimers(c *gin.Context) {
	now := s.deps.Clock.Now()
	c.JSON(http.StatusOK, TimerList{Now: now.UnixMilli(), Items: viewsOf(s.deps.Timers.List(), now)})
}

func (s *Server) addTimer(c *gin.Context) {
	var spec timer.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	now := s.deps.Clock.Now()
	t, err := s.deps.Timers.Add(c.Request.Context(), spec, now)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.publish(eventbus.TimerAdded, t)
	c.JSON(http.StatusCreated, viewOf(t, now))
}

func (s *Server) deleteTimer(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Timers.Remove(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	s.publish(eventbus.TimerRemoved, gin.H{"timerId": id})
	c.Status(http.StatusNoContent)
}

func (s *Server) delayTimer(c *gin.Context) {
	var req DelayRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "invalid body: "+err.Error())
			return
		}
	}
	if req.Minutes < 0 {
		badRequest(c, "minutes must be >= 0")
		return
	}
	t, err := s.deps.Timers.Delay(c.Request.Context(), c.Param("id"), time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.publish(eventbus.TimerDelayed, t)
	c.JSON(http.StatusOK, viewOf(t, s.deps.Clock.Now()))
}

func (s *Server) testTimer(c *gin.Context) {
	if err := s.deps.Engine.Test(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

func (s *Server) exportTimers(c *gin.Context) {
	b, err := s.deps.Timers.Export()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	c.Data(http.StatusOK, "application/json; charset=utf-8", b)
}

func (s *Server) importTimers(c *gin.Context) {
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes))
	if err != nil {
		badRequest(c, "read body: "+err.Error())
		return
	}
	now := s.deps.Clock.Now()
	ts, skipped, err := s.deps.Timers.Import(c.Request.Context(), data, now)
	if err != nil {
		s.fail(c, err)
		return
	}
	res := ImportResult{Imported: len(ts), Items: viewsOf(ts, now), Skipped: []ImportSkip{}}
	for _, sk := range skipped {
		res.Skipped = append(res.Skipped, ImportSkip{Index: sk.Index, Field: sk.Field, Reason: sk.Reason})
	}
	s.publish(eventbus.TimersImported, gin.H{"count": len(ts), "skipped": len(skipped)})
	c.JSON(http.StatusOK, res)
}

func (s *Server) listHistory(c *gin.Context) {
	items, limit := s.deps.History.List()
	c.JSON(http.StatusOK, HistoryList{Items: items, Limit: limit})
}

func (s *Server) setHistoryLimit(c *gin.Context) {
	var req LimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	limit, err := s.deps.History.SetLimit(c.Request.Context(), req.Limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.publish(eventbus.HistoryChanged, gin.H{"limit": limit})
	c.JSON(http.StatusOK, LimitRequest{Limit: limit})
}

func (s *Server) deleteHistory(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.History.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	s.publish(eventbus.HistoryChanged, gin.H{"deleted": id})
	c.Status(http.StatusNoContent)
}

func (s *Server) clearHistory(c *gin.Context) {
	if err := s.deps.History.Clear(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	s.publish(eventbus.HistoryChanged, gin.H{"cleared": true})
	c.Status(http.StatusNoContent)
}

func (s *Server) getLayout(c *gin.Context) {
	c.JSON(http.StatusOK, LayoutBody{Layout: s.deps.Layout.Get()})
}

func (s *Server) putLayout(c *gin.Context) {
	var req LayoutBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	if err := s.deps.Layout.Set(c.Request.Context(), req.Layout); err != nil {
		if errors.Is(err, prefs.ErrInvalidLayout) {
			badRequest(c, err.Error())
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, LayoutBody{Layout: s.deps.Layout.Get()})
}
