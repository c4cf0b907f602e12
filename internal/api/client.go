package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bosstimer/internal/timer"

	"github.com/go-resty/resty/v2"
)

const DefaultClientTimeout = 10 * time.Second

// Client talks to a running daemon.
type Client struct {
	http *resty.Client
}

// NewClient builds a client for base, e.g. "http://127.0.0.1:8787". A bare
// host:port is accepted.
func NewClient(base string, timeout time.Duration) *Client {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &Client{http: c}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx).SetError(&ErrorBody{})
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		ae := &APIError{Status: resp.StatusCode()}
		if eb, ok := resp.Error().(*ErrorBody); ok && eb != nil {
			ae.Message, ae.Field, ae.Index = eb.Error, eb.Field, eb.Index
		}
		return resp, ae
	}
	return resp, nil
}

func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	_, err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *Client) ListTimers(ctx context.Context) (TimerList, error) {
	var out TimerList
	_, err := c.do(ctx, http.MethodGet, "/api/v1/timers", nil, &out)
	return out, err
}

func (c *Client) AddTimer(ctx context.Context, spec timer.Spec) (TimerView, error) {
	var out TimerView
	_, err := c.do(ctx, http.MethodPost, "/api/v1/timers", spec, &out)
	return out, err
}

func (c *Client) DeleteTimer(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/timers/"+url.PathEscape(id), nil, nil)
	return err
}

// Delay pushes a timer back. minutes <= 0 uses the server's step.
func (c *Client) Delay(ctx context.Context, id string, minutes int) (TimerView, error) {
	var out TimerView
	var body any
	if minutes > 0 {
		body = DelayRequest{Minutes: minutes}
	}
	_, err := c.do(ctx, http.MethodPost, "/api/v1/timers/"+url.PathEscape(id)+"/delay", body, &out)
	return out, err
}

func (c *Client) TestNotify(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/timers/"+url.PathEscape(id)+"/test", nil, nil)
	return err
}

// Export returns the pretty-printed collection exactly as served.
func (c *Client) Export(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/export", nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (c *Client) Import(ctx context.Context, data []byte) (ImportResult, error) {
	var out ImportResult
	_, err := c.do(ctx, http.MethodPost, "/api/v1/import", data, &out)
	return out, err
}

func (c *Client) History(ctx context.Context) (HistoryList, error) {
	var out HistoryList
	_, err := c.do(ctx, http.MethodGet, "/api/v1/history", nil, &out)
	return out, err
}

func (c *Client) SetHistoryLimit(ctx context.Context, n int) (int, error) {
	var out LimitRequest
	_, err := c.do(ctx, http.MethodPut, "/api/v1/history/limit", LimitRequest{Limit: n}, &out)
	return out.Limit, err
}

func (c *Client) DeleteHistory(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/history/"+url.PathEscape(id), nil, nil)
	return err
}

func (c *Client) ClearHistory(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/history", nil, nil)
	return err
}

func (c *Client) Layout(ctx context.Context) (string, error) {
	var out LayoutBody
	_, err := c.do(ctx, http.MethodGet, "/api/v1/layout", nil, &out)
	return out.Layout, err
}

func (c *Client) SetLayout(ctx context.Context, layout string) (string, error) {
	var out LayoutBody
	_, err := c.do(ctx, http.MethodPut, "/api/v1/layout", LayoutBody{Layout: layout}, &out)
	return out.Layout, err
}
