// Package client talks to a cheese-arena server over REST (fasthttp) and WebSocket (nhooyr).
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/valyala/fasthttp"
)

// APIError is a non-2xx response.
type APIError struct {
	Status int
	chessdto.DomainError
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d message=%s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	http    *fasthttp.Client

	mu    sync.RWMutex
	token string

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithToken starts the client with an existing session token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(t string) {
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
}

func (c *Client) Register(ctx context.Context, username, password string) (*chessdto.AuthResponse, error) {
	var out chessdto.AuthResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/register", chessdto.Credentials{Username: username, Password: password}, &out, false); err != nil {
		return nil, err
	}
	c.setToken(out.Token)
	return &out, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*chessdto.AuthResponse, error) {
	var out chessdto.AuthResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/login", chessdto.Credentials{Username: username, Password: password}, &out, false); err != nil {
		return nil, err
	}
	c.setToken(out.Token)
	return &out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/logout", nil, nil, false); err != nil {
		return err
	}
	c.setToken("")
	return nil
}

func (c *Client) CreateGame(ctx context.Context, color string) (*chessdto.CreateGameResponse, error) {
	var out chessdto.CreateGameResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games", chessdto.CreateGameRequest{Color: color}, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Game(ctx context.Context, id string) (*chessdto.GameView, error) {
	var out chessdto.GameView
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/games/"+id, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PGN(ctx context.Context, id string) (string, error) {
	b, err := c.doRaw(ctx, fasthttp.MethodGet, "/games/"+id+"/pgn", nil, true)
	return string(b), err
}

// BoardPNG fetches the rendered board. size <= 0 keeps the server default.
func (c *Client) BoardPNG(ctx context.Context, id string, flip bool, size int) ([]byte, error) {
	path := "/games/" + id + "/board.png?flip=" + strconv.FormatBool(flip)
	if size > 0 {
		path += "&size=" + strconv.Itoa(size)
	}
	return c.doRaw(ctx, fasthttp.MethodGet, path, nil, true)
}

func (c *Client) Online(ctx context.Context) ([]string, error) {
	var out chessdto.OnlineResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/online", nil, &out, true); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) Health(ctx context.Context) (*chessdto.HealthResponse, error) {
	var out chessdto.HealthResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/healthz", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = b
	}
	body, err := c.doRaw(ctx, method, path, payload, retry)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// doRaw sends one request, retrying transport errors and 5xx when retry is set.
func (c *Client) doRaw(ctx context.Context, method, path string, payload []byte, retry bool) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if payload != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return nil, lastErr
			}
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return nil, lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			apiErr := &APIError{Status: status}
			if json.Unmarshal(resp.Body(), &apiErr.DomainError) != nil || apiErr.Message == "" {
				apiErr.Message = truncate(string(resp.Body()), 512)
			}
			if attempt == attempts || !shouldRetryStatus(status) {
				return nil, apiErr
			}
			lastErr = apiErr
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return nil, lastErr
			}
			continue
		}
		return append([]byte(nil), resp.Body()...), nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return nil, lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func (c *Client) sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
