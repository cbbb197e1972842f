// Package wsconn wraps a server-side WebSocket with a bounded outbound queue.
// A single writer goroutine owns socket writes; producers never block on the network.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/fanout"
	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var ErrSlowConsumer = errors.New("outbound queue full")

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

type Options struct {
	SendBuffer     int
	PingInterval   time.Duration
	OriginPatterns []string
	// InsecureSkipVerify disables the origin check entirely (tests, local dev).
	InsecureSkipVerify bool
}

// Handler processes one inbound text frame.
type Handler func(ctx context.Context, c *Conn, raw []byte)

type Conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	log    *zap.Logger

	send chan []byte
	done chan struct{}

	closeOnce    sync.Once
	pingInterval time.Duration
}

// Accept upgrades the request for an authenticated userID.
func Accept(w http.ResponseWriter, r *http.Request, userID string, o Options) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     o.OriginPatterns,
		InsecureSkipVerify: o.InsecureSkipVerify,
	})
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(maxMessageSize)
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	id := uuid.NewString()
	return &Conn{
		id:           id,
		userID:       userID,
		ws:           ws,
		log:          obslog.Named("ws").With(zap.String("conn_id", id), zap.String("user_id", userID)),
		send:         make(chan []byte, o.SendBuffer),
		done:         make(chan struct{}),
		pingInterval: o.PingInterval,
	}, nil
}

var _ fanout.Conn = (*Conn)(nil)

func (c *Conn) ID() string { return c.id }

func (c *Conn) UserID() string { return c.userID }

// Send queues payload without blocking. A full queue is reported, not waited on.
func (c *Conn) Send(_ context.Context, payload []byte) error {
	select {
	case <-c.done:
		return fanout.ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return fanout.ErrClosed
	default:
		return ErrSlowConsumer
	}
}

// SendJSON encodes v and queues it.
func (c *Conn) SendJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(ctx, b)
}

// WriteNow writes v synchronously. Only for frames sent before Run starts.
func (c *Conn) WriteNow(ctx context.Context, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return wsjson.Write(ctx, c.ws, v)
}

// Run pumps frames until the peer goes away, ctx ends or Close is called.
func (c *Conn) Run(ctx context.Context, handle Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx)
	}()
	if c.pingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.pingLoop(ctx)
		}()
	}
	defer wg.Wait()
	defer cancel()

	for {
		typ, raw, err := c.ws.Read(ctx)
		if err != nil {
			c.Close(websocket.StatusNormalClosure, "")
			return readErr(err)
		}
		if typ != websocket.MessageText {
			continue
		}
		handle(ctx, c, raw)
	}
}

// readErr hides ordinary disconnects.
func readErr(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.ws.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				c.log.Debug("ws_write_failed", zap.Error(err))
				c.Close(websocket.StatusGoingAway, "write failed")
				return
			}
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.ws.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				c.log.Info("ws_ping_timeout")
				c.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

// Close is idempotent and never blocks the caller on the close handshake.
func (c *Conn) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		go func() { _ = c.ws.Close(code, reason) }()
	})
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }
