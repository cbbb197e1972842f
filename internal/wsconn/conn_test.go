package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/fanout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestSendQueueBounded(t *testing.T) {
	c := &Conn{send: make(chan []byte, 1), done: make(chan struct{})}
	require.NoError(t, c.Send(context.Background(), []byte("a")))
	assert.ErrorIs(t, c.Send(context.Background(), []byte("b")), ErrSlowConsumer)

	close(c.done)
	assert.ErrorIs(t, c.Send(context.Background(), []byte("c")), fanout.ErrClosed)
}

type echo struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func TestRunEchoesAndExitsOnClientClose(t *testing.T) {
	finished := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Accept(w, r, "u1", Options{InsecureSkipVerify: true, PingInterval: time.Hour})
		if err != nil {
			return
		}
		_ = c.SendJSON(r.Context(), echo{Type: "hello", Text: c.UserID()})
		finished <- c.Run(context.Background(), func(ctx context.Context, c *Conn, raw []byte) {
			_ = c.SendJSON(ctx, echo{Type: "echo", Text: string(raw)})
		})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	var got echo
	require.NoError(t, wsjson.Read(ctx, client, &got))
	assert.Equal(t, echo{Type: "hello", Text: "u1"}, got)

	require.NoError(t, client.Write(ctx, websocket.MessageText, []byte("ping")))
	require.NoError(t, wsjson.Read(ctx, client, &got))
	assert.Equal(t, echo{Type: "echo", Text: "ping"}, got)

	require.NoError(t, client.Close(websocket.StatusNormalClosure, "bye"))
	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("Run did not return after client close")
	}
}

func TestServerCloseEndsRun(t *testing.T) {
	finished := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Accept(w, r, "u1", Options{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		go func() {
			time.Sleep(20 * time.Millisecond)
			c.Close(websocket.StatusPolicyViolation, "game full")
			c.Close(websocket.StatusPolicyViolation, "again")
		}()
		_ = c.Run(context.Background(), func(context.Context, *Conn, []byte) {})
		close(finished)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.CloseNow()

	_, _, err = client.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))

	select {
	case <-finished:
	case <-ctx.Done():
		t.Fatal("Run did not return after Close")
	}
}
