package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-arena/pkg/chessdto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type SocketState string

const (
	StateDisconnected SocketState = "disconnected"
	StateConnecting   SocketState = "connecting"
	StateConnected    SocketState = "connected"
	StateClosed       SocketState = "closed"
)

// Frame is one inbound event. Raw keeps the full payload for typed decoding.
type Frame struct {
	Type string
	Raw  json.RawMessage
}

// Decode unmarshals the frame into v (e.g. *chessdto.MoveEvent).
func (f Frame) Decode(v any) error { return json.Unmarshal(f.Raw, v) }

type MessageCallback func(f Frame)

type StateCallback func(state SocketState, err error)

type callbackEntry struct {
	id       int
	callback MessageCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// Socket is a game or presence connection. It does not reconnect.
type Socket struct {
	url   string
	token string

	conn   *websocket.Conn
	state  SocketState
	stateM sync.RWMutex

	msgCbs   []callbackEntry
	stateCbs []stateCallbackEntry
	nextID   int
	cbM      sync.RWMutex

	pingInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// GameSocket prepares a connection to /ws/games/{id} with the client's session.
func (c *Client) GameSocket(gameID string) *Socket {
	return newSocket(wsURL(c.baseURL)+"/ws/games/"+gameID, c.Token())
}

// PresenceSocket prepares a connection to /ws/presence.
func (c *Client) PresenceSocket() *Socket {
	return newSocket(wsURL(c.baseURL)+"/ws/presence", c.Token())
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

func newSocket(url, token string) *Socket {
	return &Socket{
		url:          url,
		token:        token,
		state:        StateDisconnected,
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

func (s *Socket) Connect(ctx context.Context) error {
	s.stateM.Lock()
	if s.state == StateConnected || s.state == StateConnecting {
		s.stateM.Unlock()
		return nil
	}
	s.stateM.Unlock()
	s.setState(StateConnecting, nil)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	hdr := http.Header{}
	if s.token != "" {
		hdr.Set("Authorization", "Bearer "+s.token)
	}
	conn, resp, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			err = &APIError{Status: resp.StatusCode, DomainError: chessdto.DomainError{Message: err.Error()}}
		}
		s.setState(StateDisconnected, err)
		return err
	}
	s.conn = conn
	s.setState(StateConnected, nil)

	s.wg.Add(2)
	go s.listen()
	go s.pingLoop()
	return nil
}

func (s *Socket) listen() {
	defer s.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	for {
		_, raw, err := s.conn.Read(ctx)
		if err != nil {
			if s.isStopping() {
				return
			}
			s.setState(StateDisconnected, err)
			return
		}
		var head struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(raw, &head) != nil {
			continue
		}
		f := Frame{Type: head.Type, Raw: raw}

		s.cbM.RLock()
		callbacks := make([]callbackEntry, len(s.msgCbs))
		copy(callbacks, s.msgCbs)
		s.cbM.RUnlock()
		for _, entry := range callbacks {
			if entry.callback != nil {
				entry.callback(f)
			}
		}
	}
}

func (s *Socket) pingLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := s.conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				s.setState(StateDisconnected, err)
				_ = s.conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (s *Socket) OnMessage(cb MessageCallback) int {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	s.nextID++
	s.msgCbs = append(s.msgCbs, callbackEntry{id: s.nextID, callback: cb})
	return s.nextID
}

func (s *Socket) RemoveMessageCallback(id int) {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	for i, cb := range s.msgCbs {
		if cb.id == id {
			s.msgCbs = append(s.msgCbs[:i], s.msgCbs[i+1:]...)
			break
		}
	}
}

func (s *Socket) OnStateChange(cb StateCallback) int {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	s.nextID++
	s.stateCbs = append(s.stateCbs, stateCallbackEntry{id: s.nextID, callback: cb})
	return s.nextID
}

func (s *Socket) State() SocketState {
	s.stateM.RLock()
	defer s.stateM.RUnlock()
	return s.state
}

func (s *Socket) setState(state SocketState, err error) {
	s.stateM.Lock()
	s.state = state
	s.stateM.Unlock()

	s.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(s.stateCbs))
	copy(callbacks, s.stateCbs)
	s.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state, err)
		}
	}
}

var errNotConnected = errors.New("socket not connected")

func (s *Socket) send(ctx context.Context, in chessdto.Inbound) error {
	if s.State() != StateConnected || s.conn == nil {
		return errNotConnected
	}
	return wsjson.Write(ctx, s.conn, in)
}

func (s *Socket) Move(ctx context.Context, move string) error {
	return s.send(ctx, chessdto.Inbound{Type: chessdto.TypeMove, Move: move})
}

func (s *Socket) Resign(ctx context.Context) error {
	return s.send(ctx, chessdto.Inbound{Type: chessdto.TypeResign})
}

func (s *Socket) Ping(ctx context.Context) error {
	return s.send(ctx, chessdto.Inbound{Type: chessdto.TypePing})
}

// Close stops the loops and waits for them, bounded by ctx.
func (s *Socket) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		s.setState(StateClosed, nil)
		return nil
	}
}

func (s *Socket) isStopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}
