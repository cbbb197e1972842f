package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/fanout"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	id string

	mu     sync.Mutex
	frames []chessdto.OnlineUsersEvent
}

func (s *sink) ID() string { return s.id }

func (s *sink) Send(_ context.Context, payload []byte) error {
	var ev chessdto.OnlineUsersEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, ev)
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *sink) last() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1].Users
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTracker(t *testing.T, opts ...Option) (*Tracker, *sink, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	tr := New(fanout.New(), append([]Option{WithClock(clk.Now)}, opts...)...)
	s := &sink{id: "watcher"}
	tr.Subscribe(s)
	return tr, s, clk
}

func TestMarkOnlineIdempotent(t *testing.T) {
	tr, s, _ := newTracker(t)
	ctx := context.Background()

	assert.True(t, tr.MarkOnline(ctx, "u1", "alice"))
	assert.False(t, tr.MarkOnline(ctx, "u1", "alice"))
	assert.True(t, tr.MarkOnline(ctx, "u2", "bob"))

	assert.Equal(t, []string{"alice", "bob"}, tr.Roster())
	assert.Equal(t, 2, s.count())
	assert.Equal(t, []string{"alice", "bob"}, s.last())

	assert.True(t, tr.MarkOffline(ctx, "u1"))
	assert.False(t, tr.MarkOffline(ctx, "u1"))
	assert.Equal(t, []string{"bob"}, s.last())
	assert.Equal(t, 3, s.count())
}

func TestLastConnectionRemovesUser(t *testing.T) {
	tr, s, _ := newTracker(t)
	ctx := context.Background()

	tr.Connect(ctx, "u1", "alice")
	tr.Connect(ctx, "u1", "alice")
	tr.Connect(ctx, "u2", "bob")
	assert.Equal(t, 2, s.count())

	tr.Disconnect(ctx, "u1")
	assert.True(t, tr.Online("u1"))
	assert.Equal(t, 2, s.count())

	tr.Disconnect(ctx, "u1")
	assert.False(t, tr.Online("u1"))
	assert.Equal(t, []string{"bob"}, tr.Roster())
	require.Equal(t, 3, s.count())
	assert.Equal(t, []string{"bob"}, s.last())

	tr.Disconnect(ctx, "u1")
	assert.Equal(t, 3, s.count())
}

func TestLogoutKeepsConnectionCount(t *testing.T) {
	tr, s, _ := newTracker(t)
	ctx := context.Background()

	tr.Connect(ctx, "u1", "alice") // first tab
	assert.True(t, tr.MarkOffline(ctx, "u1"))
	assert.False(t, tr.Online("u1"))
	assert.Empty(t, s.last())
	assert.False(t, tr.Heartbeat(ctx, "u1"))

	tr.Connect(ctx, "u1", "alice") // second tab
	assert.True(t, tr.Online("u1"))
	assert.Equal(t, []string{"alice"}, s.last())
	sent := s.count()

	tr.Disconnect(ctx, "u1") // first tab closes
	assert.True(t, tr.Online("u1"))
	assert.Equal(t, []string{"alice"}, tr.Roster())
	assert.Equal(t, sent, s.count())

	tr.Disconnect(ctx, "u1")
	assert.False(t, tr.Online("u1"))
	assert.Empty(t, s.last())
}

func TestHiddenUserLeavesQuietly(t *testing.T) {
	tr, s, _ := newTracker(t)
	ctx := context.Background()

	tr.Connect(ctx, "u1", "alice")
	tr.MarkOffline(ctx, "u1")
	assert.False(t, tr.MarkOffline(ctx, "u1"))
	sent := s.count()

	tr.Disconnect(ctx, "u1")
	assert.Equal(t, sent, s.count())
	assert.Empty(t, tr.Roster())

	assert.True(t, tr.MarkOnline(ctx, "u1", "alice"))
	assert.Equal(t, []string{"alice"}, tr.Roster())
}

func TestHeartbeatPolicy(t *testing.T) {
	ctx := context.Background()

	quiet, s, _ := newTracker(t)
	assert.False(t, quiet.Heartbeat(ctx, "u1"))
	quiet.MarkOnline(ctx, "u1", "alice")
	assert.True(t, quiet.Heartbeat(ctx, "u1"))
	assert.Equal(t, 1, s.count())

	loud, s2, _ := newTracker(t, WithHeartbeatBroadcast(true))
	loud.MarkOnline(ctx, "u1", "alice")
	loud.Heartbeat(ctx, "u1")
	assert.Equal(t, 2, s2.count())
}

func TestSweepKeepsConnectedUsers(t *testing.T) {
	tr, s, clk := newTracker(t, WithIdleTimeout(time.Minute))
	ctx := context.Background()

	tr.MarkOnline(ctx, "idle", "carol")
	tr.Connect(ctx, "live", "dave")
	tr.MarkOnline(ctx, "fresh", "erin")

	clk.Advance(45 * time.Second)
	tr.Heartbeat(ctx, "fresh")
	clk.Advance(30 * time.Second)

	before := s.count()
	assert.Equal(t, 1, tr.Sweep(ctx))
	assert.Equal(t, []string{"dave", "erin"}, tr.Roster())
	assert.Equal(t, before+1, s.count())

	assert.Equal(t, 0, tr.Sweep(ctx))
	assert.Equal(t, before+1, s.count())
}

func TestRunStopsOnCancel(t *testing.T) {
	tr, _, _ := newTracker(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	tr, _, _ := newTracker(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Connect(ctx, "u1", "alice")
			_ = tr.Roster()
			tr.Disconnect(ctx, "u1")
		}()
	}
	wg.Wait()
	assert.Empty(t, tr.Roster())
	assert.Equal(t, chessdto.TypeOnlineUsers, tr.RosterEvent().Type)
}
