// Package presence tracks which users hold a live connection and broadcasts the roster.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/fanout"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/stats"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

// Topic is the global presence channel.
const Topic = "presence"

type entry struct {
	name     string
	lastSeen time.Time
	conns    int
	hidden   bool // logged out while sockets were still open
}

type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry

	hub                  fanout.Broadcaster
	idle                 time.Duration
	broadcastOnHeartbeat bool
	now                  func() time.Time
	log                  *zap.Logger
	stats                stats.Provider
}

type Option func(*Tracker)

// WithIdleTimeout sets how long a connectionless entry survives without activity.
func WithIdleTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.idle = d
		}
	}
}

func WithHeartbeatBroadcast(on bool) Option {
	return func(t *Tracker) { t.broadcastOnHeartbeat = on }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func WithStats(p stats.Provider) Option {
	return func(t *Tracker) {
		if p != nil {
			t.stats = p
		}
	}
}

// New builds a tracker broadcasting on hub. A nil hub gets a private one.
func New(hub fanout.Broadcaster, opts ...Option) *Tracker {
	if hub == nil {
		hub = fanout.New()
	}
	t := &Tracker{
		entries: make(map[string]*entry),
		hub:     hub,
		idle:    2 * time.Minute,
		now:     time.Now,
		log:     obslog.Named("presence"),
		stats:   stats.Nop{},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// MarkOnline adds or refreshes userID. Only a transition to online triggers a broadcast.
func (t *Tracker) MarkOnline(ctx context.Context, userID, name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	shown := t.touchLocked(userID, name)
	if shown {
		t.publishLocked(ctx)
	}
	return shown
}

// MarkOffline takes userID off the roster (explicit logout). Open connections stay
// counted, so a later Connect or Disconnect still sees the right number.
func (t *Tracker) MarkOffline(ctx context.Context, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[userID]
	if !ok || e.hidden {
		return false
	}
	if e.conns > 0 {
		t.hideLocked(e, userID, "offline")
	} else {
		t.removeLocked(userID, "offline")
	}
	t.publishLocked(ctx)
	return true
}

// Heartbeat refreshes last activity. It reports whether the user is online.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[userID]
	if !ok || e.hidden {
		return false
	}
	e.lastSeen = t.now()
	if t.broadcastOnHeartbeat {
		t.publishLocked(ctx)
	}
	return true
}

// Connect counts one more open connection for userID.
func (t *Tracker) Connect(ctx context.Context, userID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	shown := t.touchLocked(userID, name)
	t.entries[userID].conns++
	if shown {
		t.publishLocked(ctx)
	}
}

// Disconnect releases one connection. Closing the last one takes the user offline.
func (t *Tracker) Disconnect(ctx context.Context, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[userID]
	if !ok {
		return
	}
	if e.conns > 0 {
		e.conns--
	}
	if e.conns > 0 {
		return
	}
	visible := !e.hidden
	t.removeLocked(userID, "disconnect")
	if visible {
		t.publishLocked(ctx)
	}
}

// Roster returns the sorted display names of everyone online.
func (t *Tracker) Roster() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rosterLocked()
}

func (t *Tracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[userID]
	return ok && !e.hidden
}

func (t *Tracker) Subscribe(c fanout.Conn) { t.hub.Subscribe(Topic, c) }

func (t *Tracker) Unsubscribe(c fanout.Conn) bool { return t.hub.Unsubscribe(Topic, c) }

// PublishRoster sends the current roster to every presence subscriber.
func (t *Tracker) PublishRoster(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.publishLocked(ctx)
}

// RosterEvent is the frame sent on the presence channel.
func (t *Tracker) RosterEvent() chessdto.OnlineUsersEvent {
	return chessdto.OnlineUsersEvent{Type: chessdto.TypeOnlineUsers, Users: t.Roster()}
}

// Sweep drops connectionless entries idle past the timeout.
func (t *Tracker) Sweep(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.idle)
	var n int
	for id, e := range t.entries {
		if e.conns == 0 && e.lastSeen.Before(cutoff) {
			t.removeLocked(id, "idle")
			n++
		}
	}
	if n > 0 {
		t.publishLocked(ctx)
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(ctx); n > 0 {
				t.log.Debug("presence_sweep", zap.Int("removed", n))
			}
		}
	}
}

// touchLocked refreshes or creates userID's entry and reports whether it became visible.
func (t *Tracker) touchLocked(userID, name string) bool {
	now := t.now()
	e, ok := t.entries[userID]
	if ok {
		e.lastSeen = now
		if name != "" {
			e.name = name
		}
		if !e.hidden {
			return false
		}
		e.hidden = false
	} else {
		if name == "" {
			name = userID
		}
		e = &entry{name: name, lastSeen: now}
		t.entries[userID] = e
	}
	t.stats.Incr(stats.PresenceOnline)
	t.log.Info("presence_online", zap.String("user_id", userID), zap.String("name", e.name))
	return true
}

func (t *Tracker) hideLocked(e *entry, userID, reason string) {
	e.hidden = true
	t.stats.Decr(stats.PresenceOnline)
	t.log.Info("presence_offline", zap.String("user_id", userID), zap.String("reason", reason), zap.Int("conns", e.conns))
}

func (t *Tracker) removeLocked(userID, reason string) {
	e := t.entries[userID]
	delete(t.entries, userID)
	if e == nil || e.hidden {
		return
	}
	t.stats.Decr(stats.PresenceOnline)
	t.log.Info("presence_offline", zap.String("user_id", userID), zap.String("reason", reason))
}

func (t *Tracker) rosterLocked() []string {
	names := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		if e.hidden {
			continue
		}
		names = append(names, e.name)
	}
	sort.Strings(names)
	return names
}

// publishLocked runs under t.mu so roster frames go out in transition order.
func (t *Tracker) publishLocked(ctx context.Context) int {
	t.stats.Incr(stats.PresenceBroadcast)
	return t.hub.Publish(ctx, Topic, chessdto.OnlineUsersEvent{
		Type:  chessdto.TypeOnlineUsers,
		Users: t.rosterLocked(),
	})
}
