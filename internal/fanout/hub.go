// Package fanout delivers serialized events to every connection subscribed to a topic.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/stats"
	"go.uber.org/zap"
)

// ErrClosed is returned by Conn.Send after the connection went away.
var ErrClosed = errors.New("connection closed")

// Conn is one live subscriber. Send must not block on the network.
type Conn interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
}

// Broadcaster is the seam other components publish through.
type Broadcaster interface {
	Subscribe(topic string, c Conn)
	Unsubscribe(topic string, c Conn) bool
	Publish(ctx context.Context, topic string, msg any) int
}

// DropFunc observes a subscriber removed after a failed delivery.
type DropFunc func(topic string, c Conn, err error)

type topicState struct {
	pub  sync.Mutex // orders publishes on this topic
	subs map[string]Conn
}

type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topicState

	log    *zap.Logger
	stats  stats.Provider
	onDrop DropFunc
}

var _ Broadcaster = (*Hub)(nil)

type Option func(*Hub)

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

func WithStats(p stats.Provider) Option {
	return func(h *Hub) {
		if p != nil {
			h.stats = p
		}
	}
}

// WithDropHook registers fn to run for every dropped subscriber.
func WithDropHook(fn DropFunc) Option {
	return func(h *Hub) { h.onDrop = fn }
}

func New(opts ...Option) *Hub {
	h := &Hub{
		topics: make(map[string]*topicState),
		log:    obslog.Named("fanout"),
		stats:  stats.Nop{},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe adds c to topic. Subscribing twice is a no-op.
func (h *Hub) Subscribe(topic string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topics[topic]
	if t == nil {
		t = &topicState{subs: make(map[string]Conn)}
		h.topics[topic] = t
	}
	t.subs[c.ID()] = c
}

// Unsubscribe removes c and reports whether it was subscribed.
func (h *Hub) Unsubscribe(topic string, c Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(topic, c)
}

func (h *Hub) removeLocked(topic string, c Conn) bool {
	t := h.topics[topic]
	if t == nil {
		return false
	}
	cur, ok := t.subs[c.ID()]
	if !ok || cur != c {
		return false
	}
	delete(t.subs, c.ID())
	if len(t.subs) == 0 {
		delete(h.topics, topic)
	}
	return true
}

// UnsubscribeAll removes c from every topic and returns the topics it left.
func (h *Hub) UnsubscribeAll(c Conn) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var left []string
	for name := range h.topics {
		if h.removeLocked(name, c) {
			left = append(left, name)
		}
	}
	return left
}

// Subscribers returns the number of connections on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if t := h.topics[topic]; t != nil {
		return len(t.subs)
	}
	return 0
}

// Publish encodes msg once and delivers it to every subscriber of topic.
func (h *Hub) Publish(ctx context.Context, topic string, msg any) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("fanout_encode_failed", zap.String("topic", topic), zap.Error(err))
		return 0
	}
	return h.PublishRaw(ctx, topic, payload)
}

type failed struct {
	conn Conn
	err  error
}

// PublishRaw delivers payload to each subscriber. A failing subscriber is removed
// and reported; the rest still receive the event.
func (h *Hub) PublishRaw(ctx context.Context, topic string, payload []byte) int {
	h.mu.RLock()
	t := h.topics[topic]
	h.mu.RUnlock()
	if t == nil {
		return 0
	}

	t.pub.Lock()
	h.mu.RLock()
	conns := make([]Conn, 0, len(t.subs))
	for _, c := range t.subs {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var delivered int
	var drops []failed
	for _, c := range conns {
		if err := c.Send(ctx, payload); err != nil {
			drops = append(drops, failed{conn: c, err: err})
			continue
		}
		delivered++
	}
	t.pub.Unlock()

	h.stats.Add(stats.FanoutDelivered, int64(delivered))
	for _, d := range drops {
		h.drop(topic, d.conn, d.err)
	}
	return delivered
}

func (h *Hub) drop(topic string, c Conn, err error) {
	h.mu.Lock()
	removed := h.removeLocked(topic, c)
	h.mu.Unlock()
	if !removed {
		return
	}
	h.stats.Incr(stats.FanoutDropped)
	h.log.Warn("fanout_drop",
		zap.String("topic", topic),
		zap.String("conn_id", c.ID()),
		zap.Error(err),
	)
	if h.onDrop != nil {
		h.onDrop(topic, c, err)
	}
}
