// Package stats keeps process counters in an expvar map served at /debug/vars.
package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	WSConnections     = "ws_connections"
	GamesCreated      = "games_created"
	MovesCommitted    = "moves_committed"
	MovesRejected     = "moves_rejected"
	FanoutDelivered   = "fanout_delivered"
	FanoutDropped     = "fanout_dropped"
	PresenceOnline    = "presence_online"
	SessionCacheHits  = "session_cache_hits"
	SessionCacheMiss  = "session_cache_misses"
	SessionsRevoked   = "sessions_revoked"
	PresenceBroadcast = "presence_broadcasts"
)

// Provider is what components count through.
type Provider interface {
	Incr(name string)
	Decr(name string)
	Add(name string, delta int64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Incr(string) {}
func (Nop) Decr(string) {}
func (Nop) Add(string, int64) {}

type Updater struct {
	vars *expvar.Map
}

var publishOnce sync.Once

// New returns an updater with the standard counters registered. The map is not
// published globally until Publish is called, so tests can create many.
func New() *Updater {
	u := &Updater{vars: new(expvar.Map).Init()}
	startTime := time.Now()
	u.vars.Set("uptime_ms", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
	for _, name := range []string{
		WSConnections, GamesCreated, MovesCommitted, MovesRejected,
		FanoutDelivered, FanoutDropped, PresenceOnline,
		SessionCacheHits, SessionCacheMiss, SessionsRevoked, PresenceBroadcast,
	} {
		u.RegisterMetric(name)
	}
	return u
}

// Publish exposes the map in the process-wide expvar registry under "chess".
func (u *Updater) Publish() {
	publishOnce.Do(func() { expvar.Publish("chess", u.vars) })
}

func (u *Updater) RegisterMetric(name string) {
	u.vars.Set(name, expvar.NewInt(name))
}

// RegisterFunc adds a gauge computed on read.
func (u *Updater) RegisterFunc(name string, fn func() any) {
	u.vars.Set(name, expvar.Func(fn))
}

func (u *Updater) Incr(name string) { u.vars.Add(name, 1) }

func (u *Updater) Decr(name string) { u.vars.Add(name, -1) }

func (u *Updater) Add(name string, delta int64) { u.vars.Add(name, delta) }

// Get returns an integer counter, or 0 for unknown names and gauges.
func (u *Updater) Get(name string) int64 {
	if v, ok := u.vars.Get(name).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

func (u *Updater) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		data := make(map[string]any)
		u.vars.Do(func(kv expvar.KeyValue) {
			var value any
			_ = json.Unmarshal([]byte(kv.Value.String()), &value)
			data[kv.Key] = value
		})
		_ = json.NewEncoder(w).Encode(data)
	})
}
