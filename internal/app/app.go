// Package app wires the store, the session engine and the HTTP surface from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/park285/cheese-arena/internal/account"
	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/fanout"
	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/presence"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/stats"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/internal/store/memstore"
	"github.com/park285/cheese-arena/internal/store/redisstore"
	"github.com/park285/cheese-arena/internal/store/sqlstore"
	"github.com/park285/cheese-arena/internal/wsconn"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	Config   *config.AppConfig
	Store    store.Store
	Hub      *fanout.Hub
	Presence *presence.Tracker
	Sessions *session.Bridge
	Accounts *account.Service
	Games    *game.Registry
	Stats    *stats.Updater
	HTTP     *httpapi.Server

	log *zap.Logger
}

// OpenStore selects the durable backend named by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg *config.AppConfig) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return memstore.New(), nil
	case config.DriverSQLite:
		return sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
	case config.DriverPostgres:
		return sqlstore.OpenPostgres(ctx, cfg.DatabaseURL)
	case config.DriverRedis:
		return redisstore.Open(ctx, cfg.RedisURL)
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

// New opens the store and builds every component. Close releases the store.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a, err := build(cfg, st, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.AppConfig, st store.Store, logger *zap.Logger) (*App, error) {
	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	up := stats.New()

	// a dropped subscriber is a dead or slow socket; closing it ends its read loop and cleanup
	hub := fanout.New(
		fanout.WithLogger(logger.Named("fanout")),
		fanout.WithStats(up),
		fanout.WithDropHook(func(topic string, c fanout.Conn, err error) {
			if wc, ok := c.(*wsconn.Conn); ok {
				wc.Close(websocket.StatusPolicyViolation, "slow consumer")
			}
		}),
	)
	tracker := presence.New(hub,
		presence.WithIdleTimeout(cfg.PresenceIdleTimeout),
		presence.WithHeartbeatBroadcast(cfg.PresenceBroadcastOnHeartbeat),
		presence.WithStats(up),
	)
	sessions := session.New(st, session.Options{
		Lifetime:  cfg.SessionTTL,
		CacheSize: cfg.SessionCacheSize,
		CacheTTL:  cfg.SessionCacheTTL,
		Stats:     up,
	})
	accounts := account.New(st)
	games := game.NewRegistry(st, game.WithPublisher(hub), game.WithNames(accounts.Name))

	up.RegisterFunc("games_loaded", func() any { return games.Loaded() })
	up.RegisterFunc("session_cache_entries", func() any { return sessions.Cached() })
	up.RegisterFunc("online_users", func() any { return len(tracker.Roster()) })

	srv := httpapi.New(httpapi.Deps{
		Accounts: accounts,
		Sessions: sessions,
		Games:    games,
		Presence: tracker,
		Hub:      hub,
		Stats:    up,
		Store:    st,
		Messages: msgs,
		WS: wsconn.Options{
			SendBuffer:   cfg.WSSendBuffer,
			PingInterval: cfg.WSPingInterval,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		CookieSecure:   cfg.CookieSecure,
		Logger:         logger.Named("http"),
	})

	return &App{
		Config:   cfg,
		Store:    st,
		Hub:      hub,
		Presence: tracker,
		Sessions: sessions,
		Accounts: accounts,
		Games:    games,
		Stats:    up,
		HTTP:     srv,
		log:      logger,
	}, nil
}

// Run serves HTTP and sweeps presence until ctx ends, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	a.Stats.Publish()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.Presence.Run(sweepCtx, a.Config.PresenceSweepInterval)

	srv := &http.Server{
		Addr:              a.Config.HTTPAddr,
		Handler:           a.HTTP.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http_listen", zap.String("addr", srv.Addr), zap.String("store", a.Config.StoreDriver))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("http_shutdown")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
