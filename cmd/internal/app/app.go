// Package app wires the relay runtime: config, logging, storage, HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"relay/cmd/internal/auth"
	"relay/cmd/internal/chat"
	"relay/cmd/internal/presence"
	"relay/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App is the relay runtime: it owns the HTTP server, the store and the realtime gateway.
type App struct {
	cfg Config
	log Logger

	store    *StoreHandle
	presence *presence.Redis

	registry *realtime.Registry
	handler  http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, log); err != nil {
		return nil, err
	}

	policy, err := realtime.ParsePersistencePolicy(cfg.PersistencePolicy)
	if err != nil {
		return nil, err
	}

	resolver, err := auth.NewResolver(auth.WithSecret(cfg.JWTSecret), auth.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return nil, err
	}

	st, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var pres *presence.Redis
	if cfg.RedisAddr != "" {
		pres, err = presence.NewRedis(ctx, presence.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
		if err != nil {
			// Presence is informational; the relay runs without it.
			log.Warn("presence.disabled", "addr", cfg.RedisAddr, "err", err)
			pres = nil
		} else {
			log.Info("presence.redis", "addr", cfg.RedisAddr, "key", cfg.RedisKey)
		}
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := realtime.NewMetrics(promReg)

	svc := realtime.Services{
		Directory: chat.NewDirectory(st.Store, chat.WithDirectoryTimeout(cfg.StoreTimeout)),
		Authority: chat.NewAuthority(st.Store, cfg.StoreTimeout),
		Messages:  chat.NewMessages(st.Store, cfg.StoreTimeout),
	}

	opts := []realtime.DispatcherOption{
		realtime.WithPolicy(policy),
		realtime.WithMetrics(metrics),
	}
	if pres != nil {
		opts = append(opts, realtime.WithPresence(pres))
	}

	registry := realtime.NewRegistry(log)
	disp := realtime.NewDispatcher(log, registry, svc, opts...)

	ws := realtime.NewWSGateway(log, disp, resolver, realtime.GatewayConfig{
		AllowedOrigins:     cfg.WSAllowedOrigins,
		OriginRequired:     cfg.WSOriginRequired,
		InsecureSkipVerify: cfg.WSDevInsecure,
		WriteTimeout:       cfg.WSWriteTimeout,
		ReadIdleTimeout:    cfg.WSReadIdleTimeout,
		SendQueueSize:      cfg.WSSendQueueSize,
		HeartbeatInterval:  cfg.WSHeartbeatInterval,
		HeartbeatTimeout:   cfg.WSHeartbeatTimeout,
		RateEvents:         cfg.WSRateEvents,
		RateWindow:         cfg.WSRateWindow,
	}, metrics)

	handler := newRouter(routeDeps{
		log:      log,
		cfg:      cfg,
		store:    st,
		presence: pres,
		registry: registry,
		ws:       ws,
		metrics:  promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg}),
	})

	log.Info("app.ready",
		"store", st.Backend,
		"policy", string(policy),
		"signed_tokens", resolver.SignedTokens(),
		"presence", pres != nil,
	)

	return &App{
		cfg:      cfg,
		log:      log,
		store:    st,
		presence: pres,
		registry: registry,
		handler:  handler,
	}, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := strings.TrimRight(a.cfg.PublicBaseURL, "/")
	if base == "" {
		base = runtimeBaseURL(a.cfg.HTTPAddr)
	}
	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "base_url", base, "ws_url", wsBaseURL(base)+"/ws", "store", a.store.Backend)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown does not wait for hijacked websocket connections; they end with their contexts.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.close()
		return err
	}

	a.close()
	a.log.Info("server.stopped")
	return nil
}

func (a *App) close() {
	if a.presence != nil {
		if err := a.presence.Close(); err != nil {
			a.log.Error("presence.close.fail", "err", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
// Wildcard binds are reported as 127.0.0.1.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
