package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"relay/cmd/internal/ids"
	v1 "relay/shared/contracts/relay/v1"

	"github.com/coder/websocket"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// StatusReplaced closes a connection superseded by a newer one of the same user.
	StatusReplaced websocket.StatusCode = 4001
)

// IdentityResolver authenticates the upgrade request and returns the user id.
//
// Errors that implement StatusCode() int choose the HTTP status of the rejection;
// anything else is answered with 400.
type IdentityResolver interface {
	Resolve(r *http.Request) (string, error)
}

// GatewayConfig holds the transport knobs of the gateway. Zero values select defaults.
type GatewayConfig struct {
	AllowedOrigins []string
	OriginRequired bool

	// InsecureSkipVerify disables the origin check of websocket.Accept. Dev only.
	InsecureSkipVerify bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

// WSGateway is the WebSocket entrypoint of the relay.
//
// It enforces origin policy, authenticates the connection, applies per-connection
// rate limits and heartbeats, and hands every inbound frame to the Dispatcher.
type WSGateway struct {
	log      *slog.Logger
	disp     *Dispatcher
	identity IdentityResolver
	metrics  *Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway. metrics may be nil.
func NewWSGateway(log *slog.Logger, disp *Dispatcher, identity IdentityResolver, cfg GatewayConfig, metrics *Metrics) *WSGateway {
	if log == nil {
		log = slog.Default()
	}

	g := &WSGateway{
		log:      log,
		disp:     disp,
		identity: identity,
		metrics:  metrics,

		devInsecure:    cfg.InsecureSkipVerify,
		originRequired: cfg.OriginRequired,
		allowedOrigins: cleanCSV(cfg.AllowedOrigins),

		writeTimeout:     orDuration(cfg.WriteTimeout, wsDefaultWriteTimeout),
		readIdleTimeout:  orDuration(cfg.ReadIdleTimeout, wsDefaultReadIdle),
		sendQueueSize:    cfg.SendQueueSize,
		heartbeatEvery:   orDuration(cfg.HeartbeatInterval, heartbeatInterval),
		heartbeatTimeout: orDuration(cfg.HeartbeatTimeout, heartbeatTimeout),
		rateEvents:       cfg.RateEvents,
		rateWindow:       orDuration(cfg.RateWindow, rateLimitWindow),
	}

	// websocket.Accept enforces its own origin policy; derive its patterns
	// from the allowlist so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	if g.sendQueueSize == 0 {
		g.sendQueueSize = wsDefaultSendQueueSize
	}
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}
	if g.rateEvents <= 0 {
		g.rateEvents = rateLimitEvents
	}
	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates and upgrades an HTTP request, then runs the session loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.metrics.connectRejected("origin")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	userID, err := g.identity.Resolve(r)
	if err != nil {
		status := http.StatusBadRequest
		var sc interface{ StatusCode() int }
		if errors.As(err, &sc) {
			status = sc.StatusCode()
		}
		g.log.Info("ws.reject.identity", "err", err, "status", status, "remote", r.RemoteAddr)
		g.metrics.connectRejected("identity")
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Optional: clients that offer relay.v1 get it echoed back.
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		g.metrics.connectRejected("accept")
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	connID, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(userID, connID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// The registry entry is removed before the client is closed.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.disp.Disconnect(ctx, client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				if client.Replaced() {
					g.log.Info("ws.replaced", "conn_id", connID, "user_id", userID)
					shutdown(StatusReplaced, "replaced")
				}
				return
			case f := <-client.Send:
				if err := writeFrame(ctx, conn, f, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	g.disp.Connect(ctx, client)
	g.log.Info("ws.open", "conn_id", connID, "user_id", userID, "subprotocol", conn.Subprotocol(), "remote", r.RemoteAddr)

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if !rl.Allow(time.Now().UTC()) {
			// Written inline so the frame is on the wire before the close handshake.
			g.writeError(ctx, conn, connID, codeRateLimited, "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		g.disp.HandleFrame(ctx, client, data)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	g.log.Info("ws.close", "conn_id", connID, "user_id", userID, "replaced", client.Replaced())
}

// ---- send helpers ----

func (g *WSGateway) writeError(ctx context.Context, conn *websocket.Conn, connID, code, msg string) {
	f, err := v1.NewFrame(v1.EventError, v1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	if err := writeFrame(ctx, conn, f, g.writeTimeout); err != nil {
		g.log.Info("ws.write.fail", "conn_id", connID, "code", code, "err", err)
	}
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, f v1.Frame, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		if a == "*" {
			return nil
		}
		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted set of hosts in allowed.
// websocket.Accept matches OriginPatterns against the origin host with filepath.Match.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func cleanCSV(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
