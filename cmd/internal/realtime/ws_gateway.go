package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"easel/cmd/internal/auth/session"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSGateway is the WebSocket entrypoint for easel realtime.
//
// It authenticates the upgrade from the session cookie, enforces origin
// policy, rate limits, and heartbeats, and routes decoded messages to the
// hub. Authorization freshness is the gate's job: a pending-refresh mark is
// peeked (not consumed) here, so the HTTP layer that set it can still
// observe it.
type WSGateway struct {
	log     *slog.Logger
	hub     *Hub
	reg     *Registry
	gate    *session.Gate
	codec   *session.TokenCodec
	metrics *Metrics

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

// NewWSGateway constructs a gateway with secure defaults, reading its knobs
// from EASEL_WS_* environment variables.
func NewWSGateway(log *slog.Logger, hub *Hub, reg *Registry, gate *session.Gate, codec *session.TokenCodec, metrics *Metrics) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	g := &WSGateway{log: log, hub: hub, reg: reg, gate: gate, codec: codec, metrics: metrics}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("EASEL_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("EASEL_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("EASEL_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("EASEL_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("EASEL_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("EASEL_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("EASEL_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("EASEL_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("EASEL_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("EASEL_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates, upgrades, and runs the realtime loop for one
// connection.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Authenticate before upgrading: a rejected session costs one HTTP
	// response, not a whole websocket handshake.
	claims, err := g.authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = wsConn.Close(websocket.StatusNormalClosure, "bye") }()

	wsConn.SetReadLimit(maxFrameBytes)

	conn := NewConn(claims.UserID, g.sendQueueSize)
	g.reg.Attach(claims.UserID, claims, conn)
	if g.metrics != nil {
		g.metrics.ConnectionsOpen.Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent and is the sole cleanup path: it must run
	// exactly once even when both directions fail simultaneously. It does
	// NOT close conn.Send; broadcast safety depends on that channel staying
	// open while hub/registry removal completes.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.DropConn(conn)
			g.reg.Detach(claims.UserID, conn)
			conn.Close()
			_ = wsConn.Close(code, reason)
			cancel()
			if g.metrics != nil {
				g.metrics.ConnectionsOpen.Dec()
			}
			g.log.Info("ws.close", "user_id", claims.UserID, "conn_id", conn.ID, "reason", reason)
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				return
			case msg := <-conn.Send:
				if err := g.writeMessage(ctx, wsConn, msg); err != nil {
					g.log.Info("ws.write.fail", "conn_id", conn.ID, "close_status", websocket.CloseStatus(err), "err", err)
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
			case <-conn.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := wsConn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", conn.ID, "failures", failures, "err", err)
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

	g.log.Info("ws.open", "user_id", claims.UserID, "conn_id", conn.ID)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		raw, err := readMessage(readCtx, wsConn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", conn.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			conn.TrySend(encodeAdvisory("rate limited"))
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		// Malformed top-level messages are logged and ignored; they never
		// terminate the connection.
		in, err := decodeInbound(raw)
		if err != nil {
			g.log.Info("ws.message.malformed", "conn_id", conn.ID, "err", err)
			continue readLoop
		}

		g.dispatch(ctx, claims.UserID, conn, in, raw)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// authenticate decodes the session cookie and runs the freshness check.
// The upgrade path peeks the pending-refresh ledger rather than consuming
// it; consumption belongs to the HTTP request path.
func (g *WSGateway) authenticate(r *http.Request) (session.Claims, error) {
	token, ok := session.ReadCookie(r)
	if !ok {
		return session.Claims{}, session.ErrInvalidToken
	}

	claims, err := g.codec.Decode(token)
	if err != nil {
		return session.Claims{}, err
	}

	out, err := g.gate.AuthorizeUpgrade(r.Context(), time.Now().UTC(), claims)
	if err != nil {
		return session.Claims{}, err
	}
	return out.Claims, nil
}

// dispatch routes one decoded message. Per-connection failures surface as
// advisories or logs only; they never cascade to other connections.
func (g *WSGateway) dispatch(ctx context.Context, userID string, conn *Conn, in inbound, raw []byte) {
	if in.Command != "" {
		if strings.TrimSpace(in.CanvasID) == "" {
			conn.TrySend(encodeAdvisory("missing canvasId"))
			return
		}
		switch in.Command {
		case CmdRegister:
			g.hub.Register(ctx, in.CanvasID, userID, conn)
		case CmdUnregister:
			g.hub.Unregister(in.CanvasID, conn)
		case CmdToggleModerated:
			g.hub.ToggleModeration(ctx, in.CanvasID, userID)
		default:
			conn.TrySend(encodeAdvisory("unsupported command: " + in.Command))
		}
		return
	}

	if strings.TrimSpace(in.CanvasID) == "" {
		conn.TrySend(encodeAdvisory("missing canvasId"))
		return
	}
	if len(in.Events) == 0 {
		return
	}
	if len(in.Events) > maxEventsPerMessage {
		conn.TrySend(encodeAdvisory("too many events in one message"))
		return
	}

	g.hub.HandleEvent(ctx, in.CanvasID, userID, in.Events, raw)
}

// ---- message IO ----

func readMessage(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText {
		return nil, errors.New("unsupported message type")
	}
	return data, nil
}

func (g *WSGateway) writeMessage(parent context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
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
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
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

	return errors.New("origin not allowed: " + origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
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

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
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

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
