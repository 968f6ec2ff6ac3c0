package sessionhub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"tavolo/cmd/identity"

	"github.com/coder/websocket"
)

const (
	wsSubprotocol = "tavolo.session.v1"

	wsDefaultSendQueue    = 16
	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultPingEvery    = 30 * time.Second
	wsDefaultPingTimeout  = 10 * time.Second

	// Origin is required by default and only localhost is allowed, which
	// keeps dev setups working without opening the gateway to the world.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Authenticator verifies a bearer access token and resolves its user.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (identity.User, error)
}

// Gateway upgrades /auth/events requests to push-only websocket streams
// of the caller's session events.
type Gateway struct {
	log  *slog.Logger
	hub  *Hub
	auth Authenticator

	originRequired bool
	allowedOrigins []string
	originPatterns []string

	writeTimeout time.Duration
	pingEvery    time.Duration
	pingTimeout  time.Duration
	sendQueue    int
}

// NewGateway constructs a Gateway with env-tunable defaults.
func NewGateway(log *slog.Logger, hub *Hub, auth Authenticator) *Gateway {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if hub == nil {
		hub = NewHub(log)
	}

	g := &Gateway{log: log, hub: hub, auth: auth}

	g.originRequired = envBoolWS("TAVOLO_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("TAVOLO_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = originPatterns(g.allowedOrigins)

	g.writeTimeout = envDurationWS("TAVOLO_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.pingEvery = envDurationWS("TAVOLO_WS_PING_INTERVAL", wsDefaultPingEvery)
	g.pingTimeout = envDurationWS("TAVOLO_WS_PING_TIMEOUT", wsDefaultPingTimeout)
	g.sendQueue = envIntWS("TAVOLO_WS_SEND_QUEUE", wsDefaultSendQueue)

	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	user, err := g.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	sub := g.hub.Subscribe(user.ID, g.sendQueue)
	defer g.hub.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The stream is push only; the read loop exists to notice the peer
	// closing and to service control frames.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(g.pingEvery)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-ping.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, g.pingTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				g.log.Info("ws.ping.fail", "user_id", user.ID, "err", err)
				return
			}
		case ev := <-sub.Events():
			if err := g.writeEvent(ctx, conn, ev); err != nil {
				g.log.Info("ws.write.fail", "user_id", user.ID,
					"close_status", websocket.CloseStatus(err), "err", err)
				return
			}
		}
	}
}

func (g *Gateway) authenticate(r *http.Request) (identity.User, error) {
	if g.auth == nil {
		return identity.User{}, errors.New("no authenticator configured")
	}

	token := ""
	if raw := strings.TrimSpace(r.Header.Get("Authorization")); raw != "" {
		parts := strings.SplitN(raw, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = strings.TrimSpace(parts[1])
		}
	}
	// Browser WebSocket clients cannot set headers on the upgrade request.
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if token == "" {
		return identity.User{}, errors.New("missing access token")
	}
	return g.auth.Authenticate(r.Context(), token)
}

func (g *Gateway) writeEvent(parent context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
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
		if a == "*" || origin == a {
			return nil
		}
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
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originPatterns derives websocket.Accept host patterns from the origin
// allowlist so the two checks agree.
func originPatterns(allowed []string) []string {
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
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
