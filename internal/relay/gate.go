package relay

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/chatrelay/internal/metrics"
)

// Authorizer decides whether an upgrade request may proceed. It sees the
// request line and headers only.
type Authorizer func(r *http.Request) bool

// unauthorizedResponse is written verbatim to rejected upgrade requests.
const unauthorizedResponse = "HTTP/1.1 401 Unauthorized\r\n\r\n"

// ReferenceAuthorizer rejects requests carrying a "BadAuth" header key.
//
// The lookup uses the raw, non-canonical key. net/http canonicalizes
// incoming header keys to "Badauth", so this policy never rejects
// anything. It is a placeholder hook, not an access control.
func ReferenceAuthorizer() Authorizer {
	return func(r *http.Request) bool {
		_, present := r.Header["BadAuth"]
		return !present
	}
}

// RequireHeader admits requests that carry a non-empty value for name.
func RequireHeader(name string) Authorizer {
	return func(r *http.Request) bool {
		return r.Header.Get(name) != ""
	}
}

// AllowAllAuthorizer admits every request.
func AllowAllAuthorizer(*http.Request) bool { return true }

// NewCheckOrigin returns an origin check for the upgrader. An empty list
// allows every origin. Requests without an Origin header are allowed.
// Entries may be full origins ("https://chat.example.com") or bare hosts.
func NewCheckOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[strings.ToLower(strings.TrimRight(a, "/"))] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if _, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]; ok {
			return true
		}
		_, ok := set[strings.ToLower(u.Host)]
		return ok
	}
}

// GateConfig configures the upgrade handshake.
type GateConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	CheckOrigin      func(r *http.Request) bool
}

// Gate authorizes upgrade requests and completes the WebSocket handshake.
type Gate struct {
	upgrader      websocket.Upgrader
	cfg           GateConfig
	authorize     Authorizer
	onEstablished func(*Connection)
	isClosed      func() bool
	now           func() time.Time
	logger        *slog.Logger
	metrics       *metrics.RelayMetrics
}

// NewGate creates a Gate. onEstablished receives every handshaken
// connection. A nil authorize admits every request.
func NewGate(cfg GateConfig, authorize Authorizer, onEstablished func(*Connection), logger *slog.Logger, m *metrics.RelayMetrics) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if authorize == nil {
		authorize = AllowAllAuthorizer
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = NewCheckOrigin(nil)
	}

	return &Gate{
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      checkOrigin,
		},
		cfg:           cfg,
		authorize:     authorize,
		onEstablished: onEstablished,
		isClosed:      func() bool { return false },
		now:           time.Now,
		logger:        logger,
		metrics:       m,
	}
}

// ServeHTTP handles one upgrade request.
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.isClosed() {
		http.Error(w, ErrRelayClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	if !g.authorize(r) {
		g.metrics.UpgradeRejected()
		g.logger.Info("upgrade rejected", "remote", r.RemoteAddr, "path", r.URL.Path)
		writeUnauthorized(w)
		return
	}

	// Upgrade writes its own error response on failure.
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.metrics.UpgradeFailed()
		g.logger.Warn("websocket handshake failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if g.cfg.ReadLimit > 0 {
		ws.SetReadLimit(g.cfg.ReadLimit)
	}

	conn := newConnection(ws, g.cfg.WriteTimeout, g.now(), g.logger)
	g.onEstablished(conn)
}

// writeUnauthorized writes a bare 401 on the raw stream and closes it.
func writeUnauthorized(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	netConn, buf, err := hj.Hijack()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	defer netConn.Close()

	_, _ = buf.WriteString(unauthorizedResponse)
	_ = buf.Flush()
}
