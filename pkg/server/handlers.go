package server

import (
	"encoding/json"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gorilla/websocket"

	"github.com/docsync/docsync/internal/auth"
	"github.com/docsync/docsync/pkg/document"
	"github.com/docsync/docsync/pkg/protocol"
	"github.com/docsync/docsync/pkg/session"
)

var gorillaUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var sessionCounter atomic.Uint64

func nextSessionID() string {
	n := sessionCounter.Add(1)
	return "sess-" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleWebSocket accepts connections, enforces admission control, then
// upgrades using either gorilla/websocket or gobwas/ws depending on the
// "X-Transport" header (defaults to gorilla), exercising both bundled
// Transport adapters from the same endpoint.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := getClientIP(r)

	if !s.connLimiter.Allow(clientIP) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var authCtx auth.Context
	if s.cfg.RequireAuth {
		token := auth.TokenFromRequest(r)
		var err error
		authCtx, err = s.authHook.Authenticate(r.Context(), token)
		if err != nil {
			s.log.Warn().Err(err).Str("client_ip", clientIP).Msg("websocket authentication failed")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	transport, encoding, err := s.upgrade(w, r)
	if err != nil {
		s.log.Warn().Err(err).Str("client_ip", clientIP).Msg("websocket upgrade failed")
		return
	}

	hooks := s.sessionHooks(authCtx)
	sess := session.New(nextSessionID(), transport, hooks,
		session.WithEncoding(encoding),
		session.WithQueueSize(s.cfg.SendQueueCapacity),
		session.WithLogger(s.log),
		session.WithCompression(s.cfg.AllowCompression),
	)

	s.metrics.SessionConnected()
	if s.hooks.OnConnect != nil {
		s.hooks.OnConnect(sess, r)
	}

	sess.Run(s.ctx, s.cfg.HeartbeatMs)
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (session.Transport, protocol.Encoding, error) {
	encoding := protocol.EncodingJSON
	if r.Header.Get("X-Encoding") == "binary" {
		encoding = protocol.EncodingBinary
	}

	if r.Header.Get("X-Transport") == "gobwas" {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return nil, encoding, err
		}
		return session.NewGobwasTransport(conn), encoding, nil
	}

	conn, err := gorillaUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, encoding, err
	}
	return session.NewGorillaTransport(conn), encoding, nil
}

// sessionHooks binds a Session's protocol-level events to the
// Registry/Broker/auth pipeline.
func (s *Server) sessionHooks(authCtx auth.Context) session.Hooks {
	return session.Hooks{
		OnSubscribe: func(sess *session.Session, documentName string) (bool, string) {
			if err := s.authHook.Authorize(s.ctx, authCtx, documentName); err != nil {
				return false, "authDenied"
			}
			doc, err := s.getOrCreateDocument(s.ctx, documentName)
			if err != nil {
				if err == ErrDocumentCapacity {
					return false, "capacity"
				}
				return false, "internalError"
			}
			s.broker.Subscribe(doc, sess)
			return true, ""
		},
		OnUnsubscribe: func(sess *session.Session, documentName string) {
			if doc, ok := s.registry.Get(documentName); ok {
				s.broker.Unsubscribe(doc, sess)
			}
		},
		OnMessage: func(sess *session.Session, payload []byte) {
			if s.hooks.OnMessage != nil {
				s.hooks.OnMessage(sess, payload)
			}
		},
		OnClose: func(sess *session.Session, reason protocol.GoodbyeReason) {
			s.metrics.SessionDisconnected()
			s.broker.RemoveSession(sess, s.registry.Get)
			if s.hooks.OnDisconnect != nil {
				s.hooks.OnDisconnect(sess, reason)
			}
		},
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.startedAt).String(),
		"documents": s.registry.Count(),
		"inflight":  s.docGuard.InFlight(),
		"eventBus": map[string]any{
			"enabled": s.bus.Enabled(),
		},
		"system": map[string]any{
			"goroutines": runtime.NumGoroutine(),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

func (s *Server) handleDebugStats(w http.ResponseWriter, r *http.Request) {
	names := s.registry.Names()
	docs := make(map[string]any, len(names))
	for _, name := range names {
		d, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		docs[name] = map[string]any{
			"status":      statusString(d),
			"revision":    d.Revision(),
			"subscribers": s.broker.SubscriberCount(name),
			"persistDirty": d.PersistDirty(),
		}
	}

	stats := map[string]any{
		"documents":        docs,
		"documentCount":    len(names),
		"maxInflight":      s.cfg.MaxInflightDocuments,
		"sendQueueCapacity": s.cfg.SendQueueCapacity,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

func statusString(d *document.Document) string {
	return d.Status().String()
}
