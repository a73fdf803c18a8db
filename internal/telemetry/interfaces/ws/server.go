package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"telemetry-ws/internal/auth"
)

var (
	ErrSendBufferFull = errors.New("telemetry ws: send buffer full")
	ErrConnClosed     = errors.New("telemetry ws: connection closed")
)

// Server upgrades HTTP requests to telemetry websocket sessions.
type Server struct {
	handler  *MsgHandler
	cfg      Config
	secret   []byte
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewServer constructs the websocket endpoint.
func NewServer(handler *MsgHandler, cfg Config, secret []byte, logger *log.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.New("telemetry ws: nil handler")
	}
	if len(secret) == 0 {
		return nil, errors.New("telemetry ws: empty jwt secret")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{handler: handler, cfg: cfg, secret: secret, logger: logger}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      originChecker(cfg.AllowedOrigins),
	}
	return s, nil
}

// Path returns the endpoint path the server expects to be mounted on.
func (s *Server) Path() string {
	return s.cfg.Path
}

// ServeHTTP authenticates, upgrades and runs one session until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.ParseJWT(auth.TokenFromRequest(r), s.secret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("telemetry ws: upgrade: %v", err)
		return
	}

	conn := newConn(ws, s.cfg)
	ref := SessionRef{ID: uuid.NewString(), Outbound: conn}
	meta := SessionMetadata{
		Ref:      ref,
		TenantID: claims.TenantID,
		Subject:  claims.Subject,
		Role:     claims.Role,
	}
	if err := s.handler.OpenSession(meta); err != nil {
		s.logger.Printf("telemetry ws: [%s] open session: %v", ref.ID, err)
		_ = ws.Close()
		return
	}
	s.logger.Printf("telemetry ws: [%s] session opened tenant=%s subject=%s", ref.ID, claims.TenantID, claims.Subject)

	go conn.writePump()
	s.readLoop(auth.WithIdentity(r.Context(), auth.IdentityFromClaims(claims)), ref, conn)

	s.handler.CloseSession(ref.ID)
	conn.close()
	s.logger.Printf("telemetry ws: [%s] session closed", ref.ID)
}

func (s *Server) readLoop(ctx context.Context, ref SessionRef, conn *conn) {
	ws := conn.ws
	ws.SetReadLimit(s.cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
	for {
		frameType, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("telemetry ws: [%s] read: %v", ref.ID, err)
			}
			return
		}
		msg := Message{Type: TextMessage, Payload: payload}
		if frameType == websocket.BinaryMessage {
			msg.Type = BinaryMessage
		}
		if err := s.handler.HandleMessage(ctx, ref, msg); err != nil {
			s.logger.Printf("telemetry ws: [%s] handle message: %v", ref.ID, err)
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// conn is the outbound side of one websocket session. All writes go through
// the write pump goroutine.
type conn struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	cfg       Config
}

func newConn(ws *websocket.Conn, cfg Config) *conn {
	return &conn{
		ws:   ws,
		send: make(chan []byte, cfg.SendBuffer),
		done: make(chan struct{}),
		cfg:  cfg,
	}
}

// Send queues a text frame without blocking.
func (c *conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			return
		}
	}
}
