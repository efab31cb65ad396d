// Package ws serves the chat protocol over WebSocket connections.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/barlink/internal/chat/hub"
	"github.com/cory-johannsen/barlink/internal/chat/session"
	"github.com/cory-johannsen/barlink/internal/config"
)

// Handler upgrades HTTP requests to WebSocket sessions on a Hub.
type Handler struct {
	hub      *hub.Hub
	cfg      config.TransportConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	wg    sync.WaitGroup
}

// NewHandler creates a Handler.
//
// Precondition: h and logger must be non-nil.
func NewHandler(h *hub.Hub, cfg config.TransportConfig, logger *zap.Logger) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		hub:    h,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Any origin may connect; clients are anonymous.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and starts the connection's pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	if !h.track(conn) {
		_ = conn.Close()
		return
	}

	outbox := session.NewOutbox(r.RemoteAddr, h.cfg.SendBuffer)
	s := h.hub.Connect(outbox)
	h.logger.Info("websocket connected",
		zap.String("session", string(s.ID)),
		zap.String("remote", r.RemoteAddr),
	)

	h.wg.Add(2)
	go h.writePump(conn, outbox)
	go h.readPump(conn, s)
}

// Close disconnects every live connection and waits for their pumps to exit.
//
// Postcondition: No pump goroutines remain and further upgrades are refused.
func (h *Handler) Close(ctx context.Context) error {
	h.cancel()
	h.mu.Lock()
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of open connections.
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Handler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *Handler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// readPump applies inbound frames until the connection fails, then
// disconnects the session.
func (h *Handler) readPump(conn *websocket.Conn, s *session.Session) {
	defer func() {
		// cleanup broadcasts must still reach the remaining members during shutdown
		h.hub.Disconnect(context.WithoutCancel(h.ctx), s.ID)
		h.untrack(conn)
		_ = conn.Close()
		h.wg.Done()
	}()

	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read", zap.String("session", string(s.ID)), zap.Error(err))
			} else {
				h.logger.Debug("websocket closed", zap.String("session", string(s.ID)), zap.Error(err))
			}
			return
		}
		// Handle reports its own failures to the client.
		_ = h.hub.Handle(h.ctx, s.ID, payload)
	}
}

// writePump drains the outbox onto the connection and keeps it alive with pings.
func (h *Handler) writePump(conn *websocket.Conn, outbox *session.Outbox) {
	ticker := time.NewTicker(h.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		h.wg.Done()
	}()

	for {
		select {
		case frame, ok := <-outbox.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("websocket write", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
