package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"perceptor/internal/dispatch"
	"perceptor/internal/metrics"
	"perceptor/internal/session"
	"perceptor/pkg/types"
)

// WebSocket upgrader with production-ready settings
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: camera clients are served from other origins
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler defaults
const (
	DefaultPingInterval    = 30 * time.Second
	DefaultReadTimeout     = 60 * time.Second
	DefaultMaxMessageBytes = 8 << 20
	closeTimeout           = 10 * time.Second
)

// Config tunes the transport
type Config struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	BufferSize      int
	MaxMessageBytes int64
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return c
}

// Handler turns each WebSocket connection into one stream session
// ARCHITECTURAL DISCOVERY: Frames are handled inline on the read goroutine,
// which gives per-connection ordering for free and applies backpressure to
// clients that push faster than the classifier answers
type Handler struct {
	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Metrics
	cfg        Config
	logger     *slog.Logger

	mu      sync.Mutex
	conns   map[*Connection]struct{}
	closing bool
	// wg counts handleConnection goroutines; CloseAll waits on it so every
	// session is finalized before the store goes away
	wg sync.WaitGroup
}

// NewHandler creates a WebSocket handler with dependency injection
func NewHandler(registry *session.Registry, dispatcher *dispatch.Dispatcher, m *metrics.Metrics, cfg Config, logger *slog.Logger) (*Handler, error) {
	if registry == nil || dispatcher == nil {
		return nil, ErrDependencyMissing
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    m,
		cfg:        cfg.withDefaults(),
		logger:     logger.With("component", "websocket"),
		conns:      make(map[*Connection]struct{}),
	}, nil
}

// HandleWebSocket upgrades GET /ws?kind=... and opens a stream session
// FUNCTIONAL DISCOVERY: kind is validated before the upgrade so bad requests
// get a plain HTTP error
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	kind, err := types.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, "Invalid kind: must be face, liveness or pavement", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	wsConn := NewConnection(conn, h.cfg.WriteTimeout, h.cfg.BufferSize)
	sessionID := uuid.NewString()
	wsConn.SetSessionID(sessionID)

	if !h.track(wsConn) {
		// shutting down: the upgrade raced CloseAll
		_ = wsConn.Close()
		return
	}
	if err := h.open(wsConn, kind); err != nil {
		h.logger.Error("session open failed", "session_id", sessionID, "error", err)
		h.registry.Close(context.Background(), sessionID)
		_ = wsConn.Close()
		h.untrack(wsConn)
		h.wg.Done()
		return
	}
	h.metrics.IncrementWebSocketConnections()

	go h.handleConnection(wsConn)
}

func (h *Handler) track(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[conn] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(conn *Connection) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// ActiveConnections returns the number of open stream connections
func (h *Handler) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll closes every open connection and refuses new ones. Each read loop
// then runs its normal cleanup, which finalizes the session's alert record;
// CloseAll returns once all of them finished or ctx is done.
func (h *Handler) CloseAll(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	conns := make([]*Connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}

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

func (h *Handler) open(conn *Connection, kind types.StreamKind) error {
	s, err := h.registry.Open(conn.ctx, conn.GetSessionID(), kind, conn)
	if err != nil {
		return err
	}
	return s.Emit(&types.Event{
		Type:    types.EventSessionOpened,
		Success: true,
		Message: "stream session opened",
	})
}

// handleConnection owns the connection until the client goes away; cleanup is
// identical whether or not an end event was received
func (h *Handler) handleConnection(conn *Connection) {
	sessionID := conn.GetSessionID()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		h.registry.Close(ctx, sessionID)
		h.dispatcher.Forget(sessionID)
		_ = conn.Close()
		h.untrack(conn)
		h.metrics.DecrementWebSocketConnections()
		h.wg.Done()
	}()

	conn.conn.SetReadLimit(h.cfg.MaxMessageBytes)

	// TECHNICAL DISCOVERY: read deadline is pushed out by every pong and every
	// inbound message so a busy stream never trips the heartbeat
	extend := func() error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	}
	if err := extend(); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error { return extend() })

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.metrics.IncrementWebSocketErrors()
				h.logger.Debug("websocket read ended", "session_id", sessionID, "error", err)
			}
			return
		}
		_ = extend()
		h.metrics.IncrementWebSocketMessages()

		if messageType != websocket.TextMessage {
			continue
		}
		h.handleMessage(conn, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-conn.ctx.Done():
			return
		}
	}
}

func (h *Handler) handleMessage(conn *Connection, data []byte) {
	sessionID := conn.GetSessionID()

	var in types.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		h.sendError(conn, "", ErrInvalidJSON)
		return
	}
	if err := in.Validate(); err != nil {
		h.sendError(conn, in.RequestID, err)
		return
	}

	switch in.Type {
	case types.InboundFrame:
		err := h.dispatcher.HandleFrame(conn.ctx, types.FrameRequest{
			SessionID:  sessionID,
			Image:      in.Image,
			FrameIndex: in.FrameIndex,
			RequestID:  in.RequestID,
		})
		// every other rejection was already emitted to the session
		if errors.Is(err, session.ErrSessionNotFound) {
			h.sendError(conn, in.RequestID, err)
		}

	case types.InboundEnd:
		if err := h.registry.End(conn.ctx, sessionID); err != nil {
			h.sendError(conn, in.RequestID, err)
		}

	case types.InboundStart:
		// acknowledge the previous stream before replacing it
		_ = h.registry.End(conn.ctx, sessionID)
		if err := h.open(conn, in.Kind); err != nil {
			h.sendError(conn, in.RequestID, err)
		}
	}
}

func (h *Handler) sendError(conn *Connection, requestID string, err error) {
	event := &types.Event{
		Type:      types.EventError,
		SessionID: conn.GetSessionID(),
		RequestID: requestID,
		Success:   false,
		Message:   err.Error(),
		Timestamp: time.Now(),
	}
	if werr := conn.WriteJSON(event); werr != nil {
		h.logger.Debug("error event not delivered", "session_id", event.SessionID, "error", werr)
	}
}
