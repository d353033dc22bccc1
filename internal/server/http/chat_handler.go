package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"aidesk/internal/async"
	"aidesk/internal/chat"
	"aidesk/internal/logging"
	"aidesk/internal/protocol"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 16 << 10
)

// ChatService answers one ask and streams through the sink.
type ChatService interface {
	Handle(ctx context.Context, ask protocol.AskPayload, sink chat.Sink) error
}

// ChatHandler upgrades GET /ws and runs chat exchanges over the connection.
type ChatHandler struct {
	service  ChatService
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewChatHandler creates a chat handler. allowedOrigins empty accepts any origin.
func NewChatHandler(service ChatService, allowedOrigins []string) *ChatHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return &ChatHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowed) == 0 {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		logger: logging.NewComponentLogger("ChatHandler"),
	}
}

// HandleWebSocket handles GET /ws
func (h *ChatHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	logger := logging.WithField(h.logger, "conn", uuid.NewString()[:8])
	logger.Info("client connected: %s", conn.RemoteAddr())

	session := newChatConnection(conn, h.service, logger)
	session.serve(c.Request.Context())
	logger.Info("client disconnected: %s", conn.RemoteAddr())
}

// chatConnection owns one websocket. Writes are serialized by writeMu; at
// most one exchange runs at a time and a new ask supersedes the current one.
type chatConnection struct {
	conn    *websocket.Conn
	service ChatService
	logger  logging.Logger

	writeMu sync.Mutex

	exchangeMu     sync.Mutex
	cancelExchange context.CancelFunc
	exchangeDone   <-chan struct{}
}

func newChatConnection(conn *websocket.Conn, service ChatService, logger logging.Logger) *chatConnection {
	return &chatConnection{conn: conn, service: service, logger: logger}
}

func (s *chatConnection) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer func() {
		cancel()
		s.waitExchange()
		_ = s.conn.Close()
	}()

	pingDone := async.Go(s.logger, "chat.ping", func() { s.pingLoop(ctx) })
	defer func() { <-pingDone }()

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error: %v", err)
			}
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("dropping malformed frame: %v", err)
			continue
		}
		if frame.Event != protocol.EventAsk {
			s.logger.Debug("ignoring event %q", frame.Event)
			continue
		}

		var ask protocol.AskPayload
		if err := frame.Decode(&ask); err != nil {
			_ = s.Fail("invalid chat:ask payload")
			continue
		}
		s.startExchange(ctx, ask)
	}
}

func (s *chatConnection) startExchange(ctx context.Context, ask protocol.AskPayload) {
	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()

	if s.cancelExchange != nil {
		s.cancelExchange()
		<-s.exchangeDone
	}

	exchangeCtx, cancel := context.WithCancel(ctx)
	s.cancelExchange = cancel
	s.exchangeDone = async.Go(s.logger, "chat.exchange", func() {
		defer cancel()
		if err := s.service.Handle(exchangeCtx, ask, s); err != nil && exchangeCtx.Err() == nil {
			s.logger.Warn("chat exchange aborted: %v", err)
		}
	})
}

func (s *chatConnection) waitExchange() {
	s.exchangeMu.Lock()
	done := s.exchangeDone
	s.exchangeMu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *chatConnection) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *chatConnection) write(event string, payload any) error {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(frame)
}

// Chunk implements chat.Sink.
func (s *chatConnection) Chunk(text string) error {
	return s.write(protocol.EventChunk, protocol.ChunkPayload{Text: text})
}

// Done implements chat.Sink.
func (s *chatConnection) Done() error {
	return s.write(protocol.EventDone, nil)
}

// Fail implements chat.Sink.
func (s *chatConnection) Fail(message string) error {
	return s.write(protocol.EventError, protocol.ErrorPayload{Message: message})
}
