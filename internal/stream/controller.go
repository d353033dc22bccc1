// Package stream is the client side of the chat websocket: one persistent
// connection with bounded reconnection, and per-exchange reconstruction of
// the streamed summary.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"aidesk/internal/async"
	apperrors "aidesk/internal/errors"
	"aidesk/internal/extract"
	"aidesk/internal/logging"
	"aidesk/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = time.Second
	DefaultUserID               = "demo-user"

	writeWait    = 10 * time.Second
	maxFrameSize = 1 << 20
)

// ErrNotConnected is returned by Ask while no connection is open.
var ErrNotConnected = errors.New("chat stream is not connected")

// LostExchangeMessage is reported through OnError when the connection drops
// in the middle of an exchange.
const LostExchangeMessage = "Connection lost while the answer was streaming, please ask again"

// Listener receives exchange events. Callbacks run on the read goroutine.
type Listener interface {
	OnSummary(text string)
	OnComplete(text string)
	OnError(message string)
	OnDisconnect(err error)
}

// AskContext scopes a question to a project and user.
type AskContext struct {
	ProjectID string
	UserID    string
}

// Config configures a Controller.
type Config struct {
	URL                  string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	DefaultUserID        string
	Dialer               *websocket.Dialer
}

// Controller owns the websocket connection and the state of the current exchange.
type Controller struct {
	cfg      Config
	listener Listener
	logger   logging.Logger
	dialer   *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu serializes writes on conn.
	writeMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	buffer *extract.Buffer
	active bool
	closed bool
	done   <-chan struct{}
}

// NewController returns an unconnected controller.
func NewController(cfg Config, listener Listener, logger logging.Logger) *Controller {
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if strings.TrimSpace(cfg.DefaultUserID) == "" {
		cfg.DefaultUserID = DefaultUserID
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("Stream")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:      cfg,
		listener: listener,
		logger:   logger,
		dialer:   dialer,
		ctx:      ctx,
		cancel:   cancel,
		buffer:   extract.NewBuffer(),
	}
}

// Connect opens the connection and starts the read goroutine. A transient
// dial failure is retried like a reconnect.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	attempts := max(c.cfg.MaxReconnectAttempts-1, 0)
	conn, err := c.dial(ctx, attempts)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn != nil {
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.done = async.Go(c.logger, "stream-read", func() { c.run(conn) })
	c.logger.Info("connected to %s", c.cfg.URL)
	return nil
}

// Ask starts a new exchange. Any previous exchange is abandoned.
func (c *Controller) Ask(ctx context.Context, question string, actx AskContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(actx.ProjectID) == "" {
		return &apperrors.PreconditionError{Field: "projectId"}
	}
	userID := strings.TrimSpace(actx.UserID)
	if userID == "" {
		userID = c.cfg.DefaultUserID
	}
	frame, err := protocol.NewFrame(protocol.EventAsk, protocol.AskPayload{
		ProjectID: actx.ProjectID,
		UserID:    userID,
		Question:  question,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.buffer = extract.NewBuffer()
	c.active = true
	c.mu.Unlock()

	if err := c.write(conn, frame); err != nil {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
		return &apperrors.TransportError{Op: "ask", Err: err}
	}
	return nil
}

// Connected reports whether a connection is currently open.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close stops reconnecting, closes the connection and waits for the read
// goroutine to exit.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	done := c.done
	c.mu.Unlock()

	c.cancel()
	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	if done != nil {
		<-done
	}
	return err
}

func (c *Controller) write(conn *websocket.Conn, frame protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

// run reads frames until the connection drops, then reconnects until the
// attempts are exhausted or the controller is closed.
func (c *Controller) run(conn *websocket.Conn) {
	for {
		err := c.readFrames(conn)
		if c.isClosed() {
			return
		}
		c.logger.Warn("connection lost: %v", err)
		_ = conn.Close()

		c.mu.Lock()
		lost := c.active
		c.conn = nil
		c.active = false
		c.buffer = extract.NewBuffer()
		c.mu.Unlock()
		if lost && c.listener != nil {
			c.listener.OnError(LostExchangeMessage)
		}

		if c.cfg.MaxReconnectAttempts == 0 {
			c.disconnected(fmt.Errorf("reconnect disabled: %w", err))
			return
		}
		next, dialErr := c.dial(c.ctx, c.cfg.MaxReconnectAttempts-1)
		if dialErr != nil {
			if c.isClosed() {
				return
			}
			c.disconnected(dialErr)
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = next.Close()
			return
		}
		c.conn = next
		c.mu.Unlock()
		c.logger.Info("reconnected to %s", c.cfg.URL)
		conn = next
	}
}

func (c *Controller) disconnected(err error) {
	c.logger.Error("giving up on %s: %v", c.cfg.URL, err)
	if c.listener != nil {
		c.listener.OnDisconnect(err)
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// dial connects with a fixed delay between attempts; retries counts the
// attempts after the first.
func (c *Controller) dial(ctx context.Context, retries int) (*websocket.Conn, error) {
	cfg := apperrors.FixedRetryConfig(retries, c.cfg.ReconnectDelay)
	return apperrors.RetryWithResult(ctx, cfg, func(ctx context.Context, attempt int) (*websocket.Conn, error) {
		if attempt > 0 {
			c.logger.Info("reconnect attempt %d/%d", attempt+1, retries+1)
		}
		conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			transportErr := &apperrors.TransportError{Op: "connect", Err: err}
			if resp != nil {
				transportErr.StatusCode = resp.StatusCode
				_ = resp.Body.Close()
			}
			return nil, transportErr
		}
		conn.SetReadLimit(maxFrameSize)
		return conn, nil
	}, c.logger)
}

func (c *Controller) readFrames(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("dropping malformed frame: %v", err)
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Controller) dispatch(frame protocol.Frame) {
	switch frame.Event {
	case protocol.EventChunk:
		var payload protocol.ChunkPayload
		if err := frame.Decode(&payload); err != nil {
			c.logger.Warn("ignoring chunk: %v", err)
			return
		}
		c.mu.Lock()
		if !c.active {
			c.mu.Unlock()
			return
		}
		value, found := c.buffer.Append(payload.Text)
		c.mu.Unlock()
		if found && c.listener != nil {
			c.listener.OnSummary(value)
		}

	case protocol.EventDone:
		c.mu.Lock()
		if !c.active {
			c.mu.Unlock()
			return
		}
		c.active = false
		buffer := c.buffer
		c.mu.Unlock()

		text := resolve(buffer, c.logger)
		if c.listener != nil {
			c.listener.OnComplete(text)
		}

	case protocol.EventError:
		var payload protocol.ErrorPayload
		if err := frame.Decode(&payload); err != nil {
			payload.Message = "chat failed"
		}
		c.mu.Lock()
		if !c.active {
			c.mu.Unlock()
			return
		}
		c.active = false
		c.mu.Unlock()
		if c.listener != nil {
			c.listener.OnError(payload.Message)
		}

	default:
		c.logger.Debug("ignoring event %q", frame.Event)
	}
}

// resolve turns a finished buffer into displayable text. A scope rejection
// carries no summary field and is shown as sent.
func resolve(buffer *extract.Buffer, logger logging.Logger) string {
	if strings.TrimSpace(buffer.Raw()) == protocol.RejectionSentence {
		return protocol.RejectionSentence
	}
	text, err := buffer.Finish()
	if err != nil {
		logger.Warn("exchange ended without a usable summary: %v", err)
	}
	return text
}
