package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aidesk/internal/extract"
	"aidesk/internal/logging"
	"aidesk/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind string
	text string
	err  error
}

type recordingListener struct {
	events chan event
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan event, 32)}
}

func (l *recordingListener) OnSummary(text string)  { l.events <- event{kind: "summary", text: text} }
func (l *recordingListener) OnComplete(text string) { l.events <- event{kind: "complete", text: text} }
func (l *recordingListener) OnError(message string) { l.events <- event{kind: "error", text: message} }
func (l *recordingListener) OnDisconnect(err error) { l.events <- event{kind: "disconnect", err: err} }

func (l *recordingListener) next(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-l.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no listener event")
		return event{}
	}
}

func (l *recordingListener) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-l.events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(d):
	}
}

// script answers one chat:ask on the server side.
type script func(conn *websocket.Conn, ask protocol.AskPayload)

type chatServer struct {
	*httptest.Server
	asks        chan protocol.AskPayload
	connections atomic.Int32
}

func newChatServer(t *testing.T, answer script) *chatServer {
	t.Helper()
	srv := &chatServer{asks: make(chan protocol.AskPayload, 8)}
	upgrader := websocket.Upgrader{}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		srv.connections.Add(1)
		for {
			var frame protocol.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Event != protocol.EventAsk {
				continue
			}
			var ask protocol.AskPayload
			if err := frame.Decode(&ask); err != nil {
				return
			}
			srv.asks <- ask
			answer(conn, ask)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (s *chatServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func send(conn *websocket.Conn, eventName string, payload any) {
	frame, _ := protocol.NewFrame(eventName, payload)
	_ = conn.WriteJSON(frame)
}

func chunks(conn *websocket.Conn, parts ...string) {
	for _, part := range parts {
		send(conn, protocol.EventChunk, protocol.ChunkPayload{Text: part})
	}
}

func connect(t *testing.T, url string, listener Listener, attempts int) *Controller {
	t.Helper()
	c := NewController(Config{
		URL:                  url,
		MaxReconnectAttempts: attempts,
		ReconnectDelay:       5 * time.Millisecond,
	}, listener, logging.Nop())
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAskStreamsSummaryThenCompletes(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn, ask protocol.AskPayload) {
		chunks(conn, `{"summary":"Stock `, `covers six weeks."`, `,"used":{}}`)
		send(conn, protocol.EventDone, nil)
	})
	listener := newRecordingListener()
	c := connect(t, srv.wsURL(), listener, 1)

	require.NoError(t, c.Ask(context.Background(), "How is stock?", AskContext{ProjectID: "proj-demo"}))

	ask := <-srv.asks
	assert.Equal(t, protocol.AskPayload{ProjectID: "proj-demo", UserID: DefaultUserID, Question: "How is stock?"}, ask)

	assert.Equal(t, event{kind: "summary", text: "Stock covers six weeks."}, listener.next(t))
	assert.Equal(t, event{kind: "complete", text: "Stock covers six weeks."}, listener.next(t))
}

func TestAskKeepsExplicitUser(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn, _ protocol.AskPayload) {
		send(conn, protocol.EventDone, nil)
	})
	c := connect(t, srv.wsURL(), newRecordingListener(), 1)

	require.NoError(t, c.Ask(context.Background(), "q", AskContext{ProjectID: "p", UserID: "alice"}))
	assert.Equal(t, "alice", (<-srv.asks).UserID)
}

func TestAskRequiresProject(t *testing.T) {
	c := NewController(Config{URL: "ws://127.0.0.1:1/ws"}, nil, logging.Nop())
	err := c.Ask(context.Background(), "q", AskContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "projectId")
}

func TestAskWithoutConnection(t *testing.T) {
	c := NewController(Config{URL: "ws://127.0.0.1:1/ws"}, nil, logging.Nop())
	assert.ErrorIs(t, c.Ask(context.Background(), "q", AskContext{ProjectID: "p"}), ErrNotConnected)
}

func TestRejectionIsShownVerbatim(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn, _ protocol.AskPayload) {
		chunks(conn, protocol.RejectionSentence)
		send(conn, protocol.EventDone, nil)
	})
	listener := newRecordingListener()
	c := connect(t, srv.wsURL(), listener, 1)

	require.NoError(t, c.Ask(context.Background(), "What's the weather?", AskContext{ProjectID: "p"}))
	assert.Equal(t, event{kind: "complete", text: protocol.RejectionSentence}, listener.next(t))
}

func TestMissingSummaryFallsBackToApology(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn, _ protocol.AskPayload) {
		chunks(conn, `{"answer":"no summary here"}`)
		send(conn, protocol.EventDone, nil)
	})
	listener := newRecordingListener()
	c := connect(t, srv.wsURL(), listener, 1)

	require.NoError(t, c.Ask(context.Background(), "q", AskContext{ProjectID: "p"}))
	assert.Equal(t, event{kind: "complete", text: extract.Apology}, listener.next(t))
}

func TestErrorEventEndsExchange(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn, _ protocol.AskPayload) {
		send(conn, protocol.EventError, protocol.ErrorPayload{Message: "unknown project"})
		chunks(conn, `{"summary":"late"}`)
		send(conn, protocol.EventDone, nil)
	})
	listener := newRecordingListener()
	c := connect(t, srv.wsURL(), listener, 1)

	require.NoError(t, c.Ask(context.Background(), "q", AskContext{ProjectID: "missing"}))
	assert.Equal(t, event{kind: "error", text: "unknown project"}, listener.next(t))
	listener.quiet(t, 50*time.Millisecond)
}

func TestChunksAfterDoneAreIgnored(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn, _ protocol.AskPayload) {
		chunks(conn, `{"summary":"first"}`)
		send(conn, protocol.EventDone, nil)
		chunks(conn, `{"summary":"second"}`)
		send(conn, protocol.EventDone, nil)
	})
	listener := newRecordingListener()
	c := connect(t, srv.wsURL(), listener, 1)

	require.NoError(t, c.Ask(context.Background(), "q", AskContext{ProjectID: "p"}))
	assert.Equal(t, event{kind: "summary", text: "first"}, listener.next(t))
	assert.Equal(t, event{kind: "complete", text: "first"}, listener.next(t))
	listener.quiet(t, 50*time.Millisecond)
}

func TestEachAskStartsFreshBuffer(t *testing.T) {
	var mu sync.Mutex
	answers := []string{`{"summary":"one"}`, `{"summary":"two"}`}
	srv := newChatServer(t, func(conn *websocket.Conn, _ protocol.AskPayload) {
		mu.Lock()
		answer := answers[0]
		answers = answers[1:]
		mu.Unlock()
		chunks(conn, answer)
		send(conn, protocol.EventDone, nil)
	})
	listener := newRecordingListener()
	c := connect(t, srv.wsURL(), listener, 1)

	for _, want := range []string{"one", "two"} {
		require.NoError(t, c.Ask(context.Background(), "q", AskContext{ProjectID: "p"}))
		assert.Equal(t, event{kind: "summary", text: want}, listener.next(t))
		assert.Equal(t, event{kind: "complete", text: want}, listener.next(t))
	}
}

func TestReconnectsAfterDrop(t *testing.T) {
	var dropped atomic.Bool
	srv := newChatServer(t, func(conn *websocket.Conn, _ protocol.AskPayload) {
		if dropped.CompareAndSwap(false, true) {
			chunks(conn, `{"summary":"partial`)
			_ = conn.Close()
			return
		}
		chunks(conn, `{"summary":"after reconnect"}`)
		send(conn, protocol.EventDone, nil)
	})
	listener := newRecordingListener()
	c := connect(t, srv.wsURL(), listener, 3)

	require.NoError(t, c.Ask(context.Background(), "q", AskContext{ProjectID: "p"}))
	assert.Equal(t, event{kind: "error", text: LostExchangeMessage}, listener.next(t))

	require.Eventually(t, func() bool { return c.Connected() && srv.connections.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Ask(context.Background(), "q", AskContext{ProjectID: "p"}))
	assert.Equal(t, event{kind: "summary", text: "after reconnect"}, listener.next(t))
	assert.Equal(t, event{kind: "complete", text: "after reconnect"}, listener.next(t))
}

func TestDisconnectAfterReconnectAttemptsExhausted(t *testing.T) {
	var accepted atomic.Int32
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		if accepted.Add(1) > 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	t.Cleanup(srv.Close)

	listener := newRecordingListener()
	c := connect(t, "ws"+strings.TrimPrefix(srv.URL, "http"), listener, 3)

	ev := listener.next(t)
	require.Equal(t, "disconnect", ev.kind)
	assert.Contains(t, ev.err.Error(), "503")
	assert.Equal(t, int32(4), dials.Load())
	assert.False(t, c.Connected())
}

func TestCloseStopsReadLoop(t *testing.T) {
	srv := newChatServer(t, func(*websocket.Conn, protocol.AskPayload) {})
	listener := newRecordingListener()
	c := connect(t, srv.wsURL(), listener, 3)

	require.NoError(t, c.Close())
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Ask(context.Background(), "q", AskContext{ProjectID: "p"}), ErrNotConnected)
	listener.quiet(t, 30*time.Millisecond)
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn, _ protocol.AskPayload) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		raw, _ := json.Marshal(map[string]string{"event": "chat:unknown"})
		_ = conn.WriteMessage(websocket.TextMessage, raw)
		chunks(conn, `{"summary":"ok"}`)
		send(conn, protocol.EventDone, nil)
	})
	listener := newRecordingListener()
	c := connect(t, srv.wsURL(), listener, 1)

	require.NoError(t, c.Ask(context.Background(), "q", AskContext{ProjectID: "p"}))
	assert.Equal(t, event{kind: "summary", text: "ok"}, listener.next(t))
	assert.Equal(t, event{kind: "complete", text: "ok"}, listener.next(t))
}
