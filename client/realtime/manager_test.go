package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearchat/client/api"
	"nearchat/client/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type rotatingTokens struct{ n atomic.Int32 }

func (r *rotatingTokens) Token() (string, error) {
	switch r.n.Add(1) {
	case 1:
		return "first", nil
	default:
		return "second", nil
	}
}

func fastOptions(url string) Options {
	return Options{
		URL:             url,
		Tokens:          api.StaticToken("tok"),
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
	}
}

func TestDispatchInReceiptOrderAndDropsBadFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		frames := []string{
			`{"type":"message","data":{"_id":"m1","text":"a"}}`,
			`not json at all`,
			`{"type":"typing","data":{}}`,
			`{"type":"reaction","data":{"_id":"m1","reactions":{"x":[{"emoji":"x"}]}}}`,
			`{"type":"message","data":{"text":"no id"}}`,
			`{"type":"nearbyUsers","data":[{"_id":"u2","fullName":"Beka"}]}`,
		}
		for _, f := range frames {
			conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		conn.ReadMessage()
	}))
	defer srv.Close()

	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	opts := fastOptions(wsURL(srv))
	opts.Handlers = Handlers{
		OnMessage:     func(m model.Message) { record("message:" + m.ID) },
		OnReaction:    func(id string, r model.Reactions) { record("reaction:" + id) },
		OnNearbyUsers: func(u []model.User) { record("nearby:" + u[0].ID) },
	}
	m := NewManager(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []string{"message:m1", "reaction:m1", "nearby:u2"}, events)
}

func TestSendWritesEnvelope(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, p, err := conn.ReadMessage()
		if err == nil {
			got <- string(p)
		}
		conn.ReadMessage()
	}))
	defer srv.Close()

	connected := make(chan bool, 4)
	opts := fastOptions(wsURL(srv))
	opts.OnStateChange = func(up bool) { connected <- up }
	m := NewManager(opts)

	assert.ErrorIs(t, m.Send(context.Background(), model.RequestNearbyUsers{}), ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	require.True(t, <-connected)

	require.NoError(t, m.Send(ctx, model.SendMessage{Kind: model.MessageKindText, Message: "hi", TempID: "t1"}))
	assert.JSONEq(t, `{"type":"message","data":{"type":"text","message":"hi","tempId":"t1"}}`, <-got)
}

func TestReconnectsWithFreshToken(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// drop every connection right away
		conn.Close()
	}))
	defer srv.Close()

	opts := fastOptions(wsURL(srv))
	opts.Tokens = &rotatingTokens{}
	m := NewManager(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer first", seen[0])
	assert.Equal(t, "Bearer second", seen[1])
}

func TestRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	opts := fastOptions(url)
	opts.MaxRetries = 2
	m := NewManager(opts)

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestSecondRunFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	connected := make(chan bool, 4)
	opts := fastOptions(wsURL(srv))
	opts.OnStateChange = func(up bool) { connected <- up }
	m := NewManager(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	require.True(t, <-connected)
	assert.True(t, m.Connected())

	assert.ErrorIs(t, m.Run(ctx), ErrAlreadyRunning)

	cancel()
	<-done
	assert.False(t, m.Connected())
}

type countingMetrics struct {
	received, dropped, sent, failed, conns, reconns atomic.Int32
}

func (c *countingMetrics) FrameReceived(string) { c.received.Add(1) }
func (c *countingMetrics) FrameDropped()        { c.dropped.Add(1) }
func (c *countingMetrics) FrameSent(string)     { c.sent.Add(1) }
func (c *countingMetrics) SendFailed(string)    { c.failed.Add(1) }
func (c *countingMetrics) Connected()           { c.conns.Add(1) }
func (c *countingMetrics) Reconnected()         { c.reconns.Add(1) }

func TestMetricsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nearbyUsers","data":[]}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`))
		conn.Close()
	}))
	defer srv.Close()

	metrics := &countingMetrics{}
	opts := fastOptions(wsURL(srv))
	opts.Metrics = metrics
	m := NewManager(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return metrics.reconns.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, int32(1), metrics.conns.Load())
	assert.GreaterOrEqual(t, metrics.received.Load(), int32(1))
	assert.GreaterOrEqual(t, metrics.dropped.Load(), int32(1))
}
