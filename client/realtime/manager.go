package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"nearchat/client/api"
	"nearchat/client/model"
)

const (
	DefaultPingPeriod = 30 * time.Second
	DefaultPongWait   = 60 * time.Second
	DefaultWriteWait  = 10 * time.Second

	// media frames carry base64 payloads
	maxFrameSize = 8 << 20
)

var (
	ErrAlreadyRunning   = errors.New("realtime manager is already running")
	ErrNotConnected     = errors.New("realtime connection is not established")
	ErrRetriesExhausted = errors.New("realtime reconnect attempts exhausted")
)

// Handlers receive recognized inbound frames on the read goroutine, one at a
// time and in receipt order.
type Handlers struct {
	OnMessage     func(model.Message)
	OnReaction    func(id string, reactions model.Reactions)
	OnNearbyUsers func([]model.User)
}

// Metrics is the subset of the metrics collector the manager reports to
type Metrics interface {
	FrameReceived(frameType string)
	FrameDropped()
	FrameSent(frameType string)
	SendFailed(frameType string)
	Connected()
	Reconnected()
}

type Options struct {
	URL       string
	Tokens    api.TokenSource
	Transport api.Transport
	Handlers  Handlers
	Metrics   Metrics
	Log       *logrus.Entry

	// OnStateChange is called with true after every successful dial and with
	// false when that connection ends.
	OnStateChange func(connected bool)

	// MaxRetries caps consecutive failed dials. Zero retries forever.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
}

// Manager keeps one websocket connection alive for an authenticated session
type Manager struct {
	opts   Options
	dialer *websocket.Dialer
	log    *logrus.Entry

	running atomic.Bool

	mu   sync.RWMutex
	conn *websocket.Conn

	writeMu sync.Mutex
}

func NewManager(opts Options) *Manager {
	if opts.Log == nil {
		opts.Log = logrus.WithField("component", "realtime")
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 30 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = DefaultPongWait
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = DefaultPingPeriod
	}
	if opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultWriteWait
	}

	return &Manager{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            opts.Transport.Proxy,
			NetDialContext:   opts.Transport.DialContext,
			HandshakeTimeout: 10 * time.Second,
		},
		log: opts.Log,
	}
}

// Connected reports whether a connection is currently established.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil
}

// Run dials, serves the connection and reconnects with jittered exponential
// backoff until ctx is done or MaxRetries consecutive dials fail.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.InitialInterval
	b.MaxInterval = m.opts.MaxInterval
	b.RandomizationFactor = 0.5
	b.Reset()

	failures := 0
	dials := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if m.opts.MaxRetries > 0 && failures > m.opts.MaxRetries {
				return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
			}
			delay := b.NextBackOff()
			m.log.WithError(err).WithFields(logrus.Fields{
				"attempt": failures,
				"delay":   delay,
			}).Warn("realtime dial failed")
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		failures = 0
		b.Reset()
		if dials == 0 {
			m.opts.Metrics.Connected()
		} else {
			m.opts.Metrics.Reconnected()
		}
		dials++

		m.setConn(conn)
		m.log.Info("realtime connected")
		if m.opts.OnStateChange != nil {
			m.opts.OnStateChange(true)
		}

		err = m.serve(ctx, conn)

		m.setConn(nil)
		if m.opts.OnStateChange != nil {
			m.opts.OnStateChange(false)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := b.NextBackOff()
		m.log.WithError(err).WithField("delay", delay).Info("realtime connection lost, reconnecting")
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

// Send writes one frame on the live connection.
func (m *Manager) Send(ctx context.Context, frame model.Outbound) error {
	frameType := string(frame.FrameType())
	data, err := model.EncodeOutbound(frame)
	if err != nil {
		return err
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		m.opts.Metrics.SendFailed(frameType)
		return ErrNotConnected
	}

	deadline := time.Now().Add(m.opts.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	m.writeMu.Lock()
	conn.SetWriteDeadline(deadline)
	err = conn.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()

	if err != nil {
		m.opts.Metrics.SendFailed(frameType)
		return fmt.Errorf("failed to write %s frame: %w", frameType, err)
	}
	m.opts.Metrics.FrameSent(frameType)
	return nil
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if m.opts.Tokens != nil {
		token, err := m.opts.Tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to read token: %w", err)
		}
		if token != "" {
			header.Set("authorization", "Bearer "+token)
		}
	}

	conn, resp, err := m.dialer.DialContext(ctx, m.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", m.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", m.opts.URL, err)
	}
	return conn, nil
}

// serve pumps inbound frames until the connection fails or ctx is done.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(m.opts.PingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				m.writeMu.Lock()
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				m.writeMu.Unlock()
				conn.Close()
				return
			case <-ticker.C:
				m.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.opts.WriteWait))
				m.writeMu.Unlock()
				if err != nil {
					m.log.WithError(err).Debug("ping failed")
					conn.Close()
					return
				}
			}
		}
	}()

	defer conn.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.dispatch(raw)
	}
}

func (m *Manager) dispatch(raw []byte) {
	frame, err := model.DecodeInbound(raw)
	if err != nil {
		m.opts.Metrics.FrameDropped()
		m.log.WithError(err).Debug("discarding inbound frame")
		return
	}

	h := m.opts.Handlers
	switch f := frame.(type) {
	case model.MessageFrame:
		m.opts.Metrics.FrameReceived(string(model.FrameMessage))
		if h.OnMessage != nil {
			h.OnMessage(f.Message)
		}
	case model.ReactionFrame:
		m.opts.Metrics.FrameReceived(string(model.FrameReaction))
		if h.OnReaction != nil {
			h.OnReaction(f.ID, f.Reactions)
		}
	case model.NearbyUsersFrame:
		m.opts.Metrics.FrameReceived(string(model.FrameNearbyUsers))
		if h.OnNearbyUsers != nil {
			h.OnNearbyUsers(f.Users)
		}
	}
}

func (m *Manager) setConn(conn *websocket.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type noopMetrics struct{}

func (noopMetrics) FrameReceived(string) {}
func (noopMetrics) FrameDropped()        {}
func (noopMetrics) FrameSent(string)     {}
func (noopMetrics) SendFailed(string)    {}
func (noopMetrics) Connected()           {}
func (noopMetrics) Reconnected()         {}
