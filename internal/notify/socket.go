package notify

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/gorilla/websocket"
)

const (
	socketWriteTimeout   = 5 * time.Second
	reconnectAttempts    = 5
	reconnectInitialWait = time.Second
	reconnectMaxWait     = 30 * time.Second
)

var errSocketClosed = errors.New("socket not connected")

// envelope names the event on the wire so the subscriber can multiplex one
// connection across event kinds.
type envelope struct {
	Event string `json:"event"`
	Data  Event  `json:"data"`
}

// Socket is the persistent duplex channel to the subscriber. It is shared
// across concurrent jobs: writes are serialized, and a send failure marks the
// channel disconnected without surfacing to callers. Reconnection runs in the
// background with capped attempts and bounded backoff; it never blocks job
// processing.
type Socket struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	mu        sync.Mutex // guards conn and serializes writes
	conn      *websocket.Conn
	connected atomic.Bool
	redialing atomic.Bool
}

// NewSocket prepares a socket for url without dialing. Call Connect to
// establish the channel; the dispatcher works fine while it is down.
func NewSocket(url string, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	return &Socket{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Connect dials the subscriber. Failure is not fatal: the socket stays
// disconnected and events route through the fallback.
func (s *Socket) Connect() error {
	conn, _, err := s.dialer.Dial(s.url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)

	s.logger.Info("notification socket connected", "url", s.url)
	return nil
}

// Connected reports whether the duplex channel is currently established.
func (s *Socket) Connected() bool {
	return s.connected.Load()
}

// Send pushes one named event. A write error marks the socket disconnected
// for subsequent events and kicks off a background redial.
func (s *Socket) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || !s.connected.Load() {
		return errSocketClosed
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout)); err != nil {
		s.markDisconnectedLocked(err)
		return err
	}
	if err := s.conn.WriteJSON(envelope{Event: "ingestion-progress", Data: ev}); err != nil {
		s.markDisconnectedLocked(err)
		return err
	}
	return nil
}

// Close tears down the channel and disables reconnection for it.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected.Store(false)
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Socket) markDisconnectedLocked(cause error) {
	s.connected.Store(false)
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.logger.Warn("notification socket disconnected", "error", cause)

	// One redial loop at a time.
	if s.redialing.CompareAndSwap(false, true) {
		go s.redial()
	}
}

func (s *Socket) redial() {
	defer s.redialing.Store(false)

	err := retry.Do(
		s.Connect,
		retry.Attempts(reconnectAttempts),
		retry.Delay(reconnectInitialWait),
		retry.MaxDelay(reconnectMaxWait),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		s.logger.Warn("notification socket reconnect gave up",
			"url", s.url, "attempts", reconnectAttempts, "error", err)
	}
}
