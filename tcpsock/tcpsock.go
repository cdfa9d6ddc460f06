// Package tcpsock implements an outbound TCP peer socket with automatic
// exponential-backoff reconnect, used by the instrument connection adapter
// for the tcp, botpt, and rsn instrument types.
package tcpsock

import (
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"
)

// State is the peer socket's connection state.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

var ErrSocket = errors.New("tcpsock: socket error")

// BackoffConfig bounds the reconnect delay ceiling. Mirrors
// config.RecoveryConfig from the teacher lineage, retargeted onto a single
// peer socket instead of a whole capture channel.
type BackoffConfig struct {
	Min time.Duration
	Max time.Duration
}

// DefaultBackoff matches the spec's example ceiling of 1s to 30s.
var DefaultBackoff = BackoffConfig{Min: time.Second, Max: 30 * time.Second}

// Socket is a single outbound TCP connection with reconnect.
type Socket struct {
	mu       sync.Mutex
	host     string
	port     int
	backoff  BackoffConfig
	conn     net.Conn
	state    State
	failures int
	nextTry  time.Time
	dialFn   func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// New constructs a socket targeting host:port. It does not connect; call
// Initialize (or let the engine drive Tick) to begin connecting.
func New(host string, port int, backoff BackoffConfig) *Socket {
	if backoff.Min <= 0 {
		backoff = DefaultBackoff
	}
	return &Socket{
		host:    host,
		port:    port,
		backoff: backoff,
		state:   Idle,
		dialFn: func(network, addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout(network, addr, timeout)
		},
	}
}

// Hostname returns the configured host.
func (s *Socket) Hostname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

// Port returns the configured port.
func (s *Socket) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// SetEndpoint mutates host/port. If the endpoint changes while connected,
// the connection is torn down and Initialize dials the new endpoint at
// once. Setting the current endpoint again is a no-op.
func (s *Socket) SetEndpoint(host string, port int) {
	s.mu.Lock()
	changed := host != s.host || port != s.port
	s.host = host
	s.port = port
	s.mu.Unlock()

	if changed && s.Connected() {
		s.disconnect()
		s.Initialize()
	}
}

// Connected reports whether the socket currently has a live connection.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Connected
}

// State returns the current connection state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Failures returns the number of consecutive failed dial attempts since
// the last successful connect (or since Initialize reset it). It resets to
// zero on a successful connect, so callers that need a lifetime total must
// track the running delta across ticks themselves.
func (s *Socket) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// Initialize resets the socket to idle and attempts an immediate connect,
// clearing any pending backoff. Used both for first connect and for
// endpoint-change reinitialization.
func (s *Socket) Initialize() {
	s.mu.Lock()
	s.state = Idle
	s.failures = 0
	s.nextTry = time.Time{}
	s.mu.Unlock()
	s.Tick()
}

// Tick attempts to (re)connect if due, per the exponential backoff
// schedule. It is safe to call every engine tick; it is a no-op unless the
// socket is disconnected/idle and the backoff window has elapsed.
func (s *Socket) Tick() {
	s.mu.Lock()
	if s.state == Connected || s.state == Connecting {
		s.mu.Unlock()
		return
	}
	if !s.nextTry.IsZero() && time.Now().Before(s.nextTry) {
		s.mu.Unlock()
		return
	}
	host, port, failures := s.host, s.port, s.failures
	s.state = Connecting
	s.mu.Unlock()

	if host == "" || port == 0 {
		s.mu.Lock()
		s.state = Idle
		s.mu.Unlock()
		return
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := s.dialFn("tcp", addr, 2*time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = Disconnected
		s.failures++
		s.nextTry = time.Now().Add(s.delayFor(failures + 1))
		return
	}
	s.conn = conn
	s.state = Connected
	s.failures = 0
	s.nextTry = time.Time{}
}

// delayFor computes the exponential backoff delay for the given failure
// count, bounded at the configured ceiling. Mirrors the teacher's
// handleReconnect calculation almost verbatim, retargeted to a peer socket.
func (s *Socket) delayFor(failures int) time.Duration {
	delay := s.backoff.Min
	if failures > 1 {
		exponent := math.Min(float64(failures-1), 30)
		multiplier := math.Pow(2, exponent)
		calculated := time.Duration(float64(delay) * multiplier)
		if calculated > s.backoff.Max {
			delay = s.backoff.Max
		} else {
			delay = calculated
		}
	}
	return delay
}

// ReadNonblocking returns available bytes without blocking beyond a short
// deadline. Returns (0, nil) when nothing arrives before the deadline, and
// triggers a disconnect transition on hard errors.
func (s *Socket) ReadNonblocking(buf []byte) (int, error) {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == Connected
	s.mu.Unlock()

	if !connected || conn == nil {
		return 0, ErrSocket
	}

	conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil
		}
		s.disconnect()
		return 0, fmt.Errorf("%w: %v", ErrSocket, err)
	}
	return n, nil
}

// Write sends buf on the connection.
func (s *Socket) Write(buf []byte) (int, error) {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == Connected
	s.mu.Unlock()

	if !connected || conn == nil {
		return 0, ErrSocket
	}
	n, err := conn.Write(buf)
	if err != nil {
		s.disconnect()
		return n, fmt.Errorf("%w: %v", ErrSocket, err)
	}
	return n, nil
}

func (s *Socket) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.state != Idle {
		s.state = Disconnected
	}
}

// Close tears down the connection permanently.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	s.state = Idle
	return err
}
