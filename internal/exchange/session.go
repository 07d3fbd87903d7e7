package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/proxy"

	"github.com/marketprism/ingest/internal/netutil/circuit"
)

// DialConfig carries everything Session needs to open and maintain one
// venue's WebSocket connection.
type DialConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	// ProxyURL, if set, is used for the dial instead of the environment
	// proxy. Supports http://, https:// and socks5:// schemes.
	ProxyURL string
}

func (c DialConfig) withDefaults() DialConfig {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	return c
}

// Capabilities reports what a venue's wire protocol actually supports.
// Not every venue implements the same surface; callers should not assume
// every Adapter behaves alike.
type Capabilities struct {
	// SupportsProxy is true when the venue's session can be dialed through
	// DialConfig.ProxyURL. All four venues here dial the same
	// gorilla/websocket.Dialer, so this is true across the board today,
	// but a future venue reachable only over a fixed IP allowlist would
	// report false.
	SupportsProxy bool

	// MultiplexedSubscription is true when the venue encodes its channel
	// subscriptions in the dial URL itself (Binance's combined-stream
	// path) rather than sending an explicit post-connect subscribe frame.
	MultiplexedSubscription bool

	// ChecksumField is true when the venue's depth-update frames carry a
	// venue-computed checksum the orderbook maintainer can cross-check
	// against orderbook.Checksum (OKX, Kraken); Binance and Coinbase
	// depth frames carry no such field.
	ChecksumField bool
}

// Adapter implements one venue's wire format. Session owns connect,
// reconnect, ping and backpressure; Adapter owns framing.
type Adapter interface {
	// Exchange returns the lower-case venue identifier (e.g. "binance").
	Exchange() string

	// Capabilities reports which optional behaviors this venue supports.
	Capabilities() Capabilities

	// DialConfig returns the venue's connection parameters.
	DialConfig() DialConfig

	// SubscriptionMessages returns the frames to send immediately after
	// connecting (e.g. Kraken's {"method":"subscribe",...}).
	SubscriptionMessages() ([][]byte, error)

	// HandleFrame is called once per inbound text frame. Data frames push
	// zero or more RawMessage values to emit (most adapters emit exactly
	// one); subscribe acknowledgments and venue-reported errors go to
	// control instead, so the session can enforce its ack deadline and
	// halt on protocol-level failures.
	HandleFrame(frame []byte, emit func(RawMessage), control func(ControlEvent)) error
}

// Metrics is the session-state subset of health.Registry a Session
// reports into, kept local so this package doesn't import internal/health.
type Metrics interface {
	RecordSessionState(exchange, marketType, dataType, state string)
}

// Session runs one Adapter's reconnect/heartbeat loop and feeds a bounded
// RawMessage channel: one shared dial/ping/reconnect loop across every
// venue, with the wire framing left to the adapter.
type Session struct {
	adapter Adapter
	out     chan RawMessage
	backoff Backoff
	breaker *circuit.Breaker
	dials   *RateLimiter

	mu    sync.RWMutex
	state State
	conn  *websocket.Conn

	closeOnce sync.Once
	closeCh   chan struct{}

	metrics    Metrics
	marketType string
	dataType   string
}

// subscribeAckTimeout bounds how long a session waits for the venue to
// acknowledge its subscribe frames once connected; unacknowledged
// subscriptions past this deadline force a reconnect.
const subscribeAckTimeout = 10 * time.Second

// dialBreakerConfig bounds the dial+handshake+subscribe phase of each
// reconnect attempt, not the subsequent streaming read loop (which can
// legitimately block for hours): five consecutive failed connects trip
// the breaker.
func dialBreakerConfig(handshakeTimeout time.Duration) circuit.Config {
	return circuit.Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		RequestTimeout:   handshakeTimeout,
	}
}

// NewSession builds a session for adapter with a bounded outbound
// channel of the given capacity.
func NewSession(adapter Adapter, bufferSize int) *Session {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Session{
		adapter: adapter,
		out:     make(chan RawMessage, bufferSize),
		backoff: NewBackoff(),
		breaker: circuit.NewBreaker(adapter.Exchange(), dialBreakerConfig(adapter.DialConfig().withDefaults().HandshakeTimeout)),
		dials:   NewRateLimiter(1),
		closeCh: make(chan struct{}),
		state:   StateIdle,
	}
}

func (s *Session) Messages() <-chan RawMessage { return s.out }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordSessionState(s.adapter.Exchange(), s.marketType, s.dataType, st.String())
	}
}

// SetMetrics wires m so every state transition reports under marketType
// and dataType — the labels the caller already knows from how it built
// this session's adapter, since one multiplexed connection can carry
// several channels and Session itself has no notion of which.
func (s *Session) SetMetrics(m Metrics, marketType, dataType string) {
	s.metrics = m
	s.marketType = marketType
	s.dataType = dataType
}

// Start launches the reconnect loop in the background and returns
// immediately; connection errors are retried internally with backoff,
// never surfaced as a Start() error.
func (s *Session) Start(ctx context.Context) error {
	go s.run(ctx)
	return nil
}

// Stop signals the loop to exit and closes any live connection.
func (s *Session) Stop(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		close(s.closeCh)
	})
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	s.setState(StateClosed)
	return nil
}

func (s *Session) run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeCh:
			return
		default:
		}

		if err := s.connectAndStream(ctx); err != nil {
			if errors.Is(err, ErrProtocolFatal) {
				log.Error().Err(err).Str("exchange", s.adapter.Exchange()).
					Msg("exchange session halted on protocol error, not retrying")
				s.setState(StateClosed)
				return
			}
			log.Warn().Err(err).Str("exchange", s.adapter.Exchange()).
				Int("attempt", attempt).Msg("exchange session disconnected, reconnecting")
			s.setState(StateDegraded)

			wait := s.backoff.Duration(attempt)
			attempt++
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			case <-s.closeCh:
				return
			}
			continue
		}
		attempt = 0
	}
}

func (s *Session) connectAndStream(ctx context.Context) error {
	cfg := s.adapter.DialConfig().withDefaults()

	conn, ackOutstanding, err := s.dialAndSubscribe(ctx, cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			_ = conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	s.setState(StateStreaming)

	pingDone := make(chan struct{})
	go s.pingLoop(ctx, conn, cfg.PingInterval, pingDone)
	defer close(pingDone)

	// One acknowledgment is expected per subscribe frame sent (a venue
	// confirming several channels from one frame only drains the counter
	// faster); control and the read loop run on this one goroutine, so
	// neither variable needs a lock.
	ackDeadline := time.Now().Add(subscribeAckTimeout)
	var fatalErr error
	control := func(ev ControlEvent) {
		if ev.SubscribeAck && ackOutstanding > 0 {
			ackOutstanding--
			return
		}
		if ev.Err == nil {
			return
		}
		if ev.Fatal {
			fatalErr = fmt.Errorf("%v: %w", ev.Err, ErrProtocolFatal)
			return
		}
		log.Warn().Err(ev.Err).Str("exchange", s.adapter.Exchange()).Msg("venue reported request error")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closeCh:
			return nil
		default:
		}

		deadline := time.Now().Add(cfg.ReadTimeout)
		if ackOutstanding > 0 && ackDeadline.Before(deadline) {
			deadline = ackDeadline
		}
		_ = conn.SetReadDeadline(deadline)
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ackOutstanding > 0 && time.Now().After(ackDeadline) {
				return fmt.Errorf("exchange: %d subscriptions unacknowledged after %s, reconnecting: %w",
					ackOutstanding, subscribeAckTimeout, err)
			}
			return fmt.Errorf("exchange: read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := s.adapter.HandleFrame(data, s.emit, control); err != nil {
			log.Error().Err(err).Str("exchange", s.adapter.Exchange()).Msg("failed to handle exchange frame")
		}
		if fatalErr != nil {
			return fatalErr
		}
		if ackOutstanding > 0 && time.Now().After(ackDeadline) {
			return fmt.Errorf("exchange: %d subscriptions unacknowledged after %s, reconnecting",
				ackOutstanding, subscribeAckTimeout)
		}
	}
}

// dialAndSubscribe runs the dial, handshake and post-connect subscribe
// frames through s.breaker: that phase is the outbound call worth
// bounding, not the unbounded streaming read loop that follows it.
// A venue that is down or rejecting connections trips the breaker after
// consecutive failures instead of hot-looping reconnect attempts. It
// returns the number of subscribe frames sent; the caller holds the
// session in its ack-wait until the venue has acknowledged that many.
func (s *Session) dialAndSubscribe(ctx context.Context, cfg DialConfig) (*websocket.Conn, int, error) {
	// The reconnect backoff resets to zero after every successful connect,
	// so a venue that accepts the handshake and immediately drops the
	// socket would otherwise be redialed in a tight loop; the dial limiter
	// paces those flaps independently of consecutive-failure backoff.
	if err := s.dials.Wait(ctx); err != nil {
		return nil, 0, err
	}

	var conn *websocket.Conn
	var sent int
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		s.setState(StateConnecting)
		dialer, err := buildDialer(cfg)
		if err != nil {
			return fmt.Errorf("exchange: build dialer: %w", err)
		}

		c, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return fmt.Errorf("exchange: dial %s: %s: %w", cfg.URL, resp.Status, ErrProtocolFatal)
			}
			return fmt.Errorf("exchange: dial %s: %w", cfg.URL, err)
		}

		s.setState(StateHandshaking)
		s.setState(StateSubscribing)
		frames, err := s.adapter.SubscriptionMessages()
		if err != nil {
			_ = c.Close()
			return fmt.Errorf("exchange: build subscriptions: %w", err)
		}
		for _, frame := range frames {
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = c.Close()
				return fmt.Errorf("exchange: send subscription: %w", err)
			}
		}

		conn = c
		sent = len(frames)
		return nil
	})
	if err != nil {
		if errors.Is(err, circuit.ErrCircuitOpen) {
			log.Warn().Str("exchange", s.adapter.Exchange()).Msg("exchange session: circuit open, skipping reconnect attempt")
		}
		return nil, 0, err
	}
	return conn, sent, nil
}

func (s *Session) emit(msg RawMessage) {
	if msg.Exchange == "" {
		msg.Exchange = s.adapter.Exchange()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	select {
	case s.out <- msg:
	default:
		log.Warn().Str("exchange", s.adapter.Exchange()).Msg("message channel full, dropping frame")
	}
}

func (s *Session) pingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeCh:
			return
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// buildDialer returns a websocket.Dialer configured for cfg.ProxyURL, if
// any; http(s):// proxies use the dialer's HTTP CONNECT support, and
// socks5:// uses golang.org/x/net/proxy.
func buildDialer(cfg DialConfig) (*websocket.Dialer, error) {
	d := &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	if cfg.ProxyURL == "" {
		d.Proxy = http.ProxyFromEnvironment
		return d, nil
	}

	u, err := url.Parse(cfg.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		d.Proxy = http.ProxyURL(u)
	case "socks5":
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy: %w", err)
		}
		d.NetDial = func(network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", u.Scheme)
	}
	return d, nil
}
