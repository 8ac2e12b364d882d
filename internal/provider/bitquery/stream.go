package bitquery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/poller"
)

// Stream defaults.
const (
	DefaultStreamURL         = "wss://streaming.bitquery.io/eap"
	DefaultBufferSize        = 1000
	DefaultReadTimeout       = 60 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultReconnectDelay    = 1 * time.Second
	DefaultMaxReconnectDelay = 30 * time.Second
)

// graphql-ws message types.
const (
	gqlConnectionInit  = "connection_init"
	gqlConnectionAck   = "connection_ack"
	gqlConnectionError = "connection_error"
	gqlKeepAlive       = "ka"
	gqlStart           = "start"
	gqlData            = "data"
	gqlError           = "error"
	gqlComplete        = "complete"
	gqlTerminate       = "connection_terminate"
)

const gqlSubprotocol = "graphql-ws"

const tradesSubscription = `subscription LargeTrades($mint: String!, $minUSD: String!) {
  Solana {
    DEXTradeByTokens(
      where: {
        Trade: {Currency: {MintAddress: {is: $mint}}, AmountInUSD: {gt: $minUSD}}
        Transaction: {Result: {Success: true}}
      }
    ) {
      Block { Time }
      Transaction { Signature Signer }
      Trade {
        Amount
        Currency { MintAddress Decimals }
        Side {
          Amount
          Currency { MintAddress Decimals }
        }
        Dex { ProtocolName }
      }
    }
  }
}`

// StreamConfig configures the websocket subscription.
type StreamConfig struct {
	URL               string
	BufferSize        int // per target; the oldest trades are dropped beyond it
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	Logger            logrus.FieldLogger
}

type gqlMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Stream is a poller.DataSource fed by a Bitquery graphql-ws subscription.
// Trades pushed between polls are buffered per target and handed over, in
// arrival order, by the next FetchRecent. Each target is subscribed on its
// first FetchRecent and resubscribed after every reconnect.
type Stream struct {
	client *Client
	cfg    StreamConfig
	dialer websocket.Dialer
	logger logrus.FieldLogger

	connMu sync.Mutex
	conn   *websocket.Conn

	mu      sync.Mutex
	active  map[string]bool // target -> subscription running
	buffers map[string][]domain.RawActivity
	lastErr error
	dropped atomic.Int64

	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
}

// Compile-time interface checks.
var (
	_ poller.DataSource      = (*Stream)(nil)
	_ poller.Reauthenticator = (*Stream)(nil)
)

// NewStream connects to the streaming endpoint with client's access token.
// A rejected handshake is returned wrapped in domain.ErrAuth.
func NewStream(ctx context.Context, client *Client, cfg StreamConfig) (*Stream, error) {
	if client == nil {
		return nil, errors.New("bitquery: stream requires a client")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultStreamURL
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Stream{
		client: client,
		cfg:    cfg,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Subprotocols:     []string{gqlSubprotocol},
		},
		logger:  logger.WithField("component", "bitquery_stream"),
		active:  make(map[string]bool),
		buffers: make(map[string][]domain.RawActivity),
		done:    make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

// connect dials, completes the graphql-ws handshake and restarts every
// known subscription.
func (s *Stream) connect(ctx context.Context) error {
	tok, err := s.client.token()
	if err != nil {
		return err
	}

	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set("token", tok.AccessToken)
	u.RawQuery = q.Encode()

	conn, resp, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: bitquery stream handshake: %s", domain.ErrAuth, resp.Status)
		}
		return fmt.Errorf("%w: bitquery stream dial: %v", domain.ErrFetch, err)
	}

	if err := s.initialize(conn); err != nil {
		conn.Close()
		return err
	}

	// Subscriptions restart before the connection is published, so a
	// concurrent FetchRecent never starts a target twice.
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	targets := make([]string, 0, len(s.active))
	for t := range s.active {
		s.active[t] = false
		targets = append(targets, t)
	}
	s.mu.Unlock()

	for _, t := range targets {
		if err := s.writeStart(conn, t); err != nil {
			conn.Close()
			return err
		}
	}
	s.conn = conn
	return nil
}

// initialize sends connection_init and waits for the ack.
func (s *Stream) initialize(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteJSON(gqlMessage{Type: gqlConnectionInit}); err != nil {
		return fmt.Errorf("%w: bitquery stream init: %v", domain.ErrFetch, err)
	}

	deadline := time.Now().Add(s.cfg.ReadTimeout)
	for {
		conn.SetReadDeadline(deadline)
		var msg gqlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("%w: bitquery stream ack: %v", domain.ErrFetch, err)
		}
		switch msg.Type {
		case gqlConnectionAck:
			return nil
		case gqlConnectionError:
			return fmt.Errorf("%w: bitquery stream rejected: %s", domain.ErrAuth, msg.Payload)
		}
	}
}

// subscribe starts target on the live connection unless it is running.
func (s *Stream) subscribe(target string) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("%w: bitquery stream not connected", domain.ErrFetch)
	}
	s.mu.Lock()
	running := s.active[target]
	s.mu.Unlock()
	if running {
		return nil
	}
	return s.writeStart(s.conn, target)
}

// writeStart sends the start message for target. Callers hold connMu.
func (s *Stream) writeStart(conn *websocket.Conn, target string) error {
	payload, err := json.Marshal(graphqlRequest{
		Query: tradesSubscription,
		Variables: map[string]any{
			"mint":   target,
			"minUSD": s.client.minAmountUSD(),
		},
	})
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteJSON(gqlMessage{ID: target, Type: gqlStart, Payload: payload}); err != nil {
		return fmt.Errorf("%w: bitquery subscribe %s: %v", domain.ErrFetch, target, err)
	}

	s.mu.Lock()
	s.active[target] = true
	s.mu.Unlock()
	s.logger.WithField("target", target).Info("Subscribed to trades")
	return nil
}

// run reads until the connection drops, then reconnects with exponential
// backoff until Close.
func (s *Stream) run() {
	defer s.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ReconnectDelay
	b.MaxInterval = s.cfg.MaxReconnectDelay
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		err := s.readLoop()
		if s.closed.Load() {
			return
		}
		s.setErr(err)
		s.logger.WithError(err).Warn("Bitquery stream disconnected")

		for {
			select {
			case <-s.done:
				return
			case <-time.After(b.NextBackOff()):
			}

			ctx, cancel := s.reconnectContext()
			err := s.connect(ctx)
			cancel()
			if s.closed.Load() {
				s.dropConn()
				return
			}
			if err == nil {
				break
			}
			s.setErr(err)
			s.logger.WithError(err).Warn("Bitquery stream reconnect failed")
		}

		b.Reset()
		s.setErr(nil)
		s.logger.Info("Bitquery stream reconnected")
	}
}

// reconnectContext bounds one reconnect attempt and ends it on Close.
func (s *Stream) reconnectContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (s *Stream) readLoop() error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: bitquery stream not connected", domain.ErrFetch)
	}

	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		var msg gqlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.disconnected(conn)
			return fmt.Errorf("%w: bitquery stream read: %v", domain.ErrFetch, err)
		}
		s.handle(msg)
	}
}

// disconnected retires conn and marks every subscription as stopped.
func (s *Stream) disconnected(conn *websocket.Conn) {
	s.connMu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connMu.Unlock()
	conn.Close()

	s.mu.Lock()
	for t := range s.active {
		s.active[t] = false
	}
	s.mu.Unlock()
}

func (s *Stream) handle(msg gqlMessage) {
	switch msg.Type {
	case gqlKeepAlive, gqlConnectionAck:
	case gqlData:
		var resp graphqlResponse
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			s.logger.WithError(err).WithField("target", msg.ID).Warn("Undecodable stream payload")
			return
		}
		if len(resp.Errors) > 0 {
			s.logger.WithField("target", msg.ID).WithField("error", resp.Errors[0].Message).Warn("Stream payload carried errors")
		}
		for _, t := range resp.Data.Solana.DEXTradeByTokens {
			s.push(msg.ID, t.toRaw(s.logger))
		}
	case gqlError:
		s.setErr(fmt.Errorf("%w: bitquery subscription %s: %s", domain.ErrFetch, msg.ID, msg.Payload))
		s.markInactive(msg.ID)
	case gqlComplete:
		s.markInactive(msg.ID)
	case gqlConnectionError:
		s.setErr(fmt.Errorf("%w: bitquery stream connection error: %s", domain.ErrFetch, msg.Payload))
	}
}

func (s *Stream) push(target string, raw domain.RawActivity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[target]; !ok {
		return
	}
	buf := append(s.buffers[target], raw)
	if over := len(buf) - s.cfg.BufferSize; over > 0 {
		buf = buf[over:]
		s.dropped.Add(int64(over))
		s.logger.WithField("target", target).WithField("dropped", over).Warn("Stream buffer full, oldest trades dropped")
	}
	s.buffers[target] = buf
}

func (s *Stream) markInactive(target string) {
	s.mu.Lock()
	if _, ok := s.active[target]; ok {
		s.active[target] = false
	}
	s.mu.Unlock()
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// FetchRecent hands over the trades buffered for target since the last
// call. The first call for a target opens its subscription. With nothing
// buffered, the latest connection or subscription error is returned.
func (s *Stream) FetchRecent(ctx context.Context, target string) ([]domain.RawActivity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: bitquery stream closed", domain.ErrFetch)
	}

	s.mu.Lock()
	running, known := s.active[target]
	if !known {
		s.active[target] = false
	}
	batch := s.buffers[target]
	s.buffers[target] = nil
	lastErr := s.lastErr
	s.mu.Unlock()

	if !running {
		if err := s.subscribe(target); err != nil {
			if len(batch) > 0 {
				s.logger.WithError(err).WithField("target", target).Warn("Resubscribe failed")
				return batch, nil
			}
			return nil, err
		}
		// A running subscription supersedes the error that stopped it.
		s.setErr(nil)
		lastErr = nil
	}

	if len(batch) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return batch, nil
}

// Reauthenticate fetches a new access token and drops the connection so
// the reconnect presents it.
func (s *Stream) Reauthenticate(ctx context.Context) error {
	if err := s.client.Reauthenticate(ctx); err != nil {
		return err
	}
	s.dropConn()
	return nil
}

func (s *Stream) dropConn() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

// Dropped returns how many buffered trades were discarded on overflow.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

// Close terminates the connection and waits for the reader to exit.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		_ = s.conn.WriteJSON(gqlMessage{Type: gqlTerminate})
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return nil
}
