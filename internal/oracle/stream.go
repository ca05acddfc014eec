package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/logging"
)

// StreamConfig configures StreamSource behavior.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// FirstUpdateWait bounds how long Latest waits for the first update of a feed.
	FirstUpdateWait time.Duration
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		FirstUpdateWait:   5 * time.Second,
	}
}

var errStreamClosed = errors.New("stream closed")

// StreamSource keeps the last pushed Hermes price update per subscribed feed.
// It holds observations, not a price cache: the Adapter still rejects any
// update older than its max age, so a silent stream fails deposits.
type StreamSource struct {
	endpoint string
	config   StreamConfig
	logger   *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	mu      sync.Mutex
	feeds   map[domain.FeedID]struct{}
	latest  map[domain.FeedID]domain.PriceQuote
	updated chan struct{} // closed and replaced on every update

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStreamSource connects to endpoint and subscribes to feeds.
func NewStreamSource(ctx context.Context, endpoint string, feeds []domain.FeedID, config *StreamConfig, logger *zap.Logger) (*StreamSource, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &StreamSource{
		endpoint: endpoint,
		config:   cfg,
		logger:   logging.OrNop(logger).Named("hermes-stream"),
		feeds:    make(map[domain.FeedID]struct{}),
		latest:   make(map[domain.FeedID]domain.PriceQuote),
		updated:  make(chan struct{}),
		ctx:      runCtx,
		cancel:   cancel,
	}

	if err := s.connect(ctx); err != nil {
		cancel()
		return nil, err
	}
	if err := s.Subscribe(feeds...); err != nil {
		s.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Name implements Source.
func (s *StreamSource) Name() string { return "hermes-ws" }

func (s *StreamSource) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.connMu.Unlock()
	return nil
}

// Subscribe adds feeds to the subscription set.
func (s *StreamSource) Subscribe(ids ...domain.FeedID) error {
	if s.closed.Load() {
		return errStreamClosed
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	for _, id := range ids {
		s.feeds[id] = struct{}{}
	}
	s.mu.Unlock()

	return s.sendSubscribe(ids)
}

func (s *StreamSource) sendSubscribe(ids []domain.FeedID) error {
	msg := streamRequest{Type: "subscribe", IDs: make([]string, len(ids))}
	for i, id := range ids {
		msg.IDs[i] = id.String()
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return errors.New("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Latest implements Source. It waits up to FirstUpdateWait for a subscribed
// feed that has not pushed anything yet.
func (s *StreamSource) Latest(ctx context.Context, id domain.FeedID) (*domain.PriceQuote, error) {
	timer := time.NewTimer(s.config.FirstUpdateWait)
	defer timer.Stop()

	for {
		s.mu.Lock()
		_, subscribed := s.feeds[id]
		q, ok := s.latest[id]
		wait := s.updated
		s.mu.Unlock()

		if !subscribed {
			return nil, fmt.Errorf("%w: feed %s not subscribed", domain.ErrInvalidFeed, id)
		}
		if ok {
			return &q, nil
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ctx.Done():
			return nil, errStreamClosed
		case <-timer.C:
			return nil, fmt.Errorf("%w: no update received for feed %s", domain.ErrStalePrice, id)
		}
	}
}

// Feeds implements FeedLister with the subscribed set.
func (s *StreamSource) Feeds(_ context.Context) ([]domain.FeedID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.FeedID, 0, len(s.feeds))
	for id := range s.feeds {
		out = append(out, id)
	}
	return out, nil
}

// Close closes the websocket connection.
func (s *StreamSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *StreamSource) readLoop() {
	defer s.wg.Done()

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.logger.Warn("stream read failed, reconnecting", zap.Error(err))
			if err := s.reconnect(); err != nil {
				return
			}
			continue
		}

		s.handleMessage(message)
	}
}

// reconnect redials with exponential backoff until it succeeds or the source is closed.
func (s *StreamSource) reconnect() error {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.ReconnectDelay
	b.MaxInterval = s.config.MaxReconnectDelay
	b.MaxElapsedTime = 0

	op := func() error {
		if s.closed.Load() {
			return backoff.Permanent(errStreamClosed)
		}
		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
		defer cancel()
		if err := s.connect(ctx); err != nil {
			s.logger.Debug("reconnect attempt failed", zap.Error(err))
			return err
		}
		if s.closed.Load() {
			return backoff.Permanent(errStreamClosed)
		}
		return s.resubscribeAll()
	}

	if err := backoff.Retry(op, backoff.WithContext(b, s.ctx)); err != nil {
		return err
	}
	s.logger.Info("stream reconnected")
	return nil
}

func (s *StreamSource) resubscribeAll() error {
	s.mu.Lock()
	ids := make([]domain.FeedID, 0, len(s.feeds))
	for id := range s.feeds {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	return s.sendSubscribe(ids)
}

func (s *StreamSource) handleMessage(message []byte) {
	var msg streamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.Debug("skip undecodable message", zap.Error(err))
		return
	}

	switch msg.Type {
	case "price_update":
		if msg.PriceFeed == nil {
			return
		}
		s.handlePriceUpdate(msg.PriceFeed)
	case "response":
		if msg.Status != "success" {
			s.logger.Warn("subscription rejected", zap.String("error", msg.Error))
		}
	}
}

func (s *StreamSource) handlePriceUpdate(feed *hermesPriceFeed) {
	id, err := domain.ParseFeedID(feed.ID)
	if err != nil {
		return
	}
	q, err := feed.Price.quote(id)
	if err != nil {
		s.logger.Warn("skip malformed price update", zap.Stringer("feed", id), zap.Error(err))
		return
	}

	s.mu.Lock()
	if _, ok := s.feeds[id]; ok {
		// Out-of-order pushes never move a feed backwards.
		if prev, seen := s.latest[id]; !seen || q.PublishTime >= prev.PublishTime {
			s.latest[id] = *q
			close(s.updated)
			s.updated = make(chan struct{})
		}
	}
	s.mu.Unlock()
}

// pingLoop sends periodic ping frames to keep connection alive.
func (s *StreamSource) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				// Read errors drive reconnects.
				_ = s.conn.WriteMessage(websocket.PingMessage, nil)
			}
			s.connMu.Unlock()
		}
	}
}

type streamRequest struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

type streamMessage struct {
	Type      string           `json:"type"`
	Status    string           `json:"status,omitempty"`
	Error     string           `json:"error,omitempty"`
	PriceFeed *hermesPriceFeed `json:"price_feed,omitempty"`
}
