package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/logging"
)

// Hermes client defaults.
const (
	DefaultHermesTimeout  = 10 * time.Second
	DefaultHermesRetryMax = 3
	DefaultHermesBurst    = 5
)

// HermesClient reads the latest Pyth prices from a Hermes REST endpoint.
type HermesClient struct {
	baseURL string
	client  *retryablehttp.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// HermesOption configures HermesClient.
type HermesOption func(*HermesClient)

// WithHermesRetry sets the retry budget and wait bounds.
func WithHermesRetry(max int, waitMin, waitMax time.Duration) HermesOption {
	return func(c *HermesClient) {
		c.client.RetryMax = max
		c.client.RetryWaitMin = waitMin
		c.client.RetryWaitMax = waitMax
	}
}

// WithHermesRateLimit limits outgoing requests. rps <= 0 disables limiting.
func WithHermesRateLimit(rps float64, burst int) HermesOption {
	return func(c *HermesClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHermesHTTPClient sets the underlying http.Client.
func WithHermesHTTPClient(hc *http.Client) HermesOption {
	return func(c *HermesClient) {
		c.client.HTTPClient = hc
	}
}

// WithHermesLogger sets the logger.
func WithHermesLogger(l *zap.Logger) HermesOption {
	return func(c *HermesClient) {
		c.logger = logging.OrNop(l).Named("hermes")
	}
}

// NewHermesClient creates a client for baseURL (e.g. https://hermes.pyth.network).
func NewHermesClient(baseURL string, opts ...HermesOption) *HermesClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = DefaultHermesRetryMax
	rc.HTTPClient = &http.Client{Timeout: DefaultHermesTimeout}

	c := &HermesClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  rc,
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.client.Logger = leveledLogger{c.logger.Sugar()}
	return c
}

// Name implements Source.
func (c *HermesClient) Name() string { return "hermes" }

// Latest implements Source via GET /v2/updates/price/latest.
func (c *HermesClient) Latest(ctx context.Context, id domain.FeedID) (*domain.PriceQuote, error) {
	q := url.Values{}
	q.Add("ids[]", id.String())
	q.Set("parsed", "true")
	q.Set("encoding", "hex")

	var resp hermesLatestResponse
	if err := c.get(ctx, "/v2/updates/price/latest?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	for _, feed := range resp.Parsed {
		fid, err := domain.ParseFeedID(feed.ID)
		if err != nil || fid != id {
			continue
		}
		quote, err := feed.Price.quote(fid)
		if err != nil {
			return nil, err
		}
		return quote, nil
	}
	return nil, fmt.Errorf("%w: hermes returned no update for %s", domain.ErrInvalidFeed, id)
}

// Feeds implements FeedLister via GET /v2/price_feeds.
func (c *HermesClient) Feeds(ctx context.Context) ([]domain.FeedID, error) {
	var resp []hermesFeedEntry
	if err := c.get(ctx, "/v2/price_feeds", &resp); err != nil {
		return nil, err
	}
	out := make([]domain.FeedID, 0, len(resp))
	for _, e := range resp {
		id, err := domain.ParseFeedID(e.ID)
		if err != nil {
			c.logger.Debug("skip malformed feed id", zap.String("id", e.ID))
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (c *HermesClient) get(ctx context.Context, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("hermes rate limiter: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("hermes request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: hermes status %d: %s", domain.ErrInvalidFeed, resp.StatusCode, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("hermes unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

type hermesLatestResponse struct {
	Parsed []hermesPriceFeed `json:"parsed"`
}

type hermesPriceFeed struct {
	ID    string      `json:"id"`
	Price hermesPrice `json:"price"`
}

// hermesPrice mirrors Pyth's JSON price: price and conf are decimal strings.
type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

func (p hermesPrice) quote(id domain.FeedID) (*domain.PriceQuote, error) {
	price, err := strconv.ParseInt(p.Price, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: feed %s price %q: %v", domain.ErrInvalidPrice, id, p.Price, err)
	}
	var conf uint64
	if p.Conf != "" {
		conf, err = strconv.ParseUint(p.Conf, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: feed %s conf %q: %v", domain.ErrInvalidPrice, id, p.Conf, err)
		}
	}
	return &domain.PriceQuote{
		FeedID:      id,
		Price:       price,
		Confidence:  conf,
		Exponent:    p.Expo,
		PublishTime: p.PublishTime,
	}, nil
}

type hermesFeedEntry struct {
	ID string `json:"id"`
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

var _ retryablehttp.LeveledLogger = leveledLogger{}
