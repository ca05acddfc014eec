package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/ledger"
	"liquidity-pool/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Client implements ledger.Service over HTTP JSON-RPC 2.0.
//
// Transport failures are retried with exponential backoff. Mutating calls are
// safe to retry because the ledger deduplicates by operation id.
type Client struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

var _ ledger.Service = (*Client)(nil)

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a ledger JSON-RPC client.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call performs a JSON-RPC call with retries and exponential backoff.
func (c *Client) call(ctx context.Context, method string, param interface{}, result interface{}) error {
	start := time.Now()
	defer func() { observability.RecordLedgerCall(method, time.Since(start)) }()

	raw, err := json.Marshal(param)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  []json.RawMessage{raw},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC errors are not retried
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetMint implements ledger.Service.
func (c *Client) GetMint(ctx context.Context, mint domain.Identity) (*ledger.Mint, error) {
	var out ledger.Mint
	if err := c.call(ctx, MethodGetMint, identityParams{Address: mint}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBalance implements ledger.Service.
func (c *Client) GetBalance(ctx context.Context, account domain.Identity) (uint64, error) {
	var out balanceResult
	if err := c.call(ctx, MethodGetBalance, identityParams{Address: account}, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// OpenAccount implements ledger.Service.
func (c *Client) OpenAccount(ctx context.Context, owner, mint domain.Identity) (domain.Identity, error) {
	var out openAccountResult
	if err := c.call(ctx, MethodOpenAccount, openAccountParams{Owner: owner, Mint: mint}, &out); err != nil {
		return domain.Identity{}, err
	}
	return out.Address, nil
}

// Transfer implements ledger.Service.
func (c *Client) Transfer(ctx context.Context, req ledger.TransferRequest) error {
	return c.call(ctx, MethodTransfer, req, nil)
}

// MintTo implements ledger.Service.
func (c *Client) MintTo(ctx context.Context, req ledger.MintToRequest) error {
	return c.call(ctx, MethodMintTo, req, nil)
}

// Burn implements ledger.Service.
func (c *Client) Burn(ctx context.Context, req ledger.BurnRequest) error {
	return c.call(ctx, MethodBurn, req, nil)
}
