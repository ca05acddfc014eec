package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidity-pool/internal/derive"
	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/ledger"
)

func id(b byte) domain.Identity {
	var out domain.Identity
	for i := range out {
		out[i] = b
	}
	return out
}

func newLedgerServer(t *testing.T) (*ledger.Memory, *Client) {
	t.Helper()
	mem := ledger.NewMemory()
	server := httptest.NewServer(NewHandler(mem, nil))
	t.Cleanup(server.Close)
	return mem, NewClient(server.URL, WithRetryDelay(time.Millisecond))
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mem, client := newLedgerServer(t)

	mint, authority, alice, bob := id(1), id(2), id(3), id(4)
	require.NoError(t, mem.CreateMint(mint, 6, authority))
	_, err := mem.Fund(alice, mint, 1_000)
	require.NoError(t, err)

	m, err := client.GetMint(ctx, mint)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), m.Decimals)
	assert.Equal(t, authority, m.MintAuthority)
	assert.Equal(t, uint64(1_000), m.Supply)

	bobAcct, err := client.OpenAccount(ctx, bob, mint)
	require.NoError(t, err)
	want, err := derive.AssociatedAccount(bob, mint)
	require.NoError(t, err)
	assert.Equal(t, want, bobAcct)

	aliceAcct, _ := derive.AssociatedAccount(alice, mint)
	require.NoError(t, client.Transfer(ctx, ledger.TransferRequest{
		OperationID: "t1", Mint: mint, Decimals: 6, From: aliceAcct, To: bobAcct, Authority: alice, Amount: 250,
	}))
	require.NoError(t, client.MintTo(ctx, ledger.MintToRequest{
		OperationID: "m1", Mint: mint, To: bobAcct, Authority: authority, Amount: 50,
	}))
	require.NoError(t, client.Burn(ctx, ledger.BurnRequest{
		OperationID: "b1", Mint: mint, From: bobAcct, Authority: bob, Amount: 100,
	}))

	bal, err := client.GetBalance(ctx, bobAcct)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), bal)
}

func TestClient_ErrorsCrossTheWire(t *testing.T) {
	ctx := context.Background()
	mem, client := newLedgerServer(t)
	mint, authority, alice := id(1), id(2), id(3)
	require.NoError(t, mem.CreateMint(mint, 6, authority))
	aliceAcct, err := mem.Fund(alice, mint, 10)
	require.NoError(t, err)

	_, err = client.GetMint(ctx, id(9))
	assert.True(t, errors.Is(err, ledger.ErrMintNotFound), "got %v", err)

	_, err = client.GetBalance(ctx, id(9))
	assert.True(t, errors.Is(err, ledger.ErrAccountNotFound), "got %v", err)

	err = client.Transfer(ctx, ledger.TransferRequest{
		OperationID: "x", Mint: mint, Decimals: 6, From: aliceAcct, To: aliceAcct, Authority: alice, Amount: 11,
	})
	assert.True(t, errors.Is(err, ledger.ErrInsufficientFunds), "got %v", err)

	err = client.MintTo(ctx, ledger.MintToRequest{OperationID: "y", Mint: mint, To: aliceAcct, Authority: alice, Amount: 1})
	assert.True(t, errors.Is(err, ledger.ErrUnauthorized), "got %v", err)

	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, codeUnauthorized, rpcErr.Code)
}

func TestClient_RetriesTransportErrors(t *testing.T) {
	var calls atomic.Int32
	mem := ledger.NewMemory()
	handler := NewHandler(mem, nil)
	require.NoError(t, mem.CreateMint(id(1), 9, id(2)))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	m, err := client.GetMint(context.Background(), id(1))
	require.NoError(t, err)
	assert.Equal(t, uint8(9), m.Decimals)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_RPCErrorsNotRetried(t *testing.T) {
	var calls atomic.Int32
	handler := NewHandler(ledger.NewMemory(), nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler.ServeHTTP(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryDelay(time.Millisecond))
	_, err := client.GetMint(context.Background(), id(1))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_MaxRetriesExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	_, err := client.GetBalance(context.Background(), id(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	// No answer from the server: the caller cannot know whether a write landed.
	assert.False(t, ledger.Rejected(err))
}

func TestError_AnswersAreRejections(t *testing.T) {
	mapped := &Error{Code: codeInsufficientFunds, Message: "short"}
	assert.ErrorIs(t, mapped, ledger.ErrInsufficientFunds)
	assert.True(t, ledger.Rejected(mapped))

	internal := &Error{Code: codeInternal, Message: "boom"}
	assert.ErrorIs(t, internal, ledger.ErrRejected)
	assert.True(t, ledger.Rejected(internal))
}

func TestHandler_UnknownMethod(t *testing.T) {
	server := httptest.NewServer(NewHandler(ledger.NewMemory(), nil))
	defer server.Close()

	resp, err := http.Post(server.URL, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"ledger_nope","params":[{}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Error)
	assert.Equal(t, codeMethodNotFound, out.Error.Code)
	assert.Equal(t, uint64(7), out.ID)
}

func TestHandler_InvalidParams(t *testing.T) {
	server := httptest.NewServer(NewHandler(ledger.NewMemory(), nil))
	defer server.Close()

	resp, err := http.Post(server.URL, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ledger_getMint","params":[{"address":"0OIl"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Error)
	assert.Equal(t, codeInvalidParams, out.Error.Code)
}
