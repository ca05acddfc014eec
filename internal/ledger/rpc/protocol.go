// Package rpc exposes a ledger.Service over JSON-RPC 2.0 and consumes one.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/ledger"
)

// Method names.
const (
	MethodGetMint     = "ledger_getMint"
	MethodGetBalance  = "ledger_getBalance"
	MethodOpenAccount = "ledger_openAccount"
	MethodTransfer    = "ledger_transfer"
	MethodMintTo      = "ledger_mintTo"
	MethodBurn        = "ledger_burn"
)

// JSON-RPC error codes. The -320xx range carries ledger errors across the wire.
const (
	codeParse          = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603

	codeMintNotFound      = -32001
	codeAccountNotFound   = -32002
	codeInsufficientFunds = -32003
	codeUnauthorized      = -32004
	codeDecimalsMismatch  = -32005
	codeMintMismatch      = -32006
	codeSupplyOverflow    = -32007
	codeMissingOperation  = -32008
)

var codeErrors = []struct {
	code int
	err  error
}{
	{codeMintNotFound, ledger.ErrMintNotFound},
	{codeAccountNotFound, ledger.ErrAccountNotFound},
	{codeInsufficientFunds, ledger.ErrInsufficientFunds},
	{codeUnauthorized, ledger.ErrUnauthorized},
	{codeDecimalsMismatch, ledger.ErrDecimalsMismatch},
	{codeMintMismatch, ledger.ErrMintMismatch},
	{codeSupplyOverflow, ledger.ErrSupplyOverflow},
	{codeMissingOperation, ledger.ErrMissingOperation},
	{codeInvalidParams, domain.ErrInvalidInput},
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      uint64            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error. It unwraps to the matching ledger sentinel.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Unwrap maps the code back to a ledger error so errors.Is works client side.
// An unmapped code is still an answer from the server and unwraps to
// ledger.ErrRejected.
func (e *Error) Unwrap() error {
	for _, ce := range codeErrors {
		if ce.code == e.Code {
			return ce.err
		}
	}
	return ledger.ErrRejected
}

func toRPCError(err error) *Error {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return &Error{Code: ce.code, Message: err.Error()}
		}
	}
	return &Error{Code: codeInternal, Message: err.Error()}
}

type identityParams struct {
	Address domain.Identity `json:"address"`
}

type openAccountParams struct {
	Owner domain.Identity `json:"owner"`
	Mint  domain.Identity `json:"mint"`
}

type balanceResult struct {
	Balance uint64 `json:"balance"`
}

type openAccountResult struct {
	Address domain.Identity `json:"address"`
}
