package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/ledger"
	"liquidity-pool/internal/logging"
)

// Handler serves a ledger.Service as JSON-RPC 2.0 over HTTP POST.
type Handler struct {
	svc    ledger.Service
	logger *zap.Logger
}

// NewHandler creates a handler for svc.
func NewHandler(svc ledger.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logging.OrNop(logger).Named("ledger-rpc")}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, rpcResponse{JSONRPC: "2.0", Error: &Error{Code: codeParse, Message: err.Error()}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeResponse(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: codeInvalidRequest, Message: "invalid request"}})
		return
	}

	result, rpcErr := h.dispatch(r.Context(), req)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	if rpcErr == nil && result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &Error{Code: codeInternal, Message: err.Error()}
		} else {
			resp.Result = raw
		}
	}
	if rpcErr != nil && rpcErr.Code == codeInternal {
		h.logger.Warn("ledger call failed", zap.String("method", req.Method), zap.String("error", rpcErr.Message))
	}
	writeResponse(w, resp)
}

func (h *Handler) dispatch(ctx context.Context, req rpcRequest) (interface{}, *Error) {
	switch req.Method {
	case MethodGetMint:
		var p identityParams
		if err := decodeParam(req, &p); err != nil {
			return nil, err
		}
		return wrap(h.svc.GetMint(ctx, p.Address))
	case MethodGetBalance:
		var p identityParams
		if err := decodeParam(req, &p); err != nil {
			return nil, err
		}
		bal, err := h.svc.GetBalance(ctx, p.Address)
		return wrap(balanceResult{Balance: bal}, err)
	case MethodOpenAccount:
		var p openAccountParams
		if err := decodeParam(req, &p); err != nil {
			return nil, err
		}
		addr, err := h.svc.OpenAccount(ctx, p.Owner, p.Mint)
		return wrap(openAccountResult{Address: addr}, err)
	case MethodTransfer:
		var p ledger.TransferRequest
		if err := decodeParam(req, &p); err != nil {
			return nil, err
		}
		return wrap(struct{}{}, h.svc.Transfer(ctx, p))
	case MethodMintTo:
		var p ledger.MintToRequest
		if err := decodeParam(req, &p); err != nil {
			return nil, err
		}
		return wrap(struct{}{}, h.svc.MintTo(ctx, p))
	case MethodBurn:
		var p ledger.BurnRequest
		if err := decodeParam(req, &p); err != nil {
			return nil, err
		}
		return wrap(struct{}{}, h.svc.Burn(ctx, p))
	default:
		return nil, &Error{Code: codeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

func wrap(result interface{}, err error) (interface{}, *Error) {
	if err != nil {
		return nil, toRPCError(err)
	}
	return result, nil
}

func decodeParam(req rpcRequest, out interface{}) *Error {
	if len(req.Params) != 1 {
		return &Error{Code: codeInvalidParams, Message: "expected exactly one parameter object"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return toRPCError(fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
	}
	return nil
}

func writeResponse(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
