// Package ledger defines the token ledger the pool moves funds through.
//
// Every mutating call carries an operation id. A ledger applies each id at
// most once and answers a replay with success, so callers may retry freely.
package ledger

import (
	"context"
	"errors"

	"liquidity-pool/internal/domain"
)

// Ledger errors.
var (
	ErrMintNotFound      = errors.New("mint not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrDecimalsMismatch  = errors.New("decimals mismatch")
	ErrMintMismatch      = errors.New("account mint mismatch")
	ErrSupplyOverflow    = errors.New("supply overflow")
	ErrMissingOperation  = errors.New("operation id is required")

	// ErrRejected is a definite refusal that no more specific error describes.
	ErrRejected = errors.New("operation rejected")

	// ErrOutcomeUnknown reports a mutating call that failed without a
	// definite answer, even after replays. The effect may or may not exist.
	ErrOutcomeUnknown = errors.New("operation outcome unknown")
)

// rejections are the answers that guarantee the operation was not applied.
var rejections = []error{
	ErrMintNotFound,
	ErrAccountNotFound,
	ErrInsufficientFunds,
	ErrUnauthorized,
	ErrDecimalsMismatch,
	ErrMintMismatch,
	ErrSupplyOverflow,
	ErrMissingOperation,
	ErrRejected,
	domain.ErrInvalidInput,
}

// Rejected reports whether err is a definite answer that the call was not
// applied. Any other error, a timeout or a lost reply, leaves the outcome unknown.
func Rejected(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

// Mint describes a token.
type Mint struct {
	Address       domain.Identity `json:"address"`
	Decimals      uint8           `json:"decimals"`
	Supply        uint64          `json:"supply"`
	MintAuthority domain.Identity `json:"mint_authority"`
}

// Account is a token account holding one mint for one owner.
type Account struct {
	Address domain.Identity `json:"address"`
	Owner   domain.Identity `json:"owner"`
	Mint    domain.Identity `json:"mint"`
	Balance uint64          `json:"balance"`
}

// TransferRequest moves Amount of Mint between two accounts. Decimals must
// match the mint; Authority must own From.
type TransferRequest struct {
	OperationID string          `json:"operation_id"`
	Mint        domain.Identity `json:"mint"`
	Decimals    uint8           `json:"decimals"`
	From        domain.Identity `json:"from"`
	To          domain.Identity `json:"to"`
	Authority   domain.Identity `json:"authority"`
	Amount      uint64          `json:"amount"`
}

// MintToRequest issues new tokens. Authority must be the mint authority.
type MintToRequest struct {
	OperationID string          `json:"operation_id"`
	Mint        domain.Identity `json:"mint"`
	To          domain.Identity `json:"to"`
	Authority   domain.Identity `json:"authority"`
	Amount      uint64          `json:"amount"`
}

// BurnRequest destroys tokens held in From. Authority must own From.
type BurnRequest struct {
	OperationID string          `json:"operation_id"`
	Mint        domain.Identity `json:"mint"`
	From        domain.Identity `json:"from"`
	Authority   domain.Identity `json:"authority"`
	Amount      uint64          `json:"amount"`
}

// Service is the Token Ledger Service.
//
// Burn is also the undo of MintTo. The pool burns a failed deposit's shares
// with the depositor as Authority, so a ledger serving deposits must accept
// the pool service as a delegate signer for depositor LP accounts. Ledgers
// that only take owner signatures cannot compensate a failed mint.
type Service interface {
	GetMint(ctx context.Context, mint domain.Identity) (*Mint, error)
	GetBalance(ctx context.Context, account domain.Identity) (uint64, error)
	// OpenAccount creates the associated account of (owner, mint) if needed
	// and returns its address.
	OpenAccount(ctx context.Context, owner, mint domain.Identity) (domain.Identity, error)
	Transfer(ctx context.Context, req TransferRequest) error
	MintTo(ctx context.Context, req MintToRequest) error
	Burn(ctx context.Context, req BurnRequest) error
}
