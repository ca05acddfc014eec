package ledger

import (
	"context"
	"fmt"
	"sync"

	"liquidity-pool/internal/derive"
	"liquidity-pool/internal/domain"
)

// Memory is an in-process ledger. All state lives behind one mutex, so each
// call is atomic.
type Memory struct {
	mu       sync.RWMutex
	mints    map[domain.Identity]*Mint
	accounts map[domain.Identity]*Account
	applied  map[string]struct{}
}

var _ Service = (*Memory)(nil)

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		mints:    make(map[domain.Identity]*Mint),
		accounts: make(map[domain.Identity]*Account),
		applied:  make(map[string]struct{}),
	}
}

// CreateMint registers a mint. Re-creating an existing mint is an error.
func (m *Memory) CreateMint(address domain.Identity, decimals uint8, authority domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mints[address]; ok {
		return fmt.Errorf("%w: mint %s already exists", domain.ErrInvalidInput, address)
	}
	m.mints[address] = &Mint{Address: address, Decimals: decimals, MintAuthority: authority}
	return nil
}

// Fund credits amount of mint to owner's associated account, creating it and
// growing supply. Used to seed development and test ledgers.
func (m *Memory) Fund(owner, mint domain.Identity, amount uint64) (domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mt, ok := m.mints[mint]
	if !ok {
		return domain.Identity{}, fmt.Errorf("%w: %s", ErrMintNotFound, mint)
	}
	acct, err := m.openLocked(owner, mint)
	if err != nil {
		return domain.Identity{}, err
	}
	if mt.Supply+amount < mt.Supply || acct.Balance+amount < acct.Balance {
		return domain.Identity{}, ErrSupplyOverflow
	}
	mt.Supply += amount
	acct.Balance += amount
	return acct.Address, nil
}

// Accounts returns a copy of every account, for inspection.
func (m *Memory) Accounts() []Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	return out
}

// GetMint implements Service.
func (m *Memory) GetMint(_ context.Context, mint domain.Identity) (*Mint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.mints[mint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMintNotFound, mint)
	}
	out := *mt
	return &out, nil
}

// GetBalance implements Service.
func (m *Memory) GetBalance(_ context.Context, account domain.Identity) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[account]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	return acct.Balance, nil
}

// OpenAccount implements Service.
func (m *Memory) OpenAccount(_ context.Context, owner, mint domain.Identity) (domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mints[mint]; !ok {
		return domain.Identity{}, fmt.Errorf("%w: %s", ErrMintNotFound, mint)
	}
	acct, err := m.openLocked(owner, mint)
	if err != nil {
		return domain.Identity{}, err
	}
	return acct.Address, nil
}

func (m *Memory) openLocked(owner, mint domain.Identity) (*Account, error) {
	addr, err := derive.AssociatedAccount(owner, mint)
	if err != nil {
		return nil, err
	}
	if acct, ok := m.accounts[addr]; ok {
		return acct, nil
	}
	acct := &Account{Address: addr, Owner: owner, Mint: mint}
	m.accounts[addr] = acct
	return acct, nil
}

// Transfer implements Service.
func (m *Memory) Transfer(_ context.Context, req TransferRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if done, err := m.seenLocked(req.OperationID); done || err != nil {
		return err
	}
	mt, ok := m.mints[req.Mint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMintNotFound, req.Mint)
	}
	if mt.Decimals != req.Decimals {
		return fmt.Errorf("%w: mint %s has %d decimals, transfer says %d", ErrDecimalsMismatch, req.Mint, mt.Decimals, req.Decimals)
	}
	from, err := m.accountLocked(req.From, req.Mint)
	if err != nil {
		return err
	}
	to, err := m.accountLocked(req.To, req.Mint)
	if err != nil {
		return err
	}
	if from.Owner != req.Authority {
		return fmt.Errorf("%w: %s does not own %s", ErrUnauthorized, req.Authority, req.From)
	}
	if from.Balance < req.Amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, req.From, from.Balance, req.Amount)
	}
	if to.Balance+req.Amount < to.Balance {
		return ErrSupplyOverflow
	}

	from.Balance -= req.Amount
	to.Balance += req.Amount
	m.applied[req.OperationID] = struct{}{}
	return nil
}

// MintTo implements Service.
func (m *Memory) MintTo(_ context.Context, req MintToRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if done, err := m.seenLocked(req.OperationID); done || err != nil {
		return err
	}
	mt, ok := m.mints[req.Mint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMintNotFound, req.Mint)
	}
	if mt.MintAuthority != req.Authority {
		return fmt.Errorf("%w: %s is not the mint authority of %s", ErrUnauthorized, req.Authority, req.Mint)
	}
	to, err := m.accountLocked(req.To, req.Mint)
	if err != nil {
		return err
	}
	if mt.Supply+req.Amount < mt.Supply || to.Balance+req.Amount < to.Balance {
		return fmt.Errorf("%w: minting %d to %s", ErrSupplyOverflow, req.Amount, req.Mint)
	}

	mt.Supply += req.Amount
	to.Balance += req.Amount
	m.applied[req.OperationID] = struct{}{}
	return nil
}

// Burn implements Service.
func (m *Memory) Burn(_ context.Context, req BurnRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if done, err := m.seenLocked(req.OperationID); done || err != nil {
		return err
	}
	mt, ok := m.mints[req.Mint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMintNotFound, req.Mint)
	}
	from, err := m.accountLocked(req.From, req.Mint)
	if err != nil {
		return err
	}
	if from.Owner != req.Authority {
		return fmt.Errorf("%w: %s does not own %s", ErrUnauthorized, req.Authority, req.From)
	}
	if from.Balance < req.Amount {
		return fmt.Errorf("%w: %s holds %d, burning %d", ErrInsufficientFunds, req.From, from.Balance, req.Amount)
	}

	from.Balance -= req.Amount
	mt.Supply -= req.Amount
	m.applied[req.OperationID] = struct{}{}
	return nil
}

func (m *Memory) seenLocked(opID string) (bool, error) {
	if opID == "" {
		return false, ErrMissingOperation
	}
	_, ok := m.applied[opID]
	return ok, nil
}

func (m *Memory) accountLocked(addr, mint domain.Identity) (*Account, error) {
	acct, ok := m.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if acct.Mint != mint {
		return nil, fmt.Errorf("%w: %s holds %s, not %s", ErrMintMismatch, addr, acct.Mint, mint)
	}
	return acct, nil
}
