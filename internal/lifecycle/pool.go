package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"liquidity-pool/internal/derive"
	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/events"
	"liquidity-pool/internal/ledger"
	"liquidity-pool/internal/observability"
	"liquidity-pool/internal/storage"
)

// InitPoolRequest is the input of InitializePool.
type InitPoolRequest struct {
	Creator domain.Identity `json:"creator" validate:"required"`
	MintA   domain.Identity `json:"mint_a" validate:"required"`
	MintB   domain.Identity `json:"mint_b" validate:"required"`
	LPMint  domain.Identity `json:"lp_mint" validate:"required"`
	Fees    uint8           `json:"fee_percent" validate:"lte=100"`
}

// PoolAddresses are the derived identities of the pool of one ordered mint pair.
type PoolAddresses struct {
	Pool                domain.Identity `json:"pool"`
	PoolBump            uint8           `json:"pool_bump"`
	Authority           domain.Identity `json:"authority"`
	AuthorityBump       uint8           `json:"authority_bump"`
	LPMintAuthority     domain.Identity `json:"lp_mint_authority"`
	LPMintAuthorityBump uint8           `json:"lp_mint_authority_bump"`
	VaultA              domain.Identity `json:"vault_a"`
	VaultB              domain.Identity `json:"vault_b"`
}

// DeriveAddresses computes the pool, authorities and vaults of (mintA, mintB)
// under program. It does not touch storage or the ledger.
func DeriveAddresses(program, mintA, mintB domain.Identity) (PoolAddresses, error) {
	var a PoolAddresses
	var err error

	if a.Pool, a.PoolBump, err = derive.PoolAddress(program, mintA, mintB); err != nil {
		return a, fmt.Errorf("derive pool: %w", err)
	}
	if a.Authority, a.AuthorityBump, err = derive.PoolAuthority(program, a.Pool); err != nil {
		return a, fmt.Errorf("derive pool authority: %w", err)
	}
	if a.LPMintAuthority, a.LPMintAuthorityBump, err = derive.LPMintAuthority(program); err != nil {
		return a, fmt.Errorf("derive lp mint authority: %w", err)
	}
	if a.VaultA, err = derive.AssociatedAccount(a.Authority, mintA); err != nil {
		return a, fmt.Errorf("derive vault a: %w", err)
	}
	if a.VaultB, err = derive.AssociatedAccount(a.Authority, mintB); err != nil {
		return a, fmt.Errorf("derive vault b: %w", err)
	}
	return a, nil
}

// InitializePool creates the pool of an ordered mint pair: it derives the pool
// addresses, checks the mints at the ledger, opens both vaults and persists
// the zeroed PoolState.
func (s *Service) InitializePool(ctx context.Context, req InitPoolRequest) (pool *domain.PoolState, err error) {
	defer func() {
		status := "ok"
		if err != nil {
			status = domain.ErrorTag(err)
		}
		observability.RecordPoolInitialized(status)
	}()

	if err := s.validateInit(req); err != nil {
		return nil, err
	}

	addrs, err := DeriveAddresses(s.program, req.MintA, req.MintB)
	if err != nil {
		return nil, err
	}

	if _, err := s.pools.GetByPair(ctx, req.MintA, req.MintB); err == nil {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrPoolAlreadyExists, req.MintA, req.MintB)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check existing pool: %w", err)
	}

	for _, mint := range []domain.Identity{req.MintA, req.MintB} {
		if _, err := s.getMint(ctx, mint); err != nil {
			return nil, err
		}
	}

	lp, err := s.getMint(ctx, req.LPMint)
	if err != nil {
		return nil, err
	}
	if lp.MintAuthority != addrs.LPMintAuthority {
		return nil, fmt.Errorf("%w: lp mint %s is controlled by %s, want %s",
			domain.ErrInvalidMintAuthority, req.LPMint, lp.MintAuthority, addrs.LPMintAuthority)
	}
	if lp.Decimals > domain.MaxLPDecimals {
		return nil, fmt.Errorf("%w: lp mint has %d decimals, max %d", domain.ErrInvalidConfig, lp.Decimals, domain.MaxLPDecimals)
	}
	if lp.Supply != 0 {
		return nil, fmt.Errorf("%w: lp mint %s already has supply %d", domain.ErrInvalidConfig, req.LPMint, lp.Supply)
	}
	// The LP mint authority is shared by every pool of the program, so a
	// second pool on the same mint would pass the authority check.
	if err := s.checkLPMintUnused(ctx, req.LPMint); err != nil {
		return nil, err
	}

	vaultA, err := s.ledger.OpenAccount(ctx, addrs.Authority, req.MintA)
	if err != nil {
		return nil, fmt.Errorf("open vault a: %w", err)
	}
	vaultB, err := s.ledger.OpenAccount(ctx, addrs.Authority, req.MintB)
	if err != nil {
		return nil, fmt.Errorf("open vault b: %w", err)
	}
	if vaultA != addrs.VaultA || vaultB != addrs.VaultB {
		return nil, fmt.Errorf("ledger opened vaults %s/%s, derived %s/%s", vaultA, vaultB, addrs.VaultA, addrs.VaultB)
	}

	pool = &domain.PoolState{
		ID:                  addrs.Pool,
		Creator:             req.Creator,
		Authority:           addrs.Authority,
		LPMint:              req.LPMint,
		LPMintAuthority:     addrs.LPMintAuthority,
		VaultA:              vaultA,
		VaultB:              vaultB,
		MintA:               req.MintA,
		MintB:               req.MintB,
		PoolBump:            addrs.PoolBump,
		AuthorityBump:       addrs.AuthorityBump,
		LPMintAuthorityBump: addrs.LPMintAuthorityBump,
		Fees:                req.Fees,
		LPDecimals:          lp.Decimals,
		CreatedAt:           s.now().Unix(),
		IsActive:            true,
	}

	if err := s.pools.Insert(ctx, pool); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Lost a race: tell a pool for this pair apart from one on this LP mint.
			if lerr := s.checkLPMintUnused(ctx, req.LPMint); errors.Is(lerr, domain.ErrInvalidConfig) {
				return nil, lerr
			}
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrPoolAlreadyExists, req.MintA, req.MintB)
		}
		return nil, fmt.Errorf("insert pool: %w", err)
	}

	s.logger.Info("pool initialized",
		zap.Stringer("pool", pool.ID),
		zap.Stringer("mint_a", pool.MintA),
		zap.Stringer("mint_b", pool.MintB),
		zap.Stringer("lp_mint", pool.LPMint),
		zap.Uint8("lp_decimals", pool.LPDecimals),
		zap.Uint8("fees", pool.Fees),
	)

	ev, evErr := events.PoolInitialized(pool)
	s.publish(ctx, ev, evErr)

	return pool, nil
}

func (s *Service) validateInit(req InitPoolRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if req.MintA == req.MintB {
		return fmt.Errorf("%w: mint_a and mint_b must differ", domain.ErrInvalidInput)
	}
	if req.LPMint == req.MintA || req.LPMint == req.MintB {
		return fmt.Errorf("%w: lp_mint must differ from the pool assets", domain.ErrInvalidInput)
	}
	return nil
}

// checkLPMintUnused fails with ErrInvalidConfig when lpMint already issues
// the shares of another pool.
func (s *Service) checkLPMintUnused(ctx context.Context, lpMint domain.Identity) error {
	other, err := s.pools.GetByLPMint(ctx, lpMint)
	switch {
	case err == nil:
		return fmt.Errorf("%w: lp mint %s already belongs to pool %s", domain.ErrInvalidConfig, lpMint, other.ID)
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("check lp mint: %w", err)
	}
}

// getMint reads a mint, reporting an unknown mint as invalid input.
func (s *Service) getMint(ctx context.Context, mint domain.Identity) (*ledger.Mint, error) {
	m, err := s.ledger.GetMint(ctx, mint)
	if err != nil {
		if errors.Is(err, ledger.ErrMintNotFound) {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("get mint %s: %w", mint, err)
	}
	return m, nil
}
