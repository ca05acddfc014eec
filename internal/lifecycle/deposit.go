package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"liquidity-pool/internal/derive"
	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/events"
	"liquidity-pool/internal/idhash"
	"liquidity-pool/internal/ledger"
	"liquidity-pool/internal/lock"
	"liquidity-pool/internal/observability"
	"liquidity-pool/internal/shares"
	"liquidity-pool/internal/storage"
	"liquidity-pool/internal/valuation"
)

// depositState accumulates what one attempt has computed so far, for error context.
type depositState struct {
	req    domain.DepositRequest
	value  uint64
	shares uint64
}

func (d *depositState) fail(stage domain.DepositStage, err error) error {
	return &domain.DepositError{
		Stage:       stage,
		PoolID:      d.req.PoolID,
		AmountA:     d.req.AmountA,
		AmountB:     d.req.AmountB,
		Value:       d.value,
		Shares:      d.shares,
		MinLPTokens: d.req.MinLPTokens,
		Err:         err,
	}
}

// Deposit prices both assets, mints pool shares proportional to the deposit's
// value and records the deposit. On failure no funds move and the pool is
// unchanged; the returned *domain.DepositError names the failed stage.
//
// Deposits into one pool are serialized by the locker. If the pool version
// still changes underneath (another writer bypassing the lock), the attempt is
// compensated and retried up to MaxAttempts times.
func (s *Service) Deposit(ctx context.Context, req domain.DepositRequest) (receipt *domain.DepositReceipt, err error) {
	start := time.Now()
	attempts := 0
	defer func() {
		status := "ok"
		var value, minted uint64
		if err != nil {
			status = domain.ErrorTag(err)
		} else {
			value, minted = receipt.TotalValue, receipt.SharesMinted
		}
		observability.RecordDeposit(status, value, minted, attempts)
		observability.RecordStage("total", time.Since(start))
	}()

	st := &depositState{req: req}
	if err := s.validate.Struct(req); err != nil {
		return nil, st.fail(domain.StageValidate, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
	}

	pool, err := s.GetPool(ctx, req.PoolID)
	if err != nil {
		return nil, st.fail(domain.StageValidate, err)
	}
	if !pool.IsActive {
		return nil, st.fail(domain.StageValidate, fmt.Errorf("%w: %s", domain.ErrPoolInactive, pool.ID))
	}
	if req.Depositor == pool.Authority {
		return nil, st.fail(domain.StageValidate, fmt.Errorf("%w: depositor cannot be the pool authority", domain.ErrInvalidInput))
	}

	release, err := s.locker.Acquire(ctx, pool.ID.String())
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			err = fmt.Errorf("%w: %v", domain.ErrConcurrentModification, err)
		}
		return nil, st.fail(domain.StageValidate, err)
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Warn("release pool lock", zap.Stringer("pool", pool.ID), zap.Error(rerr))
		}
	}()

	depositID := s.newID()
	var lastState *depositState

	op := func() error {
		attempts++
		st := &depositState{req: req}
		lastState = st
		r, err := s.depositOnce(ctx, st, depositID, attempts)
		if err != nil {
			if errors.Is(err, storage.ErrVersionConflict) && !errors.Is(err, domain.ErrCompensationFailed) {
				s.logger.Info("pool changed during deposit, retrying",
					zap.Stringer("pool", req.PoolID), zap.String("deposit_id", depositID), zap.Int("attempt", attempts))
				return err
			}
			return backoff.Permanent(err)
		}
		receipt = r
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryDelay), uint64(s.maxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) && !errors.Is(err, domain.ErrCompensationFailed) {
			return nil, lastState.fail(domain.StageCommit,
				fmt.Errorf("%w: pool %s changed during %d attempts", domain.ErrConcurrentModification, req.PoolID, attempts))
		}
		var depErr *domain.DepositError
		if errors.As(err, &depErr) {
			return nil, err
		}
		// Context ended between attempts.
		return nil, lastState.fail(domain.StageCommit, err)
	}

	receipt.Attempts = attempts
	s.afterDeposit(ctx, &receipt.DepositRecord)
	return receipt, nil
}

// depositOnce runs one attempt under the pool lock.
func (s *Service) depositOnce(ctx context.Context, st *depositState, depositID string, attempt int) (*domain.DepositReceipt, error) {
	req := st.req

	// Reload under the lock: the version read here guards the commit.
	pool, err := s.GetPool(ctx, req.PoolID)
	if err != nil {
		return nil, st.fail(domain.StageValidate, err)
	}
	if !pool.IsActive {
		return nil, st.fail(domain.StageValidate, fmt.Errorf("%w: %s", domain.ErrPoolInactive, pool.ID))
	}

	// 1. Prices.
	stageStart := time.Now()
	maxAge := s.oracle.MaxAge()
	quoteA, err := s.oracle.GetPriceNoOlderThan(ctx, req.FeedIDA, maxAge)
	if err != nil {
		return nil, st.fail(domain.StagePrice, fmt.Errorf("price a: %w", err))
	}
	quoteB, err := s.oracle.GetPriceNoOlderThan(ctx, req.FeedIDB, maxAge)
	if err != nil {
		return nil, st.fail(domain.StagePrice, fmt.Errorf("price b: %w", err))
	}
	observability.RecordStage(string(domain.StagePrice), time.Since(stageStart))

	// 2. Deposit value.
	stageStart = time.Now()
	mintA, err := s.getMint(ctx, pool.MintA)
	if err != nil {
		return nil, st.fail(domain.StageValuation, err)
	}
	mintB, err := s.getMint(ctx, pool.MintB)
	if err != nil {
		return nil, st.fail(domain.StageValuation, err)
	}
	pv, err := valuation.ValuePair(
		valuation.Asset{Amount: req.AmountA, Decimals: mintA.Decimals, Quote: quoteA},
		valuation.Asset{Amount: req.AmountB, Decimals: mintB.Decimals, Quote: quoteB},
	)
	if err != nil {
		return nil, st.fail(domain.StageValuation, err)
	}
	st.value = pv.Total
	if pv.Total == 0 {
		return nil, st.fail(domain.StageValuation, fmt.Errorf("%w: deposit is worth 0", domain.ErrInvalidDepositValue))
	}
	observability.RecordStage(string(domain.StageValuation), time.Since(stageStart))

	// 3. Shares.
	stageStart = time.Now()
	lpMint, err := s.getMint(ctx, pool.LPMint)
	if err != nil {
		return nil, st.fail(domain.StageShares, err)
	}
	supply := lpMint.Supply
	var poolValue uint64
	if supply > 0 {
		poolValue, err = s.livePoolValue(ctx, pool, mintA, mintB, quoteA, quoteB)
		if err != nil {
			return nil, st.fail(domain.StageShares, err)
		}
	}
	minter, err := shares.ForPool(pool)
	if err != nil {
		return nil, st.fail(domain.StageShares, err)
	}
	minted, err := minter.SharesToMint(pv.Total, supply, poolValue)
	if err != nil {
		return nil, st.fail(domain.StageShares, err)
	}
	st.shares = minted
	observability.RecordStage(string(domain.StageShares), time.Since(stageStart))

	// 4. Slippage.
	if err := shares.CheckSlippage(minted, req.MinLPTokens); err != nil {
		return nil, st.fail(domain.StageSlippage, fmt.Errorf("%w: %d shares, minimum %d", err, minted, req.MinLPTokens))
	}

	// Nothing has moved yet; a cancelled caller leaves no trace.
	if err := ctx.Err(); err != nil {
		return nil, st.fail(domain.StageTransfer, err)
	}

	next := pool.Clone()
	if err := next.ApplyDeposit(req.AmountA, req.AmountB, pv.Total); err != nil {
		return nil, st.fail(domain.StageCommit, err)
	}

	// 5-6. Ledger effects, journaled for compensation.
	journal := ledger.NewJournal(s.rollbackTimeout, s.logger)
	stage, err := s.moveFunds(ctx, journal, pool, req, depositID, attempt, mintA, mintB, minted)
	if err != nil {
		return nil, st.fail(stage, s.compensate(journal, depositID, err))
	}

	// 7. Commit.
	stageStart = time.Now()
	rec := &domain.DepositRecord{
		DepositID:    depositID,
		PoolID:       pool.ID,
		Depositor:    req.Depositor,
		AmountA:      req.AmountA,
		AmountB:      req.AmountB,
		ValueA:       pv.ValueA,
		ValueB:       pv.ValueB,
		TotalValue:   pv.Total,
		SharesMinted: minted,
		SupplyBefore: supply,
		PoolValue:    poolValue,
		QuoteA:       *quoteA,
		QuoteB:       *quoteB,
		PoolVersion:  next.Version,
		Timestamp:    s.now().UnixMilli(),
	}
	if err := s.pools.CommitDeposit(ctx, pool.Version, next, rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = fmt.Errorf("%w: %s", domain.ErrPoolNotFound, pool.ID)
		}
		return nil, st.fail(domain.StageCommit, s.compensate(journal, depositID, fmt.Errorf("commit: %w", err)))
	}
	journal.Discard()
	observability.RecordStage(string(domain.StageCommit), time.Since(stageStart))

	return &domain.DepositReceipt{DepositRecord: *rec}, nil
}

// moveFunds transfers both assets into the vaults and mints the shares. It
// returns the stage that failed.
func (s *Service) moveFunds(
	ctx context.Context,
	journal *ledger.Journal,
	pool *domain.PoolState,
	req domain.DepositRequest,
	depositID string,
	attempt int,
	mintA, mintB *ledger.Mint,
	minted uint64,
) (domain.DepositStage, error) {
	start := time.Now()
	opID := func(step idhash.Step) string {
		return idhash.ComputeOperationID(depositID, attempt, step)
	}

	legs := []struct {
		mint     *ledger.Mint
		vault    domain.Identity
		amount   uint64
		transfer idhash.Step
		refund   idhash.Step
	}{
		{mintA, pool.VaultA, req.AmountA, idhash.StepTransferA, idhash.StepRefundA},
		{mintB, pool.VaultB, req.AmountB, idhash.StepTransferB, idhash.StepRefundB},
	}
	for _, leg := range legs {
		if leg.amount == 0 {
			continue
		}
		from, err := derive.AssociatedAccount(req.Depositor, leg.mint.Address)
		if err != nil {
			return domain.StageTransfer, err
		}
		transfer := ledger.TransferRequest{
			OperationID: opID(leg.transfer),
			Mint:        leg.mint.Address,
			Decimals:    leg.mint.Decimals,
			From:        from,
			To:          leg.vault,
			Authority:   req.Depositor,
			Amount:      leg.amount,
		}
		err = s.confirm(ctx, func(ctx context.Context) error {
			return s.ledger.Transfer(ctx, transfer)
		})
		if err != nil {
			return domain.StageTransfer, fmt.Errorf("%s: %w", leg.transfer, err)
		}

		refund := ledger.TransferRequest{
			OperationID: opID(leg.refund),
			Mint:        leg.mint.Address,
			Decimals:    leg.mint.Decimals,
			From:        leg.vault,
			To:          from,
			Authority:   pool.Authority,
			Amount:      leg.amount,
		}
		journal.Record(string(leg.refund), func(ctx context.Context) error {
			return s.ledger.Transfer(ctx, refund)
		})
	}
	observability.RecordStage(string(domain.StageTransfer), time.Since(start))

	start = time.Now()
	lpAccount, err := s.ledger.OpenAccount(ctx, req.Depositor, pool.LPMint)
	if err != nil {
		return domain.StageMint, fmt.Errorf("open lp account: %w", err)
	}
	mint := ledger.MintToRequest{
		OperationID: opID(idhash.StepMint),
		Mint:        pool.LPMint,
		To:          lpAccount,
		Authority:   pool.LPMintAuthority,
		Amount:      minted,
	}
	err = s.confirm(ctx, func(ctx context.Context) error {
		return s.ledger.MintTo(ctx, mint)
	})
	if err != nil {
		return domain.StageMint, fmt.Errorf("%s: %w", idhash.StepMint, err)
	}
	burn := ledger.BurnRequest{
		OperationID: opID(idhash.StepBurn),
		Mint:        pool.LPMint,
		From:        lpAccount,
		Authority:   req.Depositor,
		Amount:      minted,
	}
	journal.Record(string(idhash.StepBurn), func(ctx context.Context) error {
		return s.ledger.Burn(ctx, burn)
	})
	observability.RecordStage(string(domain.StageMint), time.Since(start))

	return "", nil
}

// confirm runs a ledger call until its outcome is known, replaying it under
// the same operation id after failures that are not rejections.
func (s *Service) confirm(ctx context.Context, call func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryDelay
	return ledger.Confirm(ctx, backoff.WithMaxRetries(b, uint64(s.confirmRetries)), s.rollbackTimeout, call)
}

// compensate rolls back the journal. A failed rollback, or a cause whose
// ledger effect is unknown, is reported as ErrCompensationFailed wrapping the
// original cause.
func (s *Service) compensate(journal *ledger.Journal, depositID string, cause error) error {
	unknown := errors.Is(cause, ledger.ErrOutcomeUnknown)
	if journal.Len() == 0 && !unknown {
		return cause
	}
	s.logger.Warn("deposit failed after moving funds, compensating",
		zap.String("deposit_id", depositID), zap.Int("steps", journal.Len()), zap.Error(cause))

	rollbackErr := journal.Rollback()
	if rollbackErr != nil {
		s.logger.Error("deposit compensation incomplete",
			zap.String("deposit_id", depositID), zap.NamedError("cause", cause), zap.Error(rollbackErr))
		return fmt.Errorf("%w: %w (rollback: %v)", domain.ErrCompensationFailed, cause, rollbackErr)
	}
	if unknown {
		// The failed call may have landed; undoing it blindly could move pool funds.
		s.logger.Error("ledger outcome unknown, manual reconciliation required",
			zap.String("deposit_id", depositID), zap.Error(cause))
		return fmt.Errorf("%w: %w", domain.ErrCompensationFailed, cause)
	}
	return cause
}

// livePoolValue values the current vault balances at the deposit's quotes.
func (s *Service) livePoolValue(ctx context.Context, pool *domain.PoolState, mintA, mintB *ledger.Mint, quoteA, quoteB *domain.PriceQuote) (uint64, error) {
	balA, err := s.ledger.GetBalance(ctx, pool.VaultA)
	if err != nil {
		return 0, fmt.Errorf("vault a balance: %w", err)
	}
	balB, err := s.ledger.GetBalance(ctx, pool.VaultB)
	if err != nil {
		return 0, fmt.Errorf("vault b balance: %w", err)
	}
	return valuation.PoolValueUSD(balA, balB, mintA.Decimals, mintB.Decimals, quoteA, quoteB)
}

// afterDeposit runs the best-effort side effects of a committed deposit.
func (s *Service) afterDeposit(ctx context.Context, rec *domain.DepositRecord) {
	s.logger.Info("deposit completed",
		zap.String("deposit_id", rec.DepositID),
		zap.Stringer("pool", rec.PoolID),
		zap.Stringer("depositor", rec.Depositor),
		zap.Uint64("amount_a", rec.AmountA),
		zap.Uint64("amount_b", rec.AmountB),
		zap.Uint64("value", rec.TotalValue),
		zap.Uint64("lp_tokens_minted", rec.SharesMinted),
		zap.Uint64("pool_version", rec.PoolVersion),
	)

	ev, evErr := events.DepositCompleted(rec)
	s.publish(ctx, ev, evErr)

	if s.analytics != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultEventTimeout)
		defer cancel()
		if err := s.analytics.Insert(actx, rec); err != nil {
			s.logger.Warn("insert deposit analytics", zap.String("deposit_id", rec.DepositID), zap.Error(err))
		}
	}
}
