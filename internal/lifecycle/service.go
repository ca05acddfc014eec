// Package lifecycle creates pools and executes deposits.
//
// A deposit moves funds at the ledger first and commits pool state last. The
// ledger effects are journaled and compensated on any later failure, and the
// commit is guarded by the pool version, so the pool and the ledger change
// together or not at all.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/events"
	"liquidity-pool/internal/ledger"
	"liquidity-pool/internal/lock"
	"liquidity-pool/internal/logging"
	"liquidity-pool/internal/storage"
)

// Defaults.
const (
	DefaultMaxAttempts    = 3
	DefaultRetryDelay     = 50 * time.Millisecond
	DefaultConfirmRetries = 5
	DefaultEventTimeout   = 5 * time.Second
)

// PriceOracle returns fresh quotes. *oracle.Adapter implements it.
type PriceOracle interface {
	GetPriceNoOlderThan(ctx context.Context, feedHex string, maxAge time.Duration) (*domain.PriceQuote, error)
	MaxAge() time.Duration
}

// Options for creating a Service.
type Options struct {
	// Required
	Program  domain.Identity
	Pools    storage.PoolStore
	Deposits storage.DepositStore
	Ledger   ledger.Service
	Oracle   PriceOracle

	// Optional
	Analytics       storage.DepositAnalyticsStore // nil skips the analytics copy
	Locker          lock.Locker                   // default lock.NewLocal(lock.DefaultTimeout)
	Events          events.Publisher              // default events.Nop
	Logger          *zap.Logger
	MaxAttempts     int           // deposit attempts on version conflict
	RetryDelay      time.Duration // pause between attempts
	RollbackTimeout time.Duration // bound on compensations and on confirming a ledger call
	ConfirmRetries  int           // replays of a ledger call whose outcome is unknown
	Now             func() time.Time
	NewID           func() string // deposit ids
}

// Service implements InitializePool and Deposit.
type Service struct {
	program   domain.Identity
	pools     storage.PoolStore
	deposits  storage.DepositStore
	analytics storage.DepositAnalyticsStore
	ledger    ledger.Service
	oracle    PriceOracle
	locker    lock.Locker
	events    events.Publisher
	logger    *zap.Logger
	validate  *validator.Validate

	maxAttempts     int
	retryDelay      time.Duration
	rollbackTimeout time.Duration
	confirmRetries  int
	now             func() time.Time
	newID           func() string
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Pools == nil || opts.Deposits == nil || opts.Ledger == nil || opts.Oracle == nil {
		return nil, fmt.Errorf("%w: pools, deposits, ledger and oracle are required", domain.ErrInvalidConfig)
	}
	if opts.Program.IsZero() {
		return nil, fmt.Errorf("%w: program id is required", domain.ErrInvalidConfig)
	}

	s := &Service{
		program:         opts.Program,
		pools:           opts.Pools,
		deposits:        opts.Deposits,
		analytics:       opts.Analytics,
		ledger:          opts.Ledger,
		oracle:          opts.Oracle,
		locker:          opts.Locker,
		events:          opts.Events,
		logger:          logging.OrNop(opts.Logger).Named("lifecycle"),
		validate:        validator.New(),
		maxAttempts:     opts.MaxAttempts,
		retryDelay:      opts.RetryDelay,
		rollbackTimeout: opts.RollbackTimeout,
		confirmRetries:  opts.ConfirmRetries,
		now:             opts.Now,
		newID:           opts.NewID,
	}
	if s.locker == nil {
		s.locker = lock.NewLocal(lock.DefaultTimeout)
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.retryDelay <= 0 {
		s.retryDelay = DefaultRetryDelay
	}
	if s.rollbackTimeout <= 0 {
		s.rollbackTimeout = ledger.DefaultRollbackTimeout
	}
	if s.confirmRetries <= 0 {
		s.confirmRetries = DefaultConfirmRetries
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

// Program returns the identity that namespaces derived pool addresses.
func (s *Service) Program() domain.Identity {
	return s.program
}

// GetPool returns a pool by id.
func (s *Service) GetPool(ctx context.Context, id domain.Identity) (*domain.PoolState, error) {
	pool, err := s.pools.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPoolNotFound, id)
		}
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return pool, nil
}

// ListPools returns every pool, oldest first.
func (s *Service) ListPools(ctx context.Context) ([]*domain.PoolState, error) {
	pools, err := s.pools.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	return pools, nil
}

// ListDeposits returns the committed deposits of a pool in commit order.
func (s *Service) ListDeposits(ctx context.Context, poolID domain.Identity) ([]*domain.DepositRecord, error) {
	if _, err := s.GetPool(ctx, poolID); err != nil {
		return nil, err
	}
	records, err := s.deposits.ListDeposits(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	return records, nil
}

// publish sends ev without letting the caller's cancellation or a broker
// failure leak into the result.
func (s *Service) publish(ctx context.Context, ev events.Event, buildErr error) {
	if buildErr != nil {
		s.logger.Warn("build event", zap.Error(buildErr))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultEventTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish event", zap.String("type", ev.Type), zap.Error(err))
	}
}
