package lifecycle

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"liquidity-pool/internal/derive"
	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/events"
	"liquidity-pool/internal/ledger"
	"liquidity-pool/internal/oracle"
	"liquidity-pool/internal/storage"
	"liquidity-pool/internal/storage/memory"
)

var (
	feedA = strings.Repeat("aa", 32)
	feedB = strings.Repeat("bb", 32)
)

func ident(b byte) domain.Identity {
	var id domain.Identity
	for i := range id {
		id[i] = b
	}
	return id
}

type harness struct {
	t         *testing.T
	svc       *Service
	ledger    *ledger.Memory
	pools     *memory.PoolStore
	analytics *memory.DepositAnalyticsStore
	events    *events.Recorder
	prices    *oracle.StaticSource
	now       time.Time

	program, creator, depositor domain.Identity
	mintA, mintB, lpMint        domain.Identity
}

type harnessOption func(*Options, *harness)

func withLedger(wrap func(ledger.Service) ledger.Service) harnessOption {
	return func(o *Options, _ *harness) { o.Ledger = wrap(o.Ledger) }
}

func withPools(wrap func(*memory.PoolStore) storage.PoolStore) harnessOption {
	return func(o *Options, h *harness) { o.Pools = wrap(h.pools) }
}

func withAnalytics(a storage.DepositAnalyticsStore) harnessOption {
	return func(o *Options, _ *harness) { o.Analytics = a }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		t:         t,
		ledger:    ledger.NewMemory(),
		pools:     memory.NewPoolStore(),
		analytics: memory.NewDepositAnalyticsStore(),
		events:    &events.Recorder{},
		now:       time.Unix(1_700_000_000, 0),
		program:   ident(1),
		creator:   ident(2),
		depositor: ident(3),
		mintA:     ident(10),
		mintB:     ident(11),
		lpMint:    ident(12),
	}
	clock := func() time.Time { return h.now }

	lpAuth, _, err := derive.LPMintAuthority(h.program)
	if err != nil {
		t.Fatalf("derive lp mint authority: %v", err)
	}
	h.mustCreateMint(h.mintA, 6, ident(20))
	h.mustCreateMint(h.mintB, 6, ident(20))
	h.mustCreateMint(h.lpMint, 6, lpAuth)
	h.fund(h.depositor, 100_000_000, 100_000_000)

	h.prices = oracle.NewStaticSource()
	h.setPrice(feedA, 100_000_000, -8) // $1
	h.setPrice(feedB, 200_000_000, -8) // $2
	adapter, err := oracle.NewAdapter(oracle.Options{Source: h.prices, Now: clock})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	o := Options{
		Program:    h.program,
		Pools:      h.pools,
		Deposits:   h.pools,
		Ledger:     h.ledger,
		Oracle:     adapter,
		Analytics:  h.analytics,
		Events:     h.events,
		RetryDelay: time.Millisecond,
		Now:        clock,
	}
	for _, opt := range opts {
		opt(&o, h)
	}

	h.svc, err = New(o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func (h *harness) mustCreateMint(mint domain.Identity, decimals uint8, authority domain.Identity) {
	h.t.Helper()
	if err := h.ledger.CreateMint(mint, decimals, authority); err != nil {
		h.t.Fatalf("CreateMint: %v", err)
	}
}

func (h *harness) fund(owner domain.Identity, a, b uint64) {
	h.t.Helper()
	if _, err := h.ledger.Fund(owner, h.mintA, a); err != nil {
		h.t.Fatalf("Fund A: %v", err)
	}
	if _, err := h.ledger.Fund(owner, h.mintB, b); err != nil {
		h.t.Fatalf("Fund B: %v", err)
	}
}

func (h *harness) setPrice(feed string, price int64, expo int32) {
	h.setQuote(feed, price, expo, h.now.Unix())
}

func (h *harness) setQuote(feed string, price int64, expo int32, publishTime int64) {
	h.t.Helper()
	id, err := domain.ParseFeedID(feed)
	if err != nil {
		h.t.Fatalf("ParseFeedID: %v", err)
	}
	h.prices.Set(domain.PriceQuote{FeedID: id, Price: price, Exponent: expo, PublishTime: publishTime})
}

func (h *harness) initPool() *domain.PoolState {
	h.t.Helper()
	pool, err := h.svc.InitializePool(context.Background(), InitPoolRequest{
		Creator: h.creator,
		MintA:   h.mintA,
		MintB:   h.mintB,
		LPMint:  h.lpMint,
		Fees:    3,
	})
	if err != nil {
		h.t.Fatalf("InitializePool: %v", err)
	}
	return pool
}

func (h *harness) request(pool *domain.PoolState, depositor domain.Identity, a, b, minLP uint64) domain.DepositRequest {
	return domain.DepositRequest{
		PoolID:      pool.ID,
		Depositor:   depositor,
		AmountA:     a,
		AmountB:     b,
		MinLPTokens: minLP,
		FeedIDA:     feedA,
		FeedIDB:     feedB,
	}
}

func (h *harness) balance(owner, mint domain.Identity) uint64 {
	h.t.Helper()
	addr, err := derive.AssociatedAccount(owner, mint)
	if err != nil {
		h.t.Fatalf("AssociatedAccount: %v", err)
	}
	bal, err := h.ledger.GetBalance(context.Background(), addr)
	if err != nil {
		return 0
	}
	return bal
}

func (h *harness) supply(mint domain.Identity) uint64 {
	h.t.Helper()
	m, err := h.ledger.GetMint(context.Background(), mint)
	if err != nil {
		h.t.Fatalf("GetMint: %v", err)
	}
	return m.Supply
}

// snapshot captures every balance and the pool, to assert nothing changed.
type snapshot struct {
	accounts map[domain.Identity]uint64
	lpSupply uint64
	pool     domain.PoolState
}

func (h *harness) snapshot(pool *domain.PoolState) snapshot {
	h.t.Helper()
	s := snapshot{accounts: make(map[domain.Identity]uint64), lpSupply: h.supply(h.lpMint)}
	for _, a := range h.ledger.Accounts() {
		s.accounts[a.Address] = a.Balance
	}
	p, err := h.pools.GetByID(context.Background(), pool.ID)
	if err != nil {
		h.t.Fatalf("GetByID: %v", err)
	}
	s.pool = *p
	return s
}

func (h *harness) assertUnchanged(before snapshot) {
	h.t.Helper()
	after := h.snapshot(&before.pool)
	if after.pool != before.pool {
		h.t.Errorf("pool changed:\nbefore %+v\nafter  %+v", before.pool, after.pool)
	}
	if after.lpSupply != before.lpSupply {
		h.t.Errorf("lp supply changed: %d -> %d", before.lpSupply, after.lpSupply)
	}
	for addr, bal := range after.accounts {
		if before.accounts[addr] != bal {
			h.t.Errorf("balance of %s changed: %d -> %d", addr, before.accounts[addr], bal)
		}
	}
}

// faultyLedger injects failures into selected ledger calls.
type faultyLedger struct {
	ledger.Service

	mu            sync.Mutex
	transfer      func(n int, req ledger.TransferRequest) error // n counts Transfer calls from 1
	afterTransfer func(n int, req ledger.TransferRequest) error // runs once the transfer applied
	mintTo        func(req ledger.MintToRequest) error
	calls         int
}

func (f *faultyLedger) Transfer(ctx context.Context, req ledger.TransferRequest) error {
	f.mu.Lock()
	f.calls++
	n := f.calls
	hook, after := f.transfer, f.afterTransfer
	f.mu.Unlock()
	if hook != nil {
		if err := hook(n, req); err != nil {
			return err
		}
	}
	if err := f.Service.Transfer(ctx, req); err != nil {
		return err
	}
	if after != nil {
		return after(n, req)
	}
	return nil
}

func (f *faultyLedger) MintTo(ctx context.Context, req ledger.MintToRequest) error {
	if f.mintTo != nil {
		if err := f.mintTo(req); err != nil {
			return err
		}
	}
	return f.Service.MintTo(ctx, req)
}

// conflictingPools reports a version conflict for the first n commits.
type conflictingPools struct {
	*memory.PoolStore
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingPools) CommitDeposit(ctx context.Context, expected uint64, p *domain.PoolState, r *domain.DepositRecord) error {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return storage.ErrVersionConflict
	}
	c.mu.Unlock()
	return c.PoolStore.CommitDeposit(ctx, expected, p, r)
}

// staleLPIndex misses the LP mint index for the next misses lookups, as a
// concurrent initializer would see it before the other insert lands.
type staleLPIndex struct {
	*memory.PoolStore
	misses int
}

func (s *staleLPIndex) GetByLPMint(ctx context.Context, lpMint domain.Identity) (*domain.PoolState, error) {
	if s.misses > 0 {
		s.misses--
		return nil, storage.ErrNotFound
	}
	return s.PoolStore.GetByLPMint(ctx, lpMint)
}

// inactivePools reports every pool as inactive.
type inactivePools struct {
	*memory.PoolStore
}

func (p inactivePools) GetByID(ctx context.Context, id domain.Identity) (*domain.PoolState, error) {
	pool, err := p.PoolStore.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	pool.IsActive = false
	return pool, nil
}

type failingAnalytics struct {
	storage.DepositAnalyticsStore
}

func (failingAnalytics) Insert(context.Context, *domain.DepositRecord) error {
	return context.DeadlineExceeded
}
