package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"liquidity-pool/internal/config"
	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/events"
	"liquidity-pool/internal/ledger"
	ledgerrpc "liquidity-pool/internal/ledger/rpc"
	"liquidity-pool/internal/lifecycle"
	"liquidity-pool/internal/lock"
	"liquidity-pool/internal/oracle"
	"liquidity-pool/internal/storage"
	chstore "liquidity-pool/internal/storage/clickhouse"
	"liquidity-pool/internal/storage/memory"
	"liquidity-pool/internal/storage/migrations"
	pgstore "liquidity-pool/internal/storage/postgres"
)

// app holds the wired components of one process.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	program domain.Identity

	service *lifecycle.Service
	// memLedger is set when the ledger runs in-process.
	memLedger *ledger.Memory

	closers []func() error
}

// newApp connects every backend named by cfg. seedPath optionally seeds the
// in-process ledger.
func newApp(ctx context.Context, cfg config.Config, seedPath string, logger *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.program, err = cfg.Program(); err != nil {
		return nil, err
	}

	pools, deposits, analytics, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}
	led, err := a.openLedger(seedPath)
	if err != nil {
		return nil, err
	}
	adapter, err := a.openOracle(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := a.openLocker(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.openEvents()
	if err != nil {
		return nil, err
	}

	a.service, err = lifecycle.New(lifecycle.Options{
		Program:   a.program,
		Pools:     pools,
		Deposits:  deposits,
		Ledger:    led,
		Oracle:    adapter,
		Analytics: analytics,
		Locker:    locker,
		Events:    publisher,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("components ready",
		zap.Stringer("program", a.program),
		zap.String("storage", cfg.Storage),
		zap.Bool("analytics", analytics != nil),
		zap.String("ledger", cfg.Ledger),
		zap.String("oracle", cfg.Oracle),
		zap.Duration("oracle_max_age", cfg.OracleMaxAge),
		zap.String("lock", cfg.Lock),
		zap.Bool("events", cfg.AMQPURL != ""),
	)
	return a, nil
}

// Close releases backends in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) openStorage(ctx context.Context) (storage.PoolStore, storage.DepositStore, storage.DepositAnalyticsStore, error) {
	var (
		pools     storage.PoolStore
		deposits  storage.DepositStore
		analytics storage.DepositAnalyticsStore
	)

	switch a.cfg.Storage {
	case "postgres":
		pool, err := pgstore.NewPool(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := migrations.RunPostgresMigrations(ctx, pool, a.logger); err != nil {
			return nil, nil, nil, err
		}
		pools, deposits = pgstore.NewPoolStore(pool), pgstore.NewDepositStore(pool)
	default:
		store := memory.NewPoolStore()
		pools, deposits = store, store
	}

	if a.cfg.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, a.cfg.ClickHouseDSN, a.logger)
		if err != nil {
			return nil, nil, nil, err
		}
		a.closers = append(a.closers, conn.Close)
		analytics = chstore.NewDepositAnalyticsStore(conn)
	}
	return pools, deposits, analytics, nil
}

func (a *app) openLedger(seedPath string) (ledger.Service, error) {
	if a.cfg.Ledger == "rpc" {
		return ledgerrpc.NewClient(a.cfg.LedgerEndpoint), nil
	}

	a.memLedger = ledger.NewMemory()
	if seedPath != "" {
		seed, err := loadSeed(seedPath)
		if err != nil {
			return nil, err
		}
		if err := seed.apply(a.memLedger, a.program); err != nil {
			return nil, err
		}
		a.logger.Info("ledger seeded",
			zap.String("path", seedPath),
			zap.Int("mints", len(seed.Mints)),
			zap.Int("balances", len(seed.Balances)))
	}
	return a.memLedger, nil
}

func (a *app) openOracle(ctx context.Context) (*oracle.Adapter, error) {
	var (
		src     oracle.Source
		catalog *oracle.Catalog
	)

	switch a.cfg.Oracle {
	case "hermes":
		hermes := oracle.NewHermesClient(a.cfg.HermesURL,
			oracle.WithHermesRateLimit(a.cfg.OracleRPS, oracle.DefaultHermesBurst),
			oracle.WithHermesLogger(a.logger))
		var err error
		if catalog, err = oracle.NewCatalog(hermes, 0); err != nil {
			return nil, err
		}
		src = hermes
	case "hermes-ws":
		feeds := make([]domain.FeedID, 0, len(a.cfg.OracleFeeds))
		for _, raw := range a.cfg.OracleFeeds {
			id, err := domain.ParseFeedID(raw)
			if err != nil {
				return nil, err
			}
			feeds = append(feeds, id)
		}
		stream, err := oracle.NewStreamSource(ctx, a.cfg.HermesWSURL, feeds, nil, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect hermes websocket: %w", err)
		}
		a.closers = append(a.closers, stream.Close)
		src = stream
	default:
		static := oracle.NewLiveStaticSource(time.Now)
		for _, raw := range a.cfg.StaticPrices {
			q, err := oracle.ParseStaticQuote(raw)
			if err != nil {
				return nil, err
			}
			static.Set(q)
		}
		src = static
	}

	return oracle.NewAdapter(oracle.Options{
		Source:  src,
		Catalog: catalog,
		MaxAge:  a.cfg.OracleMaxAge,
		Logger:  a.logger,
	})
}

func (a *app) openLocker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.Lock != "redis" {
		return lock.NewLocal(a.cfg.LockTimeout), nil
	}
	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", a.cfg.RedisAddr, err)
	}
	return lock.NewRedis(client, lock.WithTimeout(a.cfg.LockTimeout)), nil
}

func (a *app) openEvents() (events.Publisher, error) {
	if a.cfg.AMQPURL == "" {
		return events.Nop{}, nil
	}
	pub, err := events.DialAMQP(a.cfg.AMQPURL, a.cfg.AMQPExchange, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pub.Close)
	return pub, nil
}
