// Command poold runs the oracle-priced liquidity pool service and its
// operator commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidity-pool/internal/api"
	"liquidity-pool/internal/config"
	"liquidity-pool/internal/domain"
	ledgerrpc "liquidity-pool/internal/ledger/rpc"
	"liquidity-pool/internal/lifecycle"
	"liquidity-pool/internal/logging"
	"liquidity-pool/internal/storage/migrations"
	pgstore "liquidity-pool/internal/storage/postgres"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "poold",
		Short:        "Oracle-priced two-asset liquidity pool service",
		SilenceUsage: true,
	}
	config.RegisterFlags(root.PersistentFlags())
	root.PersistentFlags().String("ledger-seed", "", "JSON file of mints and balances for the in-process ledger")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE:  runServe,
	}
	root.AddCommand(serveCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL and ClickHouse migrations",
		RunE:  runMigrate,
	}
	root.AddCommand(migrateCmd)

	initCmd := &cobra.Command{
		Use:   "init-pool",
		Short: "Create the pool of an ordered mint pair",
		RunE:  runInitPool,
	}
	initCmd.Flags().String("creator", "", "creator identity (base58)")
	initCmd.Flags().String("mint-a", "", "first asset mint (base58)")
	initCmd.Flags().String("mint-b", "", "second asset mint (base58)")
	initCmd.Flags().String("lp-mint", "", "pool share mint (base58)")
	initCmd.Flags().Uint8("fee", 0, "fee percent (stored, not applied)")
	root.AddCommand(initCmd)

	depositCmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit both assets into a pool",
		RunE:  runDeposit,
	}
	depositCmd.Flags().String("pool", "", "pool identity (base58)")
	depositCmd.Flags().String("depositor", "", "depositor identity (base58)")
	depositCmd.Flags().Uint64("amount-a", 0, "raw amount of asset A")
	depositCmd.Flags().Uint64("amount-b", 0, "raw amount of asset B")
	depositCmd.Flags().Uint64("min-lp", 0, "minimum pool shares to accept")
	depositCmd.Flags().String("feed-a", "", "price feed id of asset A (hex)")
	depositCmd.Flags().String("feed-b", "", "price feed id of asset B (hex)")
	root.AddCommand(depositCmd)

	deriveCmd := &cobra.Command{
		Use:   "derive",
		Short: "Print the derived addresses of a mint pair",
		RunE:  runDerive,
	}
	deriveCmd.Flags().String("mint-a", "", "first asset mint (base58)")
	deriveCmd.Flags().String("mint-b", "", "second asset mint (base58)")
	root.AddCommand(deriveCmd)

	return root
}

// setup loads configuration and builds the logger shared by every command.
func setup(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// withApp runs fn against a fully wired app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seed, _ := cmd.Flags().GetString("ledger-seed")
	a, err := newApp(ctx, cfg, seed, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close components", zap.Error(cerr))
		}
	}()
	return fn(ctx, a)
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		srv := api.NewServer(a.service, a.logger)
		if a.memLedger != nil {
			srv.Handle("POST /rpc/ledger", ledgerrpc.NewHandler(a.memLedger, a.logger))
		}

		httpSrv := &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("http server listening", zap.String("addr", a.cfg.HTTPAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err, ok := <-errCh:
			if ok {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.PostgresDSN == "" && cfg.ClickHouseDSN == "" {
		return fmt.Errorf("%w: migrate needs --postgres-dsn or --clickhouse-dsn", domain.ErrInvalidConfig)
	}
	ctx := cmd.Context()

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
			return err
		}
	}
	if cfg.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
	}
	logger.Info("migrations applied")
	return nil
}

func runInitPool(cmd *cobra.Command, _ []string) error {
	req := lifecycle.InitPoolRequest{}
	var err error
	if req.Creator, err = identityFlag(cmd, "creator"); err != nil {
		return err
	}
	if req.MintA, err = identityFlag(cmd, "mint-a"); err != nil {
		return err
	}
	if req.MintB, err = identityFlag(cmd, "mint-b"); err != nil {
		return err
	}
	if req.LPMint, err = identityFlag(cmd, "lp-mint"); err != nil {
		return err
	}
	req.Fees, _ = cmd.Flags().GetUint8("fee")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		pool, err := a.service.InitializePool(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), pool)
	})
}

func runDeposit(cmd *cobra.Command, _ []string) error {
	req := domain.DepositRequest{}
	var err error
	if req.PoolID, err = identityFlag(cmd, "pool"); err != nil {
		return err
	}
	if req.Depositor, err = identityFlag(cmd, "depositor"); err != nil {
		return err
	}
	req.AmountA, _ = cmd.Flags().GetUint64("amount-a")
	req.AmountB, _ = cmd.Flags().GetUint64("amount-b")
	req.MinLPTokens, _ = cmd.Flags().GetUint64("min-lp")
	req.FeedIDA, _ = cmd.Flags().GetString("feed-a")
	req.FeedIDB, _ = cmd.Flags().GetString("feed-b")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		receipt, err := a.service.Deposit(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), receipt)
	})
}

func runDerive(cmd *cobra.Command, _ []string) error {
	cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	program, err := cfg.Program()
	if err != nil {
		return err
	}
	mintA, err := identityFlag(cmd, "mint-a")
	if err != nil {
		return err
	}
	mintB, err := identityFlag(cmd, "mint-b")
	if err != nil {
		return err
	}
	addrs, err := lifecycle.DeriveAddresses(program, mintA, mintB)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), addrs)
}

func identityFlag(cmd *cobra.Command, name string) (domain.Identity, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return domain.Identity{}, fmt.Errorf("%w: --%s is required", domain.ErrInvalidInput, name)
	}
	id, err := domain.ParseIdentity(raw)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: --%s: %v", domain.ErrInvalidInput, name, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
