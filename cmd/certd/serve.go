package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"certledger.org/internal/auth"
	"certledger.org/internal/bank"
	"certledger.org/internal/cert"
	"certledger.org/internal/config"
	"certledger.org/internal/expiry"
	"certledger.org/internal/httpapi"
	"certledger.org/internal/ledger"
	"certledger.org/internal/obs"
	"certledger.org/internal/payout"
	"certledger.org/internal/storage"
	pgstore "certledger.org/internal/store/pg"
	"certledger.org/internal/stream"
)

type loader func() (*config.Config, error)

func serveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST and gRPC servers.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// node is the set of opened backends shared by the subcommands.
type node struct {
	db     storage.DB
	bank   bank.Service
	pg     *pgstore.Store
	ledger *ledger.Ledger
}

func (n *node) Close() {
	if n.db != nil {
		_ = n.db.Close()
	}
	if n.pg != nil {
		_ = n.pg.Close()
	}
}

func openStorage(cfg config.Storage) (storage.DB, error) {
	switch cfg.Backend {
	case "badger":
		return storage.NewBadger(cfg.Path)
	default:
		return storage.NewMemory(), nil
	}
}

func openNode(ctx context.Context, cfg *config.Config, opts ...ledger.Option) (*node, error) {
	n := &node{}
	db, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	n.db = db

	switch cfg.Bank.Backend {
	case "postgres":
		n.pg, err = pgstore.Open(cfg.Bank.DSN)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("open bank: %w", err)
		}
		n.bank = n.pg
	default:
		mem := bank.NewInMemory()
		if cfg.Bank.DevFunds > 0 {
			for _, acc := range uniqueAccounts(cfg.Ledger.ContractAccount, cfg.Ledger.Owner, cfg.Auth.SignerAccount) {
				if _, err := mem.OpenAccount(ctx, acc, bank.Money{Currency: cfg.Ledger.Currency, Amount: cfg.Bank.DevFunds}); err != nil {
					n.Close()
					return nil, fmt.Errorf("fund %s: %w", acc, err)
				}
			}
		}
		n.bank = mem
	}

	n.ledger, err = ledger.Open(ctx, n.db, n.bank, ledger.Config{
		ContractAccount: cfg.Ledger.ContractAccount,
		Currency:        cfg.Ledger.Currency,
		StorageByteCost: cfg.Ledger.StorageByteCost,
	}, opts...)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := provisionAccounts(ctx, n.bank, cfg); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

// ledgerAccounts lists every bank account the ledger moves funds between:
// callers that attach deposits, refund and payout recipients.
func ledgerAccounts(cfg *config.Config) []string {
	accs := []string{cfg.Ledger.ContractAccount, cfg.Ledger.Owner, cfg.Auth.SignerAccount, cfg.Ledger.TrashAccount}
	return uniqueAccounts(append(accs, cfg.Ledger.Issuers...)...)
}

// provisionAccounts opens the configured ledger accounts that the bank does
// not know yet, with a zero balance. Existing accounts are left untouched.
func provisionAccounts(ctx context.Context, bk bank.Service, cfg *config.Config) error {
	for _, acc := range ledgerAccounts(cfg) {
		if err := bank.EnsureAccount(ctx, bk, acc, cfg.Ledger.Currency); err != nil {
			return fmt.Errorf("provision bank account %s: %w", acc, err)
		}
	}
	return nil
}

func uniqueAccounts(ids ...string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// bootstrap initializes the contract on first start when an owner is configured.
func bootstrap(ctx context.Context, l *ledger.Ledger, cfg config.Ledger, log zerolog.Logger) error {
	if _, err := l.State(ctx); err == nil {
		return nil
	} else if !errors.Is(err, ledger.ErrNotInitialized) {
		return err
	}
	if cfg.Owner == "" {
		log.Warn().Msg("contract not initialized and ledger.owner is empty; mutations will fail")
		return nil
	}
	return l.Init(ctx, ledger.InitOptions{
		Owner: cfg.Owner,
		Metadata: cert.ContractMetadata{
			Spec:    cert.MetadataSpec,
			Name:    cfg.Name,
			Symbol:  cfg.Symbol,
			Icon:    cfg.Icon,
			BaseURI: cfg.BaseURI,
		},
		CanTransfer:   cfg.CanTransfer,
		CanInvalidate: cfg.CanInvalidate,
		TrashAccount:  cfg.TrashAccount,
		Issuers:       cfg.Issuers,
	})
}

// queueRef lets the ledger enqueue payouts to a dispatcher built after it.
type queueRef struct{ d *payout.Dispatcher }

func (q *queueRef) Enqueue(p ledger.Payout) {
	if q.d != nil {
		q.d.Enqueue(p)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	obs.InitLogger(cfg.Log.Level, cfg.Log.Console)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	if cfg.Auth.Secret != "" {
		auth.SetSecret(cfg.Auth.Secret)
	}
	log := obs.Component("certd")

	st := stream.New()
	queue := &queueRef{}
	n, err := openNode(ctx, cfg, ledger.WithSinks(st), ledger.WithPayoutQueue(queue))
	if err != nil {
		return err
	}
	defer n.Close()

	if err := bootstrap(ctx, n.ledger, cfg.Ledger, log); err != nil {
		return fmt.Errorf("bootstrap contract: %w", err)
	}

	dispatcher := payout.NewDispatcher(n.ledger, n.bank,
		payout.WithWorkers(cfg.Payout.Workers), payout.WithQueueSize(cfg.Payout.QueueSize))
	queue.d = dispatcher
	dispatcher.Start(ctx)
	reconciler := payout.NewReconciler(n.ledger, dispatcher, cfg.Payout.ReconcileInterval, cfg.Payout.Grace)
	if _, err := reconciler.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("initial payout reconciliation")
	}
	go reconciler.Run(ctx)

	probe := httpapi.ReadyProbe{}
	if n.pg != nil {
		probe.DB = n.pg.DB()
	}
	var exp *expiry.Service
	if cfg.Explorer.DSN != "" {
		explorer, err := expiry.OpenExplorer(cfg.Explorer.DSN)
		if err != nil {
			return fmt.Errorf("open explorer: %w", err)
		}
		defer explorer.Close()
		probe.Explorer = explorer
		exp = expiry.New(explorer)
	}

	api := httpapi.New(probe, httpapi.Config{
		Version:       version,
		APIKey:        cfg.Auth.APIKey,
		SignerAccount: cfg.Auth.SignerAccount,
		MintDeposit:   cfg.Mint.Deposit,
		TokenTTL:      cfg.Auth.TokenTTL,
		RateBurst:     cfg.HTTP.RateBurst,
		RatePerSec:    cfg.HTTP.RatePerSec,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
	}, n.ledger, exp, st)

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	query := httpapi.NewGRPCServer(n.ledger, probe)
	query.Register(grpcSrv)
	query.RefreshHealth(ctx)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPC.Addr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Str("version", version).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.GRPC.Addr).Msg("grpc listening")
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				query.RefreshHealth(ctx)
			}
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err = <-errCh:
		log.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	query.Shutdown()
	_ = httpSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	cancelRun()
	dispatcher.Wait()
	log.Info().Msg("stopped")
	return err
}
