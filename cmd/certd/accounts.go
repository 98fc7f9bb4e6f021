package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"certledger.org/internal/bank"
	"certledger.org/internal/config"
	pgstore "certledger.org/internal/store/pg"
)

// openBankStore is replaced in tests with a sqlmock-backed store.
var openBankStore = pgstore.Open

type balanceReport struct {
	Account  string `json:"account"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

type transactionsReport struct {
	Items     []bank.Transaction `json:"items"`
	NextAfter uint64             `json:"next_after"`
}

// accountsCmd manages accounts on the postgres bank, where nothing opens
// them implicitly.
func accountsCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Provision and inspect postgres bank accounts.",
	}
	cmd.AddCommand(
		accountsOpenCmd(load),
		accountsProvisionCmd(load),
		accountsBalanceCmd(load),
		accountsTransactionsCmd(load),
	)
	return cmd
}

func accountsOpenCmd(load loader) *cobra.Command {
	var amount int64
	cmd := &cobra.Command{
		Use:   "open <account>...",
		Short: "Open accounts with an initial balance.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBankStore(cmd, load, func(ctx context.Context, cfg *config.Config, s *pgstore.Store) error {
				out := cmd.OutOrStdout()
				for _, id := range args {
					_, err := s.OpenAccount(ctx, id, bank.Money{Currency: cfg.Ledger.Currency, Amount: amount})
					switch {
					case errors.Is(err, bank.ErrAlreadyExists):
						fmt.Fprintln(out, "exists", id)
					case err != nil:
						return fmt.Errorf("open %s: %w", id, err)
					default:
						fmt.Fprintln(out, "opened", id, amount, cfg.Ledger.Currency)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "initial balance in minor units")
	return cmd
}

func accountsProvisionCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Open every account the ledger configuration names.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBankStore(cmd, load, func(ctx context.Context, cfg *config.Config, s *pgstore.Store) error {
				if err := provisionAccounts(ctx, s, cfg); err != nil {
					return err
				}
				for _, id := range ledgerAccounts(cfg) {
					fmt.Fprintln(cmd.OutOrStdout(), "ready", id)
				}
				return nil
			})
		},
	}
}

func accountsBalanceCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Print an account balance in the ledger currency.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBankStore(cmd, load, func(ctx context.Context, cfg *config.Config, s *pgstore.Store) error {
				m, err := s.GetBalance(ctx, args[0], cfg.Ledger.Currency)
				if err != nil {
					return fmt.Errorf("balance %s: %w", args[0], err)
				}
				return writeReport(cmd, balanceReport{Account: args[0], Currency: m.Currency, Amount: m.Amount})
			})
		},
	}
}

func accountsTransactionsCmd(load loader) *cobra.Command {
	var (
		after uint64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List bank transfers in sequence order.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBankStore(cmd, load, func(ctx context.Context, _ *config.Config, s *pgstore.Store) error {
				items, next, err := s.ListTransactions(ctx, limit, after)
				if err != nil {
					return fmt.Errorf("list transactions: %w", err)
				}
				if items == nil {
					items = []bank.Transaction{}
				}
				if len(items) == 0 {
					next = after
				}
				return writeReport(cmd, transactionsReport{Items: items, NextAfter: next})
			})
		},
	}
	cmd.Flags().Uint64Var(&after, "after", 0, "list transfers after this sequence")
	cmd.Flags().IntVar(&limit, "limit", 100, "page size (1-1000)")
	return cmd
}

func withBankStore(cmd *cobra.Command, load loader, fn func(ctx context.Context, cfg *config.Config, s *pgstore.Store) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	if cfg.Bank.Backend != "postgres" {
		return fmt.Errorf("bank.backend is %q: accounts commands need postgres", cfg.Bank.Backend)
	}
	if cfg.Bank.DSN == "" {
		return errors.New("missing DSN: provide via CERTLEDGER_BANK_DSN")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openBankStore(cfg.Bank.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()
	return fn(ctx, cfg, store)
}

func writeReport(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
