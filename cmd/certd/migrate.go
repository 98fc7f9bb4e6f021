package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"certledger.org/internal/migrate"
	pgstore "certledger.org/internal/store/pg"
)

// migrateCmd applies the embedded bank schema to bank.dsn.
func migrateCmd(load loader) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Manage the postgres bank schema.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if dsn == "" {
				dsn = cfg.Bank.DSN
			}
			if dsn == "" {
				return errors.New("missing DSN: provide via --dsn or CERTLEDGER_BANK_DSN")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			store, err := pgstore.Open(dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer store.Close()

			mgr := migrate.NewManager(store.DB(), pgstore.Migrations, "migrations")
			out := cmd.OutOrStdout()
			switch args[0] {
			case "up":
				applied, err := mgr.Up(ctx)
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				for _, name := range applied {
					fmt.Fprintln(out, "applied", name)
				}
			case "down":
				name, err := mgr.Down(ctx)
				if err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				fmt.Fprintln(out, "reverted", name)
			case "status":
				history, err := mgr.Status(ctx)
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				for _, item := range history {
					fmt.Fprintln(out, item)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (defaults to bank.dsn)")
	return cmd
}
