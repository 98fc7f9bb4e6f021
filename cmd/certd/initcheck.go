package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"certledger.org/internal/ledger"
	"certledger.org/internal/obs"
)

type initReport struct {
	Initialized     bool          `json:"initialized"`
	State           *ledger.State `json:"state,omitempty"`
	Issuers         []string      `json:"issuers,omitempty"`
	TotalSupply     int           `json:"total_supply"`
	StorageUsage    int64         `json:"storage_usage"`
	MaxWithdrawal   int64         `json:"max_withdrawal"`
	PendingPayouts  int           `json:"pending_payouts"`
	ContractAccount string        `json:"contract_account"`
}

// initCheckCmd reports the contract state without serving. With --bootstrap
// it also creates the contract from the configured ledger section.
func initCheckCmd(load loader) *cobra.Command {
	var doBootstrap bool
	cmd := &cobra.Command{
		Use:   "init-check",
		Short: "Report whether the contract is initialized and funded.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			obs.InitLogger(cfg.Log.Level, cfg.Log.Console)
			ctx := cmd.Context()

			n, err := openNode(ctx, cfg)
			if err != nil {
				return err
			}
			defer n.Close()

			if doBootstrap {
				if err := bootstrap(ctx, n.ledger, cfg.Ledger, obs.Component("certd")); err != nil {
					return fmt.Errorf("bootstrap contract: %w", err)
				}
			}

			rep := initReport{
				ContractAccount: cfg.Ledger.ContractAccount,
				StorageUsage:    n.ledger.StorageUsage(),
			}
			st, err := n.ledger.State(ctx)
			switch {
			case errors.Is(err, ledger.ErrNotInitialized):
			case err != nil:
				return err
			default:
				rep.Initialized = true
				rep.State = &st
				if rep.Issuers, err = n.ledger.Issuers(ctx); err != nil {
					return err
				}
				if rep.TotalSupply, err = n.ledger.TotalSupply(ctx); err != nil {
					return err
				}
				if rep.MaxWithdrawal, err = n.ledger.MaxWithdrawal(ctx); err != nil {
					return err
				}
				pending, err := n.ledger.PendingPayouts(ctx)
				if err != nil {
					return err
				}
				rep.PendingPayouts = len(pending)
			}

			if err := writeReport(cmd, rep); err != nil {
				return err
			}
			if !rep.Initialized {
				return errors.New("contract not initialized")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&doBootstrap, "bootstrap", false, "initialize the contract from config when missing")
	return cmd
}
