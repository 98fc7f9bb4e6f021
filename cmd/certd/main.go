package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"certledger.org/internal/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "certd",
		Short:         "Certification ledger node.",
		Long:          `certd issues, invalidates and serves certifications recorded on a metered key/value ledger.`,
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv(config.EnvPrefix+"_CONFIG"), "config file (yaml, toml or json)")

	load := func() (*config.Config, error) {
		return config.Load(configFile)
	}
	root.AddCommand(serveCmd(load), initCheckCmd(load), migrateCmd(load), accountsCmd(load))
	return root
}
