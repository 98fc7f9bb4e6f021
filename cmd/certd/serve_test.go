package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certledger.org/internal/config"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CERTLEDGER_LEDGER_CONTRACT_ACCOUNT", "certs.near")
	t.Setenv("CERTLEDGER_LEDGER_OWNER", "owner.near")
	t.Setenv("CERTLEDGER_LEDGER_ISSUERS", "owner.near,alice.near")
	t.Setenv("CERTLEDGER_BANK_DEV_FUNDS", "1000000")
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBootstrapInitializesOnce(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)

	n, err := openNode(ctx, cfg)
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, bootstrap(ctx, n.ledger, cfg.Ledger, zerolog.Nop()))
	owner, err := n.ledger.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, "owner.near", owner)

	issuers, err := n.ledger.Issuers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"owner.near", "alice.near"}, issuers)

	// A second start finds the contract and leaves it alone.
	require.NoError(t, bootstrap(ctx, n.ledger, cfg.Ledger, zerolog.Nop()))
}

func TestInitCheckReportsState(t *testing.T) {
	memoryConfig(t)

	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"init-check", "--bootstrap"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	var rep initReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.True(t, rep.Initialized)
	assert.Equal(t, "certs.near", rep.ContractAccount)
	assert.Positive(t, rep.MaxWithdrawal)
	assert.Positive(t, rep.StorageUsage)
}

func TestInitCheckFailsWhenUninitialized(t *testing.T) {
	memoryConfig(t)

	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"init-check"})
	assert.Error(t, root.ExecuteContext(context.Background()))
}

func TestUniqueAccounts(t *testing.T) {
	assert.Equal(t, []string{"a.near", "b.near"}, uniqueAccounts("a.near", "", "b.near", "a.near"))
}
