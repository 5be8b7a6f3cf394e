package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/kiranshivaraju/pavi/internal/config"
	"github.com/kiranshivaraju/pavi/internal/store"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pavictl",
		Short: "Operate the pavi pipeline job service",
		Long: `pavictl talks to the same job store and execution backend as the API
server. It reads the server's environment variables (PAVI_ENVIRONMENT,
JOB_STORE, EXECUTION_BACKEND, ...).`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newDefinitionCmd(),
		newMigrateCmd(),
		newJobCmd(),
		newPurgeExpiredCmd(),
	)
	return root
}

// openStore loads configuration and connects the configured job store.
func openStore(ctx context.Context) (*config.Config, store.Store, aws.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, aws.Config{}, fmt.Errorf("load config: %w", err)
	}

	var awsCfg aws.Config
	if cfg.UsesAWS() {
		awsCfg, err = config.LoadAWS(ctx, cfg.AWS)
		if err != nil {
			return nil, nil, aws.Config{}, fmt.Errorf("load aws config: %w", err)
		}
	}

	st, err := store.Open(ctx, cfg, awsCfg)
	if err != nil {
		return nil, nil, aws.Config{}, err
	}
	return cfg, st, awsCfg, nil
}
