package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPurgeExpiredCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-expired",
		Short: "Delete job records past their retention",
		Long: `Physically remove job records whose expiry has passed. Expired records are
already invisible to the API; this reclaims their storage.

DynamoDB and Redis expire records natively, so purge-expired reports 0 for them.
Run it periodically (for example from cron) when JOB_STORE is postgres.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, st, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.PurgeExpired(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("purge expired jobs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired jobs\n", n)
			return nil
		},
	}
}
