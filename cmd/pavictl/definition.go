package main

import (
	"fmt"

	"github.com/kiranshivaraju/pavi/internal/config"
	"github.com/kiranshivaraju/pavi/internal/pipeline"
	"github.com/spf13/cobra"
)

func newDefinitionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definition",
		Short: "Print the pipeline as an Amazon States Language document",
		Long: `Render the pipeline definition the API server runs as Amazon States
Language JSON, ready to deploy as a Step Functions state machine.

Examples:
  # Use PAVI_WORK_BUCKET from the environment
  pavictl definition > state-machine.json

  # Render for an explicit bucket with a shorter timeout
  pavictl definition --work-bucket agr-pavi-pipeline-dev --timeout 15m`,
		Args: cobra.NoArgs,
		RunE: runDefinition,
	}
	cmd.Flags().String("work-bucket", "", "Bucket holding execution work and results (default PAVI_WORK_BUCKET)")
	cmd.Flags().Duration("timeout", 0, "Whole-execution timeout (default PIPELINE_EXECUTION_TIMEOUT)")
	cmd.Flags().Int("concurrency", 0, "Maximum sequence retrievals in flight (default PIPELINE_RETRIEVAL_CONCURRENCY)")
	return cmd
}

func runDefinition(cmd *cobra.Command, _ []string) error {
	bucket, _ := cmd.Flags().GetString("work-bucket")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	if bucket == "" || timeout == 0 || concurrency == 0 {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if bucket == "" {
			bucket = cfg.Pipeline.WorkBucket
		}
		if timeout == 0 {
			timeout = cfg.Pipeline.ExecutionTimeout
		}
		if concurrency == 0 {
			concurrency = cfg.Pipeline.RetrievalConcurrency
		}
	}

	doc, err := pipeline.Default().Tuned(timeout, concurrency).StatesLanguage(bucket)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(doc))
	return nil
}
