package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/pavi/internal/api/handler"
	"github.com/kiranshivaraju/pavi/internal/backend"
	"github.com/kiranshivaraju/pavi/internal/backend/stepfunctions"
	"github.com/kiranshivaraju/pavi/internal/config"
	"github.com/kiranshivaraju/pavi/internal/jobs"
	"github.com/kiranshivaraju/pavi/internal/objectstore"
	"github.com/kiranshivaraju/pavi/internal/pipeline"
	"github.com/kiranshivaraju/pavi/internal/store"
	"github.com/spf13/cobra"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect pipeline jobs",
	}
	cmd.AddCommand(newJobGetCmd())
	return cmd
}

func newJobGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Print a job record as JSON",
		Long: `Print the stored job record. With --sync the job is first reconciled with
its execution, exactly as GET /api/pipeline-job/{id} does.`,
		Args: cobra.ExactArgs(1),
		RunE: runJobGet,
	}
	cmd.Flags().Bool("sync", false, "Reconcile with the execution backend before printing")
	return cmd
}

func runJobGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sync, _ := cmd.Flags().GetBool("sync")

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", args[0], err)
	}

	cfg, st, awsCfg, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	orch, err := newOrchestrator(cfg, awsCfg, st)
	if err != nil {
		return err
	}

	get := orch.Get
	if sync {
		get = orch.GetWithSync
	}
	job, err := get(ctx, id)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(handler.NewJobView(job))
}

// newOrchestrator builds the same backend stack the API server uses, minus
// the HTTP surface and caches.
func newOrchestrator(cfg *config.Config, awsCfg aws.Config, st store.Store) (*jobs.Orchestrator, error) {
	objects := objectstore.NewMux().Handle("file", objectstore.NewFileStore())
	if cfg.UsesAWS() {
		objects.Handle("s3", objectstore.NewS3Store(
			objectstore.NewS3Client(awsCfg, cfg.AWS.S3Endpoint, cfg.AWS.S3PathStyle)))
	}

	deps := backend.Dependencies{
		Objects:    objects,
		Definition: pipeline.Default().Tuned(cfg.Pipeline.ExecutionTimeout, cfg.Pipeline.RetrievalConcurrency),
		Logger:     slog.Default(),
	}
	if cfg.UsesStepFunctions() {
		deps.StepFunctions = stepfunctions.NewClient(awsCfg, cfg.Pipeline.StepFunctionsURL)
	}
	be, err := backend.NewBackend(cfg.Pipeline, deps)
	if err != nil {
		return nil, fmt.Errorf("create execution backend: %w", err)
	}

	return jobs.NewOrchestrator(st, be, objects,
		jobs.WithRetention(cfg.Store.Retention),
		jobs.WithLogger(slog.Default()),
	), nil
}
