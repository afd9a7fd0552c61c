package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/github"
	"github.com/fyrsmithlabs/codexd/internal/ignore"
	"github.com/fyrsmithlabs/codexd/internal/workflows"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for GitHub automation",
	Long: `Run the Temporal worker that executes pull request reviews and publish
runs. Requires github.token and a reachable Temporal server.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	gh, err := github.New(ctx, a.cfg.GitHub,
		github.WithDetector(a.detector),
		github.WithLogger(a.logger.Named("github")))
	if err != nil {
		return fmt.Errorf("creating github client: %w", err)
	}

	c, err := dialTemporal(a.cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()
	a.logger.Info(ctx, "temporal client connected", zap.String("host", a.cfg.Temporal.HostPort))

	queue := a.cfg.Temporal.TaskQueue
	if queue == "" {
		queue = workflows.DefaultTaskQueue
	}
	w := worker.New(c, queue, worker.Options{})
	workflows.Register(w, &workflows.Activities{
		GitHub:       gh,
		Orchestrator: a.orch,
		Ignore:       ignore.Default().With(a.cfg.GitHub.ReviewIgnore...),
	})
	a.logger.Info(ctx, "worker configured", zap.String("task_queue", queue))

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		a.logger.Info(ctx, "worker starting")
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	// Wait for shutdown signal or worker error
	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info(ctx, "shutdown signal received")
	}

	a.logger.Info(ctx, "worker stopped gracefully")
	return nil
}
