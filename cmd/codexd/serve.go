package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/config"
	"github.com/fyrsmithlabs/codexd/internal/events"
	codexhttp "github.com/fyrsmithlabs/codexd/internal/http"
	"github.com/fyrsmithlabs/codexd/internal/workflows"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the codexd HTTP API.

When temporal.enabled is set, pull request webhooks start review workflows
on the configured task queue; run "codexd worker" to execute them.

Examples:
  # Start with the default configuration
  codexd serve

  # Listen on another port
  CODEXD_SERVER_PORT=9090 codexd serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	opts := codexhttp.Options{
		Orchestrator:  a.orch,
		Config:        a.cfg.Server,
		Logger:        a.logger.Named("http"),
		Gatherer:      a.registry,
		WebhookSecret: a.cfg.GitHub.WebhookSecret,
		Version:       version,
		Checks: map[string]codexhttp.Check{
			"history": a.history.Ping,
		},
	}
	if nb, ok := a.external.(*events.NATS); ok {
		// Runs started by other processes are only visible on the broker.
		opts.Events = nb
		opts.Checks["events"] = func(context.Context) error {
			if !nb.Connected() {
				return errors.New("nats disconnected")
			}
			return nil
		}
	}

	if a.cfg.Temporal.Enabled {
		c, err := dialTemporal(a.cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()
		opts.Reviews = workflows.NewStarter(c, a.cfg.Temporal.TaskQueue)
		opts.Checks["temporal"] = func(ctx context.Context) error {
			_, err := c.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		}
		a.logger.Info(ctx, "temporal client connected",
			zap.String("host", a.cfg.Temporal.HostPort),
			zap.String("task_queue", a.cfg.Temporal.TaskQueue))
	}

	srv, err := codexhttp.NewServer(opts)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	a.logger.Info(ctx, "starting codexd",
		zap.String("addr", a.cfg.Server.Addr()),
		zap.String("version", version),
		zap.Bool("webhooks", opts.Reviews != nil))

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	a.logger.Info(ctx, "server shutdown complete")
	return nil
}

func dialTemporal(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}
