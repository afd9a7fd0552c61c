package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/codexd/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	Long: `Serve the orchestrate, list_agents, get_request and list_requests tools
over the MCP stdio transport. Logs go to stderr; stdout carries protocol
messages only.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	srv, err := mcp.NewServer(&mcp.Config{
		Name:     "codexd",
		Version:  version,
		Logger:   a.logger.Named("mcp"),
		Redactor: a.detector,
	}, a.orch)
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}

	a.logger.Info(ctx, "serving mcp over stdio")
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
