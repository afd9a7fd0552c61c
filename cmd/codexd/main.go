// Codexd runs multi-agent code generation pipelines.
//
// The same binary serves the HTTP API, speaks MCP over stdio, runs the
// Temporal worker for GitHub automation and drives single runs from the
// terminal.
//
// Usage:
//
//	# Start the HTTP API
//	codexd serve
//
//	# Run one pipeline and watch it
//	codexd run --watch "add a rate limiter to the client"
//
//	# Serve MCP tools over stdio
//	codexd mcp
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath points at a codexd.yaml. Empty uses the default location.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "codexd",
	Short: "Multi-agent code generation pipelines",
	Long: `codexd chains specification, code, review, test and debug agents into
a pipeline and exposes it over HTTP, MCP and the command line.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to codexd.yaml")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		printVersion(cmd)
	},
}

// printVersion prints version information
func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "codexd by Fyrsmith Labs\n")
	fmt.Fprintf(out, "Version:    %s\n", version)
	fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(out, "Build Date: %s\n", buildDate)
}
