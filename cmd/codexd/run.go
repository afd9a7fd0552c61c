package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/agents"
	"github.com/fyrsmithlabs/codexd/internal/monitor"
	"github.com/fyrsmithlabs/codexd/internal/pipeline"
	"github.com/fyrsmithlabs/codexd/internal/service"
	"github.com/fyrsmithlabs/codexd/internal/workspace"
)

var runFlags struct {
	agents  []string
	context map[string]string
	options map[string]string
	watch   bool
	output  string
	apply   string
	branch  string
	message string
}

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run one pipeline from the terminal",
	Long: `Run one orchestration request in-process and print the response.

Examples:
  # Default sequence (Spec, Code, Reviewer, TestGenerator)
  codexd run "add retries to the http client"

  # Pick agents and pass context
  codexd run --agents spec,code --context language=go "parse RFC 3339 dates"

  # Watch progress live, then commit the generated code on a new branch
  codexd run --watch --apply . --branch codexd/dates "parse RFC 3339 dates"

  # Read the prompt from stdin
  echo "explain this panic" | codexd run --agents debug -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVar(&runFlags.agents, "agents", nil, "agents to run, in order (default: spec,code,reviewer,test)")
	f.StringToStringVar(&runFlags.context, "context", nil, "request context as key=value")
	f.StringToStringVar(&runFlags.options, "option", nil, "request options as key=value")
	f.BoolVar(&runFlags.watch, "watch", false, "show live progress in the terminal")
	f.StringVarP(&runFlags.output, "output", "o", "text", "output format: text or json")
	f.StringVar(&runFlags.apply, "apply", "", "commit the generated code into the git repository at this path")
	f.StringVar(&runFlags.branch, "branch", "", "branch to create for --apply (default: current branch)")
	f.StringVar(&runFlags.message, "message", "", "commit message for --apply (default: the prompt)")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runFlags.output != "text" && runFlags.output != "json" {
		return fmt.Errorf("unknown output format %q", runFlags.output)
	}
	prompt, err := readPrompt(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	req := service.OrchestrationRequest{
		Prompt:        prompt,
		Context:       runFlags.context,
		AgentSequence: agentSequence(runFlags.agents),
		Options:       runFlags.options,
	}

	var resp *service.OrchestrationResponse
	if runFlags.watch {
		resp, err = watchRun(ctx, a.orch, req)
		if err != nil {
			return err
		}
	} else {
		resp = a.orch.Process(ctx, req)
	}

	a.logger.Debug(ctx, "run finished",
		zap.String("request_id", resp.RequestID),
		zap.String("status", resp.Status.Label()),
		zap.Int("agents_executed", resp.Metadata.AgentsExecuted))

	out := cmd.OutOrStdout()
	if err := printResponse(out, resp, runFlags.output); err != nil {
		return err
	}
	if resp.Status.Failed {
		return fmt.Errorf("run %s failed: %s", resp.RequestID, resp.Status.Message)
	}

	if runFlags.apply != "" {
		msg := runFlags.message
		if msg == "" {
			msg = commitMessage(prompt)
		}
		res, err := workspace.Apply(ctx, workspace.ApplyRequest{
			RepoPath: runFlags.apply,
			Branch:   runFlags.branch,
			Message:  msg,
			Author:   workspace.DefaultAuthor,
			Changes:  codeChanges(resp),
		})
		if err != nil {
			return fmt.Errorf("applying changes: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Committed %d file(s) to %s at %s\n", len(res.Files), res.Branch, shortSHA(res.Commit))
	}
	return nil
}

// watchRun subscribes before the run starts so the view sees every event.
// Quitting the view cancels the run.
func watchRun(ctx context.Context, orch *service.Orchestrator, req service.OrchestrationRequest) (*service.OrchestrationResponse, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := service.NewRequestID()
	ch, unsubscribe, err := orch.Subscribe(runCtx, id)
	if err != nil {
		return nil, fmt.Errorf("subscribing to run events: %w", err)
	}
	defer unsubscribe()

	done := make(chan *service.OrchestrationResponse, 1)
	go func() {
		done <- orch.Process(runCtx, req, service.WithRequestID(id))
	}()

	final, err := monitor.Watch(runCtx, id, ch, tea.WithOutput(os.Stderr))
	if err != nil {
		cancel()
		<-done
		return nil, err
	}
	if final == nil {
		cancel()
	}
	return <-done, nil
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) == 0 {
		return "", errors.New("a prompt is required (use - to read it from stdin)")
	}
	if args[0] != "-" {
		return args[0], nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading prompt from stdin: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// agentSequence maps the CLI's short agent names onto agent types. Names
// the pipeline already understands pass through.
func agentSequence(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	ids := make(map[string]pipeline.AgentType)
	for _, info := range service.Agents() {
		ids[info.ID] = info.Type
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if t, ok := ids[strings.ToLower(n)]; ok {
			out = append(out, string(t))
			continue
		}
		out = append(out, n)
	}
	return out
}

// codeChanges returns the changes of the last successful Code step.
func codeChanges(resp *service.OrchestrationResponse) []agents.CodeChange {
	var changes []agents.CodeChange
	for _, ex := range resp.Executions {
		if ex.AgentType == pipeline.AgentCode && ex.Success {
			changes = ex.Output.Changes()
		}
	}
	return changes
}

func commitMessage(prompt string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(prompt), "\n")
	if len(first) > 72 {
		first = first[:69] + "..."
	}
	return first
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func printResponse(w io.Writer, resp *service.OrchestrationResponse, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprintf(w, "Request %s: %s\n", resp.RequestID, resp.Status)
	for _, ex := range resp.Executions {
		state := "ok"
		if !ex.Success {
			state = "failed"
		}
		fmt.Fprintf(w, "  %-14s %6s  %s", ex.AgentType, monitor.FormatElapsed(ex.ExecutionTimeMs), state)
		if ex.ErrorMessage != "" {
			fmt.Fprintf(w, ": %s", ex.ErrorMessage)
		}
		fmt.Fprintln(w)
	}
	for _, warning := range resp.Metadata.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
	if len(resp.Executions) > 0 {
		fmt.Fprintf(w, "Success rate: %s over %s\n",
			monitor.FormatSuccessRate(resp.Metadata.SuccessRate),
			monitor.FormatElapsed(resp.Metadata.DurationMs))
	}
	return nil
}
