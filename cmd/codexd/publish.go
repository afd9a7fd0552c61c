package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/codexd/internal/agents"
	"github.com/fyrsmithlabs/codexd/internal/config"
	"github.com/fyrsmithlabs/codexd/internal/github"
	"github.com/fyrsmithlabs/codexd/internal/workflows"
)

var publishFlags struct {
	repo    string
	base    string
	branch  string
	title   string
	context map[string]string
	changes string
	draft   bool
}

var publishCmd = &cobra.Command{
	Use:   "publish [prompt]",
	Short: "Generate changes and open a pull request",
	Long: `Start a publish workflow and wait for its pull request. The running
"codexd worker" generates the code with the Spec and Code agents, commits it
on a new branch and opens the pull request.

Examples:
  # Generate and publish
  codexd publish --repo acme/api --branch codexd/retries \
    --title "Add retries to the client" "add retries to the http client"

  # Publish changes produced earlier by "codexd run -o json"
  codexd publish --repo acme/api --branch codexd/retries \
    --title "Add retries" --changes changes.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPublish,
}

func init() {
	f := publishCmd.Flags()
	f.StringVar(&publishFlags.repo, "repo", "", "repository as owner/name (required)")
	f.StringVar(&publishFlags.base, "base", "main", "branch the pull request targets")
	f.StringVar(&publishFlags.branch, "branch", "", "branch to create (required)")
	f.StringVar(&publishFlags.title, "title", "", "pull request title and commit message (required)")
	f.StringToStringVar(&publishFlags.context, "context", nil, "request context as key=value")
	f.StringVar(&publishFlags.changes, "changes", "", "JSON file of code changes; skips generation")
	f.BoolVar(&publishFlags.draft, "draft", false, "open the pull request as a draft")
	_ = publishCmd.MarkFlagRequired("repo")
	_ = publishCmd.MarkFlagRequired("branch")
	_ = publishCmd.MarkFlagRequired("title")
}

func runPublish(cmd *cobra.Command, args []string) error {
	repo, err := parseRepo(publishFlags.repo)
	if err != nil {
		return err
	}
	in := workflows.PublishInput{
		Repo:    repo,
		Base:    publishFlags.base,
		Branch:  publishFlags.branch,
		Title:   publishFlags.title,
		Context: publishFlags.context,
		Draft:   publishFlags.draft,
	}
	if len(args) > 0 {
		if in.Prompt, err = readPrompt(args, cmd.InOrStdin()); err != nil {
			return err
		}
	}
	if publishFlags.changes != "" {
		if in.Changes, err = readChanges(publishFlags.changes); err != nil {
			return err
		}
	}
	if err := in.Validate(); err != nil {
		return fmt.Errorf("invalid publish request: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	c, err := dialTemporal(cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := workflows.NewStarter(c, cfg.Temporal.TaskQueue).Publish(cmd.Context(), in)
	if err != nil {
		return err
	}
	return printPublishResult(cmd.OutOrStdout(), res)
}

func parseRepo(s string) (github.Repo, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return github.Repo{}, fmt.Errorf("repository must be owner/name, got %q", s)
	}
	return github.Repo{Owner: owner, Name: name}, nil
}

// readChanges accepts a bare list of changes or a full orchestration
// response, in which case the Code step's changes are used.
func readChanges(path string) ([]agents.CodeChange, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening changes: %w", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading changes: %w", err)
	}

	var list []agents.CodeChange
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var resp struct {
		Executions []struct {
			AgentType string `json:"agent_type"`
			Success   bool   `json:"success"`
			Output    struct {
				Changes []agents.CodeChange `json:"changes"`
			} `json:"output"`
		} `json:"executions"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding changes: %w", err)
	}
	for _, ex := range resp.Executions {
		if ex.AgentType == "Code" && ex.Success {
			list = ex.Output.Changes
		}
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%s holds no code changes", path)
	}
	return list, nil
}

func printPublishResult(w io.Writer, res *workflows.PublishResult) error {
	if res.RequestID != "" {
		fmt.Fprintf(w, "Request:  %s\n", res.RequestID)
	}
	fmt.Fprintf(w, "Branch:   %s\n", res.Branch)
	if res.CommitSHA != "" {
		fmt.Fprintf(w, "Commit:   %s (%d files)\n", shortSHA(res.CommitSHA), res.Files)
	}
	if res.PullRequest != nil {
		fmt.Fprintf(w, "Pull:     #%d %s\n", res.PullRequest.Number, res.PullRequest.HTMLURL)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "Error:    %s\n", e)
	}
	if res.PullRequest == nil {
		return fmt.Errorf("no pull request opened")
	}
	return nil
}
