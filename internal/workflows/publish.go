package workflows

import (
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/codexd/internal/github"
)

// PublishChangesWorkflow turns a prompt into a pull request.
//
// This workflow:
// 1. Generates changes with the Spec and Code agents, unless supplied
// 2. Creates a branch from the base branch
// 3. Commits every change as one commit
// 4. Opens a pull request back into the base branch
func PublishChangesWorkflow(ctx workflow.Context, in PublishInput) (*PublishResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting publish",
		"repo", in.Repo.String(),
		"base", in.Base,
		"branch", in.Branch)

	result := &PublishResult{Branch: in.Branch}
	if err := in.Validate(); err != nil {
		result.Errors = append(result.Errors, FormatErrorForResult("invalid input", err))
		return result, invalidInput("invalid input", err)
	}

	var a *Activities
	ghCtx := workflow.WithActivityOptions(ctx, activityOptions)
	agentCtx := workflow.WithActivityOptions(ctx, agentActivityOptions)

	// Step 1: Generate
	changes := in.Changes
	if len(changes) == 0 {
		var generated GeneratedChanges
		err := workflow.ExecuteActivity(agentCtx, a.GenerateChanges, GenerateInput{
			Prompt:  in.Prompt,
			Context: in.Context,
		}).Get(ctx, &generated)
		if err != nil {
			result.Errors = append(result.Errors, FormatErrorForResult("failed to generate changes", err))
			return result, err
		}
		result.RequestID = generated.RequestID
		result.Errors = append(result.Errors, generated.Warnings...)
		changes = generated.Changes
	}
	result.Files = len(changes)

	// Step 2: Branch
	var branch github.Branch
	err := workflow.ExecuteActivity(ghCtx, a.CreateBranch, github.BranchRequest{
		Repo: in.Repo,
		Name: in.Branch,
		Base: in.Base,
	}).Get(ctx, &branch)
	if err != nil {
		result.Errors = append(result.Errors, FormatErrorForResult("failed to create branch", err))
		return result, err
	}

	// Step 3: Commit
	var commit github.Commit
	err = workflow.ExecuteActivity(ghCtx, a.CommitChanges, CommitChangesInput{
		Repo:    in.Repo,
		Branch:  in.Branch,
		Message: in.Title,
		Changes: changes,
	}).Get(ctx, &commit)
	if err != nil {
		result.Errors = append(result.Errors, FormatErrorForResult("failed to commit changes", err))
		return result, err
	}
	result.CommitSHA = commit.SHA

	// Step 4: Pull request
	var pr github.PullRequest
	err = workflow.ExecuteActivity(ghCtx, a.OpenPullRequest, github.PullRequestRequest{
		Repo:  in.Repo,
		Title: in.Title,
		Body:  formatPullRequestBody(in.Prompt, result.RequestID, changes),
		Head:  in.Branch,
		Base:  in.Base,
		Draft: in.Draft,
	}).Get(ctx, &pr)
	if err != nil {
		result.Errors = append(result.Errors, FormatErrorForResult("failed to open pull request", err))
		return result, err
	}
	result.PullRequest = &pr

	logger.Info("Publish completed", "pr", pr.Number, "commit", commit.SHA)
	return result, nil
}
