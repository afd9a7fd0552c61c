package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Task queue used when none is configured.
const DefaultTaskQueue = "codexd"

// activityOptions is shared by the GitHub activities.
var activityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 2 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		MaximumAttempts: 3,
	},
}

// agentActivityOptions allows for model latency. Orchestration timeouts
// bound the run itself.
var agentActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 15 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		MaximumAttempts: 2,
	},
}

// ReviewWorkflowID names the review run of one pull request head, so
// duplicate webhook deliveries start a single run.
func ReviewWorkflowID(in ReviewInput) string {
	return fmt.Sprintf("codexd-review-%s-%s-%d-%s", in.Repo.Owner, in.Repo.Name, in.Number, in.HeadSHA)
}

// PullRequestReviewWorkflow reviews a pull request with the Reviewer agent.
//
// This workflow:
// 1. Fetches the changed files at the head commit
// 2. Runs the Reviewer over them through the orchestrator
// 3. Posts (or updates) a summary comment on the pull request
func PullRequestReviewWorkflow(ctx workflow.Context, in ReviewInput) (*ReviewResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting pull request review",
		"repo", in.Repo.String(),
		"pr", in.Number,
		"sha", in.HeadSHA)

	result := &ReviewResult{}
	if err := in.Validate(); err != nil {
		result.Errors = append(result.Errors, FormatErrorForResult("invalid input", err))
		return result, invalidInput("invalid input", err)
	}

	var a *Activities
	ghCtx := workflow.WithActivityOptions(ctx, activityOptions)
	agentCtx := workflow.WithActivityOptions(ctx, agentActivityOptions)

	// Step 1: Fetch changes
	var changes PullRequestChanges
	err := workflow.ExecuteActivity(ghCtx, a.FetchPullRequestChanges, FetchChangesInput{
		Repo:   in.Repo,
		Number: in.Number,
		Ref:    in.HeadSHA,
	}).Get(ctx, &changes)
	if err != nil {
		result.Errors = append(result.Errors, FormatErrorForResult("failed to fetch pull request changes", err))
		return result, err
	}
	for _, path := range changes.Skipped {
		result.Errors = append(result.Errors, fmt.Sprintf("skipped %s", path))
	}
	result.FilesReviewed = len(changes.Changes)
	if len(changes.Changes) == 0 {
		logger.Info("Nothing to review")
		return result, nil
	}

	// Step 2: Review
	prompt := fmt.Sprintf("Review pull request #%d: %s", in.Number, in.Title)
	var outcome ReviewOutcome
	err = workflow.ExecuteActivity(agentCtx, a.RunReview, RunReviewInput{
		Prompt:  prompt,
		Changes: changes.Changes,
		Focus:   in.Focus,
	}).Get(ctx, &outcome)
	if err != nil {
		result.Errors = append(result.Errors, FormatErrorForResult("failed to run review", err))
		return result, err
	}
	result.RequestID = outcome.RequestID
	if !outcome.Success {
		logger.Warn("Review did not complete", "request_id", outcome.RequestID, "error", outcome.Error)
		result.Errors = append(result.Errors, fmt.Sprintf("review failed: %s", outcome.Error))
		return result, nil
	}
	result.Verdict = outcome.Verdict
	result.Findings = outcome.Findings

	// Step 3: Comment. A failure here is recorded but does not fail the run.
	var commentID int64
	err = workflow.ExecuteActivity(ghCtx, a.PostReviewComment, PostCommentInput{
		Repo:   in.Repo,
		Number: in.Number,
		Body:   outcome.Comment,
	}).Get(ctx, &commentID)
	if err != nil {
		logger.Error("Failed to post review comment", "error", err)
		result.Errors = append(result.Errors, FormatErrorForResult("failed to post review comment", err))
	} else {
		result.CommentPosted = true
		result.CommentID = commentID
	}

	logger.Info("Pull request review completed",
		"verdict", result.Verdict,
		"findings", result.Findings,
		"comment_posted", result.CommentPosted)
	return result, nil
}
