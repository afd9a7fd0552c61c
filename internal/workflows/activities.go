package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/activity"

	"github.com/fyrsmithlabs/codexd/internal/agents"
	"github.com/fyrsmithlabs/codexd/internal/github"
	"github.com/fyrsmithlabs/codexd/internal/ignore"
	"github.com/fyrsmithlabs/codexd/internal/pipeline"
	"github.com/fyrsmithlabs/codexd/internal/service"
)

// GitHub is the part of *github.Client the activities use.
type GitHub interface {
	PullRequestFiles(ctx context.Context, repo github.Repo, number int) ([]github.PullRequestFile, error)
	FileContent(ctx context.Context, repo github.Repo, path, ref string) (string, error)
	UpsertComment(ctx context.Context, repo github.Repo, number int, marker, body string) (int64, error)
	CreateBranch(ctx context.Context, req github.BranchRequest) (*github.Branch, error)
	CreateCommit(ctx context.Context, req github.CommitRequest) (*github.Commit, error)
	CreatePullRequest(ctx context.Context, req github.PullRequestRequest) (*github.PullRequest, error)
}

// Orchestrator runs agent pipelines. *service.Orchestrator implements it.
type Orchestrator interface {
	Process(ctx context.Context, req service.OrchestrationRequest, opts ...service.ProcessOption) *service.OrchestrationResponse
}

const (
	// maxReviewFiles bounds how many files of a pull request are reviewed.
	maxReviewFiles = 50
	// maxReviewFileBytes skips files too large to send to the model.
	maxReviewFileBytes = 100 << 10
	// reviewCommentMarker identifies the summary comment so reruns edit it.
	reviewCommentMarker = "<!-- codexd-review -->"
)

// Activities holds the dependencies of every codexd activity. Register a
// single instance with the worker.
type Activities struct {
	GitHub       GitHub
	Orchestrator Orchestrator
	// Ignore lists pull request files left out of reviews. Nil reviews
	// every file.
	Ignore *ignore.Matcher
}

// FetchPullRequestChanges reads the files of a pull request at in.Ref and
// returns them as code changes for the reviewer.
func (a *Activities) FetchPullRequestChanges(ctx context.Context, in FetchChangesInput) (*PullRequestChanges, error) {
	start := time.Now()
	logger := activity.GetLogger(ctx)

	files, err := a.GitHub.PullRequestFiles(ctx, in.Repo, in.Number)
	if err != nil {
		return nil, failActivity(ctx, "fetch_pull_request_changes", start, activityError("failed to list pull request files", err))
	}

	out := &PullRequestChanges{}
	for _, f := range files {
		if a.Ignore.Match(f.Filename) {
			recordSkipped(ctx, skipIgnored)
			out.Skipped = append(out.Skipped, f.Filename)
			continue
		}
		if len(out.Changes) == maxReviewFiles {
			recordSkipped(ctx, skipTooMany)
			out.Skipped = append(out.Skipped, f.Filename)
			continue
		}
		change := agents.CodeChange{
			FilePath:    f.Filename,
			ChangeType:  changeTypeFor(f.Status),
			Explanation: fmt.Sprintf("+%d -%d", f.Additions, f.Deletions),
		}
		if change.ChangeType != agents.ChangeDelete {
			content, err := a.GitHub.FileContent(ctx, in.Repo, f.Filename, in.Ref)
			if err != nil {
				return nil, failActivity(ctx, "fetch_pull_request_changes", start, activityError("failed to fetch "+f.Filename, err))
			}
			if len(content) > maxReviewFileBytes {
				logger.Warn("Skipping large file", "path", f.Filename, "bytes", len(content))
				recordSkipped(ctx, skipTooLarge)
				out.Skipped = append(out.Skipped, f.Filename)
				continue
			}
			change.NewContent = content
		}
		out.Changes = append(out.Changes, change)
	}

	logger.Info("Fetched pull request changes",
		"repo", in.Repo.String(),
		"pr", in.Number,
		"files", len(out.Changes),
		"skipped", len(out.Skipped))
	recordActivity(ctx, "fetch_pull_request_changes", start, nil)
	return out, nil
}

func changeTypeFor(status string) agents.ChangeType {
	switch status {
	case "added":
		return agents.ChangeCreate
	case "removed":
		return agents.ChangeDelete
	case "renamed":
		return agents.ChangeRename
	}
	return agents.ChangeModify
}

// RunReview runs the Reviewer agent over in.Changes.
func (a *Activities) RunReview(ctx context.Context, in RunReviewInput) (*ReviewOutcome, error) {
	start := time.Now()
	changes, err := json.Marshal(in.Changes)
	if err != nil {
		return nil, invalidInput("failed to encode changes", err)
	}
	opts := map[string]string{pipeline.OptionCodeChanges: string(changes)}
	if len(in.Focus) > 0 {
		opts[pipeline.OptionReviewFocus] = strings.Join(in.Focus, ",")
	}

	resp := a.Orchestrator.Process(ctx, service.OrchestrationRequest{
		Prompt:        in.Prompt,
		AgentSequence: []string{string(pipeline.AgentReviewer)},
		Options:       opts,
	})
	outcome := &ReviewOutcome{RequestID: resp.RequestID}
	if resp.Status.Failed {
		// Rejected by admission or timed out; retrying the same request
		// does not change the answer.
		outcome.Error = resp.Status.Message
		recordActivity(ctx, "run_review", start,
			nonRetryable(errTypeOrchestration, "orchestration failed", errors.New(resp.Status.Message)))
		return outcome, nil
	}

	report := reviewReport(resp)
	if report == nil {
		err := errors.New(stepError(resp, pipeline.AgentReviewer))
		return nil, failActivity(ctx, "run_review", start, WrapActivityError("reviewer produced no report", err))
	}

	outcome.Success = true
	outcome.Verdict = report.OverallApproval
	outcome.Findings = len(report.Findings)
	outcome.Comment = formatReviewComment(report, resp.RequestID)
	reviewVerdictCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", string(report.OverallApproval))))
	recordActivity(ctx, "run_review", start, nil)
	return outcome, nil
}

func reviewReport(resp *service.OrchestrationResponse) *agents.ReviewReport {
	if resp.Result != nil && resp.Result.Type == pipeline.AgentReviewer {
		return resp.Result.Review
	}
	return nil
}

// stepError returns the error message of the failed step of type t.
func stepError(resp *service.OrchestrationResponse, t pipeline.AgentType) string {
	for _, ex := range resp.Executions {
		if ex.AgentType == t && !ex.Success {
			return ex.ErrorMessage
		}
	}
	return fmt.Sprintf("%s step did not run", t)
}

// PostReviewComment posts or updates the review summary on the pull
// request and returns the comment ID.
func (a *Activities) PostReviewComment(ctx context.Context, in PostCommentInput) (int64, error) {
	start := time.Now()
	id, err := a.GitHub.UpsertComment(ctx, in.Repo, in.Number, reviewCommentMarker, in.Body)
	if err != nil {
		return 0, failActivity(ctx, "post_review_comment", start, activityError("failed to post review comment", err))
	}
	recordActivity(ctx, "post_review_comment", start, nil)
	return id, nil
}

// GenerateChanges runs the Spec and Code agents and returns the code
// changes they produced.
func (a *Activities) GenerateChanges(ctx context.Context, in GenerateInput) (*GeneratedChanges, error) {
	start := time.Now()
	resp := a.Orchestrator.Process(ctx, service.OrchestrationRequest{
		Prompt:        in.Prompt,
		Context:       in.Context,
		AgentSequence: []string{string(pipeline.AgentSpec), string(pipeline.AgentCode)},
	})
	if resp.Status.Failed {
		err := errors.New(resp.Status.Message)
		return nil, failActivity(ctx, "generate_changes", start, nonRetryable(errTypeOrchestration, "orchestration failed", err))
	}

	var changes []agents.CodeChange
	msg := stepError(resp, pipeline.AgentCode)
	for _, ex := range resp.Executions {
		if ex.AgentType == pipeline.AgentCode && ex.Success {
			changes = ex.Output.Changes()
			msg = "code agent produced no changes"
		}
	}
	if len(changes) == 0 {
		err := errors.New(msg)
		return nil, failActivity(ctx, "generate_changes", start, WrapActivityError("failed to generate changes", err))
	}

	recordActivity(ctx, "generate_changes", start, nil)
	return &GeneratedChanges{
		RequestID: resp.RequestID,
		Changes:   changes,
		Warnings:  resp.Metadata.Warnings,
	}, nil
}

// CreateBranch creates the branch the changes are committed to.
func (a *Activities) CreateBranch(ctx context.Context, req github.BranchRequest) (*github.Branch, error) {
	start := time.Now()
	branch, err := a.GitHub.CreateBranch(ctx, req)
	if err != nil {
		return nil, failActivity(ctx, "create_branch", start, activityError("failed to create branch "+req.Name, err))
	}
	recordActivity(ctx, "create_branch", start, nil)
	return branch, nil
}

// CommitChanges commits in.Changes as a single commit on in.Branch.
func (a *Activities) CommitChanges(ctx context.Context, in CommitChangesInput) (*github.Commit, error) {
	start := time.Now()
	files, err := fileChanges(in.Changes)
	if err != nil {
		return nil, failActivity(ctx, "commit_changes", start, invalidInput("failed to prepare commit", err))
	}
	commit, err := a.GitHub.CreateCommit(ctx, github.CommitRequest{
		Repo:    in.Repo,
		Branch:  in.Branch,
		Message: in.Message,
		Files:   files,
	})
	if err != nil {
		return nil, failActivity(ctx, "commit_changes", start, activityError("failed to commit changes", err))
	}
	recordActivity(ctx, "commit_changes", start, nil)
	publishedFileCounter.Add(ctx, int64(len(files)))
	return commit, nil
}

// OpenPullRequest opens the pull request for a published branch.
func (a *Activities) OpenPullRequest(ctx context.Context, req github.PullRequestRequest) (*github.PullRequest, error) {
	start := time.Now()
	pr, err := a.GitHub.CreatePullRequest(ctx, req)
	if err != nil {
		return nil, failActivity(ctx, "open_pull_request", start, activityError("failed to open pull request", err))
	}
	recordActivity(ctx, "open_pull_request", start, nil)
	return pr, nil
}
