// Package workflows provides Temporal workflow definitions for codexd
// automation against GitHub.
//
// This file contains the inputs and results shared by workflows and
// activities.
package workflows

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/codexd/internal/agents"
	"github.com/fyrsmithlabs/codexd/internal/github"
)

// Pull request review types

// ReviewInput starts a review of one pull request.
type ReviewInput struct {
	Repo    github.Repo // Repository the pull request lives in
	Number  int         // Pull request number
	Title   string      // Pull request title, used as the review prompt
	HeadSHA string      // Commit the review reads file contents at
	Focus   []string    // Optional review focus areas
}

// Validate checks that all required fields are set.
func (in *ReviewInput) Validate() error {
	if in.Repo.Owner == "" || in.Repo.Name == "" {
		return errors.New("Repo is required")
	}
	if in.Number <= 0 {
		return errors.New("Number must be positive")
	}
	if in.HeadSHA == "" {
		return errors.New("HeadSHA is required")
	}
	return nil
}

// FetchChangesInput is the input of FetchPullRequestChanges.
type FetchChangesInput struct {
	Repo   github.Repo
	Number int
	Ref    string
}

// PullRequestChanges is the output of FetchPullRequestChanges.
type PullRequestChanges struct {
	Changes []agents.CodeChange
	// Skipped lists files left out of the review.
	Skipped []string
}

// RunReviewInput is the input of RunReview.
type RunReviewInput struct {
	Prompt  string
	Changes []agents.CodeChange
	Focus   []string
}

// ReviewOutcome is what RunReview extracts from an orchestration.
type ReviewOutcome struct {
	RequestID string
	Success   bool
	Error     string
	Verdict   agents.ApprovalStatus
	Findings  int
	// Comment is the markdown body posted back to the pull request.
	Comment string
}

// PostCommentInput is the input of PostReviewComment.
type PostCommentInput struct {
	Repo   github.Repo
	Number int
	Body   string
}

// ReviewResult is the result of PullRequestReviewWorkflow.
type ReviewResult struct {
	RequestID     string                // Orchestration request ID
	FilesReviewed int                   // Number of files handed to the reviewer
	Verdict       agents.ApprovalStatus // Overall approval, empty when the review failed
	Findings      int                   // Number of findings reported
	CommentPosted bool                  // Whether the summary comment was posted
	CommentID     int64                 // ID of the posted comment
	Errors        []string              // Any errors encountered
}

// Publish types

// PublishInput starts a run that turns a prompt (or a ready set of
// changes) into a pull request.
type PublishInput struct {
	Repo    github.Repo
	Base    string            // Branch the pull request targets
	Branch  string            // Branch created for the changes
	Title   string            // Pull request title and commit message
	Prompt  string            // Prompt for the Spec and Code agents
	Context map[string]string // Request context passed to the agents
	// Changes skips generation when set.
	Changes []agents.CodeChange
	Draft   bool
}

// Validate checks that all required fields are set.
func (in *PublishInput) Validate() error {
	if in.Repo.Owner == "" || in.Repo.Name == "" {
		return errors.New("Repo is required")
	}
	if in.Base == "" {
		return errors.New("Base is required")
	}
	if in.Branch == "" {
		return errors.New("Branch is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return errors.New("Title is required")
	}
	if len(in.Changes) == 0 && strings.TrimSpace(in.Prompt) == "" {
		return errors.New("Prompt or Changes is required")
	}
	return nil
}

// GenerateInput is the input of GenerateChanges.
type GenerateInput struct {
	Prompt  string
	Context map[string]string
}

// GeneratedChanges is the output of GenerateChanges.
type GeneratedChanges struct {
	RequestID string
	Changes   []agents.CodeChange
	Warnings  []string
}

// CommitChangesInput is the input of CommitChanges.
type CommitChangesInput struct {
	Repo    github.Repo
	Branch  string
	Message string
	Changes []agents.CodeChange
}

// PublishResult is the result of PublishChangesWorkflow.
type PublishResult struct {
	RequestID   string // Orchestration request ID, empty when changes were supplied
	Branch      string
	CommitSHA   string
	Files       int
	PullRequest *github.PullRequest
	Errors      []string
}

// fileChanges converts agent changes into commit file changes. Renames
// write the new content at FilePath.
func fileChanges(changes []agents.CodeChange) ([]github.FileChange, error) {
	out := make([]github.FileChange, 0, len(changes))
	seen := make(map[string]bool, len(changes))
	for _, c := range changes {
		if c.FilePath == "" {
			return nil, errors.New("change has no file path")
		}
		if seen[c.FilePath] {
			return nil, fmt.Errorf("duplicate change for %s", c.FilePath)
		}
		seen[c.FilePath] = true
		if c.ChangeType == agents.ChangeDelete {
			out = append(out, github.FileChange{Path: c.FilePath, Delete: true})
			continue
		}
		out = append(out, github.FileChange{Path: c.FilePath, Content: c.NewContent})
	}
	return out, nil
}
