package github

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v57/github"
)

// PullRequestRequest opens a pull request from Head into Base.
type PullRequestRequest struct {
	Repo  Repo   `json:"repo"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Draft bool   `json:"draft"`
}

// PullRequest is an opened pull request.
type PullRequest struct {
	Number  int    `json:"number"`
	URL     string `json:"url"`
	HTMLURL string `json:"html_url"`
	Draft   bool   `json:"draft"`
	State   string `json:"state"`
}

// PullRequestFile is one file touched by a pull request.
type PullRequestFile struct {
	Filename         string `json:"filename"`
	PreviousFilename string `json:"previous_filename,omitempty"`
	Status           string `json:"status"`
	Additions        int    `json:"additions"`
	Deletions        int    `json:"deletions"`
	Patch            string `json:"patch,omitempty"`
}

// maxListPages bounds pagination of pull request files.
const maxListPages = 30

// CreatePullRequest opens a pull request.
func (c *Client) CreatePullRequest(ctx context.Context, req PullRequestRequest) (*PullRequest, error) {
	if err := req.Repo.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, errors.New("pull request title is required")
	}
	if err := validBranch(req.Head); err != nil {
		return nil, err
	}
	if err := validBranch(req.Base); err != nil {
		return nil, err
	}

	var pr *gh.PullRequest
	err := c.do(ctx, "create pull request", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		pr, resp, err = c.gh.PullRequests.Create(ctx, req.Repo.Owner, req.Repo.Name, &gh.NewPullRequest{
			Title: gh.String(req.Title),
			Body:  gh.String(req.Body),
			Head:  gh.String(req.Head),
			Base:  gh.String(req.Base),
			Draft: gh.Bool(req.Draft),
		})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return &PullRequest{
		Number:  pr.GetNumber(),
		URL:     pr.GetURL(),
		HTMLURL: pr.GetHTMLURL(),
		Draft:   pr.GetDraft(),
		State:   pr.GetState(),
	}, nil
}

// PullRequestFiles lists every file of pull request number.
func (c *Client) PullRequestFiles(ctx context.Context, repo Repo, number int) ([]PullRequestFile, error) {
	if err := repo.validate(); err != nil {
		return nil, err
	}
	if number <= 0 {
		return nil, fmt.Errorf("invalid pull request number %d", number)
	}

	var out []PullRequestFile
	opts := &gh.ListOptions{PerPage: 100}
	for page := 0; page < maxListPages; page++ {
		var files []*gh.CommitFile
		var next int
		err := c.do(ctx, "list pull request files", func() (*gh.Response, error) {
			var resp *gh.Response
			var err error
			files, resp, err = c.gh.PullRequests.ListFiles(ctx, repo.Owner, repo.Name, number, opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			out = append(out, PullRequestFile{
				Filename:         f.GetFilename(),
				PreviousFilename: f.GetPreviousFilename(),
				Status:           f.GetStatus(),
				Additions:        f.GetAdditions(),
				Deletions:        f.GetDeletions(),
				Patch:            f.GetPatch(),
			})
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return out, nil
}

// FileContent returns the decoded content of filePath at ref.
func (c *Client) FileContent(ctx context.Context, repo Repo, filePath, ref string) (string, error) {
	if err := repo.validate(); err != nil {
		return "", err
	}
	if err := validPath(filePath); err != nil {
		return "", err
	}

	var file *gh.RepositoryContent
	err := c.do(ctx, "get file content", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		file, _, resp, err = c.gh.Repositories.GetContents(ctx, repo.Owner, repo.Name, filePath,
			&gh.RepositoryContentGetOptions{Ref: ref})
		return resp, err
	})
	if err != nil {
		return "", err
	}
	if file == nil {
		return "", fmt.Errorf("%s is a directory", filePath)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", filePath, err)
	}
	return content, nil
}

// CommentOnPullRequest posts body as a conversation comment and returns its
// ID.
func (c *Client) CommentOnPullRequest(ctx context.Context, repo Repo, number int, body string) (int64, error) {
	if err := repo.validate(); err != nil {
		return 0, err
	}
	if number <= 0 {
		return 0, fmt.Errorf("invalid pull request number %d", number)
	}

	var comment *gh.IssueComment
	err := c.do(ctx, "create comment", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		comment, resp, err = c.gh.Issues.CreateComment(ctx, repo.Owner, repo.Name, number, &gh.IssueComment{
			Body: gh.String(body),
		})
		return resp, err
	})
	if err != nil {
		return 0, err
	}
	return comment.GetID(), nil
}

// UpsertComment edits the first conversation comment containing marker, or
// posts body as a new comment when none does. body should contain marker so
// later calls find it. It returns the comment ID.
func (c *Client) UpsertComment(ctx context.Context, repo Repo, number int, marker, body string) (int64, error) {
	if err := repo.validate(); err != nil {
		return 0, err
	}
	if number <= 0 {
		return 0, fmt.Errorf("invalid pull request number %d", number)
	}
	if marker == "" {
		return c.CommentOnPullRequest(ctx, repo, number, body)
	}

	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	var existing *gh.IssueComment
	for page := 0; page < maxListPages && existing == nil; page++ {
		var comments []*gh.IssueComment
		var next int
		err := c.do(ctx, "list comments", func() (*gh.Response, error) {
			var resp *gh.Response
			var err error
			comments, resp, err = c.gh.Issues.ListComments(ctx, repo.Owner, repo.Name, number, opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return 0, err
		}
		for _, cm := range comments {
			if strings.Contains(cm.GetBody(), marker) {
				existing = cm
				break
			}
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	if existing == nil {
		return c.CommentOnPullRequest(ctx, repo, number, body)
	}

	err := c.do(ctx, "edit comment", func() (*gh.Response, error) {
		_, resp, err := c.gh.Issues.EditComment(ctx, repo.Owner, repo.Name, existing.GetID(), &gh.IssueComment{
			Body: gh.String(body),
		})
		return resp, err
	})
	if err != nil {
		return 0, err
	}
	return existing.GetID(), nil
}
