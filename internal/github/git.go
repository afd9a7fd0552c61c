package github

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	gh "github.com/google/go-github/v57/github"
)

// BranchRequest creates Name from the tip of Base.
type BranchRequest struct {
	Repo Repo   `json:"repo"`
	Name string `json:"name"`
	Base string `json:"base"`
}

// Branch is a created branch.
type Branch struct {
	Name string `json:"name"`
	Ref  string `json:"ref"`
	SHA  string `json:"sha"`
}

// FileChange is one file in a commit. Delete removes Path; otherwise Path is
// written with Content.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Delete  bool   `json:"delete,omitempty"`
}

// CommitRequest commits Files on top of Branch and advances it.
type CommitRequest struct {
	Repo    Repo         `json:"repo"`
	Branch  string       `json:"branch"`
	Message string       `json:"message"`
	Files   []FileChange `json:"files"`
}

// Commit is a created commit.
type Commit struct {
	SHA     string `json:"sha"`
	TreeSHA string `json:"tree_sha"`
	URL     string `json:"url"`
}

// CreateBranch creates refs/heads/{Name} pointing at the head of Base.
func (c *Client) CreateBranch(ctx context.Context, req BranchRequest) (*Branch, error) {
	if err := req.Repo.validate(); err != nil {
		return nil, err
	}
	if err := validBranch(req.Name); err != nil {
		return nil, err
	}
	if err := validBranch(req.Base); err != nil {
		return nil, err
	}
	owner, repo := req.Repo.Owner, req.Repo.Name

	var base *gh.Reference
	err := c.do(ctx, "get base ref", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		base, resp, err = c.gh.Git.GetRef(ctx, owner, repo, "heads/"+req.Base)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	sha := base.GetObject().GetSHA()

	var created *gh.Reference
	err = c.do(ctx, "create ref", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		created, resp, err = c.gh.Git.CreateRef(ctx, owner, repo, &gh.Reference{
			Ref:    gh.String("refs/heads/" + req.Name),
			Object: &gh.GitObject{SHA: gh.String(sha)},
		})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return &Branch{Name: req.Name, Ref: created.GetRef(), SHA: created.GetObject().GetSHA()}, nil
}

// CreateCommit writes one blob per file, builds a tree on the branch head's
// tree, commits it with the head as parent and moves the branch to the new
// commit. Content that the secret detector flags is never uploaded.
func (c *Client) CreateCommit(ctx context.Context, req CommitRequest) (*Commit, error) {
	if err := req.Repo.validate(); err != nil {
		return nil, err
	}
	if err := validBranch(req.Branch); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("commit message is required")
	}
	if len(req.Files) == 0 {
		return nil, errors.New("commit has no files")
	}
	for _, f := range req.Files {
		if err := validPath(f.Path); err != nil {
			return nil, err
		}
		if !f.Delete {
			if err := c.detector.Check(f.Path, f.Content); err != nil {
				return nil, fmt.Errorf("refusing to commit: %w", err)
			}
		}
	}
	owner, repo := req.Repo.Owner, req.Repo.Name

	var head *gh.Reference
	err := c.do(ctx, "get branch ref", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		head, resp, err = c.gh.Git.GetRef(ctx, owner, repo, "heads/"+req.Branch)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	parentSHA := head.GetObject().GetSHA()

	var parent *gh.Commit
	err = c.do(ctx, "get parent commit", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		parent, resp, err = c.gh.Git.GetCommit(ctx, owner, repo, parentSHA)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	entries := make([]*gh.TreeEntry, 0, len(req.Files))
	for _, f := range req.Files {
		entry := &gh.TreeEntry{
			Path: gh.String(f.Path),
			Mode: gh.String("100644"),
			Type: gh.String("blob"),
		}
		if !f.Delete {
			var blob *gh.Blob
			err := c.do(ctx, "create blob", func() (*gh.Response, error) {
				var resp *gh.Response
				var err error
				blob, resp, err = c.gh.Git.CreateBlob(ctx, owner, repo, &gh.Blob{
					Content:  gh.String(f.Content),
					Encoding: gh.String("utf-8"),
				})
				return resp, err
			})
			if err != nil {
				return nil, fmt.Errorf("uploading %s: %w", f.Path, err)
			}
			entry.SHA = blob.SHA
		}
		entries = append(entries, entry)
	}

	var tree *gh.Tree
	err = c.do(ctx, "create tree", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		tree, resp, err = c.gh.Git.CreateTree(ctx, owner, repo, parent.GetTree().GetSHA(), entries)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	commit := new(gh.Commit)
	err = c.do(ctx, "create commit", func() (*gh.Response, error) {
		httpReq, err := c.gh.NewRequest("POST", fmt.Sprintf("repos/%s/%s/git/commits", owner, repo), &createCommitBody{
			Message: req.Message,
			Tree:    tree.GetSHA(),
			Parents: []string{parentSHA},
		})
		if err != nil {
			return nil, err
		}
		return c.gh.Do(ctx, httpReq, commit)
	})
	if err != nil {
		return nil, err
	}

	err = c.do(ctx, "update ref", func() (*gh.Response, error) {
		_, resp, err := c.gh.Git.UpdateRef(ctx, owner, repo, &gh.Reference{
			Ref:    gh.String("refs/heads/" + req.Branch),
			Object: &gh.GitObject{SHA: commit.SHA},
		}, false)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return &Commit{SHA: commit.GetSHA(), TreeSHA: tree.GetSHA(), URL: commit.GetHTMLURL()}, nil
}

type createCommitBody struct {
	Message string   `json:"message"`
	Tree    string   `json:"tree"`
	Parents []string `json:"parents"`
}

func validBranch(name string) error {
	if name == "" || strings.HasPrefix(name, "-") || strings.Contains(name, "..") ||
		strings.ContainsAny(name, " ~^:?*[\\") || strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("invalid branch name %q", name)
	}
	return nil
}

func validPath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") || path.Clean(p) != p || p == ".." || strings.HasPrefix(p, "../") {
		return fmt.Errorf("invalid file path %q", p)
	}
	return nil
}
