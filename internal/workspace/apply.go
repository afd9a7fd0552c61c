// Package workspace applies Code agent changes to a local git repository.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/fyrsmithlabs/codexd/internal/agents"
)

var (
	// ErrNoChanges is returned when applying the changes leaves the worktree
	// clean.
	ErrNoChanges = errors.New("changes produce no difference")

	// ErrOutsideRepo is returned for change paths that escape the worktree.
	ErrOutsideRepo = errors.New("path escapes repository")
)

// Author signs the commit.
type Author struct {
	Name  string
	Email string
}

// DefaultAuthor is used when a request names no author.
var DefaultAuthor = Author{Name: "codexd", Email: "codexd@localhost"}

// ApplyRequest describes one apply.
type ApplyRequest struct {
	RepoPath string
	// Branch is created from HEAD and checked out. Empty commits on the
	// current branch.
	Branch  string
	Message string
	Author  Author
	Changes []agents.CodeChange
}

// ApplyResult reports the commit made.
type ApplyResult struct {
	Branch string   `json:"branch"`
	Commit string   `json:"commit"`
	Files  []string `json:"files"`
}

// Apply writes req.Changes into the worktree, stages them and commits.
// Create, Modify and Rename write NewContent at FilePath; Delete removes
// FilePath.
func Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	if len(req.Changes) == 0 {
		return nil, errors.New("no changes to apply")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("commit message is required")
	}
	root, err := filepath.Abs(req.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving repository path: %w", err)
	}
	paths := make([]string, len(req.Changes))
	for i, c := range req.Changes {
		if paths[i], err = relPath(root, c.FilePath); err != nil {
			return nil, err
		}
	}

	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", root, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}

	branch := head.Name().Short()
	if req.Branch != "" {
		ref := plumbing.NewBranchReferenceName(req.Branch)
		if err := ref.Validate(); err != nil {
			return nil, fmt.Errorf("invalid branch %q: %w", req.Branch, err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Branch: ref, Hash: head.Hash(), Create: true}); err != nil {
			return nil, fmt.Errorf("creating branch %s: %w", req.Branch, err)
		}
		branch = req.Branch
	}

	for i, c := range req.Changes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := applyChange(wt, root, paths[i], c); err != nil {
			return nil, fmt.Errorf("%s %s: %w", c.ChangeType, c.FilePath, err)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}
	if status.IsClean() {
		return nil, ErrNoChanges
	}

	author := req.Author
	if author.Name == "" {
		author = DefaultAuthor
	}
	hash, err := wt.Commit(req.Message, &git.CommitOptions{
		Author: &object.Signature{Name: author.Name, Email: author.Email, When: time.Now()},
	})
	if err != nil {
		return nil, fmt.Errorf("committing: %w", err)
	}
	return &ApplyResult{Branch: branch, Commit: hash.String(), Files: paths}, nil
}

func applyChange(wt *git.Worktree, root, rel string, c agents.CodeChange) error {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if c.ChangeType == agents.ChangeDelete {
		if _, err := wt.Remove(rel); err != nil {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(abs, []byte(c.NewContent), 0o644); err != nil {
		return err
	}
	_, err := wt.Add(rel)
	return err
}

// relPath returns p relative to root in slash form, rejecting paths that
// leave root or point into .git.
func relPath(root, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("change has no file path")
	}
	abs := filepath.Join(root, filepath.FromSlash(p))
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRepo, p)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRepo, p)
	}
	return rel, nil
}
