// Package ignore decides which repository files are left out of reviews.
//
// Patterns use gitignore syntax, including negation. Matching is delegated
// to go-git's gitignore implementation.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// FileName is the per-repository ignore file.
const FileName = ".codexdignore"

// DefaultPatterns skip vendored, generated and lock files.
var DefaultPatterns = []string{
	"vendor/",
	"node_modules/",
	"dist/",
	"*.lock",
	"go.sum",
	"package-lock.json",
	"*.min.js",
	"*.min.css",
	"*.pb.go",
	"*_generated.go",
	"*.svg",
	"*.png",
	"*.jpg",
	"*.gif",
}

// Matcher reports whether a slash-separated repository path is ignored.
// The zero value ignores nothing.
type Matcher struct {
	patterns []string
	m        gitignore.Matcher
}

// New compiles patterns. Blank lines and comments are skipped; later
// patterns override earlier ones.
func New(patterns ...string) *Matcher {
	var kept []string
	var ps []gitignore.Pattern
	seen := make(map[string]bool, len(patterns))
	for _, line := range patterns {
		p := parseLine(line)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		kept = append(kept, p)
		ps = append(ps, gitignore.ParsePattern(p, nil))
	}
	return &Matcher{patterns: kept, m: gitignore.NewMatcher(ps)}
}

// Default returns a matcher over DefaultPatterns.
func Default() *Matcher {
	return New(DefaultPatterns...)
}

// With returns a matcher with extra patterns appended.
func (m *Matcher) With(patterns ...string) *Matcher {
	if m == nil {
		return New(patterns...)
	}
	return New(append(append([]string(nil), m.patterns...), patterns...)...)
}

// Patterns returns the compiled patterns in order.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}

// Match reports whether path is ignored. A trailing slash marks a
// directory.
func (m *Matcher) Match(path string) bool {
	if m == nil || m.m == nil {
		return false
	}
	path = strings.TrimPrefix(filepath.ToSlash(path), "/")
	isDir := strings.HasSuffix(path, "/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return false
	}
	return m.m.Match(strings.Split(path, "/"), isDir)
}

// Parse reads gitignore-style lines from r.
func Parse(r io.Reader) ([]string, error) {
	var patterns []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if p := parseLine(scanner.Text()); p != "" {
			patterns = append(patterns, p)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore patterns: %w", err)
	}
	return patterns, nil
}

// Load returns the defaults extended with the FileName found in root, if
// any.
func Load(root string) (*Matcher, error) {
	f, err := os.Open(filepath.Join(root, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	patterns, err := Parse(f)
	if err != nil {
		return nil, err
	}
	return Default().With(patterns...), nil
}

// parseLine trims a gitignore line. Returns empty string for comments and
// blank lines.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t\r")
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	return line
}
