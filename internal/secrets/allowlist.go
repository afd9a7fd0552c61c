package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// Allowlist holds path and content patterns excluded from detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

func (a *Allowlist) empty() bool {
	return a == nil || (len(a.Paths) == 0 && len(a.Regexes) == 0)
}

// LoadAllowlists merges the project allowlist (projectPath/.gitleaks.toml)
// with the user allowlist file. Missing files are skipped; an empty path
// skips that source.
func LoadAllowlists(projectPath, userPath string) (*Allowlist, error) {
	merged := &Allowlist{}
	var files []string
	if projectPath != "" {
		files = append(files, filepath.Join(projectPath, ".gitleaks.toml"))
	}
	if userPath != "" {
		files = append(files, userPath)
	}
	for _, f := range files {
		list, err := loadTOML(f)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		merged.Paths = append(merged.Paths, list.Paths...)
		merged.Regexes = append(merged.Regexes, list.Regexes...)
	}
	return merged, nil
}

func loadTOML(path string) (*Allowlist, error) {
	var file struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	for _, p := range append(append([]string{}, file.Allowlist.Paths...), file.Allowlist.Regexes...) {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, p, path, err)
		}
	}
	return &Allowlist{Paths: file.Allowlist.Paths, Regexes: file.Allowlist.Regexes}, nil
}
