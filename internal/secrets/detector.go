package secrets

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// ErrSecretsDetected is returned by Check when content contains secrets.
var ErrSecretsDetected = errors.New("secrets detected")

// Config configures detection.
type Config struct {
	// Enabled turns detection on (default: true)
	Enabled bool `koanf:"enabled"`

	// ProjectPath is the directory holding .gitleaks.toml
	ProjectPath string `koanf:"project_path"`

	// UserAllowlist is the path of the user allowlist TOML file
	UserAllowlist string `koanf:"user_allowlist"`
}

// Finding is a detected secret.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
	match       string
}

// Result is the outcome of a redaction.
type Result struct {
	Content  string
	Findings []Finding
}

// Redacted reports whether anything was replaced.
func (r Result) Redacted() bool {
	return len(r.Findings) > 0
}

// RuleCounts returns the number of findings per rule.
func (r Result) RuleCounts() map[string]int {
	counts := make(map[string]int, len(r.Findings))
	for _, f := range r.Findings {
		counts[f.RuleID]++
	}
	return counts
}

// Detector wraps a Gitleaks detector configured with the merged allowlists.
// It is safe for concurrent use.
type Detector struct {
	enabled  bool
	mu       sync.Mutex
	detector *detect.Detector
}

// NewDetector builds a detector with the default Gitleaks rules.
func NewDetector(cfg Config) (*Detector, error) {
	if !cfg.Enabled {
		return &Detector{}, nil
	}
	allowlist, err := LoadAllowlists(cfg.ProjectPath, cfg.UserAllowlist)
	if err != nil {
		return nil, fmt.Errorf("loading allowlists: %w", err)
	}
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	if !allowlist.empty() {
		applyAllowlist(&d.Config, allowlist)
	}
	return &Detector{enabled: true, detector: d}, nil
}

// Enabled reports whether detection is active.
func (d *Detector) Enabled() bool {
	return d != nil && d.enabled
}

// Detect scans content for secrets.
func (d *Detector) Detect(content string) []Finding {
	if !d.Enabled() || content == "" {
		return nil
	}
	d.mu.Lock()
	found := d.detector.DetectString(content)
	d.mu.Unlock()

	out := make([]Finding, 0, len(found))
	for _, f := range found {
		if f.Secret == "" {
			continue
		}
		out = append(out, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			match:       f.Secret,
		})
	}
	return out
}

// Redact replaces every detected secret with a [REDACTED:rule-id] marker.
func (d *Detector) Redact(content string) Result {
	findings := d.Detect(content)
	if len(findings) == 0 {
		return Result{Content: content}
	}

	// Replace longer secrets first so a secret that contains another is
	// not split by the shorter one's marker.
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].match) > len(sorted[j].match)
	})
	redacted := content
	for _, f := range sorted {
		redacted = strings.ReplaceAll(redacted, f.match, "[REDACTED:"+f.RuleID+"]")
	}
	return Result{Content: redacted, Findings: findings}
}

// Check returns an error wrapping ErrSecretsDetected when content holds
// secrets. label names the content in the error message.
func (d *Detector) Check(label, content string) error {
	findings := d.Detect(content)
	if len(findings) == 0 {
		return nil
	}
	rules := make([]string, 0, len(findings))
	for _, f := range findings {
		rules = append(rules, f.RuleID)
	}
	return fmt.Errorf("%w in %s: %s", ErrSecretsDetected, label, strings.Join(rules, ", "))
}

// applyAllowlist appends the merged allowlist to the Gitleaks config.
// Patterns were validated by LoadAllowlists.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "codexd project/user allowlist",
	}
	for _, p := range allowlist.Paths {
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(regexp.MustCompile(p)))
	}
	for _, p := range allowlist.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(p)))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}
