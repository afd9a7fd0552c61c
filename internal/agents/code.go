package agents

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// ChangeType is the kind of edit a CodeChange performs.
type ChangeType string

const (
	ChangeCreate ChangeType = "Create"
	ChangeModify ChangeType = "Modify"
	ChangeDelete ChangeType = "Delete"
	ChangeRename ChangeType = "Rename"
)

// ExistingFile is a file of the target codebase given as context.
type ExistingFile struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
}

// CodeRequest is the input of the code agent.
type CodeRequest struct {
	Prompt        string            `json:"prompt"`
	Context       map[string]string `json:"context,omitempty"`
	Requirements  []string          `json:"requirements,omitempty"`
	ExistingFiles []ExistingFile    `json:"existing_files,omitempty"`
	TargetFiles   []string          `json:"target_files,omitempty"`
}

// CodeChange is a file-level edit.
type CodeChange struct {
	FilePath    string     `json:"file_path"`
	OldContent  string     `json:"old_content"`
	NewContent  string     `json:"new_content"`
	ChangeType  ChangeType `json:"change_type"`
	Explanation string     `json:"explanation"`
	Confidence  float64    `json:"confidence"`
}

// CodeMetadata describes a set of changes.
type CodeMetadata struct {
	Language        string   `json:"language"`
	Framework       string   `json:"framework,omitempty"`
	PatternsUsed    []string `json:"patterns_used"`
	ComplexityScore float64  `json:"complexity_score"`
}

// CodeStream is the output of the code agent.
type CodeStream struct {
	Changes      []CodeChange `json:"changes"`
	Metadata     CodeMetadata `json:"metadata"`
	Dependencies []string     `json:"dependencies"`
	Warnings     []string     `json:"warnings"`
}

// lowConfidence is the threshold under which a change is flagged.
const lowConfidence = 0.7

const (
	codeAnalysisPrompt = `You are a senior software engineer analyzing a codebase. Given existing files and requirements, provide:

1. Current architecture patterns
2. Language/framework conventions
3. Existing dependencies and imports
4. Code style and structure patterns
5. Integration points to consider

Return analysis as a JSON object with patterns, conventions, dependencies,
framework and style_guide.`

	codeChangesPrompt = `You are an expert software engineer implementing new features. Generate precise code changes that:

1. Follow the established patterns and conventions
2. Integrate cleanly with existing code
3. Include proper error handling
4. Are well-documented and testable
5. Follow security best practices

Return a JSON array of changes. Each change has file_path, change_type (Create,
Modify, Delete, Rename), old_content, new_content, explanation and confidence
(0.0-1.0).`
)

type contextAnalysis struct {
	Patterns     []string `json:"patterns"`
	Conventions  []string `json:"conventions"`
	Dependencies []string `json:"dependencies"`
	Framework    string   `json:"framework"`
	StyleGuide   string   `json:"style_guide"`
}

// CodeAgent writes file-level code changes for a feature request.
type CodeAgent struct {
	model ModelClient
}

// NewCodeAgent creates a code agent.
func NewCodeAgent(model ModelClient) (*CodeAgent, error) {
	if model == nil {
		return nil, ErrNilModel
	}
	return &CodeAgent{model: model}, nil
}

// Generate analyzes the codebase context, generates changes and validates them.
func (a *CodeAgent) Generate(ctx context.Context, req CodeRequest) (*CodeStream, error) {
	analysis, err := a.analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	changes, err := a.changes(ctx, req, analysis)
	if err != nil {
		return nil, err
	}

	deps, warnings := validateChanges(changes)
	return &CodeStream{
		Changes:      changes,
		Metadata:     codeMetadata(changes, analysis),
		Dependencies: deps,
		Warnings:     warnings,
	}, nil
}

func (a *CodeAgent) analyze(ctx context.Context, req CodeRequest) (contextAnalysis, error) {
	var files strings.Builder
	for _, f := range req.ExistingFiles {
		fmt.Fprintf(&files, "File: %s\nContent:\n%s\n\n", f.Path, f.Content)
	}
	user := fmt.Sprintf("Analyze this codebase context for implementing:\n\n%s\n\nCodebase:\n%s", req.Prompt, files.String())

	reply, err := a.model.GenerateWithContext(ctx, codeAnalysisPrompt, user)
	if err != nil {
		return contextAnalysis{}, fmt.Errorf("analyzing context: %w", err)
	}

	var analysis contextAnalysis
	if !decodeReply(reply, &analysis) {
		analysis = contextAnalysis{}
	}
	if analysis.Framework == "" {
		analysis.Framework = req.Context["framework"]
	}
	if analysis.Patterns == nil {
		analysis.Patterns = []string{}
	}
	return analysis, nil
}

func (a *CodeAgent) changes(ctx context.Context, req CodeRequest, analysis contextAnalysis) ([]CodeChange, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Implement this feature:\n\n%s\n", req.Prompt)
	if len(req.Requirements) > 0 {
		fmt.Fprintf(&user, "\nRequirements:\n- %s\n", strings.Join(req.Requirements, "\n- "))
	}
	if c := formatContext(req.Context); c != "" {
		fmt.Fprintf(&user, "\nContext:\n%s", c)
	}
	if len(analysis.Patterns) > 0 {
		fmt.Fprintf(&user, "\nPatterns in use: %s\n", strings.Join(analysis.Patterns, ", "))
	}
	if analysis.Framework != "" {
		fmt.Fprintf(&user, "Framework: %s\n", analysis.Framework)
	}
	if len(req.TargetFiles) > 0 {
		fmt.Fprintf(&user, "\nTarget files: %s\n", strings.Join(req.TargetFiles, ", "))
	}

	reply, err := a.model.GenerateWithContext(ctx, codeChangesPrompt, user.String())
	if err != nil {
		return nil, fmt.Errorf("generating changes: %w", err)
	}

	existing := make(map[string]string, len(req.ExistingFiles))
	for _, f := range req.ExistingFiles {
		existing[f.Path] = f.Content
	}

	changes, ok := decodeList[CodeChange](reply, "changes")
	if !ok || len(changes) == 0 {
		changes = fallbackChanges(req, reply)
	}
	for i := range changes {
		c := &changes[i]
		old, exists := existing[c.FilePath]
		if c.OldContent == "" && exists {
			c.OldContent = old
		}
		def := ChangeCreate
		if exists {
			def = ChangeModify
		}
		c.ChangeType = canonical(c.ChangeType, def, ChangeCreate, ChangeModify, ChangeDelete, ChangeRename)
		if c.Confidence < 0 {
			c.Confidence = 0
		}
		if c.Confidence > 1 {
			c.Confidence = 1
		}
	}
	return changes, nil
}

// fallbackChanges writes the raw reply into every target file, or into a
// single notes file when the request names no targets.
func fallbackChanges(req CodeRequest, reply string) []CodeChange {
	content := strings.TrimSpace(reply)
	targets := req.TargetFiles
	if len(targets) == 0 {
		targets = []string{path.Join("changes", slugify(req.Prompt)+".md")}
	}
	changes := make([]CodeChange, 0, len(targets))
	for _, t := range targets {
		changes = append(changes, CodeChange{
			FilePath:    t,
			NewContent:  content,
			Explanation: "Unstructured model output for: " + truncate(req.Prompt, 80),
			Confidence:  0.5,
		})
	}
	return changes
}

var importPatterns = []*regexp.Regexp{
	regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`),
	regexp.MustCompile(`(?m)^\s*import\s+(?:[\w{}*,\s]+\s+from\s+)?['"]([^'"]+)['"]`),
	regexp.MustCompile(`(?m)^\s*from\s+([\w.]+)\s+import\b`),
	regexp.MustCompile(`(?m)^\s*import\s+([\w.]+)\s*$`),
	regexp.MustCompile(`(?m)^\s*(?:import\s+)?(?:\w+\s+)?"([\w.\-]+\.[\w.\-]+/[^"]+)"\s*$`),
}

// validateChanges extracts dependencies and flags risky changes.
func validateChanges(changes []CodeChange) ([]string, []string) {
	deps := []string{}
	warnings := []string{}
	for _, c := range changes {
		if strings.Contains(c.NewContent, "import") || strings.Contains(c.NewContent, "require") {
			for _, d := range extractDependencies(c.NewContent) {
				deps = appendUnique(deps, d)
			}
		}
		if strings.Contains(c.NewContent, "TODO") {
			warnings = append(warnings, fmt.Sprintf("TODO comment found in %s", c.FilePath))
		}
		if c.Confidence < lowConfidence {
			warnings = append(warnings, fmt.Sprintf("Low confidence (%.2f) for changes in %s", c.Confidence, c.FilePath))
		}
	}
	return deps, warnings
}

func extractDependencies(content string) []string {
	var deps []string
	for _, re := range importPatterns {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			dep := m[1]
			if strings.HasPrefix(dep, ".") || strings.HasPrefix(dep, "/") {
				continue
			}
			deps = appendUnique(deps, dep)
		}
	}
	return deps
}

func codeMetadata(changes []CodeChange, analysis contextAnalysis) CodeMetadata {
	language := "unknown"
	for _, c := range changes {
		if l := DetectLanguage(c.FilePath); l != "unknown" {
			language = l
			break
		}
	}
	return CodeMetadata{
		Language:        language,
		Framework:       analysis.Framework,
		PatternsUsed:    analysis.Patterns,
		ComplexityScore: complexityScore(changes),
	}
}

// DetectLanguage maps a file extension to a language name.
func DetectLanguage(filePath string) string {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".js", ".mjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".py":
		return "python"
	case ".rs":
		return "rust"
	case ".go":
		return "go"
	default:
		return "unknown"
	}
}

func complexityScore(changes []CodeChange) float64 {
	total := 0
	for _, c := range changes {
		total += countLines(c.NewContent)
	}
	switch {
	case total <= 50:
		return 0.3
	case total <= 200:
		return 0.5
	case total <= 500:
		return 0.7
	default:
		return 0.9
	}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	if slug == "" {
		return "change"
	}
	return slug
}
