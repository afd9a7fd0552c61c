package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// ReviewFocus narrows which review passes run.
type ReviewFocus string

const (
	FocusSecurity        ReviewFocus = "Security"
	FocusPerformance     ReviewFocus = "Performance"
	FocusMaintainability ReviewFocus = "Maintainability"
	FocusTesting         ReviewFocus = "Testing"
	FocusDocumentation   ReviewFocus = "Documentation"
	FocusBestPractices   ReviewFocus = "BestPractices"
	FocusArchitecture    ReviewFocus = "Architecture"
)

// ParseReviewFocus maps a name onto a focus value, ignoring case.
func ParseReviewFocus(name string) (ReviewFocus, bool) {
	f := canonical(ReviewFocus(name), "", FocusSecurity, FocusPerformance, FocusMaintainability,
		FocusTesting, FocusDocumentation, FocusBestPractices, FocusArchitecture)
	return f, f != ""
}

// Severity ranks a review finding.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
	SeverityInfo     Severity = "Info"
)

// ReviewCategory classifies a review finding.
type ReviewCategory string

const (
	ReviewSecurity      ReviewCategory = "Security"
	ReviewPerformance   ReviewCategory = "Performance"
	ReviewBug           ReviewCategory = "Bug"
	ReviewCodeSmell     ReviewCategory = "CodeSmell"
	ReviewBestPractice  ReviewCategory = "BestPractice"
	ReviewDocumentation ReviewCategory = "Documentation"
	ReviewArchitecture  ReviewCategory = "Architecture"
	ReviewTesting       ReviewCategory = "Testing"
)

// ApprovalStatus is the overall verdict of a review.
type ApprovalStatus string

const (
	Approved             ApprovalStatus = "Approved"
	ApprovedWithComments ApprovalStatus = "ApprovedWithComments"
	RequiresChanges      ApprovalStatus = "RequiresChanges"
	Rejected             ApprovalStatus = "Rejected"
)

// ReviewRequest is the input of the reviewer.
type ReviewRequest struct {
	Prompt       string            `json:"prompt,omitempty"`
	CodeChanges  []CodeChange      `json:"code_changes,omitempty"`
	Requirements []string          `json:"requirements,omitempty"`
	Context      map[string]string `json:"context,omitempty"`
	ReviewFocus  []ReviewFocus     `json:"review_focus,omitempty"`
}

func (r ReviewRequest) focuses(f ReviewFocus) bool {
	for _, v := range r.ReviewFocus {
		if v == f {
			return true
		}
	}
	return false
}

// ReviewFinding is a single issue found in a change.
type ReviewFinding struct {
	ID          string         `json:"id"`
	FilePath    string         `json:"file_path"`
	LineStart   int            `json:"line_start,omitempty"`
	LineEnd     int            `json:"line_end,omitempty"`
	Severity    Severity       `json:"severity"`
	Category    ReviewCategory `json:"category"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Suggestion  string         `json:"suggestion,omitempty"`
	Examples    []string       `json:"examples"`
}

// AnnotatedDiff is the diff of one change with findings attached.
type AnnotatedDiff struct {
	FilePath     string     `json:"file_path"`
	Hunks        []DiffHunk `json:"hunks"`
	OverallScore float64    `json:"overall_score"`
	Summary      string     `json:"summary"`
}

// ReviewSummary aggregates findings into scores.
type ReviewSummary struct {
	TotalFindings        int            `json:"total_findings"`
	FindingsBySeverity   map[string]int `json:"findings_by_severity"`
	FindingsByCategory   map[string]int `json:"findings_by_category"`
	CodeQualityScore     float64        `json:"code_quality_score"`
	SecurityScore        float64        `json:"security_score"`
	MaintainabilityScore float64        `json:"maintainability_score"`
}

// ReviewReport is the output of the reviewer.
type ReviewReport struct {
	Findings        []ReviewFinding `json:"findings"`
	AnnotatedDiffs  []AnnotatedDiff `json:"annotated_diffs"`
	Summary         ReviewSummary   `json:"summary"`
	Recommendations []string        `json:"recommendations"`
	OverallApproval ApprovalStatus  `json:"overall_approval"`
}

const (
	securityReviewPrompt = `You are a cybersecurity expert reviewing code for security vulnerabilities. Look for:
1. Injection vulnerabilities (SQL, XSS, etc.)
2. Authentication/authorization issues
3. Cryptographic weaknesses
4. Input validation problems
5. Information disclosure
6. Insecure direct object references

Return a JSON array of findings with line_start, line_end, severity, category,
title, description, suggestion and examples.`

	performanceReviewPrompt = `You are a performance engineering expert. Identify performance issues:
1. Inefficient algorithms (N+1 queries, nested loops)
2. Memory leaks or excessive allocations
3. Blocking I/O in async contexts
4. Missing caching opportunities
5. Database query optimization opportunities

Return a JSON array of findings with line_start, line_end, severity, category,
title, description, suggestion and examples.`

	qualityReviewPrompt = `You are a senior software engineer conducting code quality review. Evaluate:
1. Code readability and maintainability
2. Proper error handling
3. Consistent formatting and style
4. Appropriate abstraction levels
5. Clear naming and documentation

Compare old vs new content and return a JSON array of findings with line_start,
line_end, severity, category, title, description, suggestion and examples.`

	bestPracticesReviewPrompt = `You are reviewing code for best practices violations:
1. SOLID principles adherence
2. Design pattern misuse
3. Anti-patterns (god objects, spaghetti code)
4. Missing error handling patterns
5. Inconsistent coding standards

Focus on maintainability and future-proofing. Return a JSON array of findings
with line_start, line_end, severity, category, title, description, suggestion
and examples.`
)

// ReviewerAgent reviews code changes and produces annotated diffs.
type ReviewerAgent struct {
	model ModelClient
}

// NewReviewerAgent creates a reviewer.
func NewReviewerAgent(model ModelClient) (*ReviewerAgent, error) {
	if model == nil {
		return nil, ErrNilModel
	}
	return &ReviewerAgent{model: model}, nil
}

// reviewPass is one kind of review run against a change.
type reviewPass struct {
	prefix   string
	system   string
	category ReviewCategory
	user     func(CodeChange) string
	rules    []reviewRule
}

var (
	securityPass = reviewPass{
		prefix:   "SEC",
		system:   securityReviewPrompt,
		category: ReviewSecurity,
		user:     func(c CodeChange) string { return "Review this code for security issues:\n\n" + c.NewContent },
		rules:    securityRules,
	}
	performancePass = reviewPass{
		prefix:   "PERF",
		system:   performanceReviewPrompt,
		category: ReviewPerformance,
		user:     func(c CodeChange) string { return "Review this code for performance issues:\n\n" + c.NewContent },
		rules:    performanceRules,
	}
	qualityPass = reviewPass{
		prefix:   "QUAL",
		system:   qualityReviewPrompt,
		category: ReviewCodeSmell,
		user: func(c CodeChange) string {
			return fmt.Sprintf("Review code quality for file: %s\n\nOld content:\n%s\n\nNew content:\n%s", c.FilePath, c.OldContent, c.NewContent)
		},
		rules: qualityRules,
	}
	bestPracticesPass = reviewPass{
		prefix:   "BP",
		system:   bestPracticesReviewPrompt,
		category: ReviewBestPractice,
		user:     func(c CodeChange) string { return "Review this code for best practices:\n\n" + c.NewContent },
		rules:    bestPracticeRules,
	}
)

// Review runs every applicable pass over every change and grades the result.
func (a *ReviewerAgent) Review(ctx context.Context, req ReviewRequest) (*ReviewReport, error) {
	counters := map[string]int{}
	findings := []ReviewFinding{}
	for _, change := range req.CodeChanges {
		passes := make([]reviewPass, 0, 4)
		if req.focuses(FocusSecurity) {
			passes = append(passes, securityPass)
		}
		if req.focuses(FocusPerformance) {
			passes = append(passes, performancePass)
		}
		passes = append(passes, qualityPass, bestPracticesPass)

		for _, p := range passes {
			found, err := a.runPass(ctx, p, change)
			if err != nil {
				return nil, err
			}
			for _, f := range found {
				counters[p.prefix]++
				f.ID = fmt.Sprintf("%s-%03d", p.prefix, counters[p.prefix])
				findings = append(findings, f)
			}
		}
	}

	summary := reviewSummary(findings)
	return &ReviewReport{
		Findings:        findings,
		AnnotatedDiffs:  annotatedDiffs(req.CodeChanges, findings),
		Summary:         summary,
		Recommendations: reviewRecommendations(findings),
		OverallApproval: approvalFor(findings, summary),
	}, nil
}

func (a *ReviewerAgent) runPass(ctx context.Context, p reviewPass, change CodeChange) ([]ReviewFinding, error) {
	reply, err := a.model.GenerateWithContext(ctx, p.system, p.user(change))
	if err != nil {
		return nil, fmt.Errorf("%s review of %s: %w", strings.ToLower(p.prefix), change.FilePath, err)
	}

	findings, ok := decodeList[ReviewFinding](reply, "findings")
	if !ok {
		findings = applyRules(p.rules, change.NewContent)
	}
	for i := range findings {
		f := &findings[i]
		f.FilePath = change.FilePath
		f.Severity = canonical(f.Severity, SeverityMedium,
			SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo)
		f.Category = canonical(f.Category, p.category,
			ReviewSecurity, ReviewPerformance, ReviewBug, ReviewCodeSmell,
			ReviewBestPractice, ReviewDocumentation, ReviewArchitecture, ReviewTesting)
		if f.LineEnd < f.LineStart {
			f.LineEnd = f.LineStart
		}
		if f.Examples == nil {
			f.Examples = []string{}
		}
	}
	return findings, nil
}

// reviewRule is a static check used when the model returns no findings.
type reviewRule struct {
	pattern     *regexp.Regexp
	severity    Severity
	category    ReviewCategory
	title       string
	description string
	suggestion  string
}

var (
	securityRules = []reviewRule{
		{
			pattern:  regexp.MustCompile(`(?i)(select|insert|update|delete)\s[^"'` + "`" + `]*["'` + "`" + `]\s*\+`),
			severity: SeverityHigh, category: ReviewSecurity,
			title:       "Potential SQL injection",
			description: "User input is concatenated into a SQL query",
			suggestion:  "Use parameterized queries or prepared statements",
		},
		{
			pattern:  regexp.MustCompile(`(?i)(password|secret|api_?key|token)\s*[:=]\s*["'][^"']{4,}["']`),
			severity: SeverityCritical, category: ReviewSecurity,
			title:       "Hardcoded credential",
			description: "A credential literal is embedded in source code",
			suggestion:  "Load credentials from configuration or a secret store",
		},
		{
			pattern:  regexp.MustCompile(`\beval\s*\(`),
			severity: SeverityHigh, category: ReviewSecurity,
			title:       "Dynamic code evaluation",
			description: "eval executes arbitrary code",
			suggestion:  "Replace eval with explicit parsing",
		},
		{
			pattern:  regexp.MustCompile(`\.innerHTML\s*=`),
			severity: SeverityMedium, category: ReviewSecurity,
			title:       "Unescaped HTML assignment",
			description: "Assigning innerHTML from dynamic data allows XSS",
			suggestion:  "Use textContent or a sanitizing template",
		},
	}
	performanceRules = []reviewRule{
		{
			pattern:  regexp.MustCompile(`(?i)select\s+\*\s+from`),
			severity: SeverityLow, category: ReviewPerformance,
			title:       "Unbounded column selection",
			description: "SELECT * fetches every column",
			suggestion:  "Select only the columns that are used",
		},
		{
			pattern:  regexp.MustCompile(`(?i)\b(readFileSync|writeFileSync|execSync)\b`),
			severity: SeverityMedium, category: ReviewPerformance,
			title:       "Blocking I/O",
			description: "Synchronous I/O blocks the event loop",
			suggestion:  "Use the asynchronous variant",
		},
		{
			pattern:  regexp.MustCompile(`\btime\.Sleep\(|\bThread\.sleep\(|\bsleep\(`),
			severity: SeverityLow, category: ReviewPerformance,
			title:       "Sleep in code path",
			description: "Fixed sleeps add latency",
			suggestion:  "Wait on the event or use a timer with cancellation",
		},
	}
	qualityRules = []reviewRule{
		{
			pattern:  regexp.MustCompile(`(?m)^.{121,}$`),
			severity: SeverityInfo, category: ReviewCodeSmell,
			title:       "Long line",
			description: "Line exceeds 120 characters",
			suggestion:  "Wrap the expression",
		},
		{
			pattern:  regexp.MustCompile(`\b(TODO|FIXME|XXX)\b`),
			severity: SeverityInfo, category: ReviewDocumentation,
			title:       "Unresolved marker",
			description: "The change leaves a TODO or FIXME behind",
			suggestion:  "Resolve the marker or track it in an issue",
		},
		{
			pattern:  regexp.MustCompile(`(?m)^(\s{24,}|\t{6,})\S`),
			severity: SeverityLow, category: ReviewCodeSmell,
			title:       "Deep nesting",
			description: "Code is nested six or more levels deep",
			suggestion:  "Extract helper functions or return early",
		},
	}
	bestPracticeRules = []reviewRule{
		{
			pattern:  regexp.MustCompile(`catch\s*(\([^)]*\))?\s*\{\s*\}`),
			severity: SeverityMedium, category: ReviewBestPractice,
			title:       "Swallowed error",
			description: "An exception handler discards the error",
			suggestion:  "Handle or propagate the error",
		},
		{
			pattern:  regexp.MustCompile(`(?m)^\s*_\s*=\s*\w+\(.*\)\s*$|except\s*:\s*pass`),
			severity: SeverityMedium, category: ReviewBestPractice,
			title:       "Ignored error",
			description: "A returned error is dropped",
			suggestion:  "Check the error",
		},
		{
			pattern:  regexp.MustCompile(`\bconsole\.log\(|\bfmt\.Println\(|\bprint\(`),
			severity: SeverityLow, category: ReviewBestPractice,
			title:       "Debug output",
			description: "Print statements left in the change",
			suggestion:  "Use the structured logger",
		},
	}
)

func applyRules(rules []reviewRule, content string) []ReviewFinding {
	findings := []ReviewFinding{}
	for _, r := range rules {
		loc := r.pattern.FindStringIndex(content)
		if loc == nil {
			continue
		}
		start := strings.Count(content[:loc[0]], "\n") + 1
		end := start + strings.Count(content[loc[0]:loc[1]], "\n")
		findings = append(findings, ReviewFinding{
			LineStart:   start,
			LineEnd:     end,
			Severity:    r.severity,
			Category:    r.category,
			Title:       r.title,
			Description: r.description,
			Suggestion:  r.suggestion,
			Examples:    []string{strings.TrimSpace(content[loc[0]:loc[1]])},
		})
	}
	return findings
}

func annotatedDiffs(changes []CodeChange, findings []ReviewFinding) []AnnotatedDiff {
	diffs := make([]AnnotatedDiff, 0, len(changes))
	for _, c := range changes {
		var relevant []ReviewFinding
		for _, f := range findings {
			if f.FilePath == c.FilePath {
				relevant = append(relevant, f)
			}
		}
		critical, high := countSeverity(relevant)
		hunks := BuildHunks(c.OldContent, c.NewContent)
		annotate(hunks, relevant)
		diffs = append(diffs, AnnotatedDiff{
			FilePath:     c.FilePath,
			Hunks:        hunks,
			OverallScore: clampScore(100 - 20*float64(critical) - 10*float64(high)),
			Summary:      fmt.Sprintf("%d findings in this file", len(relevant)),
		})
	}
	return diffs
}

func reviewSummary(findings []ReviewFinding) ReviewSummary {
	bySeverity := map[string]int{}
	byCategory := map[string]int{}
	security, maintainability := 0, 0
	for _, f := range findings {
		bySeverity[string(f.Severity)]++
		byCategory[string(f.Category)]++
		switch f.Category {
		case ReviewSecurity:
			security++
		case ReviewCodeSmell, ReviewBestPractice:
			maintainability++
		}
	}
	critical, high := countSeverity(findings)

	quality := 100.0
	if len(findings) > 0 {
		quality = 100 - 15*float64(critical) - 5*float64(high)
	}
	return ReviewSummary{
		TotalFindings:        len(findings),
		FindingsBySeverity:   bySeverity,
		FindingsByCategory:   byCategory,
		CodeQualityScore:     clampScore(quality),
		SecurityScore:        clampScore(100 - 20*float64(security)),
		MaintainabilityScore: clampScore(100 - 3*float64(maintainability)),
	}
}

func reviewRecommendations(findings []ReviewFinding) []string {
	recs := []string{}
	critical, _ := countSeverity(findings)
	if critical > 0 {
		recs = append(recs, fmt.Sprintf("Fix %d critical issues before merging", critical))
	}
	security, testing := 0, 0
	for _, f := range findings {
		switch f.Category {
		case ReviewSecurity:
			security++
		case ReviewTesting:
			testing++
		}
	}
	if security > 0 {
		recs = append(recs, "Security review recommended before deployment")
	}
	if testing == 0 {
		recs = append(recs, "Consider adding more comprehensive test coverage")
	}
	return recs
}

func approvalFor(findings []ReviewFinding, summary ReviewSummary) ApprovalStatus {
	critical, high := countSeverity(findings)
	switch {
	case critical > 0:
		return Rejected
	case high > 3:
		return RequiresChanges
	case summary.CodeQualityScore < 70:
		return RequiresChanges
	case high > 0 || summary.CodeQualityScore < 90:
		return ApprovedWithComments
	default:
		return Approved
	}
}

func countSeverity(findings []ReviewFinding) (critical, high int) {
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			critical++
		case SeverityHigh:
			high++
		}
	}
	return critical, high
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
