package agents

import (
	"context"
	"fmt"
	"strings"
)

// Priority ranks a requirement.
type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
)

// RequirementCategory classifies a requirement.
type RequirementCategory string

const (
	CategoryFunctional    RequirementCategory = "Functional"
	CategoryNonFunctional RequirementCategory = "NonFunctional"
	CategoryTechnical     RequirementCategory = "Technical"
	CategorySecurity      RequirementCategory = "Security"
	CategoryPerformance   RequirementCategory = "Performance"
	CategoryUsability     RequirementCategory = "Usability"
)

// SpecTestType is the kind of a specification-level test case.
type SpecTestType string

const (
	SpecTestUnit        SpecTestType = "Unit"
	SpecTestIntegration SpecTestType = "Integration"
	SpecTestE2E         SpecTestType = "E2E"
	SpecTestManual      SpecTestType = "Manual"
	SpecTestRegression  SpecTestType = "Regression"
)

// Complexity is the estimated size of a specification.
type Complexity string

const (
	ComplexitySimple      Complexity = "Simple"
	ComplexityModerate    Complexity = "Moderate"
	ComplexityComplex     Complexity = "Complex"
	ComplexityVeryComplex Complexity = "VeryComplex"
)

// RiskLevel is the delivery risk of a specification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// SpecRequest is the input of the specification agent.
type SpecRequest struct {
	Prompt               string            `json:"prompt"`
	Context              map[string]string `json:"context,omitempty"`
	ProjectType          string            `json:"project_type,omitempty"`
	ExistingRequirements []string          `json:"existing_requirements,omitempty"`
}

// Requirement is a single actionable requirement.
type Requirement struct {
	ID                 string              `json:"id"`
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	Priority           Priority            `json:"priority"`
	Category           RequirementCategory `json:"category"`
	AcceptanceCriteria []string            `json:"acceptance_criteria"`
}

// Label renders the requirement as "ID: Title".
func (r Requirement) Label() string {
	return fmt.Sprintf("%s: %s", r.ID, r.Title)
}

// TestCase verifies one requirement.
type TestCase struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	TestType       SpecTestType `json:"test_type"`
	Steps          []string     `json:"steps"`
	ExpectedResult string       `json:"expected_result"`
	RequirementID  string       `json:"requirement_id"`
}

// UserStory follows the "As a role, I want goal so that benefit" form.
type UserStory struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Role        string `json:"role"`
	Goal        string `json:"goal"`
	Benefit     string `json:"benefit"`
}

// SpecMetadata summarizes a specification.
type SpecMetadata struct {
	EstimatedEffort string     `json:"estimated_effort"`
	Complexity      Complexity `json:"complexity"`
	Dependencies    []string   `json:"dependencies"`
	RiskLevel       RiskLevel  `json:"risk_level"`
}

// SpecResponse is the output of the specification agent.
type SpecResponse struct {
	Requirements       []Requirement       `json:"requirements"`
	TestCases          []TestCase          `json:"test_cases"`
	UserStories        []UserStory         `json:"user_stories"`
	AcceptanceCriteria map[string][]string `json:"acceptance_criteria"`
	Metadata           SpecMetadata        `json:"metadata"`
}

// RequirementLabels returns every requirement as "ID: Title".
func (r *SpecResponse) RequirementLabels() []string {
	if r == nil || len(r.Requirements) == 0 {
		return nil
	}
	labels := make([]string, 0, len(r.Requirements))
	for _, req := range r.Requirements {
		labels = append(labels, req.Label())
	}
	return labels
}

const (
	specRequirementsPrompt = `You are a senior product manager and systems analyst. Given a feature request, generate detailed, actionable requirements that:

1. Cover functional, non-functional, and technical aspects
2. Include clear acceptance criteria
3. Are prioritized appropriately
4. Are testable and measurable

Return a JSON array of requirements. Each requirement has id, title, description,
priority (Critical, High, Medium, Low), category (Functional, NonFunctional,
Technical, Security, Performance, Usability) and acceptance_criteria.`

	specTestCasesPrompt = `Generate comprehensive test cases for this requirement. Include unit, integration, and end-to-end tests where applicable.

Return a JSON array of test cases with title, description, test_type (Unit,
Integration, E2E, Manual, Regression), steps and expected_result.`

	specUserStoriesPrompt = `As a product owner, break down this feature into user stories. Each story should follow the format:
"As a [type of user], I want [some goal] so that [some reason]"

Focus on user value and outcomes. Return a JSON array of stories with title,
description, role, goal and benefit.`
)

// SpecAgent turns a feature request into requirements, test cases and user stories.
type SpecAgent struct {
	model ModelClient
}

// NewSpecAgent creates a specification agent.
func NewSpecAgent(model ModelClient) (*SpecAgent, error) {
	if model == nil {
		return nil, ErrNilModel
	}
	return &SpecAgent{model: model}, nil
}

// Generate produces a full specification for the request.
func (a *SpecAgent) Generate(ctx context.Context, req SpecRequest) (*SpecResponse, error) {
	requirements, err := a.requirements(ctx, req)
	if err != nil {
		return nil, err
	}
	testCases, err := a.testCases(ctx, requirements)
	if err != nil {
		return nil, err
	}
	stories, err := a.userStories(ctx, req, requirements)
	if err != nil {
		return nil, err
	}

	criteria := make(map[string][]string, len(requirements))
	for _, r := range requirements {
		criteria[r.ID] = r.AcceptanceCriteria
	}

	return &SpecResponse{
		Requirements:       requirements,
		TestCases:          testCases,
		UserStories:        stories,
		AcceptanceCriteria: criteria,
		Metadata:           specMetadata(req, requirements),
	}, nil
}

func (a *SpecAgent) requirements(ctx context.Context, req SpecRequest) ([]Requirement, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Generate requirements for this feature request:\n\n%s\n", req.Prompt)
	if req.ProjectType != "" {
		fmt.Fprintf(&user, "\nProject type: %s\n", req.ProjectType)
	}
	if c := formatContext(req.Context); c != "" {
		fmt.Fprintf(&user, "\nAdditional context:\n%s", c)
	}
	if len(req.ExistingRequirements) > 0 {
		fmt.Fprintf(&user, "\nExisting requirements:\n- %s\n", strings.Join(req.ExistingRequirements, "\n- "))
	}

	reply, err := a.model.GenerateWithContext(ctx, specRequirementsPrompt, user.String())
	if err != nil {
		return nil, fmt.Errorf("generating requirements: %w", err)
	}

	parsed, ok := decodeList[Requirement](reply, "requirements")
	if !ok || len(parsed) == 0 {
		parsed = requirementsFromPrompt(req.Prompt)
	}
	for _, existing := range req.ExistingRequirements {
		existing = strings.TrimSpace(existing)
		if existing == "" {
			continue
		}
		parsed = append(parsed, Requirement{
			Title:       truncate(existing, 80),
			Description: existing,
			Priority:    PriorityMedium,
			Category:    CategoryFunctional,
		})
	}
	return normalizeRequirements(parsed), nil
}

func (a *SpecAgent) testCases(ctx context.Context, requirements []Requirement) ([]TestCase, error) {
	var cases []TestCase
	for _, r := range requirements {
		user := fmt.Sprintf("Generate test cases for requirement: %s - %s\n\n%s", r.ID, r.Title, r.Description)
		reply, err := a.model.GenerateWithContext(ctx, specTestCasesPrompt, user)
		if err != nil {
			return nil, fmt.Errorf("generating test cases for %s: %w", r.ID, err)
		}

		parsed, ok := decodeList[TestCase](reply, "test_cases")
		if !ok || len(parsed) == 0 {
			parsed = []TestCase{fallbackTestCase(r)}
		}
		for i, tc := range parsed {
			tc.ID = fmt.Sprintf("TC-%s-%03d", r.ID, i+1)
			tc.RequirementID = r.ID
			tc.TestType = canonical(tc.TestType, SpecTestUnit,
				SpecTestUnit, SpecTestIntegration, SpecTestE2E, SpecTestManual, SpecTestRegression)
			if tc.Title == "" {
				tc.Title = "Test " + r.Title
			}
			if tc.ExpectedResult == "" {
				tc.ExpectedResult = fmt.Sprintf("All acceptance criteria for %s are met", r.ID)
			}
			cases = append(cases, tc)
		}
	}
	return cases, nil
}

func (a *SpecAgent) userStories(ctx context.Context, req SpecRequest, requirements []Requirement) ([]UserStory, error) {
	user := fmt.Sprintf("Create user stories for this feature:\n\n%s", req.Prompt)
	reply, err := a.model.GenerateWithContext(ctx, specUserStoriesPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("generating user stories: %w", err)
	}

	stories, ok := decodeList[UserStory](reply, "user_stories")
	if !ok || len(stories) == 0 {
		stories = make([]UserStory, 0, len(requirements))
		for _, r := range requirements {
			goal := lowerFirst(r.Title)
			stories = append(stories, UserStory{
				Title:       r.Title,
				Role:        "User",
				Goal:        goal,
				Benefit:     "the product meets " + r.ID,
				Description: fmt.Sprintf("As a user, I want %s so that the product meets %s", goal, r.ID),
			})
		}
	}
	for i := range stories {
		stories[i].ID = fmt.Sprintf("US-%03d", i+1)
	}
	return stories, nil
}

// requirementsFromPrompt derives one requirement per sentence of the prompt.
func requirementsFromPrompt(prompt string) []Requirement {
	sentences := splitSentences(prompt)
	reqs := make([]Requirement, 0, len(sentences))
	for i, s := range sentences {
		priority := PriorityMedium
		if i == 0 {
			priority = PriorityHigh
		}
		reqs = append(reqs, Requirement{
			Title:              truncate(s, 80),
			Description:        s,
			Priority:           priority,
			Category:           CategoryFunctional,
			AcceptanceCriteria: []string{fmt.Sprintf("%s behaves as described", truncate(s, 80))},
		})
	}
	return reqs
}

func normalizeRequirements(reqs []Requirement) []Requirement {
	seen := make(map[string]bool, len(reqs))
	for i := range reqs {
		r := &reqs[i]
		if r.ID == "" || seen[r.ID] {
			r.ID = fmt.Sprintf("REQ-%03d", i+1)
		}
		seen[r.ID] = true
		if r.Title == "" {
			r.Title = truncate(r.Description, 80)
		}
		r.Priority = canonical(r.Priority, PriorityMedium,
			PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow)
		r.Category = canonical(r.Category, CategoryFunctional,
			CategoryFunctional, CategoryNonFunctional, CategoryTechnical,
			CategorySecurity, CategoryPerformance, CategoryUsability)
		if r.AcceptanceCriteria == nil {
			r.AcceptanceCriteria = []string{}
		}
	}
	return reqs
}

func fallbackTestCase(r Requirement) TestCase {
	steps := make([]string, 0, len(r.AcceptanceCriteria))
	for _, c := range r.AcceptanceCriteria {
		steps = append(steps, "Verify: "+c)
	}
	if len(steps) == 0 {
		steps = []string{"Exercise " + r.Title}
	}
	return TestCase{
		Title:       "Test " + r.Title,
		Description: "Verify " + r.Description,
		TestType:    SpecTestUnit,
		Steps:       steps,
	}
}

func specMetadata(req SpecRequest, reqs []Requirement) SpecMetadata {
	critical := 0
	for _, r := range reqs {
		if r.Priority == PriorityCritical {
			critical++
		}
	}
	complexity := complexityFor(len(reqs))

	risk := RiskLow
	switch {
	case critical > 2:
		risk = RiskHigh
	case complexity == ComplexityVeryComplex:
		risk = RiskMedium
	}

	deps := []string{}
	if raw, ok := req.Context["dependencies"]; ok {
		for _, d := range strings.Split(raw, ",") {
			if d = strings.TrimSpace(d); d != "" {
				deps = appendUnique(deps, d)
			}
		}
	}

	return SpecMetadata{
		EstimatedEffort: effortFor(complexity),
		Complexity:      complexity,
		Dependencies:    deps,
		RiskLevel:       risk,
	}
}

func complexityFor(n int) Complexity {
	switch {
	case n <= 3:
		return ComplexitySimple
	case n <= 7:
		return ComplexityModerate
	case n <= 12:
		return ComplexityComplex
	default:
		return ComplexityVeryComplex
	}
}

func effortFor(c Complexity) string {
	switch c {
	case ComplexitySimple:
		return "1-3 days"
	case ComplexityModerate:
		return "1-2 weeks"
	case ComplexityComplex:
		return "2-4 weeks"
	default:
		return "1-2 months"
	}
}

func splitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '\n' || r == ';' || r == '!' || r == '?'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 && strings.TrimSpace(text) != "" {
		out = append(out, strings.TrimSpace(text))
	}
	return out
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
