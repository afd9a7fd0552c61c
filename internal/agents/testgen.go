package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// TestType is the kind of a generated test.
type TestType string

const (
	TestUnit        TestType = "Unit"
	TestIntegration TestType = "Integration"
	TestE2E         TestType = "E2E"
	TestComponent   TestType = "Component"
	TestAPI         TestType = "API"
)

// ExistingTest is a test already present in the codebase.
type ExistingTest struct {
	FilePath  string `json:"file_path"`
	Content   string `json:"content"`
	Framework string `json:"framework"`
}

// TestRequest is the input of the test generator.
type TestRequest struct {
	Prompt        string         `json:"prompt,omitempty"`
	CodeChanges   []CodeChange   `json:"code_changes,omitempty"`
	Requirements  []string       `json:"requirements,omitempty"`
	ExistingTests []ExistingTest `json:"existing_tests,omitempty"`
	TestFramework string         `json:"test_framework,omitempty"`
	CoverageGoals []string       `json:"coverage_goals,omitempty"`
}

// TestCoverage estimates what a generated test covers.
type TestCoverage struct {
	LinesCovered       int     `json:"lines_covered"`
	FunctionsCovered   int     `json:"functions_covered"`
	BranchesCovered    int     `json:"branches_covered"`
	CoveragePercentage float64 `json:"coverage_percentage"`
}

// GeneratedTest is one generated test file.
type GeneratedTest struct {
	FilePath  string       `json:"file_path"`
	TestType  TestType     `json:"test_type"`
	Framework string       `json:"framework"`
	Content   string       `json:"content"`
	Coverage  TestCoverage `json:"coverage"`
	Tags      []string     `json:"tags"`
}

// TestMetadata summarizes a test suite.
type TestMetadata struct {
	TotalTests       int            `json:"total_tests"`
	TestDistribution map[string]int `json:"test_distribution"`
	EstimatedRunTime string         `json:"estimated_run_time"`
	FrameworksUsed   []string       `json:"frameworks_used"`
	MockRequirements []string       `json:"mock_requirements"`
}

// TestSuite is the output of the test generator.
type TestSuite struct {
	Tests           []GeneratedTest `json:"tests"`
	SetupCode       string          `json:"setup_code,omitempty"`
	TeardownCode    string          `json:"teardown_code,omitempty"`
	Metadata        TestMetadata    `json:"metadata"`
	Recommendations []string        `json:"recommendations"`
}

const (
	elementsPrompt = `Analyze this code and extract testable elements:
1. Functions and methods that need unit tests
2. Classes and modules that need testing
3. API endpoints that need integration tests
4. User interactions that need E2E tests

Return a JSON object with functions, classes and endpoints arrays.`

	unitTestPrompt = `You are an expert QA engineer writing comprehensive unit tests. Generate tests for this function using the %s framework:
1. Test normal operation
2. Test edge cases and error conditions
3. Test input validation
4. Use appropriate mocks and assertions

Return complete, runnable test code.`

	integrationTestPrompt = `Generate integration tests for this API endpoint:
1. Test successful requests with valid data
2. Test error responses (400, 401, 404, 500)
3. Test authentication/authorization
4. Test data validation and business logic
5. Use realistic test data

Return complete test code.`

	e2eTestPrompt = `Generate end-to-end tests for user workflows:
1. Test complete user journeys
2. Test across multiple pages/components
3. Test with real browser interactions
4. Test error scenarios and recovery
5. Use page object patterns

Return complete test code.`
)

type testableElements struct {
	Functions []string `json:"functions"`
	Classes   []string `json:"classes"`
	Endpoints []string `json:"endpoints"`
}

func (e testableElements) empty() bool {
	return len(e.Functions) == 0 && len(e.Classes) == 0 && len(e.Endpoints) == 0
}

type changeAnalysis struct {
	testableElements
	framework string
	mocks     []string
}

// TestGeneratorAgent creates unit, integration and end-to-end tests for changes.
type TestGeneratorAgent struct {
	model ModelClient
}

// NewTestGeneratorAgent creates a test generator.
func NewTestGeneratorAgent(model ModelClient) (*TestGeneratorAgent, error) {
	if model == nil {
		return nil, ErrNilModel
	}
	return &TestGeneratorAgent{model: model}, nil
}

// Generate builds a test suite for the request's code changes.
func (a *TestGeneratorAgent) Generate(ctx context.Context, req TestRequest) (*TestSuite, error) {
	analysis, err := a.analyze(ctx, req)
	if err != nil {
		return nil, err
	}

	var tests []GeneratedTest
	unit, err := a.unitTests(ctx, req, analysis)
	if err != nil {
		return nil, err
	}
	tests = append(tests, unit...)

	integration, err := a.integrationTests(ctx, req, analysis)
	if err != nil {
		return nil, err
	}
	tests = append(tests, integration...)

	e2e, err := a.e2eTest(ctx, req)
	if err != nil {
		return nil, err
	}
	tests = append(tests, e2e)

	setup, teardown := setupTeardown(tests)
	return &TestSuite{
		Tests:           tests,
		SetupCode:       setup,
		TeardownCode:    teardown,
		Metadata:        testMetadata(tests, analysis),
		Recommendations: testRecommendations(tests, analysis),
	}, nil
}

func (a *TestGeneratorAgent) analyze(ctx context.Context, req TestRequest) (changeAnalysis, error) {
	var analysis changeAnalysis
	for _, c := range req.CodeChanges {
		if strings.Contains(c.FilePath, "test") || strings.Contains(c.FilePath, "spec") {
			analysis.framework = DetectTestFramework(c.FilePath)
		}

		user := fmt.Sprintf("Analyze this code for testable elements:\n\n%s", c.NewContent)
		reply, err := a.model.GenerateWithContext(ctx, elementsPrompt, user)
		if err != nil {
			return changeAnalysis{}, fmt.Errorf("extracting testable elements from %s: %w", c.FilePath, err)
		}

		var elems testableElements
		if !decodeReply(reply, &elems) || elems.empty() {
			elems = scanTestableElements(c.NewContent)
		}
		for _, f := range elems.Functions {
			analysis.Functions = appendUnique(analysis.Functions, f)
		}
		for _, cl := range elems.Classes {
			analysis.Classes = appendUnique(analysis.Classes, cl)
		}
		for _, e := range elems.Endpoints {
			analysis.Endpoints = appendUnique(analysis.Endpoints, e)
		}
		if containsAny(c.NewContent, "sql", "db.", "database", "query(") {
			analysis.mocks = appendUnique(analysis.mocks, "database")
		}
		if containsAny(c.NewContent, "http", "fetch(", "axios", "requests.") {
			analysis.mocks = appendUnique(analysis.mocks, "external APIs")
		}
	}
	for _, t := range req.ExistingTests {
		if analysis.framework == "" && t.Framework != "" {
			analysis.framework = t.Framework
		}
	}
	return analysis, nil
}

func (a *TestGeneratorAgent) unitTests(ctx context.Context, req TestRequest, analysis changeAnalysis) ([]GeneratedTest, error) {
	detected := analysis.framework
	if detected == "unknown" {
		detected = ""
	}
	framework := pick(req.TestFramework, pick(detected, "jest"))
	tests := make([]GeneratedTest, 0, len(analysis.Functions))
	for _, fn := range analysis.Functions {
		system := fmt.Sprintf(unitTestPrompt, framework)
		user := fmt.Sprintf("Generate unit tests for function: %s", fn)
		if len(req.CoverageGoals) > 0 {
			user += "\n\nCoverage goals: " + strings.Join(req.CoverageGoals, ", ")
		}
		reply, err := a.model.GenerateWithContext(ctx, system, user)
		if err != nil {
			return nil, fmt.Errorf("generating unit tests for %s: %w", fn, err)
		}
		tests = append(tests, GeneratedTest{
			FilePath:  fmt.Sprintf("test/%s_test.js", fn),
			TestType:  TestUnit,
			Framework: framework,
			Content:   reply,
			Coverage:  TestCoverage{LinesCovered: 15, FunctionsCovered: 1, BranchesCovered: 4, CoveragePercentage: 85},
			Tags:      []string{"unit", fn},
		})
	}
	return tests, nil
}

func (a *TestGeneratorAgent) integrationTests(ctx context.Context, req TestRequest, analysis changeAnalysis) ([]GeneratedTest, error) {
	framework := pick(req.TestFramework, "supertest")
	tests := make([]GeneratedTest, 0, len(analysis.Endpoints))
	for _, ep := range analysis.Endpoints {
		user := fmt.Sprintf("Generate integration tests for endpoint: %s", ep)
		reply, err := a.model.GenerateWithContext(ctx, integrationTestPrompt, user)
		if err != nil {
			return nil, fmt.Errorf("generating integration tests for %s: %w", ep, err)
		}
		name := strings.NewReplacer("/", "_", " ", "_").Replace(ep)
		tests = append(tests, GeneratedTest{
			FilePath:  fmt.Sprintf("test/integration%s_test.js", name),
			TestType:  TestIntegration,
			Framework: framework,
			Content:   reply,
			Coverage:  TestCoverage{LinesCovered: 25, FunctionsCovered: 3, BranchesCovered: 8, CoveragePercentage: 75},
			Tags:      []string{"integration", "api"},
		})
	}
	return tests, nil
}

func (a *TestGeneratorAgent) e2eTest(ctx context.Context, req TestRequest) (GeneratedTest, error) {
	user := "Generate E2E tests for user authentication workflow"
	if req.Prompt != "" {
		user = "Generate E2E tests for this workflow:\n\n" + req.Prompt
	}
	if len(req.Requirements) > 0 {
		user += "\n\nRequirements:\n- " + strings.Join(req.Requirements, "\n- ")
	}
	reply, err := a.model.GenerateWithContext(ctx, e2eTestPrompt, user)
	if err != nil {
		return GeneratedTest{}, fmt.Errorf("generating e2e tests: %w", err)
	}
	return GeneratedTest{
		FilePath:  "test/e2e/auth_flow_test.js",
		TestType:  TestE2E,
		Framework: "playwright",
		Content:   reply,
		Coverage:  TestCoverage{LinesCovered: 40, FunctionsCovered: 5, BranchesCovered: 12, CoveragePercentage: 60},
		Tags:      []string{"e2e", "auth"},
	}, nil
}

// DetectTestFramework guesses the framework of a test file from its path.
func DetectTestFramework(filePath string) string {
	base := filePath[strings.LastIndex(filePath, "/")+1:]
	switch {
	case strings.Contains(filePath, "jest") || strings.HasSuffix(filePath, ".test.js"):
		return "jest"
	case strings.Contains(filePath, "rspec") || strings.HasSuffix(filePath, "_spec.rb"):
		return "rspec"
	case strings.Contains(filePath, "pytest") || (strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py")):
		return "pytest"
	case strings.HasSuffix(filePath, "_test.go"):
		return "go test"
	case strings.Contains(filePath, "cargo") && strings.HasSuffix(filePath, ".rs"):
		return "rust test"
	default:
		return "unknown"
	}
}

var (
	functionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bfunction\s+(\w+)\s*\(`),
		regexp.MustCompile(`\bfunc\s+(?:\([^)]*\)\s*)?(\w+)\s*\(`),
		regexp.MustCompile(`\bdef\s+(\w+)\s*\(`),
		regexp.MustCompile(`\bfn\s+(\w+)\s*[<(]`),
		regexp.MustCompile(`\b(?:const|let)\s+(\w+)\s*=\s*(?:async\s*)?\([^)]*\)\s*=>`),
		regexp.MustCompile(`(?m)^\s*(\w+)\s*:\s*(?:async\s*)?\([^)]*\)\s*=>`),
	}
	classPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bclass\s+(\w+)`),
		regexp.MustCompile(`\btype\s+(\w+)\s+struct\b`),
		regexp.MustCompile(`\bstruct\s+(\w+)`),
	}
	endpointPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(GET|POST|PUT|PATCH|DELETE)\s+(/[\w/:{}\-.]*)`),
		regexp.MustCompile(`\.(get|post|put|patch|delete)\(\s*['"](/[^'"]*)['"]`),
	}
)

// scanTestableElements finds functions, types and routes without a model.
func scanTestableElements(content string) testableElements {
	var elems testableElements
	for _, re := range functionPatterns {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			elems.Functions = appendUnique(elems.Functions, m[1])
		}
	}
	for _, re := range classPatterns {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			elems.Classes = appendUnique(elems.Classes, m[1])
		}
	}
	for _, re := range endpointPatterns {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			elems.Endpoints = appendUnique(elems.Endpoints, strings.ToUpper(m[1])+" "+m[2])
		}
	}
	return elems
}

func setupTeardown(tests []GeneratedTest) (string, string) {
	var setup, teardown []string
	seen := map[string]bool{}
	for _, t := range tests {
		if seen[t.Framework] {
			continue
		}
		seen[t.Framework] = true
		switch t.Framework {
		case "jest":
			setup = append(setup, "beforeEach(() => {\n  // Setup\n});")
			teardown = append(teardown, "afterEach(() => {\n  // Cleanup\n});")
		case "pytest":
			setup = append(setup, "@pytest.fixture\ndef setup():\n    # Setup")
			teardown = append(teardown, "# Teardown handled by pytest")
		case "go test":
			setup = append(setup, "func TestMain(m *testing.M) {\n\tos.Exit(m.Run())\n}")
			teardown = append(teardown, "// Teardown registered with t.Cleanup")
		}
	}
	return strings.Join(setup, "\n\n"), strings.Join(teardown, "\n\n")
}

func testMetadata(tests []GeneratedTest, analysis changeAnalysis) TestMetadata {
	distribution := make(map[string]int)
	frameworks := []string{}
	for _, t := range tests {
		distribution[string(t.TestType)]++
		frameworks = appendUnique(frameworks, t.Framework)
	}
	mocks := analysis.mocks
	if mocks == nil {
		mocks = []string{}
	}
	return TestMetadata{
		TotalTests:       len(tests),
		TestDistribution: distribution,
		EstimatedRunTime: estimatedRunTime(tests),
		FrameworksUsed:   frameworks,
		MockRequirements: mocks,
	}
}

func estimatedRunTime(tests []GeneratedTest) string {
	seconds := 0
	for _, t := range tests {
		switch t.TestType {
		case TestE2E:
			seconds += 30
		case TestIntegration, TestAPI:
			seconds += 5
		default:
			seconds++
		}
	}
	if seconds < 60 {
		return fmt.Sprintf("%d seconds", seconds)
	}
	return fmt.Sprintf("%d minutes", (seconds+59)/60)
}

func testRecommendations(tests []GeneratedTest, analysis changeAnalysis) []string {
	recs := []string{}
	if len(tests) < len(analysis.Functions)*2 {
		recs = append(recs, "Consider adding more unit tests for better coverage")
	}
	hasIntegration := false
	allUnit := true
	for _, t := range tests {
		if t.TestType == TestIntegration {
			hasIntegration = true
		}
		if t.TestType != TestUnit {
			allUnit = false
		}
	}
	if len(analysis.Endpoints) > 0 && !hasIntegration {
		recs = append(recs, "Add integration tests for API endpoints")
	}
	if allUnit {
		recs = append(recs, "Consider adding E2E tests for critical user workflows")
	}
	return recs
}

func pick(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
