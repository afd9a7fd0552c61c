package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestGenerator_ScansElementsWithoutModelJSON(t *testing.T) {
	agent, err := NewTestGeneratorAgent(newScriptedModel("describe('x', () => {})"))
	require.NoError(t, err)

	suite, err := agent.Generate(context.Background(), TestRequest{
		CodeChanges: []CodeChange{{
			FilePath:   "src/auth.js",
			NewContent: "function login(user) {}\napp.post('/api/login', handler)\n",
		}},
	})
	require.NoError(t, err)

	require.Len(t, suite.Tests, 3)
	assert.Equal(t, "test/login_test.js", suite.Tests[0].FilePath)
	assert.Equal(t, TestUnit, suite.Tests[0].TestType)
	assert.Equal(t, "jest", suite.Tests[0].Framework)
	assert.Equal(t, TestCoverage{LinesCovered: 15, FunctionsCovered: 1, BranchesCovered: 4, CoveragePercentage: 85}, suite.Tests[0].Coverage)

	assert.Equal(t, "test/integrationPOST__api_login_test.js", suite.Tests[1].FilePath)
	assert.Equal(t, "supertest", suite.Tests[1].Framework)

	assert.Equal(t, "test/e2e/auth_flow_test.js", suite.Tests[2].FilePath)
	assert.Equal(t, "playwright", suite.Tests[2].Framework)

	assert.Equal(t, "beforeEach(() => {\n  // Setup\n});", suite.SetupCode)
	assert.Equal(t, "afterEach(() => {\n  // Cleanup\n});", suite.TeardownCode)
	assert.Equal(t, 3, suite.Metadata.TotalTests)
	assert.Equal(t, map[string]int{"Unit": 1, "Integration": 1, "E2E": 1}, suite.Metadata.TestDistribution)
	assert.Equal(t, []string{"jest", "supertest", "playwright"}, suite.Metadata.FrameworksUsed)
	assert.Empty(t, suite.Recommendations)
}

func TestTestGenerator_UsesModelElements(t *testing.T) {
	model := newScriptedModel("test body").
		on("extract testable elements", `{"functions": ["a", "b", "c"], "endpoints": []}`)
	agent, err := NewTestGeneratorAgent(model)
	require.NoError(t, err)

	suite, err := agent.Generate(context.Background(), TestRequest{
		CodeChanges:   []CodeChange{{FilePath: "lib.py", NewContent: "..."}},
		TestFramework: "pytest",
	})
	require.NoError(t, err)

	require.Len(t, suite.Tests, 4)
	assert.Equal(t, "pytest", suite.Tests[0].Framework)
	assert.Equal(t, "playwright", suite.Tests[3].Framework)
	assert.Equal(t, "@pytest.fixture\ndef setup():\n    # Setup", suite.SetupCode)
	assert.Equal(t, []string{"Consider adding more unit tests for better coverage"}, suite.Recommendations)
	assert.Len(t, model.callsMatching("writing comprehensive unit tests"), 3)
}

func TestTestGenerator_WithoutChangesEmitsE2EOnly(t *testing.T) {
	model := newScriptedModel("e2e body")
	agent, err := NewTestGeneratorAgent(model)
	require.NoError(t, err)

	suite, err := agent.Generate(context.Background(), TestRequest{Prompt: "Checkout flow"})
	require.NoError(t, err)

	require.Len(t, suite.Tests, 1)
	assert.Equal(t, TestE2E, suite.Tests[0].TestType)
	assert.Empty(t, suite.SetupCode)

	calls := model.callsMatching("end-to-end tests")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].user, "Checkout flow")
}

func TestTestRecommendations(t *testing.T) {
	unitOnly := []GeneratedTest{{TestType: TestUnit}}
	analysis := changeAnalysis{testableElements: testableElements{
		Functions: []string{"f"},
		Endpoints: []string{"GET /x"},
	}}
	assert.Equal(t, []string{
		"Consider adding more unit tests for better coverage",
		"Add integration tests for API endpoints",
		"Consider adding E2E tests for critical user workflows",
	}, testRecommendations(unitOnly, analysis))
}

func TestDetectTestFramework(t *testing.T) {
	tests := map[string]string{
		"src/login.test.js":     "jest",
		"jest/setup.js":         "jest",
		"spec/user_spec.rb":     "rspec",
		"tests/test_login.py":   "pytest",
		"pkg/server_test.go":    "go test",
		"cargo/tests/lib.rs":    "rust test",
		"test/fixtures/data.js": "unknown",
	}
	for path, want := range tests {
		assert.Equal(t, want, DetectTestFramework(path), path)
	}
}
