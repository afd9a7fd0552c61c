package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/codexd/internal/agents"
)

func TestMapInput_SpecIgnoresPrior(t *testing.T) {
	prior := codeOutput("a.go")
	req := &Request{
		Prompt:  "Build search",
		Context: map[string]string{"team": "core"},
		Options: map[string]string{
			OptionProjectType:          "web-app",
			OptionExistingRequirements: `["Paginate results", "Rank by recency"]`,
		},
	}

	in := MapInput(AgentSpec, req, &prior)
	require.NotNil(t, in.Spec)
	assert.Equal(t, AgentSpec, in.Type)
	assert.Equal(t, &agents.SpecRequest{
		Prompt:               "Build search",
		Context:              map[string]string{"team": "core"},
		ProjectType:          "web-app",
		ExistingRequirements: []string{"Paginate results", "Rank by recency"},
	}, in.Spec)
	assert.Nil(t, in.Code)
}

func TestMapInput_CodeWithAndWithoutPrior(t *testing.T) {
	req := &Request{
		Prompt: "Add login",
		Options: map[string]string{
			OptionTargetFiles:   "src/auth.js, src/routes.js",
			OptionExistingFiles: `[{"path": "src/app.js", "content": "app()", "language": "javascript"}]`,
		},
	}

	bare := MapInput(AgentCode, req, nil)
	assert.Equal(t, &agents.CodeRequest{Prompt: "Add login"}, bare.Code)

	prior := specOutput("REQ-001")
	in := MapInput(AgentCode, req, &prior)
	require.NotNil(t, in.Code)
	assert.Equal(t, []string{"REQ-001: Title REQ-001"}, in.Code.Requirements)
	assert.Equal(t, []string{"src/auth.js", "src/routes.js"}, in.Code.TargetFiles)
	assert.Equal(t, []agents.ExistingFile{{Path: "src/app.js", Content: "app()", Language: "javascript"}}, in.Code.ExistingFiles)
}

func TestMapInput_MalformedStructuredOptionIsOmitted(t *testing.T) {
	req := &Request{Prompt: "x", Options: map[string]string{OptionExistingFiles: "src/app.js"}}
	prior := specOutput("REQ-001")

	in := MapInput(AgentCode, req, &prior)
	assert.Nil(t, in.Code.ExistingFiles)
}

func TestMapInput_TestGenerator(t *testing.T) {
	req := &Request{
		Prompt: "Cover it",
		Options: map[string]string{
			OptionTestFramework: "pytest",
			OptionCoverageGoals: "unit,,integration",
			OptionCodeChanges:   `[{"file_path": "main.go", "new_content": "x", "change_type": "Create"}]`,
		},
	}

	// Without a prior step only the prompt is passed on.
	bare := MapInput(AgentTestGenerator, req, nil)
	assert.Equal(t, &agents.TestRequest{Prompt: "Cover it"}, bare.Test)

	prior := codeOutput("lib.py")
	in := MapInput(AgentTestGenerator, req, &prior)
	require.NotNil(t, in.Test)
	assert.Empty(t, in.Test.Prompt)
	require.Len(t, in.Test.CodeChanges, 1)
	assert.Equal(t, "lib.py", in.Test.CodeChanges[0].FilePath)
	assert.Nil(t, in.Test.Requirements)
	assert.Equal(t, "pytest", in.Test.TestFramework)
	assert.Equal(t, []string{"unit", "integration"}, in.Test.CoverageGoals)
}

func TestMapInput_ReviewerDropsUnknownFocus(t *testing.T) {
	req := &Request{Prompt: "Review", Options: map[string]string{OptionReviewFocus: `["Security", "vibes", "performance"]`}}

	assert.Equal(t, &agents.ReviewRequest{
		Prompt:      "Review",
		ReviewFocus: []agents.ReviewFocus{agents.FocusSecurity, agents.FocusPerformance},
	}, MapInput(AgentReviewer, req, nil).Review)

	prior := codeOutput("a.go")
	in := MapInput(AgentReviewer, req, &prior)
	require.NotNil(t, in.Review)
	assert.Equal(t, []agents.ReviewFocus{agents.FocusSecurity, agents.FocusPerformance}, in.Review.ReviewFocus)
	assert.Len(t, in.Review.CodeChanges, 1)
}

func TestMapInput_CodeChangesOptionWithoutPriorStep(t *testing.T) {
	req := &Request{Prompt: "Review PR #7", Options: map[string]string{
		OptionCodeChanges: `[{"file_path": "main.go", "new_content": "package main\n", "change_type": "Modify"}]`,
	}}

	review := MapInput(AgentReviewer, req, nil).Review
	require.Len(t, review.CodeChanges, 1)
	assert.Equal(t, "main.go", review.CodeChanges[0].FilePath)
	assert.Equal(t, agents.ChangeModify, review.CodeChanges[0].ChangeType)

	prior := codeOutput("lib.go")
	in := MapInput(AgentReviewer, req, &prior)
	require.Len(t, in.Review.CodeChanges, 1)
	assert.Equal(t, "lib.go", in.Review.CodeChanges[0].FilePath)

	assert.Nil(t, MapInput(AgentTestGenerator, req, nil).Test.CodeChanges)

	req.Options[OptionCodeChanges] = "not json"
	assert.Nil(t, MapInput(AgentReviewer, req, nil).Review.CodeChanges)
}

func TestMapInput_DebugUsesRequestContext(t *testing.T) {
	req := &Request{
		Prompt:  "Why is it slow",
		Context: map[string]string{"service": "api"},
		Options: map[string]string{
			OptionLogs:          `[{"timestamp": "t1", "level": "Error", "message": "boom", "source": "db"}]`,
			OptionCodebaseFiles: `[{"path": "db.go", "content": "package db", "language": "go"}]`,
			OptionDebugFocus:    "memory_leaks,unknown",
		},
	}
	prior := specOutput("REQ-001")

	in := MapInput(AgentDebug, req, &prior)
	require.NotNil(t, in.Debug)
	assert.Equal(t, map[string]string{"service": "api"}, in.Debug.ErrorContext)
	assert.Equal(t, []agents.LogEntry{{Timestamp: "t1", Level: agents.LevelError, Message: "boom", Source: "db"}}, in.Debug.Logs)
	assert.Equal(t, []agents.CodebaseFile{{Path: "db.go", Content: "package db", Language: "go"}}, in.Debug.CodebaseFiles)
	assert.Equal(t, []agents.DebugFocus{agents.FocusMemoryLeaks}, in.Debug.DebugFocus)

	assert.Equal(t, in, MapInput(AgentDebug, req, nil))
}

func TestMapInput_PlainTextLogs(t *testing.T) {
	req := &Request{Prompt: "x", Options: map[string]string{OptionLogs: "[t1] ERROR - db: connection refused\nWARN disk almost full\n\nstarting up"}}

	in := MapInput(AgentDebug, req, nil)
	assert.Equal(t, []agents.LogEntry{
		{Timestamp: "t1", Level: agents.LevelError, Source: "db", Message: "connection refused"},
		{Level: agents.LevelWarn, Message: "disk almost full"},
		{Level: agents.LevelInfo, Message: "starting up"},
	}, in.Debug.Logs)
}

func TestMapInput_FailedPriorIsIgnored(t *testing.T) {
	failed := AgentOutput{Type: AgentCode, Failure: &StepFailure{Error: "x", Agent: AgentCode}}
	in := MapInput(AgentReviewer, &Request{Prompt: "Review"}, &failed)
	assert.Equal(t, &agents.ReviewRequest{Prompt: "Review"}, in.Review)
}

func TestMapInput_NilOptions(t *testing.T) {
	prior := specOutput("REQ-001")
	for _, at := range AllAgentTypes() {
		in := MapInput(at, &Request{Prompt: "p"}, &prior)
		assert.Equal(t, at, in.Type)
	}
}
