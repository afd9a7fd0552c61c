package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/codexd/internal/agents"
	"github.com/fyrsmithlabs/codexd/internal/telemetry"
)

func newTestPipeline(t *testing.T) (*Pipeline, mockSet) {
	t.Helper()
	reg, mocks := newMockRegistry(t)
	p, err := New(reg)
	require.NoError(t, err)
	return p, mocks
}

func TestNew_RequiresRegistry(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestRun_BothStepsSucceed(t *testing.T) {
	p, mocks := newTestPipeline(t)

	spec := specOutput("REQ-001")
	code := codeOutput("src/app.go")
	mocks[AgentSpec].On("Invoke", mock.Anything, mock.Anything).Return(spec, nil).Once()
	mocks[AgentCode].On("Invoke", mock.Anything, mock.MatchedBy(func(in AgentInput) bool {
		return in.Code != nil && assert.ObjectsAreEqual([]string{"REQ-001: Title REQ-001"}, in.Code.Requirements)
	})).Return(code, nil).Once()

	result, err := p.Run(context.Background(), &Request{
		Prompt:   "Build an app",
		Sequence: []AgentType{AgentSpec, AgentCode},
	})
	require.NoError(t, err)

	require.Len(t, result.Executions, 2)
	assert.Equal(t, AgentSpec, result.Executions[0].AgentType)
	assert.Equal(t, AgentCode, result.Executions[1].AgentType)
	assert.True(t, result.Executions[0].Success)
	assert.True(t, result.Executions[1].Success)
	assert.InDelta(t, 100, result.Metadata.SuccessRate, 1e-9)
	assert.Equal(t, 2, result.Metadata.AgentsExecuted)
	assert.Empty(t, result.Metadata.Warnings)

	require.NotNil(t, result.FinalResult)
	assert.Equal(t, AgentCode, result.FinalResult.Type)
	assert.Equal(t, code.Code, result.FinalResult.Code)
	mocks.assertExpectations(t)
}

func TestRun_FailedStepFreezesPriorOutput(t *testing.T) {
	p, mocks := newTestPipeline(t)

	review := reviewOutput(agents.Approved)
	mocks[AgentSpec].On("Invoke", mock.Anything, mock.Anything).Return(specOutput("REQ-001", "REQ-002"), nil).Once()
	mocks[AgentCode].On("Invoke", mock.Anything, mock.Anything).Return(AgentOutput{}, errors.New("model timeout")).Once()

	var reviewInput AgentInput
	mocks[AgentReviewer].On("Invoke", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { reviewInput = args.Get(1).(AgentInput) }).
		Return(review, nil).Once()

	result, err := p.Run(context.Background(), &Request{
		Prompt:   "Add auth",
		Sequence: []AgentType{AgentSpec, AgentCode, AgentReviewer},
		Options:  map[string]string{OptionReviewFocus: "security"},
	})
	require.NoError(t, err)

	require.Len(t, result.Executions, 3)
	failed := result.Executions[1]
	assert.False(t, failed.Success)
	assert.Nil(t, failed.Input)
	assert.Equal(t, "model timeout", failed.ErrorMessage)
	require.NotNil(t, failed.Output.Failure)
	assert.Equal(t, &StepFailure{Error: "model timeout", Agent: AgentCode}, failed.Output.Failure)

	require.NotNil(t, reviewInput.Review)
	assert.Empty(t, reviewInput.Review.CodeChanges)
	assert.Equal(t, []string{"REQ-001: Title REQ-001", "REQ-002: Title REQ-002"}, reviewInput.Review.Requirements)
	assert.Equal(t, []agents.ReviewFocus{agents.FocusSecurity}, reviewInput.Review.ReviewFocus)

	assert.InDelta(t, 66.666, result.Metadata.SuccessRate, 0.01)
	assert.Equal(t, []string{"Agent Code failed: model timeout"}, result.Metadata.Warnings)
	require.NotNil(t, result.FinalResult)
	assert.Equal(t, AgentReviewer, result.FinalResult.Type)
	mocks.assertExpectations(t)
}

func TestRun_DefaultSequence(t *testing.T) {
	p, mocks := newTestPipeline(t)

	var order []AgentType
	record := func(at AgentType) func(mock.Arguments) {
		return func(mock.Arguments) { order = append(order, at) }
	}
	mocks[AgentSpec].On("Invoke", mock.Anything, mock.Anything).Run(record(AgentSpec)).Return(specOutput("REQ-001"), nil)
	mocks[AgentCode].On("Invoke", mock.Anything, mock.Anything).Run(record(AgentCode)).Return(codeOutput("a.go"), nil)
	mocks[AgentReviewer].On("Invoke", mock.Anything, mock.Anything).Run(record(AgentReviewer)).Return(reviewOutput(agents.Approved), nil)
	mocks[AgentTestGenerator].On("Invoke", mock.Anything, mock.Anything).Run(record(AgentTestGenerator)).Return(testOutput(2), nil)

	result, err := p.Run(context.Background(), &Request{Prompt: "Ship it"})
	require.NoError(t, err)

	assert.Equal(t, []AgentType{AgentSpec, AgentCode, AgentReviewer, AgentTestGenerator}, order)
	require.Len(t, result.Executions, 4)
	assert.Equal(t, AgentTestGenerator, result.FinalResult.Type)
	mocks[AgentDebug].AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything)

	// The last success before the test generator is the review, which carries no changes.
	testIn := result.Executions[3].Input
	require.NotNil(t, testIn)
	require.Len(t, testIn.Test.CodeChanges, 0)
}

func TestRun_AllStepsFail(t *testing.T) {
	p, mocks := newTestPipeline(t)
	for _, at := range []AgentType{AgentSpec, AgentDebug} {
		mocks[at].On("Invoke", mock.Anything, mock.Anything).Return(AgentOutput{}, errors.New("down"))
	}

	result, err := p.Run(context.Background(), &Request{
		Prompt:   "Investigate",
		Sequence: []AgentType{AgentSpec, AgentDebug},
	})
	require.NoError(t, err)

	require.Len(t, result.Executions, 2)
	for _, e := range result.Executions {
		assert.False(t, e.Success)
	}
	assert.Zero(t, result.Metadata.SuccessRate)
	assert.Nil(t, result.FinalResult)
	assert.Equal(t, []string{"Agent Spec failed: down", "Agent Debug failed: down"}, result.Metadata.Warnings)
}

func TestRun_EmptySequenceRunsDefault(t *testing.T) {
	for name, seq := range map[string][]AgentType{"nil": nil, "empty": {}} {
		t.Run(name, func(t *testing.T) {
			p, mocks := newTestPipeline(t)
			mocks[AgentSpec].On("Invoke", mock.Anything, mock.Anything).Return(specOutput("REQ-001"), nil).Once()
			mocks[AgentCode].On("Invoke", mock.Anything, mock.Anything).Return(codeOutput("main.go"), nil).Once()
			mocks[AgentReviewer].On("Invoke", mock.Anything, mock.Anything).Return(reviewOutput(agents.Approved), nil).Once()
			mocks[AgentTestGenerator].On("Invoke", mock.Anything, mock.Anything).Return(testOutput(2), nil).Once()

			result, err := p.Run(context.Background(), &Request{Prompt: "Build it", Sequence: seq})
			require.NoError(t, err)

			require.Len(t, result.Executions, 4)
			got := make([]AgentType, 0, 4)
			for _, e := range result.Executions {
				got = append(got, e.AgentType)
			}
			assert.Equal(t, DefaultSequence(), got)
			assert.Equal(t, 4, result.Metadata.AgentsExecuted)
			mocks.assertExpectations(t)
		})
	}
}

func TestRun_SameAgentTwice(t *testing.T) {
	p, mocks := newTestPipeline(t)
	mocks[AgentSpec].On("Invoke", mock.Anything, mock.Anything).Return(specOutput("REQ-001"), nil).Twice()

	result, err := p.Run(context.Background(), &Request{
		Prompt:   "Twice",
		Sequence: []AgentType{AgentSpec, AgentSpec},
	})
	require.NoError(t, err)
	require.Len(t, result.Executions, 2)
	mocks.assertExpectations(t)
}

func TestRun_EmptyPromptStillRuns(t *testing.T) {
	p, mocks := newTestPipeline(t)
	mocks[AgentDebug].On("Invoke", mock.Anything, mock.MatchedBy(func(in AgentInput) bool {
		return in.Debug != nil && len(in.Debug.Logs) == 1
	})).Return(debugOutput(), nil).Once()

	result, err := p.Run(context.Background(), &Request{
		Prompt:   "",
		Sequence: []AgentType{AgentDebug},
		Options:  map[string]string{OptionLogs: "ERROR db down"},
	})
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)
	assert.True(t, result.Executions[0].Success)
	mocks.assertExpectations(t)

	_, err = p.Run(context.Background(), nil)
	assert.EqualError(t, err, "request is required")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	p, mocks := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.Run(ctx, &Request{Prompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
	mocks[AgentSpec].AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything)
}

func TestRun_CancelledDuringStepDiscardsPartialResult(t *testing.T) {
	p, mocks := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mocks[AgentSpec].On("Invoke", mock.Anything, mock.Anything).Return(specOutput("REQ-001"), nil).Once()
	mocks[AgentCode].On("Invoke", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(AgentOutput{}, context.Canceled).Once()

	result, err := p.Run(ctx, &Request{
		Prompt:   "x",
		Sequence: []AgentType{AgentSpec, AgentCode, AgentReviewer},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
	mocks[AgentReviewer].AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything)
}

func TestRun_DeadlineAbandonsStuckStep(t *testing.T) {
	_, mocks := newMockRegistry(t)
	reg, err := NewRegistry(
		stuckAgent{t: AgentSpec, delay: 2 * time.Second},
		mocks[AgentCode], mocks[AgentTestGenerator], mocks[AgentReviewer], mocks[AgentDebug],
	)
	require.NoError(t, err)
	p, err := New(reg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := p.Run(ctx, &Request{Prompt: "x"})
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, result)
	mocks[AgentCode].AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything)
}

func TestRun_ReportsProgress(t *testing.T) {
	p, mocks := newTestPipeline(t)
	mocks[AgentSpec].On("Invoke", mock.Anything, mock.Anything).Return(specOutput("REQ-001"), nil)
	mocks[AgentCode].On("Invoke", mock.Anything, mock.Anything).Return(AgentOutput{}, errors.New("nope"))

	var global, local []Progress
	p.OnProgress(func(ev Progress) { global = append(global, ev) })

	_, err := p.Run(context.Background(), &Request{
		Prompt:   "x",
		Sequence: []AgentType{AgentSpec, AgentCode},
	}, func(ev Progress) { local = append(local, ev) })
	require.NoError(t, err)

	require.Len(t, local, 4)
	assert.Equal(t, local, global)

	assert.Equal(t, StepStarted, local[0].Kind)
	assert.Equal(t, 0, local[0].Percentage)
	assert.Equal(t, StepCompleted, local[1].Kind)
	assert.Equal(t, 50, local[1].Percentage)
	assert.Equal(t, StepStarted, local[2].Kind)
	assert.Equal(t, AgentCode, local[2].Agent)
	assert.Equal(t, StepFailed, local[3].Kind)
	assert.Equal(t, 100, local[3].Percentage)
	assert.Equal(t, "nope", local[3].Error)
}

func TestRun_RecordsSpans(t *testing.T) {
	tel := telemetry.NewTestTelemetry()

	reg, mocks := newMockRegistry(t)
	p, err := New(reg, WithTracer(tel.Tracer("test")))
	require.NoError(t, err)

	mocks[AgentSpec].On("Invoke", mock.Anything, mock.Anything).Return(specOutput("REQ-001"), nil)
	mocks[AgentCode].On("Invoke", mock.Anything, mock.Anything).Return(AgentOutput{}, errors.New("boom"))

	_, err = p.Run(context.Background(), &Request{Prompt: "x", Sequence: []AgentType{AgentSpec, AgentCode}})
	require.NoError(t, err)

	assert.Equal(t, []string{"pipeline.step", "pipeline.step", "pipeline.run"}, tel.SpanNames())
	assert.False(t, telemetry.Failed(tel.StepSpan("Spec")))
	code := tel.StepSpan("Code")
	require.NotNil(t, code)
	assert.True(t, telemetry.Failed(code))
	assert.Len(t, code.Events(), 1, "The step error is recorded on its span")

	steps, ok := telemetry.Attribute(tel.SpanByName("pipeline.run"), "pipeline.steps")
	require.True(t, ok)
	assert.Equal(t, int64(2), steps)
}

func TestAggregate(t *testing.T) {
	steps := []AgentExecution{{Success: true}, {Success: false}, {Success: true}, {Success: true}}
	meta := Aggregate(steps, []string{"w"}, 1500*time.Millisecond)

	assert.Equal(t, int64(1500), meta.TotalExecutionTimeMs)
	assert.Equal(t, 4, meta.AgentsExecuted)
	assert.InDelta(t, 75, meta.SuccessRate, 1e-9)
	assert.Equal(t, []string{"w"}, meta.Warnings)

	empty := Aggregate(nil, nil, 0)
	assert.Zero(t, empty.SuccessRate)
	assert.NotNil(t, empty.Warnings)
}

func TestFinalResult_LastSuccess(t *testing.T) {
	steps := []AgentExecution{
		{Success: true, Output: specOutput("A")},
		{Success: true, Output: codeOutput("b.go")},
		{Success: false, Output: AgentOutput{Failure: &StepFailure{Error: "x"}}},
	}
	out := finalResult(steps)
	require.NotNil(t, out)
	assert.Equal(t, AgentCode, out.Type)

	assert.Nil(t, finalResult(steps[2:]))
}
