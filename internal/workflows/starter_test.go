package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
)

func TestStarter_StartReview(t *testing.T) {
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return(ReviewWorkflowID(reviewInput()))

	c.On("ExecuteWorkflow", mock.Anything, mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
		return o.ID == ReviewWorkflowID(reviewInput()) && o.TaskQueue == "reviews"
	}), mock.Anything, reviewInput()).Return(run, nil)

	id, err := NewStarter(c, "reviews").StartReview(context.Background(), reviewInput())
	require.NoError(t, err)
	assert.Equal(t, ReviewWorkflowID(reviewInput()), id)
	c.AssertExpectations(t)
}

func TestStarter_StartReviewErrors(t *testing.T) {
	c := &mocks.Client{}
	s := NewStarter(c, "")
	assert.Equal(t, DefaultTaskQueue, s.taskQueue)

	_, err := s.StartReview(context.Background(), ReviewInput{})
	assert.Error(t, err)
	c.AssertNotCalled(t, "ExecuteWorkflow")

	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("unavailable"))
	_, err = s.StartReview(context.Background(), reviewInput())
	assert.ErrorContains(t, err, "starting review workflow")
}

func TestStarter_Publish(t *testing.T) {
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("codexd-publish-octo-widgets-codexd/todo")
	run.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		res := args.Get(1).(*PublishResult)
		res.CommitSHA = "c0ffee"
	}).Return(nil)
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, publishInput()).Return(run, nil)

	res, err := NewStarter(c, "").Publish(context.Background(), publishInput())
	require.NoError(t, err)
	assert.Equal(t, "c0ffee", res.CommitSHA)
}
