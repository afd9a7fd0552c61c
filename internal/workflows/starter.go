package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Register adds every codexd workflow and the activities of acts to r.
func Register(r worker.Registry, acts *Activities) {
	r.RegisterWorkflow(PullRequestReviewWorkflow)
	r.RegisterWorkflow(PublishChangesWorkflow)
	r.RegisterActivity(acts)
}

// Starter starts codexd workflows on a Temporal cluster.
type Starter struct {
	client    client.Client
	taskQueue string
}

// NewStarter returns a Starter using taskQueue, or DefaultTaskQueue when
// empty.
func NewStarter(c client.Client, taskQueue string) *Starter {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Starter{client: c, taskQueue: taskQueue}
}

// StartReview starts a review of a pull request head and returns the
// workflow ID. A review already running for the same head is reused.
func (s *Starter) StartReview(ctx context.Context, in ReviewInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        ReviewWorkflowID(in),
		TaskQueue: s.taskQueue,
	}, PullRequestReviewWorkflow, in)
	if err != nil {
		return "", fmt.Errorf("starting review workflow: %w", err)
	}
	return run.GetID(), nil
}

// Publish runs PublishChangesWorkflow and waits for its result.
func (s *Starter) Publish(ctx context.Context, in PublishInput) (*PublishResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("codexd-publish-%s-%s-%s", in.Repo.Owner, in.Repo.Name, in.Branch),
		TaskQueue: s.taskQueue,
	}, PublishChangesWorkflow, in)
	if err != nil {
		return nil, fmt.Errorf("starting publish workflow: %w", err)
	}
	var result PublishResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("publish workflow %s: %w", run.GetID(), err)
	}
	return &result, nil
}
