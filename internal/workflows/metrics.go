package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/temporal"
)

const instrumentationName = "github.com/fyrsmithlabs/codexd/internal/workflows"

// Reasons a pull request file is left out of a review.
const (
	skipIgnored  = "ignored"
	skipTooMany  = "file_limit"
	skipTooLarge = "too_large"
)

// Activity metrics. Workflow code never records metrics itself because
// replays would count twice.
var (
	activityDuration     metric.Float64Histogram
	activityErrorCounter metric.Int64Counter
	reviewVerdictCounter metric.Int64Counter
	skippedFileCounter   metric.Int64Counter
	publishedFileCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter(instrumentationName)
	must := func(what string, err error) {
		if err != nil {
			panic(fmt.Sprintf("failed to create %s: %v", what, err))
		}
	}

	var err error
	activityDuration, err = meter.Float64Histogram("codexd.workflows.activity.duration",
		metric.WithDescription("Duration of workflow activity executions"),
		metric.WithUnit("s"))
	must("activity duration", err)

	activityErrorCounter, err = meter.Int64Counter("codexd.workflows.activity.errors",
		metric.WithDescription("Failed activity executions by activity and error type"),
		metric.WithUnit("{error}"))
	must("activity error counter", err)

	reviewVerdictCounter, err = meter.Int64Counter("codexd.workflows.review.verdicts",
		metric.WithDescription("Pull request reviews by overall approval"),
		metric.WithUnit("{review}"))
	must("review verdict counter", err)

	skippedFileCounter, err = meter.Int64Counter("codexd.workflows.review.skipped_files",
		metric.WithDescription("Pull request files left out of reviews, by reason"),
		metric.WithUnit("{file}"))
	must("skipped file counter", err)

	publishedFileCounter, err = meter.Int64Counter("codexd.workflows.publish.files",
		metric.WithDescription("Files committed by publish workflows"),
		metric.WithUnit("{file}"))
	must("published file counter", err)
}

// recordActivity records the duration and outcome of one activity call.
func recordActivity(ctx context.Context, name string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("activity", name))
	activityDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		activityErrorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("activity", name),
			attribute.String("error_type", errorType(err)),
		))
	}
}

// failActivity records a failed activity call and returns err.
func failActivity(ctx context.Context, name string, start time.Time, err error) error {
	recordActivity(ctx, name, start, err)
	return err
}

func recordSkipped(ctx context.Context, reason string) {
	skippedFileCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// errorType is the application error type of err, or "retryable" for
// errors that keep the retry policy.
func errorType(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return appErr.Type()
	}
	return "retryable"
}
