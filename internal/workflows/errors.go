package workflows

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/codexd/internal/github"
	"github.com/fyrsmithlabs/codexd/internal/secrets"
)

// Application error types of failures that never succeed on retry.
const (
	errTypeInvalidInput    = "InvalidInput"
	errTypeSecretsDetected = "SecretsDetected"
	errTypeNotFound        = "NotFound"
	errTypeGitHub          = "GitHubAPI"
	errTypeOrchestration   = "OrchestrationFailed"
)

// WrapActivityError wraps an activity error with operation context.
func WrapActivityError(operation string, err error) error {
	return fmt.Errorf("%s: %w", operation, err)
}

// FormatErrorForResult formats an error for a result's Errors slice.
func FormatErrorForResult(operation string, err error) string {
	return fmt.Sprintf("%s: %v", operation, err)
}

func nonRetryable(errType, operation string, err error) error {
	return temporal.NewNonRetryableApplicationError(FormatErrorForResult(operation, err), errType, err)
}

// activityError wraps err for return from an activity. Commits refused by
// the secrets detector and permanent GitHub failures stop at the first
// attempt; everything else keeps the activity retry policy.
func activityError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *github.APIError
	switch {
	case errors.Is(err, secrets.ErrSecretsDetected):
		return nonRetryable(errTypeSecretsDetected, operation, err)
	case github.IsNotFound(err):
		return nonRetryable(errTypeNotFound, operation, err)
	case errors.As(err, &apiErr) && !apiErr.Retryable:
		return nonRetryable(errTypeGitHub, operation, err)
	}
	return WrapActivityError(operation, err)
}

// invalidInput is a non-retryable validation failure.
func invalidInput(operation string, err error) error {
	return nonRetryable(errTypeInvalidInput, operation, err)
}
