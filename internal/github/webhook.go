package github

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"

	gh "github.com/google/go-github/v57/github"

	"github.com/fyrsmithlabs/codexd/internal/config"
)

var (
	validName = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	validSHA  = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

var (
	// ErrInvalidSignature is returned when a webhook fails HMAC validation.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrIgnoredEvent is returned for events other than pull_request.
	ErrIgnoredEvent = errors.New("ignored webhook event")
)

// MaxWebhookBody bounds the size of a webhook payload.
const MaxWebhookBody = 1 << 20

// PullRequestEvent is a validated pull_request webhook.
type PullRequestEvent struct {
	Action  string `json:"action"`
	Repo    Repo   `json:"repo"`
	Number  int    `json:"number"`
	Title   string `json:"title"`
	BaseRef string `json:"base_ref"`
	HeadRef string `json:"head_ref"`
	HeadSHA string `json:"head_sha"`
}

// Reviewable reports whether the action should trigger a review.
func (e *PullRequestEvent) Reviewable() bool {
	switch e.Action {
	case "opened", "synchronize", "reopened":
		return true
	}
	return false
}

// ParseWebhook validates the signature of r against secret and decodes a
// pull_request event. Other event types return ErrIgnoredEvent.
func ParseWebhook(r *http.Request, secret config.Secret) (*PullRequestEvent, error) {
	if !secret.IsSet() {
		return nil, errors.New("webhook secret not configured")
	}
	payload, err := gh.ValidatePayload(r, []byte(secret.Value()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	event, err := gh.ParseWebHook(gh.WebHookType(r), payload)
	if err != nil {
		return nil, fmt.Errorf("parsing webhook: %w", err)
	}
	pr, ok := event.(*gh.PullRequestEvent)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrIgnoredEvent, event)
	}
	if err := validatePullRequestEvent(pr); err != nil {
		return nil, err
	}
	p := pr.GetPullRequest()
	return &PullRequestEvent{
		Action:  pr.GetAction(),
		Repo:    Repo{Owner: pr.GetRepo().GetOwner().GetLogin(), Name: pr.GetRepo().GetName()},
		Number:  p.GetNumber(),
		Title:   p.GetTitle(),
		BaseRef: p.GetBase().GetRef(),
		HeadRef: p.GetHead().GetRef(),
		HeadSHA: p.GetHead().GetSHA(),
	}, nil
}

func validatePullRequestEvent(e *gh.PullRequestEvent) error {
	if e.GetPullRequest().GetNumber() <= 0 {
		return errors.New("invalid PR number")
	}
	if !validName.MatchString(e.GetRepo().GetOwner().GetLogin()) {
		return errors.New("invalid repository owner format")
	}
	if !validName.MatchString(e.GetRepo().GetName()) {
		return errors.New("invalid repository name format")
	}
	if !validSHA.MatchString(e.GetPullRequest().GetHead().GetSHA()) {
		return errors.New("invalid SHA format")
	}
	return nil
}
