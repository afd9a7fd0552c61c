package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/github"
	"github.com/fyrsmithlabs/codexd/internal/workflows"
)

const maxWebhookBytes = github.MaxWebhookBody

// WebhookResponse is the response body for POST /api/v1/github/webhook.
type WebhookResponse struct {
	Status     string `json:"status"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// handleWebhook starts a review for opened, synchronized and reopened pull
// requests. Other deliveries are acknowledged and ignored.
func (s *Server) handleWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	if !s.opts.WebhookSecret.IsSet() || s.opts.Reviews == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "webhook not configured")
	}

	event, err := github.ParseWebhook(c.Request(), s.opts.WebhookSecret)
	switch {
	case errors.Is(err, github.ErrInvalidSignature):
		s.logger.Warn(ctx, "webhook signature rejected", zap.String("delivery", c.Request().Header.Get("X-GitHub-Delivery")))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, github.ErrIgnoredEvent):
		return c.JSON(http.StatusAccepted, WebhookResponse{Status: "ignored"})
	case err != nil:
		s.logger.Warn(ctx, "invalid webhook payload", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if !event.Reviewable() {
		return c.JSON(http.StatusAccepted, WebhookResponse{Status: "ignored"})
	}

	id, err := s.opts.Reviews.StartReview(ctx, workflows.ReviewInput{
		Repo:    event.Repo,
		Number:  event.Number,
		Title:   event.Title,
		HeadSHA: event.HeadSHA,
	})
	if err != nil {
		s.logger.Error(ctx, "failed to start review", zap.Error(err),
			zap.String("repo", event.Repo.String()), zap.Int("pr", event.Number))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to start review")
	}
	s.logger.Info(ctx, "review started",
		zap.String("workflow_id", id),
		zap.String("repo", event.Repo.String()),
		zap.Int("pr", event.Number))
	return c.JSON(http.StatusAccepted, WebhookResponse{Status: "started", WorkflowID: id})
}
