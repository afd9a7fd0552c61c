package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/events"
	"github.com/fyrsmithlabs/codexd/internal/service"
)

// handleOrchestrateStream starts a run and streams its events as SSE. The
// stream ends after the completed or failed event.
func (s *Server) handleOrchestrateStream(c echo.Context) error {
	var req service.OrchestrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	id := service.NewRequestID()
	ch, cancel, err := s.opts.Orchestrator.Subscribe(ctx, id)
	if err != nil {
		s.logger.Error(ctx, "failed to subscribe to run events", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream unavailable")
	}
	defer cancel()

	// The run outlives a disconnected client; it is recorded in history.
	go s.opts.Orchestrator.Process(context.WithoutCancel(ctx), req, service.WithRequestID(id))

	return s.stream(c, id, ch)
}

// handleRequestEvents streams the events of a run started elsewhere.
func (s *Server) handleRequestEvents(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var (
		ch     <-chan events.Event
		cancel func()
		err    error
	)
	if s.opts.Events != nil {
		ch, cancel, err = s.opts.Events.Subscribe(ctx, id)
	} else {
		ch, cancel, err = s.opts.Orchestrator.Subscribe(ctx, id)
	}
	switch {
	case errors.Is(err, events.ErrInvalidRequestID):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request id")
	case errors.Is(err, events.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream unavailable")
	case err != nil:
		s.logger.Error(ctx, "failed to subscribe to run events", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream unavailable")
	}
	defer cancel()
	return s.stream(c, id, ch)
}

// stream writes events from ch until a terminal event or until the client
// goes away.
func (s *Server) stream(c echo.Context, id string, ch <-chan events.Event) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Codexd-Request-Id", id)
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(s.opts.KeepAlive)
	defer ticker.Stop()
	ctx := c.Request().Context()
	defer s.metrics.StreamOpened(ctx)()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := writeEvent(w, ev); err != nil {
				s.logger.Debug(ctx, "sse write failed", zap.Error(err))
				return nil
			}
			w.Flush()
			s.metrics.RecordStreamEvent(ctx, ev.Kind)
			if ev.Kind.Terminal() {
				return nil
			}
		}
	}
}

func writeEvent(w *echo.Response, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
