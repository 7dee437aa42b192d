package api

import (
	"encoding/json"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentorchestra/orchestra/pkg/engine"
	"github.com/agentorchestra/orchestra/pkg/events"
	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/agentorchestra/orchestra/pkg/store"
)

// submitExecutionHandler implements POST /executions (§4.1, §6).
func (s *Server) submitExecutionHandler(c *echo.Context) error {
	p := currentPrincipal(c)

	var req submitExecutionRequest
	if verr := bindAndValidate(c, &req); verr != nil {
		return c.JSON(http.StatusBadRequest, verr)
	}

	priority := models.Priority(req.Priority)
	if priority == "" {
		priority = models.PriorityNormal
	}
	trigger := models.Trigger(req.Trigger)
	if trigger == "" {
		trigger = models.TriggerManual
	}

	execution, err := s.engine.Submit(c.Request().Context(), engine.SubmitRequest{
		AgentID:     req.AgentID,
		SubmitterID: p.UserID,
		Input:       req.Input,
		Priority:    priority,
		Trigger:     trigger,
		Environment: req.Environment,
		TimeoutSec:  req.TimeoutSec,
		Overrides:   req.Configuration,
	})
	if err != nil {
		return writeError(c, err)
	}

	// The row is persisted as pending; the submission surface reports
	// "queued" — the client-facing name for "accepted and waiting for a
	// worker".
	return c.JSON(http.StatusCreated, submitExecutionResponse{
		ExecutionID: execution.ID,
		Status:      "queued",
	})
}

// getExecutionHandler implements GET /executions/{id}: the row plus a
// tail of recent logs, so a poller doesn't need a second round trip.
func (s *Server) getExecutionHandler(c *echo.Context) error {
	p := currentPrincipal(c)
	id := c.Param("id")

	execution, err := s.store.GetExecution(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if execution.SubmitterID != p.UserID && !p.Permissions.Has(models.CapAdminAll) {
		return writeError(c, store.ErrNotFound)
	}

	logs, err := s.store.TailLogs(c.Request().Context(), id, 50)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, executionDetailResponse{Execution: execution, Logs: logs})
}

// listExecutionLogsHandler implements GET /executions/{id}/logs (§6):
// offset/limit pagination, optionally filtered by level.
func (s *Server) listExecutionLogsHandler(c *echo.Context) error {
	p := currentPrincipal(c)
	id := c.Param("id")

	execution, err := s.store.GetExecution(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if execution.SubmitterID != p.UserID && !p.Permissions.Has(models.CapAdminAll) {
		return writeError(c, store.ErrNotFound)
	}

	offset := parseIntDefault(c.QueryParam("offset"), 0)
	limit := parseIntDefault(c.QueryParam("limit"), 100)
	if limit > 500 {
		limit = 500
	}

	logs, err := s.store.ListLogs(c.Request().Context(), id, c.QueryParam("level"), offset, limit)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, logsPageResponse{Logs: logs, Offset: offset, Limit: limit})
}

// cancelExecutionHandler implements DELETE /executions/{id} (§4.2, §6,
// scenario S3). Cancellation is latency-bound: Cancel returns once the
// request is recorded, not once the execution has actually stopped.
func (s *Server) cancelExecutionHandler(c *echo.Context) error {
	p := currentPrincipal(c)
	id := c.Param("id")

	execution, err := s.store.GetExecution(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if execution.SubmitterID != p.UserID && !p.Permissions.Has(models.CapAdminAll) {
		return writeError(c, store.ErrNotFound)
	}

	cancelled, err := s.engine.Cancel(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, cancelResponse{Cancelled: cancelled})
}

// streamExecutionHandler implements GET /executions/{id}/stream (§4.4,
// §6): a Server-Sent Events feed of this execution's lifecycle and log
// events, catching up with the execution's current row first so a late
// subscriber isn't left guessing at past state.
func (s *Server) streamExecutionHandler(c *echo.Context) error {
	p := currentPrincipal(c)
	id := c.Param("id")

	execution, err := s.store.GetExecution(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if execution.SubmitterID != p.UserID && !p.Permissions.Has(models.CapAdminAll) {
		return writeError(c, store.ErrNotFound)
	}

	w := c.Response().(*echo.Response)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE := func(evt events.Event) error {
		payload, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := w.Write(payload); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return err
		}
		w.Flush()
		return nil
	}

	sub := s.bus.Subscribe(events.ExecutionChannel(id))
	defer sub.Close()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if err := writeSSE(evt); err != nil {
				return nil
			}
		}
	}
}
