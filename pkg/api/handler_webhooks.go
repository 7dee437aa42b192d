package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentorchestra/orchestra/pkg/auth"
	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/agentorchestra/orchestra/pkg/store"
	"github.com/agentorchestra/orchestra/pkg/webhook"
)

// registerWebhookHandler implements POST /webhooks (§4.3, §6). The
// returned secret is the only time it is ever sent back to the caller —
// HMAC signing relies on both sides already knowing it.
func (s *Server) registerWebhookHandler(c *echo.Context) error {
	p := currentPrincipal(c)

	var req registerWebhookRequest
	if verr := bindAndValidate(c, &req); verr != nil {
		return c.JSON(http.StatusBadRequest, verr)
	}
	if err := webhook.ValidateURL(c.Request().Context(), req.URL, s.cfg.WebhookAllowLocalhost); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "InvalidWebhookURL", Details: []string{err.Error()}})
	}

	secret := req.Secret
	if secret == "" {
		generated, err := auth.RandomSecret(32)
		if err != nil {
			return writeError(c, err)
		}
		secret = generated
	}

	events := make(models.EventTypeList, len(req.Events))
	for i, e := range req.Events {
		events[i] = models.EventType(e)
	}

	w := &models.Webhook{
		ID:               uuid.New().String(),
		OwnerID:          p.UserID,
		URL:              req.URL,
		SubscribedEvents: events,
		Secret:           secret,
		Active:           true,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateWebhook(c.Request().Context(), w); err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, newWebhookResponse(w, true))
}

// updateWebhookHandler implements PUT /webhooks/{id} (§6): partial update
// of URL, subscribed events, or active state.
func (s *Server) updateWebhookHandler(c *echo.Context) error {
	p := currentPrincipal(c)
	id := c.Param("id")

	w, err := s.store.GetWebhook(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if w.OwnerID != p.UserID && !p.Permissions.Has(models.CapAdminAll) {
		return writeError(c, store.ErrNotFound)
	}

	var req updateWebhookRequest
	if verr := bindAndValidate(c, &req); verr != nil {
		return c.JSON(http.StatusBadRequest, verr)
	}

	if req.URL != nil {
		if err := webhook.ValidateURL(c.Request().Context(), *req.URL, s.cfg.WebhookAllowLocalhost); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "InvalidWebhookURL", Details: []string{err.Error()}})
		}
		w.URL = *req.URL
	}
	if len(req.Events) > 0 {
		events := make(models.EventTypeList, len(req.Events))
		for i, e := range req.Events {
			events[i] = models.EventType(e)
		}
		w.SubscribedEvents = events
	}
	if req.Active != nil {
		w.Active = *req.Active
	}

	if err := s.store.UpdateWebhook(c.Request().Context(), w); err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, newWebhookResponse(w, false))
}

// deleteWebhookHandler implements DELETE /webhooks/{id} (§6).
func (s *Server) deleteWebhookHandler(c *echo.Context) error {
	p := currentPrincipal(c)
	id := c.Param("id")

	w, err := s.store.GetWebhook(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if w.OwnerID != p.UserID && !p.Permissions.Has(models.CapAdminAll) {
		return writeError(c, store.ErrNotFound)
	}

	if err := s.store.DeleteWebhook(c.Request().Context(), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// webhookStatsHandler implements GET /webhooks/{id}/stats (§6): recent
// delivery history and the trailing failure count that drives
// auto-disable (§3, §8 invariant 5).
func (s *Server) webhookStatsHandler(c *echo.Context) error {
	p := currentPrincipal(c)
	id := c.Param("id")

	w, err := s.store.GetWebhook(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if w.OwnerID != p.UserID && !p.Permissions.Has(models.CapAdminAll) {
		return writeError(c, store.ErrNotFound)
	}

	deliveries, err := s.store.ListDeliveriesByWebhook(c.Request().Context(), id, 100)
	if err != nil {
		return writeError(c, err)
	}

	byState := make(map[models.DeliveryState]int)
	for _, d := range deliveries {
		byState[d.State]++
	}

	return c.JSON(http.StatusOK, webhookStatsResponse{
		WebhookID:  w.ID,
		Active:     w.Active,
		Deliveries: deliveries,
		ByState:    byState,
	})
}
