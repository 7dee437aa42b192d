package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/agentorchestra/orchestra/pkg/models"
)

// wsHandler implements GET /ws (§4.4): a WebSocket connection that a
// client uses to subscribe/unsubscribe from execution, agent, and user
// rooms. Authentication reuses the same bearer token scheme as the REST
// API, carried as a query parameter since browser WebSocket clients can't
// set an Authorization header on the upgrade request.
func (s *Server) wsHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	// Same stricter auth bucket the REST middleware applies: the upgrade
	// request is just another credential-verification surface.
	authIdentity := "auth:login:" + clientIP(c)
	if s.authLimiter != nil && s.authLimiter.Exceeded(ctx, authIdentity) {
		return c.JSON(http.StatusTooManyRequests, rateLimitBody{
			Error:   "TooManyRequests",
			ResetAt: time.Now().UTC().Add(s.cfg.AuthRateLimitWindow).Truncate(time.Second),
		})
	}
	recordFailure := func() {
		if s.authLimiter != nil {
			_, _ = s.authLimiter.Allow(ctx, authIdentity)
		}
	}

	bearer := c.QueryParam("token")
	if bearer == "" {
		recordFailure()
		return writeError(c, errMissingToken)
	}

	var p principal
	if s.auth.LooksLikeAPIKey(bearer) {
		key, err := s.auth.VerifyAPIKey(ctx, bearer)
		if err != nil {
			recordFailure()
			return writeError(c, err)
		}
		p = principal{UserID: key.OwnerID, Permissions: key.Permissions}
	} else {
		user, err := s.auth.VerifySessionToken(ctx, bearer)
		if err != nil {
			recordFailure()
			return writeError(c, err)
		}
		perms := models.CapabilitySet{models.CapExecutionsRead}
		if user.Role == models.RoleAdmin {
			perms = models.CapabilitySet{models.CapAdminAll}
		}
		p = principal{UserID: user.ID, Permissions: perms}
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	authorize := func(channel string) bool {
		if p.Permissions.Has(models.CapAdminAll) {
			return true
		}
		if rest, ok := strings.CutPrefix(channel, "user:"); ok {
			return rest == p.UserID
		}
		if rest, ok := strings.CutPrefix(channel, "execution:"); ok {
			execution, err := s.store.GetExecution(ctx, rest)
			return err == nil && execution.SubmitterID == p.UserID
		}
		if rest, ok := strings.CutPrefix(channel, "agent:"); ok {
			agent, err := s.store.GetAgent(ctx, rest)
			return err == nil && agent.OwnerID == p.UserID
		}
		return false
	}

	s.connManager.HandleConnection(ctx, conn, authorize)
	return nil
}
