package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	echo "github.com/labstack/echo/v5"

	"github.com/agentorchestra/orchestra/pkg/auth"
	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/agentorchestra/orchestra/pkg/ratelimit"
	"github.com/agentorchestra/orchestra/pkg/store"
)

// requestValidator adapts go-playground/validator to echo.Echo's
// pluggable Validator interface, so handlers validate request bodies
// with the same struct-tag convention the teacher's gin layer relied on
// (gin wires this same library in under the hood for its binding tags).
type requestValidator struct {
	v *validator.Validate
}

func (r *requestValidator) Validate(i any) error {
	return r.v.Struct(i)
}

// bindAndValidate binds the request body into dst and runs its validate
// tags. On failure it returns the errorBody the handler should write with
// a 400; a nil return means dst is ready to use.
func bindAndValidate(c *echo.Context, dst any) *errorBody {
	if err := c.Bind(dst); err != nil {
		return &errorBody{Error: "MalformedBody"}
	}
	if err := c.Validate(dst); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			details := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, fe.Field()+" failed "+fe.Tag())
			}
			return &errorBody{Error: "ValidationFailed", Details: details}
		}
		return &errorBody{Error: "ValidationFailed"}
	}
	return nil
}

// securityHeaders sets standard hardening response headers on every
// response, regardless of route.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// principal is the authenticated caller attached to the request context by
// authMiddleware: a User for session tokens, plus Permissions carrying
// either the key's capability set or admin:all for a session. APIKeyID is
// set only on the API-key path and binds the request's usage row (§4.6).
type principal struct {
	UserID      string
	APIKeyID    *string
	Permissions models.CapabilitySet
}

// currentPrincipal retrieves the principal authMiddleware attached to c.
func currentPrincipal(c *echo.Context) *principal {
	p, _ := c.Get(principalContextKey).(*principal)
	return p
}

const principalContextKey = "api.principal"

// clientIP is the per-address rate-limit identity: the connection's remote
// host with its ephemeral port stripped, so reconnects share one bucket.
func clientIP(c *echo.Context) string {
	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return c.Request().RemoteAddr
	}
	return host
}

// authMiddleware implements the Submission Gate's two authentication paths
// (§4.6): a session bearer JWT, or a prefixed API key. Session principals
// carry admin:all on CapAdminAll only if their role is admin; otherwise a
// baseline full capability set for their own resources.
//
// authLimiter is the stricter auth:login bucket: every failed credential
// verification spends from it, and an address that has burned its budget
// is refused with 429 before any further verification runs — bcrypt
// comparisons and token parses are exactly what a brute-forcer wants us
// to keep doing.
func authMiddleware(a *auth.Authenticator, authLimiter *ratelimit.Limiter, authWindow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			ctx := c.Request().Context()
			authIdentity := "auth:login:" + clientIP(c)

			if authLimiter != nil && authLimiter.Exceeded(ctx, authIdentity) {
				resetAt := time.Now().UTC().Add(authWindow).Truncate(time.Second)
				return c.JSON(http.StatusTooManyRequests, rateLimitBody{Error: "TooManyRequests", ResetAt: resetAt})
			}

			recordFailure := func() {
				if authLimiter != nil {
					_, _ = authLimiter.Allow(ctx, authIdentity)
				}
			}

			header := c.Request().Header.Get("Authorization")
			bearer, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || bearer == "" {
				recordFailure()
				return writeError(c, auth.ErrInvalidToken)
			}

			if a.LooksLikeAPIKey(bearer) {
				key, err := a.VerifyAPIKey(ctx, bearer)
				if err != nil {
					recordFailure()
					return writeError(c, err)
				}
				c.Set(principalContextKey, &principal{UserID: key.OwnerID, APIKeyID: &key.ID, Permissions: key.Permissions})
				return next(c)
			}

			user, err := a.VerifySessionToken(ctx, bearer)
			if err != nil {
				recordFailure()
				return writeError(c, err)
			}
			perms := models.CapabilitySet{models.CapExecutionsWrite, models.CapExecutionsRead, models.CapAgentsWrite, models.CapWebhooksWrite}
			if user.Role == models.RoleAdmin {
				perms = models.CapabilitySet{models.CapAdminAll}
			}
			c.Set(principalContextKey, &principal{UserID: user.ID, Permissions: perms})
			return next(c)
		}
	}
}

// requireCapability rejects the request unless the authenticated
// principal's permission set grants cap.
func requireCapability(cap models.Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			p := currentPrincipal(c)
			if p == nil {
				return writeError(c, auth.ErrInvalidToken)
			}
			if err := auth.RequireCapability(p.Permissions, cap); err != nil {
				return writeError(c, err)
			}
			return next(c)
		}
	}
}

// rateLimitBody is returned alongside 429 responses (§4.6, §6 scenario S6).
type rateLimitBody struct {
	Error   string    `json:"error"`
	ResetAt time.Time `json:"resetAt"`
}

// rateLimitMiddleware enforces the general fixed-window ceiling. It runs
// before authentication and keys by client address — a pre-auth limiter
// keyed by principal would be a limiter brute-forcers never reach. Fails
// open if the underlying limiter itself errors (§4.6: availability over
// strict enforcement when the counter store is unreachable).
func rateLimitMiddleware(limiter *ratelimit.Limiter, window time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			identity := "ip:" + clientIP(c)

			ok, err := limiter.Allow(c.Request().Context(), identity)
			if err != nil {
				// Fail open: allow the request through but still answer the
				// handler normally.
				return next(c)
			}
			if !ok {
				resetAt := time.Now().UTC().Add(window).Truncate(time.Second)
				return c.JSON(http.StatusTooManyRequests, rateLimitBody{Error: "TooManyRequests", ResetAt: resetAt})
			}
			return next(c)
		}
	}
}

// usageMiddleware appends one api_usage analytics row per admitted request
// (§4.6): endpoint, method, response status, client address, user agent.
// Recording is best-effort — an analytics write failure never fails the
// request it describes.
func usageMiddleware(s *store.Store) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			err := next(c)

			p := currentPrincipal(c)
			if p == nil {
				return err
			}

			row := &models.ApiUsage{
				ApiKeyID:  p.APIKeyID,
				Endpoint:  c.Request().URL.Path,
				Method:    c.Request().Method,
				Status:    c.Response().(*echo.Response).Status,
				IP:        c.Request().RemoteAddr,
				UserAgent: c.Request().UserAgent(),
				Timestamp: time.Now().UTC(),
			}
			if recErr := s.RecordUsage(context.WithoutCancel(c.Request().Context()), row); recErr != nil {
				slog.Warn("api: record usage failed", "endpoint", row.Endpoint, "error", recErr)
			}
			return err
		}
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
