package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentorchestra/orchestra/pkg/auth"
	"github.com/agentorchestra/orchestra/pkg/engine"
	"github.com/agentorchestra/orchestra/pkg/framework"
	"github.com/agentorchestra/orchestra/pkg/store"
)

// errMissingToken is returned by wsHandler when the upgrade request
// carries no ?token= query parameter.
var errMissingToken = auth.ErrInvalidToken

// errorBody is the structured shape every 4xx/5xx response carries (§7):
// a short machine-readable reason plus zero or more human-readable details.
type errorBody struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// mappedError carries the HTTP status and JSON body mapError assigns an
// internal error, mirroring echo.HTTPError's shape without echo v5's
// string-only Message restriction (errorBody needs to stay structured).
type mappedError struct {
	Code    int
	Message interface{}
}

// mapError translates an internal error into the mappedError the §7
// taxonomy assigns it: client/validation -> 4xx, conflict -> 409/429,
// not found -> 404, everything unrecognized -> 500 (internal invariant).
func mapError(err error) *mappedError {
	var busy *engine.ErrAgentBusyConflict
	if errors.As(err, &busy) {
		return &mappedError{http.StatusConflict, errorBody{
			Error:   "AgentBusy",
			Details: []string{busy.ConflictingExecutionID},
		}}
	}

	var concurrency *engine.ErrConcurrencyLimit
	if errors.As(err, &concurrency) {
		return &mappedError{http.StatusTooManyRequests, errorBody{Error: "ConcurrencyExceeded"}}
	}

	var validation *engine.ErrValidation
	if errors.As(err, &validation) {
		return &mappedError{http.StatusBadRequest, errorBody{Error: "ValidationFailed", Details: validation.Errors}}
	}

	var unsupported *framework.ErrUnsupportedFramework
	if errors.As(err, &unsupported) {
		return &mappedError{http.StatusBadRequest, errorBody{Error: "UnsupportedFramework"}}
	}

	switch {
	case errors.Is(err, engine.ErrAgentInactive):
		return &mappedError{http.StatusConflict, errorBody{Error: "AgentInactive"}}
	case errors.Is(err, store.ErrNotFound):
		return &mappedError{http.StatusNotFound, errorBody{Error: "NotFound"}}
	case errors.Is(err, store.ErrConflict):
		return &mappedError{http.StatusConflict, errorBody{Error: "Conflict"}}
	case errors.Is(err, auth.ErrMissingCapability):
		return &mappedError{http.StatusForbidden, errorBody{Error: "Forbidden"}}
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, auth.ErrUserInactive), errors.Is(err, auth.ErrInvalidAPIKey),
		errors.Is(err, auth.ErrAPIKeyInactive):
		return &mappedError{http.StatusUnauthorized, errorBody{Error: "Unauthorized"}}
	default:
		return &mappedError{http.StatusInternalServerError, errorBody{Error: "InternalError"}}
	}
}

// writeError maps err and writes it, honoring the mappedError's message
// shape (which mapError already produces as an errorBody).
func writeError(c *echo.Context, err error) error {
	herr := mapError(err)
	if body, ok := herr.Message.(errorBody); ok {
		return c.JSON(herr.Code, body)
	}
	return c.JSON(herr.Code, errorBody{Error: http.StatusText(herr.Code)})
}
