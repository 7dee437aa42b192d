package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentorchestra/orchestra/pkg/auth"
	"github.com/agentorchestra/orchestra/pkg/engine"
	"github.com/agentorchestra/orchestra/pkg/framework"
	"github.com/agentorchestra/orchestra/pkg/store"
)

func TestMapError_Taxonomy(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		code     int
		errLabel string
	}{
		{"agent busy", &engine.ErrAgentBusyConflict{ConflictingExecutionID: "e-1"}, http.StatusConflict, "AgentBusy"},
		{"concurrency", &engine.ErrConcurrencyLimit{Limit: 10}, http.StatusTooManyRequests, "ConcurrencyExceeded"},
		{"validation", &engine.ErrValidation{Errors: []string{"model is required"}}, http.StatusBadRequest, "ValidationFailed"},
		{"unsupported framework", &framework.ErrUnsupportedFramework{Tag: "nope"}, http.StatusBadRequest, "UnsupportedFramework"},
		{"agent inactive", engine.ErrAgentInactive, http.StatusConflict, "AgentInactive"},
		{"not found", store.ErrNotFound, http.StatusNotFound, "NotFound"},
		{"missing capability", auth.ErrMissingCapability, http.StatusForbidden, "Forbidden"},
		{"bad token", auth.ErrInvalidToken, http.StatusUnauthorized, "Unauthorized"},
		{"expired key", auth.ErrAPIKeyInactive, http.StatusUnauthorized, "Unauthorized"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "InternalError"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			herr := mapError(tc.err)
			require.Equal(t, tc.code, herr.Code)
			body, ok := herr.Message.(errorBody)
			require.True(t, ok)
			require.Equal(t, tc.errLabel, body.Error)
		})
	}
}

func TestMapError_AgentBusyCarriesConflictingID(t *testing.T) {
	err := fmt.Errorf("submit: %w", &engine.ErrAgentBusyConflict{ConflictingExecutionID: "exec-42"})
	herr := mapError(err)
	body := herr.Message.(errorBody)
	require.Equal(t, []string{"exec-42"}, body.Details)
}
