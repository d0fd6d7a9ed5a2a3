package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", ErrNotFound, http.StatusNotFound, "LICENSE_NOT_FOUND"},
		{"invalid request", ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
		{"expired", ErrExpired, http.StatusForbidden, "LICENSE_EXPIRED"},
		{"revoked", ErrRevoked, http.StatusForbidden, "LICENSE_REVOKED"},
		{"email mismatch", ErrEmailMismatch, http.StatusForbidden, "EMAIL_MISMATCH"},
		{"at capacity", ErrAlreadyAtCapacity, http.StatusForbidden, "MAX_ACTIVATIONS_REACHED"},
		{"device conflict", ErrDeviceConflict, http.StatusConflict, "DEVICE_CONFLICT"},
		{"transient", ErrTransient, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"unknown", fmt.Errorf("disk on fire"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := MapDomainError(tt.err)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.ErrorCode)
		})
	}
}

func TestMapDomainErrorUnwrapsWrappedSentinels(t *testing.T) {
	wrapped := fmt.Errorf("activate: %w", ErrDeviceConflict)
	apiErr := MapDomainError(wrapped)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "DEVICE_CONFLICT", apiErr.ErrorCode)
}

func TestMapDomainErrorDoesNotLeakInternals(t *testing.T) {
	apiErr := MapDomainError(fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused"))
	assert.NotContains(t, apiErr.Message, "10.0.0.5")
}

func TestProblemDetailsMarshalIncludesExtensions(t *testing.T) {
	pd := NewProblemDetails(http.StatusBadRequest, "about:blank", "Bad Request", "missing field", "/api/license/activate").
		WithExtension("field", "device_id")

	raw, err := json.Marshal(pd)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "device_id", out["field"])
	assert.Equal(t, float64(http.StatusBadRequest), out["status"])
	assert.Equal(t, "missing field", out["detail"])
}

func TestValidationErrorHelper(t *testing.T) {
	apiErr := ErrValidation("email", "must be a valid address")
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", apiErr.ErrorCode)

	details, ok := apiErr.Details.(ValidationError)
	require.True(t, ok)
	assert.Equal(t, "email", details.Field)
}
