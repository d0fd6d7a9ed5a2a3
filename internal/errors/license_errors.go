package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// License-domain sentinel errors. The binding state machine and the store
// return these; transport maps them to HTTP status codes via MapDomainError.
var (
	ErrNotFound          = errors.New("license not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrExpired           = errors.New("license expired")
	ErrRevoked           = errors.New("license revoked")
	ErrDeviceConflict    = errors.New("license bound to another device")
	ErrEmailMismatch     = errors.New("email does not match license owner")
	ErrAlreadyAtCapacity = errors.New("maximum activations reached")
	ErrTransient         = errors.New("storage temporarily unavailable")
)

// DeviceConflictDetails reports the existing binding on a rejected takeover
// so the client can prompt the user before retrying with confirm=true.
type DeviceConflictDetails struct {
	CurrentDeviceID string     `json:"current_device_id"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
	Email           string     `json:"email,omitempty"`
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapDomainError converts a license-domain sentinel into an APIError with the
// right status code. Unknown errors map to a 500 without leaking internals.
func MapDomainError(err error) *APIError {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrLicenseNotFound
	case errors.Is(err, ErrInvalidRequest):
		return InvalidRequestWithError(err)
	case errors.Is(err, ErrExpired):
		return New(http.StatusForbidden, "LICENSE_EXPIRED", "License has expired")
	case errors.Is(err, ErrRevoked):
		return New(http.StatusForbidden, "LICENSE_REVOKED", "License has been revoked")
	case errors.Is(err, ErrEmailMismatch):
		return New(http.StatusForbidden, "EMAIL_MISMATCH", "Email does not match license owner")
	case errors.Is(err, ErrAlreadyAtCapacity):
		return New(http.StatusForbidden, "MAX_ACTIVATIONS_REACHED", "Maximum activations reached for this license")
	case errors.Is(err, ErrDeviceConflict):
		return New(http.StatusConflict, "DEVICE_CONFLICT", "License already activated on another device")
	case errors.Is(err, ErrTransient):
		return ErrServiceUnavailable
	default:
		return ErrInternalServer
	}
}
