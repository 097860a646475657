package medusa

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/tidwall/gjson"
)

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Type    string
	Message string
	raw     string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

// StatusCode returns the HTTP status of the rejected call.
func (e *StatusError) StatusCode() int { return e.Status }

// Body returns the (truncated) response body.
func (e *StatusError) Body() string { return e.raw }

// Rejected reports a 4xx: the backend understood the call and refused it.
func (e *StatusError) Rejected() bool {
	return e.Status >= 400 && e.Status < 500
}

// Refused reports a 4xx that refuses the request itself. Credential and
// throttling responses are excluded: the call may succeed on retry.
func (e *StatusError) Refused() bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

func newStatusError(method, path string, status int, body []byte) error {
	statusErr := &StatusError{
		Method: method,
		Path:   path,
		Status: status,
		raw:    strings.TrimSpace(string(body)),
	}
	if gjson.ValidBytes(body) {
		statusErr.Message = gjson.GetBytes(body, "message").String()
		statusErr.Type = gjson.GetBytes(body, "type").String()
	}

	code := codeForStatus(status)
	message := statusErr.Message
	if message == "" {
		message = fmt.Sprintf("medusa request failed with status %d", status)
	}
	wrapped := pkgerrors.Wrap(code, statusErr, message)
	if pkgerrors.MetadataFor(code).DetailsAllowed {
		details := map[string]any{"upstream_status": status}
		if statusErr.Type != "" {
			details["upstream_type"] = statusErr.Type
		}
		wrapped = wrapped.WithDetails(details)
	}
	return wrapped
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case status == http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusConflict:
		return pkgerrors.CodeConflict
	case status == http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case status >= 400 && status < 500:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

// IsRejection reports whether err carries a 4xx response from the backend.
func IsRejection(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Rejected()
	}
	return false
}

// IsRefusal reports whether err carries a 400, 409 or 422 from the backend.
func IsRefusal(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Refused()
	}
	return false
}

// errMalformed reports a 2xx response whose body did not match the endpoint contract.
func errMalformed(what string) error {
	return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("medusa response missing %s", what))
}
