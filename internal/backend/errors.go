package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// NetworkError is a transport failure: the backend was never heard from.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError carries a non-2xx backend response.
type HTTPError struct {
	Op     string
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	if message := e.Message(); message != "" {
		return fmt.Sprintf("%s: http %d: %s", e.Op, e.Status, message)
	}
	return fmt.Sprintf("%s: http %d", e.Op, e.Status)
}

// Message returns the backend's own error text from an {"error"} or
// {"detail"} body.
func (e *HTTPError) Message() string {
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(e.Body, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Detail
}

// FieldError returns the first validation message found under keys, tried
// in order. Values may be a string or a list of strings.
func (e *HTTPError) FieldError(keys ...string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Body, &fields); err != nil {
		return ""
	}
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			if len(list) > 0 && strings.TrimSpace(list[0]) != "" {
				return list[0]
			}
			continue
		}
		var single string
		if err := json.Unmarshal(raw, &single); err == nil && strings.TrimSpace(single) != "" {
			return single
		}
	}
	return ""
}

// ReconciliationError means the backend answered but the payload could not
// be applied: wrong shape or a required field missing.
type ReconciliationError struct {
	Op     string
	Detail string
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("%s: unexpected response: %s", e.Op, e.Detail)
}

// ValidationError is raised locally and never reaches the network.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AuthError means the credential was rejected and could not be refreshed.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication required: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Reason is the short text shown to the user for err: the backend's own
// message when it sent one, otherwise the error itself.
func Reason(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if message := httpErr.Message(); message != "" {
			return message
		}
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Err.Error()
	}
	return err.Error()
}

// StatusCode returns the HTTP status behind err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}
