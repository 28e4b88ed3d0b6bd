package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error the dashboard API reports with its own status and
// code instead of deriving them from the cause.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

func notFound(what string, details any) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", details)
}
