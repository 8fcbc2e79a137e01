package app

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"sdlcboard/api/internal/workflow"
)

// ErrHistoryUnsupported is returned by History when the configured store
// keeps only the latest board.
var ErrHistoryUnsupported = errors.New("store does not keep revision history")

// DomainError carries the HTTP status and code a request failure maps to.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func invalidBody(message string) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_BODY", message, nil)
}

// ConflictError reports that the stored board changed after the copy the
// caller edited.
type ConflictError struct {
	LastModified   time.Time
	LastModifiedBy string
}

func (e *ConflictError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("board was modified at %s by %s", e.LastModified.Format(time.RFC3339), e.LastModifiedBy)
}

// conflictBody is the 409 payload the board page shows before asking the
// user to reload.
func (e *ConflictError) conflictBody() map[string]any {
	return map[string]any{
		"success":        false,
		"error":          "Conflict detected",
		"message":        "File was modified by another user. Please refresh and try again.",
		"lastModified":   workflow.FormatTimestamp(e.LastModified),
		"lastModifiedBy": e.LastModifiedBy,
	}
}
