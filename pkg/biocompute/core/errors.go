package core

import "fmt"

// Error codes for the biocompute package
const (
	ErrCodeSourceUnavailable = 1
	ErrCodeNotInitialized    = 2
	ErrCodeInvalidPattern    = 3
	ErrCodeCaptureTimeout    = 4
	ErrCodeReinforceFailed   = 5
)

// SourceError is a structured error type for signal-source failures
type SourceError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *SourceError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("biocompute: [%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("biocompute: [%d] %s", e.Code, e.Message)
}

// Is matches SourceErrors by code, so constructed errors compare equal
// to the predefined sentinels under errors.Is.
func (e *SourceError) Is(target error) bool {
	t, ok := target.(*SourceError)
	return ok && t.Code == e.Code
}

func NewError(code int, message string, details ...string) error {
	err := &SourceError{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// Predefined errors
var (
	ErrSourceUnavailable = NewError(ErrCodeSourceUnavailable, "signal source unavailable")
	ErrNotInitialized    = NewError(ErrCodeNotInitialized, "signal source not initialized")
	ErrInvalidPattern    = NewError(ErrCodeInvalidPattern, "invalid stimulus pattern")
)
