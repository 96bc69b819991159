package mining

import "fmt"

// Error codes for the mining package
const (
	ErrCodeSourceUnavailable  = 1
	ErrCodeInvalidResponse    = 2
	ErrCodeFetchFailure       = 3
	ErrCodeValidationMismatch = 4
	ErrCodeNoNonceFound       = 5
	ErrCodeConfiguration      = 6
	ErrCodeInvalidHeader      = 7
)

// MiningError is a structured error type for the mining pipeline
type MiningError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *MiningError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("mining: [%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("mining: [%d] %s", e.Code, e.Message)
}

// Is lets wrapped instances match their predefined sentinel by code
func (e *MiningError) Is(target error) bool {
	t, ok := target.(*MiningError)
	return ok && t.Code == e.Code
}

func NewError(code int, message string, details ...string) error {
	err := &MiningError{
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
	ErrSourceUnavailable  = NewError(ErrCodeSourceUnavailable, "signal source unavailable")
	ErrInvalidResponse    = NewError(ErrCodeInvalidResponse, "invalid biological response")
	ErrFetchFailure       = NewError(ErrCodeFetchFailure, "block fetch failed")
	ErrValidationMismatch = NewError(ErrCodeValidationMismatch, "fetched block height mismatch")
	ErrNoNonceFound       = NewError(ErrCodeNoNonceFound, "no valid nonce in search windows")
	ErrConfiguration      = NewError(ErrCodeConfiguration, "invalid configuration")
	ErrInvalidHeader      = NewError(ErrCodeInvalidHeader, "invalid block header")
)
