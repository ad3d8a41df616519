package payments

import "errors"

// Stable error codes surfaced to API callers. These are part of the
// external contract and must not be renamed.
const (
	CodeValidationError        = "validation_error"
	CodeAmountOutOfRange       = "amount_out_of_range"
	CodeGatewayError           = "gateway_error"
	CodeNoGatewayAvailable     = "no_gateway_available"
	CodeQuoteExpired           = "quote_expired"
	CodeInsufficientBalance    = "insufficient_balance"
	CodeInvalidStateTransition = "invalid_state_transition"
	CodeNotFound               = "not_found"
	CodeInternalError          = "internal_error"
)

// ServiceError pairs a stable code with a human-readable message. The
// transport layer maps codes to HTTP statuses; the cause stays internal.
type ServiceError struct {
	Code    string
	Message string
	cause   error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *ServiceError) Unwrap() error { return e.cause }

func newError(code, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, cause: cause}
}

// AsServiceError extracts a *ServiceError from an error chain.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
