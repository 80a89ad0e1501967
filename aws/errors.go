package aws

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// ServiceError describes a request the remote service rejected or failed. It
// preserves the remote error code so callers can branch on it, and wraps the
// SDK error so errors.As still reaches the concrete modeled exception types.
type ServiceError struct {
	Operation string            // API operation, e.g. "InitiateAuth"
	Code      string            // remote error code, e.g. "NotAuthorizedException"
	Message   string            // remote message text
	Fault     smithy.ErrorFault // whether the client or the server is at fault
	Err       error             // the underlying SDK error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Operation, e.Code, e.Message)
}

// Unwrap exposes the underlying SDK error for errors.Is and errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps an SDK error into a ServiceError tagged with the
// operation that produced it. Passing nil returns nil, so call sites can wrap
// unconditionally.
//
// Example:
//
//	out, err := client.InitiateAuth(ctx, input)
//	if err != nil {
//	    return aws.NewServiceError("InitiateAuth", err)
//	}
func NewServiceError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &ServiceError{
			Operation: operation,
			Code:      apiErr.ErrorCode(),
			Message:   apiErr.ErrorMessage(),
			Fault:     apiErr.ErrorFault(),
			Err:       err,
		}
	}
	return &ServiceError{
		Operation: operation,
		Code:      "UnknownError",
		Message:   err.Error(),
		Fault:     smithy.FaultUnknown,
		Err:       err,
	}
}

// ErrorCode returns the remote error code carried by err, or an empty string
// when err carries none.
func ErrorCode(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsCode reports whether err carries the given remote error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// throttleCodes covers the throttling shapes the Cognito and Pinpoint APIs
// return under load.
var throttleCodes = map[string]struct{}{
	"TooManyRequestsException": {},
	"ThrottlingException":      {},
	"LimitExceededException":   {},
	"SlowDown":                 {},
}

// IsThrottle reports whether err is a rate-limiting rejection that a caller
// should retry with backoff rather than surface.
func IsThrottle(err error) bool {
	_, ok := throttleCodes[ErrorCode(err)]
	return ok
}
