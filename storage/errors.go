package storage

import (
	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to errors raised locally, before any network call.
// Remote failures surface as *aws.ServiceError and keep the service's own
// error code.
const (
	// CodeEmptyKey is returned when an object key is required but blank.
	CodeEmptyKey = "EMPTY_KEY"
	// CodeInvalidAccessLevel is returned when an access level is not one of
	// guest, protected, or private.
	CodeInvalidAccessLevel = "INVALID_ACCESS_LEVEL"
	// CodeInvalidTarget is returned when a target identity is supplied for
	// an operation or level that cannot use one.
	CodeInvalidTarget = "INVALID_TARGET_IDENTITY"
	// CodeNoIdentity is returned when a protected or private operation runs
	// without an identity ID to scope it.
	CodeNoIdentity = "NO_IDENTITY"
	// CodeSessionExpired is returned when the session expires too soon to
	// sign a usable URL.
	CodeSessionExpired = "SESSION_EXPIRED"
)

func newValidationError(textCode, message string) error {
	return goerrors.New(message, goerrors.CategoryValidation).
		WithTextCode(textCode).
		WithCode(goerrors.CodeBadRequest)
}

func newNoIdentityError() error {
	return goerrors.New("no identity available; protected and private storage need an identity pool session", goerrors.CategoryAuth).
		WithTextCode(CodeNoIdentity).
		WithCode(goerrors.CodeUnauthorized)
}

func newSessionExpiredError() error {
	return goerrors.New("session expires before a usable URL lifetime remains", goerrors.CategoryAuth).
		WithTextCode(CodeSessionExpired).
		WithCode(goerrors.CodeUnauthorized)
}

// requireKey validates the object key shared by every single-object
// operation.
func requireKey(key string) error {
	if err := validation.Validate(key, validation.Required); err != nil {
		return newValidationError(CodeEmptyKey, "object key must not be empty")
	}
	return nil
}

// ErrorTextCode extracts the local text code from err, or "" when err did not
// originate from this package's validation checks.
func ErrorTextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode
	}
	return ""
}
