package auth

import (
	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to validation and usage errors raised locally, before
// any network call. Remote failures surface as *aws.ServiceError instead and
// keep the service's own error code.
const (
	// CodeEmptyUsername is returned when a username is required but blank.
	CodeEmptyUsername = "EMPTY_USERNAME"
	// CodeEmptyPassword is returned when a password is required but blank.
	CodeEmptyPassword = "EMPTY_PASSWORD"
	// CodeEmptyConfirmation is returned when a challenge response or
	// confirmation code is blank.
	CodeEmptyConfirmation = "EMPTY_CONFIRMATION"
	// CodeSignInInProgress is returned when SignIn is called while another
	// attempt is authenticating or waiting on a challenge response.
	CodeSignInInProgress = "SIGN_IN_IN_PROGRESS"
	// CodeSignUpInProgress is returned when SignUp or ConfirmSignUp is
	// called while another registration call is in flight.
	CodeSignUpInProgress = "SIGN_UP_IN_PROGRESS"
	// CodeNoPendingChallenge is returned when ConfirmSignIn is called with
	// no challenge outstanding.
	CodeNoPendingChallenge = "NO_PENDING_CHALLENGE"
	// CodeStaleChallenge is returned when a challenge round-trip completes
	// after the attempt it belonged to was abandoned or superseded.
	CodeStaleChallenge = "STALE_CHALLENGE"
	// CodeSignedOut is returned by operations that need an active session
	// when there is none.
	CodeSignedOut = "SIGNED_OUT"
	// CodeInvalidFlow is returned when a sign-in call names an auth flow
	// this client does not implement.
	CodeInvalidFlow = "INVALID_FLOW"
)

func newValidationError(textCode, message string) error {
	return goerrors.New(message, goerrors.CategoryValidation).
		WithTextCode(textCode).
		WithCode(goerrors.CodeBadRequest)
}

func newUsageError(textCode, message string) error {
	return goerrors.New(message, goerrors.CategoryConflict).
		WithTextCode(textCode).
		WithCode(goerrors.CodeConflict)
}

func newSignedOutError(message string) error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithTextCode(CodeSignedOut).
		WithCode(goerrors.CodeUnauthorized)
}

// requireNonEmpty validates a required string input and tags the failure
// with the given text code.
func requireNonEmpty(value, textCode, message string) error {
	if err := validation.Validate(value, validation.Required); err != nil {
		return newValidationError(textCode, message)
	}
	return nil
}

// ErrorTextCode extracts the local text code from err, or "" when err did
// not originate from this package's validation and usage checks.
//
// Example:
//
//	if auth.ErrorTextCode(err) == auth.CodeSignInInProgress {
//		// another attempt holds the slot; retry after it settles
//	}
func ErrorTextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode
	}
	return ""
}
