// Package auth implements the user pool sign-in, sign-up, and account
// lifecycle operations. Multi-step flows surface as next-step results: each
// call returns either a terminal outcome or the single step the caller must
// perform next, and the package keeps the continuation state needed to
// resume.
package auth

import (
	"net/url"
)

// SignInStep tells the caller what a sign-in attempt needs next.
type SignInStep string

const (
	// SignInStepDone means the user is signed in and the session is cached.
	SignInStepDone SignInStep = "DONE"
	// SignInStepConfirmWithSMSCode asks for the code delivered by SMS.
	SignInStepConfirmWithSMSCode SignInStep = "CONFIRM_SIGN_IN_WITH_SMS_CODE"
	// SignInStepConfirmWithTOTPCode asks for a code from the user's
	// authenticator app.
	SignInStepConfirmWithTOTPCode SignInStep = "CONFIRM_SIGN_IN_WITH_TOTP_CODE"
	// SignInStepContinueWithTOTPSetup asks the user to enroll an
	// authenticator app with the shared secret in TOTPSetupDetails, then
	// confirm with its first code.
	SignInStepContinueWithTOTPSetup SignInStep = "CONTINUE_SIGN_IN_WITH_TOTP_SETUP"
	// SignInStepContinueWithMFASelection asks the user to pick one of
	// AllowedMFATypes.
	SignInStepContinueWithMFASelection SignInStep = "CONTINUE_SIGN_IN_WITH_MFA_SELECTION"
	// SignInStepConfirmWithNewPassword asks for a replacement for the
	// temporary password.
	SignInStepConfirmWithNewPassword SignInStep = "CONFIRM_SIGN_IN_WITH_NEW_PASSWORD_REQUIRED"
	// SignInStepConfirmWithCustomChallenge asks for the answer to a
	// pool-defined custom challenge.
	SignInStepConfirmWithCustomChallenge SignInStep = "CONFIRM_SIGN_IN_WITH_CUSTOM_CHALLENGE"
	// SignInStepResetPassword means the account requires a password reset
	// before it can sign in; run ResetPassword, then sign in again.
	SignInStepResetPassword SignInStep = "RESET_PASSWORD"
	// SignInStepConfirmSignUp means the account was never confirmed; run
	// ConfirmSignUp, then sign in again.
	SignInStepConfirmSignUp SignInStep = "CONFIRM_SIGN_UP"
)

// SignUpStep tells the caller what a registration needs next.
type SignUpStep string

const (
	SignUpStepDone          SignUpStep = "DONE"
	SignUpStepConfirmSignUp SignUpStep = "CONFIRM_SIGN_UP"
)

// ResetPasswordStep tells the caller what a password reset needs next.
type ResetPasswordStep string

const (
	ResetPasswordStepDone            ResetPasswordStep = "DONE"
	ResetPasswordStepConfirmWithCode ResetPasswordStep = "CONFIRM_RESET_PASSWORD_WITH_CODE"
)

// CodeDeliveryDetails describes where a confirmation code was sent. The
// delivery medium and masked destination are echoed verbatim from the
// service.
type CodeDeliveryDetails struct {
	Destination    string `json:"destination"`
	DeliveryMedium string `json:"deliveryMedium"`
	AttributeName  string `json:"attributeName,omitempty"`
}

// TOTPSetupDetails carries the shared secret for enrolling an authenticator
// app during SignInStepContinueWithTOTPSetup.
type TOTPSetupDetails struct {
	SharedSecret string `json:"sharedSecret"`
}

// SetupURI renders the otpauth:// URI most authenticator apps accept.
//
// Example:
//
//	uri := details.SetupURI("MyApp", "casey@example.com")
func (d TOTPSetupDetails) SetupURI(issuer, accountName string) string {
	q := url.Values{}
	q.Set("secret", d.SharedSecret)
	q.Set("issuer", issuer)
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + accountName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// SignInNextStep is the instruction half of a sign-in result. Fields beyond
// SignInStep are populated only when the step needs them.
type SignInNextStep struct {
	SignInStep          SignInStep           `json:"signInStep"`
	CodeDeliveryDetails *CodeDeliveryDetails `json:"codeDeliveryDetails,omitempty"`
	AdditionalInfo      map[string]string    `json:"additionalInfo,omitempty"`
	AllowedMFATypes     []string             `json:"allowedMFATypes,omitempty"`
	MissingAttributes   []string             `json:"missingAttributes,omitempty"`
	TOTPSetupDetails    *TOTPSetupDetails    `json:"totpSetupDetails,omitempty"`
}

// SignInResult is returned by SignIn and ConfirmSignIn.
type SignInResult struct {
	IsSignedIn bool           `json:"isSignedIn"`
	NextStep   SignInNextStep `json:"nextStep"`
}

// SignUpNextStep is the instruction half of a sign-up result.
type SignUpNextStep struct {
	SignUpStep          SignUpStep           `json:"signUpStep"`
	CodeDeliveryDetails *CodeDeliveryDetails `json:"codeDeliveryDetails,omitempty"`
}

// SignUpResult is returned by SignUp and ConfirmSignUp.
type SignUpResult struct {
	IsSignUpComplete bool           `json:"isSignUpComplete"`
	UserID           string         `json:"userId,omitempty"`
	NextStep         SignUpNextStep `json:"nextStep"`
}

// ResetPasswordNextStep is the instruction half of a reset result.
type ResetPasswordNextStep struct {
	ResetPasswordStep   ResetPasswordStep    `json:"resetPasswordStep"`
	CodeDeliveryDetails *CodeDeliveryDetails `json:"codeDeliveryDetails,omitempty"`
}

// ResetPasswordResult is returned by ResetPassword.
type ResetPasswordResult struct {
	IsPasswordReset bool                  `json:"isPasswordReset"`
	NextStep        ResetPasswordNextStep `json:"nextStep"`
}

// User identifies the signed-in principal.
type User struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}
