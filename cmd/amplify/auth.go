package main

import (
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/asotjrs/amplify-go/auth"
	"github.com/asotjrs/amplify-go/session"
)

var (
	signinFlow     string
	signupAttrs    []string
	confirmResend  bool
	sessionJSON    bool
	sessionRefresh bool
	signoutGlobal  bool
)

var signinCmd = &cobra.Command{
	Use:   "signin <username>",
	Short: "Sign in, walking any challenge the pool raises",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		username := args[0]

		password, err := promptSecret("Password: ")
		if err != nil {
			return err
		}
		var opts *auth.SignInOptions
		if signinFlow != "" {
			opts = &auth.SignInOptions{AuthFlowType: signinFlow}
		}
		res, err := rt.auth.SignIn(ctx, username, password, opts)
		if err != nil {
			return err
		}

		for !res.IsSignedIn {
			res, err = answerNextStep(cmd, rt, res.NextStep)
			if err != nil {
				return err
			}
			if res.NextStep.SignInStep == "" && !res.IsSignedIn {
				// A redirecting step printed its instruction and stopped.
				return nil
			}
		}

		me, err := rt.auth.CurrentUser(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Signed in as %s\n", me.Username)
		return nil
	},
}

// answerNextStep prompts for whatever the pending step needs and submits the
// answer. Redirecting steps print their instruction and return a zero result.
func answerNextStep(cmd *cobra.Command, rt *runtime, step auth.SignInNextStep) (auth.SignInResult, error) {
	ctx := cmd.Context()
	switch step.SignInStep {
	case auth.SignInStepConfirmWithSMSCode:
		if d := step.CodeDeliveryDetails; d != nil {
			fmt.Fprintf(os.Stderr, "A code was sent by %s to %s\n", d.DeliveryMedium, d.Destination)
		}
		code, err := promptLine("SMS code: ")
		if err != nil {
			return auth.SignInResult{}, err
		}
		return rt.auth.ConfirmSignIn(ctx, code, nil)

	case auth.SignInStepConfirmWithTOTPCode:
		code, err := promptLine("Authenticator code: ")
		if err != nil {
			return auth.SignInResult{}, err
		}
		return rt.auth.ConfirmSignIn(ctx, code, nil)

	case auth.SignInStepContinueWithTOTPSetup:
		if step.TOTPSetupDetails != nil {
			fmt.Fprintf(os.Stderr, "Enroll your authenticator app with secret %s\n", step.TOTPSetupDetails.SharedSecret)
		}
		code, err := promptLine("First authenticator code: ")
		if err != nil {
			return auth.SignInResult{}, err
		}
		return rt.auth.ConfirmSignIn(ctx, code, nil)

	case auth.SignInStepContinueWithMFASelection:
		fmt.Fprintf(os.Stderr, "Available MFA methods: %v\n", step.AllowedMFATypes)
		choice, err := promptLine("Choose SMS or TOTP: ")
		if err != nil {
			return auth.SignInResult{}, err
		}
		return rt.auth.ConfirmSignIn(ctx, choice, nil)

	case auth.SignInStepConfirmWithNewPassword:
		password, err := promptSecret("New password: ")
		if err != nil {
			return auth.SignInResult{}, err
		}
		attrs := map[string]string{}
		for _, name := range step.MissingAttributes {
			value, err := promptLine(name + ": ")
			if err != nil {
				return auth.SignInResult{}, err
			}
			attrs[name] = value
		}
		var opts *auth.ConfirmSignInOptions
		if len(attrs) > 0 {
			opts = &auth.ConfirmSignInOptions{UserAttributes: attrs}
		}
		return rt.auth.ConfirmSignIn(ctx, password, opts)

	case auth.SignInStepConfirmWithCustomChallenge:
		for key, value := range step.AdditionalInfo {
			fmt.Fprintf(os.Stderr, "%s: %s\n", key, value)
		}
		answer, err := promptLine("Answer: ")
		if err != nil {
			return auth.SignInResult{}, err
		}
		return rt.auth.ConfirmSignIn(ctx, answer, nil)

	case auth.SignInStepResetPassword:
		fmt.Println("A password reset is required; run: amplify reset-password <username>")
		return auth.SignInResult{}, nil

	case auth.SignInStepConfirmSignUp:
		fmt.Println("The account is not confirmed yet; run: amplify confirm <username> <code>")
		return auth.SignInResult{}, nil
	}
	return auth.SignInResult{}, fmt.Errorf("unexpected sign-in step %q", step.SignInStep)
}

var signupCmd = &cobra.Command{
	Use:   "signup <username>",
	Short: "Register a new account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		attrs, err := parsePairs(signupAttrs)
		if err != nil {
			return err
		}
		password, err := promptSecret("Password: ")
		if err != nil {
			return err
		}

		res, err := rt.auth.SignUp(ctx, args[0], password, attrs, nil)
		if err != nil {
			return err
		}
		if res.IsSignUpComplete {
			fmt.Println("Sign-up complete; you can sign in now")
			return nil
		}
		if d := res.NextStep.CodeDeliveryDetails; d != nil {
			fmt.Printf("A confirmation code was sent by %s to %s\n", d.DeliveryMedium, d.Destination)
		}
		fmt.Printf("Confirm with: amplify confirm %s <code>\n", args[0])
		return nil
	},
}

var confirmCmd = &cobra.Command{
	Use:   "confirm <username> [code]",
	Short: "Confirm a registration with the delivered code",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		if confirmResend {
			delivery, err := rt.auth.ResendSignUpCode(ctx, args[0], nil)
			if err != nil {
				return err
			}
			fmt.Printf("A fresh code was sent by %s to %s\n", delivery.DeliveryMedium, delivery.Destination)
			return nil
		}
		if len(args) < 2 {
			return fmt.Errorf("a confirmation code is required (or pass --resend)")
		}
		if _, err := rt.auth.ConfirmSignUp(ctx, args[0], args[1], nil); err != nil {
			return err
		}
		fmt.Println("Account confirmed; you can sign in now")
		return nil
	},
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password <username>",
	Short: "Run the forgot-password flow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		res, err := rt.auth.ResetPassword(ctx, args[0])
		if err != nil {
			return err
		}
		if d := res.NextStep.CodeDeliveryDetails; d != nil {
			fmt.Fprintf(os.Stderr, "A reset code was sent by %s to %s\n", d.DeliveryMedium, d.Destination)
		}
		code, err := promptLine("Reset code: ")
		if err != nil {
			return err
		}
		password, err := promptSecret("New password: ")
		if err != nil {
			return err
		}
		if err := rt.auth.ConfirmResetPassword(ctx, args[0], password, code); err != nil {
			return err
		}
		fmt.Println("Password reset; sign in with the new password")
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show the current session's tokens and credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		var opts []session.FetchOption
		if sessionRefresh {
			opts = append(opts, session.WithForceRefresh())
		}
		sess, err := rt.auth.FetchSession(ctx, opts...)
		if err != nil {
			return err
		}

		view := sessionView(sess)
		if sessionJSON {
			out, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		if view.SignedIn {
			fmt.Printf("Signed in as %s (sub %s)\n", view.Username, view.UserID)
			fmt.Printf("Tokens expire at %s\n", view.TokensExpireAt.Format(time.RFC3339))
		} else {
			fmt.Println("Signed out (guest session)")
		}
		if view.IdentityID != "" {
			fmt.Printf("Identity: %s\n", view.IdentityID)
		}
		if view.AccessKeyID != "" {
			fmt.Printf("Credentials: %s, expire at %s\n", view.AccessKeyID, view.CredentialsExpireAt.Format(time.RFC3339))
		}
		return nil
	},
}

// sessionSummary is the printable shape of a session, without secrets.
type sessionSummary struct {
	SignedIn            bool      `json:"signedIn"`
	Username            string    `json:"username,omitempty"`
	UserID              string    `json:"userId,omitempty"`
	TokensExpireAt      time.Time `json:"tokensExpireAt,omitempty"`
	IdentityID          string    `json:"identityId,omitempty"`
	AccessKeyID         string    `json:"accessKeyId,omitempty"`
	CredentialsExpireAt time.Time `json:"credentialsExpireAt,omitempty"`
}

func sessionView(sess *session.Session) sessionSummary {
	view := sessionSummary{SignedIn: sess.SignedIn(), IdentityID: sess.IdentityID}
	if view.SignedIn {
		view.Username = sess.Tokens.Username()
		view.UserID = sess.Tokens.Sub()
		view.TokensExpireAt = time.UnixMilli(sess.Tokens.ExpiresAt).UTC()
	}
	if sess.Credentials != nil {
		view.AccessKeyID = sess.Credentials.AccessKeyID
		view.CredentialsExpireAt = time.UnixMilli(sess.Credentials.ExpiresAt).UTC()
	}
	return view
}

var signoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Discard the local session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		var opts *auth.SignOutOptions
		if signoutGlobal {
			opts = &auth.SignOutOptions{Global: true}
		}
		if err := rt.auth.SignOut(ctx, opts); err != nil {
			return err
		}
		fmt.Println("Signed out")
		return nil
	},
}

func init() {
	signinCmd.Flags().StringVar(&signinFlow, "flow", "", "auth flow override (USER_SRP_AUTH, USER_PASSWORD_AUTH, CUSTOM_AUTH)")
	signupCmd.Flags().StringArrayVar(&signupAttrs, "attr", nil, "user attribute as name=value (repeatable)")
	confirmCmd.Flags().BoolVar(&confirmResend, "resend", false, "resend the confirmation code instead of confirming")
	sessionCmd.Flags().BoolVar(&sessionJSON, "json", false, "print the session as JSON")
	sessionCmd.Flags().BoolVar(&sessionRefresh, "force-refresh", false, "refresh tokens and credentials even when still valid")
	signoutCmd.Flags().BoolVar(&signoutGlobal, "global", false, "also revoke tokens on every device")

	rootCmd.AddCommand(signinCmd, signupCmd, confirmCmd, resetPasswordCmd, sessionCmd, signoutCmd)
}
