package auth

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"

	"github.com/asotjrs/amplify-go/aws"
	"github.com/asotjrs/amplify-go/config"
	"github.com/asotjrs/amplify-go/hub"
	"github.com/asotjrs/amplify-go/logging"
	"github.com/asotjrs/amplify-go/metrics"
	"github.com/asotjrs/amplify-go/session"
)

// Client is the auth category. It drives the user pool sign-in and
// registration flows, delegates session and credential lifecycle to the
// session cache, and publishes auth events on the hub.
//
// Example:
//
//	client := auth.New(&cfg.Auth, idp, cache, auth.WithHub(events))
//	res, err := client.SignIn(ctx, "casey", "hunter2!", nil)
//	if err != nil {
//		return err
//	}
//	if !res.IsSignedIn {
//		fmt.Println("next step:", res.NextStep.SignInStep)
//	}
type Client struct {
	cfg    *config.AuthConfig
	idp    aws.CognitoIdentityProviderClient
	cache  *session.Cache
	log    logging.Logger
	met    *metrics.Metrics
	events *hub.Hub
	now    func() time.Time

	signIn *signInMachine
	signUp *signUpMachine
}

// Option configures a Client.
type Option func(*Client)

// WithLogger routes the client's log output.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.log = logging.OrNop(l) }
}

// WithMetrics shares a metrics registry with the client.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.met = m }
}

// WithHub publishes signedIn, signedOut, signedUp and signInFailed events on
// the given hub.
func WithHub(h *hub.Hub) Option {
	return func(c *Client) { c.events = h }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds the auth category client. The cache also needs the identity
// client when an identity pool is configured; wire both through
// session.NewCache first.
func New(cfg *config.AuthConfig, idp aws.CognitoIdentityProviderClient, cache *session.Cache, opts ...Option) *Client {
	c := &Client{
		cfg:   cfg,
		idp:   idp,
		cache: cache,
		log:   logging.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.met == nil {
		c.met = metrics.NewMetrics()
	}
	c.signIn = &signInMachine{
		cfg:    cfg,
		idp:    idp,
		cache:  cache,
		log:    c.log,
		met:    c.met,
		events: c.events,
		now:    c.now,
	}
	c.signUp = &signUpMachine{
		cfg:    cfg,
		idp:    idp,
		log:    c.log,
		events: c.events,
		now:    c.now,
	}
	return c
}

// SignInOptions are the optional knobs for one SignIn call. A nil pointer
// means defaults.
type SignInOptions struct {
	// AuthFlowType overrides the configured flow for this call. One of
	// config.FlowUserSRP, config.FlowUserPassword, config.FlowCustom.
	AuthFlowType string
	// ClientMetadata is forwarded to the pool's lambda triggers.
	ClientMetadata map[string]string
}

// ConfirmSignInOptions are the optional knobs for one ConfirmSignIn call.
type ConfirmSignInOptions struct {
	// UserAttributes supplies values for attributes the
	// CONFIRM_SIGN_IN_WITH_NEW_PASSWORD_REQUIRED step reported missing.
	UserAttributes map[string]string
	// ClientMetadata is forwarded to the pool's lambda triggers.
	ClientMetadata map[string]string
}

// SignUpOptions are the optional knobs for the registration calls.
type SignUpOptions struct {
	// ClientMetadata is forwarded to the pool's lambda triggers.
	ClientMetadata map[string]string
}

// SignOutOptions are the optional knobs for SignOut.
type SignOutOptions struct {
	// Global revokes the user's tokens on every device, not just here.
	Global bool
}

// SignIn starts a sign-in attempt. The result either reports IsSignedIn or
// names the next step the caller must perform via ConfirmSignIn. While an
// attempt is authenticating or suspended on a challenge, further SignIn
// calls fail fast instead of forking a second attempt.
func (c *Client) SignIn(ctx context.Context, username, password string, opts *SignInOptions) (SignInResult, error) {
	resolved := signInOptions{}
	if opts != nil {
		resolved.flow = opts.AuthFlowType
		resolved.metadata = opts.ClientMetadata
	}
	return c.signIn.signIn(ctx, username, password, resolved)
}

// ConfirmSignIn answers the challenge the previous SignIn or ConfirmSignIn
// returned. Each pending challenge accepts exactly one answer; on failure
// the attempt is discarded and a fresh SignIn is required.
func (c *Client) ConfirmSignIn(ctx context.Context, response string, opts *ConfirmSignInOptions) (SignInResult, error) {
	resolved := confirmOptions{}
	if opts != nil {
		resolved.userAttributes = opts.UserAttributes
		resolved.metadata = opts.ClientMetadata
	}
	return c.signIn.confirmSignIn(ctx, response, resolved)
}

// SignUp registers a new user. When the pool requires confirmation the
// result carries the code delivery details verbatim from the service.
func (c *Client) SignUp(ctx context.Context, username, password string, attributes map[string]string, opts *SignUpOptions) (SignUpResult, error) {
	return c.signUp.signUp(ctx, username, password, attributes, resolveSignUpOptions(opts))
}

// ConfirmSignUp completes a registration with the delivered code.
func (c *Client) ConfirmSignUp(ctx context.Context, username, code string, opts *SignUpOptions) (SignUpResult, error) {
	return c.signUp.confirmSignUp(ctx, username, code, resolveSignUpOptions(opts))
}

// ResendSignUpCode asks the pool to deliver a fresh confirmation code.
func (c *Client) ResendSignUpCode(ctx context.Context, username string, opts *SignUpOptions) (CodeDeliveryDetails, error) {
	return c.signUp.resendSignUpCode(ctx, username, resolveSignUpOptions(opts))
}

// ResetPassword starts the forgot-password flow. The result names where the
// confirmation code was sent; complete the reset with ConfirmResetPassword.
func (c *Client) ResetPassword(ctx context.Context, username string) (ResetPasswordResult, error) {
	if err := requireNonEmpty(username, CodeEmptyUsername, "username must not be empty"); err != nil {
		return ResetPasswordResult{}, err
	}
	out, err := c.idp.ForgotPassword(ctx, &cognitoidentityprovider.ForgotPasswordInput{
		ClientId: &c.cfg.UserPoolClientID,
		Username: &username,
	})
	if err != nil {
		return ResetPasswordResult{}, aws.NewServiceError("ForgotPassword", err)
	}
	return ResetPasswordResult{
		NextStep: ResetPasswordNextStep{
			ResetPasswordStep:   ResetPasswordStepConfirmWithCode,
			CodeDeliveryDetails: deliveryFromSDK(out.CodeDeliveryDetails),
		},
	}, nil
}

// ConfirmResetPassword completes a password reset with the delivered code.
func (c *Client) ConfirmResetPassword(ctx context.Context, username, newPassword, code string) error {
	if err := requireNonEmpty(username, CodeEmptyUsername, "username must not be empty"); err != nil {
		return err
	}
	if err := requireNonEmpty(newPassword, CodeEmptyPassword, "new password must not be empty"); err != nil {
		return err
	}
	if err := requireNonEmpty(code, CodeEmptyConfirmation, "confirmation code must not be empty"); err != nil {
		return err
	}
	_, err := c.idp.ConfirmForgotPassword(ctx, &cognitoidentityprovider.ConfirmForgotPasswordInput{
		ClientId:         &c.cfg.UserPoolClientID,
		Username:         &username,
		Password:         &newPassword,
		ConfirmationCode: &code,
	})
	if err != nil {
		return aws.NewServiceError("ConfirmForgotPassword", err)
	}
	c.log.Info("password reset confirmed for %s", username)
	return nil
}

// UpdatePassword changes the signed-in user's password.
func (c *Client) UpdatePassword(ctx context.Context, oldPassword, newPassword string) error {
	if err := requireNonEmpty(oldPassword, CodeEmptyPassword, "current password must not be empty"); err != nil {
		return err
	}
	if err := requireNonEmpty(newPassword, CodeEmptyPassword, "new password must not be empty"); err != nil {
		return err
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	_, err = c.idp.ChangePassword(ctx, &cognitoidentityprovider.ChangePasswordInput{
		AccessToken:      &token,
		PreviousPassword: &oldPassword,
		ProposedPassword: &newPassword,
	})
	if err != nil {
		return aws.NewServiceError("ChangePassword", err)
	}
	return nil
}

// FetchUserAttributes returns the signed-in user's attributes as a
// name/value map.
func (c *Client) FetchUserAttributes(ctx context.Context) (map[string]string, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	out, err := c.idp.GetUser(ctx, &cognitoidentityprovider.GetUserInput{AccessToken: &token})
	if err != nil {
		return nil, aws.NewServiceError("GetUser", err)
	}
	attrs := make(map[string]string, len(out.UserAttributes))
	for _, a := range out.UserAttributes {
		attrs[strVal(a.Name)] = strVal(a.Value)
	}
	return attrs, nil
}

// CurrentUser identifies the signed-in user from the cached tokens without
// a network round-trip.
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	sess, err := c.cache.Get(ctx)
	if err != nil {
		return User{}, err
	}
	if !sess.SignedIn() {
		return User{}, newSignedOutError("no signed-in user")
	}
	return User{Username: sess.Tokens.Username(), UserID: sess.Tokens.Sub()}, nil
}

// FetchSession returns the current session, refreshing tokens and AWS
// credentials as needed. It fails when there is nothing to return: no user
// is signed in and no identity pool is configured for guest access.
func (c *Client) FetchSession(ctx context.Context, opts ...session.FetchOption) (*session.Session, error) {
	sess, err := c.cache.FetchSession(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, newSignedOutError("no active session; sign in first")
	}
	return sess, nil
}

// SignOut discards the local session and any partial sign-in state. Local
// state always clears; with opts.Global the user pool is also asked to
// revoke the tokens everywhere, and a failure there is logged but does not
// fail the call.
func (c *Client) SignOut(ctx context.Context, opts *SignOutOptions) error {
	global := opts != nil && opts.Global

	// The access token is captured before local state goes away because
	// the remote revocation still needs it.
	sess, err := c.cache.Get(ctx)
	if err != nil {
		c.log.Warn("reading session before sign-out: %v", err)
	}

	c.signIn.abandon()
	if err := c.cache.Clear(ctx); err != nil {
		// The in-memory session is gone even when the store failed.
		c.log.Warn("clearing persisted session: %v", err)
	}

	if global && sess.SignedIn() {
		token := sess.Tokens.AccessToken
		if _, err := c.idp.GlobalSignOut(ctx, &cognitoidentityprovider.GlobalSignOutInput{AccessToken: &token}); err != nil {
			// Tokens will expire on their own; local sign-out stands.
			c.log.Warn("global sign-out failed: %v", err)
		}
	}

	c.publish("signedOut", nil)
	c.log.Info("signed out")
	return nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	sess, err := c.cache.FetchSession(ctx)
	if err != nil {
		return "", err
	}
	if !sess.SignedIn() {
		return "", newSignedOutError("no active session; sign in first")
	}
	return sess.Tokens.AccessToken, nil
}

func (c *Client) publish(name string, data map[string]any) {
	if c.events == nil {
		return
	}
	c.events.Publish(hub.ChannelAuth, hub.Event{Name: name, Data: data, Time: c.now()})
}

func resolveSignUpOptions(opts *SignUpOptions) signUpOptions {
	if opts == nil {
		return signUpOptions{}
	}
	return signUpOptions{metadata: opts.ClientMetadata}
}
