// Package mock provides stateful in-memory doubles for the AWS service
// clients the categories talk to. Each double implements the matching narrow
// interface from the aws package, keeps enough state to answer follow-up
// calls consistently, and records the requests it saw so tests can assert on
// the traffic a flow produced.
package mock

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	idptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// DefaultCode is the confirmation and MFA code every user accepts unless the
// test scripts a different one.
const DefaultCode = "123456"

// User is one account in the mock user pool. Tests mutate the record returned
// by AddUser before driving a flow against it.
type User struct {
	Password  string
	Confirmed bool
	Sub       string
	Attributes map[string]string

	// Challenges is the sequence a password or custom sign-in walks before
	// tokens are issued. An empty sequence signs in directly.
	Challenges []idptypes.ChallengeNameType
	// MFACode is the code SMS and TOTP challenges accept.
	MFACode string
	// CustomAnswer is the answer a CUSTOM_CHALLENGE round accepts.
	CustomAnswer string
	// ResetRequired makes sign-in fail with PasswordResetRequiredException
	// until the forgot-password flow completes.
	ResetRequired bool

	confirmationCode string
	resetCode        string
	revoked          bool
}

// pendingRound is one open challenge continuation, keyed by session token.
type pendingRound struct {
	username  string
	remaining []idptypes.ChallengeNameType
}

// CognitoIDP is a stateful mock user pool. Sign-in walks the per-user
// challenge sequence, sign-up creates unconfirmed accounts, and issued tokens
// resolve back to their user for the token-authorized operations.
type CognitoIDP struct {
	mu         sync.Mutex
	users      map[string]*User
	pending    map[string]*pendingRound
	sessionSeq int
	tokenTTL   time.Duration

	accessTokens  map[string]string // access token -> username
	refreshTokens map[string]string // refresh token -> username

	initiateCalls []cognitoidentityprovider.InitiateAuthInput
	respondCalls  []cognitoidentityprovider.RespondToAuthChallengeInput

	failNextInitiate error
}

// NewCognitoIDP creates an empty mock user pool issuing one-hour tokens.
func NewCognitoIDP() *CognitoIDP {
	return &CognitoIDP{
		users:         make(map[string]*User),
		pending:       make(map[string]*pendingRound),
		tokenTTL:      time.Hour,
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]string),
	}
}

// AddUser registers a confirmed user and returns the record for further
// scripting (challenge sequences, reset flags).
func (c *CognitoIDP) AddUser(username, password string) *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := &User{
		Password:   password,
		Confirmed:  true,
		Sub:        uuid.NewString(),
		Attributes: map[string]string{"email": username + "@example.com"},
		MFACode:    DefaultCode,
	}
	c.users[username] = u
	return u
}

// SetTokenTTL adjusts the lifetime of tokens issued from here on.
func (c *CognitoIDP) SetTokenTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenTTL = ttl
}

// SetFailNextInitiate makes the next InitiateAuth call fail with err.
func (c *CognitoIDP) SetFailNextInitiate(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNextInitiate = err
}

// InitiateCalls returns a copy of every InitiateAuth request seen.
func (c *CognitoIDP) InitiateCalls() []cognitoidentityprovider.InitiateAuthInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cognitoidentityprovider.InitiateAuthInput(nil), c.initiateCalls...)
}

// RespondCalls returns a copy of every RespondToAuthChallenge request seen.
func (c *CognitoIDP) RespondCalls() []cognitoidentityprovider.RespondToAuthChallengeInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cognitoidentityprovider.RespondToAuthChallengeInput(nil), c.respondCalls...)
}

func (c *CognitoIDP) InitiateAuth(ctx context.Context, in *cognitoidentityprovider.InitiateAuthInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initiateCalls = append(c.initiateCalls, *in)

	if err := c.failNextInitiate; err != nil {
		c.failNextInitiate = nil
		return nil, err
	}

	switch in.AuthFlow {
	case idptypes.AuthFlowTypeUserPasswordAuth:
		username := in.AuthParameters["USERNAME"]
		u, err := c.signInUser(username)
		if err != nil {
			return nil, err
		}
		if in.AuthParameters["PASSWORD"] != u.Password {
			return nil, notAuthorized("Incorrect username or password.")
		}
		return c.openSequence(username, u)

	case idptypes.AuthFlowTypeCustomAuth:
		username := in.AuthParameters["USERNAME"]
		u, err := c.signInUser(username)
		if err != nil {
			return nil, err
		}
		return c.openSequence(username, u)

	case idptypes.AuthFlowTypeRefreshTokenAuth:
		username, ok := c.refreshTokens[in.AuthParameters["REFRESH_TOKEN"]]
		if !ok {
			return nil, notAuthorized("Refresh Token has been revoked")
		}
		u := c.users[username]
		if u == nil || u.revoked {
			return nil, notAuthorized("Refresh Token has been revoked")
		}
		// The refresh flow does not rotate the refresh token.
		result := c.issueTokens(username, u)
		result.RefreshToken = nil
		return &cognitoidentityprovider.InitiateAuthOutput{AuthenticationResult: result}, nil
	}

	msg := fmt.Sprintf("unsupported auth flow %s", in.AuthFlow)
	return nil, &idptypes.InvalidParameterException{Message: &msg}
}

// signInUser resolves a username for a fresh sign-in, mapping account state
// to the exceptions the real service raises.
func (c *CognitoIDP) signInUser(username string) (*User, error) {
	u, ok := c.users[username]
	if !ok {
		msg := "User does not exist."
		return nil, &idptypes.UserNotFoundException{Message: &msg}
	}
	if u.ResetRequired {
		msg := "Password reset required for the user"
		return nil, &idptypes.PasswordResetRequiredException{Message: &msg}
	}
	if !u.Confirmed {
		msg := "User is not confirmed."
		return nil, &idptypes.UserNotConfirmedException{Message: &msg}
	}
	return u, nil
}

// openSequence starts the user's challenge sequence, or issues tokens when
// there is none.
func (c *CognitoIDP) openSequence(username string, u *User) (*cognitoidentityprovider.InitiateAuthOutput, error) {
	if len(u.Challenges) == 0 {
		return &cognitoidentityprovider.InitiateAuthOutput{
			AuthenticationResult: c.issueTokens(username, u),
		}, nil
	}
	name, session, params := c.openRound(username, u.Challenges)
	return &cognitoidentityprovider.InitiateAuthOutput{
		ChallengeName:       name,
		Session:             &session,
		ChallengeParameters: params,
	}, nil
}

// openRound parks a continuation for the first challenge of remaining and
// returns what the service would send for it.
func (c *CognitoIDP) openRound(username string, remaining []idptypes.ChallengeNameType) (idptypes.ChallengeNameType, string, map[string]string) {
	c.sessionSeq++
	session := fmt.Sprintf("session-%d", c.sessionSeq)
	c.pending[session] = &pendingRound{username: username, remaining: remaining}

	name := remaining[0]
	params := map[string]string{}
	switch name {
	case idptypes.ChallengeNameTypeSmsMfa:
		params["CODE_DELIVERY_DELIVERY_MEDIUM"] = "SMS"
		params["CODE_DELIVERY_DESTINATION"] = "+********99"
	case idptypes.ChallengeNameTypeNewPasswordRequired:
		params["requiredAttributes"] = `[]`
	case idptypes.ChallengeNameTypeCustomChallenge:
		params["prompt"] = "answer the riddle"
	}
	return name, session, params
}

func (c *CognitoIDP) RespondToAuthChallenge(ctx context.Context, in *cognitoidentityprovider.RespondToAuthChallengeInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.RespondToAuthChallengeOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respondCalls = append(c.respondCalls, *in)

	if in.Session == nil {
		return nil, notAuthorized("Invalid session for the user.")
	}
	round, ok := c.pending[*in.Session]
	if !ok {
		return nil, notAuthorized("Invalid session for the user, session is expired.")
	}
	// Continuations are single use, matching the real service: a wrong
	// answer burns the session.
	delete(c.pending, *in.Session)

	u := c.users[round.username]
	if u == nil || len(round.remaining) == 0 || in.ChallengeName != round.remaining[0] {
		return nil, notAuthorized("Invalid session for the user.")
	}

	if err := c.checkAnswer(u, in.ChallengeName, in.ChallengeResponses); err != nil {
		return nil, err
	}

	remaining := round.remaining[1:]
	if len(remaining) > 0 {
		name, session, params := c.openRound(round.username, remaining)
		return &cognitoidentityprovider.RespondToAuthChallengeOutput{
			ChallengeName:       name,
			Session:             &session,
			ChallengeParameters: params,
		}, nil
	}
	return &cognitoidentityprovider.RespondToAuthChallengeOutput{
		AuthenticationResult: c.issueTokens(round.username, u),
	}, nil
}

// checkAnswer verifies one challenge response against the user record and
// applies its side effects.
func (c *CognitoIDP) checkAnswer(u *User, name idptypes.ChallengeNameType, responses map[string]string) error {
	switch name {
	case idptypes.ChallengeNameTypeSmsMfa:
		if responses["SMS_MFA_CODE"] != u.MFACode {
			return codeMismatch()
		}
	case idptypes.ChallengeNameTypeSoftwareTokenMfa:
		if responses["SOFTWARE_TOKEN_MFA_CODE"] != u.MFACode {
			return codeMismatch()
		}
	case idptypes.ChallengeNameTypeNewPasswordRequired:
		pw := responses["NEW_PASSWORD"]
		if pw == "" {
			msg := "Missing required parameter NEW_PASSWORD"
			return &idptypes.InvalidParameterException{Message: &msg}
		}
		u.Password = pw
		for key, value := range responses {
			if attr, ok := strings.CutPrefix(key, "userAttributes."); ok {
				u.Attributes[attr] = value
			}
		}
	case idptypes.ChallengeNameTypeCustomChallenge:
		if responses["ANSWER"] != u.CustomAnswer {
			return notAuthorized("Incorrect answer.")
		}
	case idptypes.ChallengeNameTypeMfaSetup:
		// The verification already happened through VerifySoftwareToken.
	default:
		msg := fmt.Sprintf("challenge %s not supported by this mock", name)
		return &idptypes.InvalidParameterException{Message: &msg}
	}
	return nil
}

func (c *CognitoIDP) SignUp(ctx context.Context, in *cognitoidentityprovider.SignUpInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.SignUpOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	username := strVal(in.Username)
	if _, exists := c.users[username]; exists {
		msg := "User already exists"
		return nil, &idptypes.UsernameExistsException{Message: &msg}
	}
	u := &User{
		Password:         strVal(in.Password),
		Sub:              uuid.NewString(),
		Attributes:       map[string]string{},
		MFACode:          DefaultCode,
		confirmationCode: DefaultCode,
	}
	for _, attr := range in.UserAttributes {
		u.Attributes[strVal(attr.Name)] = strVal(attr.Value)
	}
	c.users[username] = u

	confirmed := false
	return &cognitoidentityprovider.SignUpOutput{
		UserConfirmed:       confirmed,
		UserSub:             &u.Sub,
		CodeDeliveryDetails: emailDelivery(u.Attributes["email"]),
	}, nil
}

func (c *CognitoIDP) ConfirmSignUp(ctx context.Context, in *cognitoidentityprovider.ConfirmSignUpInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ConfirmSignUpOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[strVal(in.Username)]
	if !ok {
		msg := "User does not exist."
		return nil, &idptypes.UserNotFoundException{Message: &msg}
	}
	if strVal(in.ConfirmationCode) != u.confirmationCode {
		return nil, codeMismatch()
	}
	u.Confirmed = true
	return &cognitoidentityprovider.ConfirmSignUpOutput{}, nil
}

func (c *CognitoIDP) ResendConfirmationCode(ctx context.Context, in *cognitoidentityprovider.ResendConfirmationCodeInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ResendConfirmationCodeOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[strVal(in.Username)]
	if !ok {
		msg := "User does not exist."
		return nil, &idptypes.UserNotFoundException{Message: &msg}
	}
	u.confirmationCode = DefaultCode
	return &cognitoidentityprovider.ResendConfirmationCodeOutput{
		CodeDeliveryDetails: emailDelivery(u.Attributes["email"]),
	}, nil
}

func (c *CognitoIDP) ForgotPassword(ctx context.Context, in *cognitoidentityprovider.ForgotPasswordInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ForgotPasswordOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[strVal(in.Username)]
	if !ok {
		msg := "User does not exist."
		return nil, &idptypes.UserNotFoundException{Message: &msg}
	}
	u.resetCode = DefaultCode
	return &cognitoidentityprovider.ForgotPasswordOutput{
		CodeDeliveryDetails: emailDelivery(u.Attributes["email"]),
	}, nil
}

func (c *CognitoIDP) ConfirmForgotPassword(ctx context.Context, in *cognitoidentityprovider.ConfirmForgotPasswordInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ConfirmForgotPasswordOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[strVal(in.Username)]
	if !ok {
		msg := "User does not exist."
		return nil, &idptypes.UserNotFoundException{Message: &msg}
	}
	if u.resetCode == "" || strVal(in.ConfirmationCode) != u.resetCode {
		return nil, codeMismatch()
	}
	u.Password = strVal(in.Password)
	u.resetCode = ""
	u.ResetRequired = false
	return &cognitoidentityprovider.ConfirmForgotPasswordOutput{}, nil
}

func (c *CognitoIDP) ChangePassword(ctx context.Context, in *cognitoidentityprovider.ChangePasswordInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ChangePasswordOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := c.userForToken(strVal(in.AccessToken))
	if err != nil {
		return nil, err
	}
	if strVal(in.PreviousPassword) != u.Password {
		return nil, notAuthorized("Incorrect username or password.")
	}
	u.Password = strVal(in.ProposedPassword)
	return &cognitoidentityprovider.ChangePasswordOutput{}, nil
}

func (c *CognitoIDP) GlobalSignOut(ctx context.Context, in *cognitoidentityprovider.GlobalSignOutInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.GlobalSignOutOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	username, ok := c.accessTokens[strVal(in.AccessToken)]
	if !ok {
		return nil, notAuthorized("Access Token has been revoked")
	}
	u := c.users[username]
	u.revoked = true
	for token, owner := range c.refreshTokens {
		if owner == username {
			delete(c.refreshTokens, token)
		}
	}
	return &cognitoidentityprovider.GlobalSignOutOutput{}, nil
}

func (c *CognitoIDP) GetUser(ctx context.Context, in *cognitoidentityprovider.GetUserInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.GetUserOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	username, ok := c.accessTokens[strVal(in.AccessToken)]
	if !ok {
		return nil, notAuthorized("Access Token has been revoked")
	}
	u := c.users[username]
	out := &cognitoidentityprovider.GetUserOutput{Username: &username}
	for name, value := range u.Attributes {
		n, v := name, value
		out.UserAttributes = append(out.UserAttributes, idptypes.AttributeType{Name: &n, Value: &v})
	}
	return out, nil
}

func (c *CognitoIDP) AssociateSoftwareToken(ctx context.Context, in *cognitoidentityprovider.AssociateSoftwareTokenInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AssociateSoftwareTokenOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	secret := "MOCKSECRETBASE32AAAA"
	out := &cognitoidentityprovider.AssociateSoftwareTokenOutput{SecretCode: &secret}
	if in.Session != nil {
		// The association rotates the continuation session.
		if round, ok := c.pending[*in.Session]; ok {
			delete(c.pending, *in.Session)
			c.sessionSeq++
			session := fmt.Sprintf("session-%d", c.sessionSeq)
			c.pending[session] = round
			out.Session = &session
		}
	}
	return out, nil
}

func (c *CognitoIDP) VerifySoftwareToken(ctx context.Context, in *cognitoidentityprovider.VerifySoftwareTokenInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.VerifySoftwareTokenOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := &cognitoidentityprovider.VerifySoftwareTokenOutput{Session: in.Session}
	if len(strVal(in.UserCode)) != 6 {
		out.Status = idptypes.VerifySoftwareTokenResponseTypeError
		return out, nil
	}
	out.Status = idptypes.VerifySoftwareTokenResponseTypeSuccess
	return out, nil
}

// userForToken resolves an access token to its user.
func (c *CognitoIDP) userForToken(token string) (*User, error) {
	username, ok := c.accessTokens[token]
	if !ok {
		return nil, notAuthorized("Access Token has been revoked")
	}
	return c.users[username], nil
}

// issueTokens mints an unsigned JWT pair for the user and registers the
// tokens for later resolution. Callers hold the mutex.
func (c *CognitoIDP) issueTokens(username string, u *User) *idptypes.AuthenticationResultType {
	u.revoked = false
	exp := time.Now().Add(c.tokenTTL).Unix()
	access := encodeJWT(map[string]any{
		"sub":       u.Sub,
		"username":  username,
		"token_use": "access",
		"exp":       exp,
		"jti":       uuid.NewString(),
	})
	id := encodeJWT(map[string]any{
		"sub":              u.Sub,
		"cognito:username": username,
		"token_use":        "id",
		"email":            u.Attributes["email"],
		"exp":              exp,
	})
	refresh := "refresh-" + uuid.NewString()

	c.accessTokens[access] = username
	c.refreshTokens[refresh] = username

	expiresIn := int32(c.tokenTTL / time.Second)
	tokenType := "Bearer"
	return &idptypes.AuthenticationResultType{
		AccessToken:  &access,
		IdToken:      &id,
		RefreshToken: &refresh,
		ExpiresIn:    expiresIn,
		TokenType:    &tokenType,
	}
}

// encodeJWT builds an unsigned JWT carrying the given claims. The categories
// never verify signatures, so a fixed signature segment is enough.
func encodeJWT(claims map[string]any) string {
	header, _ := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	payload, _ := json.Marshal(claims)
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + ".mock"
}

func emailDelivery(email string) *idptypes.CodeDeliveryDetailsType {
	dest := maskEmail(email)
	medium := idptypes.DeliveryMediumTypeEmail
	attr := "email"
	return &idptypes.CodeDeliveryDetailsType{
		Destination:    &dest,
		DeliveryMedium: medium,
		AttributeName:  &attr,
	}
}

// maskEmail obscures a destination address the way the service does.
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "u***@***"
	}
	return email[:1] + "***" + email[at:]
}

func notAuthorized(msg string) error {
	return &idptypes.NotAuthorizedException{Message: &msg}
}

func codeMismatch() error {
	msg := "Invalid verification code provided, please try again."
	return &idptypes.CodeMismatchException{Message: &msg}
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
