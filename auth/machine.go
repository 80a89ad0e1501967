package auth

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	idptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/asotjrs/amplify-go/aws"
	"github.com/asotjrs/amplify-go/config"
	"github.com/asotjrs/amplify-go/hub"
	"github.com/asotjrs/amplify-go/logging"
	"github.com/asotjrs/amplify-go/metrics"
	"github.com/asotjrs/amplify-go/session"
)

// signInPhase is where the current attempt is in its lifecycle.
type signInPhase int

const (
	phaseNotStarted signInPhase = iota
	phaseAuthenticating
	phaseAwaitingChallenge
)

// pendingChallenge is the continuation state for a suspended attempt. The
// session token must accompany the next RespondToAuthChallenge call, and
// username carries the immutable user ID when the opening flow resolved one.
type pendingChallenge struct {
	id         string
	name       idptypes.ChallengeNameType
	session    string
	parameters map[string]string
	username   string
}

// signInMachine owns the sign-in attempt lifecycle. At most one attempt is
// active at a time; a second SignIn while one is authenticating or suspended
// on a challenge fails fast instead of forking a concurrent attempt.
//
// Network rounds run outside the lock. Every completion re-checks the
// generation it was dispatched under and is discarded when SignOut or a
// newer attempt has moved the machine on, so a slow response can never
// overwrite fresher state.
type signInMachine struct {
	cfg     *config.AuthConfig
	idp     aws.CognitoIdentityProviderClient
	cache   *session.Cache
	log     logging.Logger
	met     *metrics.Metrics
	events  *hub.Hub
	now     func() time.Time
	entropy io.Reader

	mu         sync.Mutex
	phase      signInPhase
	generation uint64
	username   string
	challenge  *pendingChallenge
}

// signInOptions are the per-call knobs resolved from SignInOption values.
type signInOptions struct {
	flow     string
	metadata map[string]string
}

// confirmOptions are the per-call knobs resolved from ConfirmSignInOption
// values.
type confirmOptions struct {
	metadata       map[string]string
	userAttributes map[string]string
}

func (m *signInMachine) signIn(ctx context.Context, username, password string, opts signInOptions) (SignInResult, error) {
	flow := opts.flow
	if flow == "" {
		flow = m.cfg.AuthFlowType
	}
	if err := validateSignInInput(username, password, flow); err != nil {
		return SignInResult{}, err
	}

	gen, err := m.begin(username)
	if err != nil {
		return SignInResult{}, err
	}
	m.met.RecordSignInAttempt()
	m.log.Debug("sign-in attempt %d for %s via %s", gen, username, flow)

	outcome, err := m.executor(flow).initiate(ctx, username, password, opts.metadata)
	return m.settle(ctx, gen, outcome, err)
}

func (m *signInMachine) confirmSignIn(ctx context.Context, response string, opts confirmOptions) (SignInResult, error) {
	if err := requireNonEmpty(response, CodeEmptyConfirmation, "challenge response must not be empty"); err != nil {
		return SignInResult{}, err
	}

	m.mu.Lock()
	if m.phase != phaseAwaitingChallenge || m.challenge == nil {
		m.mu.Unlock()
		return SignInResult{}, newUsageError(CodeNoPendingChallenge, "no challenge is awaiting a response; call SignIn first")
	}
	ch := m.challenge
	gen := m.generation
	m.phase = phaseAuthenticating
	// The challenge is consumed here. A concurrent or repeated confirm with
	// the same continuation finds no pending challenge.
	m.challenge = nil
	m.mu.Unlock()

	outcome, err := m.respond(ctx, ch, response, opts)
	return m.settle(ctx, gen, outcome, err)
}

// begin claims the attempt slot, failing fast when one is already active.
func (m *signInMachine) begin(username string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != phaseNotStarted {
		return 0, newUsageError(CodeSignInInProgress, "a sign-in attempt is already in progress; complete it or sign out first")
	}
	m.generation++
	m.phase = phaseAuthenticating
	m.username = username
	m.challenge = nil
	return m.generation, nil
}

// settle applies the outcome of a network round to the machine.
func (m *signInMachine) settle(ctx context.Context, gen uint64, outcome *rawOutcome, callErr error) (SignInResult, error) {
	if callErr != nil {
		return m.fail(gen, callErr)
	}
	if outcome.tokens != nil {
		return m.complete(ctx, gen, outcome.tokens)
	}
	return m.suspend(ctx, gen, outcome.challenge)
}

// fail maps redirecting service codes to next-step results and everything
// else to a terminal failure. Either way the attempt slot is released so the
// next SignIn starts clean.
func (m *signInMachine) fail(gen uint64, err error) (SignInResult, error) {
	switch {
	case aws.IsCode(err, "PasswordResetRequiredException"):
		m.release(gen)
		return SignInResult{NextStep: SignInNextStep{SignInStep: SignInStepResetPassword}}, nil
	case aws.IsCode(err, "UserNotConfirmedException"):
		m.release(gen)
		return SignInResult{NextStep: SignInNextStep{SignInStep: SignInStepConfirmSignUp}}, nil
	}
	m.release(gen)
	m.met.RecordSignInFailure()
	m.publish("signInFailed", map[string]any{"error": err.Error()})
	m.log.Debug("sign-in attempt %d failed: %v", gen, err)
	return SignInResult{}, err
}

// complete caches the session and releases the attempt slot. The cache write
// precedes both the returned result and the signedIn event, so any observer
// reacting to either already sees the session.
func (m *signInMachine) complete(ctx context.Context, gen uint64, tokens *session.UserPoolTokens) (SignInResult, error) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return SignInResult{}, newValidationError(CodeStaleChallenge, "sign-in attempt was superseded before it completed")
	}
	// Put logs and keeps the in-memory session when persistence fails, so
	// a store error does not fail the sign-in.
	_ = m.cache.Put(ctx, tokens)
	username := tokens.Username()
	m.phase = phaseNotStarted
	m.username = ""
	m.challenge = nil
	m.mu.Unlock()

	m.publish("signedIn", map[string]any{"username": username})
	m.log.Info("signed in as %s", username)
	return SignInResult{IsSignedIn: true, NextStep: SignInNextStep{SignInStep: SignInStepDone}}, nil
}

// suspend parks the attempt on a challenge and returns the step the caller
// must perform.
func (m *signInMachine) suspend(ctx context.Context, gen uint64, ch *remoteChallenge) (SignInResult, error) {
	next, err := m.describeChallenge(ctx, ch)
	if err != nil {
		return m.fail(gen, err)
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return SignInResult{}, newValidationError(CodeStaleChallenge, "sign-in attempt was superseded before it completed")
	}
	username := ch.userID
	if username == "" {
		username = ch.parameters["USER_ID_FOR_SRP"]
	}
	if username == "" {
		username = m.username
	}
	m.phase = phaseAwaitingChallenge
	m.challenge = &pendingChallenge{
		id:         uuid.NewString(),
		name:       ch.name,
		session:    ch.session,
		parameters: ch.parameters,
		username:   username,
	}
	m.log.Debug("attempt %d suspended on %s (challenge %s)", gen, ch.name, m.challenge.id)
	m.mu.Unlock()

	return SignInResult{NextStep: next}, nil
}

// release returns the machine to NotStarted if gen is still the active
// attempt.
func (m *signInMachine) release(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return
	}
	m.phase = phaseNotStarted
	m.username = ""
	m.challenge = nil
}

// abandon discards any active attempt unconditionally. Completions still in
// flight for the abandoned attempt are discarded when they arrive.
func (m *signInMachine) abandon() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.phase = phaseNotStarted
	m.username = ""
	m.challenge = nil
}

// describeChallenge maps a service challenge to the caller-facing next step.
// For MFA_SETUP it also runs the software token association so the shared
// secret can be surfaced, replacing the continuation session with the one
// the association returns.
func (m *signInMachine) describeChallenge(ctx context.Context, ch *remoteChallenge) (SignInNextStep, error) {
	switch ch.name {
	case idptypes.ChallengeNameTypeSmsMfa:
		return SignInNextStep{
			SignInStep:          SignInStepConfirmWithSMSCode,
			CodeDeliveryDetails: deliveryFromChallenge(ch.parameters),
		}, nil
	case idptypes.ChallengeNameTypeSoftwareTokenMfa:
		return SignInNextStep{SignInStep: SignInStepConfirmWithTOTPCode}, nil
	case idptypes.ChallengeNameTypeNewPasswordRequired:
		return SignInNextStep{
			SignInStep:        SignInStepConfirmWithNewPassword,
			MissingAttributes: requiredAttributes(ch.parameters),
		}, nil
	case idptypes.ChallengeNameTypeCustomChallenge:
		return SignInNextStep{
			SignInStep:     SignInStepConfirmWithCustomChallenge,
			AdditionalInfo: ch.parameters,
		}, nil
	case idptypes.ChallengeNameTypeSelectMfaType:
		return SignInNextStep{
			SignInStep:      SignInStepContinueWithMFASelection,
			AllowedMFATypes: allowedMFATypes(ch.parameters),
		}, nil
	case idptypes.ChallengeNameTypeMfaSetup:
		input := &cognitoidentityprovider.AssociateSoftwareTokenInput{}
		if ch.session != "" {
			input.Session = &ch.session
		}
		out, err := m.idp.AssociateSoftwareToken(ctx, input)
		if err != nil {
			return SignInNextStep{}, aws.NewServiceError("AssociateSoftwareToken", err)
		}
		if out.Session != nil {
			ch.session = *out.Session
		}
		return SignInNextStep{
			SignInStep:       SignInStepContinueWithTOTPSetup,
			TOTPSetupDetails: &TOTPSetupDetails{SharedSecret: strVal(out.SecretCode)},
		}, nil
	default:
		// DEVICE_SRP_AUTH, DEVICE_PASSWORD_VERIFIER and ADMIN_NO_SRP_AUTH
		// need state this client does not keep (tracked devices, admin
		// credentials).
		return SignInNextStep{}, unsupportedChallengeError(ch.name)
	}
}

// respond answers a pending challenge with the caller's response.
func (m *signInMachine) respond(ctx context.Context, ch *pendingChallenge, response string, opts confirmOptions) (*rawOutcome, error) {
	if ch.name == idptypes.ChallengeNameTypeMfaSetup {
		return m.respondTOTPSetup(ctx, ch, response, opts)
	}

	responses := map[string]string{"USERNAME": ch.username}
	switch ch.name {
	case idptypes.ChallengeNameTypeSmsMfa:
		responses["SMS_MFA_CODE"] = response
	case idptypes.ChallengeNameTypeSoftwareTokenMfa:
		responses["SOFTWARE_TOKEN_MFA_CODE"] = response
	case idptypes.ChallengeNameTypeNewPasswordRequired:
		responses["NEW_PASSWORD"] = response
		for name, value := range opts.userAttributes {
			responses["userAttributes."+name] = value
		}
	case idptypes.ChallengeNameTypeCustomChallenge:
		responses["ANSWER"] = response
	case idptypes.ChallengeNameTypeSelectMfaType:
		kind, err := normalizeMFASelection(response)
		if err != nil {
			return nil, err
		}
		responses["ANSWER"] = kind
	default:
		return nil, unsupportedChallengeError(ch.name)
	}

	input := &cognitoidentityprovider.RespondToAuthChallengeInput{
		ChallengeName:      ch.name,
		ClientId:           &m.cfg.UserPoolClientID,
		ChallengeResponses: responses,
		ClientMetadata:     opts.metadata,
	}
	if ch.session != "" {
		input.Session = &ch.session
	}
	out, err := m.idp.RespondToAuthChallenge(ctx, input)
	if err != nil {
		return nil, aws.NewServiceError("RespondToAuthChallenge", err)
	}
	outcome, err := outcomeFromAuth("RespondToAuthChallenge", out.AuthenticationResult, out.ChallengeName, out.ChallengeParameters, out.Session, m.now())
	if err == nil && outcome.challenge != nil {
		// Later rounds keep answering under the ID this attempt resolved.
		outcome.challenge.userID = ch.username
	}
	return outcome, err
}

// respondTOTPSetup verifies the first authenticator code against the token
// associated during describeChallenge, then completes the MFA_SETUP
// challenge with the session the verification returns.
func (m *signInMachine) respondTOTPSetup(ctx context.Context, ch *pendingChallenge, code string, opts confirmOptions) (*rawOutcome, error) {
	input := &cognitoidentityprovider.VerifySoftwareTokenInput{UserCode: &code}
	if ch.session != "" {
		input.Session = &ch.session
	}
	verified, err := m.idp.VerifySoftwareToken(ctx, input)
	if err != nil {
		return nil, aws.NewServiceError("VerifySoftwareToken", err)
	}
	if verified.Status == idptypes.VerifySoftwareTokenResponseTypeError {
		return nil, &aws.ServiceError{
			Operation: "VerifySoftwareToken",
			Code:      "EnableSoftwareTokenMFAException",
			Message:   "authenticator code was not accepted",
			Fault:     smithy.FaultClient,
		}
	}
	sessionToken := ch.session
	if verified.Session != nil {
		sessionToken = *verified.Session
	}

	respondInput := &cognitoidentityprovider.RespondToAuthChallengeInput{
		ChallengeName:      idptypes.ChallengeNameTypeMfaSetup,
		ClientId:           &m.cfg.UserPoolClientID,
		ChallengeResponses: map[string]string{"USERNAME": ch.username},
		ClientMetadata:     opts.metadata,
	}
	if sessionToken != "" {
		respondInput.Session = &sessionToken
	}
	out, err := m.idp.RespondToAuthChallenge(ctx, respondInput)
	if err != nil {
		return nil, aws.NewServiceError("RespondToAuthChallenge", err)
	}
	outcome, err := outcomeFromAuth("RespondToAuthChallenge", out.AuthenticationResult, out.ChallengeName, out.ChallengeParameters, out.Session, m.now())
	if err == nil && outcome.challenge != nil {
		outcome.challenge.userID = ch.username
	}
	return outcome, err
}

func (m *signInMachine) executor(flow string) flowExecutor {
	switch flow {
	case config.FlowUserPassword:
		return &passwordFlow{idp: m.idp, clientID: m.cfg.UserPoolClientID, now: m.now}
	case config.FlowCustom:
		return &customFlow{idp: m.idp, clientID: m.cfg.UserPoolClientID, now: m.now}
	default:
		return &srpFlow{
			idp:      m.idp,
			clientID: m.cfg.UserPoolClientID,
			poolName: m.cfg.PoolName(),
			now:      m.now,
			entropy:  m.entropy,
		}
	}
}

func (m *signInMachine) publish(name string, data map[string]any) {
	if m.events == nil {
		return
	}
	m.events.Publish(hub.ChannelAuth, hub.Event{Name: name, Data: data, Time: m.now()})
}

func validateSignInInput(username, password, flow string) error {
	switch flow {
	case config.FlowUserSRP, config.FlowUserPassword, config.FlowCustom:
	default:
		return newValidationError(CodeInvalidFlow, fmt.Sprintf("unsupported auth flow %q", flow))
	}
	if err := requireNonEmpty(username, CodeEmptyUsername, "username must not be empty"); err != nil {
		return err
	}
	// Custom auth opens without a password; the challenge sequence carries
	// the secret.
	if flow != config.FlowCustom {
		if err := requireNonEmpty(password, CodeEmptyPassword, "password must not be empty"); err != nil {
			return err
		}
	}
	return nil
}

func normalizeMFASelection(response string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(response)) {
	case "SMS", "SMS_MFA":
		return string(idptypes.ChallengeNameTypeSmsMfa), nil
	case "TOTP", "SOFTWARE_TOKEN_MFA":
		return string(idptypes.ChallengeNameTypeSoftwareTokenMfa), nil
	default:
		return "", newValidationError(CodeEmptyConfirmation, fmt.Sprintf("unknown MFA selection %q; expected SMS or TOTP", response))
	}
}

func unsupportedChallengeError(name idptypes.ChallengeNameType) error {
	return &aws.ServiceError{
		Operation: "RespondToAuthChallenge",
		Code:      "UnsupportedChallenge",
		Message:   fmt.Sprintf("challenge %s is not supported by this client", name),
		Fault:     smithy.FaultClient,
	}
}

// deliveryFromChallenge reads the delivery hints SMS challenges carry. The
// medium and masked destination are forwarded exactly as received.
func deliveryFromChallenge(params map[string]string) *CodeDeliveryDetails {
	medium := params["CODE_DELIVERY_DELIVERY_MEDIUM"]
	dest := params["CODE_DELIVERY_DESTINATION"]
	if medium == "" && dest == "" {
		return nil
	}
	return &CodeDeliveryDetails{Destination: dest, DeliveryMedium: medium}
}

// requiredAttributes parses the JSON attribute list a NEW_PASSWORD_REQUIRED
// challenge carries and strips the userAttributes. prefix.
func requiredAttributes(params map[string]string) []string {
	raw := params["requiredAttributes"]
	if raw == "" {
		return nil
	}
	var attrs []string
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return nil
	}
	for i, a := range attrs {
		attrs[i] = strings.TrimPrefix(a, "userAttributes.")
	}
	return attrs
}

func allowedMFATypes(params map[string]string) []string {
	raw := params["MFAS_CAN_CHOOSE"]
	if raw == "" {
		return nil
	}
	var kinds []string
	if err := json.Unmarshal([]byte(raw), &kinds); err != nil {
		return nil
	}
	return kinds
}
