package auth

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	idptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"

	"github.com/asotjrs/amplify-go/aws"
	"github.com/asotjrs/amplify-go/session"
	"github.com/asotjrs/amplify-go/srp"
)

// rawOutcome is what one round-trip with the user pool produced: tokens when
// authentication completed, or a challenge that has to be relayed to the
// caller. Exactly one field is set.
type rawOutcome struct {
	tokens    *session.UserPoolTokens
	challenge *remoteChallenge
}

// remoteChallenge is a challenge as the service returned it, before mapping
// to a next-step result. The session string is the continuation token the
// next RespondToAuthChallenge call must carry, and userID is the immutable
// user ID when the flow resolved one, since later challenge rounds must be
// answered under that ID rather than the typed alias.
type remoteChallenge struct {
	name       idptypes.ChallengeNameType
	session    string
	parameters map[string]string
	userID     string
}

// flowExecutor opens one sign-in flow variant. Implementations run whatever
// rounds the flow settles internally (SRP runs its verifier round here) and
// stop at the first outcome the caller has to act on.
type flowExecutor interface {
	initiate(ctx context.Context, username, password string, metadata map[string]string) (*rawOutcome, error)
}

// passwordFlow sends the password in the clear over TLS. Requires the app
// client to allow USER_PASSWORD_AUTH.
type passwordFlow struct {
	idp      aws.CognitoIdentityProviderClient
	clientID string
	now      func() time.Time
}

func (f *passwordFlow) initiate(ctx context.Context, username, password string, metadata map[string]string) (*rawOutcome, error) {
	out, err := f.idp.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow: idptypes.AuthFlowTypeUserPasswordAuth,
		ClientId: &f.clientID,
		AuthParameters: map[string]string{
			"USERNAME": username,
			"PASSWORD": password,
		},
		ClientMetadata: metadata,
	})
	if err != nil {
		return nil, aws.NewServiceError("InitiateAuth", err)
	}
	return outcomeFromAuth("InitiateAuth", out.AuthenticationResult, out.ChallengeName, out.ChallengeParameters, out.Session, f.now())
}

// srpFlow proves password knowledge without transmitting it. The opening
// round sends the client ephemeral, and the PASSWORD_VERIFIER round answers
// the server's challenge with a signature derived from the password.
type srpFlow struct {
	idp      aws.CognitoIdentityProviderClient
	clientID string
	poolName string
	now      func() time.Time
	entropy  io.Reader // nil selects crypto/rand
}

func (f *srpFlow) initiate(ctx context.Context, username, password string, metadata map[string]string) (*rawOutcome, error) {
	client, err := f.newSRPClient()
	if err != nil {
		return nil, err
	}
	out, err := f.idp.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow: idptypes.AuthFlowTypeUserSrpAuth,
		ClientId: &f.clientID,
		AuthParameters: map[string]string{
			"USERNAME": username,
			"SRP_A":    client.AHex(),
		},
		ClientMetadata: metadata,
	})
	if err != nil {
		return nil, aws.NewServiceError("InitiateAuth", err)
	}
	if out.ChallengeName != idptypes.ChallengeNameTypePasswordVerifier {
		// Pool skipped the verifier round, either straight to tokens or
		// into another challenge.
		return outcomeFromAuth("InitiateAuth", out.AuthenticationResult, out.ChallengeName, out.ChallengeParameters, out.Session, f.now())
	}

	params := out.ChallengeParameters
	// The verifier round must identify the user by the immutable ID the
	// service hands back, not the alias the caller typed.
	userID := params["USER_ID_FOR_SRP"]
	if userID == "" {
		userID = username
	}
	claim, err := client.ProvePassword(srp.Challenge{
		ServerBHex:  params["SRP_B"],
		SaltHex:     params["SALT"],
		SecretBlock: params["SECRET_BLOCK"],
		UserID:      userID,
	}, password, f.now())
	if err != nil {
		return nil, err
	}
	resp, err := f.idp.RespondToAuthChallenge(ctx, &cognitoidentityprovider.RespondToAuthChallengeInput{
		ChallengeName: idptypes.ChallengeNameTypePasswordVerifier,
		ClientId:      &f.clientID,
		Session:       out.Session,
		ChallengeResponses: map[string]string{
			"USERNAME":                    userID,
			"PASSWORD_CLAIM_SECRET_BLOCK": params["SECRET_BLOCK"],
			"PASSWORD_CLAIM_SIGNATURE":    claim.Signature,
			"TIMESTAMP":                   claim.Timestamp,
		},
		ClientMetadata: metadata,
	})
	if err != nil {
		return nil, aws.NewServiceError("RespondToAuthChallenge", err)
	}
	outcome, err := outcomeFromAuth("RespondToAuthChallenge", resp.AuthenticationResult, resp.ChallengeName, resp.ChallengeParameters, resp.Session, f.now())
	if err == nil && outcome.challenge != nil {
		outcome.challenge.userID = userID
	}
	return outcome, err
}

func (f *srpFlow) newSRPClient() (*srp.Client, error) {
	if f.entropy != nil {
		return srp.NewClientFrom(f.entropy, f.poolName)
	}
	return srp.NewClient(f.poolName)
}

// customFlow opens a lambda-driven challenge sequence. The password argument
// is unused; pools that combine custom auth with a password round return a
// challenge asking for it.
type customFlow struct {
	idp      aws.CognitoIdentityProviderClient
	clientID string
	now      func() time.Time
}

func (f *customFlow) initiate(ctx context.Context, username, _ string, metadata map[string]string) (*rawOutcome, error) {
	out, err := f.idp.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow: idptypes.AuthFlowTypeCustomAuth,
		ClientId: &f.clientID,
		AuthParameters: map[string]string{
			"USERNAME": username,
		},
		ClientMetadata: metadata,
	})
	if err != nil {
		return nil, aws.NewServiceError("InitiateAuth", err)
	}
	return outcomeFromAuth("InitiateAuth", out.AuthenticationResult, out.ChallengeName, out.ChallengeParameters, out.Session, f.now())
}

// outcomeFromAuth normalizes an InitiateAuth or RespondToAuthChallenge
// response into a rawOutcome. A response carrying neither tokens nor a
// challenge name is a service fault.
func outcomeFromAuth(op string, result *idptypes.AuthenticationResultType, name idptypes.ChallengeNameType, params map[string]string, sessionToken *string, now time.Time) (*rawOutcome, error) {
	if result != nil && result.AccessToken != nil {
		tokens := session.NewUserPoolTokens(
			strVal(result.AccessToken),
			strVal(result.IdToken),
			strVal(result.RefreshToken),
			result.ExpiresIn,
			now,
		)
		return &rawOutcome{tokens: tokens}, nil
	}
	if name == "" {
		return nil, &aws.ServiceError{
			Operation: op,
			Code:      "MalformedAuthResponse",
			Message:   "response carried neither tokens nor a challenge",
			Fault:     smithy.FaultServer,
		}
	}
	ch := &remoteChallenge{name: name, session: strVal(sessionToken), parameters: params}
	if ch.parameters == nil {
		ch.parameters = map[string]string{}
	}
	return &rawOutcome{challenge: ch}, nil
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
