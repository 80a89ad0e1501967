package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	idptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/asotjrs/amplify-go/aws"
	"github.com/asotjrs/amplify-go/config"
	"github.com/asotjrs/amplify-go/hub"
	"github.com/asotjrs/amplify-go/logging"
)

// signUpMachine serializes the registration calls. There is no continuation
// state to protect the way sign-in has; the single-flight guard exists so
// two goroutines cannot interleave a registration with its confirmation.
// Confirmation does not require a prior SignUp in the same process, since
// the code and username are self-contained.
type signUpMachine struct {
	cfg    *config.AuthConfig
	idp    aws.CognitoIdentityProviderClient
	log    logging.Logger
	events *hub.Hub
	now    func() time.Time

	mu   sync.Mutex
	busy bool
}

// signUpOptions are the per-call knobs resolved from SignUpOption values.
type signUpOptions struct {
	metadata map[string]string
}

func (m *signUpMachine) signUp(ctx context.Context, username, password string, attributes map[string]string, opts signUpOptions) (SignUpResult, error) {
	if err := requireNonEmpty(username, CodeEmptyUsername, "username must not be empty"); err != nil {
		return SignUpResult{}, err
	}
	if err := requireNonEmpty(password, CodeEmptyPassword, "password must not be empty"); err != nil {
		return SignUpResult{}, err
	}
	if err := m.acquire(); err != nil {
		return SignUpResult{}, err
	}
	defer m.releaseSlot()

	out, err := m.idp.SignUp(ctx, &cognitoidentityprovider.SignUpInput{
		ClientId:       &m.cfg.UserPoolClientID,
		Username:       &username,
		Password:       &password,
		UserAttributes: attributeList(attributes),
		ClientMetadata: opts.metadata,
	})
	if err != nil {
		return SignUpResult{}, aws.NewServiceError("SignUp", err)
	}

	res := SignUpResult{UserID: strVal(out.UserSub)}
	if out.UserConfirmed {
		res.IsSignUpComplete = true
		res.NextStep = SignUpNextStep{SignUpStep: SignUpStepDone}
	} else {
		res.NextStep = SignUpNextStep{
			SignUpStep:          SignUpStepConfirmSignUp,
			CodeDeliveryDetails: deliveryFromSDK(out.CodeDeliveryDetails),
		}
	}
	m.publish("signedUp", map[string]any{"username": username, "userId": res.UserID})
	m.log.Info("registered %s (confirmed=%t)", username, res.IsSignUpComplete)
	return res, nil
}

func (m *signUpMachine) confirmSignUp(ctx context.Context, username, code string, opts signUpOptions) (SignUpResult, error) {
	if err := requireNonEmpty(username, CodeEmptyUsername, "username must not be empty"); err != nil {
		return SignUpResult{}, err
	}
	if err := requireNonEmpty(code, CodeEmptyConfirmation, "confirmation code must not be empty"); err != nil {
		return SignUpResult{}, err
	}
	if err := m.acquire(); err != nil {
		return SignUpResult{}, err
	}
	defer m.releaseSlot()

	_, err := m.idp.ConfirmSignUp(ctx, &cognitoidentityprovider.ConfirmSignUpInput{
		ClientId:         &m.cfg.UserPoolClientID,
		Username:         &username,
		ConfirmationCode: &code,
		ClientMetadata:   opts.metadata,
	})
	if err != nil {
		return SignUpResult{}, aws.NewServiceError("ConfirmSignUp", err)
	}
	m.log.Info("confirmed registration for %s", username)
	return SignUpResult{
		IsSignUpComplete: true,
		NextStep:         SignUpNextStep{SignUpStep: SignUpStepDone},
	}, nil
}

func (m *signUpMachine) resendSignUpCode(ctx context.Context, username string, opts signUpOptions) (CodeDeliveryDetails, error) {
	if err := requireNonEmpty(username, CodeEmptyUsername, "username must not be empty"); err != nil {
		return CodeDeliveryDetails{}, err
	}

	out, err := m.idp.ResendConfirmationCode(ctx, &cognitoidentityprovider.ResendConfirmationCodeInput{
		ClientId:       &m.cfg.UserPoolClientID,
		Username:       &username,
		ClientMetadata: opts.metadata,
	})
	if err != nil {
		return CodeDeliveryDetails{}, aws.NewServiceError("ResendConfirmationCode", err)
	}
	details := deliveryFromSDK(out.CodeDeliveryDetails)
	if details == nil {
		return CodeDeliveryDetails{}, nil
	}
	return *details, nil
}

func (m *signUpMachine) acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return newUsageError(CodeSignUpInProgress, "a registration call is already in flight")
	}
	m.busy = true
	return nil
}

func (m *signUpMachine) releaseSlot() {
	m.mu.Lock()
	m.busy = false
	m.mu.Unlock()
}

func (m *signUpMachine) publish(name string, data map[string]any) {
	if m.events == nil {
		return
	}
	m.events.Publish(hub.ChannelAuth, hub.Event{Name: name, Data: data, Time: m.now()})
}

// attributeList converts a name/value map to the SDK attribute slice in a
// stable order.
func attributeList(attrs map[string]string) []idptypes.AttributeType {
	if len(attrs) == 0 {
		return nil
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	list := make([]idptypes.AttributeType, 0, len(names))
	for _, name := range names {
		value := attrs[name]
		list = append(list, idptypes.AttributeType{Name: &name, Value: &value})
	}
	return list
}

// deliveryFromSDK forwards the service's delivery details verbatim.
func deliveryFromSDK(d *idptypes.CodeDeliveryDetailsType) *CodeDeliveryDetails {
	if d == nil {
		return nil
	}
	return &CodeDeliveryDetails{
		Destination:    strVal(d.Destination),
		DeliveryMedium: string(d.DeliveryMedium),
		AttributeName:  strVal(d.AttributeName),
	}
}
