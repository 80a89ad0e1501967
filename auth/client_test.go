package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	idptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/asotjrs/amplify-go/config"
	"github.com/asotjrs/amplify-go/hub"
	"github.com/asotjrs/amplify-go/session"
)

// seedSignedIn puts a signed-in session into the rig's cache directly,
// bypassing the sign-in flow.
func seedSignedIn(t *testing.T, rig *testRig, username string) *session.UserPoolTokens {
	t.Helper()
	access := makeTestToken(t, map[string]any{
		"username": username,
		"sub":      "sub-" + username,
		"exp":      testNow.Add(time.Hour).Unix(),
	})
	id := makeTestToken(t, map[string]any{"cognito:username": username})
	tokens := session.NewUserPoolTokens(access, id, "refresh-"+username, 3600, testNow)
	if err := rig.cache.Put(context.Background(), tokens); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	return tokens
}

func TestResetPasswordFlow(t *testing.T) {
	rig := newTestRig(t, config.FlowUserPassword)
	rig.idp.forgotPassword = func(in *cognitoidentityprovider.ForgotPasswordInput) (*cognitoidentityprovider.ForgotPasswordOutput, error) {
		if *in.Username != "casey" {
			t.Errorf("Username = %q", *in.Username)
		}
		return &cognitoidentityprovider.ForgotPasswordOutput{
			CodeDeliveryDetails: &idptypes.CodeDeliveryDetailsType{
				AttributeName:  sptr("email"),
				DeliveryMedium: idptypes.DeliveryMediumTypeEmail,
				Destination:    sptr("a***@example.com"),
			},
		}, nil
	}

	res, err := rig.client.ResetPassword(context.Background(), "casey")
	if err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if res.IsPasswordReset {
		t.Error("IsPasswordReset before the code was confirmed")
	}
	if res.NextStep.ResetPasswordStep != ResetPasswordStepConfirmWithCode {
		t.Errorf("ResetPasswordStep = %s", res.NextStep.ResetPasswordStep)
	}
	d := res.NextStep.CodeDeliveryDetails
	if d == nil {
		t.Fatal("missing delivery details")
	}
	// The masked destination and the medium come through exactly as the
	// service sent them.
	if d.Destination != "a***@example.com" {
		t.Errorf("Destination = %q, want a***@example.com", d.Destination)
	}
	if d.DeliveryMedium != "EMAIL" {
		t.Errorf("DeliveryMedium = %q, want EMAIL", d.DeliveryMedium)
	}

	var captured *cognitoidentityprovider.ConfirmForgotPasswordInput
	rig.idp.confirmForgot = func(in *cognitoidentityprovider.ConfirmForgotPasswordInput) (*cognitoidentityprovider.ConfirmForgotPasswordOutput, error) {
		captured = in
		return &cognitoidentityprovider.ConfirmForgotPasswordOutput{}, nil
	}
	if err := rig.client.ConfirmResetPassword(context.Background(), "casey", "Fresh-pass-1!", "654321"); err != nil {
		t.Fatalf("ConfirmResetPassword: %v", err)
	}
	if *captured.Username != "casey" || *captured.Password != "Fresh-pass-1!" || *captured.ConfirmationCode != "654321" {
		t.Errorf("captured = %+v", captured)
	}
	if *captured.ClientId != "3n5nd2pluODs73g5ms0r1h8r4u" {
		t.Errorf("ClientId = %q", *captured.ClientId)
	}
}

func TestConfirmResetPasswordValidation(t *testing.T) {
	rig := newTestRig(t, config.FlowUserPassword)

	tests := []struct {
		name                     string
		username, password, code string
		wantCode                 string
	}{
		{"empty username", "", "pw", "123456", CodeEmptyUsername},
		{"empty password", "casey", "", "123456", CodeEmptyPassword},
		{"empty code", "casey", "pw", "", CodeEmptyConfirmation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := rig.client.ConfirmResetPassword(context.Background(), tc.username, tc.password, tc.code)
			if ErrorTextCode(err) != tc.wantCode {
				t.Fatalf("error = %v, want %s", err, tc.wantCode)
			}
		})
	}
}

func TestUpdatePassword(t *testing.T) {
	rig := newTestRig(t, config.FlowUserPassword)
	tokens := seedSignedIn(t, rig, "casey")

	var captured *cognitoidentityprovider.ChangePasswordInput
	rig.idp.changePassword = func(in *cognitoidentityprovider.ChangePasswordInput) (*cognitoidentityprovider.ChangePasswordOutput, error) {
		captured = in
		return &cognitoidentityprovider.ChangePasswordOutput{}, nil
	}

	if err := rig.client.UpdatePassword(context.Background(), "old-pass", "new-pass"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if *captured.AccessToken != tokens.AccessToken {
		t.Error("ChangePassword did not carry the session access token")
	}
	if *captured.PreviousPassword != "old-pass" || *captured.ProposedPassword != "new-pass" {
		t.Errorf("passwords = %q/%q", *captured.PreviousPassword, *captured.ProposedPassword)
	}
}

func TestUpdatePasswordRequiresSession(t *testing.T) {
	rig := newTestRig(t, config.FlowUserPassword)

	err := rig.client.UpdatePassword(context.Background(), "old-pass", "new-pass")
	if ErrorTextCode(err) != CodeSignedOut {
		t.Fatalf("error = %v, want %s", err, CodeSignedOut)
	}
}

func TestFetchUserAttributes(t *testing.T) {
	rig := newTestRig(t, config.FlowUserPassword)
	tokens := seedSignedIn(t, rig, "casey")

	rig.idp.getUser = func(in *cognitoidentityprovider.GetUserInput) (*cognitoidentityprovider.GetUserOutput, error) {
		if *in.AccessToken != tokens.AccessToken {
			t.Error("GetUser did not carry the session access token")
		}
		return &cognitoidentityprovider.GetUserOutput{
			Username: sptr("casey"),
			UserAttributes: []idptypes.AttributeType{
				{Name: sptr("email"), Value: sptr("casey@example.com")},
				{Name: sptr("email_verified"), Value: sptr("true")},
			},
		}, nil
	}

	attrs, err := rig.client.FetchUserAttributes(context.Background())
	if err != nil {
		t.Fatalf("FetchUserAttributes: %v", err)
	}
	if attrs["email"] != "casey@example.com" || attrs["email_verified"] != "true" {
		t.Errorf("attrs = %v", attrs)
	}
}

func TestCurrentUser(t *testing.T) {
	rig := newTestRig(t, config.FlowUserPassword)
	seedSignedIn(t, rig, "casey")

	user, err := rig.client.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if user.Username != "casey" || user.UserID != "sub-casey" {
		t.Errorf("user = %+v", user)
	}
}

func TestCurrentUserSignedOut(t *testing.T) {
	rig := newTestRig(t, config.FlowUserPassword)

	_, err := rig.client.CurrentUser(context.Background())
	if ErrorTextCode(err) != CodeSignedOut {
		t.Fatalf("error = %v, want %s", err, CodeSignedOut)
	}
}

func TestFetchSessionSignedOutWithoutIdentityPool(t *testing.T) {
	rig := newTestRig(t, config.FlowUserPassword)

	_, err := rig.client.FetchSession(context.Background())
	if ErrorTextCode(err) != CodeSignedOut {
		t.Fatalf("error = %v, want %s", err, CodeSignedOut)
	}
}

func TestFetchSessionIsIdempotent(t *testing.T) {
	rig := newTestRig(t, config.FlowUserPassword)
	seedSignedIn(t, rig, "casey")

	first, err := rig.client.FetchSession(context.Background())
	if err != nil {
		t.Fatalf("FetchSession: %v", err)
	}
	second, err := rig.client.FetchSession(context.Background())
	if err != nil {
		t.Fatalf("FetchSession (second): %v", err)
	}
	if first.Tokens.AccessToken != second.Tokens.AccessToken {
		t.Error("repeated FetchSession changed the tokens")
	}
	if rig.idp.initiateCalls != 0 {
		t.Errorf("fresh session triggered %d refresh calls", rig.idp.initiateCalls)
	}
}

func TestSignOutClearsLocalState(t *testing.T) {
	rig := newTestRig(t, config.FlowUserPassword)
	seedSignedIn(t, rig, "casey")

	// Park a challenge so sign-out also has partial sign-in state to drop.
	rig.idp.initiateAuth = func(in *cognitoidentityprovider.InitiateAuthInput) (*cognitoidentityprovider.InitiateAuthOutput, error) {
		return &cognitoidentityprovider.InitiateAuthOutput{
			ChallengeName: idptypes.ChallengeNameTypeSmsMfa,
			Session:       sptr("round-1"),
		}, nil
	}
	if _, err := rig.client.SignIn(context.Background(), "casey", "pw", nil); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	rig.idp.globalSignOut = func(in *cognitoidentityprovider.GlobalSignOutInput) (*cognitoidentityprovider.GlobalSignOutOutput, error) {
		t.Error("GlobalSignOut called without the Global option")
		return &cognitoidentityprovider.GlobalSignOutOutput{}, nil
	}

	var signedOut bool
	cancel := rig.events.Subscribe(hub.ChannelAuth, func(e hub.Event) {
		if e.Name == "signedOut" {
			signedOut = true
		}
	})
	defer cancel()

	if err := rig.client.SignOut(context.Background(), nil); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	sess, err := rig.cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess != nil {
		t.Errorf("session survived sign-out: %+v", sess)
	}
	if _, err := rig.client.ConfirmSignIn(context.Background(), "123456", nil); ErrorTextCode(err) != CodeNoPendingChallenge {
		t.Errorf("challenge survived sign-out: %v", err)
	}
	if !signedOut {
		t.Error("signedOut event not published")
	}
}

func TestSignOutGlobalRevokesRemotely(t *testing.T) {
	rig := newTestRig(t, config.FlowUserPassword)
	tokens := seedSignedIn(t, rig, "casey")

	var captured *cognitoidentityprovider.GlobalSignOutInput
	rig.idp.globalSignOut = func(in *cognitoidentityprovider.GlobalSignOutInput) (*cognitoidentityprovider.GlobalSignOutOutput, error) {
		captured = in
		return &cognitoidentityprovider.GlobalSignOutOutput{}, nil
	}

	if err := rig.client.SignOut(context.Background(), &SignOutOptions{Global: true}); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if captured == nil || *captured.AccessToken != tokens.AccessToken {
		t.Error("GlobalSignOut did not carry the pre-clear access token")
	}
	if sess, _ := rig.cache.Get(context.Background()); sess != nil {
		t.Error("session survived global sign-out")
	}
}

func TestSignOutGlobalSurvivesRemoteFailure(t *testing.T) {
	rig := newTestRig(t, config.FlowUserPassword)
	seedSignedIn(t, rig, "casey")

	rig.idp.globalSignOut = func(in *cognitoidentityprovider.GlobalSignOutInput) (*cognitoidentityprovider.GlobalSignOutOutput, error) {
		return nil, errors.New("connection reset by peer")
	}

	if err := rig.client.SignOut(context.Background(), &SignOutOptions{Global: true}); err != nil {
		t.Fatalf("SignOut must not fail on remote revocation errors, got %v", err)
	}
	if sess, _ := rig.cache.Get(context.Background()); sess != nil {
		t.Error("session survived sign-out with failing revocation")
	}
}
