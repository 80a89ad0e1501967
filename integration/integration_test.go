// Package integration exercises the categories together against stateful
// service mocks: the full sign-in and session lifecycle, identity-scoped
// storage, the analytics pipeline, and in-app message dispatch.
package integration

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	idptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	pptypes "github.com/aws/aws-sdk-go-v2/service/pinpoint/types"

	"github.com/asotjrs/amplify-go/analytics"
	"github.com/asotjrs/amplify-go/auth"
	"github.com/asotjrs/amplify-go/aws"
	"github.com/asotjrs/amplify-go/config"
	"github.com/asotjrs/amplify-go/hub"
	"github.com/asotjrs/amplify-go/integration/mock"
	"github.com/asotjrs/amplify-go/notifications"
	"github.com/asotjrs/amplify-go/session"
	"github.com/asotjrs/amplify-go/storage"
)

// env wires every category against shared mocks, the way a configured client
// assembles them in production.
type env struct {
	cfg      *config.Config
	idp      *mock.CognitoIDP
	identity *mock.CognitoIdentity
	s3       *mock.S3
	presign  *mock.S3Presigner
	pp       *mock.Pinpoint
	events   *hub.Hub
	cache    *session.Cache
	auth     *auth.Client
	storage  *storage.Client
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		cfg: &config.Config{
			Auth: config.AuthConfig{
				Region:           "eu-west-1",
				UserPoolID:       "eu-west-1_TestPool",
				UserPoolClientID: "client-test",
				IdentityPoolID:   "eu-west-1:11111111-2222-3333-4444-555555555555",
				AuthFlowType:     config.FlowUserPassword,
			},
			Storage: config.StorageConfig{Region: "eu-west-1", Bucket: "media-test"},
			Analytics: config.AnalyticsConfig{
				Region:               "eu-west-1",
				AppID:                "app-test",
				FlushSize:            10,
				FlushIntervalSeconds: 3600,
			},
			Notifications: config.NotificationsConfig{Region: "eu-west-1", AppID: "app-test"},
		},
		idp:      mock.NewCognitoIDP(),
		identity: mock.NewCognitoIdentity(),
		s3:       mock.NewS3(),
		presign:  mock.NewS3Presigner(),
		pp:       mock.NewPinpoint(),
		events:   hub.New(),
	}
	e.cache = session.NewCache(&e.cfg.Auth, session.NewMemoryStore(), e.idp, e.identity, session.WithHub(e.events))
	e.auth = auth.New(&e.cfg.Auth, e.idp, e.cache, auth.WithHub(e.events))
	e.storage = storage.New(&e.cfg.Storage, e.s3, e.presign, e.cache)
	t.Cleanup(e.events.Close)
	return e
}

// record subscribes to a hub channel and collects event names.
func record(h *hub.Hub, channel hub.Channel) func() []string {
	var mu sync.Mutex
	var names []string
	h.Subscribe(channel, func(e hub.Event) {
		mu.Lock()
		names = append(names, e.Name)
		mu.Unlock()
	})
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), names...)
	}
}

func TestSignInWithMFAThroughSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	seen := record(e.events, hub.ChannelAuth)
	user := e.idp.AddUser("casey", "hunter2!")
	user.Challenges = []idptypes.ChallengeNameType{idptypes.ChallengeNameTypeSmsMfa}

	res, err := e.auth.SignIn(ctx, "casey", "hunter2!", nil)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if res.IsSignedIn || res.NextStep.SignInStep != auth.SignInStepConfirmWithSMSCode {
		t.Fatalf("result = %+v, want the SMS code step", res)
	}
	if d := res.NextStep.CodeDeliveryDetails; d == nil || d.DeliveryMedium != "SMS" {
		t.Fatalf("delivery = %+v", res.NextStep.CodeDeliveryDetails)
	}

	// A wrong code fails the attempt and burns the continuation.
	_, err = e.auth.ConfirmSignIn(ctx, "000000", nil)
	var svcErr *aws.ServiceError
	if !errors.As(err, &svcErr) || svcErr.Code != "CodeMismatchException" {
		t.Fatalf("wrong code error = %v", err)
	}
	if _, err := e.auth.ConfirmSignIn(ctx, mock.DefaultCode, nil); auth.ErrorTextCode(err) != auth.CodeNoPendingChallenge {
		t.Fatalf("confirm after failure = %v, want NO_PENDING_CHALLENGE", err)
	}

	// A fresh attempt with the right code completes.
	if _, err := e.auth.SignIn(ctx, "casey", "hunter2!", nil); err != nil {
		t.Fatalf("second SignIn: %v", err)
	}
	res, err = e.auth.ConfirmSignIn(ctx, mock.DefaultCode, nil)
	if err != nil {
		t.Fatalf("ConfirmSignIn: %v", err)
	}
	if !res.IsSignedIn {
		t.Fatalf("result = %+v, want signed in", res)
	}

	sess, err := e.auth.FetchSession(ctx)
	if err != nil {
		t.Fatalf("FetchSession: %v", err)
	}
	if !sess.SignedIn() || sess.IdentityID == "" || sess.Credentials == nil {
		t.Fatalf("session = %+v, want tokens, identity and credentials", sess)
	}
	if sess.Credentials.ExpiresAt > sess.Tokens.ExpiresAt {
		t.Error("credentials outlive the tokens that produced them")
	}

	// A second fetch serves from cache without another exchange.
	exchanges := len(e.identity.CredentialCalls())
	if _, err := e.auth.FetchSession(ctx); err != nil {
		t.Fatalf("second FetchSession: %v", err)
	}
	if got := len(e.identity.CredentialCalls()); got != exchanges {
		t.Errorf("credential calls = %d, want %d (cached)", got, exchanges)
	}

	me, err := e.auth.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if me.Username != "casey" || me.UserID != user.Sub {
		t.Errorf("user = %+v", me)
	}

	if err := e.auth.SignOut(ctx, &auth.SignOutOptions{Global: true}); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	sess, err = e.auth.FetchSession(ctx)
	if err != nil {
		t.Fatalf("FetchSession after sign-out: %v", err)
	}
	if sess.SignedIn() {
		t.Error("still signed in after sign-out")
	}
	if sess.Credentials == nil {
		t.Error("no guest credentials after sign-out")
	}

	names := seen()
	wantOrder := []string{"signInFailed", "signedIn", "signedOut"}
	for _, want := range wantOrder {
		found := false
		for _, name := range names {
			if name == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("hub events %v missing %q", names, want)
		}
	}
}

func TestExpiringTokensRefreshOnFetch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.idp.AddUser("casey", "hunter2!")

	// Sign in with tokens already inside the refresh window.
	e.idp.SetTokenTTL(30 * time.Second)
	if _, err := e.auth.SignIn(ctx, "casey", "hunter2!", nil); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	first, err := e.cache.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	e.idp.SetTokenTTL(time.Hour)
	sess, err := e.auth.FetchSession(ctx)
	if err != nil {
		t.Fatalf("FetchSession: %v", err)
	}
	if sess.Tokens.AccessToken == first.Tokens.AccessToken {
		t.Error("access token was not refreshed")
	}
	if sess.Tokens.RefreshToken != first.Tokens.RefreshToken {
		t.Error("refresh token must survive a refresh unrotated")
	}

	calls := e.idp.InitiateCalls()
	last := calls[len(calls)-1]
	if last.AuthFlow != idptypes.AuthFlowTypeRefreshTokenAuth {
		t.Errorf("last auth flow = %s, want REFRESH_TOKEN_AUTH", last.AuthFlow)
	}

	// Fresh tokens stay put until a force refresh asks for new ones.
	stable, err := e.auth.FetchSession(ctx)
	if err != nil {
		t.Fatalf("FetchSession: %v", err)
	}
	if stable.Tokens.AccessToken != sess.Tokens.AccessToken {
		t.Error("valid tokens were refreshed without being asked")
	}
	forced, err := e.auth.FetchSession(ctx, session.WithForceRefresh())
	if err != nil {
		t.Fatalf("forced FetchSession: %v", err)
	}
	if forced.Tokens.AccessToken == sess.Tokens.AccessToken {
		t.Error("force refresh did not mint new tokens")
	}
}

func TestSignUpToFirstSignIn(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	res, err := e.auth.SignUp(ctx, "riley", "S3cret!pass", map[string]string{"email": "riley@example.com"}, nil)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if res.IsSignUpComplete || res.NextStep.SignUpStep != auth.SignUpStepConfirmSignUp {
		t.Fatalf("result = %+v, want the confirmation step", res)
	}
	if d := res.NextStep.CodeDeliveryDetails; d == nil || !strings.HasSuffix(d.Destination, "@example.com") {
		t.Fatalf("delivery = %+v", res.NextStep.CodeDeliveryDetails)
	}

	// Signing in before confirming redirects to the confirmation step.
	signIn, err := e.auth.SignIn(ctx, "riley", "S3cret!pass", nil)
	if err != nil {
		t.Fatalf("premature SignIn: %v", err)
	}
	if signIn.NextStep.SignInStep != auth.SignInStepConfirmSignUp {
		t.Fatalf("premature sign-in step = %s", signIn.NextStep.SignInStep)
	}

	var svcErr *aws.ServiceError
	_, err = e.auth.ConfirmSignUp(ctx, "riley", "999999", nil)
	if !errors.As(err, &svcErr) || svcErr.Code != "CodeMismatchException" {
		t.Fatalf("wrong code error = %v", err)
	}

	confirmed, err := e.auth.ConfirmSignUp(ctx, "riley", mock.DefaultCode, nil)
	if err != nil {
		t.Fatalf("ConfirmSignUp: %v", err)
	}
	if !confirmed.IsSignUpComplete {
		t.Fatalf("result = %+v, want complete", confirmed)
	}

	signIn, err = e.auth.SignIn(ctx, "riley", "S3cret!pass", nil)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if !signIn.IsSignedIn {
		t.Fatalf("result = %+v, want signed in", signIn)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.idp.AddUser("casey", "OldPass1!")

	res, err := e.auth.ResetPassword(ctx, "casey")
	if err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if res.NextStep.ResetPasswordStep != auth.ResetPasswordStepConfirmWithCode {
		t.Fatalf("result = %+v", res)
	}
	if err := e.auth.ConfirmResetPassword(ctx, "casey", "NewPass1!", mock.DefaultCode); err != nil {
		t.Fatalf("ConfirmResetPassword: %v", err)
	}

	var svcErr *aws.ServiceError
	_, err = e.auth.SignIn(ctx, "casey", "OldPass1!", nil)
	if !errors.As(err, &svcErr) || svcErr.Code != "NotAuthorizedException" {
		t.Fatalf("old password error = %v", err)
	}
	signIn, err := e.auth.SignIn(ctx, "casey", "NewPass1!", nil)
	if err != nil {
		t.Fatalf("SignIn with new password: %v", err)
	}
	if !signIn.IsSignedIn {
		t.Fatalf("result = %+v, want signed in", signIn)
	}
}

func TestStorageScopesKeysToIdentity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.idp.AddUser("casey", "hunter2!")
	if _, err := e.auth.SignIn(ctx, "casey", "hunter2!", nil); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	sess, err := e.auth.FetchSession(ctx)
	if err != nil {
		t.Fatalf("FetchSession: %v", err)
	}
	identityID := sess.IdentityID

	if _, err := e.storage.UploadData(ctx, "notes.txt", strings.NewReader("remember the milk"), &storage.UploadOptions{
		Level:       storage.LevelPrivate,
		ContentType: "text/plain",
	}); err != nil {
		t.Fatalf("UploadData: %v", err)
	}
	resolved := "private/" + identityID + "/notes.txt"
	if _, ok := e.s3.Object("media-test", resolved); !ok {
		t.Fatalf("bucket keys = %v, want %s", e.s3.Keys("media-test"), resolved)
	}

	// Guest uploads land under the shared public prefix.
	if _, err := e.storage.UploadData(ctx, "banner.png", strings.NewReader("png"), nil); err != nil {
		t.Fatalf("guest UploadData: %v", err)
	}
	if _, ok := e.s3.Object("media-test", "public/banner.png"); !ok {
		t.Fatalf("bucket keys = %v, want public/banner.png", e.s3.Keys("media-test"))
	}

	list, err := e.storage.List(ctx, "", &storage.ListOptions{Level: storage.LevelPrivate})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].Key != "notes.txt" {
		t.Fatalf("items = %+v, want the stripped key", list.Items)
	}

	dl, err := e.storage.DownloadData(ctx, "notes.txt", &storage.DownloadOptions{Level: storage.LevelPrivate})
	if err != nil {
		t.Fatalf("DownloadData: %v", err)
	}
	body, err := io.ReadAll(dl.Body)
	dl.Body.Close()
	if err != nil || string(body) != "remember the milk" {
		t.Fatalf("body = %q, err = %v", body, err)
	}

	u, err := e.storage.GetURL(ctx, "notes.txt", &storage.URLOptions{Level: storage.LevelPrivate})
	if err != nil {
		t.Fatalf("GetURL: %v", err)
	}
	if !strings.Contains(u.URL, "/"+resolved) {
		t.Errorf("URL %q does not target %s", u.URL, resolved)
	}

	if _, err := e.storage.Remove(ctx, "notes.txt", &storage.RemoveOptions{Level: storage.LevelPrivate}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := e.s3.Object("media-test", resolved); ok {
		t.Error("object survived Remove")
	}
}

func TestAnalyticsPipelineAndInAppDispatch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	rec := analytics.NewRecorder(&e.cfg.Analytics, e.pp, analytics.WithHub(e.events))
	defer rec.Close(ctx)

	for _, name := range []string{"app_open", "level_complete"} {
		if err := rec.Record(ctx, analytics.Event{
			Name:       name,
			Attributes: map[string]string{"difficulty": "hard"},
		}); err != nil {
			t.Fatalf("Record(%s): %v", name, err)
		}
	}
	if err := rec.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	delivered := e.pp.EventsFor(rec.EndpointID())
	if len(delivered) != 2 {
		t.Fatalf("delivered = %d events, want 2", len(delivered))
	}
	types := map[string]bool{}
	for _, ev := range delivered {
		if ev.EventType != nil {
			types[*ev.EventType] = true
		}
	}
	if !types["app_open"] || !types["level_complete"] {
		t.Errorf("delivered event types = %v", types)
	}

	if err := rec.IdentifyUser(ctx, "user-1", &analytics.UserProfile{
		Attributes: map[string][]string{"plan": {"pro"}},
	}); err != nil {
		t.Fatalf("IdentifyUser: %v", err)
	}
	endpoint, ok := e.pp.Endpoint(rec.EndpointID())
	if !ok || endpoint.User == nil || *endpoint.User.UserId != "user-1" {
		t.Fatalf("endpoint = %+v, want user-1 attached", endpoint)
	}

	// In-app messages sync for the same endpoint and fire on matching events.
	campaignID := "campaign-7"
	header := "Nice run!"
	e.pp.SetCampaigns(pptypes.InAppMessageCampaign{
		CampaignId: &campaignID,
		InAppMessage: &pptypes.InAppMessage{
			Layout: pptypes.LayoutTopBanner,
			Content: []pptypes.InAppMessageContent{{
				HeaderConfig: &pptypes.InAppMessageHeaderConfig{Header: &header},
			}},
		},
		Schedule: &pptypes.InAppCampaignSchedule{
			EventFilter: &pptypes.CampaignEventFilter{
				Dimensions: &pptypes.EventDimensions{
					EventType: &pptypes.SetDimension{
						DimensionType: pptypes.DimensionTypeInclusive,
						Values:        []string{"level_complete"},
					},
				},
			},
		},
	})

	inapp := notifications.New(&e.cfg.Notifications, e.pp, rec.EndpointID(), notifications.WithHub(e.events))
	if _, err := inapp.SyncMessages(ctx); err != nil {
		t.Fatalf("SyncMessages: %v", err)
	}
	matched := inapp.DispatchEvent(analytics.Event{Name: "level_complete"})
	if len(matched) != 1 || matched[0].CampaignID != campaignID {
		t.Fatalf("matched = %+v", matched)
	}
	if got := inapp.DispatchEvent(analytics.Event{Name: "app_open"}); got != nil {
		t.Errorf("unmatched dispatch = %+v", got)
	}
}
