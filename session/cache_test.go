package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	identitytypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentity/types"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	idptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	goerrors "github.com/goliatone/go-errors"

	"github.com/asotjrs/amplify-go/aws"
	"github.com/asotjrs/amplify-go/config"
	"github.com/asotjrs/amplify-go/metrics"
)

var errNotImplemented = errors.New("not implemented in this test double")

var testNow = time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func sptr(s string) *string { return &s }

func testAuthConfig() *config.AuthConfig {
	return &config.AuthConfig{
		Region:           "us-east-1",
		UserPoolID:       "us-east-1_Ab129faBb",
		UserPoolClientID: "3n5nd2pluODs73g5ms0r1h8r4u",
		IdentityPoolID:   "us-east-1:9f0c3aaa-1111-4222-8333-012345678901",
	}
}

// fakeIDP implements aws.CognitoIdentityProviderClient. Only InitiateAuth is
// scriptable; the cache never touches the rest.
type fakeIDP struct {
	mu            sync.Mutex
	initiateCalls int
	lastInitiate  *cognitoidentityprovider.InitiateAuthInput
	initiateAuth  func(*cognitoidentityprovider.InitiateAuthInput) (*cognitoidentityprovider.InitiateAuthOutput, error)
}

func (f *fakeIDP) InitiateAuth(ctx context.Context, in *cognitoidentityprovider.InitiateAuthInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error) {
	f.mu.Lock()
	f.initiateCalls++
	f.lastInitiate = in
	fn := f.initiateAuth
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("unexpected InitiateAuth call")
	}
	return fn(in)
}

func (f *fakeIDP) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initiateCalls
}

func (f *fakeIDP) RespondToAuthChallenge(context.Context, *cognitoidentityprovider.RespondToAuthChallengeInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.RespondToAuthChallengeOutput, error) {
	return nil, errNotImplemented
}
func (f *fakeIDP) SignUp(context.Context, *cognitoidentityprovider.SignUpInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.SignUpOutput, error) {
	return nil, errNotImplemented
}
func (f *fakeIDP) ConfirmSignUp(context.Context, *cognitoidentityprovider.ConfirmSignUpInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ConfirmSignUpOutput, error) {
	return nil, errNotImplemented
}
func (f *fakeIDP) ResendConfirmationCode(context.Context, *cognitoidentityprovider.ResendConfirmationCodeInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ResendConfirmationCodeOutput, error) {
	return nil, errNotImplemented
}
func (f *fakeIDP) ForgotPassword(context.Context, *cognitoidentityprovider.ForgotPasswordInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ForgotPasswordOutput, error) {
	return nil, errNotImplemented
}
func (f *fakeIDP) ConfirmForgotPassword(context.Context, *cognitoidentityprovider.ConfirmForgotPasswordInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ConfirmForgotPasswordOutput, error) {
	return nil, errNotImplemented
}
func (f *fakeIDP) ChangePassword(context.Context, *cognitoidentityprovider.ChangePasswordInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ChangePasswordOutput, error) {
	return nil, errNotImplemented
}
func (f *fakeIDP) GlobalSignOut(context.Context, *cognitoidentityprovider.GlobalSignOutInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.GlobalSignOutOutput, error) {
	return nil, errNotImplemented
}
func (f *fakeIDP) GetUser(context.Context, *cognitoidentityprovider.GetUserInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.GetUserOutput, error) {
	return nil, errNotImplemented
}
func (f *fakeIDP) AssociateSoftwareToken(context.Context, *cognitoidentityprovider.AssociateSoftwareTokenInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AssociateSoftwareTokenOutput, error) {
	return nil, errNotImplemented
}
func (f *fakeIDP) VerifySoftwareToken(context.Context, *cognitoidentityprovider.VerifySoftwareTokenInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.VerifySoftwareTokenOutput, error) {
	return nil, errNotImplemented
}

// fakeIdentity implements aws.CognitoIdentityClient.
type fakeIdentity struct {
	mu           sync.Mutex
	getIDCalls   int
	lastGetID    *cognitoidentity.GetIdInput
	lastGetCreds *cognitoidentity.GetCredentialsForIdentityInput
	identityID   string
	credentials  *identitytypes.Credentials
	getIDErr     error
	getCredsErr  error
}

func (f *fakeIdentity) GetId(ctx context.Context, in *cognitoidentity.GetIdInput, _ ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error) {
	f.mu.Lock()
	f.getIDCalls++
	f.lastGetID = in
	f.mu.Unlock()
	if f.getIDErr != nil {
		return nil, f.getIDErr
	}
	return &cognitoidentity.GetIdOutput{IdentityId: &f.identityID}, nil
}

func (f *fakeIdentity) GetCredentialsForIdentity(ctx context.Context, in *cognitoidentity.GetCredentialsForIdentityInput, _ ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error) {
	f.mu.Lock()
	f.lastGetCreds = in
	f.mu.Unlock()
	if f.getCredsErr != nil {
		return nil, f.getCredsErr
	}
	return &cognitoidentity.GetCredentialsForIdentityOutput{
		IdentityId:  in.IdentityId,
		Credentials: f.credentials,
	}, nil
}

// countingStore wraps a Store and counts operations.
type countingStore struct {
	inner  Store
	loads  int32
	saves  int32
	clears int32
}

func (c *countingStore) Load(ctx context.Context) (*Session, error) {
	atomic.AddInt32(&c.loads, 1)
	return c.inner.Load(ctx)
}

func (c *countingStore) Save(ctx context.Context, s *Session) error {
	atomic.AddInt32(&c.saves, 1)
	return c.inner.Save(ctx, s)
}

func (c *countingStore) Clear(ctx context.Context) error {
	atomic.AddInt32(&c.clears, 1)
	return c.inner.Clear(ctx)
}

func seedStore(t *testing.T, s *Session) Store {
	t.Helper()
	store := NewMemoryStore()
	if err := store.Save(context.Background(), s); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	return store
}

func signedInSession(expiresAt int64) *Session {
	return &Session{
		Tokens: &UserPoolTokens{
			AccessToken:  "access-token",
			IDToken:      "id-token",
			RefreshToken: "refresh-token",
			ExpiresAt:    expiresAt,
		},
	}
}

func TestCacheGetConsultsStoreOnce(t *testing.T) {
	ctx := context.Background()
	counting := &countingStore{inner: seedStore(t, signedInSession(testNow.Add(time.Hour).UnixMilli()))}

	cache := NewCache(testAuthConfig(), counting, &fakeIDP{}, nil, WithClock(testClock))

	for i := 0; i < 3; i++ {
		sess, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
		if !sess.SignedIn() {
			t.Fatalf("Get #%d returned signed-out session", i)
		}
	}

	if counting.loads != 1 {
		t.Errorf("store loads = %d, want 1", counting.loads)
	}
}

func TestCachePutReplacesSessionAndDropsCredentials(t *testing.T) {
	ctx := context.Background()
	old := signedInSession(testNow.Add(time.Hour).UnixMilli())
	old.IdentityID = "us-east-1:old-identity"
	old.Credentials = &AWSCredentials{AccessKeyID: "AKIAOLD"}
	store := seedStore(t, old)

	cache := NewCache(testAuthConfig(), store, &fakeIDP{}, nil, WithClock(testClock))
	if _, err := cache.Get(ctx); err != nil {
		t.Fatalf("Get: %v", err)
	}

	fresh := &UserPoolTokens{AccessToken: "new-access", IDToken: "new-id", RefreshToken: "new-refresh"}
	if err := cache.Put(ctx, fresh); err != nil {
		t.Fatalf("Put: %v", err)
	}

	sess, err := cache.Get(ctx)
	if err != nil {
		t.Fatalf("Get after Put: %v", err)
	}
	if sess.Tokens.AccessToken != "new-access" {
		t.Errorf("AccessToken = %q, want new-access", sess.Tokens.AccessToken)
	}
	if sess.Credentials != nil || sess.IdentityID != "" {
		t.Error("Put kept credentials or identity from the previous principal")
	}

	persisted, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("store Load: %v", err)
	}
	if persisted.Tokens.AccessToken != "new-access" {
		t.Error("Put did not persist the new session")
	}
}

func TestCachePutRejectsEmptyTokens(t *testing.T) {
	cache := NewCache(testAuthConfig(), nil, &fakeIDP{}, nil)

	for _, tokens := range []*UserPoolTokens{nil, {IDToken: "id-only"}} {
		err := cache.Put(context.Background(), tokens)
		if err == nil {
			t.Fatal("Put accepted tokens without an access token")
		}
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			t.Fatalf("expected a rich error, got %T", err)
		}
		if richErr.Category != goerrors.CategoryValidation || richErr.TextCode != "EMPTY_TOKENS" {
			t.Errorf("error category/code = %v/%q", richErr.Category, richErr.TextCode)
		}
	}
}

func TestCacheClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, signedInSession(testNow.Add(time.Hour).UnixMilli()))
	cache := NewCache(testAuthConfig(), store, &fakeIDP{}, nil)

	if err := cache.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := cache.Clear(ctx); err != nil {
		t.Fatalf("second Clear: %v", err)
	}

	sess, err := cache.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess != nil {
		t.Error("session survived Clear")
	}
}

func TestFetchSessionReturnsFreshTokensWithoutNetwork(t *testing.T) {
	store := seedStore(t, signedInSession(testNow.Add(time.Hour).UnixMilli()))
	idp := &fakeIDP{} // any call fails the test through the unexpected-call error

	cache := NewCache(testAuthConfig(), store, idp, nil, WithClock(testClock))

	sess, err := cache.FetchSession(context.Background())
	if err != nil {
		t.Fatalf("FetchSession: %v", err)
	}
	if sess.Tokens.AccessToken != "access-token" {
		t.Errorf("AccessToken = %q, want access-token", sess.Tokens.AccessToken)
	}
	if idp.calls() != 0 {
		t.Errorf("InitiateAuth called %d times for a fresh session", idp.calls())
	}
}

func TestFetchSessionRefreshesExpiredTokens(t *testing.T) {
	store := seedStore(t, signedInSession(testNow.Add(-time.Minute).UnixMilli()))
	met := metrics.NewMetrics()

	idp := &fakeIDP{}
	idp.initiateAuth = func(in *cognitoidentityprovider.InitiateAuthInput) (*cognitoidentityprovider.InitiateAuthOutput, error) {
		return &cognitoidentityprovider.InitiateAuthOutput{
			AuthenticationResult: &idptypes.AuthenticationResultType{
				AccessToken: sptr("refreshed-access"),
				IdToken:     sptr("refreshed-id"),
				ExpiresIn:   3600,
			},
		}, nil
	}

	cache := NewCache(testAuthConfig(), store, idp, nil, WithClock(testClock), WithMetrics(met))

	sess, err := cache.FetchSession(context.Background())
	if err != nil {
		t.Fatalf("FetchSession: %v", err)
	}

	if sess.Tokens.AccessToken != "refreshed-access" {
		t.Errorf("AccessToken = %q, want refreshed-access", sess.Tokens.AccessToken)
	}
	if sess.Tokens.RefreshToken != "refresh-token" {
		t.Errorf("RefreshToken = %q, want the original preserved", sess.Tokens.RefreshToken)
	}
	if want := testNow.Add(time.Hour).UnixMilli(); sess.Tokens.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want %d", sess.Tokens.ExpiresAt, want)
	}

	in := idp.lastInitiate
	if in.AuthFlow != idptypes.AuthFlowTypeRefreshTokenAuth {
		t.Errorf("AuthFlow = %v, want REFRESH_TOKEN_AUTH", in.AuthFlow)
	}
	if in.AuthParameters["REFRESH_TOKEN"] != "refresh-token" {
		t.Errorf("REFRESH_TOKEN parameter = %q", in.AuthParameters["REFRESH_TOKEN"])
	}
	if in.ClientId == nil || *in.ClientId != "3n5nd2pluODs73g5ms0r1h8r4u" {
		t.Error("ClientId not forwarded")
	}

	if got := met.GenerateReport().TokenRefreshes; got != 1 {
		t.Errorf("TokenRefreshes = %d, want 1", got)
	}

	// The refreshed session must be persisted.
	persisted, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("store Load: %v", err)
	}
	if persisted.Tokens.AccessToken != "refreshed-access" {
		t.Error("refreshed session not persisted")
	}
}

func TestFetchSessionCollapsesConcurrentRefreshes(t *testing.T) {
	store := seedStore(t, signedInSession(testNow.Add(-time.Minute).UnixMilli()))

	idp := &fakeIDP{}
	idp.initiateAuth = func(in *cognitoidentityprovider.InitiateAuthInput) (*cognitoidentityprovider.InitiateAuthOutput, error) {
		time.Sleep(30 * time.Millisecond)
		return &cognitoidentityprovider.InitiateAuthOutput{
			AuthenticationResult: &idptypes.AuthenticationResultType{
				AccessToken: sptr("refreshed-access"),
				IdToken:     sptr("refreshed-id"),
				ExpiresIn:   3600,
			},
		}, nil
	}

	cache := NewCache(testAuthConfig(), store, idp, nil, WithClock(testClock))

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*Session, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.FetchSession(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i].Tokens.AccessToken != "refreshed-access" {
			t.Errorf("worker %d saw stale token %q", i, results[i].Tokens.AccessToken)
		}
	}

	if idp.calls() != 1 {
		t.Errorf("InitiateAuth called %d times, want 1", idp.calls())
	}
}

func TestFetchSessionRejectedRefreshClearsSession(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, signedInSession(testNow.Add(-time.Minute).UnixMilli()))

	idp := &fakeIDP{}
	idp.initiateAuth = func(in *cognitoidentityprovider.InitiateAuthInput) (*cognitoidentityprovider.InitiateAuthOutput, error) {
		return nil, &idptypes.NotAuthorizedException{Message: sptr("Refresh Token has been revoked")}
	}

	cache := NewCache(testAuthConfig(), store, idp, nil, WithClock(testClock))

	_, err := cache.FetchSession(ctx)
	if err == nil {
		t.Fatal("FetchSession succeeded with a revoked refresh token")
	}
	if !aws.IsCode(err, "NotAuthorizedException") {
		t.Errorf("error code = %q, want NotAuthorizedException", aws.ErrorCode(err))
	}

	sess, err := cache.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess != nil {
		t.Error("rejected session was not cleared")
	}
	if persisted, _ := store.Load(ctx); persisted != nil {
		t.Error("rejected session still persisted")
	}
}

func TestFetchSessionExpiredWithoutRefreshToken(t *testing.T) {
	expired := signedInSession(testNow.Add(-time.Minute).UnixMilli())
	expired.Tokens.RefreshToken = ""
	store := seedStore(t, expired)

	cache := NewCache(testAuthConfig(), store, &fakeIDP{}, nil, WithClock(testClock))

	_, err := cache.FetchSession(context.Background())
	if err == nil {
		t.Fatal("FetchSession succeeded without a refresh token")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected a rich error, got %T", err)
	}
	if richErr.Category != goerrors.CategoryAuth || richErr.TextCode != "SESSION_EXPIRED" {
		t.Errorf("error category/code = %v/%q", richErr.Category, richErr.TextCode)
	}
}

func TestExchangeClampsCredentialExpiryToTokenExpiry(t *testing.T) {
	ctx := context.Background()
	tokenExpiry := testNow.Add(30 * time.Minute)
	store := seedStore(t, signedInSession(tokenExpiry.UnixMilli()))

	credExpiry := testNow.Add(2 * time.Hour)
	identity := &fakeIdentity{
		identityID: "us-east-1:11111111-2222-3333-4444-555555555555",
		credentials: &identitytypes.Credentials{
			AccessKeyId:  sptr("AKIADERIVED"),
			SecretKey:    sptr("derived-secret"),
			SessionToken: sptr("derived-session"),
			Expiration:   &credExpiry,
		},
	}

	cache := NewCache(testAuthConfig(), store, &fakeIDP{}, identity, WithClock(testClock))

	creds, err := cache.ExchangeForAWSCredentials(ctx)
	if err != nil {
		t.Fatalf("ExchangeForAWSCredentials: %v", err)
	}

	if creds.AccessKeyID != "AKIADERIVED" {
		t.Errorf("AccessKeyID = %q", creds.AccessKeyID)
	}
	if creds.ExpiresAt != tokenExpiry.UnixMilli() {
		t.Errorf("ExpiresAt = %d, want clamped to token expiry %d", creds.ExpiresAt, tokenExpiry.UnixMilli())
	}

	wantProvider := "cognito-idp.us-east-1.amazonaws.com/us-east-1_Ab129faBb"
	if identity.lastGetID.Logins[wantProvider] != "id-token" {
		t.Errorf("GetId logins = %v, want ID token under %s", identity.lastGetID.Logins, wantProvider)
	}
	if identity.lastGetCreds.Logins[wantProvider] != "id-token" {
		t.Errorf("GetCredentialsForIdentity logins = %v", identity.lastGetCreds.Logins)
	}

	// The identity ID is cached; a second exchange skips GetId.
	if _, err := cache.ExchangeForAWSCredentials(ctx); err != nil {
		t.Fatalf("second exchange: %v", err)
	}
	if identity.getIDCalls != 1 {
		t.Errorf("GetId calls = %d, want 1", identity.getIDCalls)
	}
}

func TestExchangeGuestCredentials(t *testing.T) {
	ctx := context.Background()
	credExpiry := testNow.Add(time.Hour)
	identity := &fakeIdentity{
		identityID: "us-east-1:66666666-7777-8888-9999-000000000000",
		credentials: &identitytypes.Credentials{
			AccessKeyId:  sptr("AKIAGUEST"),
			SecretKey:    sptr("guest-secret"),
			SessionToken: sptr("guest-session"),
			Expiration:   &credExpiry,
		},
	}

	cache := NewCache(testAuthConfig(), NewMemoryStore(), &fakeIDP{}, identity, WithClock(testClock))

	creds, err := cache.ExchangeForAWSCredentials(ctx)
	if err != nil {
		t.Fatalf("ExchangeForAWSCredentials: %v", err)
	}

	if len(identity.lastGetID.Logins) != 0 {
		t.Errorf("guest GetId sent logins %v", identity.lastGetID.Logins)
	}
	if creds.ExpiresAt != credExpiry.UnixMilli() {
		t.Errorf("guest ExpiresAt = %d, want unclamped %d", creds.ExpiresAt, credExpiry.UnixMilli())
	}

	sess, err := cache.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.SignedIn() {
		t.Error("guest session reports signed in")
	}
	if sess.IdentityID != "us-east-1:66666666-7777-8888-9999-000000000000" {
		t.Errorf("IdentityID = %q", sess.IdentityID)
	}
	if sess.Credentials == nil || sess.Credentials.AccessKeyID != "AKIAGUEST" {
		t.Error("guest credentials not cached")
	}
}

func TestExchangeWithoutIdentityPool(t *testing.T) {
	cfg := testAuthConfig()
	cfg.IdentityPoolID = ""
	cache := NewCache(cfg, NewMemoryStore(), &fakeIDP{}, nil)

	_, err := cache.ExchangeForAWSCredentials(context.Background())
	if err == nil {
		t.Fatal("exchange succeeded without an identity pool")
	}
	if !config.IsConfigurationError(err) {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

func TestCredentialsProviderRetrieve(t *testing.T) {
	credExpiry := testNow.Add(2 * time.Hour)
	sess := signedInSession(testNow.Add(2 * time.Hour).UnixMilli())
	sess.Credentials = &AWSCredentials{
		AccessKeyID:     "AKIAPROVIDER",
		SecretAccessKey: "provider-secret",
		SessionToken:    "provider-session",
		ExpiresAt:       credExpiry.UnixMilli(),
	}
	store := seedStore(t, sess)

	cfg := testAuthConfig()
	cfg.IdentityPoolID = ""
	cache := NewCache(cfg, store, &fakeIDP{}, nil, WithClock(testClock))

	provider := NewCredentialsProvider(cache)
	creds, err := provider.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if creds.AccessKeyID != "AKIAPROVIDER" || creds.SecretAccessKey != "provider-secret" {
		t.Errorf("credentials = %+v", creds)
	}
	if !creds.CanExpire {
		t.Error("CanExpire = false for expiring credentials")
	}
	if !creds.Expires.Equal(time.UnixMilli(credExpiry.UnixMilli())) {
		t.Errorf("Expires = %v, want %v", creds.Expires, credExpiry)
	}
}

func TestCredentialsProviderWithoutSession(t *testing.T) {
	cfg := testAuthConfig()
	cfg.IdentityPoolID = ""
	cache := NewCache(cfg, NewMemoryStore(), &fakeIDP{}, nil, WithClock(testClock))

	if _, err := NewCredentialsProvider(cache).Retrieve(context.Background()); err == nil {
		t.Error("Retrieve succeeded with no session")
	}
}
