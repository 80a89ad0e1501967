package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	idptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	goerrors "github.com/goliatone/go-errors"

	"github.com/asotjrs/amplify-go/aws"
	"github.com/asotjrs/amplify-go/config"
	"github.com/asotjrs/amplify-go/hub"
	"github.com/asotjrs/amplify-go/logging"
	"github.com/asotjrs/amplify-go/metrics"
)

// refreshWindow is how close to expiry a token or credential set may get
// before FetchSession refreshes it. The margin absorbs clock skew and the
// latency of the request that is about to use the credentials.
const refreshWindow = time.Minute

// Cache owns the session state for one configured client: the in-memory
// session, the store persisting it, and the refresh and credential-exchange
// paths that keep it usable. All mutations go through the cache so the store
// only ever sees complete snapshots.
//
// Example:
//
//	cache := session.NewCache(&cfg.Auth, store, idpClient, identityClient,
//	    session.WithLogger(logger),
//	    session.WithHub(events),
//	)
//	sess, err := cache.FetchSession(ctx)
type Cache struct {
	cfg      *config.AuthConfig
	store    Store
	idp      aws.CognitoIdentityProviderClient
	identity aws.CognitoIdentityClient

	log    logging.Logger
	met    *metrics.Metrics
	events *hub.Hub
	now    func() time.Time

	mu      sync.RWMutex
	current *Session
	loaded  bool

	// refreshMu serializes token refresh so concurrent FetchSession calls
	// collapse into a single network round trip.
	refreshMu sync.Mutex
}

// CacheOption configures optional cache collaborators.
type CacheOption func(*Cache)

// WithLogger sets the logger used for persistence warnings.
func WithLogger(l logging.Logger) CacheOption {
	return func(c *Cache) { c.log = logging.OrNop(l) }
}

// WithMetrics sets the metrics sink shared with the rest of the client.
func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) { c.met = m }
}

// WithHub sets the hub that receives tokenRefresh and tokenRefreshFailure
// events on the auth channel.
func WithHub(h *hub.Hub) CacheOption {
	return func(c *Cache) { c.events = h }
}

// WithClock overrides the time source. Tests use this to move tokens across
// their expiry without sleeping.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache. The identity client may be nil when no identity
// pool is configured; credential exchange then fails with a configuration
// error. A nil store defaults to in-memory.
func NewCache(cfg *config.AuthConfig, store Store, idp aws.CognitoIdentityProviderClient, identity aws.CognitoIdentityClient, opts ...CacheOption) *Cache {
	c := &Cache{
		cfg:      cfg,
		store:    store,
		idp:      idp,
		identity: identity,
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.met == nil {
		c.met = metrics.NewMetrics()
	}
	return c
}

// Put installs freshly issued tokens as the current session. Derived
// credentials and the identity linkage are dropped because they belong to
// the previous principal. The in-memory session is updated even when
// persistence fails, so a returned error means the session will not survive
// a restart, not that sign-in state is missing.
func (c *Cache) Put(ctx context.Context, tokens *UserPoolTokens) error {
	if tokens == nil || tokens.AccessToken == "" {
		return goerrors.New("tokens must carry an access token", goerrors.CategoryValidation).
			WithTextCode("EMPTY_TOKENS")
	}

	c.mu.Lock()
	c.current = &Session{Tokens: tokens.Clone()}
	c.loaded = true
	snapshot := c.current.Clone()
	c.mu.Unlock()

	if err := c.store.Save(ctx, snapshot); err != nil {
		c.log.Warn("session held in memory only: %v", err)
		return fmt.Errorf("persisting session: %w", err)
	}
	return nil
}

// Get returns a snapshot of the current session, consulting the store on
// first use. A nil session with a nil error means no one is signed in.
func (c *Cache) Get(ctx context.Context) (*Session, error) {
	c.mu.RLock()
	if c.loaded {
		s := c.current.Clone()
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		s, err := c.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading session: %w", err)
		}
		c.current = s
		c.loaded = true
	}
	return c.current.Clone(), nil
}

// Clear drops the session from memory and the store. Clearing an already
// empty cache is a no-op, so concurrent clears are safe.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.current = nil
	c.loaded = true
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing session store: %w", err)
	}
	return nil
}

type fetchOptions struct {
	forceRefresh bool
}

// FetchOption adjusts a FetchSession call.
type FetchOption func(*fetchOptions)

// WithForceRefresh makes FetchSession refresh tokens and re-derive AWS
// credentials even when the cached ones are still valid.
func WithForceRefresh() FetchOption {
	return func(o *fetchOptions) { o.forceRefresh = true }
}

// FetchSession returns the current session with usable tokens and, when an
// identity pool is configured, usable AWS credentials. Expired tokens are
// refreshed through the user pool; expired or missing credentials are
// re-derived through the identity pool. Concurrent calls collapse into a
// single refresh. A nil session with a nil error means no one is signed in
// and no identity pool is configured.
func (c *Cache) FetchSession(ctx context.Context, opts ...FetchOption) (*Session, error) {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}

	sess, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}

	if sess.SignedIn() && (o.forceRefresh || sess.Tokens.ExpiresWithin(c.now(), refreshWindow)) {
		sess, err = c.refreshTokens(ctx, o.forceRefresh)
		if err != nil {
			return nil, err
		}
	}

	if c.identity != nil && c.cfg.IdentityPoolID != "" {
		stale := sess == nil || sess.Credentials == nil ||
			sess.Credentials.ExpiresWithin(c.now(), refreshWindow)
		if o.forceRefresh || stale {
			if _, err := c.ExchangeForAWSCredentials(ctx); err != nil {
				return nil, err
			}
			if sess, err = c.Get(ctx); err != nil {
				return nil, err
			}
		}
	}

	return sess, nil
}

// refreshTokens exchanges the refresh token for new access and ID tokens.
// Callers that lose the race see the fresh tokens installed by the winner
// and return without a network call.
func (c *Cache) refreshTokens(ctx context.Context, force bool) (*Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	sess, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}
	// The session may have been refreshed or cleared while this caller
	// waited on the refresh lock.
	if !sess.SignedIn() {
		return sess, nil
	}
	if !force && !sess.Tokens.ExpiresWithin(c.now(), refreshWindow) {
		return sess, nil
	}
	refreshToken := sess.Tokens.RefreshToken
	if refreshToken == "" {
		return nil, goerrors.New("session expired and no refresh token is available", goerrors.CategoryAuth).
			WithTextCode("SESSION_EXPIRED")
	}

	out, err := c.idp.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow:       idptypes.AuthFlowTypeRefreshTokenAuth,
		ClientId:       &c.cfg.UserPoolClientID,
		AuthParameters: map[string]string{"REFRESH_TOKEN": refreshToken},
	})
	if err != nil {
		svcErr := aws.NewServiceError("InitiateAuth", err)
		c.publish("tokenRefreshFailure", map[string]any{"error": svcErr.Error()})

		// A rejected refresh token is dead; keeping the session would
		// make every later call repeat the same failure.
		var notAuthorized *idptypes.NotAuthorizedException
		if errors.As(err, &notAuthorized) {
			if clearErr := c.Clear(ctx); clearErr != nil {
				c.log.Warn("clearing rejected session: %v", clearErr)
			}
		}
		return nil, svcErr
	}
	if out.AuthenticationResult == nil {
		return nil, aws.NewServiceError("InitiateAuth", fmt.Errorf("refresh response carried no authentication result"))
	}

	result := out.AuthenticationResult
	tokens := NewUserPoolTokens(strVal(result.AccessToken), strVal(result.IdToken), strVal(result.RefreshToken), result.ExpiresIn, c.now())
	if tokens.RefreshToken == "" {
		// The service does not rotate refresh tokens on this flow.
		tokens.RefreshToken = refreshToken
	}

	c.mu.Lock()
	if c.current == nil || !c.current.SignedIn() {
		// A concurrent sign-out won; do not resurrect the session.
		c.mu.Unlock()
		return nil, nil
	}
	c.current.Tokens = tokens
	snapshot := c.current.Clone()
	c.mu.Unlock()

	c.met.RecordTokenRefresh()
	c.publish("tokenRefresh", map[string]any{"username": tokens.Username()})

	if err := c.store.Save(ctx, snapshot); err != nil {
		c.log.Warn("session held in memory only: %v", err)
	}
	return snapshot, nil
}

// ExchangeForAWSCredentials trades the session's ID token for temporary AWS
// credentials through the identity pool. Signed-out callers receive guest
// credentials when the pool allows unauthenticated identities. The credential
// expiry is clamped to the token expiry so derived credentials never outlive
// the login that produced them.
func (c *Cache) ExchangeForAWSCredentials(ctx context.Context) (*AWSCredentials, error) {
	if c.identity == nil || c.cfg.IdentityPoolID == "" {
		return nil, config.NewError("CONFIG_NO_IDENTITY_POOL", "no identity pool is configured for credential exchange")
	}

	sess, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}

	var (
		logins      map[string]string
		tokenExpiry int64
		signedIn    = sess.SignedIn()
	)
	if signedIn {
		if sess.Tokens.IDToken == "" {
			return nil, goerrors.New("session has no ID token to exchange", goerrors.CategoryValidation).
				WithTextCode("MISSING_ID_TOKEN")
		}
		logins = map[string]string{c.loginProvider(): sess.Tokens.IDToken}
		tokenExpiry = sess.Tokens.Expiry()
	}

	identityID := ""
	if sess != nil {
		identityID = sess.IdentityID
	}
	if identityID == "" {
		out, err := c.identity.GetId(ctx, &cognitoidentity.GetIdInput{
			IdentityPoolId: &c.cfg.IdentityPoolID,
			Logins:         logins,
		})
		if err != nil {
			return nil, aws.NewServiceError("GetId", err)
		}
		identityID = strVal(out.IdentityId)
	}

	out, err := c.identity.GetCredentialsForIdentity(ctx, &cognitoidentity.GetCredentialsForIdentityInput{
		IdentityId: &identityID,
		Logins:     logins,
	})
	if err != nil {
		return nil, aws.NewServiceError("GetCredentialsForIdentity", err)
	}
	if out.Credentials == nil || out.Credentials.AccessKeyId == nil {
		return nil, aws.NewServiceError("GetCredentialsForIdentity", fmt.Errorf("response carried no credentials"))
	}

	creds := &AWSCredentials{
		AccessKeyID:     strVal(out.Credentials.AccessKeyId),
		SecretAccessKey: strVal(out.Credentials.SecretKey),
		SessionToken:    strVal(out.Credentials.SessionToken),
	}
	if out.Credentials.Expiration != nil {
		creds.ExpiresAt = out.Credentials.Expiration.UnixMilli()
	}
	creds.ExpiresAt = ClampExpiry(creds.ExpiresAt, tokenExpiry)

	c.mu.Lock()
	if signedIn && (c.current == nil || !c.current.SignedIn()) {
		// The user signed out while the exchange was in flight; hand the
		// caller its credentials but do not cache them into the guest
		// session.
		c.mu.Unlock()
		return creds, nil
	}
	if c.current == nil {
		c.current = &Session{}
	}
	c.current.IdentityID = identityID
	c.current.Credentials = creds.Clone()
	c.loaded = true
	snapshot := c.current.Clone()
	c.mu.Unlock()

	c.met.RecordCredentialExchange()

	if err := c.store.Save(ctx, snapshot); err != nil {
		c.log.Warn("session held in memory only: %v", err)
	}
	return creds, nil
}

// loginProvider returns the logins-map key naming this user pool.
func (c *Cache) loginProvider() string {
	return "cognito-idp." + c.cfg.Region + ".amazonaws.com/" + c.cfg.UserPoolID
}

func (c *Cache) publish(name string, data map[string]any) {
	if c.events == nil {
		return
	}
	c.events.Publish(hub.ChannelAuth, hub.Event{Name: name, Data: data})
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
