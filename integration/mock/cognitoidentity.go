package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	citypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentity/types"
	"github.com/google/uuid"
)

// CognitoIdentity is a mock identity pool. Each distinct logins map resolves
// to a stable identity ID, and credential issuance hands out fresh temporary
// keys with a one-hour lifetime.
type CognitoIdentity struct {
	mu         sync.Mutex
	identities map[string]string // logins fingerprint -> identity ID
	idSeq      int
	credTTL    time.Duration

	// AllowGuest controls whether an empty logins map resolves to a guest
	// identity or fails like a pool without unauthenticated access.
	AllowGuest bool

	getIDCalls []cognitoidentity.GetIdInput
	credCalls  []cognitoidentity.GetCredentialsForIdentityInput

	failNextCredentials error
}

// NewCognitoIdentity creates a mock identity pool that allows guest access.
func NewCognitoIdentity() *CognitoIdentity {
	return &CognitoIdentity{
		identities: make(map[string]string),
		credTTL:    time.Hour,
		AllowGuest: true,
	}
}

// SetCredentialTTL adjusts the lifetime of credentials issued from here on.
func (c *CognitoIdentity) SetCredentialTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credTTL = ttl
}

// SetFailNextCredentials makes the next GetCredentialsForIdentity fail.
func (c *CognitoIdentity) SetFailNextCredentials(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNextCredentials = err
}

// GetIDCalls returns a copy of every GetId request seen.
func (c *CognitoIdentity) GetIDCalls() []cognitoidentity.GetIdInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cognitoidentity.GetIdInput(nil), c.getIDCalls...)
}

// CredentialCalls returns a copy of every GetCredentialsForIdentity request
// seen.
func (c *CognitoIdentity) CredentialCalls() []cognitoidentity.GetCredentialsForIdentityInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cognitoidentity.GetCredentialsForIdentityInput(nil), c.credCalls...)
}

func (c *CognitoIdentity) GetId(ctx context.Context, in *cognitoidentity.GetIdInput, _ ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getIDCalls = append(c.getIDCalls, *in)

	if len(in.Logins) == 0 && !c.AllowGuest {
		msg := "Unauthenticated access is not supported for this identity pool."
		return nil, &citypes.NotAuthorizedException{Message: &msg}
	}

	key := loginsFingerprint(in.Logins)
	id, ok := c.identities[key]
	if !ok {
		c.idSeq++
		id = fmt.Sprintf("eu-west-1:%08d-mock-identity", c.idSeq)
		c.identities[key] = id
	}
	return &cognitoidentity.GetIdOutput{IdentityId: &id}, nil
}

func (c *CognitoIdentity) GetCredentialsForIdentity(ctx context.Context, in *cognitoidentity.GetCredentialsForIdentityInput, _ ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credCalls = append(c.credCalls, *in)

	if err := c.failNextCredentials; err != nil {
		c.failNextCredentials = nil
		return nil, err
	}
	if len(in.Logins) == 0 && !c.AllowGuest {
		msg := "Unauthenticated access is not supported for this identity pool."
		return nil, &citypes.NotAuthorizedException{Message: &msg}
	}

	token := uuid.NewString()
	accessKey := "ASIAMOCK" + strings.ToUpper(token[:8])
	secret := "mock-secret-" + token
	expiry := time.Now().Add(c.credTTL)
	return &cognitoidentity.GetCredentialsForIdentityOutput{
		IdentityId: in.IdentityId,
		Credentials: &citypes.Credentials{
			AccessKeyId:  &accessKey,
			SecretKey:    &secret,
			SessionToken: &token,
			Expiration:   &expiry,
		},
	}, nil
}

// loginsFingerprint builds a stable key from a logins map so the same
// federated login keeps resolving to the same identity.
func loginsFingerprint(logins map[string]string) string {
	if len(logins) == 0 {
		return "guest"
	}
	providers := make([]string, 0, len(logins))
	for provider := range logins {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	return strings.Join(providers, "|")
}
