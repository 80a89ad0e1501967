// Package session manages the credential state produced by a successful
// sign-in: the user pool token triple, the identity-pool AWS credentials
// derived from it, and the cache that keeps both fresh. Expiry instants are
// carried as Unix epoch milliseconds throughout so comparisons between token
// and credential lifetimes never involve time zones.
package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claimParser decodes token payloads without verifying signatures. Tokens
// arrive first-hand from the user pool over TLS and are decoded only for
// expiry and identity bookkeeping; resource servers do their own
// verification.
var claimParser = jwt.NewParser()

// UserPoolTokens is the token triple returned by the user pool. ExpiresAt is
// the access token expiry in epoch milliseconds.
type UserPoolTokens struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
}

// NewUserPoolTokens builds the token triple from an authentication result,
// computing the expiry instant from the validity window the service returned.
func NewUserPoolTokens(accessToken, idToken, refreshToken string, expiresIn int32, now time.Time) *UserPoolTokens {
	t := &UserPoolTokens{
		AccessToken:  accessToken,
		IDToken:      idToken,
		RefreshToken: refreshToken,
	}
	if expiresIn > 0 {
		t.ExpiresAt = now.Add(time.Duration(expiresIn) * time.Second).UnixMilli()
	} else {
		t.ExpiresAt = tokenExpiryMillis(accessToken)
	}
	return t
}

// Expiry returns the access token expiry in epoch milliseconds, falling back
// to the token's own exp claim when the stored instant is missing. Zero means
// the expiry is unknown.
func (t *UserPoolTokens) Expiry() int64 {
	if t == nil {
		return 0
	}
	if t.ExpiresAt > 0 {
		return t.ExpiresAt
	}
	return tokenExpiryMillis(t.AccessToken)
}

// ExpiresWithin reports whether the access token expires inside the given
// window measured from now. Tokens with unknown expiry never report true.
func (t *UserPoolTokens) ExpiresWithin(now time.Time, window time.Duration) bool {
	expiry := t.Expiry()
	if expiry == 0 {
		return false
	}
	return now.Add(window).UnixMilli() >= expiry
}

// Username returns the user pool username carried in the tokens, preferring
// the access token claim.
func (t *UserPoolTokens) Username() string {
	if t == nil {
		return ""
	}
	if v := claimString(t.AccessToken, "username"); v != "" {
		return v
	}
	return claimString(t.IDToken, "cognito:username")
}

// Sub returns the user's immutable subject identifier.
func (t *UserPoolTokens) Sub() string {
	if t == nil {
		return ""
	}
	if v := claimString(t.AccessToken, "sub"); v != "" {
		return v
	}
	return claimString(t.IDToken, "sub")
}

// Clone returns a copy safe to hand to callers.
func (t *UserPoolTokens) Clone() *UserPoolTokens {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// AWSCredentials is a set of temporary AWS credentials obtained from the
// identity pool. ExpiresAt is in epoch milliseconds and is clamped so the
// credentials never claim to outlive the tokens they were derived from.
type AWSCredentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty"`
	ExpiresAt       int64  `json:"expires_at"`
}

// ExpiresWithin reports whether the credentials expire inside the given
// window measured from now.
func (c *AWSCredentials) ExpiresWithin(now time.Time, window time.Duration) bool {
	if c == nil || c.ExpiresAt == 0 {
		return false
	}
	return now.Add(window).UnixMilli() >= c.ExpiresAt
}

// Clone returns a copy safe to hand to callers.
func (c *AWSCredentials) Clone() *AWSCredentials {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Session is the complete credential state for one principal. A session with
// tokens belongs to a signed-in user; a session with only an identity ID and
// credentials belongs to a guest.
type Session struct {
	Tokens      *UserPoolTokens `json:"tokens,omitempty"`
	IdentityID  string          `json:"identity_id,omitempty"`
	Credentials *AWSCredentials `json:"credentials,omitempty"`
}

// SignedIn reports whether the session carries user pool tokens.
func (s *Session) SignedIn() bool {
	return s != nil && s.Tokens != nil && s.Tokens.AccessToken != ""
}

// Clone deep-copies the session so cached state is never aliased by callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	return &Session{
		Tokens:      s.Tokens.Clone(),
		IdentityID:  s.IdentityID,
		Credentials: s.Credentials.Clone(),
	}
}

// ClampExpiry returns the earlier of two expiry instants in epoch
// milliseconds. A zero value means "no expiry known" and yields the other
// operand.
func ClampExpiry(a, b int64) int64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

// DecodeClaims parses a JWT payload without verifying its signature.
func DecodeClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := claimParser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decoding token claims: %w", err)
	}
	return claims, nil
}

// tokenExpiryMillis reads the exp claim from a token, returning zero when the
// token cannot be decoded or carries no expiry.
func tokenExpiryMillis(token string) int64 {
	claims, err := DecodeClaims(token)
	if err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.Time.UnixMilli()
}

// claimString reads a single string claim, returning empty on any failure.
func claimString(token, name string) string {
	claims, err := DecodeClaims(token)
	if err != nil {
		return ""
	}
	if v, ok := claims[name].(string); ok {
		return v
	}
	return ""
}
