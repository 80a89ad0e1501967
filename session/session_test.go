package session

import (
	"encoding/base64"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

// makeTestToken assembles an unsigned JWT carrying the given claims. The
// signature segment is junk because nothing in this package verifies it.
func makeTestToken(t *testing.T, claims map[string]any) string {
	t.Helper()

	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	if err != nil {
		t.Fatalf("encoding header: %v", err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("encoding claims: %v", err)
	}

	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + "." + enc.EncodeToString([]byte("sig"))
}

func TestNewUserPoolTokensComputesExpiry(t *testing.T) {
	now := time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)

	tokens := NewUserPoolTokens("access", "id", "refresh", 3600, now)

	want := now.Add(time.Hour).UnixMilli()
	if tokens.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want %d", tokens.ExpiresAt, want)
	}
	if tokens.RefreshToken != "refresh" {
		t.Errorf("RefreshToken = %q, want refresh", tokens.RefreshToken)
	}
}

func TestNewUserPoolTokensFallsBackToClaim(t *testing.T) {
	exp := time.Date(2024, time.May, 10, 13, 0, 0, 0, time.UTC)
	access := makeTestToken(t, map[string]any{"exp": exp.Unix()})

	tokens := NewUserPoolTokens(access, "id", "", 0, time.Now())

	if tokens.ExpiresAt != exp.UnixMilli() {
		t.Errorf("ExpiresAt = %d, want %d from exp claim", tokens.ExpiresAt, exp.UnixMilli())
	}
}

func TestTokensExpiresWithin(t *testing.T) {
	now := time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt int64
		window    time.Duration
		want      bool
	}{
		{name: "well before expiry", expiresAt: now.Add(time.Hour).UnixMilli(), window: time.Minute, want: false},
		{name: "inside the window", expiresAt: now.Add(30 * time.Second).UnixMilli(), window: time.Minute, want: true},
		{name: "already expired", expiresAt: now.Add(-time.Minute).UnixMilli(), window: time.Minute, want: true},
		{name: "unknown expiry", expiresAt: 0, window: time.Minute, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tokens := &UserPoolTokens{AccessToken: "opaque", ExpiresAt: tc.expiresAt}
			if got := tokens.ExpiresWithin(now, tc.window); got != tc.want {
				t.Errorf("ExpiresWithin = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTokensUsernameAndSub(t *testing.T) {
	access := makeTestToken(t, map[string]any{"username": "casey", "sub": "sub-123"})
	id := makeTestToken(t, map[string]any{"cognito:username": "casey-id", "sub": "sub-123"})

	tokens := &UserPoolTokens{AccessToken: access, IDToken: id}
	if got := tokens.Username(); got != "casey" {
		t.Errorf("Username = %q, want casey", got)
	}
	if got := tokens.Sub(); got != "sub-123" {
		t.Errorf("Sub = %q, want sub-123", got)
	}

	// Without a usable access token the ID token claim serves.
	idOnly := &UserPoolTokens{AccessToken: "not-a-jwt", IDToken: id}
	if got := idOnly.Username(); got != "casey-id" {
		t.Errorf("Username from ID token = %q, want casey-id", got)
	}
}

func TestDecodeClaimsRejectsGarbage(t *testing.T) {
	if _, err := DecodeClaims("not-a-token"); err == nil {
		t.Error("DecodeClaims accepted a non-JWT string")
	}
}

func TestClampExpiry(t *testing.T) {
	tests := []struct {
		name    string
		a, b    int64
		want    int64
	}{
		{name: "both known takes earlier", a: 2000, b: 1000, want: 1000},
		{name: "order independent", a: 1000, b: 2000, want: 1000},
		{name: "zero a yields b", a: 0, b: 2000, want: 2000},
		{name: "zero b yields a", a: 1000, b: 0, want: 1000},
		{name: "both zero", a: 0, b: 0, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClampExpiry(tc.a, tc.b); got != tc.want {
				t.Errorf("ClampExpiry(%d, %d) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestSessionSignedIn(t *testing.T) {
	var nilSession *Session
	if nilSession.SignedIn() {
		t.Error("nil session reports signed in")
	}
	if (&Session{}).SignedIn() {
		t.Error("empty session reports signed in")
	}
	if (&Session{Credentials: &AWSCredentials{AccessKeyID: "AKIA"}}).SignedIn() {
		t.Error("guest session reports signed in")
	}
	if !(&Session{Tokens: &UserPoolTokens{AccessToken: "a"}}).SignedIn() {
		t.Error("session with tokens reports signed out")
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	original := &Session{
		Tokens:      &UserPoolTokens{AccessToken: "a", RefreshToken: "r"},
		IdentityID:  "id-1",
		Credentials: &AWSCredentials{AccessKeyID: "AKIA"},
	}

	clone := original.Clone()
	clone.Tokens.AccessToken = "changed"
	clone.Credentials.AccessKeyID = "changed"
	clone.IdentityID = "changed"

	if original.Tokens.AccessToken != "a" {
		t.Error("mutating clone tokens changed the original")
	}
	if original.Credentials.AccessKeyID != "AKIA" {
		t.Error("mutating clone credentials changed the original")
	}
	if original.IdentityID != "id-1" {
		t.Error("mutating clone identity changed the original")
	}

	if (*Session)(nil).Clone() != nil {
		t.Error("cloning nil session did not return nil")
	}
}
