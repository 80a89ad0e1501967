package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/asotjrs/amplify-go/session"
)

// AccessLevel scopes object keys to an audience. Guest objects are readable
// by anyone the bucket policy admits; protected objects are readable by any
// signed-in identity but writable only by their owner; private objects are
// reachable only by their owner.
type AccessLevel string

const (
	// LevelGuest stores objects under the shared public/ prefix.
	LevelGuest AccessLevel = "guest"
	// LevelProtected stores objects under protected/{identityID}/.
	LevelProtected AccessLevel = "protected"
	// LevelPrivate stores objects under private/{identityID}/.
	LevelPrivate AccessLevel = "private"
)

// guestPrefix is the key prefix for guest objects. The prefix predates the
// guest naming, so it reads public/ on the wire.
const guestPrefix = "public/"

// Presigned URL lifetime bounds. The maximum is the SigV4 signing limit.
const (
	DefaultURLExpiry = 15 * time.Minute
	MaxURLExpiry     = 7 * 24 * time.Hour
)

// ParseAccessLevel maps a flag or configuration value to an AccessLevel. The
// historical spelling "public" is accepted for the guest level.
//
// Example:
//
//	level, err := storage.ParseAccessLevel("protected")
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch strings.ToLower(s) {
	case "", "guest", "public":
		return LevelGuest, nil
	case "protected":
		return LevelProtected, nil
	case "private":
		return LevelPrivate, nil
	}
	return "", newValidationError(CodeInvalidAccessLevel, fmt.Sprintf("unknown access level %q", s))
}

// keyPrefix returns the bucket prefix for a level. Protected and private
// levels require the identity that owns the space.
func keyPrefix(level AccessLevel, identityID string) (string, error) {
	switch level {
	case "", LevelGuest:
		return guestPrefix, nil
	case LevelProtected, LevelPrivate:
		if identityID == "" {
			return "", newNoIdentityError()
		}
		return string(level) + "/" + identityID + "/", nil
	}
	return "", newValidationError(CodeInvalidAccessLevel, fmt.Sprintf("unknown access level %q", level))
}

// identityFor picks the identity that scopes a key: an explicit target when
// one was given, otherwise the session's own identity.
func identityFor(sess *session.Session, target string) string {
	if target != "" {
		return target
	}
	if sess == nil {
		return ""
	}
	return sess.IdentityID
}

// expiryLimit returns the soonest instant at which the session stops being
// usable, in epoch milliseconds. Zero means nothing in the session expires.
func expiryLimit(sess *session.Session) int64 {
	if sess == nil {
		return 0
	}
	var creds int64
	if sess.Credentials != nil {
		creds = sess.Credentials.ExpiresAt
	}
	return session.ClampExpiry(sess.Tokens.Expiry(), creds)
}

// presignExpiry picks the effective lifetime of a presigned URL: the
// requested duration, defaulted and capped at the signing limit, then clamped
// so the URL dies no later than the session that signed it. Comparisons run
// in epoch milliseconds.
func presignExpiry(requested time.Duration, now time.Time, limit int64) time.Duration {
	if requested <= 0 {
		requested = DefaultURLExpiry
	}
	if requested > MaxURLExpiry {
		requested = MaxURLExpiry
	}
	deadline := session.ClampExpiry(now.Add(requested).UnixMilli(), limit)
	return time.Duration(deadline-now.UnixMilli()) * time.Millisecond
}
