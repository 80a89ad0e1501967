package session

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// credentialsSource names this provider in SDK credential chains.
const credentialsSource = "CognitoIdentityPool"

// CredentialsProvider adapts the cache to the SDK's credential provider
// interface so storage, analytics, and signed API calls run under the
// session's identity-pool credentials. Each Retrieve goes through
// FetchSession, which refreshes anything stale, so the SDK's own caching can
// stay disabled.
//
// Example:
//
//	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
//	    o.Credentials = session.NewCredentialsProvider(cache)
//	})
type CredentialsProvider struct {
	cache *Cache
}

// NewCredentialsProvider creates a provider backed by the cache.
func NewCredentialsProvider(c *Cache) *CredentialsProvider {
	return &CredentialsProvider{cache: c}
}

// Retrieve implements aws.CredentialsProvider.
func (p *CredentialsProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	sess, err := p.cache.FetchSession(ctx)
	if err != nil {
		return aws.Credentials{}, err
	}
	if sess == nil || sess.Credentials == nil {
		return aws.Credentials{}, fmt.Errorf("session carries no AWS credentials")
	}

	creds := aws.Credentials{
		AccessKeyID:     sess.Credentials.AccessKeyID,
		SecretAccessKey: sess.Credentials.SecretAccessKey,
		SessionToken:    sess.Credentials.SessionToken,
		Source:          credentialsSource,
	}
	if sess.Credentials.ExpiresAt > 0 {
		creds.CanExpire = true
		creds.Expires = time.UnixMilli(sess.Credentials.ExpiresAt)
	}
	return creds, nil
}

var _ aws.CredentialsProvider = (*CredentialsProvider)(nil)
