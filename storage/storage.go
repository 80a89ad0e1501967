// Package storage implements the S3 storage category: uploads, downloads,
// presigned URLs, listing, and copies, with object keys scoped to the calling
// identity by access level.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/asotjrs/amplify-go/aws"
	"github.com/asotjrs/amplify-go/config"
	"github.com/asotjrs/amplify-go/logging"
	"github.com/asotjrs/amplify-go/session"
)

// SessionProvider yields the credential state key resolution and URL signing
// depend on: the identity ID that scopes protected and private keys, and the
// expiry instants that clamp presigned URL lifetimes. *session.Cache
// satisfies it.
type SessionProvider interface {
	FetchSession(ctx context.Context, opts ...session.FetchOption) (*session.Session, error)
}

// Client is the storage category. Object keys passed in and returned are
// caller-visible; the access-level prefix is applied on the way to the bucket
// and stripped on the way back.
//
// Example:
//
//	store := storage.New(&cfg.Storage, s3Client, presignClient, cache)
//	res, err := store.UploadData(ctx, "avatar.png", file, &storage.UploadOptions{
//	    Level:       storage.LevelProtected,
//	    ContentType: "image/png",
//	})
type Client struct {
	cfg      *config.StorageConfig
	s3       aws.S3Client
	presign  aws.S3PresignClient
	sessions SessionProvider
	log      logging.Logger
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithLogger routes the client's log output.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.log = logging.OrNop(l) }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds the storage category client. The session provider may be nil
// when the category runs without auth; guest operations then work but
// protected and private levels fail, and URL lifetimes are not clamped to a
// session.
func New(cfg *config.StorageConfig, s3Client aws.S3Client, presignClient aws.S3PresignClient, sessions SessionProvider, opts ...Option) *Client {
	c := &Client{
		cfg:      cfg,
		s3:       s3Client,
		presign:  presignClient,
		sessions: sessions,
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UploadOptions are the optional knobs for one UploadData call. A nil pointer
// means guest level with no content type or metadata.
type UploadOptions struct {
	Level       AccessLevel
	ContentType string
	// Metadata is stored with the object as x-amz-meta headers.
	Metadata map[string]string
}

// DownloadOptions select which object a read targets. TargetIdentityID reads
// another identity's protected object; it is rejected for other levels.
type DownloadOptions struct {
	Level            AccessLevel
	TargetIdentityID string
}

// URLOptions are the optional knobs for presigned URL generation.
type URLOptions struct {
	Level            AccessLevel
	TargetIdentityID string
	// ExpiresIn is the requested URL lifetime. Zero means 15 minutes; values
	// past the signing limit or the session expiry are clamped down.
	ExpiresIn time.Duration
}

// ListOptions are the optional knobs for one List call.
type ListOptions struct {
	Level            AccessLevel
	TargetIdentityID string
	// PageSize bounds each ListObjectsV2 page. Zero uses the service default.
	PageSize int32
	// NextToken resumes a previous listing.
	NextToken string
	// All walks every page and returns the combined result.
	All bool
}

// RemoveOptions select the level a delete targets.
type RemoveOptions struct {
	Level AccessLevel
}

// UploadResult reports a completed upload.
type UploadResult struct {
	Key  string
	ETag string
}

// DownloadResult carries an object's content stream and metadata. The caller
// owns Body and must close it.
type DownloadResult struct {
	Key           string
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	ETag          string
	LastModified  time.Time
}

// ObjectProperties is the metadata of an object without its content.
type ObjectProperties struct {
	Key           string
	ContentType   string
	ContentLength int64
	ETag          string
	LastModified  time.Time
	Metadata      map[string]string
}

// PresignedURL is a signed request any plain HTTP client can perform until
// ExpiresAt.
type PresignedURL struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}

// Item is one listed object, keyed by its caller-visible name.
type Item struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ListResult is one page of a listing, or the whole listing when All was set.
// NextToken is empty when no further page exists.
type ListResult struct {
	Items     []Item
	NextToken string
}

// RemoveResult reports a completed delete.
type RemoveResult struct {
	Key string
}

// CopySource names the object a Copy reads. TargetIdentityID reads another
// identity's protected object.
type CopySource struct {
	Key              string
	Level            AccessLevel
	TargetIdentityID string
}

// CopyDestination names the object a Copy writes, always in the caller's own
// space.
type CopyDestination struct {
	Key   string
	Level AccessLevel
}

// CopyResult reports a completed copy.
type CopyResult struct {
	Key string
}

// UploadData writes the body to the bucket under the caller's key. Uploads
// always land in the caller's own space.
func (c *Client) UploadData(ctx context.Context, key string, body io.Reader, opts *UploadOptions) (*UploadResult, error) {
	if err := requireKey(key); err != nil {
		return nil, err
	}
	o := UploadOptions{}
	if opts != nil {
		o = *opts
	}
	base, err := c.scope(ctx, o.Level, "")
	if err != nil {
		return nil, err
	}
	resolved := base + key

	in := &s3.PutObjectInput{
		Bucket: &c.cfg.Bucket,
		Key:    &resolved,
		Body:   body,
	}
	if o.ContentType != "" {
		in.ContentType = &o.ContentType
	}
	if len(o.Metadata) > 0 {
		in.Metadata = o.Metadata
	}
	out, err := c.s3.PutObject(ctx, in)
	if err != nil {
		return nil, aws.NewServiceError("PutObject", err)
	}
	c.log.Debug("uploaded %s", resolved)
	return &UploadResult{Key: key, ETag: strVal(out.ETag)}, nil
}

// DownloadData opens the object for reading.
func (c *Client) DownloadData(ctx context.Context, key string, opts *DownloadOptions) (*DownloadResult, error) {
	if err := requireKey(key); err != nil {
		return nil, err
	}
	o := DownloadOptions{}
	if opts != nil {
		o = *opts
	}
	base, err := c.scope(ctx, o.Level, o.TargetIdentityID)
	if err != nil {
		return nil, err
	}
	resolved := base + key

	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.cfg.Bucket,
		Key:    &resolved,
	})
	if err != nil {
		return nil, aws.NewServiceError("GetObject", err)
	}
	return &DownloadResult{
		Key:           key,
		Body:          out.Body,
		ContentType:   strVal(out.ContentType),
		ContentLength: i64Val(out.ContentLength),
		ETag:          strVal(out.ETag),
		LastModified:  timeVal(out.LastModified),
	}, nil
}

// GetProperties returns the object's metadata without its content.
func (c *Client) GetProperties(ctx context.Context, key string, opts *DownloadOptions) (*ObjectProperties, error) {
	if err := requireKey(key); err != nil {
		return nil, err
	}
	o := DownloadOptions{}
	if opts != nil {
		o = *opts
	}
	base, err := c.scope(ctx, o.Level, o.TargetIdentityID)
	if err != nil {
		return nil, err
	}
	resolved := base + key

	out, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &c.cfg.Bucket,
		Key:    &resolved,
	})
	if err != nil {
		return nil, aws.NewServiceError("HeadObject", err)
	}
	return &ObjectProperties{
		Key:           key,
		ContentType:   strVal(out.ContentType),
		ContentLength: i64Val(out.ContentLength),
		ETag:          strVal(out.ETag),
		LastModified:  timeVal(out.LastModified),
		Metadata:      out.Metadata,
	}, nil
}

// GetURL signs a GET for the object. The URL works for whoever holds it until
// it expires, so the lifetime is clamped to the session that signed it.
//
// Example:
//
//	u, err := store.GetURL(ctx, "report.pdf", &storage.URLOptions{
//	    Level:     storage.LevelPrivate,
//	    ExpiresIn: time.Hour,
//	})
func (c *Client) GetURL(ctx context.Context, key string, opts *URLOptions) (*PresignedURL, error) {
	if err := requireKey(key); err != nil {
		return nil, err
	}
	o := URLOptions{}
	if opts != nil {
		o = *opts
	}
	base, expires, err := c.presignScope(ctx, o.Level, o.TargetIdentityID, o.ExpiresIn)
	if err != nil {
		return nil, err
	}
	resolved := base + key

	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.cfg.Bucket,
		Key:    &resolved,
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return nil, aws.NewServiceError("PresignGetObject", err)
	}
	return &PresignedURL{URL: req.URL, Method: req.Method, ExpiresAt: c.now().Add(expires)}, nil
}

// UploadURL signs a PUT into the caller's own space.
func (c *Client) UploadURL(ctx context.Context, key string, opts *URLOptions) (*PresignedURL, error) {
	if err := requireKey(key); err != nil {
		return nil, err
	}
	o := URLOptions{}
	if opts != nil {
		o = *opts
	}
	if o.TargetIdentityID != "" {
		return nil, newValidationError(CodeInvalidTarget, "upload URLs are signed for the caller's own space")
	}
	base, expires, err := c.presignScope(ctx, o.Level, "", o.ExpiresIn)
	if err != nil {
		return nil, err
	}
	resolved := base + key

	req, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: &c.cfg.Bucket,
		Key:    &resolved,
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return nil, aws.NewServiceError("PresignPutObject", err)
	}
	return &PresignedURL{URL: req.URL, Method: req.Method, ExpiresAt: c.now().Add(expires)}, nil
}

// List returns the objects under the given key prefix at one access level.
// Keys come back with the level prefix stripped, so a listed key can be
// passed straight to DownloadData or Remove at the same level.
func (c *Client) List(ctx context.Context, prefix string, opts *ListOptions) (*ListResult, error) {
	o := ListOptions{}
	if opts != nil {
		o = *opts
	}
	base, err := c.scope(ctx, o.Level, o.TargetIdentityID)
	if err != nil {
		return nil, err
	}
	scoped := base + prefix

	res := &ListResult{}
	token := o.NextToken
	for {
		in := &s3.ListObjectsV2Input{
			Bucket: &c.cfg.Bucket,
			Prefix: &scoped,
		}
		if o.PageSize > 0 {
			in.MaxKeys = &o.PageSize
		}
		if token != "" {
			in.ContinuationToken = &token
		}
		out, err := c.s3.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, aws.NewServiceError("ListObjectsV2", err)
		}
		for _, obj := range out.Contents {
			res.Items = append(res.Items, Item{
				Key:          strings.TrimPrefix(strVal(obj.Key), base),
				Size:         i64Val(obj.Size),
				ETag:         strVal(obj.ETag),
				LastModified: timeVal(obj.LastModified),
			})
		}
		token = strVal(out.NextContinuationToken)
		if !o.All || token == "" {
			break
		}
	}
	if !o.All {
		res.NextToken = token
	}
	return res, nil
}

// Remove deletes the object from the caller's own space. Deleting a key that
// does not exist succeeds, matching the underlying delete semantics.
func (c *Client) Remove(ctx context.Context, key string, opts *RemoveOptions) (*RemoveResult, error) {
	if err := requireKey(key); err != nil {
		return nil, err
	}
	o := RemoveOptions{}
	if opts != nil {
		o = *opts
	}
	base, err := c.scope(ctx, o.Level, "")
	if err != nil {
		return nil, err
	}
	resolved := base + key

	if _, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &c.cfg.Bucket,
		Key:    &resolved,
	}); err != nil {
		return nil, aws.NewServiceError("DeleteObject", err)
	}
	c.log.Debug("removed %s", resolved)
	return &RemoveResult{Key: key}, nil
}

// Copy duplicates an object within the bucket, resolving source and
// destination levels independently.
func (c *Client) Copy(ctx context.Context, source CopySource, dest CopyDestination) (*CopyResult, error) {
	if err := requireKey(source.Key); err != nil {
		return nil, err
	}
	if err := requireKey(dest.Key); err != nil {
		return nil, err
	}
	srcBase, err := c.scope(ctx, source.Level, source.TargetIdentityID)
	if err != nil {
		return nil, err
	}
	dstBase, err := c.scope(ctx, dest.Level, "")
	if err != nil {
		return nil, err
	}

	// The copy source is URL-encoded per the CopyObject contract.
	copySource := c.cfg.Bucket + "/" + url.PathEscape(srcBase+source.Key)
	resolved := dstBase + dest.Key

	if _, err := c.s3.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &c.cfg.Bucket,
		CopySource: &copySource,
		Key:        &resolved,
	}); err != nil {
		return nil, aws.NewServiceError("CopyObject", err)
	}
	c.log.Debug("copied %s%s to %s", srcBase, source.Key, resolved)
	return &CopyResult{Key: dest.Key}, nil
}

// scope resolves the key prefix for one operation, fetching the session when
// the level needs an identity.
func (c *Client) scope(ctx context.Context, level AccessLevel, target string) (string, error) {
	lvl, err := normalizeLevel(level)
	if err != nil {
		return "", err
	}
	if target != "" && lvl != LevelProtected {
		return "", newValidationError(CodeInvalidTarget, "a target identity applies to protected objects only")
	}
	if lvl == LevelGuest {
		return guestPrefix, nil
	}
	id := target
	if id == "" {
		sess, err := c.fetchSession(ctx)
		if err != nil {
			return "", err
		}
		id = identityFor(sess, "")
	}
	return keyPrefix(lvl, id)
}

// presignScope resolves the prefix and the clamped URL lifetime from a single
// session fetch.
func (c *Client) presignScope(ctx context.Context, level AccessLevel, target string, requested time.Duration) (string, time.Duration, error) {
	lvl, err := normalizeLevel(level)
	if err != nil {
		return "", 0, err
	}
	if target != "" && lvl != LevelProtected {
		return "", 0, newValidationError(CodeInvalidTarget, "a target identity applies to protected objects only")
	}
	sess, err := c.fetchSession(ctx)
	if err != nil {
		return "", 0, err
	}
	base, err := keyPrefix(lvl, identityFor(sess, target))
	if err != nil {
		return "", 0, err
	}
	expires := presignExpiry(requested, c.now(), expiryLimit(sess))
	if expires <= 0 {
		return "", 0, newSessionExpiredError()
	}
	return base, expires, nil
}

func (c *Client) fetchSession(ctx context.Context) (*session.Session, error) {
	if c.sessions == nil {
		return nil, nil
	}
	return c.sessions.FetchSession(ctx)
}

// normalizeLevel defaults an empty level to guest and rejects unknown values.
func normalizeLevel(level AccessLevel) (AccessLevel, error) {
	switch level {
	case "":
		return LevelGuest, nil
	case LevelGuest, LevelProtected, LevelPrivate:
		return level, nil
	}
	return "", newValidationError(CodeInvalidAccessLevel, fmt.Sprintf("unknown access level %q", level))
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func i64Val(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func timeVal(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}
