package mock

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3Object is one stored object with the metadata the storage category reads
// back.
type s3Object struct {
	data        []byte
	contentType string
	metadata    map[string]string
	etag        string
	modified    time.Time
}

// S3 is an in-memory object store implementing the aws.S3Client interface.
// Listings come back in key order and paginate like the service.
type S3 struct {
	mu      sync.RWMutex
	buckets map[string]map[string]*s3Object
}

// NewS3 creates an empty object store.
func NewS3() *S3 {
	return &S3{buckets: make(map[string]map[string]*s3Object)}
}

// Object returns a stored object's content by its fully resolved key.
func (m *S3) Object(bucket, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Keys returns every stored key in the bucket, sorted.
func (m *S3) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.buckets[bucket]))
	for key := range m.buckets[bucket] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *S3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upload body: %w", err)
	}
	sum := md5.Sum(data)
	obj := &s3Object{
		data:        data,
		contentType: strVal(in.ContentType),
		metadata:    in.Metadata,
		etag:        `"` + hex.EncodeToString(sum[:]) + `"`,
		modified:    time.Now(),
	}

	m.mu.Lock()
	bucket := strVal(in.Bucket)
	if m.buckets[bucket] == nil {
		m.buckets[bucket] = make(map[string]*s3Object)
	}
	m.buckets[bucket][strVal(in.Key)] = obj
	m.mu.Unlock()

	return &s3.PutObjectOutput{ETag: &obj.etag}, nil
}

func (m *S3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.RLock()
	obj, ok := m.buckets[strVal(in.Bucket)][strVal(in.Key)]
	m.mu.RUnlock()
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	length := int64(len(obj.data))
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentType:   optional(obj.contentType),
		ContentLength: &length,
		ETag:          &obj.etag,
		LastModified:  &obj.modified,
		Metadata:      obj.metadata,
	}, nil
}

func (m *S3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.RLock()
	obj, ok := m.buckets[strVal(in.Bucket)][strVal(in.Key)]
	m.mu.RUnlock()
	if !ok {
		return nil, &s3types.NotFound{}
	}
	length := int64(len(obj.data))
	return &s3.HeadObjectOutput{
		ContentType:   optional(obj.contentType),
		ContentLength: &length,
		ETag:          &obj.etag,
		LastModified:  &obj.modified,
		Metadata:      obj.metadata,
	}, nil
}

func (m *S3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	delete(m.buckets[strVal(in.Bucket)], strVal(in.Key))
	m.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (m *S3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	srcBucket, srcKey, err := splitCopySource(strVal(in.CopySource))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.buckets[srcBucket][srcKey]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	dup := *src
	dup.data = append([]byte(nil), src.data...)
	dup.modified = time.Now()

	bucket := strVal(in.Bucket)
	if m.buckets[bucket] == nil {
		m.buckets[bucket] = make(map[string]*s3Object)
	}
	m.buckets[bucket][strVal(in.Key)] = &dup

	return &s3.CopyObjectOutput{
		CopyObjectResult: &s3types.CopyObjectResult{ETag: &dup.etag, LastModified: &dup.modified},
	}, nil
}

func (m *S3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := strVal(in.Prefix)
	var keys []string
	for key := range m.buckets[strVal(in.Bucket)] {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	// The continuation token is the key the next page starts after.
	if after := strVal(in.ContinuationToken); after != "" {
		i := sort.SearchStrings(keys, after)
		if i < len(keys) && keys[i] == after {
			i++
		}
		keys = keys[i:]
	}

	pageSize := len(keys)
	if in.MaxKeys != nil && int(*in.MaxKeys) < pageSize {
		pageSize = int(*in.MaxKeys)
	}
	page := keys[:pageSize]

	out := &s3.ListObjectsV2Output{}
	for _, key := range page {
		obj := m.buckets[strVal(in.Bucket)][key]
		k := key
		size := int64(len(obj.data))
		out.Contents = append(out.Contents, s3types.Object{
			Key:          &k,
			Size:         &size,
			ETag:         &obj.etag,
			LastModified: &obj.modified,
		})
	}
	if pageSize < len(keys) {
		token := page[len(page)-1]
		out.NextContinuationToken = &token
	}
	return out, nil
}

// splitCopySource parses the "bucket/escaped-key" copy source format.
func splitCopySource(source string) (bucket, key string, err error) {
	bucket, escaped, found := strings.Cut(source, "/")
	if !found || bucket == "" || escaped == "" {
		return "", "", fmt.Errorf("malformed copy source %q", source)
	}
	key, err = url.PathUnescape(escaped)
	if err != nil {
		return "", "", fmt.Errorf("malformed copy source %q: %w", source, err)
	}
	return bucket, key, nil
}

// S3Presigner fabricates presigned URLs without real signing so tests can
// assert on the object a URL targets and the lifetime it was given.
type S3Presigner struct {
	mu    sync.Mutex
	calls []PresignCall
}

// PresignCall records one presign request.
type PresignCall struct {
	Method string
	Bucket string
	Key    string
}

// NewS3Presigner creates a presigner double.
func NewS3Presigner() *S3Presigner {
	return &S3Presigner{}
}

// Calls returns a copy of every presign request seen.
func (p *S3Presigner) Calls() []PresignCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PresignCall(nil), p.calls...)
}

func (p *S3Presigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return p.presign(http.MethodGet, strVal(in.Bucket), strVal(in.Key)), nil
}

func (p *S3Presigner) PresignPutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return p.presign(http.MethodPut, strVal(in.Bucket), strVal(in.Key)), nil
}

func (p *S3Presigner) presign(method, bucket, key string) *v4.PresignedHTTPRequest {
	p.mu.Lock()
	p.calls = append(p.calls, PresignCall{Method: method, Bucket: bucket, Key: key})
	p.mu.Unlock()
	return &v4.PresignedHTTPRequest{
		URL:          "https://" + bucket + ".s3.amazonaws.com/" + key + "?X-Amz-Signature=mock",
		Method:       method,
		SignedHeader: http.Header{},
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
