// Package api implements the GraphQL API category. It posts queries and
// mutations to an AppSync endpoint, attaching whichever authorization the
// endpoint was configured for: an API key, the signed-in user's access token,
// or an IAM request signature.
package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/smithy-go"
	json "github.com/goccy/go-json"
	goerrors "github.com/goliatone/go-errors"

	"github.com/asotjrs/amplify-go/aws"
	"github.com/asotjrs/amplify-go/config"
	"github.com/asotjrs/amplify-go/logging"
	"github.com/asotjrs/amplify-go/session"
)

// signingService is the service name AppSync endpoints are signed for.
const signingService = "appsync"

// Text codes attached to errors raised locally or by the GraphQL layer.
const (
	// CodeEmptyQuery is returned when a request carries no query document.
	CodeEmptyQuery = "EMPTY_QUERY"
	// CodeUnsupportedAuthMode is returned when a request names an
	// authorization mode this client cannot satisfy.
	CodeUnsupportedAuthMode = "UNSUPPORTED_AUTH_MODE"
	// CodeSignedOut is returned when user pool authorization is requested
	// with no signed-in session.
	CodeSignedOut = "SIGNED_OUT"
	// CodeGraphQLErrors is returned when the endpoint resolved the request
	// into errors and produced no data.
	CodeGraphQLErrors = "GRAPHQL_ERRORS"
)

// SessionProvider yields the session backing user pool and IAM authorization.
// *session.Cache satisfies it.
type SessionProvider interface {
	FetchSession(ctx context.Context, opts ...session.FetchOption) (*session.Session, error)
}

// Request is one GraphQL document with its inputs. AuthMode overrides the
// configured default authorization for this call only.
type Request struct {
	Query         string
	OperationName string
	Variables     map[string]any
	AuthMode      string
}

// Location points into the query document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLError is one error the endpoint reported.
type GraphQLError struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       []any          `json:"path,omitempty"`
	ErrorType  string         `json:"errorType,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Error implements the error interface so a GraphQLError can be wrapped.
func (e GraphQLError) Error() string {
	if e.ErrorType != "" {
		return e.ErrorType + ": " + e.Message
	}
	return e.Message
}

// Response is the GraphQL envelope. Data is left raw for the caller to decode
// into its own types; Errors carries partial-failure detail even when Data is
// present.
type Response struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// Decode unmarshals the response data into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("response carries no data")
	}
	return json.Unmarshal(r.Data, v)
}

// Client is the API category.
//
// Example:
//
//	gql := api.New(&cfg.API, api.WithSessionProvider(cache))
//	res, err := gql.Query(ctx, api.Request{
//	    Query:     `query { listTodos { items { id content } } }`,
//	})
type Client struct {
	cfg      *config.APIConfig
	http     *http.Client
	sessions SessionProvider
	creds    awssdk.CredentialsProvider
	signer   *v4.Signer
	log      logging.Logger
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Intended for tests and
// for callers with their own transport tuning.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithSessionProvider wires the session cache that backs user pool
// authorization.
func WithSessionProvider(p SessionProvider) Option {
	return func(c *Client) { c.sessions = p }
}

// WithCredentialsProvider wires the AWS credentials that back IAM
// authorization, typically session.NewCredentialsProvider(cache).
func WithCredentialsProvider(p awssdk.CredentialsProvider) Option {
	return func(c *Client) { c.creds = p }
}

// WithLogger routes the client's log output.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.log = logging.OrNop(l) }
}

// WithClock overrides the time source used for request signing. Intended for
// tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds the API category client.
func New(cfg *config.APIConfig, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		signer: v4.NewSigner(),
		log:    logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query posts the request and returns the endpoint's response. GraphQL errors
// with no data at all surface as a typed error; partial results return both
// the data and the error list.
func (c *Client) Query(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, req)
}

// Mutate posts a mutation. The wire shape is identical to Query; the split
// exists so call sites read as what they do.
func (c *Client) Mutate(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	if req.Query == "" {
		return nil, goerrors.New("query document must not be empty", goerrors.CategoryValidation).
			WithTextCode(CodeEmptyQuery).
			WithCode(goerrors.CodeBadRequest)
	}
	if c.cfg.Endpoint == "" {
		return nil, config.NewError("CONFIG_API_ENDPOINT", "no GraphQL endpoint is configured")
	}

	body, err := json.Marshal(map[string]any{
		"query":         req.Query,
		"operationName": emptyToNil(req.OperationName),
		"variables":     req.Variables,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	if err := c.authorize(ctx, httpReq, req.AuthMode, body); err != nil {
		return nil, err
	}

	httpRes, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("posting request: %w", err)
	}
	defer httpRes.Body.Close()

	resBody, err := io.ReadAll(httpRes.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if httpRes.StatusCode != http.StatusOK {
		return nil, c.httpError(httpRes.StatusCode, resBody)
	}

	var res Response
	if err := json.Unmarshal(resBody, &res); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(res.Errors) > 0 && isNullData(res.Data) {
		return &res, goerrors.Wrap(res.Errors[0], goerrors.CategoryOperation, "request resolved to errors").
			WithTextCode(CodeGraphQLErrors).
			WithMetadata(map[string]any{"errorCount": len(res.Errors)})
	}
	return &res, nil
}

// authorize attaches the authorization the request's mode calls for.
func (c *Client) authorize(ctx context.Context, httpReq *http.Request, mode string, body []byte) error {
	if mode == "" {
		mode = c.cfg.DefaultAuthMode
	}
	switch mode {
	case config.AuthModeAPIKey:
		if c.cfg.APIKey == "" {
			return config.NewError("CONFIG_API_KEY", "API key authorization requested but no key is configured")
		}
		httpReq.Header.Set("x-api-key", c.cfg.APIKey)
		return nil

	case config.AuthModeUserPool:
		if c.sessions == nil {
			return goerrors.New("user pool authorization requested but no session provider is wired", goerrors.CategoryValidation).
				WithTextCode(CodeUnsupportedAuthMode)
		}
		sess, err := c.sessions.FetchSession(ctx)
		if err != nil {
			return err
		}
		if !sess.SignedIn() {
			return goerrors.New("user pool authorization needs a signed-in session", goerrors.CategoryAuth).
				WithTextCode(CodeSignedOut).
				WithCode(goerrors.CodeUnauthorized)
		}
		httpReq.Header.Set("Authorization", sess.Tokens.AccessToken)
		return nil

	case config.AuthModeIAM:
		if c.creds == nil {
			return goerrors.New("IAM authorization requested but no credentials provider is wired", goerrors.CategoryValidation).
				WithTextCode(CodeUnsupportedAuthMode)
		}
		creds, err := c.creds.Retrieve(ctx)
		if err != nil {
			return err
		}
		hash := sha256.Sum256(body)
		if err := c.signer.SignHTTP(ctx, creds, httpReq, hex.EncodeToString(hash[:]), signingService, c.cfg.Region, c.now()); err != nil {
			return fmt.Errorf("signing request: %w", err)
		}
		return nil
	}
	return goerrors.New(fmt.Sprintf("unsupported authorization mode %q", mode), goerrors.CategoryValidation).
		WithTextCode(CodeUnsupportedAuthMode).
		WithCode(goerrors.CodeBadRequest)
}

// httpError maps a non-200 transport answer into a ServiceError so callers
// branch on it the same way they do for SDK rejections.
func (c *Client) httpError(status int, body []byte) error {
	fault := smithy.FaultServer
	if status < 500 {
		fault = smithy.FaultClient
	}
	msg := http.StatusText(status)

	// AppSync reports request-level failures (bad key, malformed document)
	// as a JSON error envelope; prefer its message when one parses.
	var envelope struct {
		Errors []GraphQLError `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Errors) > 0 {
		msg = envelope.Errors[0].Message
		if envelope.Errors[0].ErrorType != "" {
			return &aws.ServiceError{
				Operation: "GraphQL",
				Code:      envelope.Errors[0].ErrorType,
				Message:   msg,
				Fault:     fault,
			}
		}
	}
	return &aws.ServiceError{
		Operation: "GraphQL",
		Code:      fmt.Sprintf("HTTP_%d", status),
		Message:   msg,
		Fault:     fault,
	}
}

// isNullData reports whether the data field is absent or JSON null.
func isNullData(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}

func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ErrorTextCode extracts the local text code from err, or "" when err did
// not originate from this package.
func ErrorTextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode
	}
	return ""
}
