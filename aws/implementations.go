// Package aws defines narrow interfaces over the AWS service clients the SDK
// talks to. This file contains the concrete implementations wrapping the SDK
// clients.
package aws

import (
	"context"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/pinpoint"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// CognitoIdentityProviderClientImpl implements CognitoIdentityProviderClient
// by delegating to the SDK user pool client.
type CognitoIdentityProviderClientImpl struct {
	client *cognitoidentityprovider.Client
}

// NewCognitoIdentityProviderClient creates a new CognitoIdentityProviderClientImpl instance
func NewCognitoIdentityProviderClient(client *cognitoidentityprovider.Client) *CognitoIdentityProviderClientImpl {
	return &CognitoIdentityProviderClientImpl{client: client}
}

// InitiateAuth starts an authentication flow against the user pool
func (c *CognitoIdentityProviderClientImpl) InitiateAuth(ctx context.Context, params *cognitoidentityprovider.InitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error) {
	return c.client.InitiateAuth(ctx, params, optFns...)
}

// RespondToAuthChallenge answers a pending authentication challenge
func (c *CognitoIdentityProviderClientImpl) RespondToAuthChallenge(ctx context.Context, params *cognitoidentityprovider.RespondToAuthChallengeInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.RespondToAuthChallengeOutput, error) {
	return c.client.RespondToAuthChallenge(ctx, params, optFns...)
}

// SignUp registers a new user in the user pool
func (c *CognitoIdentityProviderClientImpl) SignUp(ctx context.Context, params *cognitoidentityprovider.SignUpInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.SignUpOutput, error) {
	return c.client.SignUp(ctx, params, optFns...)
}

// ConfirmSignUp confirms a registration with a delivered code
func (c *CognitoIdentityProviderClientImpl) ConfirmSignUp(ctx context.Context, params *cognitoidentityprovider.ConfirmSignUpInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ConfirmSignUpOutput, error) {
	return c.client.ConfirmSignUp(ctx, params, optFns...)
}

// ResendConfirmationCode re-delivers the registration confirmation code
func (c *CognitoIdentityProviderClientImpl) ResendConfirmationCode(ctx context.Context, params *cognitoidentityprovider.ResendConfirmationCodeInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ResendConfirmationCodeOutput, error) {
	return c.client.ResendConfirmationCode(ctx, params, optFns...)
}

// ForgotPassword starts the password reset flow
func (c *CognitoIdentityProviderClientImpl) ForgotPassword(ctx context.Context, params *cognitoidentityprovider.ForgotPasswordInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ForgotPasswordOutput, error) {
	return c.client.ForgotPassword(ctx, params, optFns...)
}

// ConfirmForgotPassword completes the password reset flow
func (c *CognitoIdentityProviderClientImpl) ConfirmForgotPassword(ctx context.Context, params *cognitoidentityprovider.ConfirmForgotPasswordInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ConfirmForgotPasswordOutput, error) {
	return c.client.ConfirmForgotPassword(ctx, params, optFns...)
}

// ChangePassword changes the password of a signed-in user
func (c *CognitoIdentityProviderClientImpl) ChangePassword(ctx context.Context, params *cognitoidentityprovider.ChangePasswordInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ChangePasswordOutput, error) {
	return c.client.ChangePassword(ctx, params, optFns...)
}

// GlobalSignOut revokes every token issued to the user
func (c *CognitoIdentityProviderClientImpl) GlobalSignOut(ctx context.Context, params *cognitoidentityprovider.GlobalSignOutInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.GlobalSignOutOutput, error) {
	return c.client.GlobalSignOut(ctx, params, optFns...)
}

// GetUser fetches the attributes of the signed-in user
func (c *CognitoIdentityProviderClientImpl) GetUser(ctx context.Context, params *cognitoidentityprovider.GetUserInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.GetUserOutput, error) {
	return c.client.GetUser(ctx, params, optFns...)
}

// AssociateSoftwareToken begins TOTP authenticator enrollment
func (c *CognitoIdentityProviderClientImpl) AssociateSoftwareToken(ctx context.Context, params *cognitoidentityprovider.AssociateSoftwareTokenInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AssociateSoftwareTokenOutput, error) {
	return c.client.AssociateSoftwareToken(ctx, params, optFns...)
}

// VerifySoftwareToken proves possession of the enrolled TOTP authenticator
func (c *CognitoIdentityProviderClientImpl) VerifySoftwareToken(ctx context.Context, params *cognitoidentityprovider.VerifySoftwareTokenInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.VerifySoftwareTokenOutput, error) {
	return c.client.VerifySoftwareToken(ctx, params, optFns...)
}

// CognitoIdentityClientImpl implements CognitoIdentityClient by delegating to
// the SDK identity pool client.
type CognitoIdentityClientImpl struct {
	client *cognitoidentity.Client
}

// NewCognitoIdentityClient creates a new CognitoIdentityClientImpl instance
func NewCognitoIdentityClient(client *cognitoidentity.Client) *CognitoIdentityClientImpl {
	return &CognitoIdentityClientImpl{client: client}
}

// GetId resolves the identity ID for a set of federated logins
func (c *CognitoIdentityClientImpl) GetId(ctx context.Context, params *cognitoidentity.GetIdInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error) {
	return c.client.GetId(ctx, params, optFns...)
}

// GetCredentialsForIdentity exchanges an identity ID for AWS credentials
func (c *CognitoIdentityClientImpl) GetCredentialsForIdentity(ctx context.Context, params *cognitoidentity.GetCredentialsForIdentityInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error) {
	return c.client.GetCredentialsForIdentity(ctx, params, optFns...)
}

// S3ClientImpl implements S3Client by delegating to the SDK S3 client.
type S3ClientImpl struct {
	client *s3.Client
}

// NewS3Client creates a new S3ClientImpl instance
func NewS3Client(client *s3.Client) *S3ClientImpl {
	return &S3ClientImpl{client: client}
}

// GetObject reads an object
func (c *S3ClientImpl) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return c.client.GetObject(ctx, params, optFns...)
}

// PutObject writes an object
func (c *S3ClientImpl) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return c.client.PutObject(ctx, params, optFns...)
}

// DeleteObject removes an object
func (c *S3ClientImpl) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return c.client.DeleteObject(ctx, params, optFns...)
}

// CopyObject copies an object within or across buckets
func (c *S3ClientImpl) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	return c.client.CopyObject(ctx, params, optFns...)
}

// HeadObject retrieves object metadata
func (c *S3ClientImpl) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return c.client.HeadObject(ctx, params, optFns...)
}

// ListObjectsV2 lists objects under a prefix
func (c *S3ClientImpl) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return c.client.ListObjectsV2(ctx, params, optFns...)
}

// S3PresignClientImpl implements S3PresignClient by delegating to the SDK
// presigner.
type S3PresignClientImpl struct {
	client *s3.PresignClient
}

// NewS3PresignClient creates a new S3PresignClientImpl instance
func NewS3PresignClient(client *s3.PresignClient) *S3PresignClientImpl {
	return &S3PresignClientImpl{client: client}
}

// PresignGetObject produces a presigned download URL
func (c *S3PresignClientImpl) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return c.client.PresignGetObject(ctx, params, optFns...)
}

// PresignPutObject produces a presigned upload URL
func (c *S3PresignClientImpl) PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return c.client.PresignPutObject(ctx, params, optFns...)
}

// PinpointClientImpl implements PinpointClient by delegating to the SDK
// Pinpoint client.
type PinpointClientImpl struct {
	client *pinpoint.Client
}

// NewPinpointClient creates a new PinpointClientImpl instance
func NewPinpointClient(client *pinpoint.Client) *PinpointClientImpl {
	return &PinpointClientImpl{client: client}
}

// PutEvents submits a batch of analytics events
func (c *PinpointClientImpl) PutEvents(ctx context.Context, params *pinpoint.PutEventsInput, optFns ...func(*pinpoint.Options)) (*pinpoint.PutEventsOutput, error) {
	return c.client.PutEvents(ctx, params, optFns...)
}

// UpdateEndpoint creates or updates the device endpoint
func (c *PinpointClientImpl) UpdateEndpoint(ctx context.Context, params *pinpoint.UpdateEndpointInput, optFns ...func(*pinpoint.Options)) (*pinpoint.UpdateEndpointOutput, error) {
	return c.client.UpdateEndpoint(ctx, params, optFns...)
}

// GetInAppMessages fetches in-app messages eligible for an endpoint
func (c *PinpointClientImpl) GetInAppMessages(ctx context.Context, params *pinpoint.GetInAppMessagesInput, optFns ...func(*pinpoint.Options)) (*pinpoint.GetInAppMessagesOutput, error) {
	return c.client.GetInAppMessages(ctx, params, optFns...)
}
