// Package config holds the resource configuration consumed by the SDK
// categories. A Config is typically loaded from an outputs JSON document
// produced by backend tooling, optionally overlaid with AMPLIFY_* environment
// variables, and validated before any client is constructed.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	json "github.com/goccy/go-json"
	goerrors "github.com/goliatone/go-errors"
)

// Supported values for AuthConfig.AuthFlowType.
const (
	FlowUserSRP      = "USER_SRP_AUTH"
	FlowUserPassword = "USER_PASSWORD_AUTH"
	FlowCustom       = "CUSTOM_AUTH"
)

// Supported values for APIConfig.DefaultAuthMode.
const (
	AuthModeAPIKey   = "API_KEY"
	AuthModeUserPool = "AMAZON_COGNITO_USER_POOLS"
	AuthModeIAM      = "AWS_IAM"
)

// userPoolIDPattern is compiled once at package level to avoid recompilation per call.
var userPoolIDPattern = regexp.MustCompile(`^[a-z0-9-]+_[0-9a-zA-Z]+$`)

// AuthConfig describes the Cognito user pool and optional identity pool.
type AuthConfig struct {
	Region           string `json:"aws_region"`          // Region of the user pool
	UserPoolID       string `json:"user_pool_id"`        // e.g. us-east-1_AbCdEfGhI
	UserPoolClientID string `json:"user_pool_client_id"` // App client without secret
	IdentityPoolID   string `json:"identity_pool_id"`    // Optional, enables credential exchange
	AuthFlowType     string `json:"auth_flow_type"`      // Defaults to USER_SRP_AUTH

	// Internal fields
	poolName string // Pool name parsed from UserPoolID
}

// StorageConfig describes the S3 bucket backing the storage category.
type StorageConfig struct {
	Region string `json:"aws_region"`
	Bucket string `json:"bucket_name"`
}

// AnalyticsConfig describes the Pinpoint application backing analytics.
type AnalyticsConfig struct {
	Region               string `json:"aws_region"`
	AppID                string `json:"app_id"`
	FlushSize            int    `json:"flush_size"`             // Events per flush, defaults to 100
	FlushIntervalSeconds int    `json:"flush_interval_seconds"` // Auto-flush period, defaults to 30
}

// APIConfig describes the AppSync GraphQL endpoint.
type APIConfig struct {
	Region          string `json:"aws_region"`
	Endpoint        string `json:"url"`
	DefaultAuthMode string `json:"default_authorization_type"`
	APIKey          string `json:"api_key"`
}

// NotificationsConfig describes the Pinpoint application used for in-app
// messaging. It may point at the same application as analytics.
type NotificationsConfig struct {
	Region string `json:"aws_region"`
	AppID  string `json:"app_id"`
}

// Config aggregates the per-category sections. Sections left at their zero
// value mean the category is not configured; constructing that category
// fails with a configuration error.
type Config struct {
	Auth          AuthConfig          `json:"auth"`
	Storage       StorageConfig       `json:"storage"`
	Analytics     AnalyticsConfig     `json:"analytics"`
	API           APIConfig           `json:"data"`
	Notifications NotificationsConfig `json:"notifications"`
}

// Load reads a Config from a JSON document on disk.
// Example:
//
//	cfg, err := config.Load("amplify_outputs.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError("CONFIG_UNREADABLE", fmt.Sprintf("cannot read configuration file %s: %v", path, err))
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, NewError("CONFIG_MALFORMED", fmt.Sprintf("cannot parse configuration file %s: %v", path, err))
	}

	cfg.applyEnv()
	return &cfg, nil
}

// FromEnv builds a Config purely from AMPLIFY_* environment variables.
func FromEnv() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	return cfg
}

// applyEnv overlays environment variables on top of whatever is already set.
// A set variable always wins over the file value.
func (c *Config) applyEnv() {
	overlay := []struct {
		key string
		dst *string
	}{
		{"AMPLIFY_AUTH_REGION", &c.Auth.Region},
		{"AMPLIFY_USER_POOL_ID", &c.Auth.UserPoolID},
		{"AMPLIFY_USER_POOL_CLIENT_ID", &c.Auth.UserPoolClientID},
		{"AMPLIFY_IDENTITY_POOL_ID", &c.Auth.IdentityPoolID},
		{"AMPLIFY_AUTH_FLOW_TYPE", &c.Auth.AuthFlowType},
		{"AMPLIFY_STORAGE_REGION", &c.Storage.Region},
		{"AMPLIFY_STORAGE_BUCKET", &c.Storage.Bucket},
		{"AMPLIFY_ANALYTICS_REGION", &c.Analytics.Region},
		{"AMPLIFY_ANALYTICS_APP_ID", &c.Analytics.AppID},
		{"AMPLIFY_API_REGION", &c.API.Region},
		{"AMPLIFY_API_ENDPOINT", &c.API.Endpoint},
		{"AMPLIFY_API_AUTH_MODE", &c.API.DefaultAuthMode},
		{"AMPLIFY_API_KEY", &c.API.APIKey},
		{"AMPLIFY_NOTIFICATIONS_REGION", &c.Notifications.Region},
		{"AMPLIFY_NOTIFICATIONS_APP_ID", &c.Notifications.AppID},
	}
	for _, o := range overlay {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}
}

// HasAuth reports whether the auth section is populated at all.
func (c *Config) HasAuth() bool {
	return c.Auth.UserPoolID != "" || c.Auth.UserPoolClientID != ""
}

// HasIdentityPool reports whether credential exchange is configured.
func (c *Config) HasIdentityPool() bool {
	return c.Auth.IdentityPoolID != ""
}

// HasStorage reports whether the storage section is populated.
func (c *Config) HasStorage() bool {
	return c.Storage.Bucket != ""
}

// HasAnalytics reports whether the analytics section is populated.
func (c *Config) HasAnalytics() bool {
	return c.Analytics.AppID != ""
}

// HasAPI reports whether the GraphQL section is populated.
func (c *Config) HasAPI() bool {
	return c.API.Endpoint != ""
}

// HasNotifications reports whether the in-app messaging section is populated.
func (c *Config) HasNotifications() bool {
	return c.Notifications.AppID != ""
}

// Validate checks every populated section. Categories that are absent are
// skipped; a Config with no sections at all is rejected.
func (c *Config) Validate() error {
	if !c.HasAuth() && !c.HasStorage() && !c.HasAnalytics() && !c.HasAPI() && !c.HasNotifications() {
		return NewError("CONFIG_EMPTY", "configuration has no populated sections")
	}
	if c.HasAuth() {
		if err := c.Auth.Validate(); err != nil {
			return err
		}
	}
	if c.HasStorage() {
		if err := c.Storage.Validate(); err != nil {
			return err
		}
	}
	if c.HasAnalytics() {
		if err := c.Analytics.Validate(); err != nil {
			return err
		}
	}
	if c.HasAPI() {
		if err := c.API.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the auth section and caches values derived from the user
// pool ID. The region may be omitted; it is then derived from the pool ID
// prefix (us-east-1_AbC => us-east-1).
func (a *AuthConfig) Validate() error {
	if a.AuthFlowType == "" {
		a.AuthFlowType = FlowUserSRP
	}
	if a.Region == "" && a.UserPoolID != "" {
		if i := strings.Index(a.UserPoolID, "_"); i > 0 {
			a.Region = a.UserPoolID[:i]
		}
	}

	err := validation.ValidateStruct(a,
		validation.Field(&a.UserPoolID, validation.Required, validation.Match(userPoolIDPattern)),
		validation.Field(&a.UserPoolClientID, validation.Required, validation.Length(1, 128)),
		validation.Field(&a.Region, validation.Required),
		validation.Field(&a.AuthFlowType, validation.In(FlowUserSRP, FlowUserPassword, FlowCustom)),
	)
	if err != nil {
		return wrapValidation("CONFIG_AUTH", "auth configuration invalid", err)
	}

	a.poolName = a.UserPoolID[strings.Index(a.UserPoolID, "_")+1:]
	return nil
}

// PoolName returns the user pool name parsed from UserPoolID during Validate.
// The SRP handshake signs messages with this name, not the full pool ID.
func (a *AuthConfig) PoolName() string {
	return a.poolName
}

// Validate checks the storage section.
func (s *StorageConfig) Validate() error {
	err := validation.ValidateStruct(s,
		validation.Field(&s.Bucket, validation.Required, validation.Length(3, 63)),
		validation.Field(&s.Region, validation.Required),
	)
	if err != nil {
		return wrapValidation("CONFIG_STORAGE", "storage configuration invalid", err)
	}
	return nil
}

// Validate checks the analytics section and applies flush defaults.
func (a *AnalyticsConfig) Validate() error {
	if a.FlushSize == 0 {
		a.FlushSize = 100
	}
	if a.FlushIntervalSeconds == 0 {
		a.FlushIntervalSeconds = 30
	}

	err := validation.ValidateStruct(a,
		validation.Field(&a.AppID, validation.Required),
		validation.Field(&a.Region, validation.Required),
		validation.Field(&a.FlushSize, validation.Min(1), validation.Max(100)),
		validation.Field(&a.FlushIntervalSeconds, validation.Min(1)),
	)
	if err != nil {
		return wrapValidation("CONFIG_ANALYTICS", "analytics configuration invalid", err)
	}
	return nil
}

// Validate checks the GraphQL section. An API key is only required when the
// default authorization mode actually uses one.
func (a *APIConfig) Validate() error {
	if a.DefaultAuthMode == "" {
		a.DefaultAuthMode = AuthModeAPIKey
	}

	err := validation.ValidateStruct(a,
		validation.Field(&a.Endpoint, validation.Required),
		validation.Field(&a.Region, validation.Required),
		validation.Field(&a.DefaultAuthMode, validation.In(AuthModeAPIKey, AuthModeUserPool, AuthModeIAM)),
	)
	if err != nil {
		return wrapValidation("CONFIG_API", "API configuration invalid", err)
	}
	if a.DefaultAuthMode == AuthModeAPIKey && a.APIKey == "" {
		return NewError("CONFIG_API_KEY", "API key is required when the default authorization type is API_KEY")
	}
	if !strings.HasPrefix(a.Endpoint, "https://") {
		return NewError("CONFIG_API_ENDPOINT", "API endpoint must be an https URL")
	}
	return nil
}

// NewError builds a configuration error with the given text code. All
// configuration failures share the same category so callers can separate
// "you forgot to configure" from remote rejections.
func NewError(textCode, msg string) error {
	return goerrors.New(msg, goerrors.CategoryBadInput).WithTextCode(textCode)
}

// wrapValidation folds an ozzo validation result into a configuration error.
func wrapValidation(textCode, msg string, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, msg).WithTextCode(textCode)
}

// IsConfigurationError reports whether err is a configuration error produced
// by this package.
func IsConfigurationError(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.Category == goerrors.CategoryBadInput && strings.HasPrefix(rich.TextCode, "CONFIG_")
}
