package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/pinpoint"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/asotjrs/amplify-go/analytics"
	"github.com/asotjrs/amplify-go/auth"
	"github.com/asotjrs/amplify-go/aws"
	"github.com/asotjrs/amplify-go/config"
	"github.com/asotjrs/amplify-go/logging"
	"github.com/asotjrs/amplify-go/metrics"
	"github.com/asotjrs/amplify-go/session"
	"github.com/asotjrs/amplify-go/storage"
)

var (
	configPath string
	storePath  string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "amplify",
	Short:         "Client for a Cognito/S3/Pinpoint backend",
	Long:          "amplify signs in against a Cognito user pool, derives AWS credentials through an identity pool, and operates on the configured storage bucket and analytics application.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the backend configuration JSON (default: AMPLIFY_* environment)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "session store file (default ~/.amplify/session.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtime bundles the configured client a command operates through. Every
// command builds it once in its RunE.
type runtime struct {
	cfg   *config.Config
	log   logging.Logger
	met   *metrics.Metrics
	cache *session.Cache
	auth  *auth.Client
}

func newRuntime(ctx context.Context) (*runtime, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.FromEnv()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.Nop()
	if verbose {
		log = logging.Verbose("amplify")
	}

	store, err := openStore()
	if err != nil {
		return nil, err
	}

	// The user pool API is called unauthenticated; tokens come back in the
	// response, not from a credential chain.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Auth.Region),
		awsconfig.WithCredentialsProvider(awssdk.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	idp := aws.NewCognitoIdentityProviderClient(cognitoidentityprovider.NewFromConfig(awsCfg))

	var identity aws.CognitoIdentityClient
	if cfg.HasIdentityPool() {
		identity = aws.NewCognitoIdentityClient(cognitoidentity.NewFromConfig(awsCfg))
	}

	met := metrics.NewMetrics()
	cache := session.NewCache(&cfg.Auth, store, idp, identity,
		session.WithLogger(log),
		session.WithMetrics(met),
	)
	return &runtime{
		cfg:   cfg,
		log:   log,
		met:   met,
		cache: cache,
		auth:  auth.New(&cfg.Auth, idp, cache, auth.WithLogger(log), auth.WithMetrics(met)),
	}, nil
}

// openStore resolves the session store path, defaulting under the home
// directory so sessions survive between invocations.
func openStore() (session.Store, error) {
	path := storePath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, ".amplify", "session.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	return session.NewFileStore(path)
}

// storageClient builds the storage category signed with the session's derived
// credentials.
func (rt *runtime) storageClient() (*storage.Client, error) {
	if !rt.cfg.HasStorage() {
		return nil, config.NewError("CONFIG_NO_STORAGE", "no storage bucket is configured")
	}
	s3cfg := awssdk.Config{
		Region:      rt.cfg.Storage.Region,
		Credentials: awssdk.NewCredentialsCache(session.NewCredentialsProvider(rt.cache)),
	}
	client := s3.NewFromConfig(s3cfg)
	return storage.New(&rt.cfg.Storage,
		aws.NewS3Client(client),
		aws.NewS3PresignClient(s3.NewPresignClient(client)),
		rt.cache,
		storage.WithLogger(rt.log),
	), nil
}

// recorder builds the analytics category against the configured application.
func (rt *runtime) recorder() (*analytics.Recorder, error) {
	if !rt.cfg.HasAnalytics() {
		return nil, config.NewError("CONFIG_NO_ANALYTICS", "no analytics application is configured")
	}
	ppCfg := awssdk.Config{
		Region:      rt.cfg.Analytics.Region,
		Credentials: awssdk.NewCredentialsCache(session.NewCredentialsProvider(rt.cache)),
	}
	return analytics.NewRecorder(&rt.cfg.Analytics,
		aws.NewPinpointClient(pinpoint.NewFromConfig(ppCfg)),
		analytics.WithLogger(rt.log),
		analytics.WithMetrics(rt.met),
	), nil
}

// promptSecret reads a line with terminal echo disabled.
func promptSecret(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	value, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(value), nil
}

// promptLine reads a plain line from stdin.
func promptLine(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// parsePairs splits repeated key=value flags into a map.
func parsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("malformed pair %q, expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}
