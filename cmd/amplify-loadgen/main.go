// Package main floods the analytics recorder with synthetic events, either
// against a real Pinpoint application or a dry-run sink, and prints the
// delivery report. Useful for sizing flush batches and watching throttle
// behavior under sustained load.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/pinpoint"
	pptypes "github.com/aws/aws-sdk-go-v2/service/pinpoint/types"
	"github.com/google/uuid"

	"github.com/asotjrs/amplify-go/analytics"
	"github.com/asotjrs/amplify-go/aws"
	"github.com/asotjrs/amplify-go/config"
	"github.com/asotjrs/amplify-go/logging"
	"github.com/asotjrs/amplify-go/metrics"
)

// eventNames is the pool synthetic events draw their names from.
var eventNames = []string{
	"app_open",
	"screen_view",
	"level_start",
	"level_complete",
	"purchase",
	"share",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	appID := flag.String("app", "", "Pinpoint application ID (required unless -dry-run)")
	region := flag.String("region", "", "AWS region (defaults to AWS_REGION env)")
	count := flag.Int("count", 1000, "Total events to record")
	rate := flag.Int("rate", 100, "Events per second")
	flushSize := flag.Int("flush-size", 100, "Events per flush batch")
	flushInterval := flag.Int("flush-interval", 10, "Auto-flush period in seconds")
	dryRun := flag.Bool("dry-run", false, "Accept events locally instead of calling Pinpoint")
	staticCreds := flag.String("credentials", "", "Static credentials as access-key:secret[:session-token] (default: ambient chain)")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	if *appID == "" && !*dryRun {
		return fmt.Errorf("-app is required unless -dry-run is set")
	}
	if *rate <= 0 {
		return fmt.Errorf("-rate must be positive")
	}

	cfg := &config.AnalyticsConfig{
		Region:               *region,
		AppID:                *appID,
		FlushSize:            *flushSize,
		FlushIntervalSeconds: *flushInterval,
	}
	if cfg.AppID == "" {
		cfg.AppID = "dry-run"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pp aws.PinpointClient
	if *dryRun {
		pp = &dryRunPinpoint{}
	} else {
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(*region)}
		if *staticCreds != "" {
			provider, err := parseStaticCredentials(*staticCreds)
			if err != nil {
				return err
			}
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(provider))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
		pp = aws.NewPinpointClient(pinpoint.NewFromConfig(awsCfg))
	}

	logger := logging.Nop()
	if *verbose {
		logger = logging.Verbose("loadgen")
	}
	met := metrics.NewMetrics()
	rec := analytics.NewRecorder(cfg, pp,
		analytics.WithLogger(logger),
		analytics.WithMetrics(met),
	)

	fmt.Printf("Recording %d events at %d/s (flush size %d)\n", *count, *rate, *flushSize)
	sessionID := uuid.NewString()
	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	recorded := 0
loop:
	for recorded < *count {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted, draining...")
			break loop
		case <-ticker.C:
		}

		event := analytics.Event{
			Name: eventNames[rand.IntN(len(eventNames))],
			Attributes: map[string]string{
				"session_id": sessionID,
				"variant":    fmt.Sprintf("v%d", rand.IntN(3)),
			},
			Metrics: map[string]float64{
				"duration_ms": float64(rand.IntN(5000)),
			},
		}
		if err := rec.Record(ctx, event); err != nil {
			log.Printf("record failed: %v", err)
			continue
		}
		recorded++
		if recorded%500 == 0 {
			fmt.Printf("Recorded %d events...\n", recorded)
		}
	}

	// Close drains the buffer; give the drain its own deadline so a hung
	// backend cannot block shutdown forever.
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rec.Close(drainCtx); err != nil {
		log.Printf("drain failed: %v", err)
	}

	fmt.Printf("\n%s\n", met.GenerateReport())
	return nil
}

// parseStaticCredentials splits the -credentials flag into a static provider.
func parseStaticCredentials(raw string) (credentials.StaticCredentialsProvider, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return credentials.StaticCredentialsProvider{}, fmt.Errorf("-credentials expects access-key:secret[:session-token]")
	}
	token := ""
	if len(parts) == 3 {
		token = parts[2]
	}
	return credentials.NewStaticCredentialsProvider(parts[0], parts[1], token), nil
}

// dryRunPinpoint accepts every submission without any network traffic.
type dryRunPinpoint struct{}

func (dryRunPinpoint) PutEvents(ctx context.Context, in *pinpoint.PutEventsInput, _ ...func(*pinpoint.Options)) (*pinpoint.PutEventsOutput, error) {
	accepted := int32(202)
	results := make(map[string]pptypes.ItemResponse, len(in.EventsRequest.BatchItem))
	for endpointID, batch := range in.EventsRequest.BatchItem {
		items := make(map[string]pptypes.EventItemResponse, len(batch.Events))
		for eventID := range batch.Events {
			items[eventID] = pptypes.EventItemResponse{StatusCode: &accepted}
		}
		results[endpointID] = pptypes.ItemResponse{EventsItemResponse: items}
	}
	return &pinpoint.PutEventsOutput{
		EventsResponse: &pptypes.EventsResponse{Results: results},
	}, nil
}

func (dryRunPinpoint) UpdateEndpoint(ctx context.Context, in *pinpoint.UpdateEndpointInput, _ ...func(*pinpoint.Options)) (*pinpoint.UpdateEndpointOutput, error) {
	return &pinpoint.UpdateEndpointOutput{}, nil
}

func (dryRunPinpoint) GetInAppMessages(ctx context.Context, in *pinpoint.GetInAppMessagesInput, _ ...func(*pinpoint.Options)) (*pinpoint.GetInAppMessagesOutput, error) {
	return &pinpoint.GetInAppMessagesOutput{
		InAppMessagesResponse: &pptypes.InAppMessagesResponse{},
	}, nil
}
