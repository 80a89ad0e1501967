package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/asotjrs/amplify-go/analytics"
)

var (
	eventAttrs   []string
	eventMetrics []string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Submit analytics events to the configured application",
}

var eventsPutCmd = &cobra.Command{
	Use:   "put <name>...",
	Short: "Record events and flush them immediately",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		rec, err := rt.recorder()
		if err != nil {
			return err
		}
		defer rec.Close(ctx)

		attrs, err := parsePairs(eventAttrs)
		if err != nil {
			return err
		}
		metrics, err := parseMetricPairs(eventMetrics)
		if err != nil {
			return err
		}

		for _, name := range args {
			if err := rec.Record(ctx, analytics.Event{
				Name:       name,
				Attributes: attrs,
				Metrics:    metrics,
			}); err != nil {
				return err
			}
		}
		if err := rec.Flush(ctx); err != nil {
			return err
		}
		fmt.Println(rt.met.GenerateReport())
		return nil
	},
}

var eventsFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush any buffered events and print the delivery report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		rec, err := rt.recorder()
		if err != nil {
			return err
		}
		defer rec.Close(ctx)

		if err := rec.Flush(ctx); err != nil {
			return err
		}
		fmt.Println(rt.met.GenerateReport())
		return nil
	},
}

// parseMetricPairs splits repeated name=number flags.
func parseMetricPairs(pairs []string) (map[string]float64, error) {
	raw, err := parsePairs(pairs)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	for name, value := range raw {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %q is not a number", name, value)
		}
		out[name] = f
	}
	return out, nil
}

func init() {
	eventsPutCmd.Flags().StringArrayVar(&eventAttrs, "attr", nil, "event attribute as name=value (repeatable)")
	eventsPutCmd.Flags().StringArrayVar(&eventMetrics, "metric", nil, "event metric as name=number (repeatable)")

	eventsCmd.AddCommand(eventsPutCmd, eventsFlushCmd)
	rootCmd.AddCommand(eventsCmd)
}
