package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/cohenjo/plansync/pkg/service"
	"github.com/cohenjo/plansync/pkg/syncer"
	"github.com/spf13/cobra"
)

var resume bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync against the configured source and destination",
}

var syncPropertiesCmd = &cobra.Command{
	Use:   "properties",
	Short: "Rebuild the Event Properties collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), func(ctx context.Context, s *syncer.Service) (interface{}, error) {
			return s.SyncProperties(ctx, syncer.PropertySyncOptions{Resume: resume})
		})
	},
}

var syncPlansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Rebuild one collection per tracking plan",
	Long: `Rebuild one collection per tracking plan. Requires a previous
properties sync: event records relate to the property records it created.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), func(ctx context.Context, s *syncer.Service) (interface{}, error) {
			return s.SyncTrackingPlans(ctx)
		})
	},
}

var syncAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Sync properties, then tracking plans",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), func(ctx context.Context, s *syncer.Service) (interface{}, error) {
			return s.SyncAll(ctx, syncer.PropertySyncOptions{Resume: resume})
		})
	},
}

func init() {
	syncPropertiesCmd.Flags().BoolVar(&resume, "resume", false, "reuse the live properties collection and create only missing records")
	syncAllCmd.Flags().BoolVar(&resume, "resume", false, "reuse the live properties collection and create only missing records")

	syncCmd.AddCommand(syncPropertiesCmd, syncPlansCmd, syncAllCmd)
	rootCmd.AddCommand(syncCmd)
}

// runSync builds the service, runs one phase and prints its report.
// SIGINT cancels the run; records created so far stay in the cache.
func runSync(parent context.Context, run func(context.Context, *syncer.Service) (interface{}, error)) error {
	cfg, _, logger, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, service.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			logger.WithError(cerr).Warn("Failed to release components")
		}
	}()

	report, err := run(ctx, svc.Syncer())
	if report != nil {
		if perr := printReport(os.Stdout, outputFormat, report); perr != nil {
			logger.WithError(perr).Warn("Failed to print report")
		}
	}
	return err
}

func printReport(w io.Writer, format string, report interface{}) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	switch r := report.(type) {
	case *syncer.PropertiesReport:
		if r == nil {
			return nil
		}
		writePropertiesTable(tw, r)
	case *syncer.PlansReport:
		if r == nil {
			return nil
		}
		writePlansTable(tw, r)
	case *syncer.RunReport:
		if r == nil {
			return nil
		}
		if r.Properties != nil {
			writePropertiesTable(tw, r.Properties)
			fmt.Fprintln(tw)
		}
		if r.Plans != nil {
			writePlansTable(tw, r.Plans)
		}
	default:
		return fmt.Errorf("unsupported report %T", report)
	}
	return tw.Flush()
}

func writePropertiesTable(w io.Writer, r *syncer.PropertiesReport) {
	fmt.Fprintf(w, "RUN\t%s\n", r.RunID)
	fmt.Fprintf(w, "COLLECTION\t%s\n", r.CollectionID)
	if r.PreviousCollectionID != "" {
		fmt.Fprintf(w, "PREVIOUS\t%s\tarchived=%t\n", r.PreviousCollectionID, r.Archived)
	}
	if r.ArchiveError != "" {
		fmt.Fprintf(w, "ARCHIVE ERROR\t%s\n", r.ArchiveError)
	}
	counts := r.Counts()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%d\n", k, counts[k])
	}
}

func writePlansTable(w io.Writer, r *syncer.PlansReport) {
	fmt.Fprintf(w, "RUN\t%s\n", r.RunID)
	fmt.Fprintln(w, "PLAN\tOUTCOME\tCOLLECTION\tCREATED\tSKIPPED")
	for _, plan := range r.Plans {
		created, skipped := 0, 0
		for _, event := range plan.Events {
			if event.Outcome == syncer.EventCreated {
				created++
			} else {
				skipped++
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", plan.Plan, plan.Outcome, plan.CollectionID, created, skipped)
	}
}
