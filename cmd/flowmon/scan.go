package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/flowmon/internal/devicefactory"
	"github.com/srg/flowmon/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for flow sensors",
	Long: `Scan for BLE devices whose advertised name contains the configured
marker (FLOW_LOGGER_ by default) and print them sorted by name.

Use --all to list every named device instead.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanAll       bool
	scanAllowList []string
	scanBlockList []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "List every named device, not only flow sensors")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format := cfg.OutputFormat
	if scanFormat != "" {
		format = scanFormat
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// arguments are valid, runtime errors should not print usage
	cmd.SilenceUsage = true

	opts := &scanner.ScanOptions{
		Duration:  cfg.ScanTimeout,
		Marker:    cfg.NameMarker,
		AllowList: scanAllowList,
		BlockList: scanBlockList,
	}
	if scanDuration > 0 {
		opts.Duration = scanDuration
	}
	if scanAll {
		opts.Marker = ""
	}

	transport, err := devicefactory.TransportFactory(logger)
	if err != nil {
		return fmt.Errorf("failed to open BLE adapter: %w", err)
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logger.WithError(err).Debug("Adapter close failed")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for devices", opts.Duration, "Processing results")
	progress.Start()
	results, err := scanner.NewScanner(transport, opts.Marker, logger).Scan(ctx, opts, progress.Callback())
	progress.Stop()
	if err != nil {
		return err
	}

	if format == "json" {
		return displayResultsJSON(cmd.OutOrStdout(), results)
	}
	return displayResultsTable(cmd.OutOrStdout(), results)
}

func displayResultsTable(out io.Writer, results []scanner.Result) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(out, "No devices discovered")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tADDRESS\tRSSI")
	fmt.Fprintln(w, strings.Repeat("-", 56))
	for i, r := range results {
		name := r.Name
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d dBm\n", i+1, name, r.Address, r.RSSI)
	}
	return w.Flush()
}

func displayResultsJSON(out io.Writer, results []scanner.Result) error {
	if results == nil {
		results = []scanner.Result{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}

