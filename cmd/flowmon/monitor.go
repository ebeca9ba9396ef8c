package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/flowmon/internal/app"
	"github.com/srg/flowmon/internal/csvlog"
	"github.com/srg/flowmon/internal/dashboard"
	"github.com/srg/flowmon/internal/device"
	"github.com/srg/flowmon/internal/devicefactory"
	"github.com/srg/flowmon/internal/groutine"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the live flow dashboard",
	Long: `Run the live dashboard. Devices given with --device are added and
connected at start; more can be found with the 'scan' and 'add' shell commands.

The dashboard redraws while any device is connected. With --log a CSV file
is opened as soon as the first device is monitoring.`,
	Example: `  flowmon monitor
  flowmon monitor --device AA:BB:CC:DD:EE:01=Kitchen --log
  flowmon monitor --no-shell --device AA:BB:CC:DD:EE:01 --metrics-addr :9102`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var (
	monitorDevices     []string
	monitorLog         bool
	monitorNoShell     bool
	monitorMetricsAddr string
	monitorLogDir      string
)

func init() {
	monitorCmd.Flags().StringArrayVar(&monitorDevices, "device", nil, "Device to add and connect, as ADDR[=NAME] (repeatable)")
	monitorCmd.Flags().BoolVar(&monitorLog, "log", false, "Start CSV logging once a device is monitoring")
	monitorCmd.Flags().BoolVar(&monitorNoShell, "no-shell", false, "Do not read commands from stdin")
	monitorCmd.Flags().StringVar(&monitorMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	monitorCmd.Flags().StringVar(&monitorLogDir, "log-dir", "", "Directory for CSV logs (default from config)")
}

// monitorOptions is what runMonitor hands to monitor after flag parsing.
type monitorOptions struct {
	devices []string
	log     bool
	shell   bool
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if monitorMetricsAddr != "" {
		cfg.MetricsAddr = monitorMetricsAddr
	}
	if monitorLogDir != "" {
		cfg.LogDir = monitorLogDir
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	for _, entry := range monitorDevices {
		if _, _, err := device.SplitAddressName(entry); err != nil {
			return err
		}
	}
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	renderOpts := dashboard.TerminalOptions(int(os.Stdout.Fd()), cfg.GraphWindow)
	if renderOpts.Clear {
		// the events panel shows warnings; raw log lines would tear the frame
		logger.SetOutput(io.Discard)
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

	a, err := app.New(app.Options{Config: cfg, Transport: transport, Logger: logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		groutine.Go(ctx, "metrics-server", func(ctx context.Context) {
			if err := a.Metrics().Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.WithError(err).Error("Metrics endpoint failed")
			}
		})
	}

	opts := monitorOptions{devices: monitorDevices, log: monitorLog, shell: !monitorNoShell}
	return monitor(ctx, a, opts, dashboard.NewRenderer(out, renderOpts), cmd.InOrStdin(), out, logger)
}

// monitor adds the requested devices and runs the UI loop until ctx ends or
// the shell quits.
func monitor(ctx context.Context, a *app.App, opts monitorOptions, r *dashboard.Renderer, in io.Reader, out io.Writer, logger *logrus.Logger) error {
	// the loop is not running yet, so the app can be driven directly
	for _, entry := range opts.devices {
		address, name, err := device.SplitAddressName(entry)
		if err != nil {
			return err
		}
		id, err := a.AddAddress(address, name)
		if err != nil {
			return err
		}
		if err := a.Connect(id); err != nil {
			return err
		}
	}

	if opts.log {
		groutine.Go(ctx, "auto-log", func(ctx context.Context) {
			startLoggingWhenConnected(ctx, a, logger)
		})
	}

	render := func(v dashboard.View) {
		if err := r.Draw(v); err != nil {
			logger.WithError(err).Debug("Dashboard draw failed")
		}
	}
	if opts.shell {
		// frames would overwrite the prompt, 'show' draws on demand
		sh := newShell(a, in, out, r)
		render = func(dashboard.View) {}
		groutine.Go(ctx, "shell", func(context.Context) {
			if err := sh.run(); err != nil {
				logger.WithError(err).Error("Shell input failed")
			}
			a.Quit()
		})
	}

	return a.Run(ctx, render)
}

// startLoggingWhenConnected polls the UI loop until a device is connected and
// a CSV log could be opened.
func startLoggingWhenConnected(ctx context.Context, a *app.App, logger *logrus.Logger) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.Done():
			return
		case <-ticker.C:
		}

		err := a.Call(func() error {
			if a.Logging() {
				return nil
			}
			return a.StartLogging()
		})
		switch {
		case err == nil:
			return
		case errors.Is(err, csvlog.ErrNoDevices):
			continue
		case errors.Is(err, app.ErrShuttingDown):
			return
		default:
			logger.WithError(err).Warn("Automatic logging failed")
			return
		}
	}
}
