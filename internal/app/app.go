// Package app is the flowmon application context.
//
// App owns the device registry, the scan list, the CSV logger and the event
// log. All of that state belongs to a single UI loop goroutine: Run, or a test
// calling the operations and Tick directly. Background work runs on a
// bridge.Worker and reports back as typed messages over a bridge.Bridge, which
// the UI loop drains once per tick. Other goroutines reach the UI loop with
// Invoke or Call.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/flowmon/bridge"
	"github.com/srg/flowmon/internal/csvlog"
	"github.com/srg/flowmon/internal/dashboard"
	"github.com/srg/flowmon/internal/device"
	"github.com/srg/flowmon/internal/eventlog"
	"github.com/srg/flowmon/internal/metrics"
	"github.com/srg/flowmon/internal/registry"
	"github.com/srg/flowmon/pkg/config"
	"github.com/srg/flowmon/scanner"
)

const (
	workerStopTimeout = 5 * time.Second
	eventLines        = 8
)

// Options configures an App. Transport is required.
type Options struct {
	Config    *config.Config
	Transport device.Transport
	Logger    *logrus.Logger
	Events    *eventlog.Log    // created and hooked into Logger when nil
	Metrics   *metrics.Metrics // created when nil
	Now       func() time.Time
}

// App is the application context.
type App struct {
	cfg       *config.Config
	transport device.Transport
	logger    *logrus.Logger
	events    *eventlog.Log
	metrics   *metrics.Metrics
	now       func() time.Time

	registry *registry.Registry
	scanner  *scanner.Scanner
	csv      *csvlog.Logger
	worker   *bridge.Worker
	bridge   *bridge.Bridge[message]

	// UI loop state
	links        map[int]device.Link
	available    []scanner.Result
	scanning     bool
	status       string
	refreshing   bool
	connectedIDs []int
	pendingClose map[int]bool
	lastFailure  *Failure
	shutdown     bool

	quitOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

// New creates an App and starts its worker.
func New(opts Options) (*App, error) {
	if opts.Transport == nil {
		return nil, device.ErrNoTransport
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = cfg.NewLogger()
	}
	events := opts.Events
	if events == nil {
		events = eventlog.New(cfg.EventLogSize)
		logger.AddHook(events)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &App{
		cfg:          cfg,
		transport:    opts.Transport,
		logger:       logger,
		events:       events,
		metrics:      m,
		now:          now,
		registry:     registry.New(cfg.BufferCapacity),
		scanner:      scanner.NewScanner(opts.Transport, cfg.NameMarker, logger),
		csv:          csvlog.New(cfg.LogDir, cfg.RowInterval, logger),
		worker:       bridge.NewWorker(context.Background(), logger),
		bridge:       bridge.New[message](),
		links:        make(map[int]device.Link),
		pendingClose: make(map[int]bool),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

// Run drives the UI loop until ctx is done or Quit is called, then shuts down.
// render is called after every tick that changed state, and on every tick while
// any device is connected.
func (a *App) Run(ctx context.Context, render func(dashboard.View)) error {
	ticker := time.NewTicker(a.cfg.RefreshInterval)
	defer ticker.Stop()

	draw := func(force bool) {
		if render != nil && (force || a.refreshing) {
			render(a.View())
		}
	}
	draw(true)

	for {
		select {
		case <-ctx.Done():
			a.Shutdown()
			return nil
		case <-a.quit:
			a.Shutdown()
			return nil
		case <-a.bridge.Ready():
			if a.Tick() > 0 {
				draw(true)
			}
		case <-ticker.C:
			draw(a.Tick() > 0)
		}
	}
}

// Tick drains the bridge on the UI loop and returns the number of messages handled.
func (a *App) Tick() int {
	n := a.bridge.Drain(a.handle)
	a.metrics.SetQueueLength(a.bridge.Len())
	if a.events.Drain() != nil {
		n++
	}
	return n
}

// Invoke schedules fn on the UI loop. Returns false after shutdown.
func (a *App) Invoke(fn func()) bool {
	return a.bridge.Post(invoke{fn: fn})
}

// Call runs fn on the UI loop and waits for its result.
func (a *App) Call(fn func() error) error {
	result := make(chan error, 1)
	if !a.Invoke(func() { result <- fn() }) {
		return ErrShuttingDown
	}
	select {
	case err := <-result:
		return err
	case <-a.done:
		return ErrShuttingDown
	}
}

// Quit asks Run to shut down. Safe from any goroutine.
func (a *App) Quit() {
	a.quitOnce.Do(func() { close(a.quit) })
}

// Done is closed when Shutdown has finished.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// Shutdown tears the application down: refresh stops, every connected device is
// asked to disconnect, logging closes, the worker stops and the bridge closes.
// Repeated calls are no-ops.
func (a *App) Shutdown() {
	if a.shutdown {
		return
	}
	a.shutdown = true
	a.refreshing = false
	a.logger.Info("Shutting down...")

	for _, s := range a.registry.All() {
		if s.IsConnected() && !s.Busy() {
			if err := a.Disconnect(s.ID()); err != nil {
				a.logger.WithError(err).WithField("device", s.Name()).Warn("Failed to request disconnect")
			}
		}
	}

	if a.csv.Active() {
		if err := a.csv.Stop(); err != nil {
			a.fail(KindLogging, 0, err, "Failed to close CSV log")
		}
	}

	if err := a.worker.Stop(workerStopTimeout); err != nil {
		a.logger.WithError(err).Warn("Background work did not finish")
	}

	// results of the final disconnects
	a.bridge.Drain(a.handle)
	a.bridge.Close()
	a.events.Drain()
	close(a.done)
}

// View is the read-only state the dashboard renders.
func (a *App) View() dashboard.View {
	events := a.events.Recent(eventLines)
	lines := make([]string, len(events))
	for i, e := range events {
		lines[i] = e.String()
	}
	return dashboard.View{
		Now:       a.now(),
		Devices:   a.registry.Snapshots(),
		Available: len(a.available),
		Logging:   a.csv.Active(),
		LogPath:   a.csv.Path(),
		Status:    a.status,
		Events:    lines,
	}
}

// Refreshing reports whether the dashboard redraws every tick.
func (a *App) Refreshing() bool { return a.refreshing }

// Status is the latest user-facing status line.
func (a *App) Status() string { return a.status }

// LastFailure is the most recent classified failure, or nil.
func (a *App) LastFailure() *Failure { return a.lastFailure }

// Metrics returns the metrics the app reports to.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Registry exposes the session arena for read-only use on the UI loop.
func (a *App) Registry() *registry.Registry { return a.registry }

func (a *App) post(m message) bool {
	return a.bridge.Post(m)
}

func (a *App) fail(kind Kind, id int, err error, msg string) *Failure {
	f := &Failure{Kind: kind, DeviceID: id, Err: err}
	a.lastFailure = f
	a.metrics.Failure(string(kind))

	entry := a.logger.WithField("kind", kind).WithError(err)
	if id > 0 {
		entry = entry.WithField("device_id", id)
	}
	if errors.Is(err, context.Canceled) {
		entry.Debug(msg)
	} else {
		entry.Warn(msg)
	}
	return f
}
