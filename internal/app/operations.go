package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/flowmon/internal/csvlog"
	"github.com/srg/flowmon/internal/device"
	"github.com/srg/flowmon/internal/groutine"
	"github.com/srg/flowmon/internal/session"
	"github.com/srg/flowmon/scanner"
)

const scanLane = "scan"

// Scan starts a discovery on the worker. The result arrives on a later tick.
func (a *App) Scan() error {
	if a.shutdown {
		return ErrShuttingDown
	}
	if a.scanning {
		return ErrScanInProgress
	}

	timeout := a.cfg.ScanTimeout
	ok := a.worker.Submit(scanLane, "scan", func(ctx context.Context) {
		results, err := a.scanner.Discover(ctx, timeout)
		a.post(scanDone{results: results, err: err})
	})
	if !ok {
		return ErrShuttingDown
	}

	a.scanning = true
	a.status = "Scanning..."
	a.logger.WithField("timeout", timeout).Info("Scanning for " + a.markerLabel() + " devices...")
	return nil
}

// Scanning reports whether a scan is in flight.
func (a *App) Scanning() bool { return a.scanning }

// Available returns the devices found by the last successful scan.
func (a *App) Available() []scanner.Result {
	return append([]scanner.Result(nil), a.available...)
}

// AddDevice adds the index-th result of the last scan.
func (a *App) AddDevice(index int) (int, error) {
	if len(a.available) == 0 {
		return 0, ErrNoScanResults
	}
	if index < 0 || index >= len(a.available) {
		return 0, fmt.Errorf("%w: %d not in 0..%d", ErrInvalidSelection, index, len(a.available)-1)
	}
	r := a.available[index]
	return a.AddAddress(r.Address, r.Name)
}

// AddAddress adds a device by address. An empty name defaults to the address.
func (a *App) AddAddress(address, name string) (int, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return 0, device.ErrEmptyAddress
	}
	s, err := a.registry.Add(name, address)
	if err != nil {
		return 0, err
	}
	a.logger.WithFields(logrus.Fields{
		"device_id": s.ID(),
		"address":   s.Address(),
	}).Info("Added device " + s.Name())
	return s.ID(), nil
}

// ToggleConnection connects a disconnected device and disconnects a connected one.
func (a *App) ToggleConnection(id int) error {
	s, err := a.registry.Get(id)
	if err != nil {
		return err
	}
	if s.IsConnected() {
		return a.Disconnect(id)
	}
	return a.Connect(id)
}

// Connect dials the device on the worker. On success monitoring starts automatically.
func (a *App) Connect(id int) error {
	if a.shutdown {
		return ErrShuttingDown
	}
	s, err := a.registry.Get(id)
	if err != nil {
		return err
	}
	if err := s.BeginConnect(); err != nil {
		return err
	}

	address, timeout, started := s.Address(), a.cfg.ConnectTimeout, a.now()
	ok := a.worker.Submit(address, "connect", func(ctx context.Context) {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		link, err := a.transport.Dial(dialCtx, address)
		cancel()

		if err == nil && !link.IsConnected() {
			_ = link.Disconnect()
			link, err = nil, ErrNotConfirmed
		}
		if err == nil && ctx.Err() != nil {
			_ = link.Disconnect()
			link, err = nil, ctx.Err()
		}
		if !a.post(connectDone{id: id, link: link, err: err, started: started}) && link != nil {
			_ = link.Disconnect()
		}
	})
	if !ok {
		_ = s.ConnectFailed()
		return ErrShuttingDown
	}

	a.logger.WithField("address", address).Info("Connecting to " + s.Name() + "...")
	return nil
}

// Disconnect tears the device link down on the worker.
func (a *App) Disconnect(id int) error {
	s, err := a.registry.Get(id)
	if err != nil {
		return err
	}
	if err := s.BeginDisconnect(); err != nil {
		if s.Busy() {
			return err
		}
		return fmt.Errorf("%w: %w", device.ErrNotConnected, err)
	}

	link := a.links[id]
	teardown := func(context.Context) {
		var err error
		if link != nil {
			err = link.Disconnect()
		}
		a.post(disconnectDone{id: id, err: err})
	}
	if !a.worker.Submit(s.Address(), "disconnect", teardown) {
		teardown(context.Background())
	}

	a.logger.WithField("address", s.Address()).Info("Disconnecting from " + s.Name() + "...")
	return nil
}

// Reset clears the statistics of a device. The connection is untouched.
func (a *App) Reset(id int) error {
	s, err := a.registry.Get(id)
	if err != nil {
		return err
	}
	s.Reset()
	a.metrics.ResetDevice(s.Address())
	a.logger.WithField("device_id", id).Info("Reset statistics for " + s.Name())
	return nil
}

// CloseDevice removes a device. A connected device needs confirm; it is then
// disconnected first and removed once the disconnect completes, in which case
// closed is false.
func (a *App) CloseDevice(id int, confirm bool) (closed bool, err error) {
	s, err := a.registry.Get(id)
	if err != nil {
		return false, err
	}
	if s.Busy() {
		return false, session.ErrBusy
	}
	if s.IsConnected() {
		if !confirm {
			return false, ErrNeedsConfirmation
		}
		a.pendingClose[id] = true
		if err := a.Disconnect(id); err != nil {
			delete(a.pendingClose, id)
			return false, err
		}
		return false, nil
	}

	a.remove(s)
	return true, nil
}

func (a *App) remove(s *session.Session) {
	delete(a.pendingClose, s.ID())
	if err := a.registry.Remove(s.ID()); err != nil {
		return
	}
	a.metrics.ForgetDevice(s.Address())
	a.logger.WithField("device_id", s.ID()).Info("Closed " + s.Name())
}

// StartLogging opens a CSV log covering every connected device.
func (a *App) StartLogging() error {
	entries := a.entries()
	if len(entries) == 0 {
		return csvlog.ErrNoDevices
	}
	if err := a.csv.Start(entries); err != nil {
		return a.fail(KindLogging, 0, err, "Failed to start logging")
	}
	a.connectedIDs = a.registry.ConnectedIDs()
	return nil
}

// StopLogging closes the CSV log.
func (a *App) StopLogging() error {
	if err := a.csv.Stop(); err != nil {
		if errors.Is(err, csvlog.ErrNotActive) {
			return err
		}
		return a.fail(KindLogging, 0, err, "Failed to close CSV log")
	}
	return nil
}

func (a *App) ToggleLogging() error {
	if a.csv.Active() {
		return a.StopLogging()
	}
	return a.StartLogging()
}

// Logging reports whether a CSV log is open.
func (a *App) Logging() bool { return a.csv.Active() }

// LogPath is the current CSV file, empty when not logging.
func (a *App) LogPath() string { return a.csv.Path() }

func (a *App) entries() []csvlog.Entry {
	connected := a.registry.Connected()
	entries := make([]csvlog.Entry, len(connected))
	for i, s := range connected {
		entries[i] = csvlog.Entry{ID: s.ID(), Name: s.Name(), Stats: s.Stats()}
	}
	return entries
}

func (a *App) markerLabel() string {
	label := strings.TrimRight(a.cfg.NameMarker, "_")
	if label == "" {
		return "BLE"
	}
	return label
}

// startMonitoring raises the monitoring flag and subscribes on the worker.
func (a *App) startMonitoring(id int, started time.Time) {
	s, err := a.registry.Get(id)
	if err != nil {
		return
	}
	link := a.links[id]
	if link == nil {
		return
	}
	if err := s.BeginMonitoring(); err != nil {
		a.logger.WithError(err).WithField("device_id", id).Debug("Monitoring not started")
		return
	}

	flowUUID, totalUUID := a.cfg.FlowUUID, a.cfg.TotalUUID
	a.worker.Submit(s.Address(), "subscribe", func(context.Context) {
		err := link.Subscribe(flowUUID, a.notifier(id, flowUUID))
		var totalErr error
		if err == nil {
			totalErr = link.Subscribe(totalUUID, a.notifier(id, totalUUID))
		}
		a.post(monitorDone{id: id, err: err, totalErr: totalErr, started: started})
	})
}

// notifier timestamps payloads on the transport goroutine and posts them.
func (a *App) notifier(id int, uuid string) device.NotificationHandler {
	return func(data []byte) {
		at := a.now()
		payload := append([]byte(nil), data...)
		a.post(notification{id: id, uuid: uuid, data: payload, at: at})
	}
}

// watch posts linkLost when link goes away.
func (a *App) watch(id int, link device.Link) {
	groutine.Go(a.worker.Context(), "link-watch-"+link.Address(), func(ctx context.Context) {
		select {
		case <-link.Done():
			a.post(linkLost{id: id, link: link})
		case <-ctx.Done():
		}
	})
}
