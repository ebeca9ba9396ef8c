package app

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/srg/flowmon/internal/csvlog"
	"github.com/srg/flowmon/internal/device"
	"github.com/srg/flowmon/internal/session"
)

// handle runs on the UI loop for every drained message.
func (a *App) handle(m message) {
	switch msg := m.(type) {
	case invoke:
		msg.fn()
	case scanDone:
		a.onScanDone(msg)
	case connectDone:
		a.onConnectDone(msg)
	case monitorDone:
		a.onMonitorDone(msg)
	case disconnectDone:
		a.onDisconnectDone(msg)
	case linkLost:
		a.onLinkLost(msg)
	case notification:
		a.onNotification(msg)
	default:
		a.logger.WithField("type", fmt.Sprintf("%T", m)).Error("Unknown message")
	}
}

func (a *App) onScanDone(msg scanDone) {
	a.scanning = false
	if msg.err != nil {
		// previous results stay selectable
		a.status = "Scan failed"
		a.fail(KindDiscovery, 0, msg.err, "Scan failed")
		return
	}

	a.available = msg.results
	if len(msg.results) == 0 {
		a.status = "No " + a.markerLabel() + " devices found"
	} else {
		a.status = fmt.Sprintf("Found %d %s devices", len(msg.results), a.markerLabel())
	}
	a.logger.Info(a.status)
}

func (a *App) onConnectDone(msg connectDone) {
	s, err := a.registry.Get(msg.id)
	if err != nil {
		if msg.link != nil {
			a.dropLink(msg.link)
		}
		return
	}

	if msg.err != nil {
		_ = s.ConnectFailed()
		a.status = "Connection failed: " + s.Name()
		a.fail(KindConnection, msg.id, msg.err, "Connection failed for "+s.Name())
		return
	}
	if a.shutdown {
		_ = s.ConnectFailed()
		a.dropLink(msg.link)
		return
	}

	if err := s.ConnectSucceeded(); err != nil {
		a.logger.WithError(err).Error("Unexpected connect result")
		a.dropLink(msg.link)
		return
	}
	a.links[msg.id] = msg.link
	a.watch(msg.id, msg.link)
	a.status = "Connected: " + s.Name()
	a.logger.WithField("address", s.Address()).Info("Connected to " + s.Name())

	a.startMonitoring(msg.id, msg.started)
	a.connectedSetChanged()
}

func (a *App) onMonitorDone(msg monitorDone) {
	s, err := a.registry.Get(msg.id)
	if err != nil {
		return
	}

	if msg.err != nil {
		if s.State() == session.Monitoring {
			_ = s.MonitoringFailed()
		}
		a.fail(KindSubscription, msg.id, msg.err, "Failed to start monitoring "+s.Name())
		return
	}
	if msg.totalErr != nil {
		a.logger.WithError(msg.totalErr).WithField("device_id", msg.id).Warn("Total channel unavailable for " + s.Name())
	}
	if s.Monitoring() {
		a.metrics.ObserveConnect(a.now().Sub(msg.started))
		a.logger.WithField("device_id", msg.id).Info("Monitoring " + s.Name())
	}
}

func (a *App) onDisconnectDone(msg disconnectDone) {
	delete(a.links, msg.id)
	s, err := a.registry.Get(msg.id)
	if err != nil {
		return
	}

	s.MarkDisconnected()
	if msg.err != nil {
		a.fail(KindTeardown, msg.id, msg.err, "Disconnect error for "+s.Name())
	}
	a.status = "Disconnected: " + s.Name()
	a.logger.WithField("address", s.Address()).Info("Disconnected from " + s.Name())

	if a.pendingClose[msg.id] {
		a.remove(s)
	}
	a.connectedSetChanged()
}

func (a *App) onLinkLost(msg linkLost) {
	if a.links[msg.id] != msg.link {
		return
	}
	s, err := a.registry.Get(msg.id)
	if err != nil || s.Busy() {
		// a requested disconnect reports through disconnectDone
		return
	}

	delete(a.links, msg.id)
	s.MarkDisconnected()
	a.dropLink(msg.link)
	a.status = "Connection lost: " + s.Name()
	a.fail(KindConnection, msg.id, device.ErrNotConnected, s.Name()+" disconnected unexpectedly")
	a.connectedSetChanged()
}

func (a *App) onNotification(msg notification) {
	s, err := a.registry.Get(msg.id)
	if err != nil {
		return
	}
	if !device.SameUUID(msg.uuid, a.cfg.FlowUUID) {
		// the total channel is received but not used
		return
	}

	sample, err := s.Ingest(msg.data, msg.at)
	switch {
	case errors.Is(err, session.ErrNotMonitoring):
		return
	case errors.Is(err, session.ErrParse):
		a.metrics.ParseError(s.Address())
		a.fail(KindParse, msg.id, err, "Error parsing data from "+s.Name())
		return
	case err != nil:
		a.logger.WithError(err).Error("Unexpected sample error")
		return
	}

	stats := s.Stats()
	a.metrics.ObserveSample(s.Address(), stats.Current, stats.Volume)
	a.logger.WithFields(logrus.Fields{
		"device_id": msg.id,
		"flow":      sample.Value,
	}).Trace("Sample")

	if !a.csv.Active() {
		return
	}
	wrote, err := a.csv.OnSample(sample.Time, a.entries())
	if err != nil {
		a.fail(KindLogging, 0, err, "CSV write error")
		return
	}
	if wrote {
		a.metrics.CSVRow()
	}
}

// connectedSetChanged keeps logging and dashboard refresh in line with the set
// of connected devices: a changed set rotates the CSV file, an empty set stops
// logging and refresh.
func (a *App) connectedSetChanged() {
	ids := a.registry.ConnectedIDs()
	a.metrics.SetConnected(len(ids))
	a.refreshing = len(ids) > 0 && !a.shutdown

	if slices.Equal(ids, a.connectedIDs) {
		return
	}
	a.connectedIDs = ids

	if !a.csv.Active() {
		return
	}
	if len(ids) == 0 {
		if err := a.csv.Stop(); err != nil {
			a.fail(KindLogging, 0, err, "Failed to close CSV log")
		}
		a.logger.Info("Logging stopped: no connected devices")
		return
	}
	if err := a.csv.Rotate(a.entries()); err != nil && !errors.Is(err, csvlog.ErrNotActive) {
		a.fail(KindLogging, 0, err, "Failed to rotate CSV log")
	}
}

// dropLink disconnects a link the UI loop no longer tracks.
func (a *App) dropLink(link device.Link) {
	teardown := func() {
		if err := link.Disconnect(); err != nil {
			a.logger.WithError(err).WithField("address", link.Address()).Debug("Stale link disconnect failed")
		}
	}
	if !a.worker.Submit(link.Address(), "drop", func(_ context.Context) { teardown() }) {
		teardown()
	}
}
