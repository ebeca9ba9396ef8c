package app

import (
	"errors"
	"fmt"
)

// Kind classifies a recoverable failure. None is fatal and none is retried.
type Kind string

const (
	KindDiscovery    Kind = "discovery"
	KindConnection   Kind = "connection"
	KindSubscription Kind = "subscription"
	KindParse        Kind = "parse"
	KindTeardown     Kind = "teardown"
	KindLogging      Kind = "logging"
)

var (
	ErrShuttingDown      = errors.New("application is shutting down")
	ErrScanInProgress    = errors.New("scan already in progress")
	ErrNoScanResults     = errors.New("no scan results, run a scan first")
	ErrInvalidSelection  = errors.New("invalid device selection")
	ErrNeedsConfirmation = errors.New("device is connected, confirm to disconnect and close")
	ErrNotConfirmed      = errors.New("transport did not confirm the connection")
)

// Failure is a classified error raised by background work or a UI operation.
type Failure struct {
	Kind     Kind
	DeviceID int // 0 when no device is involved
	Err      error
}

func (f *Failure) Error() string {
	if f.DeviceID > 0 {
		return fmt.Sprintf("%s failure (device #%d): %v", f.Kind, f.DeviceID, f.Err)
	}
	return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches another *Failure of the same kind; a zero DeviceID in target matches any device.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return t.Kind == f.Kind && (t.DeviceID == 0 || t.DeviceID == f.DeviceID)
}
