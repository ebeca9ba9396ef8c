package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	ConnectFailed    ConnectionState = "connect_failed"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrConnectFailed    = &ConnectionError{State: ConnectFailed}
)

// Operation errors
var (
	ErrBluetoothOff  = errors.New("bluetooth is turned off")
	ErrTimeout       = errors.New("timeout")
	ErrNotFound      = errors.New("characteristic not found")
	ErrEmptyAddress  = errors.New("device address is empty")
	ErrNoTransport   = errors.New("no BLE transport available")
	ErrUnsupportedOS = errors.New("BLE is not supported on this platform")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Advertisement is a single discovery hit reported by a Scanner.
type Advertisement struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi"`
}

// NotificationHandler receives the raw payload of a characteristic notification.
// It is invoked on a transport-owned goroutine.
type NotificationHandler func(data []byte)

// Scanner represents a BLE adapter capable of scanning for advertisements.
// Scan blocks until ctx is done; a context error at the end of the scan is not a failure.
type Scanner interface {
	Scan(ctx context.Context, handler func(Advertisement)) error
}

// Transport is the BLE central capability used by flowmon.
type Transport interface {
	Scanner

	// Dial connects to the peripheral at address. ctx carries the connect timeout.
	Dial(ctx context.Context, address string) (Link, error)

	// Close releases the adapter. Links dialed through it must be disconnected first.
	Close() error
}

// Link is a live connection to one peripheral.
type Link interface {
	Address() string
	IsConnected() bool
	Subscribe(uuid string, handler NotificationHandler) error
	Disconnect() error

	// Done is closed once the link is gone, whether by Disconnect or by the peripheral.
	Done() <-chan struct{}
}

// SplitAddressName parses the ADDR[=NAME] form used by --device flags.
func SplitAddressName(entry string) (address, name string, err error) {
	address, name, _ = strings.Cut(strings.TrimSpace(entry), "=")
	address = strings.TrimSpace(address)
	name = strings.TrimSpace(name)
	if address == "" {
		return "", "", fmt.Errorf("invalid device %q: %w", entry, ErrEmptyAddress)
	}
	if name == "" {
		name = address
	}
	return address, name, nil
}
