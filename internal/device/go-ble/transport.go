package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/flowmon/internal/device"
	"github.com/srg/flowmon/internal/groutine"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Transport implements device.Transport on top of a go-ble HCI/CoreBluetooth device.
// One Transport owns one adapter; it is shared by every link it dials.
type Transport struct {
	dev    ble.Device
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewTransport opens the platform BLE adapter.
func NewTransport(logger *logrus.Logger) (*Transport, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	return &Transport{dev: dev, logger: logger}, nil
}

// Scan reports every advertisement seen until ctx is done.
// Duplicates are reported too; the caller collapses them by address.
func (t *Transport) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(device.Advertisement{
			Address: adv.Addr().String(),
			Name:    adv.LocalName(),
			RSSI:    adv.RSSI(),
		})
	}

	err := t.dev.Scan(ctx, true, bleHandler)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// go-ble only returns once ctx is done, so the context error marks a normal end of scan
		return nil
	}
	return NormalizeError(err)
}

// Dial connects to the peripheral and discovers its GATT profile.
func (t *Transport) Dial(ctx context.Context, address string) (device.Link, error) {
	if strings.TrimSpace(address) == "" {
		return nil, device.ErrEmptyAddress
	}

	t.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := t.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	t.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithError(cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	link := newLink(address, client, profile, t.logger)
	t.logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(profile.Services),
	}).Info("BLE device connected")
	return link, nil
}

// Close releases the adapter.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return nil
	}
	dev := t.dev
	t.dev = nil
	return NormalizeError(dev.Stop())
}

// link is a device.Link over a go-ble client.
type link struct {
	address string
	client  ble.Client
	profile *ble.Profile
	logger  *logrus.Logger

	mu        sync.Mutex
	connected bool
	done      chan struct{}
}

func newLink(address string, client ble.Client, profile *ble.Profile, logger *logrus.Logger) *link {
	l := &link{
		address:   address,
		client:    client,
		profile:   profile,
		logger:    logger,
		connected: true,
		done:      make(chan struct{}),
	}

	// Darwin and Linux clients report peripheral-side disconnects on Disconnected()
	if watcher, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-link-monitor", func(ctx context.Context) {
			select {
			case <-watcher.Disconnected():
				l.logger.WithField("address", l.address).Warn("Peripheral dropped the connection")
				l.markGone()
			case <-l.done:
			}
		})
	}
	return l
}

func (l *link) Address() string {
	return l.address
}

func (l *link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *link) Done() <-chan struct{} {
	return l.done
}

// Subscribe enables notifications (or indications) on the characteristic with the given UUID.
func (l *link) Subscribe(uuid string, handler device.NotificationHandler) error {
	if !l.IsConnected() {
		return device.ErrNotConnected
	}

	char := l.findCharacteristic(uuid)
	if char == nil {
		return fmt.Errorf("%w: %s", device.ErrNotFound, uuid)
	}

	indicate := char.Property&ble.CharNotify == 0 && char.Property&ble.CharIndicate != 0
	if char.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("characteristic %s does not support notifications", uuid)
	}

	if err := l.client.Subscribe(char, indicate, func(data []byte) {
		handler(data)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", uuid, NormalizeError(err))
	}

	l.logger.WithFields(logrus.Fields{
		"address":   l.address,
		"char_uuid": uuid,
	}).Debug("Subscribed to characteristic notifications")
	return nil
}

// Disconnect clears subscriptions and cancels the connection. Repeated calls are no-ops.
func (l *link) Disconnect() error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return nil
	}
	l.connected = false
	close(l.done)
	l.mu.Unlock()

	if err := l.client.ClearSubscriptions(); err != nil {
		l.logger.WithError(err).Warn("Failed to clear subscriptions during disconnect")
	}
	return NormalizeError(l.client.CancelConnection())
}

func (l *link) markGone() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connected {
		l.connected = false
		close(l.done)
	}
}

func (l *link) findCharacteristic(uuid string) *ble.Characteristic {
	for _, svc := range l.profile.Services {
		for _, char := range svc.Characteristics {
			if device.SameUUID(char.UUID.String(), uuid) {
				return char
			}
		}
	}
	return nil
}
