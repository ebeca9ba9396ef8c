package testutils

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/srg/flowmon/internal/device"
)

// FakeTransport is a scriptable in-memory device.Transport.
//
// Scan replays the configured advertisements and returns at once unless
// BlockScan is set. Dial hands out FakeLinks, one per address, which tests
// drive with Notify and Drop.
type FakeTransport struct {
	mu sync.Mutex

	adverts   []device.Advertisement
	scanErr   error
	blockScan bool

	dialErr      map[string]error
	dialGate     map[string]chan struct{}
	unconfirmed  map[string]bool
	subscribeErr map[string]map[string]error

	links  map[string]*FakeLink
	dials  []string
	scans  int
	closed bool
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		dialErr:      make(map[string]error),
		dialGate:     make(map[string]chan struct{}),
		unconfirmed:  make(map[string]bool),
		subscribeErr: make(map[string]map[string]error),
		links:        make(map[string]*FakeLink),
	}
}

// WithAdvertisements sets what the next scans report.
func (f *FakeTransport) WithAdvertisements(adverts ...device.Advertisement) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adverts = append([]device.Advertisement(nil), adverts...)
	return f
}

// BlockScan makes Scan wait for its context like a real adapter does.
func (f *FakeTransport) BlockScan() *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockScan = true
	return f
}

func (f *FakeTransport) FailScan(err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanErr = err
	return f
}

func (f *FakeTransport) FailDial(address string, err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialErr[key(address)] = err
	return f
}

// HoldDial blocks dials to address until the returned release func is called
// or the dial context ends.
func (f *FakeTransport) HoldDial(address string) (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.dialGate[key(address)] = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Unconfirmed makes dials to address succeed while the link reports not connected.
func (f *FakeTransport) Unconfirmed(address string) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unconfirmed[key(address)] = true
	return f
}

func (f *FakeTransport) FailSubscribe(address, uuid string, err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr[key(address)] == nil {
		f.subscribeErr[key(address)] = make(map[string]error)
	}
	f.subscribeErr[key(address)][device.NormalizeUUID(uuid)] = err
	return f
}

func (f *FakeTransport) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	f.mu.Lock()
	f.scans++
	adverts := append([]device.Advertisement(nil), f.adverts...)
	scanErr, block := f.scanErr, f.blockScan
	f.mu.Unlock()

	if scanErr != nil {
		return scanErr
	}
	for _, adv := range adverts {
		handler(adv)
	}
	if block {
		<-ctx.Done()
	}
	return nil
}

func (f *FakeTransport) Dial(ctx context.Context, address string) (device.Link, error) {
	if strings.TrimSpace(address) == "" {
		return nil, device.ErrEmptyAddress
	}

	f.mu.Lock()
	f.dials = append(f.dials, address)
	gate := f.dialGate[key(address)]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, device.ErrNoTransport
	}
	if err := f.dialErr[key(address)]; err != nil {
		return nil, err
	}

	link := &FakeLink{
		address:      address,
		connected:    !f.unconfirmed[key(address)],
		handlers:     make(map[string]device.NotificationHandler),
		subscribeErr: f.subscribeErr[key(address)],
		done:         make(chan struct{}),
	}
	f.links[key(address)] = link
	return link, nil
}

func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Link returns the most recent link dialed to address, or nil.
func (f *FakeTransport) Link(address string) *FakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[key(address)]
}

// Dials lists every dialed address in order.
func (f *FakeTransport) Dials() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dials...)
}

func (f *FakeTransport) Scans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

func (f *FakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func key(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// ErrLinkClosed is returned by Notify on a link that is gone.
var ErrLinkClosed = errors.New("fake link closed")

// FakeLink is a device.Link driven by the test.
type FakeLink struct {
	address string

	mu            sync.Mutex
	connected     bool
	handlers      map[string]device.NotificationHandler
	subscribeErr  map[string]error
	disconnectErr error
	disconnects   int
	done          chan struct{}
}

func (l *FakeLink) Address() string { return l.address }

func (l *FakeLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *FakeLink) Done() <-chan struct{} { return l.done }

func (l *FakeLink) Subscribe(uuid string, handler device.NotificationHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return device.ErrNotConnected
	}
	if err := l.subscribeErr[device.NormalizeUUID(uuid)]; err != nil {
		return err
	}
	l.handlers[device.NormalizeUUID(uuid)] = handler
	return nil
}

// FailDisconnect makes Disconnect report err after tearing the link down.
func (l *FakeLink) FailDisconnect(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnectErr = err
}

func (l *FakeLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnects++
	if l.connected {
		l.connected = false
		close(l.done)
	}
	return l.disconnectErr
}

// Disconnects counts Disconnect calls.
func (l *FakeLink) Disconnects() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnects
}

// Subscribed reports whether a handler is registered for uuid.
func (l *FakeLink) Subscribed(uuid string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.handlers[device.NormalizeUUID(uuid)]
	return ok
}

// Notify delivers payload to the uuid handler on the calling goroutine.
func (l *FakeLink) Notify(uuid string, payload []byte) error {
	l.mu.Lock()
	handler, ok := l.handlers[device.NormalizeUUID(uuid)]
	connected := l.connected
	l.mu.Unlock()

	if !connected {
		return ErrLinkClosed
	}
	if !ok {
		return device.ErrNotFound
	}
	handler(payload)
	return nil
}

// Drop simulates the peripheral going away.
func (l *FakeLink) Drop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connected {
		l.connected = false
		close(l.done)
	}
}
