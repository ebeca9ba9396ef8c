package session

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrBusy is returned while a connect or disconnect for the session is in flight.
	ErrBusy = errors.New("device is busy")
	// ErrNotMonitoring is returned for notifications that arrive outside the Monitoring state.
	ErrNotMonitoring = errors.New("device is not monitoring")
	// ErrInvalidTransition is returned for a state change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// DefaultCapacity is the number of samples a session keeps.
const DefaultCapacity = 500

// Sample is a single flow reading, timestamped when the notification arrived.
type Sample struct {
	Time  time.Time
	Value float64
}

// Stats are the running flow statistics of a session.
type Stats struct {
	Current float64
	Min     float64 // +Inf until the first sample
	Max     float64 // -Inf until the first sample
	Avg     float64
	Volume  float64 // litres
	Count   int
}

// HasData reports whether min and max hold real readings.
func (s Stats) HasData() bool {
	return !math.IsInf(s.Min, 1) && !math.IsInf(s.Max, -1)
}

// Snapshot is a read-only copy of a session for presentation and logging.
type Snapshot struct {
	ID         int
	Name       string
	Address    string
	Color      string
	State      State
	Monitoring bool
	Busy       bool
	Stats      Stats
	Samples    []Sample
}

// Session is one monitored flow sensor. It is owned by the UI loop.
type Session struct {
	id      int
	name    string
	address string
	color   string

	state      State
	monitoring bool
	busy       bool

	samples *Buffer[Sample]
	stats   Stats
}

// New creates a disconnected session with empty statistics.
func New(id int, name, address, color string, capacity int) *Session {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Session{
		id:      id,
		name:    name,
		address: address,
		color:   color,
		state:   Disconnected,
		samples: NewBuffer[Sample](capacity),
	}
	s.clearStats()
	return s
}

func (s *Session) ID() int           { return s.id }
func (s *Session) Name() string      { return s.name }
func (s *Session) Address() string   { return s.address }
func (s *Session) Color() string     { return s.color }
func (s *Session) State() State      { return s.state }
func (s *Session) Monitoring() bool  { return s.monitoring }
func (s *Session) Busy() bool        { return s.busy }
func (s *Session) Stats() Stats      { return s.stats }
func (s *Session) Samples() []Sample { return s.samples.Slice() }
func (s *Session) IsConnected() bool { return s.state.Linked() }
func (s *Session) String() string    { return fmt.Sprintf("%s (%s)", s.name, s.address) }

func (s *Session) transition(to State) error {
	if !canTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to
	return nil
}

// BeginConnect moves a disconnected session to Connecting and marks it busy.
func (s *Session) BeginConnect() error {
	if s.busy {
		return ErrBusy
	}
	if err := s.transition(Connecting); err != nil {
		return err
	}
	s.busy = true
	return nil
}

// ConnectSucceeded records a connection the transport confirmed as up.
func (s *Session) ConnectSucceeded() error {
	if err := s.transition(Connected); err != nil {
		return err
	}
	s.busy = false
	return nil
}

// ConnectFailed passes through Failed back to Disconnected. There is no retry.
func (s *Session) ConnectFailed() error {
	if err := s.transition(Failed); err != nil {
		return err
	}
	s.busy = false
	return s.transition(Disconnected)
}

// BeginMonitoring raises the monitoring flag ahead of subscribing so that
// notifications racing the subscription result are accepted.
func (s *Session) BeginMonitoring() error {
	if err := s.transition(Monitoring); err != nil {
		return err
	}
	s.monitoring = true
	return nil
}

// MonitoringFailed reverts BeginMonitoring. The connection is kept.
func (s *Session) MonitoringFailed() error {
	if s.state != Monitoring {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, Connected)
	}
	s.monitoring = false
	return s.transition(Connected)
}

// BeginDisconnect clears monitoring and marks the session busy until MarkDisconnected.
func (s *Session) BeginDisconnect() error {
	if s.busy {
		return ErrBusy
	}
	if !s.state.Linked() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, Disconnected)
	}
	s.monitoring = false
	if s.state == Monitoring {
		s.state = Connected
	}
	s.busy = true
	return nil
}

// MarkDisconnected ends any link state. Teardown errors do not prevent it.
func (s *Session) MarkDisconnected() {
	s.monitoring = false
	s.busy = false
	if s.state == Failed || s.state == Disconnected {
		s.state = Disconnected
		return
	}
	_ = s.transition(Disconnected)
}

// Ingest parses a notification payload received at the given time and applies it.
func (s *Session) Ingest(data []byte, at time.Time) (Sample, error) {
	if s.state != Monitoring || !s.monitoring {
		return Sample{}, ErrNotMonitoring
	}
	value, err := ParseFlow(data)
	if err != nil {
		return Sample{}, err
	}
	sample := Sample{Time: at, Value: value}
	s.Apply(sample)
	return sample, nil
}

// Apply appends the sample and updates the statistics.
// Volume integrates with the left-endpoint rule: the new value times the gap to the previous sample.
func (s *Session) Apply(sample Sample) {
	prev, hasPrev := s.samples.Last()
	s.samples.Push(sample)

	s.stats.Current = sample.Value
	s.stats.Min = math.Min(s.stats.Min, sample.Value)
	s.stats.Max = math.Max(s.stats.Max, sample.Value)
	s.stats.Count++

	var sum float64
	s.samples.Each(func(v Sample) { sum += v.Value })
	s.stats.Avg = sum / float64(s.samples.Len())

	if hasPrev {
		if dt := sample.Time.Sub(prev.Time); dt > 0 {
			s.stats.Volume += sample.Value * dt.Minutes()
		}
	}
}

// Reset empties the sample buffer and statistics. The connection state is untouched.
func (s *Session) Reset() {
	s.samples.Reset()
	s.clearStats()
}

func (s *Session) clearStats() {
	s.stats = Stats{Min: math.Inf(1), Max: math.Inf(-1)}
}

// Snapshot copies the session for readers outside the UI loop.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:         s.id,
		Name:       s.name,
		Address:    s.address,
		Color:      s.color,
		State:      s.state,
		Monitoring: s.monitoring,
		Busy:       s.busy,
		Stats:      s.stats,
		Samples:    s.samples.Slice(),
	}
}
