package session

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type SessionTestSuite struct {
	suite.Suite
	sess *Session
	t0   time.Time
}

func (s *SessionTestSuite) SetupTest() {
	s.sess = New(1, "FLOW_LOGGER_1", "AA:BB:CC:DD:EE:01", "#1f77b4", DefaultCapacity)
	s.t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func (s *SessionTestSuite) monitoring() {
	s.Require().NoError(s.sess.BeginConnect())
	s.Require().NoError(s.sess.ConnectSucceeded())
	s.Require().NoError(s.sess.BeginMonitoring())
}

func (s *SessionTestSuite) TestNewSession_HasNoData() {
	stats := s.sess.Stats()
	s.Equal(Disconnected, s.sess.State())
	s.False(stats.HasData(), "fresh session MUST report no data")
	s.True(math.IsInf(stats.Min, 1))
	s.True(math.IsInf(stats.Max, -1))
	s.Zero(stats.Volume)
}

func (s *SessionTestSuite) TestConnectLifecycle() {
	s.Require().NoError(s.sess.BeginConnect())
	s.Equal(Connecting, s.sess.State())
	s.True(s.sess.Busy())

	s.ErrorIs(s.sess.BeginConnect(), ErrBusy, "second connect MUST be rejected while in flight")
	s.ErrorIs(s.sess.BeginDisconnect(), ErrBusy, "disconnect MUST be rejected while connecting")

	s.Require().NoError(s.sess.ConnectSucceeded())
	s.Equal(Connected, s.sess.State())
	s.False(s.sess.Busy())

	s.Require().NoError(s.sess.BeginMonitoring())
	s.Equal(Monitoring, s.sess.State())
	s.True(s.sess.Monitoring())

	s.Require().NoError(s.sess.BeginDisconnect())
	s.False(s.sess.Monitoring(), "monitoring MUST be cleared before teardown")
	s.True(s.sess.Busy())

	s.sess.MarkDisconnected()
	s.Equal(Disconnected, s.sess.State())
	s.False(s.sess.Busy())
}

func (s *SessionTestSuite) TestConnectFailure_ReturnsToDisconnected() {
	s.Require().NoError(s.sess.BeginConnect())
	s.Require().NoError(s.sess.ConnectFailed())

	s.Equal(Disconnected, s.sess.State())
	s.False(s.sess.Busy())
	s.NoError(s.sess.BeginConnect(), "a failed session MUST be connectable again")
}

func (s *SessionTestSuite) TestMonitoringFailure_KeepsConnection() {
	s.monitoring()
	s.Require().NoError(s.sess.MonitoringFailed())

	s.Equal(Connected, s.sess.State())
	s.False(s.sess.Monitoring())
	s.True(s.sess.IsConnected())
}

func (s *SessionTestSuite) TestInvalidTransitions() {
	s.ErrorIs(s.sess.ConnectSucceeded(), ErrInvalidTransition)
	s.ErrorIs(s.sess.BeginMonitoring(), ErrInvalidTransition)
	s.ErrorIs(s.sess.BeginDisconnect(), ErrInvalidTransition)
	s.ErrorIs(s.sess.MonitoringFailed(), ErrInvalidTransition)
	s.Equal(Disconnected, s.sess.State())
}

func (s *SessionTestSuite) TestIngest_IgnoredUnlessMonitoring() {
	_, err := s.sess.Ingest([]byte("1.0"), s.t0)
	s.ErrorIs(err, ErrNotMonitoring)

	s.Require().NoError(s.sess.BeginConnect())
	s.Require().NoError(s.sess.ConnectSucceeded())
	_, err = s.sess.Ingest([]byte("1.0"), s.t0)
	s.ErrorIs(err, ErrNotMonitoring, "Connected without monitoring MUST ignore notifications")
	s.Zero(s.sess.Stats().Count)
}

func (s *SessionTestSuite) TestIngest_ParseFailureLeavesStateUntouched() {
	s.monitoring()
	_, err := s.sess.Ingest([]byte("2.5"), s.t0)
	s.Require().NoError(err)

	_, err = s.sess.Ingest([]byte("----"), s.t0.Add(time.Second))
	s.ErrorIs(err, ErrParse)
	s.Equal(1, s.sess.Stats().Count)
	s.Equal(2.5, s.sess.Stats().Current)
}

func (s *SessionTestSuite) TestTwoSampleVolume() {
	s.monitoring()
	_, err := s.sess.Ingest([]byte("2.0"), s.t0)
	s.Require().NoError(err)
	_, err = s.sess.Ingest([]byte("4.0"), s.t0.Add(30*time.Second))
	s.Require().NoError(err)

	// 4.0 L/min over half a minute
	s.InDelta(2.0, s.sess.Stats().Volume, 1e-9)
}

func (s *SessionTestSuite) TestSingleSampleAddsNoVolume() {
	s.monitoring()
	_, err := s.sess.Ingest([]byte("5.0"), s.t0)
	s.Require().NoError(err)
	s.Zero(s.sess.Stats().Volume)
}

func (s *SessionTestSuite) TestReset() {
	s.monitoring()
	for i, v := range []string{"1.0", "2.0", "3.0"} {
		_, err := s.sess.Ingest([]byte(v), s.t0.Add(time.Duration(i)*time.Second))
		s.Require().NoError(err)
	}

	s.sess.Reset()

	stats := s.sess.Stats()
	s.Empty(s.sess.Samples())
	s.False(stats.HasData())
	s.Zero(stats.Current)
	s.Zero(stats.Avg)
	s.Zero(stats.Volume)
	s.Equal(Monitoring, s.sess.State(), "reset MUST NOT touch the connection")

	_, err := s.sess.Ingest([]byte("7"), s.t0.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(7.0, s.sess.Stats().Min)
	s.Equal(7.0, s.sess.Stats().Max)
	s.Zero(s.sess.Stats().Volume, "first sample after reset MUST NOT integrate against pre-reset data")
}

func (s *SessionTestSuite) TestSnapshotIsACopy() {
	s.monitoring()
	_, err := s.sess.Ingest([]byte("1.5"), s.t0)
	s.Require().NoError(err)

	snap := s.sess.Snapshot()
	snap.Samples[0].Value = 99

	s.Equal(1.5, s.sess.Samples()[0].Value, "snapshot samples MUST NOT alias the session buffer")
	s.Equal("FLOW_LOGGER_1", snap.Name)
	s.Equal(Monitoring, snap.State)
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func TestStatisticsProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	sess := New(1, "n", "a", "", 50)
	require.NoError(t, sess.BeginConnect())
	require.NoError(t, sess.ConnectSucceeded())
	require.NoError(t, sess.BeginMonitoring())

	t0 := time.Now()
	for i := 0; i < 200; i++ {
		sess.Apply(Sample{Time: t0.Add(time.Duration(i) * 100 * time.Millisecond), Value: rng.Float64()*20 - 5})

		stats := sess.Stats()
		assert.LessOrEqual(t, stats.Min, stats.Current, "min MUST be <= current")
		assert.LessOrEqual(t, stats.Current, stats.Max, "current MUST be <= max")
		assert.LessOrEqual(t, len(sess.Samples()), 50, "buffer MUST stay within capacity")

		var sum float64
		samples := sess.Samples()
		for _, smp := range samples {
			sum += smp.Value
		}
		assert.InDelta(t, sum/float64(len(samples)), stats.Avg, 1e-9, "avg MUST equal the mean of the buffer")
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	sess := New(1, "n", "a", "", 3)
	t0 := time.Now()
	for i := 1; i <= 5; i++ {
		sess.Apply(Sample{Time: t0.Add(time.Duration(i) * time.Second), Value: float64(i)})
	}

	samples := sess.Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, []float64{3, 4, 5}, []float64{samples[0].Value, samples[1].Value, samples[2].Value})
	assert.Equal(t, 1.0, sess.Stats().Min, "min MUST cover evicted samples")
	assert.InDelta(t, 4.0, sess.Stats().Avg, 1e-9, "avg MUST cover only retained samples")
}
