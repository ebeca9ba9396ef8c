package csvlog

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/flowmon/internal/session"
	"github.com/srg/flowmon/internal/testutils"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func noData() session.Stats {
	return session.Stats{Min: math.Inf(1), Max: math.Inf(-1)}
}

type LoggerTestSuite struct {
	suite.Suite
	dir    string
	logger *Logger
	clock  time.Time
}

func (s *LoggerTestSuite) SetupTest() {
	s.dir = filepath.Join(s.T().TempDir(), "logs")
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	s.logger = New(s.dir, DefaultRowInterval, log)
	s.clock = t0
	s.logger.now = func() time.Time { return s.clock }
}

func (s *LoggerTestSuite) TearDownTest() {
	if s.logger.Active() {
		_ = s.logger.Stop()
	}
}

func (s *LoggerTestSuite) readFile(path string) string {
	data, err := os.ReadFile(path)
	s.Require().NoError(err)
	return string(data)
}

func (s *LoggerTestSuite) TestStart_WritesHeaderAndRows() {
	entries := []Entry{{ID: 1, Name: "FLOW_LOGGER_1", Stats: session.Stats{
		Current: 2.5, Volume: 0.1234, Min: 1, Max: 3, Avg: 2, Count: 3,
	}}}

	s.Require().NoError(s.logger.Start(entries))
	s.Equal(filepath.Join(s.dir, "ALL_DEVICES_20240501_120000.csv"), s.logger.Path())

	wrote, err := s.logger.OnSample(t0, entries)
	s.Require().NoError(err)
	s.True(wrote)

	testutils.NewTextAsserter(s.T()).WithOptions(testutils.WithTrimSpace(true)).Assert(s.readFile(s.logger.Path()), `
Timestamp,FLOW_LOGGER_1_Flow(L/min),FLOW_LOGGER_1_Total(L),FLOW_LOGGER_1_Min(L/min),FLOW_LOGGER_1_Max(L/min),FLOW_LOGGER_1_Avg(L/min)
2024-05-01 12:00:00.000,2.50,0.123,1.00,3.00,2.00
`)
}

func (s *LoggerTestSuite) TestRowThrottle() {
	entries := []Entry{{ID: 1, Name: "A", Stats: noData()}}
	s.Require().NoError(s.logger.Start(entries))

	offsets := []time.Duration{0, 100 * time.Millisecond, 499 * time.Millisecond, 500 * time.Millisecond, 900 * time.Millisecond, 1200 * time.Millisecond}
	var written []bool
	for _, off := range offsets {
		ok, err := s.logger.OnSample(t0.Add(off), entries)
		s.Require().NoError(err)
		written = append(written, ok)
	}

	s.Equal([]bool{true, false, false, true, false, true}, written, "rows MUST be at least 500ms apart")
	s.Equal(3, s.logger.Rows())
}

func (s *LoggerTestSuite) TestNoDataWritesZeroMinMax() {
	entries := []Entry{{ID: 1, Name: "A", Stats: noData()}}
	s.Require().NoError(s.logger.Start(entries))
	_, err := s.logger.OnSample(t0.Add(1500*time.Millisecond), entries)
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).WithOptions(testutils.WithTrimSpace(true)).Assert(s.readFile(s.logger.Path()), `
Timestamp,A_Flow(L/min),A_Total(L),A_Min(L/min),A_Max(L/min),A_Avg(L/min)
2024-05-01 12:00:01.500,0.00,0.000,0.00,0.00,0.00
`)
}

func (s *LoggerTestSuite) TestRotate_NewFileFreshHeaderKeepsThrottle() {
	one := []Entry{{ID: 1, Name: "A", Stats: noData()}}
	two := []Entry{{ID: 2, Name: "B", Stats: noData()}, {ID: 1, Name: "A", Stats: noData()}}

	s.Require().NoError(s.logger.Start(one))
	first := s.logger.Path()
	_, err := s.logger.OnSample(t0, one)
	s.Require().NoError(err)

	s.Require().NoError(s.logger.Rotate(two))
	second := s.logger.Path()
	s.NotEqual(first, second, "rotation MUST NOT overwrite the previous file")
	s.Equal(filepath.Join(s.dir, "ALL_DEVICES_20240501_120000_1.csv"), second)
	s.FileExists(first)

	wrote, err := s.logger.OnSample(t0.Add(200*time.Millisecond), two)
	s.Require().NoError(err)
	s.False(wrote, "throttle MUST carry over a rotation")

	testutils.NewTextAsserter(s.T()).WithOptions(testutils.WithTrimSpace(true)).Assert(s.readFile(second),
		"Timestamp,A_Flow(L/min),A_Total(L),A_Min(L/min),A_Max(L/min),A_Avg(L/min),B_Flow(L/min),B_Total(L),B_Min(L/min),B_Max(L/min),B_Avg(L/min)")
}

func (s *LoggerTestSuite) TestLifecycleErrors() {
	_, err := s.logger.OnSample(t0, nil)
	s.ErrorIs(err, ErrNotActive)
	s.ErrorIs(s.logger.Stop(), ErrNotActive)
	s.ErrorIs(s.logger.Rotate(nil), ErrNotActive)
	s.ErrorIs(s.logger.Start(nil), ErrNoDevices)

	entries := []Entry{{ID: 1, Name: "A", Stats: noData()}}
	s.Require().NoError(s.logger.Start(entries))
	s.ErrorIs(s.logger.Start(entries), ErrAlreadyActive)
	s.Require().NoError(s.logger.Stop())
	s.False(s.logger.Active())
	s.Empty(s.logger.Path())
}

func (s *LoggerTestSuite) TestRestartResetsThrottle() {
	entries := []Entry{{ID: 1, Name: "A", Stats: noData()}}
	s.Require().NoError(s.logger.Start(entries))
	_, err := s.logger.OnSample(t0, entries)
	s.Require().NoError(err)
	s.Require().NoError(s.logger.Stop())

	s.clock = t0.Add(time.Second)
	s.Require().NoError(s.logger.Start(entries))
	wrote, err := s.logger.OnSample(t0.Add(100*time.Millisecond), entries)
	s.Require().NoError(err)
	s.True(wrote, "a new logging session MUST write its first row immediately")
}

func TestLoggerTestSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}

func TestHeader_WidthAndOrder(t *testing.T) {
	entries := []Entry{{ID: 3, Name: "C"}, {ID: 1, Name: "A"}, {ID: 2, Name: "B"}}

	header := Header(entries)

	if len(header) != 1+5*len(entries) {
		t.Fatalf("header MUST have 1 + 5 columns per device, got %d", len(header))
	}
	want := []string{"Timestamp", "A_Flow(L/min)", "B_Flow(L/min)", "C_Flow(L/min)"}
	got := []string{header[0], header[1], header[6], header[11]}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("column %d = %q, MUST be %q", i, got[i], want[i])
		}
	}
	if Header(nil)[0] != "Timestamp" || len(Header(nil)) != 1 {
		t.Fatal("empty header MUST be just Timestamp")
	}
}
