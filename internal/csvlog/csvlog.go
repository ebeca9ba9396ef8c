// Package csvlog writes composite CSV rows with the latest statistics of every
// connected flow sensor.
package csvlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/flowmon/internal/session"
)

const (
	// TimestampFormat is the row timestamp layout, millisecond precision.
	TimestampFormat = "2006-01-02 15:04:05.000"
	fileStampFormat = "20060102_150405"
	filePrefix      = "ALL_DEVICES_"

	// DefaultRowInterval is the minimum spacing between rows.
	DefaultRowInterval = 500 * time.Millisecond

	maxCollisionSuffix = 1000
)

var (
	ErrNotActive     = errors.New("logging is not active")
	ErrAlreadyActive = errors.New("logging is already active")
	ErrNoDevices     = errors.New("no connected devices to log")
)

// Entry is one connected device as it appears in the log.
type Entry struct {
	ID    int
	Name  string
	Stats session.Stats
}

// EntryFromSnapshot builds an Entry from a session snapshot.
func EntryFromSnapshot(s session.Snapshot) Entry {
	return Entry{ID: s.ID, Name: s.Name, Stats: s.Stats}
}

// Header returns the column names for entries, in ascending identifier order.
func Header(entries []Entry) []string {
	entries = sorted(entries)
	header := make([]string, 0, 1+5*len(entries))
	header = append(header, "Timestamp")
	for _, e := range entries {
		header = append(header,
			e.Name+"_Flow(L/min)",
			e.Name+"_Total(L)",
			e.Name+"_Min(L/min)",
			e.Name+"_Max(L/min)",
			e.Name+"_Avg(L/min)",
		)
	}
	return header
}

// Row formats one record. Min and max without data are written as 0.00.
func Row(ts time.Time, entries []Entry) []string {
	entries = sorted(entries)
	row := make([]string, 0, 1+5*len(entries))
	row = append(row, ts.Format(TimestampFormat))
	for _, e := range entries {
		minFlow, maxFlow := 0.0, 0.0
		if e.Stats.HasData() {
			minFlow, maxFlow = e.Stats.Min, e.Stats.Max
		}
		row = append(row,
			fixed(e.Stats.Current, 2),
			fixed(e.Stats.Volume, 3),
			fixed(minFlow, 2),
			fixed(maxFlow, 2),
			fixed(e.Stats.Avg, 2),
		)
	}
	return row
}

func fixed(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func sorted(entries []Entry) []Entry {
	if sort.SliceIsSorted(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID }) {
		return entries
	}
	out := append([]Entry(nil), entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Logger is the telemetry aggregator. It is owned by the UI loop.
type Logger struct {
	dir      string
	interval time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	file      *os.File
	writer    *csv.Writer
	path      string
	lastWrite time.Time
	rows      int
}

// New creates an inactive logger writing into dir.
func New(dir string, interval time.Duration, logger *logrus.Logger) *Logger {
	if interval <= 0 {
		interval = DefaultRowInterval
	}
	if logger == nil {
		logger = logrus.New()
	}
	if dir == "" {
		dir = "."
	}
	return &Logger{dir: dir, interval: interval, logger: logger, now: time.Now}
}

func (l *Logger) Active() bool { return l.file != nil }

// Path is the current output file, empty when inactive.
func (l *Logger) Path() string { return l.path }

// Rows is the number of data rows written to the current file.
func (l *Logger) Rows() int { return l.rows }

// Start opens a new timestamped file and writes the header.
func (l *Logger) Start(entries []Entry) error {
	if l.Active() {
		return ErrAlreadyActive
	}
	if len(entries) == 0 {
		return ErrNoDevices
	}
	if err := l.open(entries); err != nil {
		return err
	}
	l.lastWrite = time.Time{}
	return nil
}

// Rotate closes the current file and opens a new one with a header for entries.
// The row throttle carries over.
func (l *Logger) Rotate(entries []Entry) error {
	if !l.Active() {
		return ErrNotActive
	}
	if err := l.close(); err != nil {
		l.logger.WithError(err).Warn("Failed to close CSV file during rotation")
	}
	return l.open(entries)
}

// OnSample writes a row unless one was written less than the row interval before ts.
// It reports whether a row was written.
func (l *Logger) OnSample(ts time.Time, entries []Entry) (bool, error) {
	if !l.Active() {
		return false, ErrNotActive
	}
	if !l.lastWrite.IsZero() && ts.Sub(l.lastWrite) < l.interval {
		return false, nil
	}
	l.lastWrite = ts

	if err := l.write(Row(ts, entries)); err != nil {
		return false, fmt.Errorf("failed to write CSV row to %s: %w", l.path, err)
	}
	l.rows++
	return true, nil
}

// Stop flushes and closes the current file.
func (l *Logger) Stop() error {
	if !l.Active() {
		return ErrNotActive
	}
	path := l.path
	err := l.close()
	l.logger.WithField("path", path).Info("CSV logging stopped")
	return err
}

func (l *Logger) open(entries []Entry) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", l.dir, err)
	}

	file, path, err := createUnique(l.dir, filePrefix+l.now().Format(fileStampFormat))
	if err != nil {
		return err
	}

	l.file = file
	l.path = path
	l.writer = csv.NewWriter(file)
	l.rows = 0

	header := Header(entries)
	if err := l.write(header); err != nil {
		_ = l.close()
		return fmt.Errorf("failed to write CSV header to %s: %w", path, err)
	}

	l.logger.WithFields(logrus.Fields{
		"path":    path,
		"devices": len(entries),
	}).Info("CSV logging to " + filepath.Base(path))
	return nil
}

func (l *Logger) write(record []string) error {
	if err := l.writer.Write(record); err != nil {
		return err
	}
	l.writer.Flush()
	return l.writer.Error()
}

func (l *Logger) close() error {
	l.writer.Flush()
	flushErr := l.writer.Error()
	closeErr := l.file.Close()

	l.file = nil
	l.writer = nil
	l.path = ""
	return errors.Join(flushErr, closeErr)
}

// createUnique creates base.csv, or base_N.csv when earlier files hold the name.
func createUnique(dir, base string) (*os.File, string, error) {
	for n := 0; n < maxCollisionSuffix; n++ {
		name := base + ".csv"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.csv", base, n)
		}
		path := filepath.Join(dir, name)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return file, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("failed to create CSV file %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("failed to create CSV file: too many files named %s in %s", base, dir)
}
