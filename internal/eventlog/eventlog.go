// Package eventlog keeps the recent application events shown under the dashboard.
//
// Log implements logrus.Hook: any goroutine may log, records land in a lock-free
// overwrite-oldest ring, and the UI loop moves them into its history with Drain.
package eventlog

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// DefaultSize is the number of entries kept when no size is configured.
const DefaultSize = 256

// Entry is a single event.
type Entry struct {
	Time    time.Time
	Level   logrus.Level
	Message string
}

// String renders the entry the way the dashboard shows it.
func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.Time.Format("15:04:05"), e.Message)
}

// Log is a bounded event log.
type Log struct {
	pending mpmc.RichOverlappedRingBuffer[Entry]
	size    int

	mu      sync.Mutex
	history []Entry

	overwritten atomic.Int64
}

// New creates a log keeping the last size entries.
func New(size int) *Log {
	if size <= 0 {
		size = DefaultSize
	}
	return &Log{
		pending: mpmc.NewOverlappedRingBuffer[Entry](uint32(size)),
		size:    size,
	}
}

// Add records msg. Safe for concurrent use.
func (l *Log) Add(level logrus.Level, msg string) {
	l.enqueue(Entry{Time: time.Now(), Level: level, Message: msg})
}

func (l *Log) enqueue(e Entry) {
	overwrites, err := l.pending.EnqueueM(e)
	if err != nil {
		return
	}
	l.overwritten.Add(int64(overwrites))
}

// Levels implements logrus.Hook. Debug and trace lines stay out of the event log.
func (l *Log) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel}
}

// Fire implements logrus.Hook.
func (l *Log) Fire(entry *logrus.Entry) error {
	msg := entry.Message
	if err, ok := entry.Data[logrus.ErrorKey].(error); ok && err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	l.enqueue(Entry{Time: entry.Time, Level: entry.Level, Message: msg})
	return nil
}

// Drain moves pending entries into the history and returns them, oldest first.
func (l *Log) Drain() []Entry {
	var fresh []Entry
	for !l.pending.IsEmpty() {
		e, err := l.pending.Dequeue()
		if err != nil {
			break
		}
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, fresh...)
	if extra := len(l.history) - l.size; extra > 0 {
		l.history = append([]Entry(nil), l.history[extra:]...)
	}
	return fresh
}

// Recent returns up to n of the newest drained entries, oldest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.history) {
		n = len(l.history)
	}
	return append([]Entry(nil), l.history[len(l.history)-n:]...)
}

// Overwritten is the number of entries lost because nobody drained in time.
func (l *Log) Overwritten() int64 {
	return l.overwritten.Load()
}
