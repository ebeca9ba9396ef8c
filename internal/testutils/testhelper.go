package testutils

import (
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/flowmon/internal/device"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// QuietLogger returns a logger that discards everything.
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// FlowAdvertisement builds the advertisement of the n-th flow sensor.
func FlowAdvertisement(n int) device.Advertisement {
	return device.Advertisement{
		Address: fmt.Sprintf("AA:BB:CC:DD:EE:%02X", n),
		Name:    fmt.Sprintf("FLOW_LOGGER_%d", n),
		RSSI:    -40 - n,
	}
}

// WaitUntil polls cond every few milliseconds and fails the test after timeout.
func (h *TestHelper) WaitUntil(timeout time.Duration, msg string, cond func() bool) {
	h.T.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			h.T.Fatalf("timed out after %s: %s", timeout, msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ReadFile returns the contents of path or fails the test.
func (h *TestHelper) ReadFile(path string) string {
	h.T.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		h.T.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}
