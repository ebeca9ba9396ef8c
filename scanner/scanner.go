package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/flowmon/internal/device"
)

// DefaultMarker is the advertised-name substring identifying flow sensors.
const DefaultMarker = "FLOW_LOGGER_"

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Result is a discovered peripheral.
type Result struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi"`
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration  time.Duration
	Marker    string // empty keeps every named device
	AllowList []string
	BlockList []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration: 5 * time.Second,
		Marker:   DefaultMarker,
	}
}

// Scanner handles BLE device discovery
type Scanner struct {
	transport device.Scanner
	marker    string
	logger    *logrus.Logger
}

// NewScanner creates a scanner over transport keeping names that contain marker.
func NewScanner(transport device.Scanner, marker string, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{transport: transport, marker: marker, logger: logger}
}

// Discover scans for timeout and returns the flow sensors seen, sorted by name then address.
func (s *Scanner) Discover(ctx context.Context, timeout time.Duration) ([]Result, error) {
	return s.Scan(ctx, &ScanOptions{Duration: timeout, Marker: s.marker}, nil)
}

// Scan performs BLE discovery with provided options
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]Result, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}
	if s.transport == nil {
		return nil, device.ErrNoTransport
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	// advertisements arrive on transport goroutines
	seen := hashmap.New[string, Result]()
	handler := func(adv device.Advertisement) {
		if !allowed(adv.Address, opts) {
			return
		}
		res := Result{Address: adv.Address, Name: adv.Name, RSSI: adv.RSSI}
		prev, existing := seen.GetOrInsert(adv.Address, res)
		if !existing {
			s.logger.WithFields(logrus.Fields{
				"device":  adv.Name,
				"address": adv.Address,
				"rssi":    adv.RSSI,
			}).Debug("Discovered new device")
			return
		}
		// names often arrive only in scan responses; never forget one
		if res.Name == "" {
			res.Name = prev.Name
		}
		seen.Set(adv.Address, res)
	}

	scanCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	if err := s.transport.Scan(scanCtx, handler); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progressCallback("Processing results")

	all := make([]Result, 0, seen.Len())
	seen.Range(func(_ string, r Result) bool {
		all = append(all, r)
		return true
	})

	results := FilterByMarker(all, opts.Marker)
	s.logger.WithFields(logrus.Fields{
		"device_count": len(all),
		"matched":      len(results),
	}).Debug("BLE scan completed")
	return results, nil
}

// FilterByMarker keeps results whose name contains marker, sorted by name then
// address. Unnamed results never match.
func FilterByMarker(results []Result, marker string) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Name != "" && strings.Contains(r.Name, marker) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// allowed applies the allow and block lists
func allowed(addr string, opts *ScanOptions) bool {
	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) == 0 {
		return true
	}
	for _, a := range opts.AllowList {
		if strings.EqualFold(addr, a) {
			return true
		}
	}
	return false
}
