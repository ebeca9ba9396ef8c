// Package metrics exposes flowmon telemetry to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics owns a private registry so tests and multiple instances never collide
// on the process-wide default registerer.
type Metrics struct {
	registry *prometheus.Registry

	samples     *prometheus.CounterVec
	parseErrors *prometheus.CounterVec
	failures    *prometheus.CounterVec
	flowRate    *prometheus.GaugeVec
	volume      *prometheus.GaugeVec
	connected   prometheus.Gauge
	csvRows     prometheus.Counter
	queueLength prometheus.Gauge
	connectTime prometheus.Histogram
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmon_samples_total",
			Help: "Flow samples accepted per device.",
		}, []string{"device"}),
		parseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmon_parse_errors_total",
			Help: "Notifications that carried no parseable flow value.",
		}, []string{"device"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmon_failures_total",
			Help: "Recoverable failures by kind.",
		}, []string{"kind"}),
		flowRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowmon_flow_rate_lpm",
			Help: "Latest flow rate in litres per minute.",
		}, []string{"device"}),
		volume: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowmon_volume_litres",
			Help: "Volume accumulated since the last reset.",
		}, []string{"device"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowmon_connected_devices",
			Help: "Devices with a live BLE link.",
		}),
		csvRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowmon_csv_rows_total",
			Help: "Rows written to CSV logs.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowmon_bridge_queue_length",
			Help: "Messages waiting for the UI loop at the last tick.",
		}),
		connectTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowmon_connect_duration_seconds",
			Help:    "Time from connect request to monitoring.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
	}

	m.registry.MustRegister(
		m.samples, m.parseErrors, m.failures, m.flowRate, m.volume,
		m.connected, m.csvRows, m.queueLength, m.connectTime,
	)
	return m
}

func (m *Metrics) ObserveSample(device string, flow, volume float64) {
	m.samples.WithLabelValues(device).Inc()
	m.flowRate.WithLabelValues(device).Set(flow)
	m.volume.WithLabelValues(device).Set(volume)
}

// ResetDevice zeroes the gauges of a device whose statistics were reset.
func (m *Metrics) ResetDevice(device string) {
	m.flowRate.WithLabelValues(device).Set(0)
	m.volume.WithLabelValues(device).Set(0)
}

// ForgetDevice drops every series of a closed device.
func (m *Metrics) ForgetDevice(device string) {
	m.samples.DeleteLabelValues(device)
	m.parseErrors.DeleteLabelValues(device)
	m.flowRate.DeleteLabelValues(device)
	m.volume.DeleteLabelValues(device)
}

func (m *Metrics) ParseError(device string)       { m.parseErrors.WithLabelValues(device).Inc() }
func (m *Metrics) Failure(kind string)            { m.failures.WithLabelValues(kind).Inc() }
func (m *Metrics) SetConnected(n int)             { m.connected.Set(float64(n)) }
func (m *Metrics) CSVRow()                        { m.csvRows.Inc() }
func (m *Metrics) SetQueueLength(n int)           { m.queueLength.Set(float64(n)) }
func (m *Metrics) ObserveConnect(d time.Duration) { m.connectTime.Observe(d.Seconds()) }

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the metrics endpoint on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *logrus.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.WithField("addr", addr).Info("Metrics endpoint listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
