package fwagent

import (
	"errors"
	"time"

	"github.com/httprunner/fwagent/pkg/runner"
	"github.com/prometheus/client_golang/prometheus"
	pkgerrors "github.com/pkg/errors"
)

const (
	metricPrefix = "fwagent_"

	outcomeOK      = "ok"
	outcomeFailed  = "failed"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
)

// Metrics collects run statistics on a private registry so they can be
// dumped to a node-exporter textfile at the end of a run. A nil *Metrics is
// a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	devicesTotal    *prometheus.CounterVec
	deviceDuration  prometheus.Histogram
	resyncWait      prometheus.Histogram
	lastRun         *prometheus.GaugeVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_total",
				Help: "External commands issued by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "command_duration_seconds",
				Help:    "External command wall time in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
			},
			[]string{"kind"},
		),
		devicesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "devices_total",
				Help: "Device update attempts by final stage",
			},
			[]string{"stage"},
		),
		deviceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "device_duration_seconds",
				Help:    "Time to take one device through the update state machine",
				Buckets: prometheus.ExponentialBuckets(30, 2, 10),
			},
		),
		resyncWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "resync_wait_seconds",
				Help:    "Time spent waiting for the resilver after a device came back online",
				Buckets: prometheus.ExponentialBuckets(5, 2, 12),
			},
		),
		lastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "last_run_timestamp_seconds",
				Help: "Unix time the last run finished, by result",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.commandsTotal,
		m.commandDuration,
		m.devicesTotal,
		m.deviceDuration,
		m.resyncWait,
		m.lastRun,
	)
	return m
}

// ObserveCommand has the runner.Observer signature.
func (m *Metrics) ObserveCommand(result runner.Result, runErr error) {
	if m == nil {
		return
	}
	kind := result.Command.Kind
	m.commandsTotal.WithLabelValues(kind, commandOutcome(runErr)).Inc()
	m.commandDuration.WithLabelValues(kind).Observe(result.Duration.Seconds())
}

// DeviceFinished records where an attempt ended.
func (m *Metrics) DeviceFinished(attempt *UpdateAttempt, elapsed time.Duration) {
	if m == nil || attempt == nil {
		return
	}
	stage := attempt.Stage
	if stage == StageFailed {
		stage = attempt.FailedAt
		m.devicesTotal.WithLabelValues("failed_" + string(stage)).Inc()
		return
	}
	m.devicesTotal.WithLabelValues(string(stage)).Inc()
	m.deviceDuration.Observe(elapsed.Seconds())
}

// ResyncWaited records one completed resilver wait.
func (m *Metrics) ResyncWaited(d time.Duration) {
	if m == nil {
		return
	}
	m.resyncWait.Observe(d.Seconds())
}

// RunFinished stamps the completion time of a run.
func (m *Metrics) RunFinished(runErr error) {
	if m == nil {
		return
	}
	result := "success"
	if runErr != nil {
		result = "failure"
	}
	m.lastRun.WithLabelValues(result).SetToCurrentTime()
}

// WriteTextfile dumps every metric in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return pkgerrors.Wrapf(err, "write metrics textfile %s", path)
	}
	return nil
}

func commandOutcome(err error) string {
	if err == nil {
		return outcomeOK
	}
	var timeout *runner.TimeoutError
	var failure *runner.CommandFailure
	switch {
	case errors.As(err, &timeout):
		return outcomeTimeout
	case errors.As(err, &failure):
		return outcomeFailed
	default:
		return outcomeError
	}
}
