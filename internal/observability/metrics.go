package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "runner_sync"

// Metrics holds the per-invocation collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	phaseTotal      *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	previousFound   prometheus.Gauge
	servicesStopped prometheus.Gauge
	dataDirBytes    prometheus.Gauge
	pushTotal       *prometheus.CounterVec
	lastRun         prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		phaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "phase",
				Name:      "total",
				Help:      "Workflow phases run, by outcome.",
			},
			[]string{"phase", "success"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "phase",
				Name:      "duration_seconds",
				Help:      "Workflow phase duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		previousFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "previous_runner_found",
			Help:      "1 when a previous runner was detected on the overlay.",
		}),
		servicesStopped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "services_stopped",
			Help:      "Services a stop request was issued for on the previous runner.",
		}),
		dataDirBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "data_dir_bytes",
			Help:      "Size of the runner data directory.",
		}),
		pushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "git",
				Name:      "push_total",
				Help:      "Data directory pushes, by result.",
			},
			[]string{"result"},
		),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed invocation.",
		}),
	}
	m.registry.MustRegister(
		m.phaseTotal,
		m.phaseDuration,
		m.previousFound,
		m.servicesStopped,
		m.dataDirBytes,
		m.pushTotal,
		m.lastRun,
	)
	return m
}

func (m *Metrics) RecordPhase(phase string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.phaseTotal.WithLabelValues(phase, strconv.FormatBool(success)).Inc()
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

func (m *Metrics) RecordDetection(found bool) {
	if m == nil {
		return
	}
	if found {
		m.previousFound.Set(1)
		return
	}
	m.previousFound.Set(0)
}

func (m *Metrics) RecordServicesStopped(n int) {
	if m == nil {
		return
	}
	m.servicesStopped.Set(float64(n))
}

func (m *Metrics) RecordDataDirSize(bytes int64) {
	if m == nil {
		return
	}
	m.dataDirBytes.Set(float64(bytes))
}

// RecordPush counts a push result: "pushed", "no_changes", "disabled", or "failed".
func (m *Metrics) RecordPush(result string) {
	if m == nil {
		return
	}
	m.pushTotal.WithLabelValues(result).Inc()
}

// WriteTextfile stamps the run time and exports every collector in the
// node_exporter textfile format. The write is a temp file plus rename.
func (m *Metrics) WriteTextfile(path string, now time.Time) error {
	if m == nil {
		return nil
	}
	m.lastRun.Set(float64(now.Unix()))
	return prometheus.WriteToTextfile(path, m.registry)
}
