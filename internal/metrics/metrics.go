// Package metrics holds the agent's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "motion_agent"

const (
	ResultOK    = "ok"
	ResultError = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	Ticks         prometheus.Counter
	CaptureErrors prometheus.Counter
	FrameErrors   prometheus.Counter
	Decisions     *prometheus.CounterVec
	Deliveries    *prometheus.CounterVec
	Heartbeats    *prometheus.CounterVec
	DetectorState prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Detection loop ticks.",
		}),
		CaptureErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Frames that could not be acquired.",
		}),
		FrameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Frames rejected by the background model.",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Ticks with qualifying motion, by outcome (motion, suppressed).",
		}, []string{"outcome"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Motion event deliveries by sink and result.",
		}, []string{"sink", "result"}),
		Heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeats by sink and result.",
		}, []string{"sink", "result"}),
		DetectorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "detector_state",
			Help:      "0 waiting baseline, 1 armed, 2 cooldown, 3 paused.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Ticks,
		m.CaptureErrors,
		m.FrameErrors,
		m.Decisions,
		m.Deliveries,
		m.Heartbeats,
		m.DetectorState,
	)
	return m
}

func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
