// Package metrics exposes arena counters and histograms to Prometheus.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arena"

// Outcome classes for finished matches.
const (
	OutcomeWhite   = "white"
	OutcomeBlack   = "black"
	OutcomeDraw    = "draw"
	OutcomeAborted = "aborted"
)

// Matchmaker attempt results.
const (
	PairingFound = "paired"
	PairingNone  = "none"
	PairingError = "error"
)

type Recorder struct {
	registry  *prometheus.Registry
	active    prometheus.Gauge
	finished  *prometheus.CounterVec
	turns     prometheus.Histogram
	isolation *prometheus.GaugeVec
	pairings  *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_matches",
			Help:      "Matches currently in progress.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_finished_total",
			Help:      "Finished matches by outcome class.",
		}, []string{"outcome"}),
		turns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_seconds",
			Help:      "Time bots take to answer a prompt.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 60},
		}),
		isolation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "isolation_mode",
			Help:      "Active sandbox isolation mode (1 for the mode in use).",
		}, []string{"mode"}),
		pairings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matchmaker_attempts_total",
			Help:      "Matchmaker attempts by result.",
		}, []string{"result"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.active, r.finished, r.turns, r.isolation, r.pairings,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) MatchStarted() {
	if r != nil {
		r.active.Inc()
	}
}

// MatchFinished decrements the active gauge and counts the outcome.
func (r *Recorder) MatchFinished(outcome string) {
	if r != nil {
		r.active.Dec()
		r.finished.WithLabelValues(outcome).Inc()
	}
}

func (r *Recorder) ObserveTurn(d time.Duration) {
	if r != nil {
		r.turns.Observe(d.Seconds())
	}
}

func (r *Recorder) SetIsolationMode(mode string) {
	if r != nil {
		r.isolation.Reset()
		r.isolation.WithLabelValues(mode).Set(1)
	}
}

// PairingAttempt counts a matchmaker call by result.
func (r *Recorder) PairingAttempt(result string) {
	if r != nil {
		r.pairings.WithLabelValues(result).Inc()
	}
}
