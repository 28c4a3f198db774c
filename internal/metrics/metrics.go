// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/adiadia/keyrouter/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	decisionsTotalCounter      *prometheus.CounterVec
	matchConfidenceMetric      prometheus.Histogram
	candidateRejectionsCounter *prometheus.CounterVec
	reservationsTotalCounter   *prometheus.CounterVec
	scorerDurationMetric       prometheus.Histogram
	breakerStateGauge          *prometheus.GaugeVec
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		decisionsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_decisions_total",
				Help: "Total number of intent match decisions by outcome.",
			},
			[]string{"outcome"},
		)

		matchConfidenceMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "match_confidence",
				Help:    "Confidence of winning match decisions (0-100).",
				Buckets: []float64{10, 25, 50, 75, 90, 100},
			},
		)

		candidateRejectionsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candidate_rejections_total",
				Help: "Total number of per-candidate rejections by reason.",
			},
			[]string{"reason"},
		)

		reservationsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_reservations_total",
				Help: "Total number of ledger reservation transitions by result.",
			},
			[]string{"result"},
		)

		scorerDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scorer_duration_seconds",
				Help:    "Duration of intent scoring per decision in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		breakerStateGauge = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
			},
			[]string{"breaker"},
		)

		prometheus.MustRegister(
			decisionsTotalCounter,
			matchConfidenceMetric,
			candidateRejectionsCounter,
			reservationsTotalCounter,
			scorerDurationMetric,
			breakerStateGauge,
		)

		// Ensure vectors are visible at /metrics before first increment.
		for _, outcome := range []string{"selected", "no_match"} {
			decisionsTotalCounter.WithLabelValues(outcome)
		}

		for _, reason := range []string{
			domain.ReasonOriginNotAllowed,
			domain.ReasonQuotaExceeded,
			domain.ReasonExpired,
			domain.ReasonDisabled,
			domain.ReasonPayloadTooLarge,
			domain.ReasonEmptyScope,
			domain.ReasonLowConfidence,
		} {
			candidateRejectionsCounter.WithLabelValues(reason)
		}

		for _, result := range []string{
			"reserved", "committed", "released", "expired",
			"quota_exceeded", "payload_too_large",
		} {
			reservationsTotalCounter.WithLabelValues(result)
		}
	})
}

func IncDecision(outcome string) {
	Init()
	decisionsTotalCounter.WithLabelValues(outcome).Inc()
}

func ObserveMatchConfidence(confidence int) {
	Init()
	matchConfidenceMetric.Observe(float64(confidence))
}

func IncCandidateRejection(reason string) {
	Init()
	candidateRejectionsCounter.WithLabelValues(reason).Inc()
}

func IncReservation(result string) {
	Init()
	reservationsTotalCounter.WithLabelValues(result).Inc()
}

func ObserveScorerDuration(d time.Duration) {
	Init()
	scorerDurationMetric.Observe(d.Seconds())
}

func SetBreakerState(name string, state int) {
	Init()
	breakerStateGauge.WithLabelValues(name).Set(float64(state))
}
