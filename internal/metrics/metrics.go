package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AegisGate/aegis-gate/models"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisgate_decisions_total",
			Help: "Gateway decisions by pipeline stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisgate_detections_total",
			Help: "Suspicious activity detections by type.",
		},
		[]string{"type"},
	)

	activeBlocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aegisgate_active_blocks",
		Help: "Currently live block entries.",
	})

	activeAttacks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aegisgate_active_attacks",
		Help: "Attack records not yet marked ended.",
	})
)

// Init registers the gateway metrics with the default registry.
func Init() {
	prometheus.MustRegister(decisionsTotal, detectionsTotal, activeBlocks, activeAttacks)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision records one pipeline decision.
func ObserveDecision(decision models.Decision) {
	outcome := "allow"
	if !decision.Allowed {
		outcome = "deny"
	}
	decisionsTotal.WithLabelValues(decision.Stage, outcome).Inc()
}

// ObserveDetection records one suspicious activity detection.
func ObserveDetection(activityType string) {
	detectionsTotal.WithLabelValues(activityType).Inc()
}

// SetActiveBlocks updates the live block entry gauge.
func SetActiveBlocks(n int) {
	activeBlocks.Set(float64(n))
}

// SetActiveAttacks updates the active attack gauge.
func SetActiveAttacks(n int) {
	activeAttacks.Set(float64(n))
}
