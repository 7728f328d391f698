package dedup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trendwatch_dedup_decisions_total",
	Help: "Deduplication verdicts by deciding tier.",
}, []string{"tier", "result"})

func recordDecision(tier Tier, dup bool) {
	result := "unique"
	if dup {
		result = "duplicate"
	}
	decisions.WithLabelValues(string(tier), result).Inc()
}
