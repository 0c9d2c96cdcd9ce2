package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promEligible = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "dropmgr",
		Name:      "eligible_count",
	})
	promClaimed = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "dropmgr",
		Name:      "claimed_count",
	})
	promStaked = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "dropmgr",
		Name:      "staked_count",
	})
	promUnstaked = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "dropmgr",
		Name:      "unstaked_count",
	})
	promStakedTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "dropmgr",
		Name:      "staked_total",
	})
	promPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "dropmgr",
		Name:      "paid_total",
	})
)
