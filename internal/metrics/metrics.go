// Package metrics declares the prometheus collectors shared by the api and
// the runner.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SamplesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geo_samples_published_total",
		Help: "Geo samples produced by the walk publisher.",
	})

	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geo_stream_subscribers",
		Help: "Currently connected geo stream subscribers.",
	})

	WalkDistanceKm = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geo_walk_distance_km",
		Help: "Cumulative distance of the current simulated walk.",
	})

	SamplesArchived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_samples_archived_total",
		Help: "Samples written to the walk archive, by result.",
	}, []string{"result"})

	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geofeed_reconnects_total",
		Help: "Geo stream reconnect attempts made by the runner.",
	})

	FeedSamplesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geofeed_samples_dropped_total",
		Help: "Samples discarded by the runner, by reason.",
	}, []string{"reason"})

	LedgerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reward_ledger_writes_total",
		Help: "Ledger writes issued by the reward state machine.",
	}, []string{"op", "result"})

	RewardState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reward_state",
		Help: "Current reward accrual state (enum ordinal).",
	})
)
