// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stages reported in PipelinePacketsTotal.
const (
	StageReceived = "received"
	StageFiltered = "filtered"
	StageDecoded  = "decoded"
	StageLocated  = "located"
	StageEmitted  = "emitted"
)

var (
	// PipelinePacketsTotal counts packets reaching each pipeline stage
	PipelinePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpseg_pipeline_packets_total",
			Help: "Total number of packets reaching each pipeline stage",
		},
		[]string{"stage"},
	)

	// RejectionsTotal counts packets rejected by the decoder or locator, by reason
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpseg_rejections_total",
			Help: "Total number of packets rejected, by reason",
		},
		[]string{"stage", "reason"},
	)

	// LocateLatencySeconds measures the per-packet decode and locate time
	LocateLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tcpseg_locate_latency_seconds",
			Help:    "Latency of decoding and locating one segment in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00000005, 2, 16), // 50ns to ~1.6ms
		},
	)

	// RunsActive tracks pipelines currently running
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcpseg_runs_active",
			Help: "Number of pipeline runs in progress",
		},
	)
)
