// Package metrics exposes Prometheus metrics for message scanning.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan metrics
var (
	MessagesScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attachsieve_messages_scanned_total",
			Help: "Total number of messages scanned",
		},
	)

	AttachmentsSeen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attachsieve_attachments_total",
			Help: "Total number of qualifying attachments extracted",
		},
	)

	HeaderParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attachsieve_header_parse_errors_total",
			Help: "Total number of attachment header parse failures",
		},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attachsieve_scan_duration_seconds",
			Help:    "Duration of message scans in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)
)

// Rule metrics
var (
	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "attachsieve_rules_loaded",
			Help: "Number of compiled attachment rules currently loaded",
		},
	)

	RuleHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachsieve_rule_hits_total",
			Help: "Total number of rule matches",
		},
		[]string{"rule"},
	)
)
