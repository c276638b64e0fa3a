// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RuleRunsTotal counts rule executions by terminal status.
	RuleRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "detect",
		Name:      "rule_runs_total",
		Help:      "Total rule executions by status.",
	}, []string{"status"})

	// RuleRunDuration tracks rule execution latency.
	RuleRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "argus",
		Subsystem: "detect",
		Name:      "rule_run_duration_seconds",
		Help:      "Rule execution duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// AlertsTotal counts stored alerts, split by new vs deduplicated.
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "detect",
		Name:      "alerts_total",
		Help:      "Alerts stored, by whether the write created a new alert or updated an existing fingerprint.",
	}, []string{"outcome"})

	// JobsTotal counts parsing jobs by terminal status.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "jobs",
		Name:      "jobs_total",
		Help:      "Parsing jobs finished, by terminal status.",
	}, []string{"status"})

	// EventsIndexedTotal counts events indexed by parsing jobs.
	EventsIndexedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "jobs",
		Name:      "events_indexed_total",
		Help:      "Events indexed into the search backend by parsing jobs.",
	})

	// EnrichLookupsTotal counts enrichment lookups by result source.
	EnrichLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "enrich",
		Name:      "lookups_total",
		Help:      "Enrichment lookups by result (cached, completed, not_found, failed).",
	}, []string{"result"})

	// NotificationsTotal counts notification deliveries by status.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Notification deliveries by status.",
	}, []string{"channel", "status"})

	// WebsocketClients tracks connected console clients.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "argus",
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected websocket clients.",
	})

	// ResponseActionsTotal counts response actions by type and terminal status.
	ResponseActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "argus",
		Subsystem: "response",
		Name:      "actions_total",
		Help:      "Response actions executed, by action type and terminal status.",
	}, []string{"action_type", "status"})
)
