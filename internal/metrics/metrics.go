// Package metrics defines Prometheus metrics for the daemon.
//
// Everything is registered on Registry, which the HTTP API serves at /metrics.
// Naming: timez_ prefix, _total suffix for counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every timez collector plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

var (
	// MessagesTotal counts popup messages by type and outcome (ok, error, unknown).
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timez_messages_total",
			Help: "Popup messages handled, by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	// FiresTotal counts trigger fires by kind (timer, alarm, unknown).
	FiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timez_trigger_fires_total",
			Help: "Triggers fired, by kind.",
		},
		[]string{"kind"},
	)

	// ReschedulesTotal counts daily alarms re-armed after firing.
	ReschedulesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timez_alarm_reschedules_total",
			Help: "Recurring alarms re-armed for the next day.",
		},
	)

	// FallbacksTotal counts alarm fires whose record was missing from the store.
	FallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timez_alarm_fallbacks_total",
			Help: "Alarm fires with no matching stored record.",
		},
	)

	// NotificationsTotal counts notification deliveries by sink and status.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timez_notifications_total",
			Help: "Notification deliveries, by sink and status.",
		},
		[]string{"sink", "status"},
	)

	// BroadcastsTotal counts alarm-fired broadcasts by result (delivered, no_listener).
	BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timez_broadcasts_total",
			Help: "alarm-fired broadcasts, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		MessagesTotal,
		FiresTotal,
		ReschedulesTotal,
		FallbacksTotal,
		NotificationsTotal,
		BroadcastsTotal,
	)
}
