// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsTotal counts dispatch outcomes per candidate by status
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "community_connect_notifications_total",
			Help: "Chat notification outcomes by delivery status.",
		},
		[]string{"status"},
	)

	// EmailSendDuration tracks transport latency by provider and outcome
	EmailSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "community_connect_email_send_duration_seconds",
			Help:    "Duration of outbound email sends.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "status"},
	)

	// DigestsSentTotal counts rolled-up digest emails
	DigestsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "community_connect_digests_sent_total",
			Help: "Total digest emails sent.",
		},
	)

	// OpportunitiesCreatedTotal counts persisted opportunity instances
	OpportunitiesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "community_connect_opportunities_created_total",
			Help: "Opportunity instances created, split by recurring and single.",
		},
		[]string{"kind"},
	)

	// HTTPRequestDuration tracks API latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "community_connect_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
