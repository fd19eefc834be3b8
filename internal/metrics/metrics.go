// Package metrics holds the prometheus collectors of the collaboration core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EditsTotal counts edit requests by outcome.
	EditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naskah_edits_total",
		Help: "Edit requests by result",
	}, []string{"result"})

	// EditLockWait tracks how long an edit waited for its document lock.
	EditLockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "naskah_edit_lock_wait_seconds",
		Help:    "Time spent waiting for the per-document edit lock",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
	})

	// EditApplyDuration tracks apply + commit time while holding the lock.
	EditApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "naskah_edit_apply_duration_seconds",
		Help:    "Time spent applying and committing an edit",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	PresenceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naskah_presence_events_total",
		Help: "Presence requests by type",
	}, []string{"type"})

	CommentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naskah_comments_total",
		Help: "Comment requests by result",
	}, []string{"result"})

	// WebsocketClients is the number of connected websocket clients.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "naskah_websocket_clients",
		Help: "Connected websocket clients",
	})
)
