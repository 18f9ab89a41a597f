package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProspectsImported = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "growthos",
		Name:      "prospects_imported_total",
		Help:      "Prospects written by CSV imports.",
	})
	ImportRowErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "growthos",
		Name:      "import_row_errors_total",
		Help:      "CSV rows rejected by validation.",
	})
	SequenceAdvances = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "growthos",
		Name:      "sequence_advances_total",
		Help:      "Sequence assignment advances by outcome.",
	}, []string{"outcome"})
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "growthos",
		Name:      "webhook_requests_total",
		Help:      "Webhook deliveries by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})
	InboxSynced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "growthos",
		Name:      "inbox_synced_messages_total",
		Help:      "Messages fetched from channel integrations.",
	}, []string{"channel"})
)
