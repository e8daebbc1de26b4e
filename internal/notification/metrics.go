package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSent      = "sent"
	statusFailed    = "failed"
	statusProcessed = "processed"
	statusMalformed = "malformed"
	statusCreated   = "created"
	statusRemoved   = "removed"
)

var (
	producerPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_producer_publish_total",
		Help: "Notification events published to the log, by outcome.",
	}, []string{"status"})

	emailTaskPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_email_task_publish_total",
		Help: "Email tasks published to the log, by outcome.",
	}, []string{"status"})

	consumerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_consumer_process_total",
		Help: "Notification events consumed from the log, by outcome.",
	}, []string{"status"})

	emailTaskEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_email_task_process_total",
		Help: "Email tasks consumed from the log, by outcome.",
	}, []string{"status"})

	pushSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_push_send_total",
		Help: "Per-connection push attempts, by outcome.",
	}, []string{"status"})

	connectionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_connections_total",
		Help: "Push connection lifecycle events.",
	}, []string{"status"})

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notification_connections_active",
		Help: "Current number of open push connections.",
	})

	emailSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_email_send_total",
		Help: "Emails dispatched, by outcome.",
	}, []string{"status"})
)
