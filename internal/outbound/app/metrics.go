package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outboundAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_outbound_attempts_total",
			Help: "Total delivery attempts, partitioned by message type and result (sent, failed).",
		},
		[]string{"message_type", "result"},
	)
	outboundBlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_outbound_blocked_total",
			Help: "Total outbound messages blocked by the safety gate before sending, partitioned by message type.",
		},
		[]string{"message_type"},
	)
)
