package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_fetcher_cycles_total",
			Help: "Total number of mailbox poll cycles, partitioned by result (ok, error).",
		},
		[]string{"result"},
	)
	messagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_fetcher_messages_total",
			Help: "Total mailbox messages handled, partitioned by disposition (ingested, duplicate, unmatched, error).",
		},
		[]string{"disposition"},
	)
)
