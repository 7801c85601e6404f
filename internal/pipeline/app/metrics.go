package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lettersProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_pipeline_letters_processed_total",
			Help: "Total letters run through the pipeline, partitioned by outcome (processed, blocked, failed).",
		},
		[]string{"outcome"},
	)
	stageFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_pipeline_stage_failures_total",
			Help: "Total pipeline stage failures, partitioned by stage.",
		},
		[]string{"stage"},
	)
	moderationFlagsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_pipeline_moderation_flags_total",
			Help: "Total moderation flags raised, partitioned by severity.",
		},
		[]string{"severity"},
	)
	wishItemsExtractedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailroom_pipeline_wish_items_extracted_total",
			Help: "Total wish items extracted from letters.",
		},
	)
	safetyVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_pipeline_safety_verdicts_total",
			Help: "Total safety gate verdicts, partitioned by verdict (approved, blocked, unchecked).",
		},
		[]string{"verdict"},
	)
)
