package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	answersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "expertpanel",
		Name:      "answers_total",
		Help:      "Single-expert answers by grounding confidence.",
	}, []string{"confidence"})

	guardRefusalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "expertpanel",
		Name:      "guard_refusals_total",
		Help:      "Answers replaced by the refusal message, by reason.",
	}, []string{"reason"})

	collaborationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "expertpanel",
		Name:      "collaborations_total",
		Help:      "Finished collaborations by mode and outcome.",
	}, []string{"mode", "outcome"})

	reviewBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "expertpanel",
		Name:      "review_batches_total",
		Help:      "Processed review batches by outcome.",
	}, []string{"outcome"})

	pipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "expertpanel",
		Name:      "pipeline_duration_seconds",
		Help:      "End-to-end pipeline latency.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
	}, []string{"pipeline"})
)
