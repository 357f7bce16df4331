package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsStagedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderdesk_items_staged_total",
		Help: "Cart entries written by the composer.",
	})

	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderdesk_order_submissions_total",
		Help: "Order submissions to the remote API by result.",
	}, []string{"result"})

	submissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orderdesk_order_submission_duration_seconds",
		Help:    "Time spent posting an order to the remote API.",
		Buckets: prometheus.DefBuckets,
	})

	duplicateConfirmsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderdesk_duplicate_confirms_total",
		Help: "Confirmations rejected because another one was in flight or cooling down.",
	})

	ordersFulfilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderdesk_orders_fulfilled_total",
		Help: "Orders removed from the production board as fulfilled.",
	})

	viewsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderdesk_views_open",
		Help: "Views currently mounted.",
	})
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)
