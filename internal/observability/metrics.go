package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigster_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	PurchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigster_purchases_total",
			Help: "Purchase attempts by outcome",
		},
		[]string{"outcome"},
	)

	PurchaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gigster_purchase_seconds",
			Help:    "Duration of purchase calls including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	TicketsSold = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gigster_tickets_sold_total",
			Help: "Total tickets committed",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gigster_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	TxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gigster_db_tx_retries_total",
			Help: "Transactions restarted after a serialization failure",
		},
	)

	AvailabilityCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigster_availability_cache_total",
			Help: "Availability cache lookups by result",
		},
		[]string{"result"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gigster_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gigster_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gigster_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
