package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicktalk_admission_decisions_total",
		Help: "Admission decisions by stage, result and match basis",
	}, []string{"stage", "result", "matched_by"})

	DNSLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicktalk_dns_lookups_total",
		Help: "Resolver outcomes: hit, miss, empty, error or cache_drop",
	}, []string{"result"})

	RateLimitRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicktalk_ratelimit_rejections_total",
		Help: "Requests rejected by the sliding window limiter",
	}, []string{"class"})

	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quicktalk_audit_dropped_total",
		Help: "Access log records dropped because the queue was full",
	})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quicktalk_request_latency_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	RegisteredShops = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quicktalk_registered_shops",
		Help: "Shops currently held by the in-memory registry",
	})
)
