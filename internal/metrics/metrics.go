// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nle_cache_hits_total",
		Help: "Cache lookups that returned a live entry.",
	}, []string{"cache"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nle_cache_misses_total",
		Help: "Cache lookups that found nothing or an expired entry.",
	}, []string{"cache"})

	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nle_cache_evictions_total",
		Help: "Entries dropped to stay within the cache size limit.",
	}, []string{"cache"})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nle_rate_limit_rejections_total",
		Help: "Requests rejected by the fixed-window rate limiter.",
	}, []string{"tier"})

	AuditWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nle_audit_writes_total",
		Help: "Audit log insert outcomes.",
	}, []string{"outcome"})

	GenerationJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nle_generation_jobs_total",
		Help: "Generation jobs by kind and final status.",
	}, []string{"kind", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nle_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
