// ABOUTME: Prometheus collectors for authentication decisions and the key cache
// ABOUTME: Registered on the default registry and served by the gateway at /metrics

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthDecisions counts authentication and authorization outcomes
	AuthDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_gateway_auth_decisions_total",
		Help: "Total number of auth decisions by outcome and reason",
	}, []string{"outcome", "reason"})

	// TokenVerifyDuration tracks user token verification time, key lookup included
	TokenVerifyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_gateway_token_verify_duration_seconds",
		Help:    "Histogram of user token verification duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	// KeyCacheOperations tracks key-slot cache hits, misses, pending reads and errors
	KeyCacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_gateway_key_cache_operations_total",
		Help: "Total number of key cache lookups by result",
	}, []string{"result"})

	// KeyUpdates counts public key uploads and removals
	KeyUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_gateway_key_updates_total",
		Help: "Total number of public key writes",
	}, []string{"action"})

	// AccountsCreated counts successful account registrations
	AccountsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_gateway_accounts_created_total",
		Help: "Total number of accounts created",
	})
)
