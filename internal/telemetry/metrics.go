package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "graphgate",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// ProxyRequestsTotal counts proxied GraphQL requests by outcome:
// forwarded, denied, invalid, upstream_error, internal_error.
var ProxyRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "graphgate",
		Subsystem: "proxy",
		Name:      "requests_total",
		Help:      "Proxied GraphQL requests by outcome.",
	},
	[]string{"outcome"},
)

// RewriteDeniedTotal counts operations rejected by the rewriter.
var RewriteDeniedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "graphgate",
		Subsystem: "rewrite",
		Name:      "denied_total",
		Help:      "GraphQL operations denied by the rewriter, by reason.",
	},
	[]string{"reason"},
)

// OracleLookupsTotal counts tenant-belonging checks by verdict.
var OracleLookupsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "graphgate",
		Subsystem: "oracle",
		Name:      "lookups_total",
		Help:      "Entity-belongs-to-tenant lookups by verdict.",
	},
	[]string{"verdict"},
)

// CacheOperationsTotal counts cache round trips.
var CacheOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "graphgate",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations by kind and result.",
	},
	[]string{"op", "result"},
)

// NewMetricsRegistry creates a Prometheus registry with default and custom collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
		ProxyRequestsTotal,
		RewriteDeniedTotal,
		OracleLookupsTotal,
		CacheOperationsTotal,
	)
	return reg
}
