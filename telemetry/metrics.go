package telemetry

import (
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rpcrouter"

var (
	MetricUnexpectedPanicTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unexpected_panic_total",
		Help:      "Total number of unexpected panics.",
	}, []string{"scope", "extra", "error"})

	MetricRouteDecisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "route_decision_total",
		Help:      "Total number of routing decisions by destination and block reference kind.",
	}, []string{"method", "route", "ref"})

	MetricLegacyRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "legacy_request_total",
		Help:      "Total number of calls forwarded to the legacy backend.",
	}, []string{"method"})

	MetricLegacyErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "legacy_request_errors_total",
		Help:      "Total number of calls to the legacy backend that failed to produce a response.",
	}, []string{"method", "error"})

	MetricLocalRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "local_request_total",
		Help:      "Total number of requests sent to the local node, by shape.",
	}, []string{"shape"})

	MetricLocalErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "local_request_errors_total",
		Help:      "Total number of requests to the local node that failed at transport level.",
	}, []string{"shape", "error"})

	MetricCacheGetTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "legacy_cache_get_total",
		Help:      "Total number of legacy cache lookups by outcome.",
	}, []string{"connector", "outcome"})

	MetricCacheSetTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "legacy_cache_set_total",
		Help:      "Total number of legacy cache writes by outcome.",
	}, []string{"connector", "outcome"})

	MetricInnerTxCallTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "innertx_call_total",
		Help:      "Total number of calls observed by the internal transaction tracing stage.",
	}, []string{"method", "shape"})

	MetricServerRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "server_request_total",
		Help:      "Total number of payloads received by transport.",
	}, []string{"transport", "shape"})

	MetricWebsocketConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_connections_active",
		Help:      "Number of open websocket connections.",
	})
)

var DefaultHistogramBuckets = []float64{
	0.05, // 50 ms
	0.5,  // 500 ms
	5,    // 5 s
	30,   // 30 s
}

var (
	MetricLegacyRequestDuration,
	MetricLocalRequestDuration *prometheus.HistogramVec
)

func init() {
	if err := SetHistogramBuckets(""); err != nil {
		panic(err)
	}
}

func SetHistogramBuckets(bucketsStr string) error {
	buckets, err := ParseHistogramBuckets(bucketsStr)
	if err != nil {
		return err
	}

	if MetricLegacyRequestDuration != nil {
		prometheus.DefaultRegisterer.Unregister(MetricLegacyRequestDuration)
		prometheus.DefaultRegisterer.Unregister(MetricLocalRequestDuration)
		ResetHandleCache()
	}
	MetricLegacyRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "legacy_request_duration_seconds",
		Help:      "Duration of requests towards the legacy backend.",
		Buckets:   buckets,
	}, []string{"method", "outcome"})

	MetricLocalRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "local_request_duration_seconds",
		Help:      "Duration of requests towards the local node.",
		Buckets:   buckets,
	}, []string{"shape"})

	return nil
}

func ParseHistogramBuckets(bucketsStr string) ([]float64, error) {
	if bucketsStr == "" {
		return DefaultHistogramBuckets, nil
	}

	parts := strings.Split(bucketsStr, ",")
	buckets := make([]float64, 0, len(parts))

	for _, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, value)
	}

	sort.Float64s(buckets)
	return buckets, nil
}
