package telemetry

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type handleKey struct {
	vec    prometheus.Collector
	labels string
}

// Children of label-bound vectors, cached so the hot path skips the vec lock.
var handles sync.Map // map[handleKey]any

func joinLabels(labels []string) string {
	return strings.Join(labels, "\x1f")
}

// CounterHandle returns the cached child counter for labels.
func CounterHandle(cv *prometheus.CounterVec, labels ...string) prometheus.Counter {
	k := handleKey{vec: cv, labels: joinLabels(labels)}
	if v, ok := handles.Load(k); ok {
		return v.(prometheus.Counter)
	}
	actual, _ := handles.LoadOrStore(k, cv.WithLabelValues(labels...))
	return actual.(prometheus.Counter)
}

// ObserverHandle returns the cached child observer for labels.
func ObserverHandle(hv *prometheus.HistogramVec, labels ...string) prometheus.Observer {
	k := handleKey{vec: hv, labels: joinLabels(labels)}
	if v, ok := handles.Load(k); ok {
		return v.(prometheus.Observer)
	}
	actual, _ := handles.LoadOrStore(k, hv.WithLabelValues(labels...))
	return actual.(prometheus.Observer)
}

// ResetHandleCache drops every cached child. Needed after vectors are re-created.
func ResetHandleCache() {
	handles.Range(func(k, _ any) bool {
		handles.Delete(k)
		return true
	})
}
