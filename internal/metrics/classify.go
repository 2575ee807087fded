package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Classification Prometheus metrics.
var (
	MentionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neam",
			Name:      "mentions_total",
			Help:      "Mentions by placement outcome",
		},
		[]string{"outcome"}, // "placed" / "dropped"
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neam",
			Name:      "runs_total",
			Help:      "Total classification runs",
		},
		[]string{"mode"},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "neam",
			Name:      "run_duration_seconds",
			Help:      "Classification run duration in seconds, annotation included",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"mode"},
	)

	AnnotationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neam",
			Name:      "annotation_requests_total",
			Help:      "Annotation engine requests by outcome",
		},
		[]string{"source", "status"},
	)

	AnnotationCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neam",
			Name:      "annotation_cache_total",
			Help:      "Annotation cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

var registerOnce sync.Once

// Register registers every neam metric with the default registry. Safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequestDuration)
		prometheus.MustRegister(httpRequestsTotal)
		prometheus.MustRegister(MentionsTotal)
		prometheus.MustRegister(RunsTotal)
		prometheus.MustRegister(RunDuration)
		prometheus.MustRegister(AnnotationRequestsTotal)
		prometheus.MustRegister(AnnotationCacheTotal)
	})
}

// Recorder feeds classification measurements into the Prometheus metrics.
type Recorder struct{}

// RecordAnnotation counts one annotation request.
func (Recorder) RecordAnnotation(source, status string) {
	AnnotationRequestsTotal.WithLabelValues(source, status).Inc()
}

// RecordRun counts one run and its mention outcomes.
func (Recorder) RecordRun(mode string, placed, dropped int, elapsed time.Duration) {
	RunsTotal.WithLabelValues(mode).Inc()
	RunDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	MentionsTotal.WithLabelValues("placed").Add(float64(placed))
	MentionsTotal.WithLabelValues("dropped").Add(float64(dropped))
}

// RecordCache counts one cache lookup. It matches annotate.CacheObserver.
func RecordCache(result string) {
	AnnotationCacheTotal.WithLabelValues(result).Inc()
}
