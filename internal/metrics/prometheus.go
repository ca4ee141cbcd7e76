package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder on a dedicated registry. Batch runs
// export the registry with WriteTextfile at the end of the run.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	pipelineDuration *prometheus.HistogramVec
	pipelineOutcome  *prometheus.CounterVec
	runDuration      prometheus.Histogram
	runOutcome       *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{registry: prometheus.NewRegistry()}

	r.pipelineDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "polybuild_pipeline_duration_seconds",
		Help:    "Duration of one revision's build pipeline.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"revision"})
	r.pipelineOutcome = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polybuild_pipeline_outcomes_total",
		Help: "Pipeline outcomes by result.",
	}, []string{"outcome"})
	r.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "polybuild_run_duration_seconds",
		Help:    "Duration of the whole orchestration run.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	r.runOutcome = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polybuild_run_outcomes_total",
		Help: "Run outcomes by result.",
	}, []string{"outcome"})

	r.registry.MustRegister(r.pipelineDuration, r.pipelineOutcome, r.runDuration, r.runOutcome)
	return r
}

func (r *PrometheusRecorder) ObservePipelineDuration(revision string, d time.Duration) {
	r.pipelineDuration.WithLabelValues(revision).Observe(d.Seconds())
}

func (r *PrometheusRecorder) IncPipelineOutcome(outcome string) {
	r.pipelineOutcome.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	r.runDuration.Observe(d.Seconds())
}

func (r *PrometheusRecorder) IncRunOutcome(outcome string) {
	r.runOutcome.WithLabelValues(outcome).Inc()
}

// WriteTextfile dumps the registry in the textfile-collector format so a
// node exporter can pick the metrics up after the batch run exits.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
