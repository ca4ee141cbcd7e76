// Package metrics records build outcomes. Components receive a Recorder via
// dependency injection; the default NoopRecorder makes metrics collection
// free when it is not configured.
package metrics

import "time"

// Recorder collects run and pipeline metrics.
type Recorder interface {
	ObservePipelineDuration(revision string, d time.Duration)
	IncPipelineOutcome(outcome string) // outcome: success|failed
	ObserveRunDuration(d time.Duration)
	IncRunOutcome(outcome string) // outcome: success|partial|failed|empty
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObservePipelineDuration(string, time.Duration) {}
func (NoopRecorder) IncPipelineOutcome(string)                     {}
func (NoopRecorder) ObserveRunDuration(time.Duration)              {}
func (NoopRecorder) IncRunOutcome(string)                          {}
