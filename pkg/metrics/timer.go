package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Timer measures a duration and feeds it into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds into the observer.
func (t *Timer) ObserveDuration(obs prometheus.Observer) {
	obs.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed seconds into a histogram vector
// with the given label values.
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, labelValues ...string) {
	vec.WithLabelValues(labelValues...).Observe(t.Duration().Seconds())
}
