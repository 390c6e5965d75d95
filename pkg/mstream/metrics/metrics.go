// Package metrics implements the per-job counters the Event Processor
// (C10) records into and the Job Manager's aggregate_metrics operation (C12)
// reads back from (job_state_counts reads job storage, not these counters).
// Exposing these over an
// HTTP scrape endpoint is the observability API's concern (spec.md §1 lists
// "metric counters" among the external collaborators); this package only
// owns the counters themselves.
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a point-in-time read of one job's counters, returned by
// JobMetricsCounter.Snapshot for Job Manager's aggregate_metrics().
type Snapshot struct {
	EventsSucceeded uint64
	EventsFailed    uint64
	BytesProcessed  uint64
}

// JobMetricsCounter accumulates one job's processing outcomes. Counts are
// prometheus counters rather than bare atomics so the same values could be
// scraped by an external registry without changing this package; spec.md §5
// calls for "lock-free atomic updates", which prometheus.Counter/Gauge
// already guarantee internally.
type JobMetricsCounter struct {
	jobName string

	eventsSucceeded prometheus.Counter
	eventsFailed    prometheus.Counter
	bytesProcessed  prometheus.Counter
}

// NewJobMetricsCounter builds a counter set for jobName and registers it
// into reg. reg may be nil, in which case the counters still work but are
// not registered anywhere for scraping.
func NewJobMetricsCounter(jobName string, reg *prometheus.Registry) *JobMetricsCounter {
	labels := prometheus.Labels{"job": jobName}

	c := &JobMetricsCounter{
		jobName: jobName,
		eventsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mstream_job_events_succeeded_total",
			Help:        "Events fully delivered to every configured sink.",
			ConstLabels: labels,
		}),
		eventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mstream_job_events_failed_total",
			Help:        "Events with at least one sink or middleware failure.",
			ConstLabels: labels,
		}),
		bytesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mstream_job_bytes_processed_total",
			Help:        "Raw source-event bytes of events fully delivered to every configured sink.",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(c.eventsSucceeded, c.eventsFailed, c.bytesProcessed)
	}
	return c
}

// RecordSuccess records one fully-delivered event of the given size.
func (c *JobMetricsCounter) RecordSuccess(bytes uint64) {
	c.eventsSucceeded.Inc()
	c.bytesProcessed.Add(float64(bytes))
}

// RecordError records one event that failed to reach at least one sink.
func (c *JobMetricsCounter) RecordError() {
	c.eventsFailed.Inc()
}

// Snapshot reads the current counter values via prometheus's own metric
// introspection, since prometheus.Counter exposes no direct Load method.
func (c *JobMetricsCounter) Snapshot() Snapshot {
	return Snapshot{
		EventsSucceeded: counterValue(c.eventsSucceeded),
		EventsFailed:    counterValue(c.eventsFailed),
		BytesProcessed:  counterValue(c.bytesProcessed),
	}
}

func counterValue(c prometheus.Counter) uint64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	if m.Counter == nil {
		return 0
	}
	return uint64(m.Counter.GetValue())
}
