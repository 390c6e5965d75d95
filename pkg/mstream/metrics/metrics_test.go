package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestJobMetricsCounterAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewJobMetricsCounter("job-a", reg)

	c.RecordSuccess(100)
	c.RecordSuccess(50)
	c.RecordError()

	snap := c.Snapshot()
	assert.Equal(t, uint64(2), snap.EventsSucceeded)
	assert.Equal(t, uint64(1), snap.EventsFailed)
	assert.Equal(t, uint64(150), snap.BytesProcessed)
}

func TestJobMetricsCounterWorksWithoutRegistry(t *testing.T) {
	c := NewJobMetricsCounter("job-b", nil)
	c.RecordSuccess(10)
	assert.Equal(t, uint64(1), c.Snapshot().EventsSucceeded)
}
