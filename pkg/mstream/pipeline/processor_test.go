package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makarski/mstream/pkg/mstream/checkpoint"
	"github.com/makarski/mstream/pkg/mstream/config"
	"github.com/makarski/mstream/pkg/mstream/event"
	"github.com/makarski/mstream/pkg/mstream/metrics"
	"github.com/makarski/mstream/pkg/mstream/schema"
)

type fakeSink struct {
	published []event.SinkEvent
	err       error
}

func (s *fakeSink) Publish(_ context.Context, evt event.SinkEvent, resource string, _ *string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.published = append(s.published, evt)
	return "delivery-1", nil
}

type passthroughMiddleware struct {
	calls int
}

func (m *passthroughMiddleware) Transform(_ context.Context, evt event.SourceEvent) (event.SourceEvent, error) {
	m.calls++
	return evt, nil
}

func basePipeline(sinks []SinkDefinition) *Pipeline {
	return &Pipeline{
		Name:              "test-connector",
		SourceOutEncoding: schema.EncodingJSON,
		SourceSchema:      schema.Undefined(),
		Sinks:             sinks,
		Checkpointer:      checkpoint.NoopCheckpointer{},
	}
}

func TestEventProcessorDeliversToSink(t *testing.T) {
	sink := &fakeSink{}
	p := basePipeline([]SinkDefinition{{
		Config: config.ServiceRef{ServiceName: "svc-a", Resource: "topic-a", OutputEncoding: schema.EncodingJSON},
		Schema: schema.Undefined(),
		Sink:   sink,
	}})

	h := NewEventProcessor(p, nil)
	ch := make(chan event.SourceEvent, 1)
	ch <- event.SourceEvent{RawBytes: []byte(`{"id":1}`), Encoding: schema.EncodingJSON}
	close(ch)

	require.NoError(t, h.Run(context.Background(), ch))
	require.Len(t, sink.published, 1)
	assert.Equal(t, []byte(`{"id":1}`), sink.published[0].RawBytes)
}

func TestEventProcessorRunsMiddlewareChain(t *testing.T) {
	sink := &fakeSink{}
	mw := &passthroughMiddleware{}
	p := basePipeline([]SinkDefinition{{
		Config: config.ServiceRef{ServiceName: "svc-a", Resource: "topic-a", OutputEncoding: schema.EncodingJSON},
		Schema: schema.Undefined(),
		Sink:   sink,
	}})
	p.Middlewares = []MiddlewareDefinition{{
		Config:     config.ServiceRef{ServiceName: "svc-mw", Resource: "script.js", OutputEncoding: schema.EncodingJSON},
		Schema:     schema.Undefined(),
		Middleware: mw,
	}}

	h := NewEventProcessor(p, nil)
	ch := make(chan event.SourceEvent, 1)
	ch <- event.SourceEvent{RawBytes: []byte(`{"id":1}`), Encoding: schema.EncodingJSON}
	close(ch)

	require.NoError(t, h.Run(context.Background(), ch))
	assert.Equal(t, 1, mw.calls)
	require.Len(t, sink.published, 1)
}

func TestEventProcessorClonesForAllButLastSink(t *testing.T) {
	sinkA := &fakeSink{}
	sinkB := &fakeSink{}
	p := basePipeline([]SinkDefinition{
		{Config: config.ServiceRef{ServiceName: "svc-a", Resource: "topic-a", OutputEncoding: schema.EncodingJSON}, Schema: schema.Undefined(), Sink: sinkA},
		{Config: config.ServiceRef{ServiceName: "svc-b", Resource: "topic-b", OutputEncoding: schema.EncodingJSON}, Schema: schema.Undefined(), Sink: sinkB},
	})

	h := NewEventProcessor(p, nil)
	ch := make(chan event.SourceEvent, 1)
	ch <- event.SourceEvent{RawBytes: []byte(`{"id":1}`), Encoding: schema.EncodingJSON}
	close(ch)

	require.NoError(t, h.Run(context.Background(), ch))
	require.Len(t, sinkA.published, 1)
	require.Len(t, sinkB.published, 1)
	assert.Equal(t, sinkA.published[0].RawBytes, sinkB.published[0].RawBytes)
}

func TestEventProcessorRecordsMetricsOnSinkFailure(t *testing.T) {
	sink := &fakeSink{err: assertErr("boom")}
	p := basePipeline([]SinkDefinition{{
		Config: config.ServiceRef{ServiceName: "svc-a", Resource: "topic-a", OutputEncoding: schema.EncodingJSON},
		Schema: schema.Undefined(),
		Sink:   sink,
	}})

	m := metrics.NewJobMetricsCounter("job-x", nil)
	h := NewEventProcessor(p, m)
	ch := make(chan event.SourceEvent, 1)
	ch <- event.SourceEvent{RawBytes: []byte(`{"id":1}`), Encoding: schema.EncodingJSON}
	close(ch)

	require.NoError(t, h.Run(context.Background(), ch))
	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.EventsFailed)
	assert.Equal(t, uint64(0), snap.EventsSucceeded)
}

func TestEventProcessorSavesCheckpointOnSuccess(t *testing.T) {
	sink := &fakeSink{}
	store := checkpoint.NewInMemory()
	p := basePipeline([]SinkDefinition{{
		Config: config.ServiceRef{ServiceName: "svc-a", Resource: "topic-a", OutputEncoding: schema.EncodingJSON},
		Schema: schema.Undefined(),
		Sink:   sink,
	}})
	p.WithCheckpoints = true
	p.Checkpointer = store

	h := NewEventProcessor(p, nil)
	ch := make(chan event.SourceEvent, 1)
	ch <- event.SourceEvent{RawBytes: []byte(`{"id":1}`), Encoding: schema.EncodingJSON, Cursor: []byte("cursor-1")}
	close(ch)

	require.NoError(t, h.Run(context.Background(), ch))

	cp, err := store.Load(context.Background(), "test-connector")
	require.NoError(t, err)
	assert.Equal(t, []byte("cursor-1"), cp.Cursor)
}

func TestEventProcessorMissingCursorDoesNotFailCheckpointing(t *testing.T) {
	sink := &fakeSink{}
	store := checkpoint.NewInMemory()
	p := basePipeline([]SinkDefinition{{
		Config: config.ServiceRef{ServiceName: "svc-a", Resource: "topic-a", OutputEncoding: schema.EncodingJSON},
		Schema: schema.Undefined(),
		Sink:   sink,
	}})
	p.WithCheckpoints = true
	p.Checkpointer = store

	h := NewEventProcessor(p, nil)
	ch := make(chan event.SourceEvent, 1)
	ch <- event.SourceEvent{RawBytes: []byte(`{"id":1}`), Encoding: schema.EncodingJSON}
	close(ch)

	require.NoError(t, h.Run(context.Background(), ch))

	_, err := store.Load(context.Background(), "test-connector")
	require.Error(t, err)
}

func TestEventProcessorBatchModeFramesAndProcesses(t *testing.T) {
	sink := &fakeSink{}
	p := basePipeline([]SinkDefinition{{
		Config: config.ServiceRef{ServiceName: "svc-a", Resource: "topic-a", OutputEncoding: schema.EncodingJSON},
		Schema: schema.Undefined(),
		Sink:   sink,
	}})
	p.IsBatchingEnabled = true
	p.BatchSize = 2

	h := NewEventProcessor(p, nil)
	ch := make(chan event.SourceEvent, 2)
	ch <- event.SourceEvent{RawBytes: []byte(`{"id":1}`), Encoding: schema.EncodingJSON, Cursor: []byte("c1")}
	ch <- event.SourceEvent{RawBytes: []byte(`{"id":2}`), Encoding: schema.EncodingJSON, Cursor: []byte("c2")}
	close(ch)

	err := h.Run(context.Background(), ch)
	require.Error(t, err, "the loop should fail once the channel closes before the next batch fills")
	require.Len(t, sink.published, 1, "the first full batch should still have been processed")
	assert.True(t, sink.published[0].IsFramedBatch)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
