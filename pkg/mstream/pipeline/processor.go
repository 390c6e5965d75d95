package pipeline

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/makarski/mstream/pkg/mstream/checkpoint"
	"github.com/makarski/mstream/pkg/mstream/encoding"
	"github.com/makarski/mstream/pkg/mstream/event"
	"github.com/makarski/mstream/pkg/mstream/metrics"
)

// EventProcessor is the Event Processor (C10): the per-job task that drains
// a Source's event channel and drives each SourceEvent through the
// middleware chain and out to every sink. Grounded on
// original_source/src/provision/pipeline/processor.rs's EventHandler.
type EventProcessor struct {
	pipeline *Pipeline
	metrics  *metrics.JobMetricsCounter
}

// NewEventProcessor binds an EventProcessor to pipeline; m may be nil when
// the job has no metrics counter attached.
func NewEventProcessor(pipeline *Pipeline, m *metrics.JobMetricsCounter) *EventProcessor {
	return &EventProcessor{pipeline: pipeline, metrics: m}
}

// Run drains eventsCh until it closes or ctx is cancelled, dispatching to
// the per-event or batch loop per the pipeline's batching configuration.
func (h *EventProcessor) Run(ctx context.Context, eventsCh <-chan event.SourceEvent) error {
	if h.pipeline.IsBatchingEnabled {
		log.Info("starting batch event processor",
			zap.String("job_name", h.pipeline.Name), zap.Int("batch_size", h.pipeline.BatchSize))
		return h.runBatchLoop(ctx, eventsCh, h.pipeline.BatchSize)
	}

	log.Info("starting event processor", zap.String("job_name", h.pipeline.Name))
	return h.runEventLoop(ctx, eventsCh)
}

// runEventLoop consumes the channel one event at a time. A source-schema
// failure aborts the loop; a process_event failure is logged and the loop
// continues, matching processor.rs's run_event_loop.
func (h *EventProcessor) runEventLoop(ctx context.Context, eventsCh <-chan event.SourceEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-eventsCh:
			if !ok {
				log.Info("source listener exited", zap.String("job_name", h.pipeline.Name))
				return nil
			}

			applied, err := evt.ApplySchema(h.pipeline.SourceOutEncoding, h.pipeline.SourceSchema)
			if err != nil {
				return errors.Annotate(err, "failed to apply source schema")
			}

			if err := h.processEvent(ctx, applied); err != nil {
				log.Error("failed to process event",
					zap.String("job_name", h.pipeline.Name), zap.Error(err))
			}
		}
	}
}

// runBatchLoop collects up to batchSize events per round before processing
// them as a single framed-batch event. Discovering the channel closed
// before a batch fills ends the loop entirely, matching processor.rs's
// recv_many-returns-zero bail.
func (h *EventProcessor) runBatchLoop(ctx context.Context, eventsCh <-chan event.SourceEvent, batchSize int) error {
	batch := make([]event.SourceEvent, 0, batchSize)

	for {
		batch = batch[:0]
		for len(batch) < batchSize {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case evt, ok := <-eventsCh:
				if !ok {
					return errors.Errorf("batch event processor exited. connector: %s", h.pipeline.Name)
				}
				batch = append(batch, evt)
			}
		}

		if err := h.processEventBatch(ctx, batch); err != nil {
			log.Error("failed to process batch event",
				zap.String("job_name", h.pipeline.Name), zap.Error(err))
		}
	}
}

func (h *EventProcessor) processEventBatch(ctx context.Context, batch []event.SourceEvent) error {
	if len(batch) == 0 {
		return errors.New("empty event batch")
	}

	sourceEncoding := batch[0].Encoding
	attributes := batch[0].Attributes
	lastCursor := batch[len(batch)-1].Cursor

	payloads := make([][]byte, len(batch))
	for i, evt := range batch {
		payloads[i] = evt.RawBytes
	}

	batchBytes, err := encoding.ApplyToItems(payloads, sourceEncoding, h.pipeline.SourceOutEncoding, h.pipeline.SourceSchema)
	if err != nil {
		return errors.Annotate(err, "apply schema to batch")
	}

	batchEvent := event.SourceEvent{
		RawBytes:      batchBytes,
		Attributes:    attributes,
		Encoding:      h.pipeline.SourceOutEncoding,
		IsFramedBatch: true,
		Cursor:        lastCursor,
	}

	log.Debug("generated source event for batch",
		zap.String("job_name", h.pipeline.Name), zap.Int("size_bytes", len(batchEvent.RawBytes)))

	if err := h.processEvent(ctx, batchEvent); err != nil {
		log.Error("failed to process event",
			zap.String("job_name", h.pipeline.Name), zap.Error(err))
	}
	return nil
}

func (h *EventProcessor) processEvent(ctx context.Context, sourceEvent event.SourceEvent) error {
	eventBytes := uint64(len(sourceEvent.RawBytes))

	transformed, err := h.applyMiddlewares(ctx, sourceEvent)
	if err != nil {
		h.recordEventOutcome(false, eventBytes)
		return err
	}

	// cursor is captured before the sink loop; it is saved below only when
	// every sink succeeded.
	cursor := transformed.Cursor
	allSinksSucceeded := true
	sinksLen := len(h.pipeline.Sinks)

	for i, sinkDef := range h.pipeline.Sinks {
		var evt event.SourceEvent
		if i == sinksLen-1 {
			evt = transformed
		} else {
			evt = transformed.Clone()
		}

		applied, err := evt.ApplySchema(sinkDef.Config.OutputEncoding, sinkDef.Schema)
		if err != nil {
			log.Error("failed to encode for sink",
				zap.String("job_name", h.pipeline.Name),
				zap.String("service_name", sinkDef.Config.ServiceName),
				zap.String("resource", sinkDef.Config.Resource),
				zap.Error(err))
			allSinksSucceeded = false
			continue
		}

		sinkEvent := event.FromSourceEvent(applied, sinkDef.Config.Resource)

		deliveryID, err := sinkDef.Sink.Publish(ctx, sinkEvent, sinkDef.Config.Resource, nil)
		if err != nil {
			log.Error("failed to publish",
				zap.String("job_name", h.pipeline.Name),
				zap.String("service_name", sinkDef.Config.ServiceName),
				zap.String("resource", sinkDef.Config.Resource),
				zap.Error(err))
			allSinksSucceeded = false
			continue
		}

		log.Info("published",
			zap.String("job_name", h.pipeline.Name),
			zap.String("service_name", sinkDef.Config.ServiceName),
			zap.String("resource", sinkDef.Config.Resource),
			zap.String("delivery_id", deliveryID))
	}

	h.recordEventOutcome(allSinksSucceeded, eventBytes)

	if h.pipeline.WithCheckpoints && allSinksSucceeded {
		if err := h.saveCheckpoint(ctx, cursor); err != nil {
			return err
		}
	}

	return nil
}

func (h *EventProcessor) recordEventOutcome(success bool, bytes uint64) {
	if h.metrics == nil {
		return
	}
	if success {
		h.metrics.RecordSuccess(bytes)
	} else {
		h.metrics.RecordError()
	}
}

// saveCheckpoint warns rather than fails when the event carries no cursor,
// matching processor.rs's save_checkpoint.
func (h *EventProcessor) saveCheckpoint(ctx context.Context, cursor []byte) error {
	if len(cursor) == 0 {
		log.Warn("checkpointing: missing cursor in source event", zap.String("job_name", h.pipeline.Name))
		return nil
	}

	cp := checkpoint.Checkpoint{
		JobName:   h.pipeline.Name,
		Cursor:    cursor,
		UpdatedAt: time.Now().UnixNano() / int64(time.Millisecond),
	}
	return h.pipeline.Checkpointer.Save(ctx, cp)
}

// applyMiddlewares runs sourceEvent through every configured middleware
// hop, re-encoding and re-validating against each hop's declared output
// encoding/schema before moving to the next, matching processor.rs's
// apply_middlewares.
func (h *EventProcessor) applyMiddlewares(ctx context.Context, sourceEvent event.SourceEvent) (event.SourceEvent, error) {
	transformed := sourceEvent

	for _, mwDef := range h.pipeline.Middlewares {
		var err error
		transformed, err = mwDef.Middleware.Transform(ctx, transformed)
		if err != nil {
			return event.SourceEvent{}, err
		}

		transformed, err = transformed.ApplySchema(mwDef.Config.OutputEncoding, mwDef.Schema)
		if err != nil {
			return event.SourceEvent{}, errors.Annotatef(err, "middleware: %s:%s. schema_id: %v",
				mwDef.Config.ServiceName, mwDef.Config.Resource, mwDef.Config.SchemaID)
		}
	}

	return transformed, nil
}
