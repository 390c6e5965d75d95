// Package adapter defines the Source, Sink and Middleware adapter contracts
// (C6/C7/C8) and their concrete Kafka/MongoDB/PubSub/HTTP/UDF
// implementations.
package adapter

import (
	"context"

	"github.com/makarski/mstream/pkg/mstream/event"
)

// Source is a long-lived task that pushes SourceEvents into a bounded
// channel until the underlying system is exhausted, errors, or ctx is
// cancelled. Grounded on spec.md §4.6 and
// original_source/src/source/mod.rs's EventSource trait.
type Source interface {
	Listen(ctx context.Context, out chan<- event.SourceEvent) error
}

// Sink accepts a SinkEvent addressed at resource and reports a delivery id
// on success. optionalKey is a partition/ordering key when the underlying
// transport supports one (e.g. a Kafka message key). Implementations own
// their retry policy and must report a terminal error after exhaustion.
type Sink interface {
	Publish(ctx context.Context, evt event.SinkEvent, resource string, optionalKey *string) (deliveryID string, err error)
}

// Middleware transforms one SourceEvent into another — either an HTTP
// round-trip or a sandboxed UDF invocation (spec.md §4.6).
type Middleware interface {
	Transform(ctx context.Context, evt event.SourceEvent) (event.SourceEvent, error)
}
