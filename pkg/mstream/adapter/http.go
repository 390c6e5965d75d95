package adapter

import (
	"context"

	"github.com/makarski/mstream/pkg/mstream/event"
	"github.com/makarski/mstream/pkg/mstream/httpx"
	"github.com/makarski/mstream/pkg/mstream/schema"
)

// HTTPMiddleware POSTs an event's bytes to a configured resource path and
// replaces raw_bytes with the response body, per spec.md §4.6.
type HTTPMiddleware struct {
	Client         *httpx.Client
	Resource       string
	OutputEncoding schema.Encoding
}

func (m *HTTPMiddleware) Transform(ctx context.Context, evt event.SourceEvent) (event.SourceEvent, error) {
	respBody, err := m.Client.Post(ctx, m.Resource, evt.RawBytes, evt.Encoding, evt.Attributes, evt.IsFramedBatch)
	if err != nil {
		return event.SourceEvent{}, err
	}

	out := evt
	out.RawBytes = respBody
	out.Encoding = m.OutputEncoding
	return out, nil
}

// HTTPSink POSTs an event to its target resource, per spec.md §4.6's Sink
// Adapter contract. The delivery id is synthesized since a plain HTTP
// endpoint does not return one of its own.
type HTTPSink struct {
	Client *httpx.Client
}

func (s *HTTPSink) Publish(ctx context.Context, evt event.SinkEvent, resource string, _ *string) (string, error) {
	_, err := s.Client.Post(ctx, resource, evt.RawBytes, evt.Encoding, evt.Attributes, evt.IsFramedBatch)
	if err != nil {
		return "", err
	}
	return deliveryID(), nil
}
