// Package event defines SourceEvent and SinkEvent (spec.md §3), the values
// that flow from a Source Adapter through the Event Processor to a Sink
// Adapter.
package event

import (
	"github.com/makarski/mstream/pkg/mstream/encoding"
	"github.com/makarski/mstream/pkg/mstream/schema"
)

// SourceEvent is the unit of work the Event Processor consumes. Grounded on
// spec.md §3's data model and
// original_source/src/sink/mod.rs's SourceEvent (extended with the `cursor`
// field processor.rs clearly requires, absent from that earlier snapshot).
type SourceEvent struct {
	RawBytes      []byte
	Attributes    map[string]string
	Encoding      schema.Encoding
	IsFramedBatch bool
	// Cursor is opaque bytes defined by the source kind, nil when the source
	// exposes none.
	Cursor []byte
}

// Clone returns a deep-enough copy for independent mutation by concurrent
// sink hops — RawBytes and Attributes are copied, Cursor is shared since it
// is treated as immutable once emitted.
func (e SourceEvent) Clone() SourceEvent {
	raw := make([]byte, len(e.RawBytes))
	copy(raw, e.RawBytes)

	var attrs map[string]string
	if e.Attributes != nil {
		attrs = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			attrs[k] = v
		}
	}

	return SourceEvent{
		RawBytes:      raw,
		Attributes:    attrs,
		Encoding:      e.Encoding,
		IsFramedBatch: e.IsFramedBatch,
		Cursor:        e.Cursor,
	}
}

// ApplySchema re-encodes e's bytes to targetEncoding under sch, returning a
// new SourceEvent with the updated encoding. Grounded on
// original_source/src/sink/mod.rs's SourceEvent::apply_schema.
func (e SourceEvent) ApplySchema(targetEncoding schema.Encoding, sch schema.Schema) (SourceEvent, error) {
	converted, err := encoding.Apply(e.RawBytes, e.Encoding, targetEncoding, sch, e.IsFramedBatch)
	if err != nil {
		return SourceEvent{}, err
	}
	out := e
	out.RawBytes = converted
	out.Encoding = targetEncoding
	return out, nil
}

// SinkEvent is derived from a SourceEvent just before publication, adding
// the target resource name (spec.md §3).
type SinkEvent struct {
	RawBytes      []byte
	Attributes    map[string]string
	Encoding      schema.Encoding
	IsFramedBatch bool
	Resource      string
}

// FromSourceEvent converts a SourceEvent into a SinkEvent addressed at
// resource.
func FromSourceEvent(e SourceEvent, resource string) SinkEvent {
	return SinkEvent{
		RawBytes:      e.RawBytes,
		Attributes:    e.Attributes,
		Encoding:      e.Encoding,
		IsFramedBatch: e.IsFramedBatch,
		Resource:      resource,
	}
}
