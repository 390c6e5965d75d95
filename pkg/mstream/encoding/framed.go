// Package encoding implements the Encoding Codec (C1) and the Framed Batch
// Format (C3): conversion of raw payloads among Avro/JSON/BSON under a
// schema, including the length-prefixed multi-item container.
package encoding

import (
	"encoding/binary"

	"github.com/makarski/mstream/pkg/mstream/merr"
	"github.com/makarski/mstream/pkg/mstream/schema"
)

const framePrefixLen = 5 // 4-byte count + 1-byte content type

// FramedWriter incrementally builds a Framed Batch, patching the count
// placeholder on Finish. Grounded on
// original_source/src/encoding/framed.rs's FramedWriter.
type FramedWriter struct {
	buf   []byte
	count uint32
}

// NewFramedWriter starts a new frame declaring contentType.
func NewFramedWriter(contentType schema.ContentType) *FramedWriter {
	buf := make([]byte, framePrefixLen)
	buf[4] = byte(contentType)
	return &FramedWriter{buf: buf}
}

// AddItem appends one length-prefixed payload.
func (w *FramedWriter) AddItem(item []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(item)))
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, item...)
	w.count++
}

// Finish patches the count placeholder and returns the complete frame.
func (w *FramedWriter) Finish() []byte {
	binary.LittleEndian.PutUint32(w.buf[0:4], w.count)
	return w.buf
}

// EncodeFrame is a convenience wrapper building a complete frame from a
// slice of items in one call.
func EncodeFrame(items [][]byte, contentType schema.ContentType) []byte {
	w := NewFramedWriter(contentType)
	for _, item := range items {
		w.AddItem(item)
	}
	return w.Finish()
}

// DecodeFrame parses a Framed Batch, returning the contained items and the
// declared content type. It rejects truncated frames, per spec.md §4.3.
func DecodeFrame(data []byte) ([][]byte, schema.ContentType, error) {
	if len(data) < framePrefixLen {
		return nil, 0, merr.EncodingError(merr.SubTruncatedFrame, "frame shorter than %d-byte prefix: got %d bytes", framePrefixLen, len(data))
	}

	count := binary.LittleEndian.Uint32(data[0:4])
	contentType := schema.ContentType(data[4])

	items := make([][]byte, 0, count)
	offset := framePrefixLen
	for i := uint32(0); i < count; i++ {
		if offset+4 > len(data) {
			return nil, 0, merr.EncodingError(merr.SubTruncatedFrame, "truncated item length at offset %d", offset)
		}
		itemLen := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
		offset += 4
		if offset+itemLen > len(data) {
			return nil, 0, merr.EncodingError(merr.SubTruncatedFrame, "truncated item payload at offset %d (need %d bytes)", offset, itemLen)
		}
		items = append(items, data[offset:offset+itemLen])
		offset += itemLen
	}

	return items, contentType, nil
}
