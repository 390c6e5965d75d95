package encoding

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/makarski/mstream/pkg/mstream/schema"
)

// BSONToDoc decodes BSON bytes into a plain Go value tree (maps, slices,
// strings, numbers), exported for callers outside this package that need the
// same normalized document shape the conversion matrix uses — currently
// pkg/mstream/udf, which hands UDF scripts a plain JS-friendly value.
func BSONToDoc(data []byte) (interface{}, error) {
	return bsonToDoc(data)
}

// DocToBSON encodes a plain Go value tree back to BSON bytes, the inverse of
// BSONToDoc.
func DocToBSON(v interface{}) ([]byte, error) {
	return bson.Marshal(v)
}

// ApplyToItems converts each item from encoding `from` to `to` under schema
// and re-frames the result as a single framed batch, the building block the
// Event Processor's batch mode uses to turn a slice of individually-received
// payloads into one pseudo-event, matching
// original_source/src/schema/encoding.rs's SchemaEncoder::apply_to_items.
func ApplyToItems(items [][]byte, from, to schema.Encoding, sch schema.Schema) ([]byte, error) {
	return applyToItems(items, from, to, sch)
}
