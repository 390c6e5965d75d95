package encoding

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/makarski/mstream/pkg/mstream/merr"
	"github.com/makarski/mstream/pkg/mstream/schema"
)

// Apply converts bytes from encoding `from` to encoding `to` under schema,
// handling both single events and framed batches. It is the sole entry point
// for C1, matching spec.md §4.1's `apply(bytes, from, to, schema,
// is_framed_batch) -> bytes` operation.
func Apply(data []byte, from, to schema.Encoding, sch schema.Schema, isFramedBatch bool) ([]byte, error) {
	if isFramedBatch {
		return applyBatch(data, from, to, sch)
	}
	return applySingle(data, from, to, sch)
}

// noConversion mirrors original_source/src/schema/encoding.rs's
// SchemaEncoder::no_conversion: true iff from==to and schema is Undefined,
// grounding property P2 (same-encoding identity).
func noConversion(from, to schema.Encoding, sch schema.Schema) bool {
	return from == to && sch.IsUndefined()
}

func applyBatch(data []byte, from, to schema.Encoding, sch schema.Schema) ([]byte, error) {
	if noConversion(from, to, sch) {
		return data, nil
	}
	items, _, err := DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	return applyToItems(items, from, to, sch)
}

// applyToItems converts each item and re-frames the result, used both for
// batch conversion and for the Event Processor's batch-mode pseudo-event
// construction (pkg/mstream/pipeline).
func applyToItems(items [][]byte, from, to schema.Encoding, sch schema.Schema) ([]byte, error) {
	processed := make([][]byte, len(items))
	for i, item := range items {
		converted, err := applySingle(item, from, to, sch)
		if err != nil {
			return nil, err
		}
		processed[i] = converted
	}
	return EncodeFrame(processed, schema.ContentTypeFor(to)), nil
}

func applySingle(data []byte, from, to schema.Encoding, sch schema.Schema) ([]byte, error) {
	if noConversion(from, to, sch) {
		return data, nil
	}

	switch from {
	case schema.EncodingJSON:
		doc, err := jsonToDoc(data)
		if err != nil {
			return nil, err
		}
		doc = sch.Project(doc)
		return docToEncoding(doc, to, sch)
	case schema.EncodingBSON:
		doc, err := bsonToDoc(data)
		if err != nil {
			return nil, err
		}
		doc = sch.Project(doc)
		return docToEncoding(doc, to, sch)
	case schema.EncodingAvro:
		if sch.Kind() != schema.KindAvro {
			return nil, merr.EncodingError(merr.SubUnsupportedSchema, "avro source requires an avro schema")
		}
		avroTyp, err := parseAvroType(sch.AvroText())
		if err != nil {
			return nil, err
		}
		native, _, err := sch.AvroCodec().NativeFromBinary(data)
		if err != nil {
			return nil, merr.EncodingError(merr.SubTypeMismatch, "decode avro: %v", err)
		}
		if to == schema.EncodingAvro {
			// Round-trip validate: decode then re-encode, which surfaces
			// schema violations without requiring byte-identical output.
			return sch.AvroCodec().BinaryFromNative(nil, native)
		}
		doc, err := avroNativeToDoc(native, avroTyp)
		if err != nil {
			return nil, err
		}
		return docToEncoding(doc, to, schema.Undefined())
	default:
		return nil, merr.EncodingError(merr.SubUnsupportedSchema, "unsupported source encoding")
	}
}

func docToEncoding(doc interface{}, to schema.Encoding, sch schema.Schema) ([]byte, error) {
	switch to {
	case schema.EncodingJSON:
		return json.Marshal(doc)
	case schema.EncodingBSON:
		return bson.Marshal(doc)
	case schema.EncodingAvro:
		if sch.Kind() != schema.KindAvro {
			return nil, merr.EncodingError(merr.SubUnsupportedSchema, "avro target requires an avro schema")
		}
		avroTyp, err := parseAvroType(sch.AvroText())
		if err != nil {
			return nil, err
		}
		native, err := docToAvroNative(doc, avroTyp)
		if err != nil {
			return nil, err
		}
		return sch.AvroCodec().BinaryFromNative(nil, native)
	default:
		return nil, merr.EncodingError(merr.SubUnsupportedSchema, "unsupported target encoding")
	}
}

func jsonToDoc(data []byte) (interface{}, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, merr.EncodingError(merr.SubTypeMismatch, "decode json: %v", err)
	}
	return normalizeJSONNumbers(doc), nil
}

// normalizeJSONNumbers is a no-op placeholder kept for symmetry with
// bsonToDoc's normalization pass; encoding/json already decodes numbers as
// float64, matching docToAvroNative's numeric coercions.
func normalizeJSONNumbers(v interface{}) interface{} { return v }

func bsonToDoc(data []byte) (interface{}, error) {
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		return nil, merr.EncodingError(merr.SubTypeMismatch, "decode bson: %v", err)
	}
	return normalizeBSON(m), nil
}

// normalizeBSON converts bson.M/bson.A/primitive.Decimal128 into the plain
// map[string]interface{}/[]interface{}/string shapes the conversion matrix
// in convert.go expects.
func normalizeBSON(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeBSON(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeBSON(item)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeBSON(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeBSON(item)
		}
		return out
	case primitive.Decimal128:
		return val.String()
	case int32:
		return val
	default:
		return val
	}
}
