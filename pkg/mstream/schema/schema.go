// Package schema implements the Schema Handle (C2): a typed wrapper over a
// parsed Avro or JSON schema, or Undefined (pass-through).
package schema

import (
	"encoding/json"

	"github.com/linkedin/goavro/v2"
	"github.com/pingcap/errors"

	"github.com/makarski/mstream/pkg/mstream/merr"
)

// Encoding enumerates the wire encodings a SourceEvent/SinkEvent may carry.
type Encoding int

const (
	EncodingAvro Encoding = iota
	EncodingJSON
	EncodingBSON
)

func (e Encoding) String() string {
	switch e {
	case EncodingAvro:
		return "avro"
	case EncodingJSON:
		return "json"
	case EncodingBSON:
		return "bson"
	default:
		return "unknown"
	}
}

// ContentType is the framed-batch content-type tag, which additionally
// permits Raw (spec.md §3).
type ContentType uint8

const (
	ContentRaw ContentType = iota
	ContentJSON
	ContentBSON
	ContentAvro
)

// ContentTypeFor maps an Encoding to its framed-batch content-type tag.
func ContentTypeFor(e Encoding) ContentType {
	switch e {
	case EncodingJSON:
		return ContentJSON
	case EncodingBSON:
		return ContentBSON
	case EncodingAvro:
		return ContentAvro
	default:
		return ContentRaw
	}
}

// Kind discriminates the Schema sum type.
type Kind int

const (
	KindUndefined Kind = iota
	KindAvro
	KindJSON
)

// Schema is the sum type {Undefined, Avro(parsed), JSON(parsed)} from
// spec.md §3. The zero value is Undefined.
type Schema struct {
	kind  Kind
	avro  *goavro.Codec
	// avroSchemaText is retained because goavro's Codec does not expose a
	// structured schema tree, only its normalized textual form; the Avro
	// conversion matrix in pkg/mstream/encoding needs to inspect field types,
	// which it does by decoding this text into a generic map.
	avroSchemaText string
	jsonDoc        map[string]interface{}
}

// Undefined returns the pass-through schema.
func Undefined() Schema { return Schema{kind: KindUndefined} }

// IsUndefined reports whether s is the pass-through schema.
func (s Schema) IsUndefined() bool { return s.kind == KindUndefined }

// Kind reports which branch of the sum type s occupies.
func (s Schema) Kind() Kind { return s.kind }

// Equal reports structural equality: Schema=Undefined compares equal only
// to another Undefined schema.
func (s Schema) Equal(other Schema) bool {
	if s.kind != other.kind {
		return false
	}
	switch s.kind {
	case KindUndefined:
		return true
	case KindAvro:
		return s.avroSchemaText == other.avroSchemaText
	case KindJSON:
		return string(mustJSON(s.jsonDoc)) == string(mustJSON(other.jsonDoc))
	}
	return false
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

// AvroCodec returns the parsed goavro codec, valid only when Kind()==KindAvro.
func (s Schema) AvroCodec() *goavro.Codec { return s.avro }

// AvroText returns the normalized Avro schema text, valid only when
// Kind()==KindAvro.
func (s Schema) AvroText() string { return s.avroSchemaText }

// JSONDoc returns the parsed JSON Schema document, valid only when
// Kind()==KindJSON.
func (s Schema) JSONDoc() map[string]interface{} { return s.jsonDoc }

// ParseAvro parses text as an Avro schema. Parsing is strict: goavro rejects
// malformed records, matching spec.md §4.2's "Avro parsing must be strict".
func ParseAvro(text string) (Schema, error) {
	codec, err := goavro.NewCodec(text)
	if err != nil {
		return Schema{}, errors.Annotate(
			merr.EncodingError(merr.SubUnsupportedSchema, "parse avro schema: %v", err),
			"schema.ParseAvro",
		)
	}
	return Schema{kind: KindAvro, avro: codec, avroSchemaText: codec.Schema()}, nil
}

// ParseJSON parses text as a JSON Schema document. It is retained as a
// document (spec.md §4.2: "JSON Schema is retained as a document"), not
// compiled into a validator.
func ParseJSON(text string) (Schema, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return Schema{}, errors.Annotate(
			merr.EncodingError(merr.SubUnsupportedSchema, "parse json schema: %v", err),
			"schema.ParseJSON",
		)
	}
	return Schema{kind: KindJSON, jsonDoc: doc}, nil
}

// Parse dispatches on an entry's declared encoding the way SchemaEntry
// (spec.md §3) expects: Avro entries parse as Avro schemas, JSON/BSON
// entries parse as JSON Schema documents (BSON has no schema notation of its
// own, so JSON Schema is reused to describe BSON document shape).
func Parse(text string, encoding Encoding) (Schema, error) {
	switch encoding {
	case EncodingAvro:
		return ParseAvro(text)
	default:
		return ParseJSON(text)
	}
}
