package encoding

import (
	"encoding/base64"

	"github.com/makarski/mstream/pkg/mstream/merr"
)

// docToAvroNative converts a generic document value (as produced by
// encoding/json or go.mongodb.org/mongo-driver/bson) into the native
// representation goavro expects for t, per the mapping table in spec.md
// §4.1: bool<->boolean, i32<->int, i64<->long, f64<->double, string<->string,
// null<->null, array<->array, document<->record, decimal128<->bytes
// (logicalType=decimal). Grounded on
// original_source/src/encoding/avro.rs's BsonWithSchema::try_from.
func docToAvroNative(value interface{}, t *avroType) (interface{}, error) {
	if t.kind == avroUnion {
		return docToAvroUnion(value, t)
	}

	switch t.kind {
	case avroNull:
		if value != nil {
			return nil, merr.EncodingError(merr.SubTypeMismatch, "expected null, got %T", value)
		}
		return nil, nil
	case avroBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, merr.EncodingError(merr.SubTypeMismatch, "expected boolean, got %T", value)
		}
		return b, nil
	case avroInt:
		n, err := toInt32(value)
		if err != nil {
			return nil, err
		}
		return n, nil
	case avroLong:
		n, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		return n, nil
	case avroDouble:
		n, err := toFloat64(value)
		if err != nil {
			return nil, err
		}
		return n, nil
	case avroString:
		s, ok := value.(string)
		if !ok {
			return nil, merr.EncodingError(merr.SubTypeMismatch, "expected string, got %T", value)
		}
		return s, nil
	case avroDecimal:
		s, ok := value.(string)
		if !ok {
			return nil, merr.EncodingError(merr.SubTypeMismatch, "expected decimal128 string, got %T", value)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			// Accept a raw textual decimal too; callers rarely pre-encode.
			return []byte(s), nil
		}
		return b, nil
	case avroArrayT:
		arr, ok := asSlice(value)
		if !ok {
			return nil, merr.EncodingError(merr.SubTypeMismatch, "expected array, got %T", value)
		}
		out := make([]interface{}, len(arr))
		for i, item := range arr {
			converted, err := docToAvroNative(item, t.item)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case avroEnum:
		s, ok := value.(string)
		if !ok {
			return nil, merr.EncodingError(merr.SubTypeMismatch, "expected enum symbol string, got %T", value)
		}
		for _, sym := range t.symbols {
			if sym == s {
				return s, nil
			}
		}
		return nil, merr.EncodingError(merr.SubEnumSymbolNotFound, "enum symbol not found: %s", s)
	case avroRecord:
		m, ok := asMap(value)
		if !ok {
			return nil, merr.EncodingError(merr.SubTypeMismatch, "expected document for record, got %T", value)
		}
		out := make(map[string]interface{}, len(t.fields))
		for _, f := range t.fields {
			fv, present := m[f.name]
			if !present {
				return nil, merr.EncodingError(merr.SubMissingField, "missing field: %s", f.name)
			}
			converted, err := docToAvroNative(fv, f.typ)
			if err != nil {
				return nil, err
			}
			out[f.name] = converted
		}
		return out, nil
	default:
		return nil, merr.EncodingError(merr.SubUnsupportedSchema, "unsupported avro type kind")
	}
}

// docToAvroUnion realizes a union by position: a nil value picks the null
// branch if present, otherwise the first non-null branch is attempted,
// matching spec.md §4.1. goavro represents a non-null union branch as a
// single-key map {branchTypeName: value}.
func docToAvroUnion(value interface{}, t *avroType) (interface{}, error) {
	if value == nil {
		for _, opt := range t.options {
			if opt.kind == avroNull {
				return nil, nil
			}
		}
		return nil, merr.EncodingError(merr.SubNullInNonNullUnion, "null value has no null branch in union")
	}

	for _, opt := range t.options {
		if opt.kind == avroNull {
			continue
		}
		converted, err := docToAvroNative(value, opt)
		if err != nil {
			continue
		}
		return map[string]interface{}{unionBranchName(opt): converted}, nil
	}
	return nil, merr.EncodingError(merr.SubTypeMismatch, "no union branch accepted value of type %T", value)
}

func unionBranchName(t *avroType) string {
	switch t.kind {
	case avroBoolean:
		return "boolean"
	case avroInt:
		return "int"
	case avroLong:
		return "long"
	case avroDouble:
		return "double"
	case avroString:
		return "string"
	case avroRecord:
		return "record"
	case avroArrayT:
		return "array"
	case avroEnum:
		return "enum"
	case avroDecimal:
		return "bytes.decimal"
	default:
		return "unknown"
	}
}

// avroNativeToDoc is the inverse of docToAvroNative: it converts goavro's
// native representation back into a generic document value.
func avroNativeToDoc(native interface{}, t *avroType) (interface{}, error) {
	if t.kind == avroUnion {
		return avroUnionToDoc(native, t)
	}

	switch t.kind {
	case avroNull:
		return nil, nil
	case avroBoolean, avroInt, avroLong, avroDouble, avroString:
		return native, nil
	case avroDecimal:
		b, ok := native.([]byte)
		if !ok {
			return nil, merr.EncodingError(merr.SubTypeMismatch, "expected bytes for decimal, got %T", native)
		}
		return base64.StdEncoding.EncodeToString(b), nil
	case avroEnum:
		s, ok := native.(string)
		if !ok {
			return nil, merr.EncodingError(merr.SubTypeMismatch, "expected enum symbol, got %T", native)
		}
		return s, nil
	case avroArrayT:
		arr, ok := native.([]interface{})
		if !ok {
			return nil, merr.EncodingError(merr.SubTypeMismatch, "expected array, got %T", native)
		}
		out := make([]interface{}, len(arr))
		for i, item := range arr {
			converted, err := avroNativeToDoc(item, t.item)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case avroRecord:
		m, ok := native.(map[string]interface{})
		if !ok {
			return nil, merr.EncodingError(merr.SubTypeMismatch, "expected record map, got %T", native)
		}
		out := make(map[string]interface{}, len(t.fields))
		for _, f := range t.fields {
			fv, present := m[f.name]
			if !present {
				return nil, merr.EncodingError(merr.SubMissingField, "missing field: %s", f.name)
			}
			converted, err := avroNativeToDoc(fv, f.typ)
			if err != nil {
				return nil, err
			}
			out[f.name] = converted
		}
		return out, nil
	default:
		return nil, merr.EncodingError(merr.SubUnsupportedSchema, "unsupported avro type kind")
	}
}

func avroUnionToDoc(native interface{}, t *avroType) (interface{}, error) {
	if native == nil {
		return nil, nil
	}
	wrapped, ok := native.(map[string]interface{})
	if !ok || len(wrapped) != 1 {
		return nil, merr.EncodingError(merr.SubTypeMismatch, "malformed union value")
	}
	for branchName, inner := range wrapped {
		for _, opt := range t.options {
			if unionBranchName(opt) == branchName {
				return avroNativeToDoc(inner, opt)
			}
		}
	}
	return nil, merr.EncodingError(merr.SubUnsupportedSchema, "unrecognized union branch")
}

func toInt32(value interface{}) (int32, error) {
	switch n := value.(type) {
	case int32:
		return n, nil
	case int:
		return int32(n), nil
	case int64:
		return int32(n), nil
	case float64:
		return int32(n), nil
	default:
		return 0, merr.EncodingError(merr.SubTypeMismatch, "expected int, got %T", value)
	}
}

func toInt64(value interface{}) (int64, error) {
	switch n := value.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, merr.EncodingError(merr.SubTypeMismatch, "expected long, got %T", value)
	}
}

func toFloat64(value interface{}) (float64, error) {
	switch n := value.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, merr.EncodingError(merr.SubTypeMismatch, "expected double, got %T", value)
	}
}

func asMap(value interface{}) (map[string]interface{}, bool) {
	m, ok := value.(map[string]interface{})
	return m, ok
}

func asSlice(value interface{}) ([]interface{}, bool) {
	s, ok := value.([]interface{})
	return s, ok
}
