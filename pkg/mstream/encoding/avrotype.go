package encoding

import (
	"encoding/json"

	"github.com/makarski/mstream/pkg/mstream/merr"
)

// avroType is a minimal structural model of an Avro schema, built by parsing
// the normalized schema text goavro hands back. It exists because goavro's
// native representation of unions/enums is ambiguous without knowing, at
// each position, which Avro type produced it (a single-key map can be either
// a union branch wrapper or a one-field record) — so the document<->avro
// conversion in convert.go walks avroType alongside the value tree.
//
// Supported kinds mirror spec.md §4.1's matrix; anything else surfaces
// SubUnsupportedSchema.
type avroKind int

const (
	avroNull avroKind = iota
	avroBoolean
	avroInt
	avroLong
	avroDouble
	avroString
	avroRecord
	avroArrayT
	avroUnion
	avroEnum
	avroDecimal
)

type avroType struct {
	kind    avroKind
	fields  []avroField  // record
	item    *avroType    // array
	symbols []string     // enum
	options []*avroType  // union, in declared order
}

type avroField struct {
	name string
	typ  *avroType
}

// namedTypes is a symbol table populated while parsing so that a later named
// reference ("com.example.Foo") resolves to the type defined earlier in the
// same schema, the way Avro's named-type scoping works.
type namedTypes map[string]*avroType

func parseAvroType(text string) (*avroType, error) {
	var raw interface{}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, merr.EncodingError(merr.SubUnsupportedSchema, "parse avro schema json: %v", err)
	}
	names := namedTypes{}
	return parseAvroNode(raw, names)
}

func parseAvroNode(raw interface{}, names namedTypes) (*avroType, error) {
	switch v := raw.(type) {
	case string:
		return primitiveOrNamed(v, names)
	case []interface{}:
		opts := make([]*avroType, 0, len(v))
		for _, o := range v {
			ot, err := parseAvroNode(o, names)
			if err != nil {
				return nil, err
			}
			opts = append(opts, ot)
		}
		return &avroType{kind: avroUnion, options: opts}, nil
	case map[string]interface{}:
		return parseAvroComplex(v, names)
	default:
		return nil, merr.EncodingError(merr.SubUnsupportedSchema, "unrecognized avro schema node: %T", raw)
	}
}

func primitiveOrNamed(name string, names namedTypes) (*avroType, error) {
	switch name {
	case "null":
		return &avroType{kind: avroNull}, nil
	case "boolean":
		return &avroType{kind: avroBoolean}, nil
	case "int":
		return &avroType{kind: avroInt}, nil
	case "long":
		return &avroType{kind: avroLong}, nil
	case "double":
		return &avroType{kind: avroDouble}, nil
	case "string":
		return &avroType{kind: avroString}, nil
	case "float":
		return nil, merr.EncodingError(merr.SubUnsupportedSchema, "avro float (32-bit) is not supported, use double (64-bit) instead")
	case "bytes", "fixed", "map":
		return nil, merr.EncodingError(merr.SubUnsupportedSchema, "avro type %q is not supported", name)
	default:
		if t, ok := names[name]; ok {
			return t, nil
		}
		return nil, merr.EncodingError(merr.SubUnsupportedSchema, "unresolved avro named type: %s", name)
	}
}

func parseAvroComplex(v map[string]interface{}, names namedTypes) (*avroType, error) {
	typ, _ := v["type"].(string)

	if logical, ok := v["logicalType"].(string); ok && logical == "decimal" && typ == "bytes" {
		return &avroType{kind: avroDecimal}, nil
	}
	if logical, ok := v["logicalType"].(string); ok && logical != "decimal" {
		return nil, merr.EncodingError(merr.SubUnsupportedSchema, "avro logical type %q is not supported", logical)
	}

	switch typ {
	case "record":
		t := &avroType{kind: avroRecord}
		if fullName, ok := v["name"].(string); ok {
			names[fullName] = t
		}
		fieldsRaw, _ := v["fields"].([]interface{})
		for _, fr := range fieldsRaw {
			fm, ok := fr.(map[string]interface{})
			if !ok {
				continue
			}
			fname, _ := fm["name"].(string)
			ft, err := parseAvroNode(fm["type"], names)
			if err != nil {
				return nil, err
			}
			t.fields = append(t.fields, avroField{name: fname, typ: ft})
		}
		return t, nil
	case "array":
		item, err := parseAvroNode(v["items"], names)
		if err != nil {
			return nil, err
		}
		return &avroType{kind: avroArrayT, item: item}, nil
	case "enum":
		symbolsRaw, _ := v["symbols"].([]interface{})
		symbols := make([]string, 0, len(symbolsRaw))
		for _, s := range symbolsRaw {
			if str, ok := s.(string); ok {
				symbols = append(symbols, str)
			}
		}
		t := &avroType{kind: avroEnum, symbols: symbols}
		if fullName, ok := v["name"].(string); ok {
			names[fullName] = t
		}
		return t, nil
	case "":
		return nil, merr.EncodingError(merr.SubUnsupportedSchema, "avro schema node missing type")
	default:
		return primitiveOrNamed(typ, names)
	}
}
