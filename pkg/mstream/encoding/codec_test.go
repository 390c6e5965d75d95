package encoding

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/makarski/mstream/pkg/mstream/schema"
)

func TestSameEncodingIdentity(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"id":1,"v":"a"}`),
		[]byte(``),
		[]byte(`{"nested":{"a":[1,2,3]}}`),
	}

	for _, p := range payloads {
		out, err := Apply(p, schema.EncodingJSON, schema.EncodingJSON, schema.Undefined(), false)
		require.NoError(t, err)
		require.Equal(t, p, out)
	}
}

func TestJSONToBSONRoundTrip(t *testing.T) {
	input := []byte(`{"id":42,"v":"x"}`)

	bsonBytes, err := Apply(input, schema.EncodingJSON, schema.EncodingBSON, schema.Undefined(), false)
	require.NoError(t, err)
	require.NotEmpty(t, bsonBytes)

	back, err := Apply(bsonBytes, schema.EncodingBSON, schema.EncodingJSON, schema.Undefined(), false)
	require.NoError(t, err)

	doc1, err := jsonToDoc(input)
	require.NoError(t, err)
	doc2, err := jsonToDoc(back)
	require.NoError(t, err)
	require.Equal(t, doc1, doc2)
}

const testAvroSchema = `{
  "type": "record",
  "name": "Event",
  "fields": [
    {"name": "id", "type": "int"},
    {"name": "v", "type": "string"}
  ]
}`

func TestJSONToAvroRoundTrip(t *testing.T) {
	sch, err := schema.ParseAvro(testAvroSchema)
	require.NoError(t, err)

	input := []byte(`{"id":42,"v":"x"}`)
	avroBytes, err := Apply(input, schema.EncodingJSON, schema.EncodingAvro, sch, false)
	require.NoError(t, err)
	require.NotEmpty(t, avroBytes)

	back, err := Apply(avroBytes, schema.EncodingAvro, schema.EncodingJSON, sch, false)
	require.NoError(t, err)
	require.JSONEq(t, string(input), string(back))
}

func TestAvroMissingFieldRejected(t *testing.T) {
	sch, err := schema.ParseAvro(testAvroSchema)
	require.NoError(t, err)

	input := []byte(`{"id":42}`)
	_, err = Apply(input, schema.EncodingJSON, schema.EncodingAvro, sch, false)
	require.Error(t, err)
}

func TestFramedBatchConversion(t *testing.T) {
	items := [][]byte{
		[]byte(`{"id":1,"v":"a"}`),
		[]byte(`{"id":2,"v":"b"}`),
	}
	frame := EncodeFrame(items, schema.ContentJSON)

	sch, err := schema.ParseAvro(testAvroSchema)
	require.NoError(t, err)

	out, err := Apply(frame, schema.EncodingJSON, schema.EncodingAvro, sch, true)
	require.NoError(t, err)

	decoded, content, err := DecodeFrame(out)
	require.NoError(t, err)
	require.Equal(t, schema.ContentAvro, content)
	require.Len(t, decoded, 2)
}
