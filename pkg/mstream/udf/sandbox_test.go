package udf

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makarski/mstream/pkg/mstream/event"
	"github.com/makarski/mstream/pkg/mstream/schema"
)

func TestTransformAppliesMaskingStdlib(t *testing.T) {
	src := `
function transform(data, attributes) {
	data.email = mask_email(data.email);
	return result(data, attributes);
}
`
	sb, err := NewFromSource(src)
	require.NoError(t, err)

	in := event.SourceEvent{
		RawBytes: mustJSON(t, map[string]interface{}{"email": "jane.doe@example.com"}),
		Encoding: schema.EncodingJSON,
	}

	out, err := sb.Transform(context.Background(), in)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out.RawBytes, &decoded))
	assert.Equal(t, "j***@example.com", decoded["email"])
}

func TestTransformPreservesAttributesByDefault(t *testing.T) {
	src := `
function transform(data, attributes) {
	return result(data);
}
`
	sb, err := NewFromSource(src)
	require.NoError(t, err)

	in := event.SourceEvent{
		RawBytes:   mustJSON(t, map[string]interface{}{"v": 1}),
		Encoding:   schema.EncodingJSON,
		Attributes: map[string]string{"trace-id": "abc"},
	}

	out, err := sb.Transform(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "abc", out.Attributes["trace-id"])
}

func TestNewFromSourceRejectsMissingTransform(t *testing.T) {
	_, err := NewFromSource(`function notTransform() { return 1; }`)
	require.Error(t, err)
}

func TestNewFromSourceRejectsCompileError(t *testing.T) {
	_, err := NewFromSource(`function transform(data, attributes) { return )(; }`)
	require.Error(t, err)
}

func TestDisabledGlobalsAreUnavailable(t *testing.T) {
	src := `
function transform(data, attributes) {
	eval("1+1");
	return result(data, attributes);
}
`
	sb, err := NewFromSource(src)
	require.NoError(t, err)

	in := event.SourceEvent{RawBytes: mustJSON(t, map[string]interface{}{}), Encoding: schema.EncodingJSON}
	_, err = sb.Transform(context.Background(), in)
	require.Error(t, err)
}

func TestTransformInterruptsOnContextCancellation(t *testing.T) {
	src := `
function transform(data, attributes) {
	while (true) {}
}
`
	sb, err := NewFromSource(src)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	in := event.SourceEvent{RawBytes: mustJSON(t, map[string]interface{}{}), Encoding: schema.EncodingJSON}
	_, err = sb.Transform(ctx, in)
	require.Error(t, err)
}

func TestAggregationStdlib(t *testing.T) {
	src := `
function transform(data, attributes) {
	return result({total: sum(data.values), average: avg(data.values)});
}
`
	sb, err := NewFromSource(src)
	require.NoError(t, err)

	in := event.SourceEvent{
		RawBytes: mustJSON(t, map[string]interface{}{"values": []interface{}{1, 2, 3, 4}}),
		Encoding: schema.EncodingJSON,
	}
	out, err := sb.Transform(context.Background(), in)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out.RawBytes, &decoded))
	assert.Equal(t, float64(10), decoded["total"])
	assert.Equal(t, float64(2.5), decoded["average"])
}

func TestValidateReportsMissingTransform(t *testing.T) {
	diags := Validate(`function helper() { return 1; }`)
	require.NotEmpty(t, diags)
	assert.Equal(t, SeverityError, diags[0].Severity)
}

func TestValidateReportsDisabledIdentifier(t *testing.T) {
	diags := Validate(`
function transform(data, attributes) {
	eval("x");
	return result(data, attributes);
}
`)
	found := false
	for _, d := range diags {
		if strings.Contains(d.Message, "eval") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateScriptFilename(t *testing.T) {
	require.NoError(t, ValidateScriptFilename("transform.js"))
	require.Error(t, ValidateScriptFilename("../transform.js"))
	require.Error(t, ValidateScriptFilename("sub/transform.js"))
	require.Error(t, ValidateScriptFilename("transform.rhai"))
}

func TestCompletionsCoversCuratedStdlib(t *testing.T) {
	completions := Completions()
	labels := map[string]bool{}
	for _, c := range completions {
		labels[c.Label] = true
	}
	for _, want := range []string{"mask_email", "mask_phone", "hash_sha256", "sum", "group_by", "pluck"} {
		assert.True(t, labels[want], "missing completion for %s", want)
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
