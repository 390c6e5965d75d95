package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/makarski/mstream/pkg/mstream/schema"
)

func strPtr(s string) *string { return &s }

func TestFindSchemaReturnsUndefinedWhenNoDefinitions(t *testing.T) {
	sch := findSchema(strPtr("order-v1"), nil)
	assert.True(t, sch.IsUndefined())
}

func TestFindSchemaReturnsUndefinedWhenIDIsNil(t *testing.T) {
	defs := []SchemaDefinition{{SchemaID: "order-v1", Schema: schema.Undefined()}}
	sch := findSchema(nil, defs)
	assert.True(t, sch.IsUndefined())
}

func TestFindSchemaReturnsUndefinedWhenUnmatched(t *testing.T) {
	defs := []SchemaDefinition{{SchemaID: "order-v1", Schema: schema.Undefined()}}
	sch := findSchema(strPtr("order-v2"), defs)
	assert.True(t, sch.IsUndefined())
}

func TestFindSchemaReturnsMatchingDefinition(t *testing.T) {
	avro, err := schema.ParseAvro(`{"type":"record","name":"Order","fields":[{"name":"id","type":"string"}]}`)
	if err != nil {
		t.Fatalf("parse avro schema: %v", err)
	}

	defs := []SchemaDefinition{
		{SchemaID: "order-v1", Schema: avro},
		{SchemaID: "order-v2", Schema: schema.Undefined()},
	}

	got := findSchema(strPtr("order-v1"), defs)
	assert.False(t, got.IsUndefined())
}
