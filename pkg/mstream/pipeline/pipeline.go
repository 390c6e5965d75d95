// Package pipeline implements the Pipeline Builder (C9) and Event Processor
// (C10): resolving a Connector definition into concrete
// source/middleware/sink/schema instances, then running the hot loop that
// moves SourceEvents from the source through the middleware chain and out to
// every sink. Grounded on
// original_source/src/provision/pipeline/mod.rs (builder shape, build
// order, find_schema) and
// original_source/src/provision/pipeline/processor.rs (event loop control
// flow).
package pipeline

import (
	"github.com/makarski/mstream/pkg/mstream/adapter"
	"github.com/makarski/mstream/pkg/mstream/checkpoint"
	"github.com/makarski/mstream/pkg/mstream/config"
	"github.com/makarski/mstream/pkg/mstream/schema"
)

// SchemaDefinition is a resolved entry from a Connector's `schemas` list.
type SchemaDefinition struct {
	SchemaID string
	Schema   schema.Schema
}

// SourceDefinition pairs the constructed Source adapter with its resolved
// schema.
type SourceDefinition struct {
	Source adapter.Source
	Schema schema.Schema
}

// MiddlewareDefinition pairs a constructed Middleware adapter with its
// config hop and resolved schema.
type MiddlewareDefinition struct {
	Config config.ServiceRef
	Schema schema.Schema
	Middleware adapter.Middleware
}

// SinkDefinition pairs a constructed Sink adapter with its config hop and
// resolved schema.
type SinkDefinition struct {
	Config config.ServiceRef
	Schema schema.Schema
	Sink   adapter.Sink
}

// Pipeline is a fully built connector, ready for the Event Processor to run.
// Matches the shape in spec.md §4.7.
type Pipeline struct {
	Name              string
	SourceOutEncoding schema.Encoding
	SourceSchema      schema.Schema
	Source            adapter.Source

	Middlewares []MiddlewareDefinition
	Schemas     []SchemaDefinition
	Sinks       []SinkDefinition

	BatchSize         int
	IsBatchingEnabled bool

	WithCheckpoints bool
	Checkpointer    checkpoint.Checkpointer

	// ServiceDeps names every service_name referenced by this pipeline's
	// source/middlewares/sinks, used by the Job Manager's service-in-use
	// guard (I6).
	ServiceDeps []string
}

// findSchema resolves schemaID against defs, returning Schema::Undefined
// when defs is empty or schemaID is nil/unmatched, matching
// original_source/src/provision/pipeline/mod.rs's find_schema.
func findSchema(schemaID *string, defs []SchemaDefinition) schema.Schema {
	if len(defs) == 0 || schemaID == nil {
		return schema.Undefined()
	}
	for _, d := range defs {
		if d.SchemaID == *schemaID {
			return d.Schema
		}
	}
	return schema.Undefined()
}
