package adapter

import (
	"context"

	"github.com/makarski/mstream/pkg/mstream/event"
	"github.com/makarski/mstream/pkg/mstream/udf"
)

// UDFMiddleware adapts a udf.Sandbox to the Middleware interface, the Go
// equivalent of original_source/src/middleware/udf/rhai/mod.rs's
// RhaiMiddleware implementing the Middleware trait.
type UDFMiddleware struct {
	Sandbox *udf.Sandbox
}

func (m *UDFMiddleware) Transform(ctx context.Context, evt event.SourceEvent) (event.SourceEvent, error) {
	return m.Sandbox.Transform(ctx, evt)
}
