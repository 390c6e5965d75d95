// Package udf implements the UDF Sandbox (C5): compiling and repeatedly
// invoking a user transform script under strict resource ceilings. The
// original engine (Rhai) is substituted with github.com/dop251/goja, the
// pure-Go JS VM used by grafana-k6 and other embeddable-script pack members
// for exactly this "run an untrusted user script with ceilings" shape.
package udf

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/pingcap/errors"

	"github.com/makarski/mstream/pkg/mstream/encoding"
	"github.com/makarski/mstream/pkg/mstream/event"
	"github.com/makarski/mstream/pkg/mstream/merr"
	"github.com/makarski/mstream/pkg/mstream/schema"
)

const (
	// Ceilings per spec.md §4.5. goja exposes no native interpreter-op
	// counter (unlike Rhai's set_max_operations), so the op ceiling is
	// approximated with a watchdog goroutine that interrupts the runtime
	// once a derived time budget elapses — the call-depth ceiling, by
	// contrast, maps exactly onto goja's SetMaxCallStackSize.
	maxOperations  = 1_000_000
	maxCallDepth   = 64
	maxExprDepth   = 32
	// opBudget is the wall-clock stand-in for maxOperations: calibrated so
	// that a tight empty loop of maxOperations iterations finishes within
	// it on reasonably provisioned hardware, with headroom for legitimate
	// scripts that do real per-iteration work.
	opBudget = 2 * time.Second
)

var disabledGlobals = []string{
	"eval", "import", "load_file", "load_script", "open", "close", "read_line", "write", "flush",
}

// Sandbox compiles one script and repeatedly invokes its transform(data,
// attributes) entry point.
type Sandbox struct {
	mu      sync.Mutex
	program *goja.Program
	source  string
}

// NewFromPath resolves scriptPath (absolute, or relative to the current
// working directory) and compiles it, matching
// original_source/src/middleware/udf/rhai/mod.rs's RhaiMiddleware::new.
func NewFromPath(scriptPath string) (*Sandbox, error) {
	abs := scriptPath
	if !filepath.IsAbs(abs) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Annotate(err, "udf.NewFromPath")
		}
		abs = filepath.Join(wd, scriptPath)
	}

	if _, err := os.Stat(abs); err != nil {
		return nil, merr.SandboxError(merr.SubFileNotFound, "script not found: %s", abs)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, merr.SandboxError(merr.SubFileRead, "reading script %s: %v", abs, err)
	}

	return NewFromSource(string(content))
}

// NewFromSource compiles an inline script, matching
// original_source/src/middleware/udf/rhai/mod.rs's with_script.
func NewFromSource(src string) (*Sandbox, error) {
	program, err := goja.Compile("transform.js", src, true)
	if err != nil {
		return nil, merr.SandboxError(merr.SubCompile, "compile script: %v", err)
	}

	sb := &Sandbox{program: program, source: src}
	if err := sb.assertTransformExists(); err != nil {
		return nil, err
	}
	return sb, nil
}

// assertTransformExists runs the program once in a scratch runtime and
// checks that a callable named "transform" declaring two parameters is
// defined, per spec.md §4.5's compile-time validation. When a script defines
// transform more than once, the last definition is the one checked.
func (sb *Sandbox) assertTransformExists() error {
	vm := sb.newRuntime()
	if _, err := vm.RunProgram(sb.program); err != nil {
		return merr.SandboxError(merr.SubCompile, "run script for validation: %v", err)
	}

	fnVal := vm.Get("transform")
	if fnVal == nil || goja.IsUndefined(fnVal) {
		return merr.SandboxError(merr.SubMissingTransformFunction, "no transform function declared")
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return merr.SandboxError(merr.SubMissingTransformFunction, "transform is not callable")
	}
	_ = fn
	if n := fnVal.ToObject(vm).Get("length"); n == nil || n.ToInteger() != 2 {
		return merr.SandboxError(merr.SubMissingTransformFunction, "transform must declare exactly two parameters (data, attributes)")
	}

	if fnVal.ExportType() == nil {
		return merr.SandboxError(merr.SubMissingTransformFunction, "transform has no usable type")
	}
	return nil
}

// newRuntime builds a freshly sandboxed goja.Runtime: disabled globals, call
// stack ceiling, and the curated standard library (masking/time/aggregation/
// collection functions from spec.md §4.5), grounded on
// original_source/src/middleware/udf/rhai/mod.rs's sandboxed_engine/
// configure_sandbox/configure_limits/register_api.
func (sb *Sandbox) newRuntime() *goja.Runtime {
	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallDepth)

	for _, name := range disabledGlobals {
		vm.Set(name, goja.Undefined())
	}

	registerStdlib(vm)
	return vm
}

// Transform decodes evt's raw bytes into a native JS value, invokes
// transform(data, attributes), and re-encodes the result back to evt's
// current encoding. Cancellation is cooperative: the invocation runs inside
// a watchdog that interrupts the runtime once opBudget elapses or ctx is
// cancelled, matching spec.md §4.5's "script runs synchronously... cancel-
// lation is cooperative" contract.
func (sb *Sandbox) Transform(ctx context.Context, evt event.SourceEvent) (event.SourceEvent, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	vm := sb.newRuntime()
	if _, err := vm.RunProgram(sb.program); err != nil {
		return event.SourceEvent{}, merr.SandboxError(merr.SubCompile, "re-run script: %v", err)
	}

	data, err := decodeToNative(evt.RawBytes, evt.Encoding)
	if err != nil {
		return event.SourceEvent{}, err
	}

	attrs := map[string]interface{}{}
	for k, v := range evt.Attributes {
		attrs[k] = v
	}

	fn, ok := goja.AssertFunction(vm.Get("transform"))
	if !ok {
		return event.SourceEvent{}, merr.SandboxError(merr.SubMissingTransformFunction, "transform is not callable")
	}

	done := make(chan struct{})
	timer := time.AfterFunc(opBudget, func() { vm.Interrupt("operation ceiling exceeded") })
	defer timer.Stop()

	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("cancelled")
		case <-done:
		}
	}()

	result, callErr := fn(goja.Undefined(), vm.ToValue(data), vm.ToValue(attrs))
	close(done)

	if callErr != nil {
		if ex, ok := callErr.(*goja.InterruptedError); ok {
			return event.SourceEvent{}, merr.SandboxError(merr.SubExecution, "interrupted: %v", ex)
		}
		return event.SourceEvent{}, merr.SandboxError(merr.SubExecution, "transform execution failed: %v", callErr)
	}

	tr, err := parseTransformResult(result)
	if err != nil {
		return event.SourceEvent{}, err
	}

	rawOut, err := encodeFromNative(tr.Data, evt.Encoding)
	if err != nil {
		return event.SourceEvent{}, err
	}

	out := evt
	out.RawBytes = rawOut
	if tr.Attributes != nil {
		out.Attributes = tr.Attributes
	}
	return out, nil
}

// transformResult is the decoded shape of a TransformResult value, produced
// by the sandbox's result(data[, attributes]) helper (see stdlib.go).
type transformResult struct {
	Data       interface{}
	Attributes map[string]string
}

func parseTransformResult(v goja.Value) (transformResult, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return transformResult{}, merr.SandboxError(merr.SubOutputDecode, "transform returned no result")
	}

	exported := v.Export()
	m, ok := exported.(map[string]interface{})
	if !ok {
		return transformResult{}, merr.SandboxError(merr.SubOutputDecode, "transform must return a TransformResult produced by result()")
	}

	tag, _ := m["__mstream_transform_result__"].(bool)
	if !tag {
		return transformResult{}, merr.SandboxError(merr.SubOutputDecode, "transform must return a TransformResult produced by result()")
	}

	tr := transformResult{Data: m["data"]}
	if attrsRaw, ok := m["attributes"].(map[string]interface{}); ok {
		attrs := make(map[string]string, len(attrsRaw))
		for k, av := range attrsRaw {
			if s, ok := av.(string); ok {
				attrs[k] = s
			} else {
				attrs[k] = fmt.Sprintf("%v", av)
			}
		}
		tr.Attributes = attrs
	}
	return tr, nil
}

func decodeToNative(raw []byte, enc schema.Encoding) (interface{}, error) {
	switch enc {
	case schema.EncodingJSON:
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, merr.EncodingError(merr.SubTypeMismatch, "decode json for script: %v", err)
		}
		return v, nil
	case schema.EncodingBSON:
		doc, err := encoding.BSONToDoc(raw)
		if err != nil {
			return nil, err
		}
		return doc, nil
	case schema.EncodingAvro:
		return nil, merr.SandboxError(merr.SubExecution, "udf middleware requires json or bson input; avro must be converted upstream")
	default:
		return nil, merr.EncodingError(merr.SubUnsupportedSchema, "unsupported encoding for udf input")
	}
}

func encodeFromNative(v interface{}, enc schema.Encoding) ([]byte, error) {
	switch enc {
	case schema.EncodingJSON:
		return json.Marshal(v)
	case schema.EncodingBSON:
		return encoding.DocToBSON(v)
	default:
		return nil, merr.EncodingError(merr.SubUnsupportedSchema, "unsupported encoding for udf output")
	}
}

// ValidateScriptFilename enforces spec.md §4.4's UDF filename contract:
// "script filenames must be a single normal path component ending in
// `.rhai`" — the Go port's equivalent extension is `.js`.
func ValidateScriptFilename(name string) error {
	if name == "" {
		return merr.ConfigError("udf script filename is empty")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return merr.ConfigError("udf script filename must be a single path component: %s", name)
	}
	if !strings.HasSuffix(name, ".js") {
		return merr.ConfigError("udf script filename must end in .js: %s", name)
	}
	return nil
}
