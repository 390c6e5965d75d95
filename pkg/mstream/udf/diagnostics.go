package udf

import (
	"regexp"
	"strings"

	"github.com/dop251/goja"
)

// Severity mirrors spec.md §4.5's diagnostic severities.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a single compile-time finding reported at an editor-style
// line/column range, per spec.md §6's validate_script response shape.
type Diagnostic struct {
	Line      int      `json:"line"`
	Column    int      `json:"column"`
	EndLine   int      `json:"end_line"`
	EndColumn int      `json:"end_column"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

// Validate compiles src and reports parse errors, bracket nesting deeper
// than maxExprDepth, a missing transform declaration, and uses of disabled
// identifiers. The nesting check is source-level only: newRuntime enforces
// the call-depth ceiling at execution time but no expression-depth ceiling,
// and Validate does not check call depth.
func Validate(src string) []Diagnostic {
	var diags []Diagnostic

	if _, err := goja.Compile("transform.js", src, true); err != nil {
		diags = append(diags, parseCompileError(err))
		return diags
	}

	if depth := maxBraceDepth(src); depth > maxExprDepth {
		diags = append(diags, Diagnostic{
			Line: 1, Column: 1, EndLine: 1, EndColumn: 1,
			Message:  "expression nesting exceeds the allowed depth",
			Severity: SeverityError,
		})
	}

	if !hasTransformDeclaration(src) {
		diags = append(diags, Diagnostic{
			Line: 1, Column: 1, EndLine: 1, EndColumn: 1,
			Message:  "script does not declare a transform(data, attributes) function",
			Severity: SeverityError,
		})
	}

	for _, name := range disabledGlobals {
		if usesIdentifier(src, name) {
			diags = append(diags, Diagnostic{
				Line: 1, Column: 1, EndLine: 1, EndColumn: 1,
				Message:  "use of disabled identifier: " + name,
				Severity: SeverityWarning,
			})
		}
	}

	return diags
}

var compileErrLinePattern = regexp.MustCompile(`Line (\d+):(\d+)`)

func parseCompileError(err error) Diagnostic {
	msg := err.Error()
	line, col := 1, 1
	if m := compileErrLinePattern.FindStringSubmatch(msg); m != nil {
		line = atoiSafe(m[1])
		col = atoiSafe(m[2])
	}
	return Diagnostic{
		Line: line, Column: col, EndLine: line, EndColumn: col + 1,
		Message:  msg,
		Severity: SeverityError,
	}
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// maxBraceDepth is a pragmatic source-level proxy for AST expression depth:
// goja does not expose its parsed AST publicly, so nesting of
// {}/[]/() is used as a stand-in for structural depth.
func maxBraceDepth(src string) int {
	depth, max := 0, 0
	for _, r := range src {
		switch r {
		case '{', '[', '(':
			depth++
			if depth > max {
				max = depth
			}
		case '}', ']', ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return max
}

var transformDeclPattern = regexp.MustCompile(`function\s+transform\s*\(`)

func hasTransformDeclaration(src string) bool {
	return transformDeclPattern.MatchString(src) || strings.Contains(src, "transform =")
}

var identifierBoundary = regexp.MustCompile(`[^A-Za-z0-9_]`)

func usesIdentifier(src, name string) bool {
	idx := 0
	for {
		pos := strings.Index(src[idx:], name)
		if pos < 0 {
			return false
		}
		abs := idx + pos
		before := byte(' ')
		if abs > 0 {
			before = src[abs-1]
		}
		after := byte(' ')
		if abs+len(name) < len(src) {
			after = src[abs+len(name)]
		}
		if identifierBoundary.Match([]byte{before}) && identifierBoundary.Match([]byte{after}) {
			return true
		}
		idx = abs + len(name)
	}
}

// Completion is a single entry in the script editor's autocomplete table
// (spec.md §6's list_completions), one per curated stdlib function.
type Completion struct {
	Label         string `json:"label"`
	Kind          string `json:"kind"`
	Detail        string `json:"detail"`
	Documentation string `json:"documentation"`
	InsertText    string `json:"insert_text"`
	IsSnippet     bool   `json:"is_snippet"`
}

// Completions returns the fixed constant table of curated stdlib functions,
// grounded on original_source/src/middleware/udf/rhai/mod.rs's
// describe_api / completion catalogue.
func Completions() []Completion {
	return []Completion{
		fnCompletion("result", "result(data, attributes?)", "Wraps the script's return value as a TransformResult.", "result(${1:data})"),
		fnCompletion("mask_email", "mask_email(email: string) -> string", "Masks the local part of an email address.", "mask_email(${1:email})"),
		fnCompletion("mask_phone", "mask_phone(phone: string) -> string", "Masks all but the last 4 digits of a phone number.", "mask_phone(${1:phone})"),
		fnCompletion("mask_year_only", "mask_year_only(date: string) -> string", "Reduces a date string to its leading year.", "mask_year_only(${1:date})"),
		fnCompletion("hash_sha256", "hash_sha256(value: string) -> string", "Returns the hex-encoded SHA-256 digest of value.", "hash_sha256(${1:value})"),
		fnCompletion("timestamp_ms", "timestamp_ms() -> number", "Returns the current Unix time in milliseconds.", "timestamp_ms()"),
		fnCompletion("sum", "sum(values: number[]) -> number", "Sums a numeric array.", "sum(${1:values})"),
		fnCompletion("avg", "avg(values: number[]) -> number", "Averages a numeric array.", "avg(${1:values})"),
		fnCompletion("min", "min(values: number[]) -> number", "Returns the minimum of a numeric array.", "min(${1:values})"),
		fnCompletion("max", "max(values: number[]) -> number", "Returns the maximum of a numeric array.", "max(${1:values})"),
		fnCompletion("group_by", "group_by(records: object[], key: string) -> object", "Groups records by the string value of key.", "group_by(${1:records}, ${2:key})"),
		fnCompletion("count_by", "count_by(records: object[], key: string) -> object", "Counts records grouped by the string value of key.", "count_by(${1:records}, ${2:key})"),
		fnCompletion("unique", "unique(values: any[]) -> any[]", "Deduplicates an array.", "unique(${1:values})"),
		fnCompletion("flatten", "flatten(values: any[]) -> any[]", "Recursively flattens nested arrays.", "flatten(${1:values})"),
		fnCompletion("pluck", "pluck(records: object[], key: string) -> any[]", "Collects one field from each record.", "pluck(${1:records}, ${2:key})"),
		fnCompletion("pick", "pick(obj: object, keys: string[]) -> object", "Returns an object containing only the given keys.", "pick(${1:obj}, ${2:keys})"),
		fnCompletion("omit", "omit(obj: object, keys: string[]) -> object", "Returns an object without the given keys.", "omit(${1:obj}, ${2:keys})"),
	}
}

func fnCompletion(label, detail, doc, insert string) Completion {
	return Completion{
		Label:         label,
		Kind:          "function",
		Detail:        detail,
		Documentation: doc,
		InsertText:    insert,
		IsSnippet:     strings.Contains(insert, "${"),
	}
}
