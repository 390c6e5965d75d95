package udf

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// registerStdlib installs the curated function set from
// original_source/src/middleware/udf/rhai/mod.rs's register_api: masking,
// time, aggregation and collection helpers, plus the result() constructor a
// script must use to hand data back to Transform.
func registerStdlib(vm *goja.Runtime) {
	must := func(name string, fn interface{}) {
		if err := vm.Set(name, fn); err != nil {
			panic(fmt.Sprintf("udf: registering %s: %v", name, err))
		}
	}

	must("result", fnResult)

	must("mask_email", fnMaskEmail)
	must("mask_phone", fnMaskPhone)
	must("mask_year_only", fnMaskYearOnly)
	must("hash_sha256", fnHashSHA256)

	must("timestamp_ms", fnTimestampMS)

	must("sum", fnSum)
	must("avg", fnAvg)
	must("min", fnMin)
	must("max", fnMax)
	must("group_by", fnGroupBy)
	must("count_by", fnCountBy)

	must("unique", fnUnique)
	must("flatten", fnFlatten)
	must("pluck", fnPluck)
	must("pick", fnPick)
	must("omit", fnOmit)
}

// fnResult tags a return value as a validated TransformResult so
// parseTransformResult can distinguish "script forgot to call result()" from
// a legitimate output, matching the Rhai port's TransformResult wrapper type
// in original_source/src/middleware/udf/rhai/mod.rs.
func fnResult(data interface{}, attributes map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{
		"__mstream_transform_result__": true,
		"data":                         data,
	}
	if attributes != nil {
		out["attributes"] = attributes
	}
	return out
}

func fnMaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return email
	}
	local, domain := email[:at], email[at+1:]
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + "@" + domain
	}
	return string(local[0]) + "***@" + domain
}

func fnMaskPhone(phone string) string {
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits <= 4 {
		return phone
	}
	keep := 4
	seen := 0
	out := make([]rune, 0, len(phone))
	runes := []rune(phone)
	for i := len(runes) - 1; i >= 0; i-- {
		r := runes[i]
		if r >= '0' && r <= '9' {
			seen++
			if seen <= keep {
				out = append([]rune{r}, out...)
			} else {
				out = append([]rune{'*'}, out...)
			}
		} else {
			out = append([]rune{r}, out...)
		}
	}
	return string(out)
}

func fnMaskYearOnly(dateStr string) string {
	if len(dateStr) >= 4 {
		return dateStr[:4]
	}
	return dateStr
}

func fnHashSHA256(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func fnTimestampMS() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

func toFloatSlice(values []interface{}) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		switch n := v.(type) {
		case float64:
			out = append(out, n)
		case int64:
			out = append(out, float64(n))
		case int:
			out = append(out, float64(n))
		}
	}
	return out
}

func fnSum(values []interface{}) float64 {
	total := 0.0
	for _, f := range toFloatSlice(values) {
		total += f
	}
	return total
}

func fnAvg(values []interface{}) float64 {
	floats := toFloatSlice(values)
	if len(floats) == 0 {
		return 0
	}
	return fnSum(values) / float64(len(floats))
}

func fnMin(values []interface{}) interface{} {
	floats := toFloatSlice(values)
	if len(floats) == 0 {
		return nil
	}
	m := floats[0]
	for _, f := range floats[1:] {
		if f < m {
			m = f
		}
	}
	return m
}

func fnMax(values []interface{}) interface{} {
	floats := toFloatSlice(values)
	if len(floats) == 0 {
		return nil
	}
	m := floats[0]
	for _, f := range floats[1:] {
		if f > m {
			m = f
		}
	}
	return m
}

// fnGroupBy buckets records (plain objects) by the string value of key,
// matching the Rhai port's group_by(array, key) -> map<string, array>.
func fnGroupBy(records []interface{}, key string) map[string][]interface{} {
	out := map[string][]interface{}{}
	for _, r := range records {
		m, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		k := fmt.Sprintf("%v", m[key])
		out[k] = append(out[k], r)
	}
	return out
}

func fnCountBy(records []interface{}, key string) map[string]int {
	out := map[string]int{}
	for _, r := range records {
		m, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		k := fmt.Sprintf("%v", m[key])
		out[k]++
	}
	return out
}

func fnUnique(values []interface{}) []interface{} {
	seen := map[string]bool{}
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		k := fmt.Sprintf("%v", v)
		if !seen[k] {
			seen[k] = true
			out = append(out, v)
		}
	}
	return out
}

func fnFlatten(values []interface{}) []interface{} {
	out := make([]interface{}, 0, len(values))
	var walk func(interface{})
	walk = func(v interface{}) {
		if arr, ok := v.([]interface{}); ok {
			for _, item := range arr {
				walk(item)
			}
			return
		}
		out = append(out, v)
	}
	for _, v := range values {
		walk(v)
	}
	return out
}

func fnPluck(records []interface{}, key string) []interface{} {
	out := make([]interface{}, 0, len(records))
	for _, r := range records {
		if m, ok := r.(map[string]interface{}); ok {
			out = append(out, m[key])
		}
	}
	return out
}

func fnPick(obj map[string]interface{}, keys []interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, k := range keys {
		key, ok := k.(string)
		if !ok {
			continue
		}
		if v, ok := obj[key]; ok {
			out[key] = v
		}
	}
	return out
}

func fnOmit(obj map[string]interface{}, keys []interface{}) map[string]interface{} {
	excluded := map[string]bool{}
	for _, k := range keys {
		if key, ok := k.(string); ok {
			excluded[key] = true
		}
	}
	out := map[string]interface{}{}
	for k, v := range obj {
		if !excluded[k] {
			out[k] = v
		}
	}
	return out
}
