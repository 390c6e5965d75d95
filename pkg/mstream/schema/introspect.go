package schema

import (
	"context"
	"sort"

	"github.com/pingcap/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/makarski/mstream/pkg/mstream/merr"
)

// Variant is one proposed JSON Schema grouping produced by Introspect, tagged
// with the share of the sample it accounts for, per spec.md §4.2's
// derivation helper.
type Variant struct {
	SharePercent float64
	SampleCount  int
	Schema       map[string]interface{}
}

// Introspector scans a sample of documents from a MongoDB collection and
// proposes JSON Schema variants, grounded on
// original_source/src/schema/introspect.rs.
type Introspector struct {
	Collection *mongo.Collection
}

// Introspect samples count documents via $sample, groups them by
// type-conflict fingerprint, and returns one Variant per group, sorted by
// descending share.
func (in *Introspector) Introspect(ctx context.Context, count int64) ([]Variant, error) {
	cursor, err := in.Collection.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$sample", Value: bson.D{{Key: "size", Value: count}}}},
	}, options.Aggregate())
	if err != nil {
		return nil, errors.Annotate(err, "schema.Introspect: sample")
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Annotate(err, "schema.Introspect: decode sample")
	}
	if len(docs) == 0 {
		return nil, merr.EncodingError(merr.SubUnsupportedSchema, "introspect: empty sample")
	}

	stats := collectFieldStats(docs)
	conflicts := findConflicts(stats)
	groups := groupByConflicts(docs, conflicts)

	total := len(docs)
	variants := make([]Variant, 0, len(groups))
	for _, group := range groups {
		variants = append(variants, Variant{
			SharePercent: float64(len(group)) / float64(total) * 100,
			SampleCount:  len(group),
			Schema:       buildSchema(group),
		})
	}

	sort.Slice(variants, func(i, j int) bool {
		return variants[i].SharePercent > variants[j].SharePercent
	})
	return variants, nil
}

// fieldTypeCounts maps a dot-path field name to a count per bsonTypeName.
type fieldTypeCounts map[string]map[string]int

func collectFieldStats(docs []bson.M) fieldTypeCounts {
	stats := fieldTypeCounts{}
	for _, doc := range docs {
		collectDocTypes(doc, "", stats)
	}
	return stats
}

func collectDocTypes(doc bson.M, prefix string, stats fieldTypeCounts) {
	for key, value := range doc {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		typeName := bsonTypeName(value)
		if stats[path] == nil {
			stats[path] = map[string]int{}
		}
		stats[path][typeName]++

		if nested, ok := value.(bson.M); ok {
			collectDocTypes(nested, path, stats)
		} else if nested, ok := value.(map[string]interface{}); ok {
			collectDocTypes(bson.M(nested), path, stats)
		}
	}
}

func findConflicts(stats fieldTypeCounts) []string {
	var conflicts []string
	for field, types := range stats {
		nonNull := 0
		for typeName := range types {
			if typeName != "null" {
				nonNull++
			}
		}
		if nonNull > 1 {
			conflicts = append(conflicts, field)
		}
	}
	sort.Strings(conflicts)
	return conflicts
}

func groupByConflicts(docs []bson.M, conflicts []string) map[string][]bson.M {
	groups := map[string][]bson.M{}
	for _, doc := range docs {
		fp := computeFingerprint(doc, conflicts)
		groups[fp] = append(groups[fp], doc)
	}
	return groups
}

func computeFingerprint(doc bson.M, conflicts []string) string {
	fp := ""
	for _, field := range conflicts {
		val := getNestedField(doc, field)
		fp += field + "=" + bsonTypeName(val) + ";"
	}
	return fp
}

func getNestedField(doc bson.M, path string) interface{} {
	cur := interface{}(doc)
	for _, part := range splitPath(path) {
		m, ok := cur.(bson.M)
		if !ok {
			if mm, ok2 := cur.(map[string]interface{}); ok2 {
				m = bson.M(mm)
			} else {
				return nil
			}
		}
		cur = m[part]
	}
	return cur
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

func bsonTypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case int32, int64, int:
		return "integer"
	case float64, float32:
		return "number"
	case string:
		return "string"
	case bson.M, map[string]interface{}:
		return "object"
	case bson.A, []interface{}:
		return "array"
	case primitive.ObjectID:
		return "objectId"
	default:
		return "unknown"
	}
}

func buildSchema(docs []bson.M) map[string]interface{} {
	props := map[string]interface{}{}
	for _, doc := range docs {
		for key, value := range doc {
			if _, exists := props[key]; !exists {
				props[key] = map[string]interface{}{"type": bsonTypeName(value)}
			}
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
}
