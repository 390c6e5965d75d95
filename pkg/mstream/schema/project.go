package schema

// Project filters doc to the fields declared by a JSON Schema's `properties`
// (objects) or `items` (arrays), dropping anything outside the declared set,
// per spec.md §4.2. Schemas of Kind()!=KindJSON are a no-op; Undefined schemas
// likewise pass doc through unchanged.
func (s Schema) Project(doc interface{}) interface{} {
	if s.kind != KindJSON {
		return doc
	}
	return projectValue(doc, s.jsonDoc)
}

func projectValue(value interface{}, schemaNode map[string]interface{}) interface{} {
	if schemaNode == nil {
		return value
	}

	switch v := value.(type) {
	case map[string]interface{}:
		props, _ := schemaNode["properties"].(map[string]interface{})
		if props == nil {
			return v
		}
		out := make(map[string]interface{}, len(props))
		for key, childSchema := range props {
			val, present := v[key]
			if !present {
				continue
			}
			childNode, _ := childSchema.(map[string]interface{})
			out[key] = projectValue(val, childNode)
		}
		return out
	case []interface{}:
		itemsNode, _ := schemaNode["items"].(map[string]interface{})
		if itemsNode == nil {
			return v
		}
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = projectValue(item, itemsNode)
		}
		return out
	default:
		return v
	}
}
