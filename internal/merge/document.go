package merge

import (
	"fmt"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

// DeleteMarker removes a key when used as a map value, and clears everything
// accumulated so far when used as a list element.
const DeleteMarker = "!delete"

// Key-matching rules for merging top-level list sections. This table is the
// external-facing contract: collections listed here merge by the named field,
// appendSections merge by positional append, and every other list in an
// override replaces the accumulator's list wholesale.
var keyedSections = map[string]string{
	"proxies":      "name",
	"proxy-groups": "name",
}

var appendSections = map[string]bool{
	"rules": true,
}

// parseDocument decodes profile content into a configuration map.
func parseDocument(source, content string) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, &pkgerrors.ParseError{Source: source, Cause: err}
	}
	if doc == nil {
		return nil, &pkgerrors.ParseError{Source: source, Cause: fmt.Errorf("document is empty")}
	}
	return doc, nil
}

// applyOverride merges an override document into the accumulator and returns
// the new accumulator. The accumulator is never mutated in place, so a failed
// later step cannot leave partial state behind.
func applyOverride(acc, override map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(acc))
	for k, v := range acc {
		out[k] = v
	}

	for key, ov := range override {
		if isDeleteMarker(ov) {
			delete(out, key)
			continue
		}

		cur, exists := out[key]
		if !exists {
			out[key] = mergeFresh(key, ov)
			continue
		}
		out[key] = mergeValue(key, cur, ov)
	}
	return out
}

// mergeFresh handles an override key absent from the accumulator. List
// sections still honor delete markers so "rules: ['!delete']" yields an
// empty list even without a base section.
func mergeFresh(key string, ov interface{}) interface{} {
	if list, ok := ov.([]interface{}); ok && (keyedSections[key] != "" || appendSections[key]) {
		return mergeList(key, nil, list)
	}
	return ov
}

func mergeValue(key string, cur, ov interface{}) interface{} {
	switch ovTyped := ov.(type) {
	case map[string]interface{}:
		if curMap, ok := cur.(map[string]interface{}); ok {
			return applyOverride(curMap, ovTyped)
		}
		return ov
	case []interface{}:
		if curList, ok := cur.([]interface{}); ok && (keyedSections[key] != "" || appendSections[key]) {
			return mergeList(key, curList, ovTyped)
		}
		return ov
	default:
		return ov
	}
}

// mergeList merges a top-level collection section. Keyed sections replace
// elements whose key field matches an existing element (keeping the original
// position); everything else appends. A delete marker element clears the
// accumulated list.
func mergeList(section string, cur, ov []interface{}) []interface{} {
	keyField := keyedSections[section]

	out := make([]interface{}, len(cur))
	copy(out, cur)

	for _, elem := range ov {
		if isDeleteMarker(elem) {
			out = out[:0]
			continue
		}

		if keyField != "" {
			if name, ok := elementKey(elem, keyField); ok {
				if idx := indexByKey(out, keyField, name); idx >= 0 {
					out[idx] = elem
					continue
				}
			}
		}
		out = append(out, elem)
	}
	return out
}

func isDeleteMarker(v interface{}) bool {
	s, ok := v.(string)
	return ok && s == DeleteMarker
}

func elementKey(elem interface{}, field string) (string, bool) {
	m, ok := elem.(map[string]interface{})
	if !ok {
		return "", false
	}
	name, ok := m[field].(string)
	return name, ok
}

func indexByKey(list []interface{}, field, name string) int {
	for i, elem := range list {
		if got, ok := elementKey(elem, field); ok && got == name {
			return i
		}
	}
	return -1
}
