package merge

import (
	"fmt"

	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

// requiredSections must be present at the top level of a merged document for
// the external core to accept it.
var requiredSections = []string{"proxies", "rules"}

// validateDocument checks the minimal structural schema of a merged result.
func validateDocument(doc map[string]interface{}) error {
	for _, section := range requiredSections {
		if _, ok := doc[section]; !ok {
			return &pkgerrors.ValidationError{
				Path:   section,
				Detail: "required section is missing",
			}
		}
	}

	for section, keyField := range keyedSections {
		list, ok := doc[section].([]interface{})
		if !ok {
			continue
		}
		seen := make(map[string]int, len(list))
		for i, elem := range list {
			name, ok := elementKey(elem, keyField)
			if !ok {
				return &pkgerrors.ValidationError{
					Path:   fmt.Sprintf("%s[%d]", section, i),
					Detail: fmt.Sprintf("entry has no %q field", keyField),
				}
			}
			if prev, dup := seen[name]; dup {
				return &pkgerrors.ValidationError{
					Path:   fmt.Sprintf("%s[%d].%s", section, i, keyField),
					Detail: fmt.Sprintf("duplicate name %q (first at %s[%d])", name, section, prev),
				}
			}
			seen[name] = i
		}
	}
	return nil
}
