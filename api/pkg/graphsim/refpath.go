package graphsim

import (
	"fmt"
	"strings"
)

// extractReferences resolves a dotted FHIRPath-like expression against a
// resource and returns the (type, id) pairs it reaches whose type matches
// targetType. It never fails on missing data — only a malformed path
// expression returns a CONFIG error.
//
// Grammar: dot-separated segments. A segment ending in "[x]" iterates a
// list, looking up the bare field name on each element. A plain segment
// descends into an object field, or (implicit broadcast) is applied to
// every element of a list with nulls dropped.
func extractReferences(resource Resource, path string, targetType string) ([]refPair, error) {
	if path == "" {
		return nil, nil
	}
	segments := strings.Split(path, ".")
	for _, s := range segments {
		if s == "" {
			return nil, newError(KindConfig, "", errPathError("empty path segment in %q", path))
		}
	}

	values := []interface{}{map[string]interface{}(resource)}
	for _, seg := range segments {
		iterate := strings.HasSuffix(seg, "[x]")
		field := strings.TrimSuffix(seg, "[x]")
		if field == "" {
			return nil, newError(KindConfig, "", errPathError("empty field name in segment %q of path %q", seg, path))
		}

		var next []interface{}
		for _, v := range values {
			switch tv := v.(type) {
			case map[string]interface{}:
				fv, ok := tv[field]
				if !ok || fv == nil {
					continue
				}
				next = append(next, fv)
			case []interface{}:
				// Implicit broadcast: apply the segment to every element.
				for _, item := range tv {
					m, ok := item.(map[string]interface{})
					if !ok || m == nil {
						continue
					}
					fv, ok := m[field]
					if !ok || fv == nil {
						continue
					}
					next = append(next, fv)
				}
			default:
				// Not a container; nothing to descend into.
			}
		}

		if iterate {
			// The "[x]" segment itself already performed the per-element
			// lookup above (since values at this point may be a list or a
			// single object); now flatten any lists produced so downstream
			// segments see individual elements.
			var flattened []interface{}
			for _, v := range next {
				if list, ok := v.([]interface{}); ok {
					for _, item := range list {
						if item != nil {
							flattened = append(flattened, item)
						}
					}
				} else {
					flattened = append(flattened, v)
				}
			}
			next = flattened
		}

		values = next
		if len(values) == 0 {
			return nil, nil
		}
	}

	var refs []refPair
	for _, v := range values {
		refs = append(refs, referencesFromValue(v, targetType)...)
	}
	return refs, nil
}

// refPair is a resolved (type, id) reference.
type refPair struct {
	Type string
	ID   string
}

// referencesFromValue extracts reference strings from a value that is
// expected to be a Reference object ({reference: "Type/id"}) or a list of
// them, keeping only references whose left-hand type matches targetType.
func referencesFromValue(v interface{}, targetType string) []refPair {
	switch tv := v.(type) {
	case map[string]interface{}:
		ref, _ := tv["reference"].(string)
		if pair, ok := splitReference(ref, targetType); ok {
			return []refPair{pair}
		}
		return nil
	case []interface{}:
		var out []refPair
		for _, item := range tv {
			out = append(out, referencesFromValue(item, targetType)...)
		}
		return out
	case string:
		if pair, ok := splitReference(tv, targetType); ok {
			return []refPair{pair}
		}
		return nil
	default:
		return nil
	}
}

// splitReference splits a FHIR "Type/id" reference string and keeps it
// only if the left side matches targetType (or targetType is empty,
// meaning "any type").
func splitReference(ref, targetType string) (refPair, bool) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return refPair{}, false
	}
	if targetType != "" && parts[0] != targetType {
		return refPair{}, false
	}
	return refPair{Type: parts[0], ID: parts[1]}, true
}

func containsRefToken(params string) bool {
	return strings.Contains(params, "{ref}")
}

type pathError struct{ msg string }

func (e *pathError) Error() string { return e.msg }

func errPathError(format string, args ...interface{}) error {
	return &pathError{msg: fmt.Sprintf(format, args...)}
}
