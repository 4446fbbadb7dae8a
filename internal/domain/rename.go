package domain

import "strings"

// RenameSpec mirrors the shape of a JSON schema and marks the properties to rename.
//
//	{"properties": {"title": {"rename": "name"}, "tags": {"items": {"properties": {"id": {"rename": "key"}}}}}}
type RenameSpec struct {
	Rename     string                 `json:"rename,omitempty" yaml:"rename,omitempty"`
	Properties map[string]*RenameSpec `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items      *RenameSpec            `json:"items,omitempty" yaml:"items,omitempty"`
}

// Empty reports whether the spec renames nothing.
func (r *RenameSpec) Empty() bool {
	if r == nil {
		return true
	}
	if r.Rename != "" {
		return false
	}
	for _, p := range r.Properties {
		if !p.Empty() {
			return false
		}
	}
	return r.Items.Empty()
}

// ApplyRename renames keys of a decoded JSON value following spec.
// Objects are walked through Properties, arrays are broadcast through Items.
// The input is not modified; a new value is returned.
func ApplyRename(value interface{}, spec *RenameSpec) interface{} {
	if spec == nil {
		return value
	}
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			prop, ok := spec.Properties[key]
			if !ok {
				out[key] = val
				continue
			}
			newKey := key
			if prop.Rename != "" {
				newKey = prop.Rename
			}
			out[newKey] = ApplyRename(val, prop)
		}
		return out
	case []interface{}:
		if spec.Items == nil {
			return v
		}
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = ApplyRename(item, spec.Items)
		}
		return out
	default:
		return value
	}
}

func joinURL(host, path string) string {
	if path == "" {
		return host
	}
	return strings.TrimRight(host, "/") + "/" + strings.TrimLeft(path, "/")
}
