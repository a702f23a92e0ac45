package util

import "encoding/json"

// ToMap converts any JSON-serializable value to its map form.
func ToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeepCopyMap clones a parameter bag through its serialized form.
func DeepCopyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil
	}
	out := make(map[string]any, len(in))
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// MergeMaps overlays b onto a copy of a; b wins on key collisions.
func MergeMaps(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
