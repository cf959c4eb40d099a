package core

import (
	"maps"

	"github.com/mohae/deepcopy"
)

// CloneMap returns a deep copy of m. Nested maps and slices are not shared.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	if copied, ok := deepcopy.Copy(m).(map[string]any); ok {
		return copied
	}
	return maps.Clone(m)
}
