package graph

import (
	"encoding/json"
	"fmt"
)

// deepCopy creates a deep copy of state S using JSON round-trip serialization.
//
// This works for any Go type that can be JSON-marshaled: primitives, structs
// with exported fields, slices, and maps. Concurrent siblings each receive a
// deep copy so that no node ever observes another node's in-flight writes.
//
// Limitations: unexported fields are not copied, and channels or functions
// will fail to marshal.
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}
