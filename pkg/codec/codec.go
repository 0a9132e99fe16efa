// Package codec provides the wire-format marshal/unmarshal helpers shared by
// the metadata cache and the backend layer.
//
// Adapted from the teacher's pkg/utils/encoding.go. Default encoding is JSON
// for portability and debuggability, exactly as the teacher chose; spec.md
// §6 permits "any self-describing binary format provided it is
// forward-compatible and versioned". The JSON records written through this
// package carry no version field of their own (metadatacache's Partition
// type has none).
package codec

import (
	"encoding/json"
	"fmt"
)

// Marshal serializes v to its wire form.
func Marshal(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("codec: cannot marshal nil value")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes data into the value pointed to by v.
func Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("codec: cannot unmarshal empty data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}

// EstimateSize approximates the encoded size of v in bytes, used for memory
// accounting when deciding whether a value fits under a cache size limit
// before it is actually serialized.
func EstimateSize(v interface{}) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}
