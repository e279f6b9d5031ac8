package queue

import (
	"fmt"

	"github.com/roach88/growline/internal/codec"
	"github.com/roach88/growline/internal/docstore"
)

// Encode converts v into a stored item.
func Encode(v any) (docstore.Item, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	return docstore.Item(data), nil
}

// Decode converts stored items into values of type T, preserving order.
func Decode[T any](items []docstore.Item) ([]T, error) {
	out := make([]T, 0, len(items))
	for i, it := range items {
		var v T
		if err := codec.Unmarshal(it, &v); err != nil {
			return nil, fmt.Errorf("decode item %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeAny decodes items into generic values for display.
func DecodeAny(items []docstore.Item) ([]any, error) {
	return Decode[any](items)
}

// Telemetry is the element pushed under a variable name for each reading.
type Telemetry struct {
	Timestamp string `cbor:"timestamp" json:"timestamp"`
	Name      string `cbor:"name" json:"name"`
	Value     string `cbor:"value" json:"value"`
}
