package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidArguments is wrapped by every argument decoding failure.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// DecodeArguments decodes raw tool arguments into dst.
//
// Arguments must be a JSON object. An object whose only key is "request"
// holding an object is unwrapped first. A bare string is accepted only when
// primary names the tool's main string field, and is assigned to it. Any
// other shape is rejected.
func DecodeArguments(raw any, dst any, primary string) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	var shape any
	if err := json.Unmarshal(b, &shape); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	switch v := shape.(type) {
	case map[string]any:
		if inner, ok := v["request"].(map[string]any); ok && len(v) == 1 {
			b, _ = json.Marshal(inner)
		}
	case string:
		if primary == "" {
			return fmt.Errorf("%w: expected an object, got a string", ErrInvalidArguments)
		}
		b, _ = json.Marshal(map[string]string{primary: v})
	case nil:
		b = []byte("{}")
	default:
		return fmt.Errorf("%w: expected an object, got %T", ErrInvalidArguments, shape)
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
