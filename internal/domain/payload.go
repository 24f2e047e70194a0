package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// requireKeys fails unless every key is present in the object and not null.
// Zero values are valid, so presence cannot be read back from the decoded struct.
func requireKeys(data []byte, keys ...string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	for _, key := range keys {
		value, ok := fields[key]
		if !ok || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return fmt.Errorf("%w: %s is missing", ErrInvalidPayload, key)
		}
	}
	return nil
}

// requireObject fails unless raw holds a JSON object
func requireObject(field string, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: %s must be an object", ErrInvalidPayload, field)
	}
	return nil
}
