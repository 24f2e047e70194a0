package broker

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode unmarshals data into T and enforces its `validate` tags.
// Types implementing Validate() error get an extra semantic check.
func Decode[T any](data []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, &DecodeError{Err: err}
	}

	if err := validate.Struct(msg); err != nil {
		return msg, &DecodeError{Err: err}
	}

	if v, ok := any(msg).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return msg, &DecodeError{Err: err}
		}
	}

	return msg, nil
}

// Encode serializes message to JSON with every object's keys sorted, so equal
// messages always produce identical bytes. HTML characters are left unescaped.
// A []byte message is sent as is.
func Encode(message any) ([]byte, error) {
	if raw, ok := message.([]byte); ok {
		return raw, nil
	}

	raw, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var tree any
	if err := decoder.Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to normalize message: %w", err)
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(tree); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
