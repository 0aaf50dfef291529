// Package serialization converts envelopes to and from their JSON wire form
// at the transport boundary. Decoding is strict: a frame either becomes a
// structurally valid Envelope or a DecodeError, so malformed input never
// reaches business logic.
package serialization

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/ecocart/relay-go/contracts"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// DecodeError reports a raw frame that could not be parsed into a valid
// envelope.
type DecodeError struct {
	Reason string
	Cause  error
}

// Error implements error.
func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("decode envelope: %s", e.Reason)
}

// Unwrap returns the underlying parse error, if any.
func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Codec encodes and decodes envelope frames.
type Codec struct{}

// NewCodec creates a codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode serializes an envelope to its JSON wire form.
func (c *Codec) Encode(env *contracts.Envelope) ([]byte, error) {
	if env == nil {
		return nil, &DecodeError{Reason: "envelope is nil"}
	}
	data, err := jsonAPI.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", env.ID, err)
	}
	return data, nil
}

// Decode parses a raw frame into a typed envelope, rejecting frames that do
// not satisfy the structural contract.
func (c *Codec) Decode(raw []byte) (*contracts.Envelope, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Reason: "frame is empty"}
	}

	var env contracts.Envelope
	if err := jsonAPI.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed JSON", Cause: err}
	}
	if !env.StructurallyValid() {
		return nil, &DecodeError{Reason: "missing required envelope fields"}
	}
	return &env, nil
}
