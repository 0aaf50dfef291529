package contracts

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Metadata keys written by pipeline stages.
const (
	MetaCompressed   = "compressed"
	MetaOriginalSize = "originalSize"
	MetaAlgorithm    = "algorithm"
	MetaEncrypted    = "encrypted"
	MetaCipher       = "cipher"
)

// Envelope wraps messages for transport between the application and the
// backend. ID and Timestamp are assigned at creation and must not change
// afterwards; pipeline transformations record themselves in Metadata.
type Envelope struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Payload   json.RawMessage        `json:"payload"`
	Timestamp int64                  `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewEnvelope creates an envelope with a generated ID and the current time
// in milliseconds since epoch.
func NewEnvelope(messageType string, payload json.RawMessage) *Envelope {
	return &Envelope{
		ID:        uuid.New().String(),
		Type:      messageType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// StructurallyValid reports whether the envelope satisfies the structural
// contract: non-empty ID and Type, positive Timestamp, Payload present.
func (e *Envelope) StructurallyValid() bool {
	if e == nil {
		return false
	}
	return e.ID != "" && e.Type != "" && e.Timestamp > 0 && len(e.Payload) > 0
}

// SetMetadata records a pipeline annotation without touching Payload.
func (e *Envelope) SetMetadata(key string, value interface{}) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
}

// MetadataBool returns the metadata value for key when it is a true boolean.
func (e *Envelope) MetadataBool(key string) bool {
	if e.Metadata == nil {
		return false
	}
	v, ok := e.Metadata[key].(bool)
	return ok && v
}
