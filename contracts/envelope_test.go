package contracts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	t.Run("assigns ID timestamp and fields", func(t *testing.T) {
		before := time.Now().UnixMilli()
		env := NewEnvelope("ping", json.RawMessage(`{}`))
		after := time.Now().UnixMilli()

		assert.NotEmpty(t, env.ID)
		assert.Equal(t, "ping", env.Type)
		assert.Equal(t, json.RawMessage(`{}`), env.Payload)
		assert.GreaterOrEqual(t, env.Timestamp, before)
		assert.LessOrEqual(t, env.Timestamp, after)
		assert.Nil(t, env.Metadata)
	})

	t.Run("generates unique IDs", func(t *testing.T) {
		a := NewEnvelope("ping", json.RawMessage(`{}`))
		b := NewEnvelope("ping", json.RawMessage(`{}`))
		assert.NotEqual(t, a.ID, b.ID)
	})
}

func TestStructurallyValid(t *testing.T) {
	valid := func() *Envelope {
		return &Envelope{
			ID:        "m1",
			Type:      "ping",
			Payload:   json.RawMessage(`{}`),
			Timestamp: time.Now().UnixMilli(),
		}
	}

	t.Run("valid envelope passes", func(t *testing.T) {
		assert.True(t, valid().StructurallyValid())
	})

	t.Run("nil envelope fails", func(t *testing.T) {
		var env *Envelope
		assert.False(t, env.StructurallyValid())
	})

	t.Run("missing ID fails", func(t *testing.T) {
		env := valid()
		env.ID = ""
		assert.False(t, env.StructurallyValid())
	})

	t.Run("missing type fails", func(t *testing.T) {
		env := valid()
		env.Type = ""
		assert.False(t, env.StructurallyValid())
	})

	t.Run("zero timestamp fails", func(t *testing.T) {
		env := valid()
		env.Timestamp = 0
		assert.False(t, env.StructurallyValid())
	})

	t.Run("missing payload fails", func(t *testing.T) {
		env := valid()
		env.Payload = nil
		assert.False(t, env.StructurallyValid())
	})
}

func TestMetadata(t *testing.T) {
	t.Run("SetMetadata initializes the map", func(t *testing.T) {
		env := NewEnvelope("ping", json.RawMessage(`{}`))
		env.SetMetadata(MetaCompressed, true)

		assert.True(t, env.MetadataBool(MetaCompressed))
	})

	t.Run("MetadataBool is false for missing or non-bool values", func(t *testing.T) {
		env := NewEnvelope("ping", json.RawMessage(`{}`))
		assert.False(t, env.MetadataBool(MetaEncrypted))

		env.SetMetadata(MetaOriginalSize, 2048)
		assert.False(t, env.MetadataBool(MetaOriginalSize))
	})
}

func TestEnvelopeWireFormat(t *testing.T) {
	t.Run("round-trips through JSON", func(t *testing.T) {
		env := NewEnvelope("get_assigned_personnel", json.RawMessage(`{"zone":"north"}`))
		env.SetMetadata(MetaCompressed, true)

		data, err := json.Marshal(env)
		require.NoError(t, err)

		var decoded Envelope
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, env.ID, decoded.ID)
		assert.Equal(t, env.Type, decoded.Type)
		assert.Equal(t, env.Timestamp, decoded.Timestamp)
		assert.JSONEq(t, `{"zone":"north"}`, string(decoded.Payload))
		assert.Equal(t, true, decoded.Metadata[MetaCompressed])
	})

	t.Run("omits empty metadata", func(t *testing.T) {
		env := NewEnvelope("ping", json.RawMessage(`{}`))
		data, err := json.Marshal(env)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "metadata")
	})
}
