package contracts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriority(t *testing.T) {
	t.Run("ordering reflects delivery precedence", func(t *testing.T) {
		assert.True(t, PriorityHigh > PriorityMedium)
		assert.True(t, PriorityMedium > PriorityLow)
	})

	t.Run("String returns wire names", func(t *testing.T) {
		assert.Equal(t, "low", PriorityLow.String())
		assert.Equal(t, "medium", PriorityMedium.String())
		assert.Equal(t, "high", PriorityHigh.String())
	})

	t.Run("ParsePriority accepts mixed case and whitespace", func(t *testing.T) {
		p, err := ParsePriority(" HIGH ")
		require.NoError(t, err)
		assert.Equal(t, PriorityHigh, p)
	})

	t.Run("ParsePriority rejects unknown values", func(t *testing.T) {
		_, err := ParsePriority("urgent")
		assert.Error(t, err)
	})

	t.Run("JSON round-trip via string form", func(t *testing.T) {
		data, err := json.Marshal(PriorityHigh)
		require.NoError(t, err)
		assert.Equal(t, `"high"`, string(data))

		var p Priority
		require.NoError(t, json.Unmarshal(data, &p))
		assert.Equal(t, PriorityHigh, p)
	})

	t.Run("JSON tolerates legacy numeric form", func(t *testing.T) {
		var p Priority
		require.NoError(t, json.Unmarshal([]byte(`2`), &p))
		assert.Equal(t, PriorityHigh, p)
	})

	t.Run("JSON rejects out of range numbers", func(t *testing.T) {
		var p Priority
		assert.Error(t, json.Unmarshal([]byte(`7`), &p))
	})
}
