package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecocart/relay-go/contracts"
	"github.com/ecocart/relay-go/storage"
)

func testEnvelope(id string) *contracts.Envelope {
	return &contracts.Envelope{
		ID:        id,
		Type:      "ping",
		Payload:   json.RawMessage(`{}`),
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestEnqueueDequeue(t *testing.T) {
	ctx := context.Background()

	t.Run("high priority message round-trips through an empty queue", func(t *testing.T) {
		q := NewQueue(Config{MaxQueueSize: 10})

		id, err := q.Enqueue(ctx, testEnvelope("m1"), WithPriority(contracts.PriorityHigh))
		require.NoError(t, err)
		assert.Equal(t, "m1", id)

		msg, ok := q.Dequeue(ctx)
		require.True(t, ok)
		assert.Equal(t, "m1", msg.Envelope.ID)
		assert.Equal(t, contracts.PriorityHigh, msg.Priority)
		assert.Equal(t, 0, msg.Attempts)
		assert.Equal(t, 0, q.Len())
	})

	t.Run("empty queue returns no message", func(t *testing.T) {
		q := NewQueue(DefaultConfig())
		msg, ok := q.Dequeue(ctx)
		assert.False(t, ok)
		assert.Nil(t, msg)
	})

	t.Run("priority drains before enqueue order", func(t *testing.T) {
		q := NewQueue(DefaultConfig())

		_, err := q.Enqueue(ctx, testEnvelope("low"), WithPriority(contracts.PriorityLow))
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, testEnvelope("high1"), WithPriority(contracts.PriorityHigh))
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, testEnvelope("medium"), WithPriority(contracts.PriorityMedium))
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, testEnvelope("high2"), WithPriority(contracts.PriorityHigh))
		require.NoError(t, err)

		var order []string
		for {
			msg, ok := q.Dequeue(ctx)
			if !ok {
				break
			}
			order = append(order, msg.Envelope.ID)
		}
		assert.Equal(t, []string{"high1", "high2", "medium", "low"}, order)
	})

	t.Run("enqueue rejects envelopes without an ID", func(t *testing.T) {
		q := NewQueue(DefaultConfig())
		_, err := q.Enqueue(ctx, &contracts.Envelope{Type: "ping"})
		assert.Error(t, err)
	})

	t.Run("duplicate IDs are not enqueued twice", func(t *testing.T) {
		q := NewQueue(DefaultConfig())

		first := testEnvelope("m1")
		_, err := q.Enqueue(ctx, first, WithPriority(contracts.PriorityHigh))
		require.NoError(t, err)

		id, err := q.Enqueue(ctx, testEnvelope("m1"), WithPriority(contracts.PriorityLow))
		require.NoError(t, err)
		assert.Equal(t, "m1", id)
		assert.Equal(t, 1, q.Len())

		// The original message is untouched and still resolvable by ID.
		msg, ok := q.Dequeue(ctx)
		require.True(t, ok)
		assert.Same(t, first, msg.Envelope)
		assert.Equal(t, contracts.PriorityHigh, msg.Priority)
		assert.True(t, q.MarkProcessed(ctx, "m1"))
	})

	t.Run("duplicate of an acquired message is ignored", func(t *testing.T) {
		q := NewQueue(DefaultConfig())
		_, err := q.Enqueue(ctx, testEnvelope("m1"))
		require.NoError(t, err)

		_, ok := q.Dequeue(ctx)
		require.True(t, ok)

		_, err = q.Enqueue(ctx, testEnvelope("m1"))
		require.NoError(t, err)
		assert.Equal(t, 0, q.Len())
		assert.True(t, q.MarkProcessed(ctx, "m1"))
	})
}

func TestBoundedSize(t *testing.T) {
	ctx := context.Background()

	t.Run("capacity overflow evicts the oldest of the band", func(t *testing.T) {
		cfg := DefaultConfig()
		q := NewQueue(cfg)

		for i := 0; i <= cfg.MaxQueueSize; i++ {
			_, err := q.Enqueue(ctx, testEnvelope(fmt.Sprintf("m%d", i)))
			require.NoError(t, err)
		}

		assert.Equal(t, cfg.MaxQueueSize, q.Len())

		// Oldest evicted, newest present.
		seen := make(map[string]bool)
		for {
			msg, ok := q.Dequeue(ctx)
			if !ok {
				break
			}
			seen[msg.Envelope.ID] = true
		}
		assert.False(t, seen["m0"])
		assert.True(t, seen[fmt.Sprintf("m%d", cfg.MaxQueueSize)])
	})

	t.Run("low priority arrival cannot displace a full queue of high", func(t *testing.T) {
		q := NewQueue(Config{MaxQueueSize: 2})

		_, err := q.Enqueue(ctx, testEnvelope("h1"), WithPriority(contracts.PriorityHigh))
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, testEnvelope("h2"), WithPriority(contracts.PriorityHigh))
		require.NoError(t, err)

		_, err = q.Enqueue(ctx, testEnvelope("l1"), WithPriority(contracts.PriorityLow))
		assert.ErrorIs(t, err, ErrQueueFull)
		assert.Equal(t, 2, q.Len())
	})

	t.Run("expired messages are evicted before trimming", func(t *testing.T) {
		now := time.Now()
		clock := now
		q := NewQueue(
			Config{MaxQueueSize: 2, MessageTimeout: time.Minute},
			WithClock(func() time.Time { return clock }),
		)

		_, err := q.Enqueue(ctx, testEnvelope("old1"))
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, testEnvelope("old2"))
		require.NoError(t, err)

		clock = now.Add(2 * time.Minute)
		_, err = q.Enqueue(ctx, testEnvelope("fresh"))
		require.NoError(t, err)

		assert.Equal(t, 1, q.Len())
		msg, ok := q.Dequeue(ctx)
		require.True(t, ok)
		assert.Equal(t, "fresh", msg.Envelope.ID)
	})
}

func TestMarkProcessed(t *testing.T) {
	ctx := context.Background()

	t.Run("is idempotent", func(t *testing.T) {
		q := NewQueue(DefaultConfig())
		_, err := q.Enqueue(ctx, testEnvelope("m1"))
		require.NoError(t, err)

		assert.True(t, q.MarkProcessed(ctx, "m1"))
		assert.False(t, q.MarkProcessed(ctx, "m1"))
		assert.Equal(t, 0, q.Len())
	})

	t.Run("resolves an acquired message", func(t *testing.T) {
		q := NewQueue(DefaultConfig())
		_, err := q.Enqueue(ctx, testEnvelope("m1"))
		require.NoError(t, err)

		msg, ok := q.Dequeue(ctx)
		require.True(t, ok)

		assert.True(t, q.MarkProcessed(ctx, msg.Envelope.ID))
		assert.False(t, q.MarkProcessed(ctx, msg.Envelope.ID))
	})
}

func TestMarkForRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("drops the message at the attempt ceiling", func(t *testing.T) {
		q := NewQueue(DefaultConfig())
		_, err := q.Enqueue(ctx, testEnvelope("m1"), WithMaxAttempts(3))
		require.NoError(t, err)

		assert.True(t, q.MarkForRetry(ctx, "m1"))
		assert.True(t, q.MarkForRetry(ctx, "m1"))
		assert.False(t, q.MarkForRetry(ctx, "m1"))

		// Gone: further retries and processing find nothing.
		assert.False(t, q.MarkForRetry(ctx, "m1"))
		assert.False(t, q.MarkProcessed(ctx, "m1"))
		assert.Equal(t, 0, q.Len())
	})

	t.Run("requeues at the back of its priority band", func(t *testing.T) {
		q := NewQueue(DefaultConfig())
		_, err := q.Enqueue(ctx, testEnvelope("first"), WithPriority(contracts.PriorityHigh))
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, testEnvelope("second"), WithPriority(contracts.PriorityHigh))
		require.NoError(t, err)

		assert.True(t, q.MarkForRetry(ctx, "first"))

		msg, ok := q.Dequeue(ctx)
		require.True(t, ok)
		assert.Equal(t, "second", msg.Envelope.ID)
	})

	t.Run("retried high still outranks fresh medium", func(t *testing.T) {
		q := NewQueue(DefaultConfig())
		_, err := q.Enqueue(ctx, testEnvelope("high"), WithPriority(contracts.PriorityHigh))
		require.NoError(t, err)

		require.True(t, q.MarkForRetry(ctx, "high"))

		_, err = q.Enqueue(ctx, testEnvelope("medium"), WithPriority(contracts.PriorityMedium))
		require.NoError(t, err)

		msg, ok := q.Dequeue(ctx)
		require.True(t, ok)
		assert.Equal(t, "high", msg.Envelope.ID)
	})

	t.Run("retrying an acquired message returns it to the queue", func(t *testing.T) {
		q := NewQueue(DefaultConfig())
		_, err := q.Enqueue(ctx, testEnvelope("m1"))
		require.NoError(t, err)

		msg, ok := q.Dequeue(ctx)
		require.True(t, ok)
		assert.Equal(t, 0, q.Len())

		assert.True(t, q.MarkForRetry(ctx, msg.Envelope.ID))
		assert.Equal(t, 1, q.Len())

		again, ok := q.Dequeue(ctx)
		require.True(t, ok)
		assert.Equal(t, "m1", again.Envelope.ID)
		assert.Equal(t, 1, again.Attempts)
	})
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()

	t.Run("queue contents survive a restart", func(t *testing.T) {
		store := storage.NewMemoryStore()

		q := NewQueue(DefaultConfig(), WithStore(store))
		_, err := q.Enqueue(ctx, testEnvelope("m1"), WithPriority(contracts.PriorityHigh))
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, testEnvelope("m2"), WithPriority(contracts.PriorityLow))
		require.NoError(t, err)

		restarted := NewQueue(DefaultConfig(), WithStore(store))
		require.NoError(t, restarted.Load(ctx))
		assert.Equal(t, 2, restarted.Len())

		msg, ok := restarted.Dequeue(ctx)
		require.True(t, ok)
		assert.Equal(t, "m1", msg.Envelope.ID)
		assert.Equal(t, contracts.PriorityHigh, msg.Priority)
	})

	t.Run("acquired messages are redelivered after a restart", func(t *testing.T) {
		store := storage.NewMemoryStore()

		q := NewQueue(DefaultConfig(), WithStore(store))
		_, err := q.Enqueue(ctx, testEnvelope("m1"))
		require.NoError(t, err)

		_, ok := q.Dequeue(ctx)
		require.True(t, ok)
		assert.Equal(t, 0, q.Len())

		// Crash before MarkProcessed: the restarted queue must still
		// hold the message.
		restarted := NewQueue(DefaultConfig(), WithStore(store))
		require.NoError(t, restarted.Load(ctx))
		assert.Equal(t, 1, restarted.Len())
	})

	t.Run("corrupt checkpoint loads as empty", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.Set(ctx, DefaultStorageKey, []byte("{not json")))

		q := NewQueue(DefaultConfig(), WithStore(store))
		require.NoError(t, q.Load(ctx))
		assert.Equal(t, 0, q.Len())
	})

	t.Run("missing checkpoint loads as empty", func(t *testing.T) {
		q := NewQueue(DefaultConfig(), WithStore(storage.NewMemoryStore()))
		require.NoError(t, q.Load(ctx))
		assert.Equal(t, 0, q.Len())
	})

	t.Run("clear removes the checkpoint", func(t *testing.T) {
		store := storage.NewMemoryStore()

		q := NewQueue(DefaultConfig(), WithStore(store))
		_, err := q.Enqueue(ctx, testEnvelope("m1"))
		require.NoError(t, err)

		q.Clear(ctx)
		assert.Equal(t, 0, q.Len())

		_, err = store.Get(ctx, DefaultStorageKey)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
