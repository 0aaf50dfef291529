package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ecocart/relay-go/contracts"
	"github.com/ecocart/relay-go/monitor"
	"github.com/ecocart/relay-go/storage"
)

// DefaultStorageKey is the store key queue contents are checkpointed under.
const DefaultStorageKey = "relay:queue"

// Queueing errors.
var (
	ErrQueueFull = errors.New("queue: queue is full")
	ErrExpired   = errors.New("queue: message expired")
)

// Config holds queue settings. It is fixed at construction.
type Config struct {
	// MaxQueueSize bounds the number of ready messages.
	MaxQueueSize int
	// MaxRetries is the default delivery attempt ceiling per message.
	MaxRetries int
	// RetryDelay is the interval the pipeline waits between attempts.
	RetryDelay time.Duration
	// MessageTimeout bounds a message's residency in the queue.
	MessageTimeout time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:   1000,
		MaxRetries:     3,
		RetryDelay:     5 * time.Second,
		MessageTimeout: 5 * time.Minute,
	}
}

// QueuedMessage wraps an envelope with delivery bookkeeping.
type QueuedMessage struct {
	Envelope    *contracts.Envelope `json:"envelope"`
	Priority    contracts.Priority  `json:"priority"`
	Attempts    int                 `json:"attempts"`
	MaxAttempts int                 `json:"maxAttempts"`
	EnqueuedAt  time.Time           `json:"enqueuedAt"`
	Sequence    uint64              `json:"sequence"`

	acquired bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithStore sets the persistence collaborator. Without a store the queue is
// memory-only.
func WithStore(s storage.Store) Option {
	return func(q *Queue) {
		q.store = s
	}
}

// WithStorageKey overrides the checkpoint key.
func WithStorageKey(key string) Option {
	return func(q *Queue) {
		q.storageKey = key
	}
}

// WithMonitor sets the monitoring collaborator.
func WithMonitor(m monitor.Monitor) Option {
	return func(q *Queue) {
		q.monitor = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*QueuedMessage)

// WithPriority sets the message priority (default medium).
func WithPriority(p contracts.Priority) EnqueueOption {
	return func(m *QueuedMessage) {
		m.Priority = p
	}
}

// WithMaxAttempts overrides the delivery attempt ceiling for this message.
func WithMaxAttempts(n int) EnqueueOption {
	return func(m *QueuedMessage) {
		m.MaxAttempts = n
	}
}

// Queue is the bounded persistent priority queue. Safe for concurrent use.
type Queue struct {
	mu         sync.Mutex
	cfg        Config
	ready      []*QueuedMessage          // priority desc, sequence asc
	messages   map[string]*QueuedMessage // ready + acquired, by envelope ID
	seq        uint64
	store      storage.Store
	storageKey string
	monitor    monitor.Monitor
	logger     *slog.Logger
	now        func() time.Time
}

// NewQueue creates a queue with the given configuration.
func NewQueue(cfg Config, opts ...Option) *Queue {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultConfig().MaxQueueSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = DefaultConfig().MessageTimeout
	}

	q := &Queue{
		cfg:        cfg,
		messages:   make(map[string]*QueuedMessage),
		storageKey: DefaultStorageKey,
		monitor:    monitor.Nop{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Config returns the queue configuration.
func (q *Queue) Config() Config {
	return q.cfg
}

// Load restores checkpointed messages from the store. A missing or corrupt
// checkpoint is treated as an empty queue and reported to monitoring, never
// as a fatal error. Messages that were acquired before the restart return
// to the ready list, preserving at-least-once delivery.
func (q *Queue) Load(ctx context.Context) error {
	if q.store == nil {
		return nil
	}

	data, err := q.store.Get(ctx, q.storageKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			q.monitor.CaptureError(fmt.Errorf("queue: load checkpoint: %w", err))
		}
		return nil
	}

	var stored []*QueuedMessage
	if err := json.Unmarshal(data, &stored); err != nil {
		q.monitor.CaptureError(fmt.Errorf("queue: corrupt checkpoint, starting empty: %w", err))
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.ready = q.ready[:0]
	q.messages = make(map[string]*QueuedMessage, len(stored))
	for _, m := range stored {
		if m == nil || m.Envelope == nil || m.Envelope.ID == "" {
			continue
		}
		if m.Sequence >= q.seq {
			q.seq = m.Sequence + 1
		}
		q.messages[m.Envelope.ID] = m
		q.ready = append(q.ready, m)
	}
	sort.SliceStable(q.ready, func(i, j int) bool {
		if q.ready[i].Priority != q.ready[j].Priority {
			return q.ready[i].Priority > q.ready[j].Priority
		}
		return q.ready[i].Sequence < q.ready[j].Sequence
	})

	q.logger.Debug("restored queue checkpoint", "messages", len(q.ready))
	q.monitor.AddBreadcrumb("queue", fmt.Sprintf("restored %d pending messages", len(q.ready)))
	return nil
}

// Enqueue inserts an envelope at the given priority. Envelope IDs
// de-duplicate: an ID already tracked (ready or awaiting resolution) is not
// enqueued again. At capacity it first evicts expired messages, then trims
// the oldest message of the lowest priority band at or below the incoming
// priority; if no such message exists the call fails with ErrQueueFull
// rather than dropping silently.
func (q *Queue) Enqueue(ctx context.Context, env *contracts.Envelope, opts ...EnqueueOption) (string, error) {
	if env == nil || env.ID == "" {
		return "", errors.New("queue: envelope must have an ID")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// Envelope IDs de-duplicate across ready and acquired messages.
	if _, ok := q.messages[env.ID]; ok {
		q.monitor.AddBreadcrumb("queue", fmt.Sprintf("ignored duplicate enqueue of %s", env.ID))
		return env.ID, nil
	}

	msg := &QueuedMessage{
		Envelope:    env,
		Priority:    contracts.PriorityMedium,
		MaxAttempts: q.cfg.MaxRetries,
		EnqueuedAt:  q.now(),
	}
	for _, opt := range opts {
		opt(msg)
	}

	if len(q.ready) >= q.cfg.MaxQueueSize {
		q.cleanupLocked()
	}
	for len(q.ready) >= q.cfg.MaxQueueSize {
		if !q.trimLocked(msg.Priority) {
			err := fmt.Errorf("%w: capacity %d", ErrQueueFull, q.cfg.MaxQueueSize)
			q.monitor.CaptureError(err)
			return "", err
		}
	}

	msg.Sequence = q.seq
	q.seq++
	q.messages[env.ID] = msg
	q.insertLocked(msg)
	q.persistLocked(ctx)

	return env.ID, nil
}

// Dequeue removes and returns the highest-priority, oldest-within-priority
// ready message. The message stays tracked until MarkProcessed or
// MarkForRetry resolves the delivery attempt. An empty queue returns false.
func (q *Queue) Dequeue(ctx context.Context) (*QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ready) == 0 {
		return nil, false
	}

	msg := q.ready[0]
	q.ready = q.ready[1:]
	msg.acquired = true
	q.persistLocked(ctx)
	return msg, true
}

// MarkProcessed removes a message after successful delivery. It is
// idempotent: a second call for the same ID returns false.
func (q *Queue) MarkProcessed(ctx context.Context, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.messages[id]
	if !ok {
		return false
	}

	delete(q.messages, id)
	q.removeReadyLocked(msg)
	q.persistLocked(ctx)
	return true
}

// MarkForRetry records a failed delivery attempt. When the attempt ceiling
// is reached the message is dropped, reported to monitoring, and false is
// returned; otherwise the message moves to the back of its priority band
// and true is returned.
func (q *Queue) MarkForRetry(ctx context.Context, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.messages[id]
	if !ok {
		return false
	}

	msg.Attempts++
	if msg.Attempts >= msg.MaxAttempts {
		delete(q.messages, id)
		q.removeReadyLocked(msg)
		q.persistLocked(ctx)
		q.monitor.CaptureError(fmt.Errorf("queue: message %s dropped after %d attempts", id, msg.Attempts))
		return false
	}

	q.removeReadyLocked(msg)
	msg.acquired = false
	msg.Sequence = q.seq
	q.seq++
	q.insertLocked(msg)
	q.persistLocked(ctx)
	return true
}

// Len returns the number of ready messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// Clear removes all messages and the persisted checkpoint.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ready = nil
	q.messages = make(map[string]*QueuedMessage)
	if q.store != nil {
		if err := q.store.Remove(ctx, q.storageKey); err != nil {
			q.monitor.CaptureError(fmt.Errorf("queue: clear checkpoint: %w", err))
		}
	}
}

// insertLocked places msg at the back of its priority band.
func (q *Queue) insertLocked(msg *QueuedMessage) {
	i := len(q.ready)
	for i > 0 && q.ready[i-1].Priority < msg.Priority {
		i--
	}
	q.ready = append(q.ready, nil)
	copy(q.ready[i+1:], q.ready[i:])
	q.ready[i] = msg
}

func (q *Queue) removeReadyLocked(msg *QueuedMessage) {
	for i, m := range q.ready {
		if m == msg {
			q.ready = append(q.ready[:i], q.ready[i+1:]...)
			return
		}
	}
}

// cleanupLocked evicts ready messages whose residency exceeded the
// configured timeout. Evictions are reported, never silent.
func (q *Queue) cleanupLocked() {
	now := q.now()
	kept := q.ready[:0]
	for _, m := range q.ready {
		if now.Sub(m.EnqueuedAt) > q.cfg.MessageTimeout {
			delete(q.messages, m.Envelope.ID)
			q.monitor.CaptureError(fmt.Errorf("%w: message %s resident for %s", ErrExpired, m.Envelope.ID, now.Sub(m.EnqueuedAt)))
			continue
		}
		kept = append(kept, m)
	}
	q.ready = kept
}

// trimLocked evicts the oldest message of the lowest priority band that is
// at or below the incoming priority. Returns false when every ready message
// outranks the incoming one.
func (q *Queue) trimLocked(incoming contracts.Priority) bool {
	victim := -1
	for i := len(q.ready) - 1; i >= 0; i-- {
		if q.ready[i].Priority > incoming {
			break
		}
		// Walk to the front of the tail band: its first entry is oldest.
		if victim == -1 || q.ready[i].Priority == q.ready[victim].Priority {
			victim = i
		}
	}
	if victim == -1 {
		return false
	}

	m := q.ready[victim]
	q.ready = append(q.ready[:victim], q.ready[victim+1:]...)
	delete(q.messages, m.Envelope.ID)
	q.monitor.AddBreadcrumb("queue", fmt.Sprintf("evicted %s (%s) to make room", m.Envelope.ID, m.Priority))
	return true
}

// persistLocked mirrors all tracked messages to the store. Persistence
// failures are reported but do not fail the mutation.
func (q *Queue) persistLocked(ctx context.Context) {
	if q.store == nil {
		return
	}

	all := make([]*QueuedMessage, 0, len(q.messages))
	for _, m := range q.messages {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Sequence < all[j].Sequence
	})

	data, err := json.Marshal(all)
	if err != nil {
		q.monitor.CaptureError(fmt.Errorf("queue: encode checkpoint: %w", err))
		return
	}
	if err := q.store.Set(ctx, q.storageKey, data); err != nil {
		q.monitor.CaptureError(fmt.Errorf("queue: write checkpoint: %w", err))
	}
}
