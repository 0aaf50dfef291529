package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ecocart/relay-go/compression"
	"github.com/ecocart/relay-go/contracts"
	"github.com/ecocart/relay-go/encryption"
	"github.com/ecocart/relay-go/internal/reliability"
	"github.com/ecocart/relay-go/monitor"
	"github.com/ecocart/relay-go/queue"
	"github.com/ecocart/relay-go/serialization"
	"github.com/ecocart/relay-go/validation"
)

// Transport sends a serialized envelope to the backend. A nil return is the
// delivery acknowledgment; any error is a failed attempt. Socket lifecycle
// (connect, reconnect) is the transport's own concern.
type Transport interface {
	Send(ctx context.Context, data []byte) error
}

// Handler receives validated inbound envelopes.
type Handler interface {
	Handle(ctx context.Context, env *contracts.Envelope) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, env *contracts.Envelope) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, env *contracts.Envelope) error {
	return f(ctx, env)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMonitor sets the monitoring collaborator.
func WithMonitor(m monitor.Monitor) Option {
	return func(p *Pipeline) {
		p.monitor = m
	}
}

// WithRetryPolicy overrides the delivery retry policy.
func WithRetryPolicy(policy reliability.RetryPolicy) Option {
	return func(p *Pipeline) {
		p.retryPolicy = policy
	}
}

// WithDrainInterval sets how often the background drain processes the queue.
func WithDrainInterval(interval time.Duration) Option {
	return func(p *Pipeline) {
		p.drainInterval = interval
	}
}

// SendOptions configures a single Send call.
type SendOptions struct {
	Priority    contracts.Priority
	MaxAttempts int
}

// SendOption configures send behavior.
type SendOption func(*SendOptions)

// WithPriority sets the queue priority for this message (default medium).
func WithPriority(priority contracts.Priority) SendOption {
	return func(o *SendOptions) {
		o.Priority = priority
	}
}

// WithMaxAttempts overrides the delivery attempt ceiling for this message
// (default: the queue's MaxRetries).
func WithMaxAttempts(n int) SendOption {
	return func(o *SendOptions) {
		o.MaxAttempts = n
	}
}

// Pipeline orchestrates the message delivery stages.
type Pipeline struct {
	validator  *validation.Validator
	compressor *compression.Compressor
	encryptor  *encryption.Encryptor
	queue      *queue.Queue
	transport  Transport
	codec      *serialization.Codec

	monitor     monitor.Monitor
	logger      *slog.Logger
	retryPolicy reliability.RetryPolicy

	drainInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
	started       bool
	startMu       sync.Mutex

	subMu sync.RWMutex
	subs  map[string]map[string]Handler // message type -> subscription id -> handler
}

// NewPipeline creates a pipeline over the given stages and transport.
func NewPipeline(
	validator *validation.Validator,
	compressor *compression.Compressor,
	encryptor *encryption.Encryptor,
	q *queue.Queue,
	transport Transport,
	opts ...Option,
) *Pipeline {
	cfg := q.Config()
	p := &Pipeline{
		validator:     validator,
		compressor:    compressor,
		encryptor:     encryptor,
		queue:         q,
		transport:     transport,
		codec:         serialization.NewCodec(),
		monitor:       monitor.Nop{},
		logger:        slog.Default(),
		retryPolicy:   reliability.NewLinearBackoff(cfg.RetryDelay, cfg.MaxRetries),
		drainInterval: cfg.RetryDelay,
		subs:          make(map[string]map[string]Handler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Send runs an envelope through the outbound path: validate, compress,
// encrypt, enqueue. Stage annotations land in envelope metadata; the
// payload bytes are transformed but the envelope timestamp never changes
// after validation.
func (p *Pipeline) Send(ctx context.Context, env *contracts.Envelope, opts ...SendOption) error {
	options := SendOptions{Priority: contracts.PriorityMedium}
	for _, opt := range opts {
		opt(&options)
	}

	if err := p.validator.ValidateOutgoing(env); err != nil {
		p.monitor.CaptureError(err)
		return err
	}

	if err := p.compressStage(env); err != nil {
		return err
	}
	if err := p.encryptStage(env); err != nil {
		return err
	}

	enqueueOpts := []queue.EnqueueOption{queue.WithPriority(options.Priority)}
	if options.MaxAttempts > 0 {
		enqueueOpts = append(enqueueOpts, queue.WithMaxAttempts(options.MaxAttempts))
	}
	if _, err := p.queue.Enqueue(ctx, env, enqueueOpts...); err != nil {
		return err
	}

	p.monitor.AddBreadcrumb("pipeline", fmt.Sprintf("enqueued %s at %s priority", env.ID, options.Priority))
	return nil
}

// compressStage replaces the payload with a base64 JSON string of the
// compressed bytes and annotates metadata. Ineligible payloads pass
// through untouched.
func (p *Pipeline) compressStage(env *contracts.Envelope) error {
	if p.compressor == nil || !p.compressor.ShouldCompress(env.Payload) {
		return nil
	}

	result, err := p.compressor.Compress(env.Payload)
	if err != nil {
		return err
	}
	if !result.Compressed {
		return nil
	}

	encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(result.Data))
	if err != nil {
		p.monitor.CaptureError(err)
		return err
	}

	env.SetMetadata(contracts.MetaCompressed, true)
	env.SetMetadata(contracts.MetaOriginalSize, len(env.Payload))
	env.SetMetadata(contracts.MetaAlgorithm, compression.Algorithm)
	env.Payload = encoded
	return nil
}

// encryptStage replaces the payload with the colon-delimited cipher string
// as a JSON string and annotates metadata. Skipped when encryption is
// disabled. An uninitialized encryptor aborts the send so the application
// can prompt for re-authentication.
func (p *Pipeline) encryptStage(env *contracts.Envelope) error {
	if p.encryptor == nil || !p.encryptor.Enabled() {
		return nil
	}

	cipherText, err := p.encryptor.Encrypt(env.Payload)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(cipherText)
	if err != nil {
		p.monitor.CaptureError(err)
		return err
	}

	env.SetMetadata(contracts.MetaEncrypted, true)
	env.SetMetadata(contracts.MetaCipher, string(p.encryptor.Algorithm()))
	env.Payload = encoded
	return nil
}

// ProcessQueue drains ready messages to the transport. A nil transport
// error acknowledges the message; a failure marks it for retry and waits
// the policy delay before the next attempt. Queue state is re-read on
// every iteration rather than cached across waits.
func (p *Pipeline) ProcessQueue(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, ok := p.queue.Dequeue(ctx)
		if !ok {
			return nil
		}

		data, err := p.codec.Encode(msg.Envelope)
		if err != nil {
			// A message that cannot be serialized will never deliver.
			p.monitor.CaptureError(err)
			p.queue.MarkProcessed(ctx, msg.Envelope.ID)
			continue
		}

		if err := p.transport.Send(ctx, data); err != nil {
			p.monitor.CaptureError(fmt.Errorf("pipeline: delivery of %s failed: %w", msg.Envelope.ID, err))
			if p.queue.MarkForRetry(ctx, msg.Envelope.ID) {
				delay := p.retryPolicy.NextDelay(msg.Attempts)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			} else {
				p.monitor.AddBreadcrumb("pipeline", fmt.Sprintf("dropped %s after max retries", msg.Envelope.ID))
			}
			continue
		}

		p.queue.MarkProcessed(ctx, msg.Envelope.ID)
		p.monitor.AddBreadcrumb("pipeline", fmt.Sprintf("delivered %s", msg.Envelope.ID))
	}
}

// Start runs the drain loop in the background until Stop is called or the
// context is cancelled. A stopped pipeline can be started again.
func (p *Pipeline) Start(ctx context.Context) {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	stopCh, doneCh := p.stopCh, p.doneCh
	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(p.drainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				if err := p.ProcessQueue(ctx); err != nil && ctx.Err() == nil {
					p.logger.Error("queue drain failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the background drain loop and waits for it to exit. Safe to
// call on a pipeline that is not running.
func (p *Pipeline) Stop() {
	p.startMu.Lock()
	if !p.started {
		p.startMu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	done := p.doneCh
	p.startMu.Unlock()

	<-done
}

// Subscription is a handle for a registered inbound handler. It must be
// disposed with Unsubscribe when the subscriber goes away.
type Subscription struct {
	pipeline    *Pipeline
	messageType string
	id          string
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.pipeline.subMu.Lock()
	defer s.pipeline.subMu.Unlock()

	handlers, ok := s.pipeline.subs[s.messageType]
	if !ok {
		return
	}
	delete(handlers, s.id)
	if len(handlers) == 0 {
		delete(s.pipeline.subs, s.messageType)
	}
}

// Subscribe registers a handler for inbound envelopes of the given type.
// The type "*" matches every envelope.
func (p *Pipeline) Subscribe(messageType string, h Handler) *Subscription {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	if p.subs[messageType] == nil {
		p.subs[messageType] = make(map[string]Handler)
	}
	id := uuid.New().String()
	p.subs[messageType][id] = h

	return &Subscription{pipeline: p, messageType: messageType, id: id}
}

// HandleInbound runs a raw transport frame through the inbound path:
// decode, decrypt, decompress, validate, dispatch. The transport adapter
// calls this for every received frame.
func (p *Pipeline) HandleInbound(ctx context.Context, raw []byte) error {
	env, err := p.codec.Decode(raw)
	if err != nil {
		p.monitor.CaptureError(err)
		return err
	}

	if err := p.decryptStage(env); err != nil {
		return err
	}
	if err := p.decompressStage(env); err != nil {
		return err
	}

	if err := p.validator.ValidateIncoming(env); err != nil {
		p.monitor.CaptureError(err)
		return err
	}

	return p.dispatch(ctx, env)
}

func (p *Pipeline) decryptStage(env *contracts.Envelope) error {
	if !env.MetadataBool(contracts.MetaEncrypted) {
		return nil
	}
	if p.encryptor == nil {
		err := fmt.Errorf("pipeline: encrypted message %s but no encryptor configured", env.ID)
		p.monitor.CaptureError(err)
		return err
	}

	var cipherText string
	if err := json.Unmarshal(env.Payload, &cipherText); err != nil {
		p.monitor.CaptureError(err)
		return fmt.Errorf("pipeline: encrypted payload of %s is not a string: %w", env.ID, err)
	}

	plaintext, err := p.encryptor.Decrypt(cipherText)
	if err != nil {
		return err
	}
	env.Payload = plaintext
	delete(env.Metadata, contracts.MetaEncrypted)
	return nil
}

func (p *Pipeline) decompressStage(env *contracts.Envelope) error {
	if !env.MetadataBool(contracts.MetaCompressed) {
		return nil
	}
	if p.compressor == nil {
		err := fmt.Errorf("pipeline: compressed message %s but no compressor configured", env.ID)
		p.monitor.CaptureError(err)
		return err
	}

	var encoded string
	if err := json.Unmarshal(env.Payload, &encoded); err != nil {
		p.monitor.CaptureError(err)
		return fmt.Errorf("pipeline: compressed payload of %s is not a string: %w", env.ID, err)
	}
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		p.monitor.CaptureError(err)
		return fmt.Errorf("pipeline: compressed payload of %s is not base64: %w", env.ID, err)
	}

	original, err := p.compressor.Decompress(compressed)
	if err != nil {
		return err
	}
	env.Payload = original
	delete(env.Metadata, contracts.MetaCompressed)
	return nil
}

func (p *Pipeline) dispatch(ctx context.Context, env *contracts.Envelope) error {
	p.subMu.RLock()
	handlers := make([]Handler, 0)
	for _, h := range p.subs[env.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range p.subs["*"] {
		handlers = append(handlers, h)
	}
	p.subMu.RUnlock()

	if len(handlers) == 0 {
		p.monitor.AddBreadcrumb("pipeline", fmt.Sprintf("no handler for %s message %s", env.Type, env.ID))
		return nil
	}

	var firstErr error
	for _, h := range handlers {
		if err := h.Handle(ctx, env); err != nil {
			p.monitor.CaptureError(fmt.Errorf("pipeline: handler for %s failed: %w", env.Type, err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
