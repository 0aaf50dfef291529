package validation

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ecocart/relay-go/contracts"
)

// Validation error codes.
const (
	CodeInvalidStructure = "INVALID_STRUCTURE"
	CodeInvalidType      = "INVALID_TYPE"
	CodeInvalidTimestamp = "INVALID_TIMESTAMP"
)

// DefaultMaxMessageAge is how old a message may be before it is rejected.
const DefaultMaxMessageAge = 5 * time.Minute

// ValidationError describes a single rejected envelope field.
type ValidationError struct {
	Field   string
	Code    string
	Message string
	Value   interface{}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// Config holds validator settings.
type Config struct {
	// MaxMessageAge is the oldest acceptable envelope timestamp relative
	// to the current time. Zero means keep the current value.
	MaxMessageAge time.Duration
}

// Option configures a Validator.
type Option func(*Validator)

// WithMaxMessageAge sets the freshness window.
func WithMaxMessageAge(age time.Duration) Option {
	return func(v *Validator) {
		v.maxMessageAge = age
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// Validator checks envelopes against the structural and freshness rules.
// A single instance is safe for concurrent use.
type Validator struct {
	mu            sync.RWMutex
	maxMessageAge time.Duration
	now           func() time.Time
	received      atomic.Int64
}

// NewValidator creates a validator with the default freshness window.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		maxMessageAge: DefaultMaxMessageAge,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Configure merges non-zero settings into the current configuration. The
// received-message counter is never reset implicitly.
func (v *Validator) Configure(cfg Config) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if cfg.MaxMessageAge > 0 {
		v.maxMessageAge = cfg.MaxMessageAge
	}
}

// MessageCount returns the number of envelopes accepted by ValidateIncoming
// since the last reset.
func (v *Validator) MessageCount() int64 {
	return v.received.Load()
}

// ResetMessageCount zeroes the received-message counter.
func (v *Validator) ResetMessageCount() {
	v.received.Store(0)
}

func (v *Validator) checkCommon(env *contracts.Envelope) *ValidationError {
	if !env.StructurallyValid() {
		return &ValidationError{
			Field:   "envelope",
			Code:    CodeInvalidStructure,
			Message: "envelope is missing required fields",
			Value:   env,
		}
	}
	if strings.TrimSpace(env.Type) == "" {
		return &ValidationError{
			Field:   "type",
			Code:    CodeInvalidType,
			Message: "message type must be non-empty",
			Value:   env.Type,
		}
	}
	return nil
}

// ValidateOutgoing checks an envelope before it enters the outbound
// pipeline. Checks run in order: structure, type, timestamp. The timestamp
// must be neither in the future nor older than the freshness window.
func (v *Validator) ValidateOutgoing(env *contracts.Envelope) error {
	if verr := v.checkCommon(env); verr != nil {
		return verr
	}

	v.mu.RLock()
	maxAge := v.maxMessageAge
	now := v.now()
	v.mu.RUnlock()

	ts := time.UnixMilli(env.Timestamp)
	if ts.After(now) {
		return &ValidationError{
			Field:   "timestamp",
			Code:    CodeInvalidTimestamp,
			Message: "timestamp is in the future",
			Value:   env.Timestamp,
		}
	}
	if now.Sub(ts) > maxAge {
		return &ValidationError{
			Field:   "timestamp",
			Code:    CodeInvalidTimestamp,
			Message: fmt.Sprintf("message is older than %s", maxAge),
			Value:   env.Timestamp,
		}
	}
	return nil
}

// ValidateIncoming checks an envelope delivered by the transport. Future
// timestamps are tolerated because the remote clock may be ahead; only
// stale messages are rejected. On success the received-message counter is
// incremented.
func (v *Validator) ValidateIncoming(env *contracts.Envelope) error {
	if verr := v.checkCommon(env); verr != nil {
		return verr
	}

	v.mu.RLock()
	maxAge := v.maxMessageAge
	now := v.now()
	v.mu.RUnlock()

	ts := time.UnixMilli(env.Timestamp)
	if now.Sub(ts) > maxAge {
		return &ValidationError{
			Field:   "timestamp",
			Code:    CodeInvalidTimestamp,
			Message: fmt.Sprintf("message is older than %s", maxAge),
			Value:   env.Timestamp,
		}
	}

	v.received.Add(1)
	return nil
}
