package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"

	"github.com/ecocart/relay-go/monitor"
)

// Default configuration values.
const (
	DefaultLevel   = 6
	DefaultMinSize = 1024
	DefaultMaxSize = 10 << 20 // 10 MiB
)

// Algorithm is the name recorded in envelope metadata for payloads
// compressed by this package.
const Algorithm = "zlib"

// Configuration errors.
var (
	ErrInvalidLevel = errors.New("compression: level must be between 1 and 9")
	ErrInvalidSize  = errors.New("compression: minimum size must not be negative")
	ErrInvalidRange = errors.New("compression: maximum size must not be below minimum size")
)

// CompressionError wraps a failure from the underlying compression library.
type CompressionError struct {
	Op    string
	Cause error
}

// Error implements error.
func (e *CompressionError) Error() string {
	return fmt.Sprintf("compression: %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *CompressionError) Unwrap() error {
	return e.Cause
}

// Config holds compressor settings.
type Config struct {
	Enabled bool
	Level   int
	MinSize int
	MaxSize int
}

// DefaultConfig returns the default compressor configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Level:   DefaultLevel,
		MinSize: DefaultMinSize,
		MaxSize: DefaultMaxSize,
	}
}

// Result is the outcome of a Compress call.
type Result struct {
	Data       []byte
	Compressed bool
	Ratio      float64
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithMonitor sets the monitoring collaborator.
func WithMonitor(m monitor.Monitor) Option {
	return func(c *Compressor) {
		c.monitor = m
	}
}

// WithConfig replaces the initial configuration. Invalid values fall back
// to the defaults; use Configure for validated updates.
func WithConfig(cfg Config) Option {
	return func(c *Compressor) {
		if validateConfig(cfg) == nil {
			c.cfg = cfg
		}
	}
}

// Compressor applies size-gated zlib compression to payloads. Safe for
// concurrent use.
type Compressor struct {
	mu      sync.RWMutex
	cfg     Config
	monitor monitor.Monitor
}

// NewCompressor creates a compressor with the default configuration.
func NewCompressor(opts ...Option) *Compressor {
	c := &Compressor{
		cfg:     DefaultConfig(),
		monitor: monitor.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func validateConfig(cfg Config) error {
	if cfg.Level < 1 || cfg.Level > 9 {
		return fmt.Errorf("%w: got %d", ErrInvalidLevel, cfg.Level)
	}
	if cfg.MinSize < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSize, cfg.MinSize)
	}
	if cfg.MaxSize < cfg.MinSize {
		return fmt.Errorf("%w: min %d, max %d", ErrInvalidRange, cfg.MinSize, cfg.MaxSize)
	}
	return nil
}

// Configure atomically replaces the configuration. On a validation failure
// the previous configuration is left untouched.
func (c *Compressor) Configure(cfg Config) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	return nil
}

// ShouldCompress reports whether the payload is eligible for compression:
// compression is enabled and the payload size is within [MinSize, MaxSize].
func (c *Compressor) ShouldCompress(payload []byte) bool {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	if !cfg.Enabled {
		return false
	}
	size := len(payload)
	return size >= cfg.MinSize && size <= cfg.MaxSize
}

// Compress shrinks the payload when eligible. Ineligible payloads are
// returned unchanged with Compressed=false and Ratio=1.
func (c *Compressor) Compress(payload []byte) (Result, error) {
	if !c.ShouldCompress(payload) {
		return Result{Data: payload, Compressed: false, Ratio: 1}, nil
	}

	c.mu.RLock()
	level := c.cfg.Level
	c.mu.RUnlock()

	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return Result{}, c.fail("compress", err)
	}
	if _, err := w.Write(payload); err != nil {
		return Result{}, c.fail("compress", err)
	}
	if err := w.Close(); err != nil {
		return Result{}, c.fail("compress", err)
	}

	return Result{
		Data:       buf.Bytes(),
		Compressed: true,
		Ratio:      float64(buf.Len()) / float64(len(payload)),
	}, nil
}

// Decompress losslessly reverses Compress.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, c.fail("decompress", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, c.fail("decompress", err)
	}
	return out, nil
}

func (c *Compressor) fail(op string, cause error) error {
	err := &CompressionError{Op: op, Cause: cause}
	c.monitor.CaptureError(err)
	return err
}
