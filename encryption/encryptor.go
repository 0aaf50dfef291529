package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/scrypt"

	"github.com/ecocart/relay-go/monitor"
)

// Algorithm selects the cipher mode.
type Algorithm string

const (
	// AlgorithmGCM is AES in Galois/Counter mode (AEAD).
	AlgorithmGCM Algorithm = "aes-gcm"
	// AlgorithmCBC is AES in cipher block chaining mode with PKCS#7 padding.
	AlgorithmCBC Algorithm = "aes-cbc"
)

// Default configuration values.
const (
	DefaultKeySize  = 32
	DefaultGCMIVLen = 12
	DefaultSaltLen  = 16
)

// scrypt cost parameters.
const (
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// Sentinel errors.
var (
	ErrNotInitialized       = errors.New("encryption: no key derived, call Initialize first")
	ErrInvalidMessageFormat = errors.New("encryption: invalid cipher message format")
)

// InitializationError wraps a key-derivation failure.
type InitializationError struct {
	Cause error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("encryption: key derivation failed: %v", e.Cause)
}

func (e *InitializationError) Unwrap() error { return e.Cause }

// EncryptionError wraps a cipher failure during Encrypt.
type EncryptionError struct {
	Cause error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("encryption: encrypt failed: %v", e.Cause)
}

func (e *EncryptionError) Unwrap() error { return e.Cause }

// DecryptionError wraps a cipher failure during Decrypt.
type DecryptionError struct {
	Cause error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("encryption: decrypt failed: %v", e.Cause)
}

func (e *DecryptionError) Unwrap() error { return e.Cause }

// Config holds encryptor settings.
type Config struct {
	Algorithm Algorithm
	KeySize   int
	IVSize    int
	Enabled   bool
}

// DefaultConfig returns the default encryptor configuration: AES-256-GCM,
// enabled.
func DefaultConfig() Config {
	return Config{
		Algorithm: AlgorithmGCM,
		KeySize:   DefaultKeySize,
		IVSize:    DefaultGCMIVLen,
		Enabled:   true,
	}
}

// Option configures an Encryptor.
type Option func(*Encryptor)

// WithMonitor sets the monitoring collaborator.
func WithMonitor(m monitor.Monitor) Option {
	return func(e *Encryptor) {
		e.monitor = m
	}
}

// WithAlgorithm selects the cipher mode.
func WithAlgorithm(alg Algorithm) Option {
	return func(e *Encryptor) {
		e.cfg.Algorithm = alg
		if alg == AlgorithmCBC {
			e.cfg.IVSize = aes.BlockSize
		}
	}
}

// WithKeySize sets the derived key length in bytes (16, 24, or 32).
func WithKeySize(size int) Option {
	return func(e *Encryptor) {
		e.cfg.KeySize = size
	}
}

// WithIVSize sets the IV length in bytes.
func WithIVSize(size int) Option {
	return func(e *Encryptor) {
		e.cfg.IVSize = size
	}
}

// WithEnabled toggles encryption. When disabled, Encrypt and Decrypt pass
// data through unchanged but the derived key is kept.
func WithEnabled(enabled bool) Option {
	return func(e *Encryptor) {
		e.cfg.Enabled = enabled
	}
}

// Encryptor encrypts and decrypts payloads under a password-derived key.
// The derived key is the only cross-call mutable state: written by
// Initialize and ChangePassword, read by Encrypt and Decrypt.
type Encryptor struct {
	mu      sync.RWMutex
	cfg     Config
	key     []byte
	salt    []byte
	monitor monitor.Monitor
}

// NewEncryptor creates an encryptor with the default configuration. A key
// must be derived with Initialize before Encrypt or Decrypt is usable.
func NewEncryptor(opts ...Option) *Encryptor {
	e := &Encryptor{
		cfg:     DefaultConfig(),
		monitor: monitor.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Configure merges the given options into the current settings. Toggling
// Enabled off does not discard the derived key.
func (e *Encryptor) Configure(opts ...Option) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, opt := range opts {
		opt(e)
	}
}

// Enabled reports whether encryption is currently active.
func (e *Encryptor) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Enabled
}

// Algorithm returns the configured cipher mode.
func (e *Encryptor) Algorithm() Algorithm {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Algorithm
}

// Initialized reports whether a key has been derived.
func (e *Encryptor) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.key != nil
}

// Salt returns the salt used for the current key, for out-of-band exchange.
func (e *Encryptor) Salt() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]byte, len(e.salt))
	copy(out, e.salt)
	return out
}

// Initialize derives the session key from password using scrypt. When salt
// is nil a random salt is generated.
func (e *Encryptor) Initialize(password string, salt []byte) error {
	if salt == nil {
		salt = make([]byte, DefaultSaltLen)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return e.failInit(err)
		}
	}

	e.mu.Lock()
	keySize := e.cfg.KeySize
	e.mu.Unlock()

	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return e.failInit(err)
	}

	e.mu.Lock()
	e.key = key
	e.salt = salt
	e.mu.Unlock()
	return nil
}

// ChangePassword rederives the session key under a new password with a
// fresh salt. Messages encrypted under the previous key become
// undecryptable; re-encrypting queued messages is the caller's concern.
func (e *Encryptor) ChangePassword(newPassword string) error {
	return e.Initialize(newPassword, nil)
}

// GenerateKey produces a cryptographically random key of length bytes,
// base64 encoded. It is independent of the session key and intended for
// out-of-band key exchange. A non-positive length defaults to 32.
func (e *Encryptor) GenerateKey(length int) (string, error) {
	if length <= 0 {
		length = DefaultKeySize
	}
	key := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		wrapped := &EncryptionError{Cause: err}
		e.monitor.CaptureError(wrapped)
		return "", wrapped
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt encrypts plaintext under the session key with a fresh random IV
// and returns the colon-delimited wire form. When encryption is disabled
// the plaintext is returned unchanged.
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	e.mu.RLock()
	cfg := e.cfg
	key := e.key
	e.mu.RUnlock()

	if !cfg.Enabled {
		return string(plaintext), nil
	}
	if key == nil {
		e.monitor.CaptureError(ErrNotInitialized)
		return "", ErrNotInitialized
	}

	switch cfg.Algorithm {
	case AlgorithmGCM:
		return e.encryptGCM(plaintext, key, cfg.IVSize)
	case AlgorithmCBC:
		return e.encryptCBC(plaintext, key)
	default:
		return "", e.failEncrypt(fmt.Errorf("unknown algorithm %q", cfg.Algorithm))
	}
}

func (e *Encryptor) encryptGCM(plaintext, key []byte, ivSize int) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", e.failEncrypt(err)
	}
	if ivSize <= 0 {
		ivSize = DefaultGCMIVLen
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return "", e.failEncrypt(err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", e.failEncrypt(err)
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)
	tagStart := len(sealed) - aead.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, ":"), nil
}

func (e *Encryptor) encryptCBC(plaintext, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", e.failEncrypt(err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", e.failEncrypt(err)
	}

	padded := padPKCS7(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt reverses Encrypt. The segment count selects the cipher mode: two
// segments means CBC, three means GCM, anything else is rejected as an
// invalid format. When encryption is disabled the input passes through.
func (e *Encryptor) Decrypt(cipherText string) ([]byte, error) {
	e.mu.RLock()
	enabled := e.cfg.Enabled
	key := e.key
	e.mu.RUnlock()

	if !enabled {
		return []byte(cipherText), nil
	}
	if key == nil {
		e.monitor.CaptureError(ErrNotInitialized)
		return nil, ErrNotInitialized
	}

	parts := strings.Split(cipherText, ":")
	switch len(parts) {
	case 2:
		return e.decryptCBC(parts, key)
	case 3:
		return e.decryptGCM(parts, key)
	default:
		err := fmt.Errorf("%w: got %d segments", ErrInvalidMessageFormat, len(parts))
		e.monitor.CaptureError(err)
		return nil, err
	}
}

func (e *Encryptor) decryptGCM(parts []string, key []byte) ([]byte, error) {
	iv, tag, ciphertext, err := decodeSegments3(parts)
	if err != nil {
		return nil, e.failDecrypt(err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, e.failDecrypt(err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, e.failDecrypt(err)
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, e.failDecrypt(err)
	}
	return plaintext, nil
}

func (e *Encryptor) decryptCBC(parts []string, key []byte) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, e.failDecrypt(err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, e.failDecrypt(err)
	}
	if len(iv) != aes.BlockSize || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, e.failDecrypt(errors.New("cbc segments have invalid length"))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, e.failDecrypt(err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := unpadPKCS7(padded, aes.BlockSize)
	if err != nil {
		return nil, e.failDecrypt(err)
	}
	return plaintext, nil
}

func decodeSegments3(parts []string) (iv, tag, ciphertext []byte, err error) {
	if iv, err = base64.StdEncoding.DecodeString(parts[0]); err != nil {
		return nil, nil, nil, err
	}
	if tag, err = base64.StdEncoding.DecodeString(parts[1]); err != nil {
		return nil, nil, nil, err
	}
	if ciphertext, err = base64.StdEncoding.DecodeString(parts[2]); err != nil {
		return nil, nil, nil, err
	}
	return iv, tag, ciphertext, nil
}

func padPKCS7(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded data length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}

func (e *Encryptor) failInit(cause error) error {
	err := &InitializationError{Cause: cause}
	e.monitor.CaptureError(err)
	return err
}

func (e *Encryptor) failEncrypt(cause error) error {
	err := &EncryptionError{Cause: cause}
	e.monitor.CaptureError(err)
	return err
}

func (e *Encryptor) failDecrypt(cause error) error {
	err := &DecryptionError{Cause: cause}
	e.monitor.CaptureError(err)
	return err
}
