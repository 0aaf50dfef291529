// Package compression shrinks oversized payloads before they enter the
// queue or the transport. Compression is a pure optimization: payloads
// outside the configured size window, or any payload while compression is
// disabled, pass through untouched.
package compression
