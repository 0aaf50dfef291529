// Package encryption obscures payload content on the wire. A symmetric key
// is derived once from a password via scrypt; every Encrypt call uses a
// fresh random IV, so ciphertexts are never correlated across messages.
//
// The wire form is colon-delimited base64 segments: iv:tag:ciphertext for
// AEAD (AES-GCM) and iv:ciphertext for AES-CBC.
package encryption
