// Package pipeline wires the validator, compressor, encryptor, and queue
// into the outbound and inbound message paths. It is the only package that
// talks to the Transport collaborator and the only place retry scheduling
// decisions are made.
//
// Outbound: validate, compress, encrypt, enqueue. Inbound: decode, decrypt,
// decompress, validate, dispatch to subscribed handlers.
package pipeline
