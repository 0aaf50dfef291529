// Package contracts provides the core message types shared by every stage of
// the relay pipeline.
//
// The central type is Envelope, the canonical unit exchanged between the
// application and the backend:
//   - Envelope: the wire-level message record (id, type, payload, timestamp)
//   - Priority: the delivery priority assigned to a queued envelope
//
// Pipeline stages annotate an envelope through its Metadata map and never
// mutate Payload or Timestamp after outbound validation.
package contracts
