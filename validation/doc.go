// Package validation checks envelope structure, type, and timestamp
// freshness before messages enter or leave the pipeline.
//
// Outbound validation is strict: the timestamp must not be in the future and
// must not be older than the configured maximum message age. Inbound
// validation tolerates future timestamps from remote clocks and only rejects
// stale messages.
package validation
