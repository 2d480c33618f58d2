// Package cafs provides a content-addressable store for configuration file payloads.
//
// All content is indexed by its BLAKE2b-256 hash. Identical payloads map to the same key
// and are stored once, whichever server or snapshot they belong to.
//
// Blobs are written to a backend storage.Store under blobs/<2 first hex digits>/<hex key>.
// Every read recomputes the hash of the payload and reports a mismatch as status.ErrCorrupted.
//
// Blobs are removed only by garbage collection: a delete is refused with status.ErrInUse
// whenever the configured ReferenceChecker reports a live reference at the time of the call.
package cafs
