// Package model describes the base objects manipulated by confmon.
//
// The object model for confmon is composed of:
//
//	Blobs:
//	  Immutable byte payloads, addressed by the hash of their content.
//
//	Files and file entries:
//	  A File is a configuration file read from or pushed to a server: path, payload and mode.
//	  A FileEntry is how a snapshot records a file: the payload is replaced by the hash of its blob.
//
//	Snapshots:
//	  A snapshot is a point in time read-only view of the configuration tree of a server.
//	  Full snapshots record all entries. Incremental snapshots only record what changed
//	  relative to their parent.
//
//	Server targets:
//	  A server target is a deployable destination, with the snapshot currently deployed on it.
package model
