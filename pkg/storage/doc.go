// Copyright © 2018 One Concern

// Package storage provides interface to handle backend storage objects.
//
// Backend stores hold the blobs of the content store, addressed by key.
//
// This package supports the following backends:
//   - GCS (Google)
//   - S3 (AWS)
//   - local file system
package storage
