package model

import (
	"context"
	"time"
)

// TreeReader reads the current configuration tree of a server.
//
// Implementations report unreachable servers with an error wrapping status.ErrUnreachable.
type TreeReader interface {
	Read(ctx context.Context, serverID string) (Tree, error)
}

// Transport pushes a configuration tree onto a live server.
//
// After a successful Push, the server holds exactly the pushed files.
// Implementations report failures with an error wrapping status.ErrTransport.
type Transport interface {
	Push(ctx context.Context, serverID string, files Tree) error
}

// Clock supplies timestamps
type Clock interface {
	Now() time.Time
}

// SystemClock tells the UTC wall clock time
type SystemClock struct{}

// Now in UTC
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
