// Package fakes provides in-memory collaborators for tests: a fleet of servers
// readable and writable through the model.TreeReader and model.Transport interfaces,
// and a manual clock.
package fakes

import (
	"context"
	"sync"
	"time"

	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/model"
)

var (
	_ model.TreeReader = &Fleet{}
	_ model.Transport  = &Fleet{}
	_ model.Clock      = &Clock{}
)

// Fleet simulates live servers holding configuration trees
type Fleet struct {
	mx      sync.Mutex
	servers map[string]model.Tree

	// ReadHook, when set, runs before every read and may fail it
	ReadHook func(ctx context.Context, serverID string) error
	// PushHook, when set, runs before every push and may fail it
	PushHook func(ctx context.Context, serverID string, files model.Tree) error
	// Mangle, when set, alters trees as they are pushed
	Mangle func(serverID string, files model.Tree) model.Tree

	Reads  int
	Pushes int
}

// NewFleet builds a fleet of servers
func NewFleet() *Fleet {
	return &Fleet{servers: make(map[string]model.Tree)}
}

// Set the tree of a server
func (f *Fleet) Set(serverID string, files model.Tree) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.servers[serverID] = clone(files)
}

// Tree returns the current tree of a server
func (f *Fleet) Tree(serverID string) model.Tree {
	f.mx.Lock()
	defer f.mx.Unlock()
	return clone(f.servers[serverID])
}

// Read the tree of a server
func (f *Fleet) Read(ctx context.Context, serverID string) (model.Tree, error) {
	f.mx.Lock()
	f.Reads++
	hook := f.ReadHook
	f.mx.Unlock()

	if hook != nil {
		if err := hook(ctx, serverID); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mx.Lock()
	defer f.mx.Unlock()
	tree, ok := f.servers[serverID]
	if !ok {
		return nil, status.ErrUnreachable.Wrapf(serverID)
	}
	return clone(tree).Sorted(), nil
}

// Push replaces the tree of a server
func (f *Fleet) Push(ctx context.Context, serverID string, files model.Tree) error {
	f.mx.Lock()
	f.Pushes++
	hook := f.PushHook
	mangle := f.Mangle
	f.mx.Unlock()

	if hook != nil {
		if err := hook(ctx, serverID, files); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	pushed := clone(files)
	if mangle != nil {
		pushed = mangle(serverID, pushed)
	}

	f.mx.Lock()
	defer f.mx.Unlock()
	f.servers[serverID] = pushed
	return nil
}

func clone(files model.Tree) model.Tree {
	if files == nil {
		return nil
	}
	res := make(model.Tree, len(files))
	for i, file := range files {
		res[i] = file
		res[i].Payload = append([]byte(nil), file.Payload...)
	}
	return res
}

// Clock is a manual clock
type Clock struct {
	mx  sync.Mutex
	now time.Time
}

// NewClock builds a clock set at some time
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now tells the time
func (c *Clock) Now() time.Time {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.now
}

// Advance the clock
func (c *Clock) Advance(d time.Duration) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.now = c.now.Add(d)
}

// Files builds a tree of regular files from path/content pairs
func Files(pairs ...string) model.Tree {
	tree := make(model.Tree, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		tree = append(tree, model.File{Path: pairs[i], Payload: []byte(pairs[i+1]), Mode: 0644})
	}
	return tree.Sorted()
}
