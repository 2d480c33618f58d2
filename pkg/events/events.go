// Package events publishes notifications about backups and deploys, for chat front ends to relay.
package events

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const (
	subjectRoot = "confmon"

	// KindBackup is the kind of events about new snapshots
	KindBackup = "backup"

	// KindDeploy is the kind of events about deploy state transitions
	KindDeploy = "deploy"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Subject for events of some kind about a server
func Subject(kind, serverID string) string {
	return subjectRoot + "." + kind + "." + serverID
}

// Event is a notification about a server
type Event struct {
	Kind      string    `json:"kind"`
	ServerID  string    `json:"server"`
	Snapshot  string    `json:"snapshot,omitempty"`
	Parent    string    `json:"parent,omitempty"`
	Operation string    `json:"operation,omitempty"`
	State     string    `json:"state,omitempty"`
	Author    string    `json:"author,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Publisher publishes events.
//
// Publishing is best effort: publishers never fail the operation they report about.
type Publisher interface {
	Publish(context.Context, Event)
	Close()
}

// Nop discards events
type Nop struct{}

// Publish nothing
func (Nop) Publish(context.Context, Event) {}

// Close nothing
func (Nop) Close() {}

// Memory keeps published events, for tests and in-process listeners
type Memory struct {
	mx     sync.Mutex
	events []Event
}

// Publish an event in memory
func (m *Memory) Publish(_ context.Context, event Event) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.events = append(m.events, event)
}

// Close the publisher
func (m *Memory) Close() {}

// Events returns the published events of some kind, or all of them with an empty kind
func (m *Memory) Events(kind string) []Event {
	m.mx.Lock()
	defer m.mx.Unlock()

	res := make([]Event, 0, len(m.events))
	for _, event := range m.events {
		if kind == "" || event.Kind == kind {
			res = append(res, event)
		}
	}
	return res
}
