package model

import "time"

// ServerTarget is the registration of a deployable destination
type ServerTarget struct {
	ServerID   string    `json:"server" yaml:"server"`
	Transport  string    `json:"transport,omitempty" yaml:"transport,omitempty"` // opaque deploy transport handle
	Deployed   string    `json:"deployed,omitempty" yaml:"deployed,omitempty"`   // currently deployed snapshot
	DeployedAt time.Time `json:"deployed_at,omitempty" yaml:"deployed_at,omitempty"`
	_          struct{}
}
