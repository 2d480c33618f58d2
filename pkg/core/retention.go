package core

import (
	"time"

	"github.com/oneconcern/confmon/pkg/model"
)

// RetentionContext describes the position of a snapshot in the history being pruned
type RetentionContext struct {
	Index    int // position in the history, 0 being the head
	Total    int // length of the history
	Now      time.Time
	Head     string
	Deployed string
}

// RetentionPolicy tells if a snapshot should be kept.
//
// Snapshots required to materialize a kept snapshot are kept regardless of the policy.
type RetentionPolicy func(model.Snapshot, RetentionContext) bool

// KeepLast keeps the n latest snapshots
func KeepLast(n int) RetentionPolicy {
	return func(_ model.Snapshot, rc RetentionContext) bool {
		return rc.Index < n
	}
}

// KeepWithin keeps the snapshots younger than some duration
func KeepWithin(d time.Duration) RetentionPolicy {
	return func(snapshot model.Snapshot, rc RetentionContext) bool {
		return rc.Now.Sub(snapshot.Timestamp) <= d
	}
}

// KeepAll keeps everything
func KeepAll() RetentionPolicy {
	return func(model.Snapshot, RetentionContext) bool {
		return true
	}
}

// AnyOf keeps a snapshot whenever one of the policies keeps it
func AnyOf(policies ...RetentionPolicy) RetentionPolicy {
	return func(snapshot model.Snapshot, rc RetentionContext) bool {
		for _, keep := range policies {
			if keep(snapshot, rc) {
				return true
			}
		}
		return false
	}
}
