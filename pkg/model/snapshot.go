package model

import (
	"encoding/hex"
	"sort"
	"strconv"
	"time"

	blake2b "github.com/minio/blake2b-simd"
)

// Kind of a snapshot
type Kind string

const (
	// KindFull snapshots record every file entry of the tree
	KindFull Kind = "full"

	// KindIncremental snapshots record only the entries that changed relative to their parent
	KindIncremental Kind = "incremental"

	// KindAuto lets the backup scheduler decide between full and incremental
	KindAuto Kind = "auto"
)

// HashSize is the size in bytes of content hashes (BLAKE2b-256)
const HashSize = 32

// FileEntry is one file within a snapshot
type FileEntry struct {
	Path       string   `json:"path" yaml:"path"`
	Hash       string   `json:"hash,omitempty" yaml:"hash,omitempty"`
	Mode       FileMode `json:"mode" yaml:"mode"`
	Size       uint64   `json:"size" yaml:"size"`
	LinkTarget string   `json:"link,omitempty" yaml:"link,omitempty"`
	Deleted    bool     `json:"deleted,omitempty" yaml:"deleted,omitempty"` // tombstone in incremental snapshots
	_          struct{}
}

// SameContent tells if two entries describe the same file
func (e FileEntry) SameContent(other FileEntry) bool {
	return e.Hash == other.Hash && e.Mode == other.Mode && e.LinkTarget == other.LinkTarget && e.Deleted == other.Deleted
}

// Snapshot is an immutable recorded state of the configuration tree of a server
type Snapshot struct {
	// ID derives from the tree hash and the lineage of the snapshot (see SnapshotID).
	// TreeHash is the content address of the tree: identical trees share the same TreeHash.
	ID        string      `json:"id" yaml:"id"`
	ServerID  string      `json:"server" yaml:"server"`
	ParentID  string      `json:"parent,omitempty" yaml:"parent,omitempty"`
	Kind      Kind        `json:"kind" yaml:"kind"`
	TreeHash  string      `json:"tree" yaml:"tree"`
	Sequence  uint64      `json:"seq" yaml:"seq"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
	Author    string      `json:"author" yaml:"author"`
	Message   string      `json:"message,omitempty" yaml:"message,omitempty"`
	FileCount int         `json:"count" yaml:"count"` // number of files in the materialized tree
	TreeSize  uint64      `json:"size" yaml:"size"`   // cumulated size of the materialized tree
	Entries   []FileEntry `json:"entries,omitempty" yaml:"entries,omitempty"`
	_         struct{}
}

// Summary is a snapshot without its entries
func (s Snapshot) Summary() Snapshot {
	s.Entries = nil
	return s
}

// Entries represent a collection of entries
type Entries []FileEntry

func (entries Entries) Len() int           { return len(entries) }
func (entries Entries) Less(i, j int) bool { return entries[i].Path < entries[j].Path }
func (entries Entries) Swap(i, j int)      { entries[i], entries[j] = entries[j], entries[i] }

// Sort entries by path, in place
func (entries Entries) Sort() Entries {
	sort.Sort(entries)
	return entries
}

// Hash the sorted entries into a single hash.
//
// Identical trees produce identical hashes.
func (entries Entries) Hash() string {
	sorted := make(Entries, len(entries))
	copy(sorted, entries)
	sort.Sort(sorted)

	hasher := newHasher()
	for _, entry := range sorted {
		if entry.Deleted {
			continue
		}
		//#nosec
		_, _ = hasher.Write(UnsafeStringToBytes(entry.Path))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write(UnsafeStringToBytes(entry.Hash))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write(UnsafeStringToBytes(strconv.FormatUint(uint64(entry.Mode), 8)))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write(UnsafeStringToBytes(entry.LinkTarget))
		_, _ = hasher.Write([]byte{'\n'})
	}

	return hex.EncodeToString(hasher.Sum(nil))
}

// SnapshotID computes the identifier of a snapshot from its tree hash and lineage
func SnapshotID(treeHash, serverID, parentID string) string {
	hasher := newHasher()
	for _, part := range []string{treeHash, serverID, parentID} {
		//#nosec
		_, _ = hasher.Write(UnsafeStringToBytes(part))
		_, _ = hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

func newHasher() interface {
	Write([]byte) (int, error)
	Sum([]byte) []byte
} {
	hasher, err := blake2b.New(&blake2b.Config{Size: HashSize})
	if err != nil {
		panic(err) // only fails on invalid static config
	}
	return hasher
}
