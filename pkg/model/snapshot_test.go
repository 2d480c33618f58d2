package model

import (
	"os"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntriesHash(t *testing.T) {
	a := Entries{
		{Path: "server.cfg", Hash: "aa", Mode: 0o644},
		{Path: "motd.txt", Hash: "bb", Mode: 0o644},
	}
	b := Entries{
		{Path: "motd.txt", Hash: "bb", Mode: 0o644},
		{Path: "server.cfg", Hash: "aa", Mode: 0o644},
	}

	t.Run("should not depend on order", func(t *testing.T) {
		assert.Equal(t, a.Hash(), b.Hash())
		assert.Len(t, a.Hash(), 2*HashSize)
	})

	t.Run("should ignore tombstones", func(t *testing.T) {
		withTombstone := append(Entries{{Path: "old.cfg", Deleted: true}}, a...)
		assert.Equal(t, a.Hash(), withTombstone.Hash())
	})

	t.Run("should depend on mode", func(t *testing.T) {
		c := Entries{
			{Path: "server.cfg", Hash: "aa", Mode: 0o600},
			{Path: "motd.txt", Hash: "bb", Mode: 0o644},
		}
		assert.NotEqual(t, a.Hash(), c.Hash())
	})

	t.Run("should not be ambiguous on path boundaries", func(t *testing.T) {
		c := Entries{{Path: "ab", Hash: "c"}}
		d := Entries{{Path: "a", Hash: "bc"}}
		assert.NotEqual(t, c.Hash(), d.Hash())
	})
}

func TestSnapshotID(t *testing.T) {
	tree := Entries{{Path: "server.cfg", Hash: "aa"}}.Hash()
	id1 := SnapshotID(tree, "s1", "")
	assert.Equal(t, id1, SnapshotID(tree, "s1", ""))
	assert.NotEqual(t, id1, SnapshotID(tree, "s2", ""))
	assert.NotEqual(t, id1, SnapshotID(tree, "s1", id1))
}

func TestFileModeJSON(t *testing.T) {
	e := FileEntry{Path: "x", Mode: FileMode(0o755 | os.ModeSymlink)}
	buf, err := jsoniter.Marshal(e)
	require.NoError(t, err)

	var back FileEntry
	require.NoError(t, jsoniter.Unmarshal(buf, &back))
	assert.Equal(t, e.Mode, back.Mode)
	assert.True(t, back.Mode.IsSymlink())
	assert.Equal(t, os.FileMode(0o755), back.Mode.Perm())
}

func TestTree(t *testing.T) {
	left := Tree{
		{Path: "b.cfg", Payload: []byte("v1"), Mode: 0o644},
		{Path: "a.cfg", Payload: []byte("x"), Mode: 0o644},
	}
	right := Tree{
		{Path: "a.cfg", Payload: []byte("x"), Mode: 0o644},
		{Path: "b.cfg", Payload: []byte("v2"), Mode: 0o644},
		{Path: "c.cfg", Payload: []byte("new"), Mode: 0o644},
	}

	assert.True(t, left.Equal(left.Sorted()))
	assert.Equal(t, "a.cfg", left.Sorted()[0].Path)
	assert.Equal(t, "b.cfg", left[0].Path, "Sorted must not alter the receiver")
	assert.Equal(t, []string{"b.cfg", "c.cfg"}, left.Compare(right))

	require.NoError(t, right.Validate())
	require.Error(t, Tree{{Path: "a"}, {Path: "a"}}.Validate())
	require.Error(t, Tree{{Path: "/etc/passwd"}}.Validate())
	require.Error(t, Tree{{Path: "../x"}}.Validate())
	require.Error(t, Tree{{Path: "a//b"}}.Validate())
	require.Error(t, Tree{{Path: ""}}.Validate())
}
