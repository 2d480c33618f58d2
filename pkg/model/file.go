package model

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"
)

// File is a configuration file as read from or pushed to a server
type File struct {
	Path       string   `json:"path" yaml:"path"`
	Payload    []byte   `json:"-" yaml:"-"`
	Mode       FileMode `json:"mode" yaml:"mode"`
	LinkTarget string   `json:"link,omitempty" yaml:"link,omitempty"`
	_          struct{}
}

// Tree is the ordered list of files of a configuration tree
type Tree []File

func (t Tree) Len() int           { return len(t) }
func (t Tree) Less(i, j int) bool { return t[i].Path < t[j].Path }
func (t Tree) Swap(i, j int)      { t[i], t[j] = t[j], t[i] }

// Sorted returns a copy of the tree, sorted by path
func (t Tree) Sorted() Tree {
	sorted := make(Tree, len(t))
	copy(sorted, t)
	sort.Stable(sorted)
	return sorted
}

// Equal tells if two trees hold exactly the same files, regardless of their order
func (t Tree) Equal(other Tree) bool {
	return len(t.Compare(other)) == 0
}

// Compare lists the paths which differ between two trees, in lexicographic order
func (t Tree) Compare(other Tree) []string {
	left := t.byPath()
	right := other.byPath()
	var mismatches []string
	for pth, l := range left {
		r, ok := right[pth]
		if !ok || l.Mode != r.Mode || l.LinkTarget != r.LinkTarget || !bytes.Equal(l.Payload, r.Payload) {
			mismatches = append(mismatches, pth)
		}
	}
	for pth := range right {
		if _, ok := left[pth]; !ok {
			mismatches = append(mismatches, pth)
		}
	}
	sort.Strings(mismatches)
	return mismatches
}

func (t Tree) byPath() map[string]File {
	m := make(map[string]File, len(t))
	for _, f := range t {
		m[f.Path] = f
	}
	return m
}

// Validate checks that paths are relative, clean and unique within the tree
func (t Tree) Validate() error {
	seen := make(map[string]struct{}, len(t))
	for _, f := range t {
		if err := ValidatePath(f.Path); err != nil {
			return err
		}
		if _, dup := seen[f.Path]; dup {
			return fmt.Errorf("duplicate path %q", f.Path)
		}
		seen[f.Path] = struct{}{}
	}
	return nil
}

// ValidatePath checks that a path is relative and clean, using forward slashes
func ValidatePath(pth string) error {
	switch {
	case pth == "":
		return fmt.Errorf("empty path")
	case strings.HasPrefix(pth, "/"):
		return fmt.Errorf("path %q must be relative", pth)
	case path.Clean(pth) != pth:
		return fmt.Errorf("path %q is not clean", pth)
	case pth == ".." || strings.HasPrefix(pth, "../"):
		return fmt.Errorf("path %q escapes the configuration tree", pth)
	}
	return nil
}
