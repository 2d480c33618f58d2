// Copyright © 2018 One Concern

package core

import (
	"bytes"
	"context"
	"sort"

	"github.com/oneconcern/confmon/pkg/model"
	"golang.org/x/sync/errgroup"
)

const (
	// DiffUnchanged indicates an entry identical on both sides
	DiffUnchanged DiffStatus = iota
	// DiffAdded indicates the second snapshot exhibits an extra entry
	DiffAdded
	// DiffRemoved indicates the second snapshot exhibits a missing entry
	DiffRemoved
	// DiffModified indicates different entries
	DiffModified
)

// textProbeSize is the prefix of a payload searched for NUL bytes to tell text from binary
const textProbeSize = 8000

// DiffStatus qualifies the type of difference on a path between two snapshots
type DiffStatus uint8

func (s DiffStatus) String() string {
	return [...]string{"unchanged", "added", "removed", "modified"}[s]
}

// Letter is the one-letter code of a status
func (s DiffStatus) Letter() string {
	return [...]string{"=", "A", "D", "M"}[s]
}

// MarshalText renders a status as text
func (s DiffStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FileDiff describes the difference on a single path
type FileDiff struct {
	Path   string           `json:"path" yaml:"path"`
	Status DiffStatus       `json:"status" yaml:"status"`
	Before *model.FileEntry `json:"before,omitempty" yaml:"before,omitempty"`
	After  *model.FileEntry `json:"after,omitempty" yaml:"after,omitempty"`
	Binary bool             `json:"binary,omitempty" yaml:"binary,omitempty"`
	Lines  []LineOp         `json:"lines,omitempty" yaml:"lines,omitempty"`
}

// SnapshotDiff describes all differences between two snapshots
type SnapshotDiff struct {
	From  string     `json:"from" yaml:"from"`
	To    string     `json:"to" yaml:"to"`
	Files []FileDiff `json:"files" yaml:"files"`
}

// Changed returns the differences other than unchanged paths
func (d SnapshotDiff) Changed() []FileDiff {
	changed := make([]FileDiff, 0, len(d.Files))
	for _, file := range d.Files {
		if file.Status != DiffUnchanged {
			changed = append(changed, file)
		}
	}
	return changed
}

// Count the paths with a given status
func (d SnapshotDiff) Count(s DiffStatus) int {
	var count int
	for _, file := range d.Files {
		if file.Status == s {
			count++
		}
	}
	return count
}

type diffOptions struct {
	lines    bool
	maxCells int
}

// DiffOption sets options for a diff
type DiffOption func(*diffOptions)

// WithLineDiff enables or disables line diffs on modified text files. Enabled by default.
func WithLineDiff(enabled bool) DiffOption {
	return func(o *diffOptions) {
		o.lines = enabled
	}
}

// WithMaxCells bounds the size of the edit table of a line diff. Larger files get a coarse edit script.
func WithMaxCells(cells int) DiffOption {
	return func(o *diffOptions) {
		if cells > 0 {
			o.maxCells = cells
		}
	}
}

// Diff computes the structured difference between two snapshots, which may belong to different servers.
//
// Paths are reported in lexicographic order. The result is a pure function of the stored content.
func Diff(ctx context.Context, m Materializer, from, to string, opts ...DiffOption) (SnapshotDiff, error) {
	options := diffOptions{lines: true, maxCells: defaultMaxCells}
	for _, apply := range opts {
		apply(&options)
	}

	var before, after []model.FileEntry
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		before, err = m.MaterializeEntries(gctx, from)
		return
	})
	g.Go(func() (err error) {
		after, err = m.MaterializeEntries(gctx, to)
		return
	})
	if err := g.Wait(); err != nil {
		return SnapshotDiff{}, err
	}

	files := diffEntries(before, after)
	if options.lines {
		if err := diffLines(ctx, m, files, options.maxCells); err != nil {
			return SnapshotDiff{}, err
		}
	}

	return SnapshotDiff{From: from, To: to, Files: files}, nil
}

func diffEntries(before, after []model.FileEntry) []FileDiff {
	existing := make(map[string]model.FileEntry, len(before))
	for _, entry := range before {
		existing[entry.Path] = entry
	}
	additional := make(map[string]model.FileEntry, len(after))
	for _, entry := range after {
		additional[entry.Path] = entry
	}

	files := make([]FileDiff, 0, len(before)+len(after))
	for pth, entryExisting := range existing {
		entryExisting := entryExisting
		entryAdditional, ok := additional[pth]
		if !ok {
			files = append(files, FileDiff{Path: pth, Status: DiffRemoved, Before: &entryExisting})
			continue
		}
		status := DiffUnchanged
		if !entryExisting.SameContent(entryAdditional) {
			status = DiffModified
		}
		files = append(files, FileDiff{Path: pth, Status: status, Before: &entryExisting, After: &entryAdditional})
	}
	for pth, entryAdditional := range additional {
		entryAdditional := entryAdditional
		if _, ok := existing[pth]; !ok {
			files = append(files, FileDiff{Path: pth, Status: DiffAdded, After: &entryAdditional})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

// diffLines fills in line diffs for modified files with differing content
func diffLines(ctx context.Context, m Materializer, files []FileDiff, maxCells int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultConcurrency)
	for i := range files {
		file := &files[i]
		if file.Status != DiffModified || file.Before.Hash == file.After.Hash ||
			file.Before.Mode.IsSymlink() || file.After.Mode.IsSymlink() {
			continue
		}
		g.Go(func() error {
			a, err := m.Blob(gctx, file.Before.Hash)
			if err != nil {
				return err
			}
			b, err := m.Blob(gctx, file.After.Hash)
			if err != nil {
				return err
			}
			if !isText(a) || !isText(b) {
				file.Binary = true
				return nil
			}
			file.Lines = LineDiff(splitLines(a), splitLines(b), maxCells)
			return nil
		})
	}
	return g.Wait()
}

func isText(payload []byte) bool {
	probe := payload
	if len(probe) > textProbeSize {
		probe = probe[:textProbeSize]
	}
	return bytes.IndexByte(probe, 0) < 0
}
