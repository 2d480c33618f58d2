// Package localdir implements the file tree reader and deploy transport over mirror directories.
//
// Each server owns a directory <root>/<server ID>. Pushed files are written to a staging
// directory first, then renamed into place one by one. Files absent from the pushed tree are removed.
package localdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/model"
	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const stagingPrefix = ".staging-"

var (
	_ model.TreeReader = &Dir{}
	_ model.Transport  = &Dir{}
)

// Option for mirror directories
type Option func(*Dir)

// Logger sets a logger
func Logger(l *zap.Logger) Option {
	return func(d *Dir) {
		if l != nil {
			d.l = l
		}
	}
}

// Dir reads and writes server trees under a root directory
type Dir struct {
	fs   afero.Fs
	root string
	l    *zap.Logger
}

// New mirror directories rooted at some afero.Fs
func New(fs afero.Fs, opts ...Option) *Dir {
	d := &Dir{fs: fs, l: zap.NewNop()}
	for _, apply := range opts {
		apply(d)
	}
	return d
}

// NewOS mirror directories rooted at some OS directory.
//
// Symbolic link targets are kept verbatim.
func NewOS(root string, opts ...Option) *Dir {
	d := New(afero.NewOsFs(), opts...)
	d.root = root
	return d
}

func (d *Dir) serverRoot(serverID string) (string, error) {
	if serverID == "" || strings.ContainsAny(serverID, `/\`) || strings.HasPrefix(serverID, ".") {
		return "", fmt.Errorf("invalid server identifier %q", serverID)
	}
	return filepath.Join(d.root, serverID), nil
}

// Read the configuration tree of a server
func (d *Dir) Read(ctx context.Context, serverID string) (model.Tree, error) {
	root, err := d.serverRoot(serverID)
	if err != nil {
		return nil, status.ErrUnreachable.Wrap(err)
	}
	info, err := d.fs.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, status.ErrUnreachable.Wrapf("no directory for server " + serverID)
	}

	var tree model.Tree
	err = afero.Walk(d.fs, root, func(pth string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, pth)
		if err != nil {
			return err
		}
		file := model.File{
			Path: filepath.ToSlash(rel),
			Mode: model.FileMode(info.Mode() & (os.ModePerm | os.ModeSymlink)),
		}
		if info.Mode()&os.ModeSymlink != 0 {
			reader, ok := d.fs.(afero.LinkReader)
			if !ok {
				return fmt.Errorf("cannot read symbolic link %q on %s", pth, d.fs.Name())
			}
			if file.LinkTarget, err = reader.ReadlinkIfPossible(pth); err != nil {
				return err
			}
		} else if file.Payload, err = afero.ReadFile(d.fs, pth); err != nil {
			return err
		}
		tree = append(tree, file)
		return nil
	})
	if err != nil {
		return nil, status.ErrUnreachable.Wrap(err)
	}

	sort.Sort(tree)
	return tree, nil
}

// Push replaces the configuration tree of a server
func (d *Dir) Push(ctx context.Context, serverID string, files model.Tree) error {
	root, err := d.serverRoot(serverID)
	if err != nil {
		return status.ErrTransport.Wrap(err)
	}
	if err := files.Validate(); err != nil {
		return status.ErrTransport.Wrap(err)
	}

	stage := filepath.Join(d.root, stagingPrefix+ksuid.New().String())
	defer func() {
		_ = d.fs.RemoveAll(stage)
	}()

	// stage all files before touching the live tree
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return status.ErrTransport.Wrap(err)
		}
		if err := d.stage(stage, file); err != nil {
			return status.ErrTransport.Wrap(err)
		}
	}

	if err := d.fs.MkdirAll(root, 0755); err != nil {
		return status.ErrTransport.Wrap(err)
	}
	keep := make(map[string]struct{}, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return status.ErrTransport.Wrap(err)
		}
		target := filepath.Join(root, filepath.FromSlash(file.Path))
		keep[target] = struct{}{}
		if err := d.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return status.ErrTransport.Wrap(err)
		}
		if err := d.fs.Rename(filepath.Join(stage, filepath.FromSlash(file.Path)), target); err != nil {
			return status.ErrTransport.Wrap(err)
		}
	}

	if err := ctx.Err(); err != nil {
		return status.ErrTransport.Wrap(err)
	}
	if err := d.removeStale(root, keep); err != nil {
		return status.ErrTransport.Wrap(err)
	}

	d.l.Debug("tree pushed", zap.String("server", serverID), zap.Int("files", len(files)))
	return nil
}

func (d *Dir) stage(stage string, file model.File) error {
	pth := filepath.Join(stage, filepath.FromSlash(file.Path))
	if err := d.fs.MkdirAll(filepath.Dir(pth), 0755); err != nil {
		return err
	}
	if file.Mode.IsSymlink() {
		linker, ok := d.fs.(afero.Linker)
		if !ok {
			return fmt.Errorf("cannot create symbolic link %q on %s", file.Path, d.fs.Name())
		}
		return linker.SymlinkIfPossible(file.LinkTarget, pth)
	}
	perm := file.Mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	if err := afero.WriteFile(d.fs, pth, file.Payload, perm); err != nil {
		return err
	}
	return d.fs.Chmod(pth, perm)
}

func (d *Dir) removeStale(root string, keep map[string]struct{}) error {
	var stale []string
	err := afero.Walk(d.fs, root, func(pth string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if _, ok := keep[pth]; !ok {
			stale = append(stale, pth)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, pth := range stale {
		if err := d.fs.Remove(pth); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
