package webdavserver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/net/webdav"

	"github.com/miikkis-gh/glassfile/internal/auth"
	"github.com/miikkis-gh/glassfile/internal/safename"
)

// tempSuffix mirrors the upload staging suffix; such entries are never
// shown to WebDAV clients.
const tempSuffix = ".part"

// FlatFS exposes the storage directory as a single-level WebDAV
// filesystem. Clients see the same flat namespace as the HTTP API: no
// subdirectories, sanitized names only, the extension policy enforced,
// in-flight uploads invisible.
type FlatFS struct {
	fs     afero.Fs
	dir    string
	policy safename.ExtPolicy
}

// NewFlatFS wraps the storage directory on fsys.
func NewFlatFS(fsys afero.Fs, dir string, policy safename.ExtPolicy) *FlatFS {
	return &FlatFS{fs: fsys, dir: dir, policy: policy}
}

// resolve maps a WebDAV path to a storage path. The empty string marks
// the collection root. Names that the sanitizer would alter or reject
// do not exist from a WebDAV client's point of view.
func (f *FlatFS) resolve(name string) (string, error) {
	trimmed := strings.Trim(name, "/")
	if trimmed == "" {
		return "", nil
	}
	if strings.Contains(trimmed, "/") {
		return "", os.ErrNotExist
	}
	cleaned, err := safename.Clean(trimmed)
	if err != nil || cleaned != trimmed {
		return "", os.ErrNotExist
	}
	return filepath.Join(f.dir, trimmed), nil
}

// Mkdir always fails: the namespace is flat.
func (f *FlatFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return os.ErrPermission
}

func (f *FlatFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	p, err := f.resolve(name)
	if err != nil {
		return nil, err
	}
	if p == "" {
		if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE) != 0 {
			return nil, os.ErrPermission
		}
		root, err := f.fs.Open(f.dir)
		if err != nil {
			return nil, err
		}
		return &rootDir{File: root}, nil
	}
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return f.stageWrite(p, perm)
	}
	return f.fs.OpenFile(p, flag, perm)
}

// stageWrite opens a same-directory temp file that publishes to dst on
// Close, so a PUT in flight is never visible to listings or downloads.
func (f *FlatFS) stageWrite(dst string, perm os.FileMode) (webdav.File, error) {
	if err := f.policy.Check(filepath.Base(dst)); err != nil {
		return nil, os.ErrPermission
	}
	id, err := auth.NewToken(16)
	if err != nil {
		return nil, err
	}
	tmp := filepath.Join(f.dir, ".dav-"+id+tempSuffix)
	file, err := f.fs.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, err
	}
	return &stagedFile{File: file, fs: f.fs, tmp: tmp, dst: dst}, nil
}

func (f *FlatFS) RemoveAll(ctx context.Context, name string) error {
	p, err := f.resolve(name)
	if err != nil {
		return err
	}
	if p == "" {
		return os.ErrPermission
	}
	return f.fs.Remove(p)
}

func (f *FlatFS) Rename(ctx context.Context, oldName, newName string) error {
	oldP, err := f.resolve(oldName)
	if err != nil {
		return err
	}
	newP, err := f.resolve(newName)
	if err != nil {
		return err
	}
	if oldP == "" || newP == "" {
		return os.ErrPermission
	}
	if err := f.policy.Check(filepath.Base(newP)); err != nil {
		return os.ErrPermission
	}
	return f.fs.Rename(oldP, newP)
}

func (f *FlatFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	p, err := f.resolve(name)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return f.fs.Stat(f.dir)
	}
	return f.fs.Stat(p)
}

var _ webdav.FileSystem = (*FlatFS)(nil)

// stagedFile buffers a WebDAV upload in a temp file and renames it into
// place when the client finishes, mirroring the HTTP upload path.
type stagedFile struct {
	afero.File
	fs   afero.Fs
	tmp  string
	dst  string
	done bool
}

func (f *stagedFile) Close() error {
	if f.done {
		return afero.ErrFileClosed
	}
	f.done = true
	if err := f.File.Close(); err != nil {
		_ = f.fs.Remove(f.tmp)
		return err
	}
	err := f.fs.Rename(f.tmp, f.dst)
	if errors.Is(err, afero.ErrDestinationExists) {
		if rmErr := f.fs.Remove(f.dst); rmErr == nil {
			err = f.fs.Rename(f.tmp, f.dst)
		}
	}
	if err != nil {
		_ = f.fs.Remove(f.tmp)
		return err
	}
	return nil
}

// rootDir filters directory listings down to published files so
// PROPFIND matches what the HTTP listing reports.
type rootDir struct {
	afero.File
}

func (d *rootDir) Readdir(count int) ([]os.FileInfo, error) {
	infos, err := d.File.Readdir(count)
	out := infos[:0]
	for _, fi := range infos {
		if !fi.Mode().IsRegular() {
			continue
		}
		name := fi.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, tempSuffix) {
			continue
		}
		out = append(out, fi)
	}
	return out, err
}
