// Package storage implements the single-directory file store behind the
// HTTP handlers. All persistent state lives in a flat directory; the
// filesystem is the only index. The store is backed by an afero.Fs so
// tests can run on MemMapFs and a future backend swap stays behind this
// package.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/miikkis-gh/glassfile/internal/auth"
	"github.com/spf13/afero"
)

// Sentinel errors mapped to client-facing outcomes by the HTTP layer.
var (
	ErrNotFound = errors.New("file not found")
	ErrExists   = errors.New("file already exists")
	ErrTooLarge = errors.New("file exceeds size limit")
)

// tempSuffix marks in-flight uploads. List never reports such entries and
// the janitor removes stale ones left behind by a crash.
const tempSuffix = ".part"

// Entry describes one stored file. Size and ModTime come from the
// filesystem at read time; nothing is cached.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Store operates on one flat storage directory.
type Store struct {
	fs      afero.Fs
	dir     string
	maxSize int64 // per-file byte ceiling; <= 0 means unbounded
}

// New ensures dir exists on fsys and returns a Store over it.
func New(fsys afero.Fs, dir string, maxSize int64) (*Store, error) {
	if dir == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := fsys.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Store{fs: fsys, dir: dir, maxSize: maxSize}, nil
}

// MaxSize returns the configured per-file byte ceiling.
func (s *Store) MaxSize() int64 { return s.maxSize }

// path maps a sanitized name into the storage directory. Names reaching
// this layer have been through safename.Clean; anything else is treated
// as nonexistent rather than resolved.
func (s *Store) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", ErrNotFound
	}
	return filepath.Join(s.dir, name), nil
}

// published reports whether a directory entry is a visible stored file:
// a regular file, not an in-flight temp, not a dotfile.
func published(fi os.FileInfo) bool {
	if !fi.Mode().IsRegular() {
		return false
	}
	name := fi.Name()
	return !strings.HasSuffix(name, tempSuffix) && !strings.HasPrefix(name, ".")
}

// List enumerates the storage directory non-recursively, ordered by name.
// Entries mid-upload are invisible because the write path only publishes
// complete files.
func (s *Store) List() ([]Entry, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("list storage: %w", err)
	}
	out := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		if !published(fi) {
			continue
		}
		out = append(out, Entry{Name: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Stat returns the entry for name or ErrNotFound.
func (s *Store) Stat(name string) (Entry, error) {
	p, err := s.path(name)
	if err != nil {
		return Entry{}, err
	}
	fi, err := s.lstat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	if !published(fi) {
		return Entry{}, ErrNotFound
	}
	return Entry{Name: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// lstat avoids following symlinks when the backend supports that, so a
// link planted in the storage directory can never read outside it.
func (s *Store) lstat(p string) (os.FileInfo, error) {
	if lst, ok := s.fs.(afero.Lstater); ok {
		fi, _, err := lst.LstatIfPossible(p)
		return fi, err
	}
	return s.fs.Stat(p)
}

// Open returns a reader over the named file plus its entry.
func (s *Store) Open(name string) (io.ReadSeekCloser, Entry, error) {
	ent, err := s.Stat(name)
	if err != nil {
		return nil, Entry{}, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, Entry{}, err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Entry{}, ErrNotFound
		}
		return nil, Entry{}, err
	}
	return f, ent, nil
}

// WriteNew stores the contents of r under name. If name is already taken
// the final name gains a numeric suffix before the extension (report.pdf
// -> report_1.pdf), never overwriting an existing file. The bytes land in
// a same-directory temp file first and are published with one atomic
// rename, so an aborted upload leaves nothing visible. declared is the
// caller-announced size; a declared size over the ceiling fails before
// any byte is written, and the ceiling is enforced again during the copy.
func (s *Store) WriteNew(name string, r io.Reader, declared int64) (Entry, error) {
	if s.maxSize > 0 && declared > s.maxSize {
		return Entry{}, ErrTooLarge
	}
	final, err := s.resolveCollision(name)
	if err != nil {
		return Entry{}, err
	}

	tmp, err := s.tempPath()
	if err != nil {
		return Entry{}, err
	}
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return Entry{}, fmt.Errorf("create temp file: %w", err)
	}

	discard := func(cause error) (Entry, error) {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return Entry{}, cause
	}

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return discard(fmt.Errorf("receive upload: %w", err))
	}
	if s.maxSize > 0 && n > s.maxSize {
		return discard(ErrTooLarge)
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return Entry{}, fmt.Errorf("flush upload: %w", err)
	}

	dst, err := s.path(final)
	if err != nil {
		_ = s.fs.Remove(tmp)
		return Entry{}, err
	}
	if err := s.fs.Rename(tmp, dst); err != nil {
		// Concurrent publish of the same name. OsFs replaces atomically;
		// MemMapFs refuses with ErrDestinationExists, so only that error
		// retries after clearing the target. Anything else must not
		// delete a published file.
		if errors.Is(err, afero.ErrDestinationExists) {
			if rmErr := s.fs.Remove(dst); rmErr == nil {
				err = s.fs.Rename(tmp, dst)
			}
		}
		if err != nil {
			_ = s.fs.Remove(tmp)
			return Entry{}, fmt.Errorf("publish upload: %w", err)
		}
	}
	return s.Stat(final)
}

// Rename moves old to newName. Missing source is ErrNotFound; an existing
// distinct target is ErrExists. Unlike uploads, renames never
// disambiguate: the caller asked for one specific name.
func (s *Store) Rename(old, newName string) (Entry, error) {
	if old == newName {
		return s.Stat(old)
	}
	src, err := s.path(old)
	if err != nil {
		return Entry{}, err
	}
	if _, err := s.Stat(old); err != nil {
		return Entry{}, err
	}
	dst, err := s.path(newName)
	if err != nil {
		return Entry{}, ErrNotFound
	}
	if _, err := s.lstat(dst); err == nil {
		return Entry{}, ErrExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Entry{}, err
	}
	if err := s.fs.Rename(src, dst); err != nil {
		return Entry{}, fmt.Errorf("rename %s: %w", old, err)
	}
	return s.Stat(newName)
}

// Delete unlinks name. A second delete of the same name reports
// ErrNotFound; deletion is not idempotent by contract.
func (s *Store) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if _, err := s.Stat(name); err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// resolveCollision returns the first free variant of name, appending _1,
// _2, ... before the extension. Deterministic: the lowest free suffix
// wins.
func (s *Store) resolveCollision(name string) (string, error) {
	p, err := s.path(name)
	if err != nil {
		return "", ErrNotFound
	}
	if _, err := s.lstat(p); errors.Is(err, fs.ErrNotExist) {
		return name, nil
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		cp, err := s.path(candidate)
		if err != nil {
			return "", ErrNotFound
		}
		if _, err := s.lstat(cp); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
	}
}

// tempPath returns a fresh temp file path inside the storage directory.
// Same directory means the final rename never crosses a filesystem.
func (s *Store) tempPath() (string, error) {
	id, err := auth.NewToken(16)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, ".in-"+id+tempSuffix), nil
}

// SweepTemp removes temp files older than maxAge and returns how many
// were deleted. Covers uploads orphaned by a crash; the normal write
// path cleans up after itself.
func (s *Store) SweepTemp(maxAge time.Duration) (int, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	n := 0
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), tempSuffix) {
			continue
		}
		if fi.ModTime().After(cutoff) {
			continue
		}
		if err := s.fs.Remove(filepath.Join(s.dir, fi.Name())); err == nil {
			n++
		}
	}
	return n, nil
}

// Writable probes whether the storage directory accepts writes.
func (s *Store) Writable() bool {
	p := filepath.Join(s.dir, ".probe"+tempSuffix)
	f, err := s.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = s.fs.Remove(p)
	return true
}
