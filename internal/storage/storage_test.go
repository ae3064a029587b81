// Package storage tests run against both MemMapFs and the real filesystem.
package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func newMemStore(t *testing.T, maxSize int64) *Store {
	t.Helper()
	s, err := New(afero.NewMemMapFs(), "/data", maxSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// TestWriteThenReadRoundTrip uploaded bytes come back identical, for the
// empty file and for a file exactly at the ceiling.
func TestWriteThenReadRoundTrip(t *testing.T) {
	const limit = 64
	s := newMemStore(t, limit)

	for _, payload := range [][]byte{
		{},
		bytes.Repeat([]byte("x"), limit),
		[]byte("hello world"),
	} {
		ent, err := s.WriteNew("data.bin", bytes.NewReader(payload), int64(len(payload)))
		if err != nil {
			t.Fatalf("WriteNew(%d bytes): %v", len(payload), err)
		}
		if ent.Size != int64(len(payload)) {
			t.Fatalf("size=%d want %d", ent.Size, len(payload))
		}
		f, _, err := s.Open(ent.Name)
		if err != nil {
			t.Fatalf("Open(%s): %v", ent.Name, err)
		}
		got, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("round trip mismatch: %d bytes, want %d", len(got), len(payload))
		}
	}
}

// TestWriteNewAppearsInList a successful upload is immediately listed.
func TestWriteNewAppearsInList(t *testing.T) {
	s := newMemStore(t, 0)
	if _, err := s.WriteNew("b.txt", strings.NewReader("b"), 1); err != nil {
		t.Fatalf("WriteNew: %v", err)
	}
	if _, err := s.WriteNew("a.txt", strings.NewReader("a"), 1); err != nil {
		t.Fatalf("WriteNew: %v", err)
	}
	ents, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ents) != 2 || ents[0].Name != "a.txt" || ents[1].Name != "b.txt" {
		t.Fatalf("unexpected listing: %+v", ents)
	}
}

// TestDeclaredSizeRejectedBeforeWrite an oversized declaration leaves the
// directory untouched.
func TestDeclaredSizeRejectedBeforeWrite(t *testing.T) {
	s := newMemStore(t, 10)
	_, err := s.WriteNew("big.bin", strings.NewReader("irrelevant"), 11)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err=%v want ErrTooLarge", err)
	}
	ents, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ents) != 0 {
		t.Fatalf("directory should be unchanged, got %+v", ents)
	}
}

// TestLyingDeclaredSize a client declaring small but sending big is cut off
// and leaves no trace.
func TestLyingDeclaredSize(t *testing.T) {
	s := newMemStore(t, 10)
	_, err := s.WriteNew("liar.bin", strings.NewReader(strings.Repeat("z", 100)), 5)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err=%v want ErrTooLarge", err)
	}
	ents, _ := s.List()
	if len(ents) != 0 {
		t.Fatalf("nothing should be published, got %+v", ents)
	}
}

// TestCollisionSuffix a second upload of the same name gets _1 before the
// extension, a third gets _2.
func TestCollisionSuffix(t *testing.T) {
	s := newMemStore(t, 0)
	first, err := s.WriteNew("report.pdf", strings.NewReader("one"), 3)
	if err != nil {
		t.Fatalf("WriteNew: %v", err)
	}
	if first.Name != "report.pdf" {
		t.Fatalf("first name=%q", first.Name)
	}
	second, err := s.WriteNew("report.pdf", strings.NewReader("two"), 3)
	if err != nil {
		t.Fatalf("WriteNew: %v", err)
	}
	if second.Name != "report_1.pdf" {
		t.Fatalf("second name=%q want report_1.pdf", second.Name)
	}
	third, err := s.WriteNew("report.pdf", strings.NewReader("three"), 5)
	if err != nil {
		t.Fatalf("WriteNew: %v", err)
	}
	if third.Name != "report_2.pdf" {
		t.Fatalf("third name=%q want report_2.pdf", third.Name)
	}

	f, _, err := s.Open("report_1.pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(f)
	_ = f.Close()
	if string(got) != "two" {
		t.Fatalf("report_1.pdf=%q", got)
	}
}

// TestFailedWriteLeavesNothing an aborted body never publishes and leaves
// no temp debris behind.
func TestFailedWriteLeavesNothing(t *testing.T) {
	s := newMemStore(t, 0)
	broken := io.MultiReader(strings.NewReader("partial"), failingReader{})
	if _, err := s.WriteNew("doc.txt", broken, 100); err == nil {
		t.Fatalf("expected error from aborted body")
	}
	ents, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ents) != 0 {
		t.Fatalf("nothing should be visible, got %+v", ents)
	}
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("temp file should be cleaned up, got %d entries", len(infos))
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

// gatedReader blocks its first Read on a barrier so two writers can be
// held at the same point in the write path.
type gatedReader struct {
	io.Reader
	entered *sync.WaitGroup
	barrier <-chan struct{}
	once    sync.Once
}

func (g *gatedReader) Read(p []byte) (int, error) {
	g.once.Do(func() {
		g.entered.Done()
		<-g.barrier
	})
	return g.Reader.Read(p)
}

// TestConcurrentSameName two overlapping uploads of one target leave
// exactly one file whose content is one complete payload. The final
// name is chosen before the body is read, so holding both writers at
// their first read forces them to pick the name while the directory is
// still empty; the atomic publish then makes the last one win.
func TestConcurrentSameName(t *testing.T) {
	s := newMemStore(t, 0)
	payloads := []string{strings.Repeat("A", 4096), strings.Repeat("B", 4096)}

	var entered sync.WaitGroup
	entered.Add(len(payloads))
	barrier := make(chan struct{})
	go func() {
		entered.Wait()
		close(barrier)
	}()

	var wg sync.WaitGroup
	for _, p := range payloads {
		wg.Add(1)
		go func(body string) {
			defer wg.Done()
			r := &gatedReader{Reader: strings.NewReader(body), entered: &entered, barrier: barrier}
			_, _ = s.WriteNew("race.bin", r, int64(len(body)))
		}(p)
	}
	wg.Wait()

	ents, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ents) != 1 {
		t.Fatalf("expected exactly one file, got %+v", ents)
	}
	f, _, err := s.Open(ents[0].Name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(f)
	_ = f.Close()
	if string(got) != payloads[0] && string(got) != payloads[1] {
		t.Fatalf("content is not one complete payload (len=%d)", len(got))
	}
}

// TestRenameThenDelete after rename the old name is gone and the new one
// deletable; a second delete reports not found.
func TestRenameThenDelete(t *testing.T) {
	s := newMemStore(t, 0)
	if _, err := s.WriteNew("a.txt", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("WriteNew: %v", err)
	}
	if _, err := s.Rename("a.txt", "b.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if err := s.Delete("a.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete of old name: err=%v want ErrNotFound", err)
	}
	if err := s.Delete("b.txt"); err != nil {
		t.Fatalf("delete of new name: %v", err)
	}
	if err := s.Delete("b.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: err=%v want ErrNotFound", err)
	}
}

// TestRenameConflict renaming onto a different existing file fails.
func TestRenameConflict(t *testing.T) {
	s := newMemStore(t, 0)
	_, _ = s.WriteNew("a.txt", strings.NewReader("a"), 1)
	_, _ = s.WriteNew("b.txt", strings.NewReader("b"), 1)
	if _, err := s.Rename("a.txt", "b.txt"); !errors.Is(err, ErrExists) {
		t.Fatalf("err=%v want ErrExists", err)
	}
	// Renaming onto itself is a no-op success.
	if _, err := s.Rename("a.txt", "a.txt"); err != nil {
		t.Fatalf("self rename: %v", err)
	}
}

// TestRenameMissingSource fails with not found.
func TestRenameMissingSource(t *testing.T) {
	s := newMemStore(t, 0)
	if _, err := s.Rename("ghost.txt", "new.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

// TestPathRejectsTraversal names with separators or dot prefixes resolve
// to nothing.
func TestPathRejectsTraversal(t *testing.T) {
	s := newMemStore(t, 0)
	for _, bad := range []string{"", "../x", "a/b", `a\b`, ".hidden", ".."} {
		if _, err := s.Stat(bad); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Stat(%q): err=%v want ErrNotFound", bad, err)
		}
	}
}

// TestSweepTemp removes only stale temp files.
func TestSweepTemp(t *testing.T) {
	s := newMemStore(t, 0)
	if _, err := s.WriteNew("keep.txt", strings.NewReader("k"), 1); err != nil {
		t.Fatalf("WriteNew: %v", err)
	}
	stale, err := s.tempPath()
	if err != nil {
		t.Fatalf("tempPath: %v", err)
	}
	if err := afero.WriteFile(s.fs, stale, []byte("debris"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_ = s.fs.Chtimes(stale, time.Now().Add(-2*time.Hour), time.Now().Add(-2*time.Hour))

	n, err := s.SweepTemp(time.Hour)
	if err != nil {
		t.Fatalf("SweepTemp: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	ents, _ := s.List()
	if len(ents) != 1 || ents[0].Name != "keep.txt" {
		t.Fatalf("published files must survive sweep: %+v", ents)
	}
}

// TestOsFsRoundTrip exercises the real filesystem path once.
func TestOsFsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(afero.NewOsFs(), dir, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ent, err := s.WriteNew("osfs.txt", strings.NewReader("on disk"), 7)
	if err != nil {
		t.Fatalf("WriteNew: %v", err)
	}
	f, _, err := s.Open(ent.Name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(f)
	_ = f.Close()
	if string(got) != "on disk" {
		t.Fatalf("got %q", got)
	}
	if !s.Writable() {
		t.Fatalf("temp dir should be writable")
	}
}

// TestSymlinkIsInvisible a symlink planted in the storage directory is
// never followed: it does not stat, does not open, and does not list.
func TestSymlinkIsInvisible(t *testing.T) {
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(target, []byte("outside the root"), 0o600); err != nil {
		t.Fatalf("write target: %v", err)
	}

	root := t.TempDir()
	if err := os.Symlink(target, filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported here: %v", err)
	}

	s, err := New(afero.NewOsFs(), root, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Stat("link.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Stat on symlink: %v, want ErrNotFound", err)
	}
	if _, _, err := s.Open("link.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open on symlink: %v, want ErrNotFound", err)
	}
	ents, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ents) != 0 {
		t.Fatalf("symlink leaked into listing: %+v", ents)
	}
}
