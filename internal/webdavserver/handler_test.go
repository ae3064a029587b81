package webdavserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/spf13/afero"

	"github.com/miikkis-gh/glassfile/internal/auth"
	"github.com/miikkis-gh/glassfile/internal/safename"
	"github.com/miikkis-gh/glassfile/internal/storage"
)

func newTestFS(t *testing.T) *FlatFS {
	t.Helper()
	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll("/data", 0o750); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"/data/a.txt", "/data/b.txt", "/data/.hidden", "/data/.in-abc.part"} {
		if err := afero.WriteFile(fsys, name, []byte("x"), 0o640); err != nil {
			t.Fatal(err)
		}
	}
	return NewFlatFS(fsys, "/data", safename.ExtPolicy{Block: []string{".exe"}})
}

func TestResolveRejectsNonFlatNames(t *testing.T) {
	fs := newTestFS(t)
	for _, name := range []string{"/sub/dir.txt", "/..", "/a..b.txt", "/.hidden"} {
		if _, err := fs.resolve(name); err == nil {
			t.Errorf("resolve(%q): expected error", name)
		}
	}
	if p, err := fs.resolve("/a.txt"); err != nil || p == "" {
		t.Fatalf("resolve(/a.txt) = %q, %v", p, err)
	}
	if p, err := fs.resolve("/"); err != nil || p != "" {
		t.Fatalf("resolve root = %q, %v (want empty marker)", p, err)
	}
}

func TestRootListingHidesUnpublished(t *testing.T) {
	fs := newTestFS(t)
	f, err := fs.OpenFile(context.Background(), "/", os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("open root: %v", err)
	}
	defer f.Close()
	infos, err := f.Readdir(-1)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	names := map[string]bool{}
	for _, fi := range infos {
		names[fi.Name()] = true
	}
	if !names["a.txt"] || !names["b.txt"] || len(names) != 2 {
		t.Fatalf("listing = %v, want exactly a.txt and b.txt", names)
	}
}

func TestFlatNamespaceIsEnforced(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()
	if err := fs.Mkdir(ctx, "/newdir", 0o750); err == nil {
		t.Fatal("Mkdir must fail on a flat namespace")
	}
	if _, err := fs.OpenFile(ctx, "/sub/x.txt", os.O_CREATE|os.O_WRONLY, 0o640); err == nil {
		t.Fatal("nested create must fail")
	}
	if err := fs.RemoveAll(ctx, "/"); err == nil {
		t.Fatal("removing the collection root must fail")
	}
}

// TestWritePolicy a blocked extension cannot land via WebDAV, neither
// by PUT nor by renaming an allowed file.
func TestWritePolicy(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	if _, err := fs.OpenFile(ctx, "/evil.exe", os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o640); err == nil {
		t.Fatal("blocked extension must not open for writing")
	}
	if _, err := fs.Stat(ctx, "/evil.exe"); err == nil {
		t.Fatal("rejected write must leave nothing behind")
	}
	if err := fs.Rename(ctx, "/a.txt", "/a.exe"); err == nil {
		t.Fatal("rename onto a blocked extension must fail")
	}
}

// TestWriteIsStaged a file being PUT is invisible to the store until the
// client finishes; after Close it is published with the full content.
func TestWriteIsStaged(t *testing.T) {
	fsys := afero.NewMemMapFs()
	fs := NewFlatFS(fsys, "/data", safename.ExtPolicy{})
	store, err := storage.New(fsys, "/data", 0)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	ctx := context.Background()

	f, err := fs.OpenFile(ctx, "/incoming.txt", os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.Write([]byte("half")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ents, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ents) != 0 {
		t.Fatalf("mid-write file leaked into listing: %+v", ents)
	}
	if _, err := store.Stat("incoming.txt"); err == nil {
		t.Fatal("mid-write file must not stat")
	}

	if _, err := f.Write([]byte(" done")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ent, err := store.Stat("incoming.txt")
	if err != nil {
		t.Fatalf("Stat after close: %v", err)
	}
	if ent.Size != int64(len("half done")) {
		t.Fatalf("size=%d", ent.Size)
	}
}

// TestWriteReplacesExisting a PUT over an existing name swaps in the new
// content atomically.
func TestWriteReplacesExisting(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	f, err := fs.OpenFile(ctx, "/a.txt", os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.Write([]byte("replaced")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := afero.ReadFile(fs.fs, "/data/a.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "replaced" {
		t.Fatalf("content=%q", got)
	}
}

func TestHandlerAuth(t *testing.T) {
	hash, err := auth.HashSecret("dav-secret")
	if err != nil {
		t.Fatal(err)
	}
	h := &Handler{
		FS:        newTestFS(t),
		Prefix:    "/webdav",
		AdminHash: hash,
		APIKeys:   []string{"dav-api-key"},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	r := httptest.NewRequest("OPTIONS", "/webdav/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("no credentials: status=%d", w.Code)
	}

	for _, password := range []string{"dav-api-key", "dav-secret"} {
		r = httptest.NewRequest("OPTIONS", "/webdav/", nil)
		r.SetBasicAuth("anything", password)
		w = httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code == http.StatusUnauthorized {
			t.Fatalf("password %q rejected", password)
		}
	}

	r = httptest.NewRequest("OPTIONS", "/webdav/", nil)
	r.SetBasicAuth("anything", "wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: status=%d", w.Code)
	}
}
