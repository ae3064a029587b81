// Package webdavserver mounts the storage directory as an optional
// authenticated WebDAV collection, so desktop clients can mount the
// file area without going through the JSON API.
package webdavserver

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/webdav"

	"github.com/miikkis-gh/glassfile/internal/auth"
)

// Handler serves WebDAV behind HTTP basic auth. The password is either
// the admin secret or any configured API key; there is only one
// identity, so the username is ignored.
type Handler struct {
	FS        *FlatFS
	Prefix    string
	AdminHash string
	APIKeys   []string
	Logger    *slog.Logger

	once sync.Once
	ls   webdav.LockSystem
}

func (h *Handler) lockSystem() webdav.LockSystem {
	h.once.Do(func() {
		h.ls = webdav.NewMemLS()
	})
	return h.ls
}

func (h *Handler) authorized(password string) bool {
	if auth.MatchAPIKey(password, h.APIKeys) {
		return true
	}
	ok, err := auth.VerifySecret(password, h.AdminHash)
	return err == nil && ok
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lg := h.Logger
	if lg == nil {
		lg = slog.Default()
	}

	_, password, ok := r.BasicAuth()
	if !ok || !h.authorized(password) {
		w.Header().Set("WWW-Authenticate", `Basic realm="glassfile"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	lg.Debug("webdav request", "method", r.Method, "path", r.URL.Path)

	dav := &webdav.Handler{
		Prefix:     strings.TrimSuffix(h.Prefix, "/"),
		FileSystem: h.FS,
		LockSystem: h.lockSystem(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				lg.Warn("webdav request error", "method", r.Method, "path", r.URL.Path, "err", err.Error())
			}
		},
	}
	dav.ServeHTTP(w, r)
}
