package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/miikkis-gh/glassfile/internal/db"
	"github.com/miikkis-gh/glassfile/internal/safename"
	"github.com/miikkis-gh/glassfile/internal/storage"
)

// multipart boilerplate allowance on top of the per-file ceiling.
const uploadOverhead = 1 << 20

// fileInfo is the File Entry shape returned by the API.
type fileInfo struct {
	Name             string `json:"name"`
	Size             int64  `json:"size"`
	SizeFormatted    string `json:"size_formatted"`
	Modified         string `json:"modified"`
	ModifiedRelative string `json:"modified_relative"`
	Extension        string `json:"extension"`
	ContentType      string `json:"content_type"`
	URL              string `json:"url"`
}

func newFileInfo(e storage.Entry) fileInfo {
	return fileInfo{
		Name:             e.Name,
		Size:             e.Size,
		SizeFormatted:    humanSize(e.Size),
		Modified:         e.ModTime.UTC().Format(time.RFC3339),
		ModifiedRelative: relativeTime(e.ModTime),
		Extension:        safename.Ext(e.Name),
		ContentType:      contentTypeFor(e.Name),
		URL:              "/files/" + e.Name,
	}
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(safename.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// handleListFiles enumerates the storage directory.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries, err := s.Store.List()
	if err != nil {
		s.mapStorageErr(w, "list", err)
		return
	}
	files := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		files = append(files, newFileInfo(e))
	}
	respond(w, http.StatusOK, map[string]any{"files": files, "total": len(files)})
}

// handleUpload streams one multipart file into the store. The body is
// capped before any read; an over-declared Content-Length is rejected
// before the storage directory can change.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if max := s.Store.MaxSize(); max > 0 {
		if r.ContentLength > max+uploadOverhead {
			fail(w, http.StatusRequestEntityTooLarge, "file exceeds the maximum allowed size")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, max+uploadOverhead)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		fail(w, http.StatusBadRequest, "multipart body required")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		fail(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer part.Close()

	name, err := safename.Clean(part.FileName())
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if err := s.Policy.Check(name); err != nil {
		fail(w, http.StatusUnsupportedMediaType, "file type not allowed")
		return
	}

	ent, err := s.Store.WriteNew(name, part, -1)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(w, http.StatusRequestEntityTooLarge, "file exceeds the maximum allowed size")
			return
		}
		s.mapStorageErr(w, "upload", err)
		return
	}

	s.audit(r, db.ActionUpload, ent.Name, ent.Size)
	s.Logger.Info("file uploaded", "name", ent.Name, "size", ent.Size, "remote_ip", clientIP(r))
	respond(w, http.StatusOK, newFileInfo(ent))
}

// nextFilePart advances the reader to the first file-bearing part named
// "file", skipping unrelated form fields.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

// handleFileByName dispatches /api/files/{name} and /api/files/{name}/info.
func (s *Server) handleFileByName(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/files/")
	if rest == "" {
		fail(w, http.StatusNotFound, "file not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		name, ok := strings.CutSuffix(rest, "/info")
		if !ok {
			fail(w, http.StatusNotFound, "file not found")
			return
		}
		s.handleInfo(w, r, name)
	case http.MethodDelete:
		s.handleDelete(w, r, rest)
	case http.MethodPut:
		s.handleRename(w, r, rest)
	default:
		fail(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request, rawName string) {
	name, err := safename.Clean(rawName)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid filename")
		return
	}
	ent, err := s.Store.Stat(name)
	if err != nil {
		s.mapStorageErr(w, "stat", err)
		return
	}
	respond(w, http.StatusOK, newFileInfo(ent))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, rawName string) {
	name, err := safename.Clean(rawName)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if err := s.Store.Delete(name); err != nil {
		s.mapStorageErr(w, "delete", err)
		return
	}
	s.audit(r, db.ActionDelete, name, 0)
	s.Logger.Info("file deleted", "name", name, "remote_ip", clientIP(r))
	respond(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("file %s deleted", name)})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request, rawName string) {
	var req struct {
		NewName string `json:"new_name"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid json body")
		return
	}
	oldName, err := safename.Clean(rawName)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid filename")
		return
	}
	newName, err := safename.Clean(req.NewName)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if err := s.Policy.Check(newName); err != nil {
		fail(w, http.StatusUnsupportedMediaType, "file type not allowed")
		return
	}

	ent, err := s.Store.Rename(oldName, newName)
	if err != nil {
		s.mapStorageErr(w, "rename", err)
		return
	}
	s.audit(r, db.ActionRename, oldName+" -> "+ent.Name, 0)
	s.Logger.Info("file renamed", "from", oldName, "to", ent.Name, "remote_ip", clientIP(r))
	respond(w, http.StatusOK, newFileInfo(ent))
}

// handlePublicDownload serves raw bytes with no credential at all; this
// is the wget-compatible direct URL. Invalid or unknown names are both
// 404 so the route leaks nothing about the sanitizer.
func (s *Server) handlePublicDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name, err := safename.Clean(strings.TrimPrefix(r.URL.Path, "/files/"))
	if err != nil {
		fail(w, http.StatusNotFound, "file not found")
		return
	}
	f, ent, err := s.Store.Open(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fail(w, http.StatusNotFound, "file not found")
			return
		}
		s.mapStorageErr(w, "download", err)
		return
	}
	defer f.Close()

	s.audit(r, db.ActionDownload, ent.Name, ent.Size)
	w.Header().Set("Content-Type", contentTypeFor(ent.Name))
	w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(ent.Name, `"`, "")+`"`)
	http.ServeContent(w, r, ent.Name, ent.ModTime, f)
}

// handleHealth is liveness only; it carries no envelope and no paths.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":           "ok",
		"storage_writable": s.Store.Writable(),
	})
}

// humanSize renders a byte count for humans, matching the UI's units.
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	f := float64(n)
	for _, suffix := range []string{"KB", "MB", "GB", "TB"} {
		f /= unit
		if f < unit {
			return fmt.Sprintf("%.1f %s", f, suffix)
		}
	}
	return fmt.Sprintf("%.1f PB", f/unit)
}

// relativeTime renders "x minutes ago" style strings for listings.
func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	case d < 7*24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	case d < 30*24*time.Hour:
		return plural(int(d.Hours()/(24*7)), "week")
	default:
		return t.Format("Jan 2, 2006")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
