// Package httpapi exposes the file management service over HTTP. Every
// handler follows the same sequence: auth gate, input sanitation, storage
// call, envelope. TLS termination belongs to the reverse proxy in front.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/miikkis-gh/glassfile/internal/auth"
	"github.com/miikkis-gh/glassfile/internal/db"
	"github.com/miikkis-gh/glassfile/internal/safename"
	"github.com/miikkis-gh/glassfile/internal/session"
	"github.com/miikkis-gh/glassfile/internal/storage"
)

const sessionCookie = "glassfile_session"

// Server wires the storage engine, session table, and credential
// material into HTTP handlers. All fields are set once at startup.
type Server struct {
	Store    *storage.Store
	Sessions *session.Store
	Audit    *db.DB // nil disables audit recording
	Logger   *slog.Logger

	AdminHash  string
	APIKeys    []string
	Allow      *Allowlist // nil allows every address
	Policy     safename.ExtPolicy
	SessionTTL time.Duration

	logins *loginLimiter
}

// Routes assembles the full handler chain.
func (s *Server) Routes() http.Handler {
	if s.logins == nil {
		s.logins = newLoginLimiter(10, time.Minute)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.HandleFunc("/api/files", s.withAuth(s.handleListFiles))
	mux.HandleFunc("/api/files/", s.withAuth(s.handleFileByName))
	mux.HandleFunc("/api/upload", s.withAuth(s.handleUpload))
	mux.HandleFunc("/api/events", s.withAuth(s.handleEvents))
	mux.HandleFunc("/files/", s.handlePublicDownload)
	mux.HandleFunc("/health", s.handleHealth)

	return s.withRequestLog(s.withRecover(withSecurityHeaders(mux)))
}

// ListenAndServe serves Routes on addr until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}

type ctxKey string

const ctxPrincipal ctxKey = "principal"

// principal returns "web", "api", or "" for the current request.
func principal(r *http.Request) string {
	v, _ := r.Context().Value(ctxPrincipal).(string)
	return v
}

// withAuth is the auth gate in front of every management route. The IP
// allow-list applies first; then a live session wins, then an API key.
// An expired session cookie is indistinguishable from no cookie at all.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.ipAllowed(r) {
			fail(w, http.StatusForbidden, "forbidden")
			return
		}
		if tok, ok := readSessionCookie(r); ok && s.Sessions.Validate(tok) {
			next(w, r.WithContext(context.WithValue(r.Context(), ctxPrincipal, "web")))
			return
		}
		if key := r.Header.Get("X-API-Key"); key != "" && auth.MatchAPIKey(key, s.APIKeys) {
			next(w, r.WithContext(context.WithValue(r.Context(), ctxPrincipal, "api")))
			return
		}
		fail(w, http.StatusUnauthorized, "authentication required")
	}
}

func (s *Server) ipAllowed(r *http.Request) bool {
	if s.Allow == nil {
		return true
	}
	return s.Allow.Contains(clientIP(r))
}

// handleLogin verifies the admin secret and rotates the session. The
// failure message never hints at what part was wrong; there is only one
// identity, so any detail would leak whether the secret was close.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.ipAllowed(r) {
		fail(w, http.StatusForbidden, "forbidden")
		return
	}
	ip := clientIP(r)
	if wait, ok := s.logins.allow(ip); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		fail(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid json body")
		return
	}

	ok, err := auth.VerifySecret(req.Password, s.AdminHash)
	if err != nil {
		s.Logger.Error("secret verification failed", "err", err.Error())
		fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		s.audit(r, db.ActionLoginFailed, "", 0)
		s.Logger.Warn("failed login", "remote_ip", ip)
		fail(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	// Rotate: any token this browser held is dead after a new login.
	if old, had := readSessionCookie(r); had {
		s.Sessions.Revoke(old)
	}
	tok, err := s.Sessions.Issue()
	if err != nil {
		s.Logger.Error("session issue failed", "err", err.Error())
		fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.setSessionCookie(w, tok)
	s.audit(r, db.ActionLogin, "", 0)
	s.Logger.Info("login", "remote_ip", ip)
	respond(w, http.StatusOK, map[string]string{"message": "login successful"})
}

// handleLogout drops the server-side session and clears the cookie. It
// succeeds even when no session exists.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !s.ipAllowed(r) {
		fail(w, http.StatusForbidden, "forbidden")
		return
	}
	if tok, ok := readSessionCookie(r); ok {
		s.Sessions.Revoke(tok)
	}
	s.clearSessionCookie(w)
	respond(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// handleEvents returns recent audit events, newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.Audit == nil {
		respond(w, http.StatusOK, map[string]any{"events": []db.Event{}, "total": 0})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	evts, err := s.Audit.RecentEvents(r.Context(), limit)
	if err != nil {
		s.Logger.Error("audit query failed", "err", err.Error())
		fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if evts == nil {
		evts = []db.Event{}
	}
	respond(w, http.StatusOK, map[string]any{"events": evts, "total": len(evts)})
}

// audit records an event, if an audit database is attached.
func (s *Server) audit(r *http.Request, action, name string, size int64) {
	if s.Audit == nil {
		return
	}
	actor := principal(r)
	if actor == "" {
		actor = "public"
	}
	e := db.Event{Actor: actor, Action: action, FileName: name, Size: size, RemoteIP: clientIP(r)}
	if err := s.Audit.InsertEvent(r.Context(), e); err != nil {
		s.Logger.Warn("audit insert failed", "action", action, "err", err.Error())
	}
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.SessionTTL.Seconds()),
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func readSessionCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// mapStorageErr translates sentinel errors into client responses; any
// unexpected error is logged in full and surfaced as a generic failure.
func (s *Server) mapStorageErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fail(w, http.StatusNotFound, "file not found")
	case errors.Is(err, storage.ErrExists):
		fail(w, http.StatusConflict, "a file with that name already exists")
	case errors.Is(err, storage.ErrTooLarge):
		fail(w, http.StatusRequestEntityTooLarge, "file exceeds the maximum allowed size")
	case errors.Is(err, safename.ErrInvalidName):
		fail(w, http.StatusBadRequest, "invalid filename")
	case errors.Is(err, safename.ErrTypeNotAllowed):
		fail(w, http.StatusUnsupportedMediaType, "file type not allowed")
	default:
		s.Logger.Error("storage failure", "op", op, "err", err.Error())
		fail(w, http.StatusInternalServerError, "internal error")
	}
}
