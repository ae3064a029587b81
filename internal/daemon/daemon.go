// Package daemon wires configuration, storage, the audit database, and
// the HTTP stack into one running service.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"

	"github.com/miikkis-gh/glassfile/internal/config"
	"github.com/miikkis-gh/glassfile/internal/db"
	"github.com/miikkis-gh/glassfile/internal/httpapi"
	"github.com/miikkis-gh/glassfile/internal/logging"
	"github.com/miikkis-gh/glassfile/internal/safename"
	"github.com/miikkis-gh/glassfile/internal/session"
	"github.com/miikkis-gh/glassfile/internal/storage"
	"github.com/miikkis-gh/glassfile/internal/version"
	"github.com/miikkis-gh/glassfile/internal/webdavserver"
)

// Run starts the service described by the config file at cfgPath and
// blocks until ctx is cancelled or the listener fails.
func Run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	if err != nil {
		return err
	}

	audit, err := db.Open(ctx, cfg.Audit.Path)
	if err != nil {
		return err
	}
	defer audit.Close()

	fsys := afero.NewOsFs()
	store, err := storage.New(fsys, cfg.Storage.Directory, cfg.Storage.MaxFileSize)
	if err != nil {
		return err
	}

	allow, err := httpapi.NewAllowlist(cfg.Security.IPAllowlist)
	if err != nil {
		return err
	}

	sessions := session.NewStore(cfg.Security.SessionTTL())

	policy := safename.ExtPolicy{
		Allow: cfg.Storage.AllowedExtensions,
		Block: cfg.Storage.BlockedExtensions,
	}

	api := &httpapi.Server{
		Store:    store,
		Sessions: sessions,
		Audit:    audit,
		Logger:   logger,

		AdminHash:  cfg.Security.AdminPasswordHash,
		APIKeys:    cfg.Security.APIKeys,
		Allow:      allow,
		Policy:     policy,
		SessionTTL: cfg.Security.SessionTTL(),
	}

	mux := http.NewServeMux()
	if cfg.WebDAV.Enable {
		dav := &webdavserver.Handler{
			FS:        webdavserver.NewFlatFS(fsys, cfg.Storage.Directory, policy),
			Prefix:    cfg.WebDAV.Prefix,
			AdminHash: cfg.Security.AdminPasswordHash,
			APIKeys:   cfg.Security.APIKeys,
			Logger:    logger,
		}
		mux.Handle(cfg.WebDAV.Prefix+"/", dav)
		mux.Handle(cfg.WebDAV.Prefix, dav)
		logger.Info("webdav mount enabled", "prefix", cfg.WebDAV.Prefix)
	}
	mux.Handle("/", api.Routes())

	jobs, err := startJanitor(ctx, cfg, logger, store, sessions, audit)
	if err != nil {
		return err
	}
	defer jobs.Stop()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "version", version.Version, "storage_dir", cfg.Storage.Directory)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startJanitor schedules the background sweeps: stale upload temp
// files, expired sessions, and audit rows past retention.
func startJanitor(ctx context.Context, cfg config.Config, logger *slog.Logger, store *storage.Store, sessions *session.Store, audit *db.DB) (*cron.Cron, error) {
	c := cron.New()
	retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour

	_, err := c.AddFunc(cfg.Janitor.Schedule, func() {
		if n, err := store.SweepTemp(cfg.Janitor.TempMaxAge()); err != nil {
			logger.Warn("temp sweep failed", "err", err.Error())
		} else if n > 0 {
			logger.Info("swept stale temp files", "count", n)
		}
		if n := sessions.Sweep(); n > 0 {
			logger.Info("swept expired sessions", "count", n)
		}
		if n, err := audit.PruneEvents(ctx, retention); err != nil {
			logger.Warn("audit prune failed", "err", err.Error())
		} else if n > 0 {
			logger.Info("pruned audit events", "count", n)
		}
	})
	if err != nil {
		return nil, errors.New("invalid janitor schedule: " + err.Error())
	}
	c.Start()
	return c, nil
}
