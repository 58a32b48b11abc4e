package web

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hpungsan/classmate/internal/reminder"
	"github.com/hpungsan/classmate/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 5 * time.Second

// Deps are the components behind the HTTP surface.
type Deps struct {
	Sessions  *session.Manager
	Reminders *reminder.Scheduler
	// DB backs the inbox route; nil disables it.
	DB     *sql.DB
	Logger *slog.Logger
}

// NewServer creates the HTTP ingress: chat events in, replies and a
// read-only view of each user's timetable out.
func NewServer(d Deps, version, addr string) (*http.Server, error) {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	h := &Handlers{
		sessions:  d.Sessions,
		reminders: d.Reminders,
		db:        d.DB,
		renderer:  NewRenderer(templateSub, version, logger),
		logger:    logger,
	}

	return &http.Server{
		Addr:              addr,
		Handler:           securityHeaders(h.routes(staticSub)),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

func (h *Handlers) routes(static fs.FS) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("POST /events", h.HandleEvent)
	mux.HandleFunc("GET /users/{id}", h.HandleUser)
	mux.HandleFunc("DELETE /users/{id}", h.HandleDelete)
	mux.HandleFunc("GET /users/{id}/inbox", h.HandleInbox)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	return mux
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("http ingress listening", "addr", srv.Addr)
	if strings.HasPrefix(srv.Addr, ":") || strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("binding to all interfaces; the ingress has no authentication", "addr", srv.Addr)
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down http ingress")
		sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
