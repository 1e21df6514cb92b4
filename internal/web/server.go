package web

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hpungsan/critique/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// NewServer creates the HTTP server for the review UI. ctx bounds reviews
// started from the browser; they outlive the request that started them.
func NewServer(ctx context.Context, sess *session.Session, database *sql.DB, version, bind string, port int) (*http.Server, error) {
	// Create sub-FS for templates (strip "templates/" prefix)
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	h := NewHandlers(ctx, sess, database, NewRenderer(templateSub, version))

	mux := http.NewServeMux()
	h.register(mux)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           securityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// register wires every route of the UI onto mux.
func (h *Handlers) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.HandleDocument)
	mux.HandleFunc("POST /document", h.HandleEdit)
	mux.HandleFunc("POST /document/upload", h.HandleUpload)
	mux.HandleFunc("POST /document/language", h.HandleLanguage)
	mux.HandleFunc("POST /theme", h.HandleTheme)

	mux.HandleFunc("POST /threads", h.HandleCreateThread)
	mux.HandleFunc("GET /threads/{id}", h.HandleThread)
	mux.HandleFunc("GET /threads/{id}/messages", h.HandleMessages)
	mux.HandleFunc("POST /threads/{id}/review", h.HandleReview)
	mux.HandleFunc("POST /threads/{id}/followup", h.HandleFollowUp)
	mux.HandleFunc("POST /threads/{id}/reselect", h.HandleReselect)
	mux.HandleFunc("POST /threads/{id}/resolve", h.HandleResolve)
	mux.HandleFunc("POST /threads/{id}/apply", h.HandleApply)
	mux.HandleFunc("POST /threads/{id}/delete", h.HandleDeleteThread)
	mux.HandleFunc("DELETE /threads/{id}", h.HandleDeleteThread)

	mux.HandleFunc("POST /review/retry", h.HandleRetry)
	mux.HandleFunc("POST /review/abort", h.HandleAbort)

	mux.HandleFunc("GET /export", h.HandleExportPreview)
	mux.HandleFunc("GET /export.md", h.HandleExportMarkdown)
	mux.HandleFunc("GET /export.json", h.HandleExportJSON)
	mux.HandleFunc("POST /session/clear", h.HandleClear)

	mux.HandleFunc("GET /sessions", h.HandleSessions)
	mux.HandleFunc("POST /sessions/{name}/delete", h.HandleDeleteSession)
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().Str("addr", "http://"+srv.Addr).Msg("Critique UI running")

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn().Msg("Server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
