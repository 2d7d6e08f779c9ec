package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"mindcast/internal/ratelimit"
	"mindcast/internal/util"
	"mindcast/pkg/domain"
	"mindcast/pkg/metrics"
	"mindcast/services/files/internal/app"
)

const userHeader = "X-User-Id"

// Limiter admits or rejects one request for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	MaxUploadBytes int64
	// UploadLimiter throttles file creation per user. Nil disables it.
	UploadLimiter Limiter
}

// Server exposes the files API.
type Server struct {
	app            *app.App
	router         chi.Router
	maxUploadBytes int64
	uploadLimiter  Limiter
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	s := &Server{app: cfg.App, router: chi.NewRouter(), maxUploadBytes: maxUploadBytes, uploadLimiter: cfg.UploadLimiter}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("files", s.router))
}

func (s *Server) routes() {
	s.router.NotFound(func(w http.ResponseWriter, _ *http.Request) { notFound(w, "not found") })
	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { methodNotAllowed(w) })
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())
	s.router.Route("/files", func(r chi.Router) {
		r.Use(withUser)
		r.With(s.withUploadLimit).Post("/", s.handleCreateFile)
		r.Get("/", s.handleListFiles)
		r.Get("/{id}", s.handleGetFile)
		r.Patch("/{id}", s.handleRenameFile)
		r.Delete("/{id}", s.handleDeleteFile)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ctxUserKey struct{}

// withUser requires the caller's user id, set by the upstream gateway.
func withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(userHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUserKey{}, userID)))
	})
}

func (s *Server) withUploadLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.uploadLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		d, err := s.uploadLimiter.Allow(r.Context(), userFrom(r))
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("upload rate limit check failed", "err", err)
		}
		if !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "too many uploads")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFrom(r *http.Request) string {
	v, _ := r.Context().Value(ctxUserKey{}).(string)
	return v
}

type fileView struct {
	domain.FileArtifact
	IsReady     bool   `json:"is_ready"`
	DownloadURL string `json:"download_url,omitempty"`
}

func (s *Server) view(r *http.Request, f domain.FileArtifact) fileView {
	return fileView{FileArtifact: f, IsReady: f.IsReady(), DownloadURL: s.app.DownloadURL(r.Context(), f)}
}

type createRequest struct {
	FileName string `json:"file_name"`
	URL      string `json:"url"`
}

type renameRequest struct {
	FileName string `json:"file_name"`
}

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		f   domain.FileArtifact
		err error
	)
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		if perr := r.ParseMultipartForm(32 << 20); perr != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(perr, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "file too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			writeError(w, http.StatusBadRequest, "file is required (field: file)")
			return
		}
		defer file.Close()
		f, err = s.app.UploadFile(r.Context(), userFrom(r), header.Filename, file, header.Size)
	} else {
		var req createRequest
		if derr := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); derr != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		f, err = s.app.RegisterFile(r.Context(), userFrom(r), req.FileName, req.URL)
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(r, f))
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.app.ListFiles(r.Context(), userFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	items := make([]fileView, 0, len(files))
	for _, f := range files {
		items = append(items, s.view(r, f))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	f, err := s.app.GetFile(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(r, f))
}

func (s *Server) handleRenameFile(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	f, err := s.app.RenameFile(r.Context(), userFrom(r), chi.URLParam(r, "id"), req.FileName)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(r, f))
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteFile(r.Context(), userFrom(r), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrFileNotFound), errors.Is(err, domain.ErrNotFound):
		notFound(w, "file not found")
	case errors.Is(err, app.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrPublishFailed):
		writeError(w, http.StatusBadGateway, "event publish failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForFile(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForFile(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_MISSING_USER"
	case message == "file not found":
		return "FILE_NOT_FOUND"
	case message == "file too large":
		return "FILE_TOO_LARGE"
	case strings.Contains(message, "file is required"), strings.Contains(message, "filename required"):
		return "FILE_REQUIRED"
	case message == "invalid form data":
		return "FILE_INVALID_UPLOAD_FORM"
	case message == "too many uploads":
		return "FILE_RATE_LIMITED"
	case message == "event publish failed":
		return "FILE_EVENT_PUBLISH_FAILED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "FILE_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_MISSING_USER"
	case http.StatusNotFound:
		return "FILE_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}
