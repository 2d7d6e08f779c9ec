package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mindcast/internal/util"
	"mindcast/pkg/domain"
	"mindcast/pkg/metrics"
	"mindcast/services/episodes/internal/app"
)

const userHeader = "X-User-Id"

// Server exposes the feed and episode API.
type Server struct {
	app    *app.App
	router chi.Router
}

// New constructs the server with routes configured.
func New(a *app.App) *Server {
	s := &Server{app: a, router: chi.NewRouter()}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("episodes", s.router))
}

func (s *Server) routes() {
	s.router.NotFound(func(w http.ResponseWriter, _ *http.Request) { writeError(w, http.StatusNotFound, "not found") })
	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.router.Handle("/metrics", metrics.Handler())
	s.router.Group(func(r chi.Router) {
		r.Use(withUser)
		r.Post("/feeds", s.handleSubscribeFeed)
		r.Get("/feeds/{feedID}/episodes", s.handleListEpisodes)
		r.Post("/episodes", s.handleCreateEpisode)
		r.Get("/episodes/{id}", s.handleGetEpisode)
		r.Patch("/episodes/{id}", s.handleUpdateEpisode)
		r.Delete("/episodes/{id}", s.handleDeleteEpisode)
	})
}

type ctxUserKey struct{}

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

func userFrom(r *http.Request) string {
	v, _ := r.Context().Value(ctxUserKey{}).(string)
	return v
}

type episodeView struct {
	domain.Episode
	IsReady bool `json:"is_ready"`
}

func view(ep domain.Episode) episodeView {
	return episodeView{Episode: ep, IsReady: ep.Status == domain.StatusSynced}
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func (s *Server) handleSubscribeFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	feed, err := s.app.SubscribeFeed(r.Context(), userFrom(r), req.URL)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, feed)
}

func (s *Server) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	eps, err := s.app.ListEpisodes(r.Context(), userFrom(r), chi.URLParam(r, "feedID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	items := make([]episodeView, 0, len(eps))
	for _, ep := range eps {
		items = append(items, view(ep))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleCreateEpisode(w http.ResponseWriter, r *http.Request) {
	var in app.EpisodeInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	ep, err := s.app.CreateEpisode(r.Context(), userFrom(r), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view(ep))
}

func (s *Server) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	ep, err := s.app.GetEpisode(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view(ep))
}

func (s *Server) handleUpdateEpisode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	ep, err := s.app.UpdateEpisodeTitle(r.Context(), userFrom(r), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view(ep))
}

func (s *Server) handleDeleteEpisode(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteEpisode(r.Context(), userFrom(r), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrEpisodeNotFound), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "episode not found")
	case errors.Is(err, app.ErrEpisodeExists):
		writeError(w, http.StatusConflict, "episode already exists")
	case errors.Is(err, app.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrPublishFailed):
		writeError(w, http.StatusBadGateway, "event publish failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
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
		Code:      errorCodeForEpisode(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForEpisode(status int, msg string) string {
	switch strings.ToLower(strings.TrimSpace(msg)) {
	case "unauthorized":
		return "AUTH_MISSING_USER"
	case "episode not found":
		return "EPISODE_NOT_FOUND"
	case "episode already exists":
		return "EPISODE_ALREADY_EXISTS"
	case "event publish failed":
		return "EPISODE_EVENT_PUBLISH_FAILED"
	case "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case "not found":
		return "SYSTEM_NOT_FOUND"
	}
	switch status {
	case http.StatusBadRequest:
		return "EPISODE_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_MISSING_USER"
	case http.StatusNotFound:
		return "EPISODE_NOT_FOUND"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}
