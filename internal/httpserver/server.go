package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/blackmichael/clipfeed/internal/config"
	"github.com/blackmichael/clipfeed/internal/domain"
	"github.com/blackmichael/clipfeed/internal/feed"
	"github.com/blackmichael/clipfeed/internal/toast"
)

// Server exposes the reconciled feed and the toast queue to a local UI,
// and accepts the viewer's actions.
type Server struct {
	engine     *feed.Engine
	toasts     *toast.Dispatcher
	logger     *slog.Logger
	httpServer *http.Server

	mu      sync.Mutex
	details map[string]*feed.DetailView
}

// NewServer creates a new HTTP server over the engine and dispatcher.
func NewServer(cfg *config.Config, engine *feed.Engine, toasts *toast.Dispatcher, logger *slog.Logger) *Server {
	s := &Server{
		engine:  engine,
		toasts:  toasts,
		logger:  logger,
		details: make(map[string]*feed.DetailView),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/feed", s.handleFeed).Methods(http.MethodGet)
	r.HandleFunc("/feed/scope", s.handleSetScope).Methods(http.MethodPost)
	r.HandleFunc("/feed/advance", s.handleAdvance).Methods(http.MethodPost)
	r.HandleFunc("/feed/retry", s.handleRetry).Methods(http.MethodPost)

	r.HandleFunc("/posts", s.handleCreatePost).Methods(http.MethodPost)
	r.HandleFunc("/posts/{id}", s.handleDeletePost).Methods(http.MethodDelete)
	r.HandleFunc("/posts/{id}/archive", s.handleArchivePost).Methods(http.MethodPost)
	r.HandleFunc("/posts/{id}/thread", s.handleThread).Methods(http.MethodGet)
	r.HandleFunc("/posts/{id}/like", s.handleLike).Methods(http.MethodPost)
	r.HandleFunc("/posts/{id}/like", s.handleUnlike).Methods(http.MethodDelete)
	r.HandleFunc("/posts/{id}/comments", s.handleComment).Methods(http.MethodPost)
	r.HandleFunc("/posts/{id}/comments/{commentID}", s.handleDeleteComment).Methods(http.MethodDelete)
	r.HandleFunc("/posts/{id}/detail", s.handleOpenDetail).Methods(http.MethodPost)
	r.HandleFunc("/posts/{id}/detail", s.handleCloseDetail).Methods(http.MethodDelete)

	r.HandleFunc("/toasts", s.handleToasts).Methods(http.MethodGet)
	r.HandleFunc("/toasts/{id}", s.handleDismissToast).Methods(http.MethodDelete)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      withLogging(logger, r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server and closes any open
// detail surfaces.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for id, dv := range s.details {
		dv.Close()
		delete(s.details, id)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.View(r.Context())
	if err != nil {
		s.logger.Error("failed to read feed view", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "feed is not running")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSetScope(w http.ResponseWriter, r *http.Request) {
	var scope domain.Scope
	if !decodeBody(w, r, &scope) {
		return
	}
	s.engine.SetScope(scope)
	writeAccepted(w)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	req := struct {
		SentinelVisible *bool `json:"sentinelVisible"`
	}{}
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}
	visible := req.SentinelVisible == nil || *req.SentinelVisible
	s.engine.MaybeAdvance(visible)
	writeAccepted(w)
}

func (s *Server) handleRetry(w http.ResponseWriter, _ *http.Request) {
	s.engine.Retry()
	writeAccepted(w)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var draft domain.PostDraft
	if !decodeBody(w, r, &draft) {
		return
	}
	if draft.Attachment != nil && !draft.Attachment.Valid() {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "attachment must carry exactly one of audio, project or link")
		return
	}
	s.engine.CreatePost(draft)
	writeAccepted(w)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	s.engine.DeletePost(mux.Vars(r)["id"])
	writeAccepted(w)
}

func (s *Server) handleArchivePost(w http.ResponseWriter, r *http.Request) {
	s.engine.ArchivePost(mux.Vars(r)["id"])
	writeAccepted(w)
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	postID := mux.Vars(r)["id"]
	view, err := s.engine.Thread(r.Context(), postID)
	if err != nil {
		s.logger.Error("failed to read thread", "post_id", postID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "feed is not running")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	s.engine.ApplyOptimisticMutation(feed.MutationRequest{
		Kind:   feed.MutationLike,
		PostID: mux.Vars(r)["id"],
	})
	writeAccepted(w)
}

func (s *Server) handleUnlike(w http.ResponseWriter, r *http.Request) {
	s.engine.ApplyOptimisticMutation(feed.MutationRequest{
		Kind:   feed.MutationUnlike,
		PostID: mux.Vars(r)["id"],
	})
	writeAccepted(w)
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Body            string `json:"content"`
		ParentCommentID string `json:"parentCommentId"`
	}{}
	if !decodeBody(w, r, &req) {
		return
	}
	s.engine.ApplyOptimisticMutation(feed.MutationRequest{
		Kind:            feed.MutationComment,
		PostID:          mux.Vars(r)["id"],
		Body:            req.Body,
		ParentCommentID: req.ParentCommentID,
	})
	writeAccepted(w)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.engine.DeleteComment(vars["id"], vars["commentID"])
	writeAccepted(w)
}

func (s *Server) handleOpenDetail(w http.ResponseWriter, r *http.Request) {
	postID := mux.Vars(r)["id"]

	s.mu.Lock()
	dv, ok := s.details[postID]
	if !ok {
		var err error
		dv, err = s.engine.OpenDetail(r.Context(), postID)
		if err != nil {
			s.mu.Unlock()
			s.logger.Error("failed to open detail", "post_id", postID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "Unavailable", "feed is not running")
			return
		}
		s.details[postID] = dv
	}
	s.mu.Unlock()

	view, err := dv.View(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "feed is not running")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCloseDetail(w http.ResponseWriter, r *http.Request) {
	postID := mux.Vars(r)["id"]

	s.mu.Lock()
	dv, ok := s.details[postID]
	delete(s.details, postID)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "no open detail for post")
		return
	}
	dv.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToasts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"visible": s.toasts.Visible(),
		"queued":  s.toasts.Queued(),
	})
}

func (s *Server) handleDismissToast(w http.ResponseWriter, r *http.Request) {
	if !s.toasts.Dismiss(mux.Vars(r)["id"]) {
		writeError(w, http.StatusNotFound, "NotFound", "toast is not visible")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body")
		return false
	}
	return true
}

func writeAccepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
