package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"VibeTune/core/auth"
	"VibeTune/core/generation"
	"VibeTune/core/music"
	"VibeTune/core/poller"
	"VibeTune/logger"
	"VibeTune/model"
	"VibeTune/repository"
	"VibeTune/storage"

	"github.com/gorilla/mux"
)

// maxUploadBytes bounds multipart bodies (a 30 s clip plus headroom).
const maxUploadBytes = 200 << 20

// Submitter starts background generation for a captured clip.
type Submitter interface {
	Submit(ctx context.Context, sub generation.Submission) (*model.Song, error)
}

// Deps are the collaborators of APIHandler.
type Deps struct {
	Songs        repository.SongRepository
	Users        repository.UserRepository
	Store        storage.Store
	Prompts      generation.PromptResolver
	Music        music.Generator
	Jobs         Submitter
	Tokens       *auth.TokenManager
	PollInterval time.Duration
}

// APIHandler 处理所有API请求
type APIHandler struct {
	songs        repository.SongRepository
	users        repository.UserRepository
	store        storage.Store
	prompts      generation.PromptResolver
	music        music.Generator
	jobs         Submitter
	tokens       *auth.TokenManager
	pollInterval time.Duration
	now          func() time.Time
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(d Deps) *APIHandler {
	if d.PollInterval <= 0 {
		d.PollInterval = poller.DefaultInterval
	}
	return &APIHandler{
		songs:        d.Songs,
		users:        d.Users,
		store:        d.Store,
		prompts:      d.Prompts,
		music:        d.Music,
		jobs:         d.Jobs,
		tokens:       d.Tokens,
		pollInterval: d.PollInterval,
		now:          time.Now,
	}
}

// Router 使用 gorilla/mux 创建路由器
func (h *APIHandler) Router() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", h.HealthHandler).Methods(http.MethodGet)
	router.PathPrefix("/media/").HandlerFunc(h.MediaHandler).Methods(http.MethodGet, http.MethodHead)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(h.OptionalAuth)

	// 用户认证相关的API端点
	api.HandleFunc("/auth/register", h.RegisterHandler).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.LoginHandler).Methods(http.MethodPost)

	// 歌曲相关的API端点
	api.HandleFunc("/song", h.ListSongsHandler).Methods(http.MethodGet)
	api.HandleFunc("/song", h.CreateSongHandler).Methods(http.MethodPost)
	api.HandleFunc("/song", h.UpdateSongStatusHandler).Methods(http.MethodPut)
	api.HandleFunc("/song/ws", h.SongFeedHandler).Methods(http.MethodGet)
	api.HandleFunc("/song/{id}", h.GetSongHandler).Methods(http.MethodGet)
	api.HandleFunc("/song/{id}", h.UpdateSongHandler).Methods(http.MethodPut)
	api.HandleFunc("/song/{id}", h.DeleteSongHandler).Methods(http.MethodDelete)

	// 生成与上传
	api.HandleFunc("/generate", h.GenerateHandler).Methods(http.MethodPost)
	api.HandleFunc("/upload", h.UploadHandler).Methods(http.MethodPost)
	api.HandleFunc("/create", h.CreateFromVideoHandler).Methods(http.MethodPost)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	// CORS wraps the router so preflight requests never reach method matching.
	return recoverMiddleware(corsMiddleware(requestLogger(router)))
}

// HealthHandler reports liveness.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("[HTTP] failed to encode response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	status, msg := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("[HTTP] request failed", logger.ErrorField(err))
	}
	writeError(w, status, msg)
}

func statusForError(err error) (int, string) {
	var upstream *music.UpstreamError
	switch {
	case errors.Is(err, repository.ErrSongNotFound):
		return http.StatusNotFound, "Song not found"
	case errors.Is(err, repository.ErrDuplicateUser):
		return http.StatusConflict, "Username or email already exists"
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, generation.ErrJobInFlight):
		return http.StatusConflict, err.Error()
	case errors.Is(err, model.ErrInvalidStatus),
		errors.Is(err, model.ErrMissingFileURL),
		errors.Is(err, model.ErrUnexpectedFileURL),
		errors.Is(err, generation.ErrInvalidSubmission):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, music.ErrEmptyPrompt):
		return http.StatusBadRequest, "Prompt is required"
	case errors.As(err, &upstream):
		return upstream.HTTPStatus(), upstream.Message
	case errors.Is(err, music.ErrTimeout):
		return http.StatusRequestTimeout, "Request timeout - music generation took too long"
	case errors.Is(err, music.ErrUnreachable), errors.Is(err, music.ErrNotConfigured),
		errors.Is(err, generation.ErrShuttingDown):
		return http.StatusServiceUnavailable, "Failed to connect to AI service"
	case errors.Is(err, music.ErrNoAudio):
		return http.StatusInternalServerError, "No audio data received from AI model"
	case errors.Is(err, music.ErrDecode):
		return http.StatusInternalServerError, "Failed to decode audio data"
	}
	return http.StatusInternalServerError, "Internal server error"
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(dst)
}

// 添加 CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Content-Disposition, X-Audio-Duration, X-Audio-Sample-Rate, X-Audio-Channels")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("[HTTP] panic recovered",
					logger.Any("panic", rec),
					logger.String("path", r.URL.Path),
					logger.String("stack", string(debug.Stack())))
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack is required by the websocket upgrader.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("[HTTP] request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rec.status),
			logger.Duration("took", time.Since(start)))
	})
}
