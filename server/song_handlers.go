package server

import (
	"net/http"
	"strings"

	"VibeTune/logger"
	"VibeTune/model"
	"VibeTune/repository"
	"VibeTune/storage"

	"github.com/gorilla/mux"
)

// CreateSongRequest is the body of POST /api/song.
type CreateSongRequest struct {
	Title       string                `json:"title"`
	Description *string               `json:"description"`
	UserID      string                `json:"user_id"`
	Parameters  *model.SongParameters `json:"parameters"`
}

// UpdateStatusRequest is the body of PUT /api/song.
type UpdateStatusRequest struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	FileURL  string  `json:"file_url"`
	Duration float64 `json:"duration"`
}

// UpdateSongRequest is the body of PUT /api/song/{id}. A missing description
// leaves it unchanged.
type UpdateSongRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

// ListSongsHandler lists songs newest first, filtered by ?user_id= or the caller.
func (h *APIHandler) ListSongsHandler(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = UserIDFromContext(r.Context())
	}

	songs, err := h.songs.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, songs)
}

// CreateSongHandler creates a song record in processing.
func (h *APIHandler) CreateSongHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSongRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Title is required")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = UserIDFromContext(r.Context())
	}
	if userID == "" {
		writeError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	song := &model.Song{
		Title:      req.Title,
		UserID:     userID,
		Parameters: req.Parameters,
	}
	if song.Parameters != nil {
		// source media is only ever recorded by the generation pipeline
		song.Parameters.SourceMediaKey = ""
		song.Parameters.SourceMediaURL = ""
	}
	if req.Description != nil {
		if desc := strings.TrimSpace(*req.Description); desc != "" {
			song.Description = &desc
		}
	}
	if err := h.songs.Create(r.Context(), song); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, song)
}

// UpdateSongStatusHandler moves a song to completed or failed.
func (h *APIHandler) UpdateSongStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "Song ID is required")
		return
	}
	req.FileURL = strings.TrimSpace(req.FileURL)
	if req.Status == "" {
		// 仅提供 file_url 时视为完成
		if req.FileURL == "" {
			writeError(w, http.StatusBadRequest, "Status or file_url is required")
			return
		}
		req.Status = model.SongStatusCompleted
	}

	song, err := h.songs.UpdateStatus(r.Context(), req.ID, model.SongStatusUpdate{
		Status:   req.Status,
		FileURL:  req.FileURL,
		Duration: req.Duration,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, song)
}

// GetSongHandler returns one song.
func (h *APIHandler) GetSongHandler(w http.ResponseWriter, r *http.Request) {
	song, err := h.songs.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, song)
}

// UpdateSongHandler edits title and description.
func (h *APIHandler) UpdateSongHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateSongRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "Title is required")
		return
	}

	song, err := h.songs.UpdateMetadata(r.Context(), mux.Vars(r)["id"], repository.SongMetadataUpdate{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, song)
}

// DeleteSongHandler removes the song's stored media and then its record.
func (h *APIHandler) DeleteSongHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	song, err := h.songs.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	for _, key := range mediaKeys(song) {
		if err := h.store.Delete(r.Context(), key); err != nil {
			logger.Warn("[DeleteSong] 删除存储对象失败",
				logger.String("songId", id),
				logger.String("key", key),
				logger.ErrorField(err))
		}
	}

	if err := h.songs.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	logger.Info("[DeleteSong] song deleted", logger.String("songId", id))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Song deleted"})
}

// mediaKeys lists the stored objects that belong to song. file_url is client
// writable and never consulted.
func mediaKeys(song *model.Song) []string {
	keys := []string{storage.SongAudioKey(song.ID)}
	if song.Parameters != nil && song.Parameters.SourceMediaKey != "" &&
		storage.OwnsKey(song.ID, song.Parameters.SourceMediaKey) {
		keys = append(keys, song.Parameters.SourceMediaKey)
	}
	return keys
}
