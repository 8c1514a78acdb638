package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"VibeTune/core/generation"
	"VibeTune/core/music"
	"VibeTune/core/vision"
	"VibeTune/logger"
	"VibeTune/storage"
)

// GenerateRequest is the JSON body of POST /api/generate.
type GenerateRequest struct {
	Prompt       string `json:"prompt"`
	NegativeTags string `json:"negativeTags"`
}

// UploadResponse is returned by POST /api/upload.
type UploadResponse struct {
	Success bool   `json:"success"`
	FileURL string `json:"fileUrl"`
	Path    string `json:"path"`
}

// GenerateHandler runs text-to-music synchronously and returns the WAV.
// Multipart requests carry a video that is turned into a prompt first.
func (h *APIHandler) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	if h.music == nil {
		writeServiceError(w, music.ErrNotConfigured)
		return
	}

	var req music.Request
	if isMultipart(r) {
		if err := parseMultipart(w, r); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid multipart body")
			return
		}
		video, _, err := readVideo(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid video upload")
			return
		}
		annotation := strings.TrimSpace(r.FormValue("userText"))
		if video == nil && annotation == "" {
			writeError(w, http.StatusBadRequest, "Prompt is required")
			return
		}
		res := h.prompts.Prompt(r.Context(), video, annotation)
		logger.Info("[Generate] prompt resolved", logger.String("source", string(res.Source)))
		req = music.Request{Prompt: res.Prompt, NegativePrompt: r.FormValue("negativeTags")}
	} else {
		var body GenerateRequest
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		req = music.Request{Prompt: strings.TrimSpace(body.Prompt), NegativePrompt: body.NegativeTags}
	}

	audio, err := h.music.Generate(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="generated-song-%d.wav"`, h.now().UnixMilli()))
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.Header().Set("X-Audio-Duration", strconv.FormatFloat(audio.Duration, 'f', -1, 64))
	w.Header().Set("X-Audio-Sample-Rate", strconv.Itoa(audio.SampleRate))
	w.Header().Set("X-Audio-Channels", strconv.Itoa(audio.Channels))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio.Data); err != nil {
		logger.Warn("[Generate] failed to write audio", logger.ErrorField(err))
	}
}

// UploadHandler stores a finished WAV for a song.
func (h *APIHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart body")
		return
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file received")
		return
	}
	defer file.Close()

	songID := strings.TrimSpace(r.FormValue("songId"))
	if songID == "" {
		writeError(w, http.StatusBadRequest, "No song ID provided")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read file")
		return
	}
	key, url, err := storage.PutSongAudio(r.Context(), h.store, songID, data)
	if err != nil {
		logger.Error("[Upload] 上传到存储失败", logger.String("songId", songID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to upload to storage: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{Success: true, FileURL: url, Path: key})
}

// CreateFromVideoHandler creates a song from a recording and generates it in
// the background. The song is returned while still processing.
func (h *APIHandler) CreateFromVideoHandler(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeServiceError(w, generation.ErrShuttingDown)
		return
	}
	if err := parseMultipart(w, r); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart body")
		return
	}
	video, filename, err := readVideo(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid video upload")
		return
	}

	sub := generation.Submission{
		UserID:       strings.TrimSpace(r.FormValue("user_id")),
		Title:        r.FormValue("title"),
		Annotation:   r.FormValue("userText"),
		NegativeTags: r.FormValue("negativeTags"),
	}
	if sub.UserID == "" {
		sub.UserID = UserIDFromContext(r.Context())
	}
	if video != nil {
		sub.Video = video.Data
		sub.VideoType = video.MIMEType
		sub.VideoName = filename
	}

	song, err := h.jobs.Submit(r.Context(), sub)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, song)
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

func parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	return r.ParseMultipartForm(32 << 20)
}

// readVideo returns the optional "video" form file and its name, or nil when absent.
func readVideo(r *http.Request) (*vision.Video, string, error) {
	file, hdr, err := r.FormFile("video")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("invalid video upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read video: %w", err)
	}
	if len(data) == 0 {
		return nil, "", nil
	}
	mimeType := hdr.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "video/webm"
	}
	return &vision.Video{Data: data, MIMEType: mimeType}, hdr.Filename, nil
}
