package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"VibeTune/logger"
	"VibeTune/storage"
)

// MediaHandler streams an object from storage. Range requests are honoured
// when the backend returns a seekable body.
func (h *APIHandler) MediaHandler(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/media/")
	if key == "" || strings.Contains(key, "..") {
		writeError(w, http.StatusBadRequest, "Invalid media path")
		return
	}

	body, info, err := h.store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		logger.Error("[Media] 读取对象失败", logger.String("key", key), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}
	defer body.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if info.ETag != "" {
		w.Header().Set("ETag", `"`+strings.Trim(info.ETag, `"`)+`"`)
	}

	if rs, ok := body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, key, info.LastModified, rs)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		logger.Debug("[Media] copy interrupted", logger.String("key", key), logger.ErrorField(err))
	}
}
