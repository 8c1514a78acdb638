package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

const (
	songAudioPrefix   = "songs/"
	sourceVideoPrefix = "videos/"
	mediaRoute        = "/media/"
)

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// Store is the object storage used for generated audio and source videos.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	// Delete removes key; a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// URL returns the public URL the API server serves key under.
	URL(key string) string
}

// SongAudioKey is the object key of a song's generated audio.
func SongAudioKey(songID string) string {
	return songAudioPrefix + songID + ".wav"
}

// SourceVideoKey is the object key of a song's source video. ext is taken from
// the uploaded file name and defaults to .webm.
func SourceVideoKey(songID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" || len(ext) > 6 {
		ext = ".webm"
	}
	return sourceVideoPrefix + songID + ext
}

// OwnsKey reports whether key is one of the objects stored for songID: its
// generated audio or its source video under any extension.
func OwnsKey(songID, key string) bool {
	if songID == "" {
		return false
	}
	if key == SongAudioKey(songID) {
		return true
	}
	rest, ok := strings.CutPrefix(key, sourceVideoPrefix+songID)
	if !ok {
		return false
	}
	return rest == "" || (strings.HasPrefix(rest, ".") && !strings.ContainsAny(rest[1:], "./"))
}

// PublicURL joins the API base URL and the media route for key.
func PublicURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + mediaRoute + strings.TrimLeft(key, "/")
}

// PutSongAudio stores WAV bytes for a song and returns the key and public URL.
func PutSongAudio(ctx context.Context, s Store, songID string, wav []byte) (string, string, error) {
	key := SongAudioKey(songID)
	if err := s.Put(ctx, key, bytes.NewReader(wav), int64(len(wav)), "audio/wav"); err != nil {
		return "", "", err
	}
	return key, s.URL(key), nil
}

// PutSourceVideo stores an uploaded video for a song and returns the key and public URL.
func PutSourceVideo(ctx context.Context, s Store, songID, filename, contentType string, r io.Reader, size int64) (string, string, error) {
	key := SourceVideoKey(songID, filename)
	if contentType == "" {
		contentType = "video/webm"
	}
	if err := s.Put(ctx, key, r, size, contentType); err != nil {
		return "", "", err
	}
	return key, s.URL(key), nil
}
