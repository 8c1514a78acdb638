package storage

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	objects map[string][]byte
	types   map[string]string
}

func (m *memStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), &ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memStore) URL(key string) string { return PublicURL("http://api.test/", key) }

func TestKeys(t *testing.T) {
	assert.Equal(t, "songs/abc.wav", SongAudioKey("abc"))
	assert.Equal(t, "videos/abc.mp4", SourceVideoKey("abc", "clip.MP4"))
	assert.Equal(t, "videos/abc.webm", SourceVideoKey("abc", "recording"))
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/media/songs/abc.wav", PublicURL("http://localhost:8080/", "songs/abc.wav"))
	assert.Equal(t, "http://localhost:8080/media/videos/abc.webm", PublicURL("http://localhost:8080", "/videos/abc.webm"))
}

func TestOwnsKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"songs/abc.wav", true},
		{"videos/abc.webm", true},
		{"videos/abc.mp4", true},
		{"videos/abc", true},
		{"songs/abd.wav", false},
		{"songs/abc.mp3", false},
		{"videos/abcd.webm", false},
		{"videos/abc.webm/../x", false},
		{"videos/abc.tar.gz", false},
		{"other/abc.wav", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OwnsKey("abc", tt.key), tt.key)
	}
	assert.False(t, OwnsKey("", "videos/.webm"))
}

func TestPutHelpers(t *testing.T) {
	s := &memStore{objects: map[string][]byte{}, types: map[string]string{}}
	ctx := context.Background()

	key, url, err := PutSongAudio(ctx, s, "song-1", []byte("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, "songs/song-1.wav", key)
	assert.Equal(t, "http://api.test/media/songs/song-1.wav", url)
	assert.Equal(t, "audio/wav", s.types[key])

	key, _, err = PutSourceVideo(ctx, s, "song-1", "take.webm", "", bytes.NewReader([]byte("vid")), 3)
	require.NoError(t, err)
	assert.Equal(t, "videos/song-1.webm", key)
	assert.Equal(t, "video/webm", s.types[key])
}

func TestSummarize(t *testing.T) {
	newest := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	stats := Summarize([]ObjectInfo{
		{Key: "songs/a.wav", Size: 100, LastModified: newest.Add(-time.Hour)},
		{Key: "songs/b.wav", Size: 50, LastModified: newest},
		{Key: "videos/a.webm", Size: 1000},
		{Key: "notes.txt", Size: 1},
	})
	assert.Equal(t, int64(4), stats.TotalObjects)
	assert.Equal(t, int64(1151), stats.TotalSize)
	assert.Equal(t, newest, stats.LastModified)
	assert.Equal(t, int64(150), stats.ByCategory["audio"])
	assert.Equal(t, int64(1000), stats.ByCategory["video"])
	assert.Equal(t, []string{"audio", "other", "video"}, stats.Categories())
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "2.0 MB", FormatSize(2*1024*1024))
}
