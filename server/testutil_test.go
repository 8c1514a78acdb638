package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"VibeTune/core/auth"
	"VibeTune/core/generation"
	"VibeTune/core/music"
	"VibeTune/core/vision"
	"VibeTune/model"
	"VibeTune/repository"
	"VibeTune/storage"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testBaseURL = "http://vibetune.test"

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

type seekCloser struct{ *bytes.Reader }

func (seekCloser) Close() error { return nil }

func (m *memStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, *storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, nil, storage.ErrObjectNotFound
	}
	info := &storage.ObjectInfo{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  m.types[key],
		LastModified: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	return seekCloser{bytes.NewReader(data)}, info, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) URL(key string) string { return storage.PublicURL(testBaseURL, key) }

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

type fakePrompts struct {
	mu     sync.Mutex
	result vision.Result
	videos []*vision.Video
}

func (f *fakePrompts) Prompt(_ context.Context, video *vision.Video, annotation string) vision.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videos = append(f.videos, video)
	if f.result.Prompt == "" {
		return vision.Result{Prompt: "prompt for " + annotation, Source: vision.SourceFallback}
	}
	return f.result
}

type fakeMusic struct {
	mu       sync.Mutex
	audio    *music.Audio
	err      error
	requests []music.Request
}

func (f *fakeMusic) Generate(_ context.Context, req music.Request) (*music.Audio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, music.ErrEmptyPrompt
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

func (f *fakeMusic) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeMusic) calls() []music.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]music.Request(nil), f.requests...)
}

func (f *fakePrompts) seen() []*vision.Video {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*vision.Video(nil), f.videos...)
}

type testEnv struct {
	handler *APIHandler
	server  *httptest.Server
	songs   repository.SongRepository
	store   *memStore
	music   *fakeMusic
	prompts *fakePrompts
	jobs    *generation.Orchestrator
	tokens  *auth.TokenManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, gormDB.AutoMigrate(&model.User{}, &model.Song{}))

	env := &testEnv{
		songs:   repository.NewGormSongRepository(gormDB),
		store:   newMemStore(),
		music:   &fakeMusic{audio: &music.Audio{Data: []byte("RIFFdata"), Duration: 30, SampleRate: 48000, Channels: 2, BitDepth: 16}},
		prompts: &fakePrompts{},
		tokens:  auth.NewTokenManager("test-secret", time.Hour),
	}
	env.jobs = generation.New(env.songs, env.store, env.prompts, env.music)
	env.handler = NewAPIHandler(Deps{
		Songs:        env.songs,
		Users:        repository.NewGormUserRepository(gormDB),
		Store:        env.store,
		Prompts:      env.prompts,
		Music:        env.music,
		Jobs:         env.jobs,
		Tokens:       env.tokens,
		PollInterval: 10 * time.Millisecond,
	})
	env.handler.now = func() time.Time { return time.UnixMilli(1700000000000) }
	env.server = httptest.NewServer(env.handler.Router())

	t.Cleanup(func() {
		env.server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.jobs.Shutdown(ctx)
		sqlDB.Close()
	})
	return env
}

// do sends a JSON request and decodes the JSON response into out when non-nil.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string, out interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (e *testEnv) createSong(t *testing.T, title, userID string) *model.Song {
	t.Helper()
	song := &model.Song{Title: title, UserID: userID}
	require.NoError(t, e.songs.Create(context.Background(), song))
	return song
}
