package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"VibeTune/core/music"
	"VibeTune/core/vision"
	"VibeTune/model"
	"VibeTune/repository"
	"VibeTune/storage"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func newSongRepo(t *testing.T) repository.SongRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Song{}))
	return repository.NewGormSongRepository(db)
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	// keys starting with failPrefix are rejected
	failPrefix string
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if m.failPrefix != "" && strings.HasPrefix(key, m.failPrefix) {
		return errors.New("bucket unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, *storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), &storage.ObjectInfo{Key: key}, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) URL(key string) string { return storage.PublicURL("http://api.test", key) }

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

type staticPrompts struct{ prompt string }

func (s staticPrompts) Prompt(context.Context, *vision.Video, string) vision.Result {
	return vision.Result{Prompt: s.prompt, Source: vision.SourceVideo}
}

type fakeMusic struct {
	err     error
	block   chan struct{}
	started chan struct{}
	mu      sync.Mutex
	prompts []string
}

func (f *fakeMusic) Generate(ctx context.Context, req music.Request) (*music.Audio, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &music.Audio{Data: []byte("RIFF....WAVE"), Duration: 32.8}, nil
}

func TestSubmitCompletesSong(t *testing.T) {
	songs := newSongRepo(t)
	store := newMemStore()
	gen := &fakeMusic{}
	o := New(songs, store, staticPrompts{"Dreamy synthwave"}, gen)
	ctx := context.Background()

	song, err := o.Submit(ctx, Submission{
		UserID:     "u1",
		Annotation: "night drive",
		Video:      []byte("webm"),
		VideoName:  "take.webm",
		VideoType:  "video/webm",
	})
	require.NoError(t, err)
	assert.Equal(t, model.SongStatusProcessing, song.Status)
	assert.Nil(t, song.FileURL)
	assert.Equal(t, "night drive", song.Title)
	assert.True(t, store.has("videos/"+song.ID+".webm"))

	o.Wait()

	got, err := songs.GetByID(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SongStatusCompleted, got.Status)
	require.NotNil(t, got.FileURL)
	assert.Equal(t, "http://api.test/media/songs/"+song.ID+".wav", *got.FileURL)
	assert.InDelta(t, 32.8, got.Duration, 0.001)
	require.NotNil(t, got.Parameters)
	assert.Equal(t, "Dreamy synthwave", got.Parameters.Prompt)
	assert.Equal(t, "videos/"+song.ID+".webm", got.Parameters.SourceMediaKey)
	assert.True(t, store.has(storage.SongAudioKey(song.ID)))
	assert.Equal(t, []string{"Dreamy synthwave"}, gen.prompts)

	require.NoError(t, o.Shutdown(ctx))
}

func TestSubmitMarksFailedOnGenerationError(t *testing.T) {
	songs := newSongRepo(t)
	o := New(songs, newMemStore(), staticPrompts{"x"}, &fakeMusic{err: music.ErrNoAudio})
	ctx := context.Background()

	song, err := o.Submit(ctx, Submission{UserID: "u1", Annotation: "jazz"})
	require.NoError(t, err)
	o.Wait()

	got, err := songs.GetByID(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SongStatusFailed, got.Status)
	assert.Nil(t, got.FileURL)
	require.NoError(t, o.Shutdown(ctx))
}

func TestSubmitMarksFailedWhenAudioCannotBeStored(t *testing.T) {
	songs := newSongRepo(t)
	store := newMemStore()
	store.failPrefix = "songs/"
	o := New(songs, store, staticPrompts{"x"}, &fakeMusic{})
	ctx := context.Background()

	song, err := o.Submit(ctx, Submission{UserID: "u1", Annotation: "jazz"})
	require.NoError(t, err)
	o.Wait()

	got, err := songs.GetByID(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SongStatusFailed, got.Status)
	require.NoError(t, o.Shutdown(ctx))
}

func TestSubmitValidation(t *testing.T) {
	o := New(newSongRepo(t), newMemStore(), staticPrompts{"x"}, &fakeMusic{})
	ctx := context.Background()

	_, err := o.Submit(ctx, Submission{Annotation: "jazz"})
	assert.ErrorIs(t, err, ErrInvalidSubmission)
	_, err = o.Submit(ctx, Submission{UserID: "u1", Annotation: "   "})
	assert.ErrorIs(t, err, ErrInvalidSubmission)
	require.NoError(t, o.Shutdown(ctx))
}

func TestAtMostOneJobPerSong(t *testing.T) {
	songs := newSongRepo(t)
	gen := &fakeMusic{block: make(chan struct{}), started: make(chan struct{}, 1)}
	o := New(songs, newMemStore(), staticPrompts{"x"}, gen)
	ctx := context.Background()

	song, err := o.Submit(ctx, Submission{UserID: "u1", Annotation: "jazz"})
	require.NoError(t, err)
	<-gen.started

	assert.True(t, o.InFlight(song.ID))
	assert.ErrorIs(t, o.start(song.ID, Submission{UserID: "u1", Annotation: "jazz"}), ErrJobInFlight)

	close(gen.block)
	o.Wait()
	assert.False(t, o.InFlight(song.ID))
	require.NoError(t, o.Shutdown(ctx))
}

func TestShutdownCancelsSlowJobs(t *testing.T) {
	songs := newSongRepo(t)
	gen := &fakeMusic{block: make(chan struct{}), started: make(chan struct{}, 1)}
	o := New(songs, newMemStore(), staticPrompts{"x"}, gen)
	ctx := context.Background()

	song, err := o.Submit(ctx, Submission{UserID: "u1", Annotation: "jazz"})
	require.NoError(t, err)
	<-gen.started

	shutdownCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.Shutdown(shutdownCtx), context.DeadlineExceeded)

	got, err := songs.GetByID(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SongStatusFailed, got.Status)

	_, err = o.Submit(ctx, Submission{UserID: "u1", Annotation: "again"})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

// hookedSongs lets a test interfere with Create.
type hookedSongs struct {
	repository.SongRepository
	createErr   error
	afterCreate func()
}

func (h *hookedSongs) Create(ctx context.Context, song *model.Song) error {
	if h.createErr != nil {
		return h.createErr
	}
	if err := h.SongRepository.Create(ctx, song); err != nil {
		return err
	}
	if h.afterCreate != nil {
		h.afterCreate()
	}
	return nil
}

func TestSubmitRemovesVideoWhenCreateFails(t *testing.T) {
	songs := &hookedSongs{SongRepository: newSongRepo(t), createErr: errors.New("db down")}
	store := newMemStore()
	o := New(songs, store, staticPrompts{"x"}, &fakeMusic{})
	ctx := context.Background()

	_, err := o.Submit(ctx, Submission{UserID: "u1", Video: []byte("webm"), VideoName: "take.webm"})
	require.Error(t, err)

	store.mu.Lock()
	assert.Empty(t, store.objects)
	store.mu.Unlock()
	require.NoError(t, o.Shutdown(ctx))
}

func TestSubmitMarksFailedWhenShutdownWinsTheRace(t *testing.T) {
	repo := newSongRepo(t)
	songs := &hookedSongs{SongRepository: repo}
	o := New(songs, newMemStore(), staticPrompts{"x"}, &fakeMusic{})
	songs.afterCreate = func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()
	}
	ctx := context.Background()

	_, err := o.Submit(ctx, Submission{UserID: "u1", Annotation: "jazz"})
	require.ErrorIs(t, err, ErrShuttingDown)

	list, err := repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.SongStatusFailed, list[0].Status)
	require.NoError(t, o.Shutdown(ctx))
}

func TestJobDropsAudioOfDeletedSong(t *testing.T) {
	songs := newSongRepo(t)
	store := newMemStore()
	gen := &fakeMusic{block: make(chan struct{}), started: make(chan struct{}, 1)}
	o := New(songs, store, staticPrompts{"x"}, gen)
	ctx := context.Background()

	song, err := o.Submit(ctx, Submission{UserID: "u1", Annotation: "jazz"})
	require.NoError(t, err)
	<-gen.started

	require.NoError(t, songs.Delete(ctx, song.ID))
	close(gen.block)
	o.Wait()

	assert.False(t, store.has(storage.SongAudioKey(song.ID)))
	_, err = songs.GetByID(ctx, song.ID)
	assert.ErrorIs(t, err, repository.ErrSongNotFound)
	require.NoError(t, o.Shutdown(ctx))
}
