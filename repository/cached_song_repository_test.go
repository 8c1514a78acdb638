package repository

import (
	"context"
	"testing"

	"VibeTune/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySongCache struct {
	songs       map[string]*model.Song
	lists       map[string][]*model.Song
	invalidated []string
}

func newMemorySongCache() *memorySongCache {
	return &memorySongCache{songs: map[string]*model.Song{}, lists: map[string][]*model.Song{}}
}

func (c *memorySongCache) GetSong(_ context.Context, id string) (*model.Song, bool) {
	s, ok := c.songs[id]
	return s, ok
}

func (c *memorySongCache) SetSong(_ context.Context, song *model.Song) { c.songs[song.ID] = song }

func (c *memorySongCache) GetList(_ context.Context, userID string) ([]*model.Song, bool) {
	l, ok := c.lists[userID]
	return l, ok
}

func (c *memorySongCache) SetList(_ context.Context, userID string, songs []*model.Song) {
	c.lists[userID] = songs
}

func (c *memorySongCache) Invalidate(_ context.Context, songID, userID string) {
	delete(c.songs, songID)
	delete(c.lists, userID)
	delete(c.lists, "")
	c.invalidated = append(c.invalidated, songID)
}

func TestNewCachedSongRepositoryWithoutCache(t *testing.T) {
	inner := NewGormSongRepository(newTestDB(t))
	assert.Same(t, inner, NewCachedSongRepository(inner, nil))
}

func TestCachedRepositoryServesReadsAndInvalidatesOnWrite(t *testing.T) {
	cache := newMemorySongCache()
	repo := NewCachedSongRepository(NewGormSongRepository(newTestDB(t)), cache)
	ctx := context.Background()

	song := &model.Song{Title: "cached", UserID: "u1"}
	require.NoError(t, repo.Create(ctx, song))

	_, err := repo.GetByID(ctx, song.ID)
	require.NoError(t, err)
	require.Contains(t, cache.songs, song.ID)

	list, err := repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Contains(t, cache.lists, "u1")

	updated, err := repo.UpdateStatus(ctx, song.ID, model.SongStatusUpdate{Status: model.SongStatusCompleted, FileURL: "https://cdn/x.wav"})
	require.NoError(t, err)
	assert.Equal(t, model.SongStatusCompleted, updated.Status)
	assert.NotContains(t, cache.songs, song.ID)
	assert.NotContains(t, cache.lists, "u1")

	got, err := repo.GetByID(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SongStatusCompleted, got.Status)

	require.NoError(t, repo.Delete(ctx, song.ID))
	_, err = repo.GetByID(ctx, song.ID)
	assert.ErrorIs(t, err, ErrSongNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, song.ID), ErrSongNotFound)
}
