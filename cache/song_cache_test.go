package cache

import (
	"context"
	"testing"
	"time"

	"VibeTune/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisSongCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSongCache(client, 30*time.Second), mr
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "vibetune:song:abc", SongKey("abc"))
	assert.Equal(t, "vibetune:songs:u1", SongListKey("u1"))
	assert.Equal(t, "vibetune:songs:all", SongListKey(""))
}

func TestSongRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, ok := c.GetSong(ctx, "s1")
	assert.False(t, ok)

	url := "http://api.test/media/songs/s1.wav"
	c.SetSong(ctx, &model.Song{ID: "s1", Title: "done", UserID: "u1", Status: model.SongStatusCompleted, FileURL: &url})
	got, ok := c.GetSong(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, "done", got.Title)
	require.NotNil(t, got.FileURL)
	assert.Equal(t, url, *got.FileURL)
	assert.Equal(t, 30*time.Second, mr.TTL(SongKey("s1")))
}

func TestProcessingEntriesExpireQuickly(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.SetSong(ctx, &model.Song{ID: "s1", UserID: "u1", Status: model.SongStatusProcessing})
	assert.Equal(t, processingTTL, mr.TTL(SongKey("s1")))

	c.SetList(ctx, "u1", []*model.Song{
		{ID: "s0", UserID: "u1", Status: model.SongStatusCompleted},
		{ID: "s1", UserID: "u1", Status: model.SongStatusProcessing},
	})
	assert.Equal(t, processingTTL, mr.TTL(SongListKey("u1")))

	c.SetList(ctx, "u2", []*model.Song{{ID: "s2", UserID: "u2", Status: model.SongStatusFailed}})
	assert.Equal(t, 30*time.Second, mr.TTL(SongListKey("u2")))

	mr.FastForward(processingTTL)
	_, ok := c.GetSong(ctx, "s1")
	assert.False(t, ok)
	_, ok = c.GetList(ctx, "u1")
	assert.False(t, ok)
	_, ok = c.GetList(ctx, "u2")
	assert.True(t, ok)
}

func TestInvalidateDropsSongAndLists(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	song := &model.Song{ID: "s1", UserID: "u1", Status: model.SongStatusCompleted}

	c.SetSong(ctx, song)
	c.SetList(ctx, "u1", []*model.Song{song})
	c.SetList(ctx, "", []*model.Song{song})
	c.SetList(ctx, "u2", []*model.Song{})

	c.Invalidate(ctx, "s1", "u1")
	assert.False(t, mr.Exists(SongKey("s1")))
	assert.False(t, mr.Exists(SongListKey("u1")))
	assert.False(t, mr.Exists(SongListKey("")))
	assert.True(t, mr.Exists(SongListKey("u2")))
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set(SongKey("s1"), "{not json"))

	_, ok := c.GetSong(context.Background(), "s1")
	assert.False(t, ok)
}
