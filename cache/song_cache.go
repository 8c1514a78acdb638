package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"VibeTune/logger"
	"VibeTune/model"

	"github.com/redis/go-redis/v9"
)

const (
	allUsersKey = "all"

	// processingTTL bounds how long a stale in-flight entry can outlive the
	// terminal status written after it was read.
	processingTTL = 2 * time.Second
)

// SongKey 根据歌曲ID生成Redis键
func SongKey(songID string) string {
	return fmt.Sprintf("vibetune:song:%s", songID)
}

// SongListKey 根据用户ID生成歌曲列表的Redis键; 空用户ID表示全部歌曲
func SongListKey(userID string) string {
	if userID == "" {
		userID = allUsersKey
	}
	return fmt.Sprintf("vibetune:songs:%s", userID)
}

// RedisSongCache caches songs and song lists as JSON strings with a short TTL.
// Entries holding a processing song expire after at most processingTTL.
// Cache failures are logged and treated as misses.
type RedisSongCache struct {
	client        *redis.Client
	ttl           time.Duration
	processingTTL time.Duration
}

// NewRedisSongCache creates a song cache on top of an existing client.
func NewRedisSongCache(client *redis.Client, ttl time.Duration) *RedisSongCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisSongCache{client: client, ttl: ttl, processingTTL: min(ttl, processingTTL)}
}

func (c *RedisSongCache) ttlFor(songs ...*model.Song) time.Duration {
	for _, s := range songs {
		if s != nil && !s.IsTerminal() {
			return c.processingTTL
		}
	}
	return c.ttl
}

func (c *RedisSongCache) getJSON(ctx context.Context, key string, dst interface{}) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("[SongCache] get failed", logger.String("key", key), logger.ErrorField(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		logger.Warn("[SongCache] corrupt entry", logger.String("key", key), logger.ErrorField(err))
		return false
	}
	return true
}

func (c *RedisSongCache) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.Warn("[SongCache] set failed", logger.String("key", key), logger.ErrorField(err))
	}
}

// GetSong returns a cached song.
func (c *RedisSongCache) GetSong(ctx context.Context, id string) (*model.Song, bool) {
	var song model.Song
	if !c.getJSON(ctx, SongKey(id), &song) {
		return nil, false
	}
	return &song, true
}

// SetSong caches a song.
func (c *RedisSongCache) SetSong(ctx context.Context, song *model.Song) {
	c.setJSON(ctx, SongKey(song.ID), song, c.ttlFor(song))
}

// GetList returns a cached song list.
func (c *RedisSongCache) GetList(ctx context.Context, userID string) ([]*model.Song, bool) {
	var songs []*model.Song
	if !c.getJSON(ctx, SongListKey(userID), &songs) {
		return nil, false
	}
	return songs, true
}

// SetList caches a song list.
func (c *RedisSongCache) SetList(ctx context.Context, userID string, songs []*model.Song) {
	c.setJSON(ctx, SongListKey(userID), songs, c.ttlFor(songs...))
}

// Invalidate drops every entry that may contain the song.
func (c *RedisSongCache) Invalidate(ctx context.Context, songID, userID string) {
	keys := []string{SongKey(songID), SongListKey(""), SongListKey(userID)}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("[SongCache] invalidate failed", logger.String("songId", songID), logger.ErrorField(err))
	}
}
