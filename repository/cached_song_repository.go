package repository

import (
	"context"

	"VibeTune/model"
)

// SongCache is the read-through cache used by CachedSongRepository.
type SongCache interface {
	GetSong(ctx context.Context, id string) (*model.Song, bool)
	SetSong(ctx context.Context, song *model.Song)
	GetList(ctx context.Context, userID string) ([]*model.Song, bool)
	SetList(ctx context.Context, userID string, songs []*model.Song)
	Invalidate(ctx context.Context, songID, userID string)
}

// cachedSongRepository wraps a SongRepository with a read-through cache.
// Every write goes to the inner repository first, then invalidates.
type cachedSongRepository struct {
	inner SongRepository
	cache SongCache
}

// NewCachedSongRepository returns inner unchanged when cache is nil.
func NewCachedSongRepository(inner SongRepository, cache SongCache) SongRepository {
	if cache == nil {
		return inner
	}
	return &cachedSongRepository{inner: inner, cache: cache}
}

func (r *cachedSongRepository) Create(ctx context.Context, song *model.Song) error {
	if err := r.inner.Create(ctx, song); err != nil {
		return err
	}
	r.cache.Invalidate(ctx, song.ID, song.UserID)
	return nil
}

func (r *cachedSongRepository) GetByID(ctx context.Context, id string) (*model.Song, error) {
	if song, ok := r.cache.GetSong(ctx, id); ok {
		return song, nil
	}
	song, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.SetSong(ctx, song)
	return song, nil
}

func (r *cachedSongRepository) List(ctx context.Context, userID string) ([]*model.Song, error) {
	if songs, ok := r.cache.GetList(ctx, userID); ok {
		return songs, nil
	}
	songs, err := r.inner.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.cache.SetList(ctx, userID, songs)
	return songs, nil
}

func (r *cachedSongRepository) UpdateMetadata(ctx context.Context, id string, upd SongMetadataUpdate) (*model.Song, error) {
	song, err := r.inner.UpdateMetadata(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	r.cache.Invalidate(ctx, song.ID, song.UserID)
	return song, nil
}

func (r *cachedSongRepository) UpdateStatus(ctx context.Context, id string, upd model.SongStatusUpdate) (*model.Song, error) {
	song, err := r.inner.UpdateStatus(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	r.cache.Invalidate(ctx, song.ID, song.UserID)
	return song, nil
}

func (r *cachedSongRepository) UpdateParameters(ctx context.Context, id string, params model.SongParameters) error {
	song, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.inner.UpdateParameters(ctx, id, params); err != nil {
		return err
	}
	r.cache.Invalidate(ctx, id, song.UserID)
	return nil
}

func (r *cachedSongRepository) Delete(ctx context.Context, id string) error {
	song, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.inner.Delete(ctx, id); err != nil {
		return err
	}
	r.cache.Invalidate(ctx, id, song.UserID)
	return nil
}
