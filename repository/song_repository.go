package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"VibeTune/logger"
	"VibeTune/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrSongNotFound is returned when no song matches the given id.
var ErrSongNotFound = errors.New("song not found")

// SongRepository 定义歌曲相关的数据访问接口
type SongRepository interface {
	// Create 创建歌曲记录，状态固定为 processing
	Create(ctx context.Context, song *model.Song) error

	// GetByID 根据ID获取歌曲
	GetByID(ctx context.Context, id string) (*model.Song, error)

	// List 按创建时间倒序列出歌曲；userID 为空时返回全部
	List(ctx context.Context, userID string) ([]*model.Song, error)

	// UpdateMetadata 更新标题与描述
	UpdateMetadata(ctx context.Context, id string, upd SongMetadataUpdate) (*model.Song, error)

	// UpdateStatus 推进歌曲状态（仅允许 processing → completed/failed）
	UpdateStatus(ctx context.Context, id string, upd model.SongStatusUpdate) (*model.Song, error)

	// UpdateParameters 覆盖生成参数
	UpdateParameters(ctx context.Context, id string, params model.SongParameters) error

	// Delete 删除歌曲记录
	Delete(ctx context.Context, id string) error
}

// SongMetadataUpdate changes user-editable fields. A nil Description leaves
// the column untouched; an empty one clears it.
type SongMetadataUpdate struct {
	Title       string
	Description *string
}

// gormSongRepository GORM 实现
type gormSongRepository struct {
	db *gorm.DB
}

// NewGormSongRepository 创建 GORM 歌曲仓库
func NewGormSongRepository(db *gorm.DB) SongRepository {
	return &gormSongRepository{db: db}
}

func (r *gormSongRepository) Create(ctx context.Context, song *model.Song) error {
	if song.ID == "" {
		song.ID = uuid.NewString()
	}
	song.Status = model.SongStatusProcessing
	song.FileURL = nil
	if err := r.db.WithContext(ctx).Create(song).Error; err != nil {
		return fmt.Errorf("failed to create song: %w", err)
	}
	logger.Info("[SongRepo] song created",
		logger.String("songId", song.ID),
		logger.String("userId", song.UserID))
	return nil
}

func (r *gormSongRepository) GetByID(ctx context.Context, id string) (*model.Song, error) {
	var song model.Song
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&song).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSongNotFound
		}
		return nil, fmt.Errorf("failed to get song %s: %w", id, err)
	}
	return &song, nil
}

func (r *gormSongRepository) List(ctx context.Context, userID string) ([]*model.Song, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	songs := make([]*model.Song, 0)
	if err := query.Find(&songs).Error; err != nil {
		return nil, fmt.Errorf("failed to list songs: %w", err)
	}
	return songs, nil
}

func (r *gormSongRepository) UpdateMetadata(ctx context.Context, id string, upd SongMetadataUpdate) (*model.Song, error) {
	updates := map[string]interface{}{
		"title":      strings.TrimSpace(upd.Title),
		"updated_at": time.Now(),
	}
	if upd.Description != nil {
		if desc := strings.TrimSpace(*upd.Description); desc != "" {
			updates["description"] = desc
		} else {
			updates["description"] = nil
		}
	}

	res := r.db.WithContext(ctx).Model(&model.Song{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update song %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrSongNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *gormSongRepository) UpdateStatus(ctx context.Context, id string, upd model.SongStatusUpdate) (*model.Song, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := upd.Validate(current); err != nil {
		return nil, err
	}
	if current.Status == upd.Status {
		return current, nil
	}

	updates := map[string]interface{}{
		"status":     upd.Status,
		"updated_at": time.Now(),
	}
	switch upd.Status {
	case model.SongStatusCompleted:
		if upd.FileURL != "" {
			updates["file_url"] = upd.FileURL
		}
		if upd.Duration > 0 {
			updates["duration"] = upd.Duration
		}
	case model.SongStatusFailed:
		updates["file_url"] = nil
	}

	// The status guard keeps terminal songs terminal even when two writers race.
	res := r.db.WithContext(ctx).Model(&model.Song{}).
		Where("id = ? AND status = ?", id, model.SongStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update status of song %s: %w", id, res.Error)
	}

	latest, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && latest.Status != upd.Status {
		return nil, fmt.Errorf("%w: %s → %s", model.ErrInvalidTransition, latest.Status, upd.Status)
	}

	logger.Info("[SongRepo] song status updated",
		logger.String("songId", id),
		logger.String("status", latest.Status))
	return latest, nil
}

func (r *gormSongRepository) UpdateParameters(ctx context.Context, id string, params model.SongParameters) error {
	res := r.db.WithContext(ctx).Model(&model.Song{}).Where("id = ?", id).
		Updates(map[string]interface{}{"parameters": params, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to update parameters of song %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSongNotFound
	}
	return nil
}

func (r *gormSongRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Song{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete song %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSongNotFound
	}
	return nil
}
