package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Song lifecycle status.
const (
	SongStatusProcessing = "processing"
	SongStatusCompleted  = "completed"
	SongStatusFailed     = "failed"
)

var (
	ErrInvalidStatus     = errors.New("invalid song status")
	ErrInvalidTransition = errors.New("invalid song status transition")
	ErrMissingFileURL    = errors.New("a completed song requires a file_url")
	ErrUnexpectedFileURL = errors.New("a failed song must not carry a file_url")
)

// SongParameters 生成参数，以 JSON 形式存储在 songs.parameters 列
type SongParameters struct {
	Prompt         string `json:"prompt,omitempty"`
	NegativeTags   string `json:"negative_tags,omitempty"`
	SourceMediaURL string `json:"source_media_url,omitempty"`
	SourceMediaKey string `json:"source_media_key,omitempty"`
}

// Scan 实现 sql.Scanner 接口
func (p *SongParameters) Scan(value interface{}) error {
	if value == nil {
		*p = SongParameters{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported parameters column type %T", value)
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*p = SongParameters{}
		return nil
	}
	return json.Unmarshal(bytes, p)
}

// Value 实现 driver.Valuer 接口
func (p SongParameters) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Song is one video-to-music generation request and its outcome.
type Song struct {
	ID          string          `json:"id" gorm:"primaryKey;size:36"`
	Title       string          `json:"title" gorm:"size:255;not null"`
	Description *string         `json:"description" gorm:"type:text"`
	UserID      string          `json:"user_id" gorm:"size:64;index;not null"`
	Status      string          `json:"status" gorm:"size:20;index;not null;default:'processing'"`
	Parameters  *SongParameters `json:"parameters,omitempty" gorm:"type:text"`
	FileURL     *string         `json:"file_url" gorm:"size:1024"`
	Duration    float64         `json:"duration,omitempty"`
	CreatedAt   time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TableName 指定表名
func (Song) TableName() string {
	return "songs"
}

// IsTerminal reports whether the song has finished generation, successfully or not.
func (s *Song) IsTerminal() bool {
	return IsTerminalStatus(s.Status)
}

// IsTerminalStatus reports whether status is completed or failed.
func IsTerminalStatus(status string) bool {
	return status == SongStatusCompleted || status == SongStatusFailed
}

// ValidStatus reports whether status is one of the known lifecycle values.
func ValidStatus(status string) bool {
	switch status {
	case SongStatusProcessing, SongStatusCompleted, SongStatusFailed:
		return true
	}
	return false
}

// ValidateTransition checks a status change. Re-applying the current status is
// allowed (a no-op); the only real moves are processing → completed and
// processing → failed.
func ValidateTransition(from, to string) error {
	if !ValidStatus(to) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if from == to {
		return nil
	}
	if from == SongStatusProcessing && IsTerminalStatus(to) {
		return nil
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}

// SongStatusUpdate is a requested change to a song's status and result.
type SongStatusUpdate struct {
	Status   string
	FileURL  string
	Duration float64
}

// Validate checks the update against the song's current state.
func (u SongStatusUpdate) Validate(current *Song) error {
	if err := ValidateTransition(current.Status, u.Status); err != nil {
		return err
	}
	switch u.Status {
	case SongStatusCompleted:
		if u.FileURL == "" && (current.FileURL == nil || *current.FileURL == "") {
			return ErrMissingFileURL
		}
	case SongStatusFailed:
		if u.FileURL != "" {
			return ErrUnexpectedFileURL
		}
	}
	return nil
}
