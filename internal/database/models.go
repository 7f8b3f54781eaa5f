package database

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Job is the persisted form of a queued download
type Job struct {
	ID              string     `gorm:"primaryKey"`
	StreamID        string     `gorm:"index"`
	Name            string     `gorm:""`
	ManifestURL     string     `gorm:"not null"`
	Headers         string     `gorm:""`               // JSON object of request headers
	Status          string     `gorm:"not null;index"` // queued, resolving, downloading, merging, completed, failed, cancelled
	Progress        float64    `gorm:"default:0.0"`
	SegmentsDone    int        `gorm:"default:0"`
	SegmentsTotal   int        `gorm:"default:0"`
	BytesDownloaded int64      `gorm:"default:0"`
	OutputPath      string     `gorm:""`
	OutputSize      int64      `gorm:"default:0"`
	Error           string     `gorm:""` // Error message if failed
	CreatedAt       time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	StartedAt       *time.Time `gorm:""`
	CompletedAt     *time.Time `gorm:""`
	Owner           string     `gorm:"index"` // manager instance running the job
	LeaseAt         *time.Time `gorm:""`      // last heartbeat from Owner
}

// TableName overrides the table name
func (Job) TableName() string {
	return "jobs"
}

// HeaderMap decodes the stored headers. Malformed data yields an empty map.
func (j Job) HeaderMap() map[string]string {
	headers := map[string]string{}
	if j.Headers == "" {
		return headers
	}
	_ = json.Unmarshal([]byte(j.Headers), &headers)
	return headers
}

// EncodeHeaders encodes headers for the Headers column
func EncodeHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return ""
	}
	return string(data)
}

// Setting is a small piece of persistent state, such as a cached token
type Setting struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:""`
}

// TableName overrides the table name
func (Setting) TableName() string {
	return "settings"
}

// Migrate runs GORM auto-migrations for all models
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Job{},
		&Setting{},
	)
}
