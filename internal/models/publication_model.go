package models

import (
	"database/sql"
	"time"
)

// Publication is one platform-specific delivery attempt for a post. A post
// fans out to one row per target platform; platform_post_id stays null until
// the platform accepts the publish.
type Publication struct {
	ID             int64          `db:"id" json:"id"`
	PostID         int64          `db:"post_id" json:"post_id"`
	UserID         int64          `db:"user_id" json:"user_id"`
	ConnectionID   int64          `db:"connection_id" json:"connection_id"`
	Platform       string         `db:"platform" json:"platform"`
	PlatformPostID sql.NullString `db:"platform_post_id" json:"platform_post_id"`
	PostURL        sql.NullString `db:"post_url" json:"post_url"`
	Status         string         `db:"status" json:"status"`
	PublishedAt    sql.NullTime   `db:"published_at" json:"published_at"`
	ErrorMessage   string         `db:"error_message" json:"error_message"`
	NextCheckpoint int            `db:"next_checkpoint" json:"next_checkpoint"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

const (
	PublicationStatusPending   = "pending"
	PublicationStatusPublished = "published"
	PublicationStatusFailed    = "failed"
)
