package models

import (
	"database/sql"
	"time"
)

// MetricSnapshot is one point-in-time read of engagement counters for a
// publication. Rows are append-only; the latest observed_at wins. Counters
// are platform-reported and may legitimately decrease between snapshots.
type MetricSnapshot struct {
	ID            int64         `db:"id" json:"id"`
	PublicationID int64         `db:"publication_id" json:"publication_id"`
	ObservedAt    time.Time     `db:"observed_at" json:"observed_at"`
	Impressions   int64         `db:"impressions" json:"impressions"`
	Likes         int64         `db:"likes" json:"likes"`
	Replies       int64         `db:"replies" json:"replies"`
	Reposts       int64         `db:"reposts" json:"reposts"`
	Clicks        sql.NullInt64 `db:"clicks" json:"clicks"`
	UniqueReach   sql.NullInt64 `db:"unique_reach" json:"unique_reach"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}
