package models

import "time"

// FetchLog is the audit record for one metrics fetch attempt. api_calls is
// the number of platform API requests the attempt consumed, which feeds the
// sweep's rate-budget accounting.
type FetchLog struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Platform  string    `db:"platform" json:"platform"`
	Status    string    `db:"status" json:"status"`
	APICalls  int       `db:"api_calls" json:"api_calls"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

const (
	FetchStatusSuccess = "success"
	FetchStatusFailed  = "failed"
)
