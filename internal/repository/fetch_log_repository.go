package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/postloom/postloom/internal/models"
)

type FetchLogRepository interface {
	Create(ctx context.Context, f *models.FetchLog) (int64, error)
	// CountCallsSince sums api_calls for one platform since the given time,
	// which the sweep compares against the window budget.
	CountCallsSince(ctx context.Context, platform string, since time.Time) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type fetchLogRepository struct {
	db *sql.DB
}

func NewFetchLogRepository(db *sql.DB) FetchLogRepository {
	return &fetchLogRepository{db: db}
}

func (r *fetchLogRepository) Create(ctx context.Context, f *models.FetchLog) (int64, error) {
	query := `
		INSERT INTO fetch_logs (user_id, platform, status, api_calls)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, f.UserID, f.Platform, f.Status, f.APICalls).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *fetchLogRepository) CountCallsSince(ctx context.Context, platform string, since time.Time) (int, error) {
	query := `SELECT COALESCE(SUM(api_calls), 0) FROM fetch_logs WHERE platform = $1 AND created_at >= $2`

	var count int
	err := r.db.QueryRowContext(ctx, query, platform, since).Scan(&count)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return count, nil
}

func (r *fetchLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM fetch_logs WHERE created_at < $1`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return deleted, nil
}
