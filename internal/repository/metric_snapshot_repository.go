package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/postloom/postloom/internal/models"
)

// Snapshots are append-only; there is no update path by design of the
// table, only inserts and reads ordered by observed_at.
type MetricSnapshotRepository interface {
	Create(ctx context.Context, s *models.MetricSnapshot) (int64, error)
	LatestByPublicationID(ctx context.Context, publicationID int64) (*models.MetricSnapshot, error)
	ListByPublicationID(ctx context.Context, publicationID int64) ([]*models.MetricSnapshot, error)
}

type metricSnapshotRepository struct {
	db *sql.DB
}

func NewMetricSnapshotRepository(db *sql.DB) MetricSnapshotRepository {
	return &metricSnapshotRepository{db: db}
}

const snapshotColumns = `id, publication_id, observed_at, impressions, likes, replies, reposts, clicks, unique_reach, created_at`

func scanSnapshot(row interface{ Scan(...any) error }) (*models.MetricSnapshot, error) {
	var s models.MetricSnapshot
	err := row.Scan(&s.ID, &s.PublicationID, &s.ObservedAt, &s.Impressions, &s.Likes, &s.Replies,
		&s.Reposts, &s.Clicks, &s.UniqueReach, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *metricSnapshotRepository) Create(ctx context.Context, s *models.MetricSnapshot) (int64, error) {
	query := `
		INSERT INTO metric_snapshots (publication_id, observed_at, impressions, likes, replies, reposts, clicks, unique_reach)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, s.PublicationID, s.ObservedAt, s.Impressions, s.Likes,
		s.Replies, s.Reposts, s.Clicks, s.UniqueReach).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *metricSnapshotRepository) LatestByPublicationID(ctx context.Context, publicationID int64) (*models.MetricSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM metric_snapshots WHERE publication_id = $1 ORDER BY observed_at DESC LIMIT 1`
	s, err := scanSnapshot(r.db.QueryRowContext(ctx, query, publicationID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return s, nil
}

func (r *metricSnapshotRepository) ListByPublicationID(ctx context.Context, publicationID int64) ([]*models.MetricSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM metric_snapshots WHERE publication_id = $1 ORDER BY observed_at ASC`
	rows, err := r.db.QueryContext(ctx, query, publicationID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var snapshots []*models.MetricSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
