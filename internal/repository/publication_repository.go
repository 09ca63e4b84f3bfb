package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/postloom/postloom/internal/models"
)

type PublicationRepository interface {
	Create(ctx context.Context, tx *sql.Tx, p *models.Publication) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Publication, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.Publication, error)
	MarkPublished(ctx context.Context, id int64, platformPostID, postURL string, publishedAt time.Time) error
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
	// ListDue returns published publications whose next decay checkpoint has
	// arrived: published_at + offsets[next_checkpoint] <= now, with
	// next_checkpoint still inside the table.
	ListDue(ctx context.Context, now time.Time, offsets []time.Duration) ([]*models.Publication, error)
	// AdvanceCheckpoint bumps next_checkpoint from the given value, guarded
	// so two sweeps cannot claim the same checkpoint twice. Returns false
	// when another sweep got there first.
	AdvanceCheckpoint(ctx context.Context, id int64, from int) (bool, error)
}

type publicationRepository struct {
	db *sql.DB
}

func NewPublicationRepository(db *sql.DB) PublicationRepository {
	return &publicationRepository{db: db}
}

const publicationColumns = `id, post_id, user_id, connection_id, platform, platform_post_id, post_url, status, published_at, error_message, next_checkpoint, created_at, updated_at`

func scanPublication(row interface{ Scan(...any) error }) (*models.Publication, error) {
	var p models.Publication
	err := row.Scan(&p.ID, &p.PostID, &p.UserID, &p.ConnectionID, &p.Platform, &p.PlatformPostID,
		&p.PostURL, &p.Status, &p.PublishedAt, &p.ErrorMessage, &p.NextCheckpoint, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *publicationRepository) Create(ctx context.Context, tx *sql.Tx, p *models.Publication) (int64, error) {
	query := `
		INSERT INTO publications (post_id, user_id, connection_id, platform, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, p.PostID, p.UserID, p.ConnectionID, p.Platform, models.PublicationStatusPending).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, p.PostID, p.UserID, p.ConnectionID, p.Platform, models.PublicationStatusPending).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *publicationRepository) GetByID(ctx context.Context, id int64) (*models.Publication, error) {
	query := `SELECT ` + publicationColumns + ` FROM publications WHERE id = $1`
	p, err := scanPublication(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return p, nil
}

func (r *publicationRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.Publication, error) {
	query := `SELECT ` + publicationColumns + ` FROM publications WHERE post_id = $1`
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var publications []*models.Publication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		publications = append(publications, p)
	}
	return publications, rows.Err()
}

func (r *publicationRepository) MarkPublished(ctx context.Context, id int64, platformPostID, postURL string, publishedAt time.Time) error {
	query := `
		UPDATE publications
		SET status = $1,
			platform_post_id = $2,
			post_url = $3,
			published_at = $4,
			error_message = '',
			updated_at = $5
		WHERE id = $6
	`
	_, err := r.db.ExecContext(ctx, query, models.PublicationStatusPublished, platformPostID, postURL, publishedAt, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publicationRepository) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	query := `
		UPDATE publications
		SET status = $1,
			error_message = $2,
			updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, models.PublicationStatusFailed, errorMessage, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publicationRepository) ListDue(ctx context.Context, now time.Time, offsets []time.Duration) ([]*models.Publication, error) {
	// The decay table lives in configuration, so the due check happens
	// against an unnested offsets array: offset index == next_checkpoint.
	seconds := make([]int64, len(offsets))
	for i, d := range offsets {
		seconds[i] = int64(d.Seconds())
	}

	query := `
		SELECT ` + publicationColumns + `
		FROM publications p
		JOIN unnest($1::bigint[]) WITH ORDINALITY AS o(offset_secs, ord)
		  ON o.ord = p.next_checkpoint + 1
		WHERE p.status = $2
		  AND p.next_checkpoint < $3
		  AND p.published_at + make_interval(secs => o.offset_secs) <= $4
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(seconds), models.PublicationStatusPublished, len(offsets), now)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var due []*models.Publication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		due = append(due, p)
	}
	return due, rows.Err()
}

func (r *publicationRepository) AdvanceCheckpoint(ctx context.Context, id int64, from int) (bool, error) {
	query := `
		UPDATE publications
		SET next_checkpoint = next_checkpoint + 1,
			updated_at = $1
		WHERE id = $2 AND next_checkpoint = $3
	`
	result, err := r.db.ExecContext(ctx, query, time.Now(), id, from)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}
