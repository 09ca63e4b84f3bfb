package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/postloom/postloom/internal/models"
)

// ErrTokenChanged reports that UpdateTokens found a different access token
// than the one the refresh started from. The concurrent refresh's tokens
// stay; the caller should not retry.
var ErrTokenChanged = errors.New("stored access token changed underneath")

type ConnectionRepository interface {
	Create(ctx context.Context, tx *sql.Tx, c *models.Connection) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Connection, error)
	GetByUserAndPlatform(ctx context.Context, userID int64, platform string) (*models.Connection, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.Connection, error)
	// ListExpiring returns active connections whose token expiry falls
	// inside [now, now+lookahead], plus ones already past expiry.
	ListExpiring(ctx context.Context, now, until time.Time) ([]*models.Connection, error)
	CheckByUserID(ctx context.Context, connectionID, userID int64) (bool, error)
	// UpdateTokens persists a refreshed token pair guarded by the access
	// token the refresh started from, so a concurrent refresh cannot be
	// blindly overwritten.
	UpdateTokens(ctx context.Context, id int64, oldAccessToken string, c *models.Connection) error
	SetStatus(ctx context.Context, id int64, status string) error
	Remove(ctx context.Context, id int64) error
}

type connectionRepository struct {
	db *sql.DB
}

func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = `id, user_id, platform, account_id, account_name, account_username, profile_picture_url, access_token, refresh_token, token_expires_at, scopes, status, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*models.Connection, error) {
	var c models.Connection
	err := row.Scan(&c.ID, &c.UserID, &c.Platform, &c.AccountID, &c.AccountName, &c.AccountUsername,
		&c.ProfilePicture, &c.AccessToken, &c.RefreshToken, &c.TokenExpiresAt, &c.Scopes, &c.Status,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *connectionRepository) Create(ctx context.Context, tx *sql.Tx, c *models.Connection) (int64, error) {
	query := `
		INSERT INTO connections (
			user_id,
			platform,
			account_id,
			account_name,
			account_username,
			profile_picture_url,
			access_token,
			refresh_token,
			token_expires_at,
			scopes,
			status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	var id int64
	var err error

	args := []any{c.UserID, c.Platform, c.AccountID, c.AccountName, c.AccountUsername,
		c.ProfilePicture, c.AccessToken, c.RefreshToken, c.TokenExpiresAt, c.Scopes, models.ConnectionStatusActive}

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *connectionRepository) GetByID(ctx context.Context, id int64) (*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	c, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return c, nil
}

func (r *connectionRepository) GetByUserAndPlatform(ctx context.Context, userID int64, platform string) (*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1 AND platform = $2`
	c, err := scanConnection(r.db.QueryRowContext(ctx, query, userID, platform))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return c, nil
}

func (r *connectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var connections []*models.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		connections = append(connections, c)
	}
	return connections, rows.Err()
}

func (r *connectionRepository) ListExpiring(ctx context.Context, now, until time.Time) ([]*models.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE status = $1
		  AND token_expires_at <= $2
	`
	rows, err := r.db.QueryContext(ctx, query, models.ConnectionStatusActive, until)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var connections []*models.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		connections = append(connections, c)
	}
	return connections, rows.Err()
}

func (r *connectionRepository) CheckByUserID(ctx context.Context, connectionID, userID int64) (bool, error) {
	query := "SELECT 1 FROM connections WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, connectionID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

func (r *connectionRepository) UpdateTokens(ctx context.Context, id int64, oldAccessToken string, c *models.Connection) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE connections
		SET
			access_token = COALESCE(NULLIF($3, ''), access_token),
			refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
			token_expires_at = COALESCE($5, token_expires_at),
			status = $6,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND access_token = $2
	`
	result, err := tx.ExecContext(ctx, query, id, oldAccessToken, c.AccessToken, c.RefreshToken, c.TokenExpiresAt, models.ConnectionStatusActive)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected != 1 {
		// Someone else refreshed first; their tokens win.
		slog.Info("token update skipped, stored access token changed underneath")
		return ErrTokenChanged
	}

	if err = tx.Commit(); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *connectionRepository) SetStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE connections SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *connectionRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM connections WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
