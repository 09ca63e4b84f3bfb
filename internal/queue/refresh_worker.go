package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/platform"
	"github.com/postloom/postloom/internal/repository"
)

// HandleConnectionExpiring refreshes one connection's tokens ahead of
// expiry. Refreshes for the same platform run one at a time; providers
// rotate refresh tokens and two concurrent grants would invalidate each
// other. The stored-token guard in UpdateTokens covers the multi-process
// case the lock cannot.
func (q *Queue) HandleConnectionExpiring(ctx context.Context, task *asynq.Task) error {
	var payload ConnectionExpiringPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	conn, err := q.cr.GetByID(ctx, payload.ConnectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		slog.Info("refresh skipped, connection deleted", "connection_id", payload.ConnectionID)
		return nil
	}
	if conn.Status != models.ConnectionStatusActive {
		slog.Info("refresh skipped, connection not active",
			"connection_id", conn.ID, "status", conn.Status)
		return nil
	}

	name := platform.Name(conn.Platform)

	if conn.RefreshToken == "" {
		if err := q.cr.SetStatus(ctx, conn.ID, models.ConnectionStatusExpired); err != nil {
			return err
		}
		slog.Error("connection has no refresh token, user must re-authorize",
			"connection_id", conn.ID, "user_id", conn.UserID, "platform", conn.Platform)
		return fmt.Errorf("connection %d: %w: %w", conn.ID, platform.ErrNoRefreshToken, asynq.SkipRetry)
	}

	adapter, err := q.registry.Get(name)
	if err != nil {
		return err
	}

	refreshToken, err := q.cryptor.Decrypt(conn.RefreshToken)
	if err != nil {
		return err
	}

	lock := q.refreshLock(name)
	lock.Lock()
	defer lock.Unlock()

	pair, err := adapter.Refresh(ctx, refreshToken)
	if err != nil {
		if platform.IsBusinessRejection(err) {
			if setErr := q.cr.SetStatus(ctx, conn.ID, models.ConnectionStatusExpired); setErr != nil {
				slog.Info(setErr.Error())
			}
			slog.Error("token refresh rejected, user must re-authorize",
				"connection_id", conn.ID, "user_id", conn.UserID,
				"platform", conn.Platform, "error", err.Error())
			return fmt.Errorf("%s: %w", err.Error(), asynq.SkipRetry)
		}
		return err
	}

	encAccess, err := q.cryptor.Encrypt([]byte(pair.AccessToken))
	if err != nil {
		return err
	}
	encRefresh := ""
	if pair.RefreshToken != "" {
		encRefresh, err = q.cryptor.Encrypt([]byte(pair.RefreshToken))
		if err != nil {
			return err
		}
	}

	err = q.cr.UpdateTokens(ctx, conn.ID, conn.AccessToken, &models.Connection{
		AccessToken:    encAccess,
		RefreshToken:   encRefresh,
		TokenExpiresAt: pair.ExpiresAt,
	})
	if errors.Is(err, repository.ErrTokenChanged) {
		slog.Info("refresh superseded by a concurrent one", "connection_id", conn.ID)
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("connection refreshed",
		"connection_id", conn.ID, "platform", conn.Platform, "expires_at", pair.ExpiresAt)

	err = EnqueueConnectionRefreshed(q.client, ConnectionRefreshedPayload{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Platform:     conn.Platform,
		ExpiresAt:    pair.ExpiresAt,
	})
	if err != nil {
		slog.Info(err.Error())
	}
	return nil
}

// HandleConnectionRefreshed is a log sink for the refreshed event.
func (q *Queue) HandleConnectionRefreshed(ctx context.Context, task *asynq.Task) error {
	var payload ConnectionRefreshedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	slog.Info("connection tokens rotated",
		"connection_id", payload.ConnectionID,
		"user_id", payload.UserID,
		"platform", payload.Platform,
		"expires_at", payload.ExpiresAt)
	return nil
}
