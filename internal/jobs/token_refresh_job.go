package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/queue"
	"github.com/postloom/postloom/internal/repository"
)

// TokenRefreshJob finds active connections whose tokens expire inside the
// lookahead window and emits an expiring event for each. The refresh itself
// happens in the queue worker; the deterministic task id keyed on the
// current expiry makes repeated sweeps of the same connection a no-op.
type TokenRefreshJob struct {
	cfg    config.Config
	cr     repository.ConnectionRepository
	client *asynq.Client
}

func NewTokenRefreshJob(cfg config.Config, cr repository.ConnectionRepository, client *asynq.Client) *TokenRefreshJob {
	return &TokenRefreshJob{
		cfg:    cfg,
		cr:     cr,
		client: client,
	}
}

func (j *TokenRefreshJob) SweepExpiringTokens() {
	ctx := context.Background()

	now := time.Now().UTC()
	until := now.Add(j.cfg.TokenRefreshLookahead)

	connections, err := j.cr.ListExpiring(ctx, now, until)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	enqueued := 0
	for _, conn := range connections {
		err = queue.EnqueueConnectionExpiring(j.client, queue.ConnectionExpiringPayload{
			ConnectionID: conn.ID,
			UserID:       conn.UserID,
			Platform:     conn.Platform,
			ExpiresAt:    conn.TokenExpiresAt,
		})
		if err != nil {
			slog.Info(err.Error())
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		slog.Info("token refresh sweep finished", "expiring", len(connections), "enqueued", enqueued)
	}
}
