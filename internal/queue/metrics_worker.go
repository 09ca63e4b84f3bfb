package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/platform"
)

// HandlePostPublished kicks off metrics collection for a fresh publication.
// The immediate read is checkpoint zero of the decay schedule, so it claims
// the checkpoint first; if the sweep got there before us, the claim fails
// and the fetch is already queued.
func (q *Queue) HandlePostPublished(ctx context.Context, task *asynq.Task) error {
	var payload PostPublishedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	claimed, err := q.pub.AdvanceCheckpoint(ctx, payload.PublicationID, 0)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	err = EnqueueMetricsFetch(q.client, MetricsFetchPayload{
		PublicationID: payload.PublicationID,
		UserID:        payload.UserID,
		Platform:      payload.Platform,
		Attempt:       1,
	})
	if err != nil {
		// The checkpoint is already claimed, so a task retry would find
		// nothing to do. Later checkpoints still arrive via the sweep.
		slog.Error("immediate metrics read not enqueued", "publication_id", payload.PublicationID, "error", err.Error())
	}
	return nil
}

// HandleMetricsFetchRequested reads one publication's counters and appends
// a snapshot. Failures the platform decided on (deleted post, revoked
// grant, missing scope) are final; anything else retries on the task's
// bounded retry policy.
func (q *Queue) HandleMetricsFetchRequested(ctx context.Context, task *asynq.Task) error {
	var payload MetricsFetchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	pub, err := q.pub.GetByID(ctx, payload.PublicationID)
	if err != nil {
		return err
	}
	if pub == nil || !pub.PlatformPostID.Valid {
		slog.Info("metrics fetch skipped, publication gone or never published",
			"publication_id", payload.PublicationID)
		return nil
	}

	name := platform.Name(pub.Platform)
	adapter, err := q.registry.Get(name)
	if err != nil {
		return err
	}

	accessToken, err := q.connectionToken(ctx, pub.ConnectionID)
	if err != nil {
		return err
	}

	if err := q.throttle.Wait(ctx, name); err != nil {
		return err
	}

	metrics, err := adapter.FetchMetrics(ctx, accessToken, pub.PlatformPostID.String)
	if err != nil {
		return q.fetchFailed(ctx, pub, payload.Attempt, 1, err)
	}

	return q.recordSnapshot(ctx, pub, payload.Attempt, metrics)
}

// HandleMetricsFetchBatch resolves one batched read for several
// publications of the same user on the same platform, then demuxes the
// platform's response back into per-publication snapshots. Ids the
// platform dropped from its answer (deleted or hidden posts) are logged
// and skipped, never retried.
func (q *Queue) HandleMetricsFetchBatch(ctx context.Context, task *asynq.Task) error {
	var payload MetricsFetchBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if len(payload.Items) == 0 {
		return nil
	}

	name := platform.Name(payload.Platform)
	adapter, err := q.registry.Get(name)
	if err != nil {
		return err
	}
	fetcher, ok := adapter.(platform.BatchMetricsFetcher)
	if !ok {
		return fmt.Errorf("platform %s has no batch metrics endpoint: %w", name, asynq.SkipRetry)
	}

	pubs := make(map[string]*models.Publication, len(payload.Items))
	attempts := make(map[string]int, len(payload.Items))
	ids := make([]string, 0, len(payload.Items))
	for _, item := range payload.Items {
		pub, err := q.pub.GetByID(ctx, item.PublicationID)
		if err != nil {
			return err
		}
		if pub == nil || !pub.PlatformPostID.Valid {
			continue
		}
		ids = append(ids, pub.PlatformPostID.String)
		pubs[pub.PlatformPostID.String] = pub
		attempts[pub.PlatformPostID.String] = item.Attempt
	}
	if len(ids) == 0 {
		return nil
	}

	conn, err := q.cr.GetByUserAndPlatform(ctx, payload.UserID, payload.Platform)
	if err != nil {
		return err
	}
	if conn == nil {
		slog.Info("batch metrics skipped, no connection",
			"user_id", payload.UserID, "platform", payload.Platform)
		return nil
	}
	accessToken, err := q.cryptor.Decrypt(conn.AccessToken)
	if err != nil {
		return err
	}

	if err := q.throttle.Wait(ctx, name); err != nil {
		return err
	}

	results, calls, err := fetcher.FetchMetricsBatch(ctx, accessToken, ids)
	if err != nil {
		q.logFetch(ctx, payload.UserID, payload.Platform, models.FetchStatusFailed, calls)
		return classifyFetchError(err)
	}

	for _, id := range ids {
		metrics, ok := results[id]
		if !ok {
			slog.Info("platform omitted post from batch metrics",
				"platform", payload.Platform, "platform_post_id", id)
			continue
		}
		metrics.APICalls = 0
		if err := q.recordSnapshot(ctx, pubs[id], attempts[id], metrics); err != nil {
			slog.Info(err.Error())
		}
	}

	q.logFetch(ctx, payload.UserID, payload.Platform, models.FetchStatusSuccess, calls)
	return nil
}

func (q *Queue) recordSnapshot(ctx context.Context, pub *models.Publication, attempt int, metrics *platform.Metrics) error {
	snapshot := &models.MetricSnapshot{
		PublicationID: pub.ID,
		ObservedAt:    time.Now().UTC(),
		Impressions:   metrics.Impressions,
		Likes:         metrics.Likes,
		Replies:       metrics.Replies,
		Reposts:       metrics.Reposts,
	}
	if metrics.Clicks != nil {
		snapshot.Clicks = sql.NullInt64{Int64: *metrics.Clicks, Valid: true}
	}
	if metrics.UniqueReach != nil {
		snapshot.UniqueReach = sql.NullInt64{Int64: *metrics.UniqueReach, Valid: true}
	}

	snapshotID, err := q.ms.Create(ctx, snapshot)
	if err != nil {
		return err
	}

	if metrics.APICalls > 0 {
		q.logFetch(ctx, pub.UserID, pub.Platform, models.FetchStatusSuccess, metrics.APICalls)
	}

	// The snapshot row is the durable outcome; the completed event is a
	// notification, so losing it never fails the fetch.
	err = EnqueueMetricsFetchCompleted(q.client, MetricsFetchCompletedPayload{
		PublicationID: pub.ID,
		UserID:        pub.UserID,
		Platform:      pub.Platform,
		SnapshotID:    snapshotID,
		Attempt:       attempt,
	})
	if err != nil {
		slog.Info(err.Error())
	}
	return nil
}

func (q *Queue) fetchFailed(ctx context.Context, pub *models.Publication, attempt, calls int, err error) error {
	slog.Info("metrics fetch failed",
		"publication_id", pub.ID, "platform", pub.Platform,
		"attempt", attempt, "error", err.Error())
	q.logFetch(ctx, pub.UserID, pub.Platform, models.FetchStatusFailed, calls)
	return classifyFetchError(err)
}

func classifyFetchError(err error) error {
	if platform.IsInsufficientScope(err) {
		slog.Error("metrics fetch lacks granted scope, re-authorization needed", "error", err.Error())
		return fmt.Errorf("%s: %w", err.Error(), asynq.SkipRetry)
	}
	if platform.IsBusinessRejection(err) {
		return fmt.Errorf("%s: %w", err.Error(), asynq.SkipRetry)
	}
	return err
}

func (q *Queue) logFetch(ctx context.Context, userID int64, platformName, status string, calls int) {
	_, err := q.fl.Create(ctx, &models.FetchLog{
		UserID:   userID,
		Platform: platformName,
		Status:   status,
		APICalls: calls,
	})
	if err != nil {
		slog.Info(err.Error())
	}
}

func (q *Queue) connectionToken(ctx context.Context, connectionID int64) (string, error) {
	conn, err := q.cr.GetByID(ctx, connectionID)
	if err != nil {
		return "", err
	}
	if conn == nil {
		return "", fmt.Errorf("connection %d no longer exists: %w", connectionID, asynq.SkipRetry)
	}
	return q.cryptor.Decrypt(conn.AccessToken)
}

// HandleMetricsFetchCompleted is a log sink; downstream consumers (alerts,
// digests) would subscribe here.
func (q *Queue) HandleMetricsFetchCompleted(ctx context.Context, task *asynq.Task) error {
	var payload MetricsFetchCompletedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	slog.Info("metrics snapshot recorded",
		"publication_id", payload.PublicationID,
		"platform", payload.Platform,
		"snapshot_id", payload.SnapshotID,
		"attempt", payload.Attempt)
	return nil
}
