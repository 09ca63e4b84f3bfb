package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/platform"
)

// HandlePostScheduled fires when a publish timer comes due. The post row is
// the source of truth: the handler re-reads it and publishes only if it is
// still scheduled for the exact time this timer was armed with. Any
// mismatch means the user cancelled or rescheduled after the timer was set,
// so the stale timer drops out silently.
func (q *Queue) HandlePostScheduled(ctx context.Context, task *asynq.Task) error {
	var payload PostScheduledPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	post, err := q.pr.GetByID(ctx, payload.PostID)
	if err != nil {
		return err
	}
	if post == nil {
		slog.Info("publish skipped, post deleted", "post_id", payload.PostID)
		return nil
	}
	if post.Status != models.PostStatusScheduled {
		slog.Info("publish skipped, post no longer scheduled",
			"post_id", post.ID, "status", post.Status)
		return nil
	}
	if !post.ScheduledAt.Valid || !post.ScheduledAt.Time.Equal(payload.ScheduledAt) {
		slog.Info("publish skipped, schedule changed after timer was armed",
			"post_id", post.ID)
		return nil
	}

	return q.publishPost(ctx, post)
}

type publishOutcome struct {
	pub       *models.Publication
	err       error
	retryable bool
}

func (q *Queue) publishPost(ctx context.Context, post *models.Post) error {
	pubs, err := q.pub.ListByPostID(ctx, post.ID)
	if err != nil {
		return err
	}

	var pending []*models.Publication
	for _, p := range pubs {
		if p.Status == models.PublicationStatusPending {
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		slog.Info("nothing pending to publish", "post_id", post.ID)
		return nil
	}

	mediaURLs, err := q.mediaURLs(ctx, post.ID)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	semaphore := make(chan struct{}, 10)
	outcomes := make([]publishOutcome, 0, len(pending))

	for _, pub := range pending {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(pub *models.Publication) {
			defer wg.Done()
			defer func() { <-semaphore }()

			pubErr, retryable := q.publishToPlatform(ctx, post, pub, mediaURLs)
			mu.Lock()
			outcomes = append(outcomes, publishOutcome{pub: pub, err: pubErr, retryable: retryable})
			mu.Unlock()
		}(pub)
	}
	wg.Wait()

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	lastAttempt := retried >= maxRetry

	transient := 0
	for _, o := range outcomes {
		if o.err == nil {
			continue
		}
		if o.retryable && !lastAttempt {
			// Leave the publication pending; the task retry picks it up
			// without touching platforms that already succeeded.
			transient++
			continue
		}
		if err := q.pub.MarkFailed(ctx, o.pub.ID, o.err.Error()); err != nil {
			slog.Info(err.Error())
		}
		if err := EnqueuePostPublishFailed(q.client, PostPublishFailedPayload{
			PostID:        post.ID,
			UserID:        post.UserID,
			PublicationID: o.pub.ID,
			Platform:      o.pub.Platform,
			Error:         o.err.Error(),
		}); err != nil {
			slog.Info(err.Error())
		}
	}
	if transient > 0 {
		return fmt.Errorf("post %d: %d platform publishes failed transiently", post.ID, transient)
	}

	return q.finalizePost(ctx, post.ID)
}

// finalizePost settles the post's terminal status once every platform has a
// terminal outcome. One accepted publish is enough to call the post
// published; per-platform failures stay visible on their publication rows.
func (q *Queue) finalizePost(ctx context.Context, postID int64) error {
	pubs, err := q.pub.ListByPostID(ctx, postID)
	if err != nil {
		return err
	}

	published := 0
	for _, p := range pubs {
		if p.Status == models.PublicationStatusPublished {
			published++
		}
	}

	status := models.PostStatusFailed
	if published > 0 {
		status = models.PostStatusPublished
	}
	if err := q.pr.UpdateStatus(ctx, status, postID); err != nil {
		return err
	}
	slog.Info("publish settled", "post_id", postID, "status", status,
		"published", published, "total", len(pubs))
	return nil
}

// publishToPlatform delivers one publication. The returned bool reports
// whether a failure is worth retrying: rejections the platform made a
// decision about (4xx) are final, everything else is assumed transient.
func (q *Queue) publishToPlatform(ctx context.Context, post *models.Post, pub *models.Publication, mediaURLs []string) (error, bool) {
	name := platform.Name(pub.Platform)

	adapter, err := q.registry.Get(name)
	if err != nil {
		return err, false
	}

	conn, err := q.cr.GetByID(ctx, pub.ConnectionID)
	if err != nil {
		return err, true
	}
	if conn == nil {
		return fmt.Errorf("connection %d no longer exists", pub.ConnectionID), false
	}
	if conn.Status != models.ConnectionStatusActive {
		return fmt.Errorf("connection %d is %s", conn.ID, conn.Status), false
	}

	accessToken, err := q.cryptor.Decrypt(conn.AccessToken)
	if err != nil {
		return err, false
	}

	req := &platform.PublishRequest{
		AccountID: conn.AccountID,
		Title:     post.Title,
		Body:      post.Body,
		MediaURLs: mediaURLs,
	}

	if uploader, ok := adapter.(platform.MediaUploader); ok && len(mediaURLs) > 0 {
		ids, upErr := q.uploadMedia(ctx, uploader, accessToken, conn.AccountID, mediaURLs)
		if upErr != nil {
			return upErr, !platform.IsBusinessRejection(upErr)
		}
		req.MediaIDs = ids
		req.MediaURLs = nil
	}

	if err := q.throttle.Wait(ctx, name); err != nil {
		return err, true
	}

	res, err := adapter.Publish(ctx, accessToken, req)
	if err != nil {
		slog.Info("publish rejected", "post_id", post.ID, "platform", pub.Platform, "error", err.Error())
		return err, !platform.IsBusinessRejection(err)
	}

	publishedAt := res.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}
	if err := q.pub.MarkPublished(ctx, pub.ID, res.PostID, res.URL, publishedAt); err != nil {
		return err, true
	}

	if err := EnqueuePostPublished(q.client, PostPublishedPayload{
		PostID:        post.ID,
		UserID:        post.UserID,
		PublicationID: pub.ID,
		Platform:      pub.Platform,
		PublishedAt:   publishedAt,
	}); err != nil {
		slog.Info(err.Error())
	}

	slog.Info("published", "post_id", post.ID, "platform", pub.Platform, "platform_post_id", res.PostID)
	return nil, false
}

func (q *Queue) mediaURLs(ctx context.Context, postID int64) ([]string, error) {
	attached, err := q.pm.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(attached))
	for _, pm := range attached {
		asset, err := q.ma.GetByID(ctx, pm.AssetID)
		if err != nil {
			return nil, err
		}
		if asset == nil {
			slog.Info("media asset missing", "post_id", postID, "asset_id", pm.AssetID)
			continue
		}
		urls = append(urls, asset.FileURL)
	}
	return urls, nil
}

func (q *Queue) uploadMedia(ctx context.Context, uploader platform.MediaUploader, accessToken, accountID string, urls []string) ([]string, error) {
	ids := make([]string, 0, len(urls))
	for _, url := range urls {
		data, contentType, err := q.downloadMedia(ctx, url)
		if err != nil {
			return nil, err
		}
		id, err := uploader.UploadMedia(ctx, accessToken, &platform.Media{
			Data:        data,
			ContentType: contentType,
			AccountID:   accountID,
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (q *Queue) downloadMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media download %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// HandlePostScheduleCancelled removes the pending publish timer for a post
// whose schedule was withdrawn. Deleting here is an optimization to free
// the timer early; correctness does not depend on it because the timer
// revalidates against the post row when it fires.
func (q *Queue) HandlePostScheduleCancelled(ctx context.Context, task *asynq.Task) error {
	var payload PostScheduleCancelledPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	return CancelScheduledPublish(q.inspector, payload.PostID)
}

// HandlePostPublishFailed is the operator-facing sink for publish failures.
func (q *Queue) HandlePostPublishFailed(ctx context.Context, task *asynq.Task) error {
	var payload PostPublishFailedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	slog.Error("publication failed",
		"post_id", payload.PostID,
		"user_id", payload.UserID,
		"publication_id", payload.PublicationID,
		"platform", payload.Platform,
		"error", payload.Error)
	return nil
}
