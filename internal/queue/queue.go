package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// PublishTaskID is the deterministic id for a scheduled publish. Encoding
// both the post id and the exact publish second means a reschedule always
// produces a fresh id, and cancellation can target the old one.
func PublishTaskID(postID int64, at time.Time) string {
	return fmt.Sprintf("publish:%d:%d", postID, at.Unix())
}

func publishTaskPrefix(postID int64) string {
	return fmt.Sprintf("publish:%d:", postID)
}

func metricsTaskID(publicationID int64, attempt int) string {
	return fmt.Sprintf("metrics:%d:%d", publicationID, attempt)
}

func refreshTaskID(connectionID int64, expiresAt time.Time) string {
	return fmt.Sprintf("refresh:%d:%d", connectionID, expiresAt.Unix())
}

func enqueue(client *asynq.Client, taskType string, payload any, opts ...asynq.Option) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskType, taskPayload)

	_, err = client.Enqueue(task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Same deterministic id means the exact same work is already
		// queued; dropping the duplicate is the point.
		slog.Info("duplicate task skipped", "type", taskType)
		return nil
	}
	if err != nil {
		return err
	}
	return nil
}

// EnqueuePostScheduled registers the durable publish timer. The task sleeps
// in redis until the scheduled time and survives process restarts.
func EnqueuePostScheduled(client *asynq.Client, payload PostScheduledPayload) error {
	return enqueue(client, TaskTypePostScheduled, payload,
		asynq.ProcessAt(payload.ScheduledAt),
		asynq.TaskID(PublishTaskID(payload.PostID, payload.ScheduledAt)),
		asynq.Queue(QueuePublish),
		asynq.MaxRetry(3),
	)
}

func EnqueuePostScheduleCancelled(client *asynq.Client, payload PostScheduleCancelledPayload) error {
	return enqueue(client, TaskTypePostScheduleCancelled, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
	)
}

func EnqueuePostPublished(client *asynq.Client, payload PostPublishedPayload) error {
	return enqueue(client, TaskTypePostPublished, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
	)
}

func EnqueuePostPublishFailed(client *asynq.Client, payload PostPublishFailedPayload) error {
	return enqueue(client, TaskTypePostPublishFailed, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
	)
}

func EnqueueMetricsFetch(client *asynq.Client, payload MetricsFetchPayload) error {
	return enqueue(client, TaskTypeMetricsFetchRequested, payload,
		asynq.TaskID(metricsTaskID(payload.PublicationID, payload.Attempt)),
		asynq.Queue(QueueMetrics),
		asynq.MaxRetry(2),
	)
}

func EnqueueMetricsFetchBatch(client *asynq.Client, payload MetricsFetchBatchPayload) error {
	return enqueue(client, TaskTypeMetricsFetchBatch, payload,
		asynq.Queue(QueueMetrics),
		asynq.MaxRetry(2),
	)
}

func EnqueueMetricsFetchCompleted(client *asynq.Client, payload MetricsFetchCompletedPayload) error {
	return enqueue(client, TaskTypeMetricsFetchCompleted, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(1),
	)
}

func EnqueueConnectionExpiring(client *asynq.Client, payload ConnectionExpiringPayload) error {
	return enqueue(client, TaskTypeConnectionExpiring, payload,
		asynq.TaskID(refreshTaskID(payload.ConnectionID, payload.ExpiresAt)),
		asynq.Queue(QueueRefresh),
		asynq.MaxRetry(2),
	)
}

func EnqueueConnectionRefreshed(client *asynq.Client, payload ConnectionRefreshedPayload) error {
	return enqueue(client, TaskTypeConnectionRefreshed, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(1),
	)
}

// CancelScheduledPublish deletes any pending publish timer for the post. It
// pages through the scheduled set because the cancel event does not carry
// the old publish time. A timer that already fired is fine; the wake-time
// revalidation against the post row catches it.
func CancelScheduledPublish(inspector *asynq.Inspector, postID int64) error {
	prefix := publishTaskPrefix(postID)
	for page := 1; ; page++ {
		tasks, err := inspector.ListScheduledTasks(QueuePublish, asynq.PageSize(100), asynq.Page(page))
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if !strings.HasPrefix(t.ID, prefix) {
				continue
			}
			err = inspector.DeleteTask(QueuePublish, t.ID)
			if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
				return err
			}
			slog.Info("scheduled publish cancelled", "post_id", postID, "task_id", t.ID)
		}
		if len(tasks) < 100 {
			return nil
		}
	}
}
