package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/platform"
	"github.com/postloom/postloom/internal/queue"
	"github.com/postloom/postloom/internal/repository"
)

// MetricsSweepJob walks the decay schedule. Every run it finds publications
// whose next checkpoint has come due, claims each checkpoint, and enqueues
// the fetches. Claiming happens before enqueueing so a crashed sweep never
// double-schedules; a claim without an enqueue only delays the read until
// the next checkpoint.
type MetricsSweepJob struct {
	cfg    config.Config
	pub    repository.PublicationRepository
	fl     repository.FetchLogRepository
	client *asynq.Client
}

func NewMetricsSweepJob(
	cfg config.Config,
	pub repository.PublicationRepository,
	fl repository.FetchLogRepository,
	client *asynq.Client) *MetricsSweepJob {
	return &MetricsSweepJob{
		cfg:    cfg,
		pub:    pub,
		fl:     fl,
		client: client,
	}
}

type sweepGroup struct {
	userID   int64
	platform string
}

func (j *MetricsSweepJob) SweepDueCheckpoints() {
	ctx := context.Background()
	now := time.Now().UTC()

	due, err := j.pub.ListDue(ctx, now, j.cfg.MetricsCheckpoints)
	if err != nil {
		slog.Info(err.Error())
		return
	}
	if len(due) == 0 {
		return
	}

	groups := make(map[sweepGroup][]*models.Publication)
	for _, p := range due {
		key := sweepGroup{userID: p.UserID, platform: p.Platform}
		groups[key] = append(groups[key], p)
	}

	// Remaining request budget per platform for this window.
	budgets := make(map[string]int)
	for key := range groups {
		if _, ok := budgets[key.platform]; ok {
			continue
		}
		used, err := j.fl.CountCallsSince(ctx, key.platform, now.Add(-15*time.Minute))
		if err != nil {
			slog.Info(err.Error())
			used = j.cfg.MetricsFetchBudget
		}
		budgets[key.platform] = j.cfg.MetricsFetchBudget - used
	}

	enqueued, deferred := 0, 0
	for key, pubs := range groups {
		caps, ok := platform.CapabilitiesFor(platform.Name(key.platform))
		if !ok {
			slog.Info("sweep skipped unknown platform", "platform", key.platform)
			continue
		}

		if caps.BatchMetrics {
			n, d := j.sweepBatch(ctx, key, pubs, caps, budgets)
			enqueued, deferred = enqueued+n, deferred+d
		} else {
			n, d := j.sweepSingle(ctx, key, pubs, caps, budgets)
			enqueued, deferred = enqueued+n, deferred+d
		}
	}

	slog.Info("metrics sweep finished",
		"due", len(due), "enqueued", enqueued, "deferred", deferred)
}

// sweepSingle claims and enqueues one fetch per publication, stopping when
// the platform's budget runs out. Unclaimed publications stay due and the
// next sweep picks them up.
func (j *MetricsSweepJob) sweepSingle(ctx context.Context, key sweepGroup, pubs []*models.Publication, caps platform.Capabilities, budgets map[string]int) (int, int) {
	enqueued, deferred := 0, 0
	for i, p := range pubs {
		if budgets[key.platform] < caps.MetricsCallCost {
			deferred = len(pubs) - i
			slog.Info("metrics budget exhausted, deferring",
				"platform", key.platform, "deferred", deferred)
			break
		}

		claimed, err := j.pub.AdvanceCheckpoint(ctx, p.ID, p.NextCheckpoint)
		if err != nil {
			slog.Info(err.Error())
			continue
		}
		if !claimed {
			continue
		}
		budgets[key.platform] -= caps.MetricsCallCost

		err = queue.EnqueueMetricsFetch(j.client, queue.MetricsFetchPayload{
			PublicationID: p.ID,
			UserID:        p.UserID,
			Platform:      p.Platform,
			Attempt:       p.NextCheckpoint + 1,
		})
		if err != nil {
			slog.Info(err.Error())
			continue
		}
		enqueued++
	}
	return enqueued, deferred
}

// sweepBatch claims the group's checkpoints and enqueues batch reads in
// chunks of the platform's batch ceiling. A whole chunk costs one request.
func (j *MetricsSweepJob) sweepBatch(ctx context.Context, key sweepGroup, pubs []*models.Publication, caps platform.Capabilities, budgets map[string]int) (int, int) {
	var items []queue.MetricsFetchBatchItem
	for _, p := range pubs {
		if budgets[key.platform] < 1 {
			break
		}

		claimed, err := j.pub.AdvanceCheckpoint(ctx, p.ID, p.NextCheckpoint)
		if err != nil {
			slog.Info(err.Error())
			continue
		}
		if !claimed {
			continue
		}

		items = append(items, queue.MetricsFetchBatchItem{
			PublicationID: p.ID,
			Attempt:       p.NextCheckpoint + 1,
		})
		if len(items)%caps.MaxMetricsBatch == 0 {
			budgets[key.platform]--
		}
	}
	// The trailing partial chunk still costs one request.
	if len(items)%caps.MaxMetricsBatch != 0 {
		budgets[key.platform]--
	}
	deferred := len(pubs) - len(items)

	for start := 0; start < len(items); start += caps.MaxMetricsBatch {
		end := start + caps.MaxMetricsBatch
		if end > len(items) {
			end = len(items)
		}
		err := queue.EnqueueMetricsFetchBatch(j.client, queue.MetricsFetchBatchPayload{
			UserID:   key.userID,
			Platform: key.platform,
			Items:    items[start:end],
		})
		if err != nil {
			slog.Info(err.Error())
		}
	}
	return len(items), deferred
}
