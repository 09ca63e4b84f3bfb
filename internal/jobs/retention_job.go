package job

import (
	"context"
	"log/slog"
	"time"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/repository"
)

// RetentionJob prunes fetch-log rows past the retention horizon. Metric
// snapshots are kept indefinitely; only the audit log ages out.
type RetentionJob struct {
	cfg config.Config
	fl  repository.FetchLogRepository
}

func NewRetentionJob(cfg config.Config, fl repository.FetchLogRepository) *RetentionJob {
	return &RetentionJob{
		cfg: cfg,
		fl:  fl,
	}
}

func (j *RetentionJob) PruneFetchLogs() {
	ctx := context.Background()

	cutoff := time.Now().UTC().Add(-j.cfg.FetchLogRetention)
	deleted, err := j.fl.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Info(err.Error())
		return
	}
	if deleted > 0 {
		slog.Info("fetch logs pruned", "deleted", deleted, "cutoff", cutoff)
	}
}
