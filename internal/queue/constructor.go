package queue

import (
	"net/http"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/platform"
	"github.com/postloom/postloom/internal/repository"
	"github.com/postloom/postloom/pkg/crypto"
)

// Queue owns the task handlers behind the asynq server. It holds everything
// a handler may need so handlers stay free of global state.
type Queue struct {
	cfg       config.Config
	client    *asynq.Client
	inspector *asynq.Inspector
	registry  *platform.Registry
	throttle  *platform.Throttle
	cryptor   *crypto.Cryptor

	pr  repository.PostRepository
	pub repository.PublicationRepository
	cr  repository.ConnectionRepository
	ms  repository.MetricSnapshotRepository
	fl  repository.FetchLogRepository
	ma  repository.MediaAssetRepository
	pm  repository.PostMediaRepository

	httpClient *http.Client

	// refreshMu serializes token refreshes per platform so two workers
	// never race the same provider's token endpoint.
	mu        sync.Mutex
	refreshMu map[platform.Name]*sync.Mutex
}

func NewQueue(
	cfg config.Config,
	client *asynq.Client,
	inspector *asynq.Inspector,
	registry *platform.Registry,
	throttle *platform.Throttle,
	cryptor *crypto.Cryptor,
	pr repository.PostRepository,
	pub repository.PublicationRepository,
	cr repository.ConnectionRepository,
	ms repository.MetricSnapshotRepository,
	fl repository.FetchLogRepository,
	ma repository.MediaAssetRepository,
	pm repository.PostMediaRepository) *Queue {
	return &Queue{
		cfg:        cfg,
		client:     client,
		inspector:  inspector,
		registry:   registry,
		throttle:   throttle,
		cryptor:    cryptor,
		pr:         pr,
		pub:        pub,
		cr:         cr,
		ms:         ms,
		fl:         fl,
		ma:         ma,
		pm:         pm,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		refreshMu:  make(map[platform.Name]*sync.Mutex),
	}
}

func (q *Queue) refreshLock(name platform.Name) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.refreshMu[name]
	if !ok {
		m = &sync.Mutex{}
		q.refreshMu[name] = m
	}
	return m
}

// Task types. Each one is an event in the pipeline's vocabulary; payloads
// below are the full wire shape, so any consumer can act on the event
// without extra lookups for identity fields.
const (
	TaskTypePostScheduled         = "post/scheduled"
	TaskTypePostScheduleCancelled = "post/schedule.cancelled"
	TaskTypePostPublished         = "post/published"
	TaskTypePostPublishFailed     = "post/publish.failed"
	TaskTypeMetricsFetchRequested = "metrics/fetch.requested"
	TaskTypeMetricsFetchBatch     = "metrics/fetch.batch"
	TaskTypeMetricsFetchCompleted = "metrics/fetch.completed"
	TaskTypeConnectionExpiring    = "connection/expiring"
	TaskTypeConnectionRefreshed   = "connection/refreshed"
)

// Queue names, in descending priority order.
const (
	QueuePublish = "publish"
	QueueMetrics = "metrics"
	QueueRefresh = "refresh"
	QueueDefault = "default"
)

type PostScheduledPayload struct {
	PostID      int64     `json:"post_id"`
	UserID      int64     `json:"user_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

type PostScheduleCancelledPayload struct {
	PostID int64 `json:"post_id"`
	UserID int64 `json:"user_id"`
}

type PostPublishedPayload struct {
	PostID        int64     `json:"post_id"`
	UserID        int64     `json:"user_id"`
	PublicationID int64     `json:"publication_id"`
	Platform      string    `json:"platform"`
	PublishedAt   time.Time `json:"published_at"`
}

type PostPublishFailedPayload struct {
	PostID        int64  `json:"post_id"`
	UserID        int64  `json:"user_id"`
	PublicationID int64  `json:"publication_id"`
	Platform      string `json:"platform"`
	// Error carries the platform error verbatim; it is the operator's
	// only clue when a publish dies.
	Error string `json:"error"`
}

type MetricsFetchPayload struct {
	PublicationID int64  `json:"publication_id"`
	UserID        int64  `json:"user_id"`
	Platform      string `json:"platform"`
	// Attempt is 1-based: attempt 1 is the immediate post-publish read,
	// later attempts follow the decay schedule.
	Attempt int `json:"attempt"`
}

type MetricsFetchBatchItem struct {
	PublicationID int64 `json:"publication_id"`
	Attempt       int   `json:"attempt"`
}

type MetricsFetchBatchPayload struct {
	UserID   int64                   `json:"user_id"`
	Platform string                  `json:"platform"`
	Items    []MetricsFetchBatchItem `json:"items"`
}

type MetricsFetchCompletedPayload struct {
	PublicationID int64  `json:"publication_id"`
	UserID        int64  `json:"user_id"`
	Platform      string `json:"platform"`
	SnapshotID    int64  `json:"snapshot_id"`
	Attempt       int    `json:"attempt"`
}

type ConnectionExpiringPayload struct {
	ConnectionID int64     `json:"connection_id"`
	UserID       int64     `json:"user_id"`
	Platform     string    `json:"platform"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type ConnectionRefreshedPayload struct {
	ConnectionID int64     `json:"connection_id"`
	UserID       int64     `json:"user_id"`
	Platform     string    `json:"platform"`
	ExpiresAt    time.Time `json:"expires_at"`
}
