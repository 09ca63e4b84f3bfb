package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/platform"
	"github.com/postloom/postloom/internal/repository"
	"github.com/postloom/postloom/pkg/crypto"
)

// The fakes embed their repository interface so only the methods a test
// exercises need bodies; calling anything else panics, which is the point.

type fakePostRepo struct {
	repository.PostRepository
	mu       sync.Mutex
	posts    map[int64]*models.Post
	statuses map[int64]string
}

func newFakePostRepo(posts ...*models.Post) *fakePostRepo {
	r := &fakePostRepo{posts: make(map[int64]*models.Post), statuses: make(map[int64]string)}
	for _, p := range posts {
		r.posts[p.ID] = p
	}
	return r
}

func (r *fakePostRepo) GetByID(_ context.Context, id int64) (*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.posts[id], nil
}

func (r *fakePostRepo) UpdateStatus(_ context.Context, status string, postID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[postID] = status
	if p, ok := r.posts[postID]; ok {
		p.Status = status
	}
	return nil
}

type fakePublicationRepo struct {
	repository.PublicationRepository
	mu        sync.Mutex
	pubs      map[int64]*models.Publication
	failed    map[int64]string
	published map[int64]string
	claims    []int64
	claimFrom map[int64]int
}

func newFakePublicationRepo(pubs ...*models.Publication) *fakePublicationRepo {
	r := &fakePublicationRepo{
		pubs:      make(map[int64]*models.Publication),
		failed:    make(map[int64]string),
		published: make(map[int64]string),
		claimFrom: make(map[int64]int),
	}
	for _, p := range pubs {
		r.pubs[p.ID] = p
		r.claimFrom[p.ID] = p.NextCheckpoint
	}
	return r
}

func (r *fakePublicationRepo) GetByID(_ context.Context, id int64) (*models.Publication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubs[id], nil
}

func (r *fakePublicationRepo) ListByPostID(_ context.Context, postID int64) ([]*models.Publication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Publication
	for _, p := range r.pubs {
		if p.PostID == postID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakePublicationRepo) MarkPublished(_ context.Context, id int64, platformPostID, postURL string, publishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published[id] = platformPostID
	if p, ok := r.pubs[id]; ok {
		p.Status = models.PublicationStatusPublished
		p.PlatformPostID.String = platformPostID
		p.PlatformPostID.Valid = true
		p.PostURL.String = postURL
		p.PostURL.Valid = true
		p.PublishedAt.Time = publishedAt
		p.PublishedAt.Valid = true
	}
	return nil
}

func (r *fakePublicationRepo) MarkFailed(_ context.Context, id int64, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[id] = errorMessage
	if p, ok := r.pubs[id]; ok {
		p.Status = models.PublicationStatusFailed
		p.ErrorMessage = errorMessage
	}
	return nil
}

func (r *fakePublicationRepo) AdvanceCheckpoint(_ context.Context, id int64, from int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimFrom[id] != from {
		return false, nil
	}
	r.claimFrom[id] = from + 1
	r.claims = append(r.claims, id)
	if p, ok := r.pubs[id]; ok {
		p.NextCheckpoint = from + 1
	}
	return true, nil
}

type fakeConnectionRepo struct {
	repository.ConnectionRepository
	mu             sync.Mutex
	conns          map[int64]*models.Connection
	statuses       map[int64]string
	updated        *models.Connection
	updateTokenErr error
}

func newFakeConnectionRepo(conns ...*models.Connection) *fakeConnectionRepo {
	r := &fakeConnectionRepo{conns: make(map[int64]*models.Connection), statuses: make(map[int64]string)}
	for _, c := range conns {
		r.conns[c.ID] = c
	}
	return r
}

func (r *fakeConnectionRepo) GetByID(_ context.Context, id int64) (*models.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[id], nil
}

func (r *fakeConnectionRepo) GetByUserAndPlatform(_ context.Context, userID int64, platformName string) (*models.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.UserID == userID && c.Platform == platformName {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeConnectionRepo) SetStatus(_ context.Context, id int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = status
	if c, ok := r.conns[id]; ok {
		c.Status = status
	}
	return nil
}

func (r *fakeConnectionRepo) UpdateTokens(_ context.Context, id int64, oldAccessToken string, c *models.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateTokenErr != nil {
		return r.updateTokenErr
	}
	r.updated = c
	return nil
}

type fakeSnapshotRepo struct {
	repository.MetricSnapshotRepository
	mu        sync.Mutex
	snapshots []*models.MetricSnapshot
}

func (r *fakeSnapshotRepo) Create(_ context.Context, s *models.MetricSnapshot) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
	return int64(len(r.snapshots)), nil
}

type fakeFetchLogRepo struct {
	repository.FetchLogRepository
	mu   sync.Mutex
	logs []*models.FetchLog
}

func (r *fakeFetchLogRepo) Create(_ context.Context, f *models.FetchLog) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, f)
	return int64(len(r.logs)), nil
}

func (r *fakeFetchLogRepo) CountCallsSince(_ context.Context, platformName string, _ time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, l := range r.logs {
		if l.Platform == platformName {
			total += l.APICalls
		}
	}
	return total, nil
}

type fakePostMediaRepo struct {
	repository.PostMediaRepository
}

func (r *fakePostMediaRepo) ListByPostID(_ context.Context, _ int64) ([]*models.PostMedia, error) {
	return nil, nil
}

type fakeMediaAssetRepo struct {
	repository.MediaAssetRepository
}

// fakeAdapter satisfies platform.Adapter with overridable behavior per test.
type fakeAdapter struct {
	name        platform.Name
	publishFn   func(ctx context.Context, accessToken string, req *platform.PublishRequest) (*platform.PublishResult, error)
	refreshFn   func(ctx context.Context, refreshToken string) (*platform.TokenPair, error)
	metricsFn   func(ctx context.Context, accessToken, platformPostID string) (*platform.Metrics, error)
	batchFn     func(ctx context.Context, accessToken string, ids []string) (map[string]*platform.Metrics, int, error)
	publishReqs []*platform.PublishRequest
	mu          sync.Mutex
}

func (a *fakeAdapter) Name() platform.Name        { return a.name }
func (a *fakeAdapter) AuthURL(_, _ string) string { return "https://example.com/auth" }

func (a *fakeAdapter) ExchangeCode(_ context.Context, _, _ string) (*platform.TokenPair, error) {
	panic("not used")
}

func (a *fakeAdapter) Refresh(ctx context.Context, refreshToken string) (*platform.TokenPair, error) {
	return a.refreshFn(ctx, refreshToken)
}

func (a *fakeAdapter) UserInfo(_ context.Context, _ string) (*platform.Account, error) {
	panic("not used")
}

func (a *fakeAdapter) Publish(ctx context.Context, accessToken string, req *platform.PublishRequest) (*platform.PublishResult, error) {
	a.mu.Lock()
	a.publishReqs = append(a.publishReqs, req)
	a.mu.Unlock()
	return a.publishFn(ctx, accessToken, req)
}

func (a *fakeAdapter) Delete(_ context.Context, _, _ string) error { return nil }

func (a *fakeAdapter) FetchMetrics(ctx context.Context, accessToken, platformPostID string) (*platform.Metrics, error) {
	return a.metricsFn(ctx, accessToken, platformPostID)
}

func (a *fakeAdapter) FetchMetricsBatch(ctx context.Context, accessToken string, ids []string) (map[string]*platform.Metrics, int, error) {
	return a.batchFn(ctx, accessToken, ids)
}

type queueFixture struct {
	q       *Queue
	posts   *fakePostRepo
	pubs    *fakePublicationRepo
	conns   *fakeConnectionRepo
	snaps   *fakeSnapshotRepo
	logs    *fakeFetchLogRepo
	cryptor *crypto.Cryptor
	adapter *fakeAdapter
}

// newQueueFixture wires a Queue against in-memory fakes. The asynq client
// points at a dead address: event emission fails and gets logged, which the
// handlers tolerate, so no redis is required.
func newQueueFixture(t *testing.T, adapter *fakeAdapter) *queueFixture {
	t.Helper()

	cryptor, err := crypto.New([]byte("0123456789abcdef"))
	require.NoError(t, err)

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { client.Close() })

	f := &queueFixture{
		posts:   newFakePostRepo(),
		pubs:    newFakePublicationRepo(),
		conns:   newFakeConnectionRepo(),
		snaps:   &fakeSnapshotRepo{},
		logs:    &fakeFetchLogRepo{},
		cryptor: cryptor,
		adapter: adapter,
	}
	f.q = NewQueue(
		config.Config{},
		client,
		nil,
		platform.NewRegistry(adapter),
		platform.NewThrottle(1000, 1000),
		cryptor,
		f.posts,
		f.pubs,
		f.conns,
		f.snaps,
		f.logs,
		&fakeMediaAssetRepo{},
		&fakePostMediaRepo{},
	)
	return f
}

func (f *queueFixture) encrypt(t *testing.T, plaintext string) string {
	t.Helper()
	out, err := f.cryptor.Encrypt([]byte(plaintext))
	require.NoError(t, err)
	return out
}

func newTask(t *testing.T, taskType string, payload any) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(taskType, data)
}
