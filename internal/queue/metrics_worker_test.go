package queue

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/platform"
)

func publishedPublication(id int64, platformName, platformPostID string) *models.Publication {
	return &models.Publication{
		ID:             id,
		PostID:         1,
		UserID:         7,
		ConnectionID:   100 + id,
		Platform:       platformName,
		PlatformPostID: sql.NullString{String: platformPostID, Valid: true},
		Status:         models.PublicationStatusPublished,
		PublishedAt:    sql.NullTime{Time: time.Now().Add(-time.Minute), Valid: true},
	}
}

func TestHandlePostPublishedClaimsFirstCheckpoint(t *testing.T) {
	f := newQueueFixture(t, &fakeAdapter{name: platform.Twitter})
	f.pubs.pubs[1] = publishedPublication(1, "twitter", "tw-1")
	f.pubs.claimFrom[1] = 0

	task := newTask(t, TaskTypePostPublished, PostPublishedPayload{
		PostID: 1, UserID: 7, PublicationID: 1, Platform: "twitter", PublishedAt: time.Now(),
	})
	require.NoError(t, f.q.HandlePostPublished(context.Background(), task))
	assert.Equal(t, []int64{1}, f.pubs.claims)

	// A replay of the same event finds the checkpoint taken and does nothing.
	require.NoError(t, f.q.HandlePostPublished(context.Background(), task))
	assert.Equal(t, []int64{1}, f.pubs.claims)
}

func TestHandleMetricsFetchRecordsSnapshot(t *testing.T) {
	reach := int64(800)
	adapter := &fakeAdapter{
		name: platform.Twitter,
		metricsFn: func(_ context.Context, accessToken, platformPostID string) (*platform.Metrics, error) {
			assert.Equal(t, "plain-token", accessToken)
			assert.Equal(t, "tw-1", platformPostID)
			return &platform.Metrics{Impressions: 1200, Likes: 30, Replies: 4, Reposts: 2, UniqueReach: &reach, APICalls: 1}, nil
		},
	}
	f := newQueueFixture(t, adapter)
	pub := publishedPublication(1, "twitter", "tw-1")
	f.pubs.pubs[1] = pub
	f.conns.conns[pub.ConnectionID] = activeConnection(f, t, pub.ConnectionID, "twitter")

	task := newTask(t, TaskTypeMetricsFetchRequested, MetricsFetchPayload{
		PublicationID: 1, UserID: 7, Platform: "twitter", Attempt: 1,
	})
	require.NoError(t, f.q.HandleMetricsFetchRequested(context.Background(), task))

	require.Len(t, f.snaps.snapshots, 1)
	snap := f.snaps.snapshots[0]
	assert.Equal(t, int64(1), snap.PublicationID)
	assert.Equal(t, int64(1200), snap.Impressions)
	assert.Equal(t, int64(30), snap.Likes)
	require.True(t, snap.UniqueReach.Valid)
	assert.Equal(t, int64(800), snap.UniqueReach.Int64)
	assert.False(t, snap.Clicks.Valid)

	require.Len(t, f.logs.logs, 1)
	assert.Equal(t, models.FetchStatusSuccess, f.logs.logs[0].Status)
	assert.Equal(t, 1, f.logs.logs[0].APICalls)
}

func TestHandleMetricsFetchSkipsUnpublished(t *testing.T) {
	called := false
	adapter := &fakeAdapter{
		name: platform.Twitter,
		metricsFn: func(_ context.Context, _, _ string) (*platform.Metrics, error) {
			called = true
			return nil, nil
		},
	}
	f := newQueueFixture(t, adapter)
	pub := publishedPublication(1, "twitter", "")
	pub.PlatformPostID.Valid = false
	f.pubs.pubs[1] = pub

	task := newTask(t, TaskTypeMetricsFetchRequested, MetricsFetchPayload{PublicationID: 1, UserID: 7, Platform: "twitter", Attempt: 1})
	require.NoError(t, f.q.HandleMetricsFetchRequested(context.Background(), task))
	assert.False(t, called)
	assert.Empty(t, f.snaps.snapshots)
}

func TestHandleMetricsFetchScopeErrorSkipsRetry(t *testing.T) {
	adapter := &fakeAdapter{
		name: platform.Facebook,
		metricsFn: func(_ context.Context, _, _ string) (*platform.Metrics, error) {
			return nil, &platform.Error{Platform: platform.Facebook, Op: "insights.post_impressions", StatusCode: 403, Detail: "(#10)", Err: platform.ErrInsufficientScope}
		},
	}
	f := newQueueFixture(t, adapter)
	pub := publishedPublication(1, "facebook", "fb-1")
	f.pubs.pubs[1] = pub
	f.conns.conns[pub.ConnectionID] = activeConnection(f, t, pub.ConnectionID, "facebook")

	task := newTask(t, TaskTypeMetricsFetchRequested, MetricsFetchPayload{PublicationID: 1, UserID: 7, Platform: "facebook", Attempt: 2})
	err := f.q.HandleMetricsFetchRequested(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	require.Len(t, f.logs.logs, 1)
	assert.Equal(t, models.FetchStatusFailed, f.logs.logs[0].Status)
}

func TestHandleMetricsFetchTransientErrorRetries(t *testing.T) {
	adapter := &fakeAdapter{
		name: platform.Twitter,
		metricsFn: func(_ context.Context, _, _ string) (*platform.Metrics, error) {
			return nil, &platform.Error{Platform: platform.Twitter, Op: "tweets.lookup", StatusCode: 429, Detail: "rate limited"}
		},
	}
	f := newQueueFixture(t, adapter)
	pub := publishedPublication(1, "twitter", "tw-1")
	f.pubs.pubs[1] = pub
	f.conns.conns[pub.ConnectionID] = activeConnection(f, t, pub.ConnectionID, "twitter")

	task := newTask(t, TaskTypeMetricsFetchRequested, MetricsFetchPayload{PublicationID: 1, UserID: 7, Platform: "twitter", Attempt: 2})
	err := f.q.HandleMetricsFetchRequested(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleMetricsFetchBatchDemuxes(t *testing.T) {
	adapter := &fakeAdapter{
		name: platform.Twitter,
		batchFn: func(_ context.Context, _ string, ids []string) (map[string]*platform.Metrics, int, error) {
			assert.ElementsMatch(t, []string{"tw-1", "tw-2", "tw-3"}, ids)
			// tw-3 was deleted on the platform and is omitted from the answer.
			return map[string]*platform.Metrics{
				"tw-1": {Impressions: 100, Likes: 5, APICalls: 1},
				"tw-2": {Impressions: 200, Likes: 9, APICalls: 1},
			}, 1, nil
		},
	}
	f := newQueueFixture(t, adapter)
	f.pubs.pubs[1] = publishedPublication(1, "twitter", "tw-1")
	f.pubs.pubs[2] = publishedPublication(2, "twitter", "tw-2")
	f.pubs.pubs[3] = publishedPublication(3, "twitter", "tw-3")
	f.conns.conns[500] = &models.Connection{
		ID: 500, UserID: 7, Platform: "twitter",
		AccessToken: f.encrypt(t, "plain-token"),
		Status:      models.ConnectionStatusActive,
	}

	task := newTask(t, TaskTypeMetricsFetchBatch, MetricsFetchBatchPayload{
		UserID:   7,
		Platform: "twitter",
		Items: []MetricsFetchBatchItem{
			{PublicationID: 1, Attempt: 3},
			{PublicationID: 2, Attempt: 2},
			{PublicationID: 3, Attempt: 2},
		},
	})
	require.NoError(t, f.q.HandleMetricsFetchBatch(context.Background(), task))

	require.Len(t, f.snaps.snapshots, 2)

	// The whole batch cost one platform call, logged once.
	require.Len(t, f.logs.logs, 1)
	assert.Equal(t, 1, f.logs.logs[0].APICalls)
	assert.Equal(t, models.FetchStatusSuccess, f.logs.logs[0].Status)
}

func TestHandleMetricsFetchBatchNoConnection(t *testing.T) {
	adapter := &fakeAdapter{
		name: platform.Twitter,
		batchFn: func(_ context.Context, _ string, _ []string) (map[string]*platform.Metrics, int, error) {
			t.Fatal("must not reach the platform without a connection")
			return nil, 0, nil
		},
	}
	f := newQueueFixture(t, adapter)
	f.pubs.pubs[1] = publishedPublication(1, "twitter", "tw-1")

	task := newTask(t, TaskTypeMetricsFetchBatch, MetricsFetchBatchPayload{
		UserID: 7, Platform: "twitter",
		Items: []MetricsFetchBatchItem{{PublicationID: 1, Attempt: 2}},
	})
	require.NoError(t, f.q.HandleMetricsFetchBatch(context.Background(), task))
	assert.Empty(t, f.snaps.snapshots)
}
