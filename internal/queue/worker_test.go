package queue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/platform"
)

func scheduledPost(at time.Time) *models.Post {
	return &models.Post{
		ID:          1,
		UserID:      7,
		Title:       "launch",
		Body:        "we are live",
		Status:      models.PostStatusScheduled,
		ScheduledAt: sql.NullTime{Time: at, Valid: true},
	}
}

func pendingPublication(id int64, platformName string) *models.Publication {
	return &models.Publication{
		ID:           id,
		PostID:       1,
		UserID:       7,
		ConnectionID: 100 + id,
		Platform:     platformName,
		Status:       models.PublicationStatusPending,
	}
}

func activeConnection(f *queueFixture, t *testing.T, id int64, platformName string) *models.Connection {
	return &models.Connection{
		ID:          id,
		UserID:      7,
		Platform:    platformName,
		AccountID:   "acct-1",
		AccessToken: f.encrypt(t, "plain-token"),
		Status:      models.ConnectionStatusActive,
	}
}

func TestHandlePostScheduledPublishes(t *testing.T) {
	at := time.Now().UTC().Truncate(time.Second)
	adapter := &fakeAdapter{
		name: platform.Twitter,
		publishFn: func(_ context.Context, accessToken string, _ *platform.PublishRequest) (*platform.PublishResult, error) {
			assert.Equal(t, "plain-token", accessToken)
			return &platform.PublishResult{PostID: "tw-900", URL: "https://x.com/tw-900", PublishedAt: at}, nil
		},
	}
	f := newQueueFixture(t, adapter)
	f.posts.posts[1] = scheduledPost(at)
	pub := pendingPublication(1, "twitter")
	f.pubs.pubs[1] = pub
	f.conns.conns[pub.ConnectionID] = activeConnection(f, t, pub.ConnectionID, "twitter")

	task := newTask(t, TaskTypePostScheduled, PostScheduledPayload{PostID: 1, UserID: 7, ScheduledAt: at})
	require.NoError(t, f.q.HandlePostScheduled(context.Background(), task))

	assert.Equal(t, "tw-900", f.pubs.published[1])
	assert.Equal(t, models.PostStatusPublished, f.posts.statuses[1])
	require.Len(t, adapter.publishReqs, 1)
	assert.Equal(t, "we are live", adapter.publishReqs[0].Body)
	assert.Equal(t, "acct-1", adapter.publishReqs[0].AccountID)
}

func TestHandlePostScheduledSkipsWhenStatusChanged(t *testing.T) {
	at := time.Now().UTC().Truncate(time.Second)
	adapter := &fakeAdapter{name: platform.Twitter}
	f := newQueueFixture(t, adapter)

	post := scheduledPost(at)
	post.Status = models.PostStatusDraft
	f.posts.posts[1] = post

	task := newTask(t, TaskTypePostScheduled, PostScheduledPayload{PostID: 1, UserID: 7, ScheduledAt: at})
	require.NoError(t, f.q.HandlePostScheduled(context.Background(), task))

	assert.Empty(t, adapter.publishReqs)
	assert.Empty(t, f.posts.statuses)
}

func TestHandlePostScheduledSkipsWhenRescheduled(t *testing.T) {
	at := time.Now().UTC().Truncate(time.Second)
	adapter := &fakeAdapter{name: platform.Twitter}
	f := newQueueFixture(t, adapter)

	// The row moved to a later slot after this timer was armed.
	f.posts.posts[1] = scheduledPost(at.Add(2 * time.Hour))

	task := newTask(t, TaskTypePostScheduled, PostScheduledPayload{PostID: 1, UserID: 7, ScheduledAt: at})
	require.NoError(t, f.q.HandlePostScheduled(context.Background(), task))

	assert.Empty(t, adapter.publishReqs)
}

func TestHandlePostScheduledSkipsDeletedPost(t *testing.T) {
	adapter := &fakeAdapter{name: platform.Twitter}
	f := newQueueFixture(t, adapter)

	task := newTask(t, TaskTypePostScheduled, PostScheduledPayload{PostID: 404, UserID: 7, ScheduledAt: time.Now()})
	require.NoError(t, f.q.HandlePostScheduled(context.Background(), task))
	assert.Empty(t, adapter.publishReqs)
}

func TestPublishBusinessRejectionIsFinal(t *testing.T) {
	at := time.Now().UTC().Truncate(time.Second)
	adapter := &fakeAdapter{
		name: platform.Twitter,
		publishFn: func(_ context.Context, _ string, _ *platform.PublishRequest) (*platform.PublishResult, error) {
			return nil, &platform.Error{Platform: platform.Twitter, Op: "tweets.create", StatusCode: 403, Detail: "duplicate content"}
		},
	}
	f := newQueueFixture(t, adapter)
	f.posts.posts[1] = scheduledPost(at)
	pub := pendingPublication(1, "twitter")
	f.pubs.pubs[1] = pub
	f.conns.conns[pub.ConnectionID] = activeConnection(f, t, pub.ConnectionID, "twitter")

	task := newTask(t, TaskTypePostScheduled, PostScheduledPayload{PostID: 1, UserID: 7, ScheduledAt: at})
	require.NoError(t, f.q.HandlePostScheduled(context.Background(), task))

	assert.Contains(t, f.pubs.failed[1], "duplicate content")
	assert.Equal(t, models.PostStatusFailed, f.posts.statuses[1])
}

func TestPublishPartialSuccess(t *testing.T) {
	at := time.Now().UTC().Truncate(time.Second)
	adapter := &fakeAdapter{
		name: platform.Twitter,
		publishFn: func(_ context.Context, accessToken string, _ *platform.PublishRequest) (*platform.PublishResult, error) {
			if accessToken == "rejected-token" {
				return nil, &platform.Error{Platform: platform.Twitter, Op: "tweets.create", StatusCode: 422, Detail: "too long"}
			}
			return &platform.PublishResult{PostID: "tw-1", URL: "u", PublishedAt: at}, nil
		},
	}
	f := newQueueFixture(t, adapter)
	f.posts.posts[1] = scheduledPost(at)

	okPub := pendingPublication(1, "twitter")
	badPub := pendingPublication(2, "twitter")
	f.pubs.pubs[1] = okPub
	f.pubs.pubs[2] = badPub

	okConn := activeConnection(f, t, okPub.ConnectionID, "twitter")
	badConn := activeConnection(f, t, badPub.ConnectionID, "twitter")
	badConn.AccessToken = f.encrypt(t, "rejected-token")
	f.conns.conns[okConn.ID] = okConn
	f.conns.conns[badConn.ID] = badConn

	task := newTask(t, TaskTypePostScheduled, PostScheduledPayload{PostID: 1, UserID: 7, ScheduledAt: at})
	require.NoError(t, f.q.HandlePostScheduled(context.Background(), task))

	// One accepted publish is enough to settle the post as published.
	assert.Equal(t, "tw-1", f.pubs.published[1])
	assert.Contains(t, f.pubs.failed[2], "too long")
	assert.Equal(t, models.PostStatusPublished, f.posts.statuses[1])
}

func TestPublishInactiveConnectionIsFinal(t *testing.T) {
	at := time.Now().UTC().Truncate(time.Second)
	adapter := &fakeAdapter{name: platform.Twitter}
	f := newQueueFixture(t, adapter)
	f.posts.posts[1] = scheduledPost(at)
	pub := pendingPublication(1, "twitter")
	f.pubs.pubs[1] = pub
	conn := activeConnection(f, t, pub.ConnectionID, "twitter")
	conn.Status = models.ConnectionStatusRevoked
	f.conns.conns[conn.ID] = conn

	task := newTask(t, TaskTypePostScheduled, PostScheduledPayload{PostID: 1, UserID: 7, ScheduledAt: at})
	require.NoError(t, f.q.HandlePostScheduled(context.Background(), task))

	assert.Empty(t, adapter.publishReqs)
	assert.Contains(t, f.pubs.failed[1], "revoked")
	assert.Equal(t, models.PostStatusFailed, f.posts.statuses[1])
}

func TestPublishTaskID(t *testing.T) {
	at := time.Unix(1770000000, 0)
	assert.Equal(t, "publish:42:1770000000", PublishTaskID(42, at))

	// A reschedule must always produce a different id.
	assert.NotEqual(t, PublishTaskID(42, at), PublishTaskID(42, at.Add(time.Second)))
}
