package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/repository"
)

type fakePublicationRepo struct {
	repository.PublicationRepository
	pubs map[int64]*models.Publication
}

func (r *fakePublicationRepo) GetByID(_ context.Context, id int64) (*models.Publication, error) {
	return r.pubs[id], nil
}

func (r *fakePublicationRepo) ListByPostID(_ context.Context, postID int64) ([]*models.Publication, error) {
	var out []*models.Publication
	for _, p := range r.pubs {
		if p.PostID == postID {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeSnapshotRepo struct {
	repository.MetricSnapshotRepository
	byPublication map[int64][]*models.MetricSnapshot
}

func (r *fakeSnapshotRepo) LatestByPublicationID(_ context.Context, publicationID int64) (*models.MetricSnapshot, error) {
	snaps := r.byPublication[publicationID]
	if len(snaps) == 0 {
		return nil, nil
	}
	return snaps[len(snaps)-1], nil
}

func (r *fakeSnapshotRepo) ListByPublicationID(_ context.Context, publicationID int64) ([]*models.MetricSnapshot, error) {
	return r.byPublication[publicationID], nil
}

func metricsFixture() (MetricsService, *fakeSnapshotRepo) {
	pubs := &fakePublicationRepo{pubs: map[int64]*models.Publication{
		1: {ID: 1, PostID: 10, UserID: 7, Platform: "twitter"},
		2: {ID: 2, PostID: 10, UserID: 7, Platform: "linkedin"},
	}}
	snaps := &fakeSnapshotRepo{byPublication: map[int64][]*models.MetricSnapshot{
		1: {
			{ID: 1, PublicationID: 1, Likes: 3, ObservedAt: time.Now().Add(-time.Hour)},
			{ID: 2, PublicationID: 1, Likes: 9, ObservedAt: time.Now()},
		},
	}}
	return NewMetricsService(&fakePostRepo{exists: true}, pubs, snaps), snaps
}

func TestLatestReturnsNewestSnapshot(t *testing.T) {
	svc, _ := metricsFixture()

	snap, err := svc.Latest(context.Background(), 7, 1)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(9), snap.Likes)
}

func TestLatestRejectsForeignPublication(t *testing.T) {
	svc, _ := metricsFixture()

	_, err := svc.Latest(context.Background(), 8, 1)
	require.Error(t, err)
}

func TestHistoryKeepsAllSnapshots(t *testing.T) {
	svc, _ := metricsFixture()

	snaps, err := svc.History(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestPostMetricsCoversEveryPublication(t *testing.T) {
	svc, _ := metricsFixture()

	result, err := svc.PostMetrics(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, result, 2)

	byPub := make(map[int64]interface{}, len(result))
	for _, r := range result {
		byPub[r.PublicationID] = r.Latest
	}
	require.NotNil(t, byPub[1])
	// A publication with no snapshots yet still shows up, with no data.
	latest, ok := byPub[2]
	require.True(t, ok)
	assert.Nil(t, latest)
}
