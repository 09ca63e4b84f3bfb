package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/repository"
	"github.com/postloom/postloom/internal/transfer"
)

// MetricsService is the read side of metrics collection. It only serves
// what the pipeline has already snapshotted; nothing here talks to a
// platform.
type MetricsService interface {
	Latest(ctx context.Context, userID, publicationID int64) (*models.MetricSnapshot, error)
	History(ctx context.Context, userID, publicationID int64) ([]*models.MetricSnapshot, error)
	PostMetrics(ctx context.Context, userID, postID int64) ([]*transfer.PublicationMetrics, error)
}

type metricsService struct {
	pr  repository.PostRepository
	pub repository.PublicationRepository
	ms  repository.MetricSnapshotRepository
}

func NewMetricsService(pr repository.PostRepository, pub repository.PublicationRepository, ms repository.MetricSnapshotRepository) MetricsService {
	return &metricsService{
		pr:  pr,
		pub: pub,
		ms:  ms,
	}
}

func (s *metricsService) checkPublication(ctx context.Context, userID, publicationID int64) (*models.Publication, error) {
	pub, err := s.pub.GetByID(ctx, publicationID)
	if err != nil {
		return nil, err
	}
	if pub == nil || pub.UserID != userID {
		err = errors.New("publication doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}
	return pub, nil
}

func (s *metricsService) Latest(ctx context.Context, userID, publicationID int64) (*models.MetricSnapshot, error) {
	if _, err := s.checkPublication(ctx, userID, publicationID); err != nil {
		return nil, err
	}
	return s.ms.LatestByPublicationID(ctx, publicationID)
}

func (s *metricsService) History(ctx context.Context, userID, publicationID int64) ([]*models.MetricSnapshot, error) {
	if _, err := s.checkPublication(ctx, userID, publicationID); err != nil {
		return nil, err
	}
	return s.ms.ListByPublicationID(ctx, publicationID)
}

func (s *metricsService) PostMetrics(ctx context.Context, userID, postID int64) ([]*transfer.PublicationMetrics, error) {
	exists, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	pubs, err := s.pub.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}

	result := make([]*transfer.PublicationMetrics, 0, len(pubs))
	for _, pub := range pubs {
		latest, err := s.ms.LatestByPublicationID(ctx, pub.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, &transfer.PublicationMetrics{
			PublicationID: pub.ID,
			Latest:        latest,
		})
	}
	return result, nil
}
