package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/platform"
	"github.com/postloom/postloom/internal/repository"
	"github.com/postloom/postloom/internal/transfer"
)

type PostService interface {
	// CreatePost validates the draft against every requested platform,
	// persists the post with one publication row per platform, and
	// returns the id with the parsed publish time.
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, time.Time, error)
	// CancelSchedule withdraws a pending schedule and flips the post back
	// to draft. Fails if the post is not currently scheduled.
	CancelSchedule(ctx context.Context, userID, postID int64) error
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID, userID int64) (*models.Post, []*models.Publication, error)
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	db       *sql.DB
	registry *platform.Registry
	pr       repository.PostRepository
	pub      repository.PublicationRepository
	cr       repository.ConnectionRepository
	ma       repository.MediaAssetRepository
	pm       repository.PostMediaRepository
	storage  StorageService
}

func NewPostService(
	db *sql.DB,
	registry *platform.Registry,
	pr repository.PostRepository,
	pub repository.PublicationRepository,
	cr repository.ConnectionRepository,
	ma repository.MediaAssetRepository,
	pm repository.PostMediaRepository,
	storage StorageService) PostService {
	return &postService{
		db:       db,
		registry: registry,
		pr:       pr,
		pub:      pub,
		cr:       cr,
		ma:       ma,
		pm:       pm,
		storage:  storage,
	}
}

type mediaFile struct {
	data []byte
	kind types.Type
}

func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, time.Time, error) {
	var zero time.Time

	if pc == nil {
		err := errors.New("post creation data is nil")
		slog.Error(err.Error())
		return 0, zero, err
	}
	if pc.Body == "" {
		err := errors.New("body cannot be empty")
		slog.Info(err.Error())
		return 0, zero, err
	}

	scheduledAt, err := time.Parse("2006-01-02T15:04", pc.ScheduledAt)
	if err != nil {
		err = fmt.Errorf("invalid scheduled time format: %w", err)
		slog.Info(err.Error())
		return 0, zero, err
	}
	if !scheduledAt.After(time.Now()) {
		err = errors.New("scheduled time must be in the future")
		slog.Info(err.Error())
		return 0, zero, err
	}

	var platforms []string
	if err := json.Unmarshal([]byte(pc.Platforms), &platforms); err != nil {
		err = fmt.Errorf("invalid platforms format: %w", err)
		slog.Info(err.Error())
		return 0, zero, err
	}
	if len(platforms) == 0 {
		err := errors.New("no platforms selected")
		slog.Info(err.Error())
		return 0, zero, err
	}

	media, err := readFiles(files)
	if err != nil {
		return 0, zero, err
	}
	images, videos := 0, 0
	for _, m := range media {
		switch m.kind.MIME.Type {
		case "image":
			images++
		case "video":
			videos++
		}
	}

	// Validate against every target before writing anything; either the
	// whole fan-out is acceptable or nothing is created.
	connections := make(map[string]*models.Connection, len(platforms))
	for _, p := range platforms {
		name := platform.Name(p)
		if _, err := s.registry.Get(name); err != nil {
			slog.Info(err.Error())
			return 0, zero, err
		}
		if err := platform.ValidateContent(name, pc.Body, images, videos); err != nil {
			slog.Info(err.Error())
			return 0, zero, err
		}

		conn, err := s.cr.GetByUserAndPlatform(ctx, userID, p)
		if err != nil {
			return 0, zero, err
		}
		if conn == nil {
			err = fmt.Errorf("no %s connection for this account", p)
			slog.Info(err.Error())
			return 0, zero, err
		}
		if conn.Status != models.ConnectionStatusActive {
			err = fmt.Errorf("%s connection is %s, reconnect it first", p, conn.Status)
			slog.Info(err.Error())
			return 0, zero, err
		}
		connections[p] = conn
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, zero, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post := models.Post{
		UserID:      userID,
		Title:       pc.Title,
		Body:        pc.Body,
		Status:      models.PostStatusScheduled,
		ScheduledAt: sql.NullTime{Time: scheduledAt, Valid: true},
	}
	postID, err := s.pr.Create(ctx, tx, &post)
	if err != nil {
		return 0, zero, fmt.Errorf("error creating post: %w", err)
	}

	for _, p := range platforms {
		conn := connections[p]
		_, err = s.pub.Create(ctx, tx, &models.Publication{
			PostID:       postID,
			UserID:       userID,
			ConnectionID: conn.ID,
			Platform:     p,
			Status:       models.PublicationStatusPending,
		})
		if err != nil {
			return 0, zero, fmt.Errorf("error creating publication for %s: %w", p, err)
		}
	}

	if err = s.saveMedia(ctx, tx, userID, postID, media); err != nil {
		return 0, zero, fmt.Errorf("error processing files: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, zero, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return postID, scheduledAt, nil
}

func readFiles(files []*multipart.FileHeader) ([]mediaFile, error) {
	allowed := map[string]struct{}{
		"mp4": {}, "mov": {}, "jpeg": {}, "png": {}, "jpg": {}, "gif": {},
	}

	media := make([]mediaFile, 0, len(files))
	for _, file := range files {
		content, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("error opening file: %w", err)
		}
		data, err := io.ReadAll(content)
		content.Close()
		if err != nil {
			return nil, fmt.Errorf("error reading file content: %w", err)
		}

		kind, err := filetype.Match(data)
		if err != nil || kind == types.Unknown {
			return nil, fmt.Errorf("unsupported file type: %w", err)
		}
		if _, ok := allowed[kind.Extension]; !ok {
			return nil, fmt.Errorf("file type %s is not allowed", kind.Extension)
		}

		media = append(media, mediaFile{data: data, kind: kind})
	}
	return media, nil
}

func (s *postService) saveMedia(ctx context.Context, tx *sql.Tx, userID, postID int64, media []mediaFile) error {
	for i, m := range media {
		key, err := gonanoid.New()
		if err != nil {
			return err
		}

		url, err := s.storage.Upload(ctx, key, m.data, m.kind.MIME.Value)
		if err != nil {
			return fmt.Errorf("error uploading file: %w", err)
		}

		assetID, err := s.ma.Create(ctx, tx, &models.MediaAsset{
			UserID:   userID,
			FileName: key,
			FileType: m.kind.MIME.Value,
			FileSize: int64(len(m.data)),
			FileURL:  url,
		})
		if err != nil {
			return err
		}

		err = s.pm.Create(ctx, tx, &models.PostMedia{
			PostID:       postID,
			AssetID:      assetID,
			DisplayOrder: i,
		})
		if err != nil {
			return fmt.Errorf("error saving media file: %w", err)
		}
	}
	return nil
}

func (s *postService) CancelSchedule(ctx context.Context, userID, postID int64) error {
	if err := s.checkOwnership(ctx, postID, userID); err != nil {
		return err
	}

	cleared, err := s.pr.ClearSchedule(ctx, postID)
	if err != nil {
		return err
	}
	if !cleared {
		err = errors.New("post is not scheduled")
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	posts, err := s.pr.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing posts")
	}
	return posts, nil
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*models.Post, []*models.Publication, error) {
	if err := s.checkOwnership(ctx, postID, userID); err != nil {
		return nil, nil, err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting post info")
	}

	pubs, err := s.pub.ListByPostID(ctx, postID)
	if err != nil {
		return nil, nil, err
	}
	return post, pubs, nil
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	if err := s.checkOwnership(ctx, postID, userID); err != nil {
		return err
	}

	// A scheduled post loses its schedule first so an in-flight timer
	// finds nothing to publish.
	if _, err := s.pr.ClearSchedule(ctx, postID); err != nil {
		return err
	}

	if err := s.pr.Remove(ctx, postID); err != nil {
		return fmt.Errorf("error removing post")
	}
	return nil
}

func (s *postService) checkOwnership(ctx context.Context, postID, userID int64) error {
	if userID == 0 || postID == 0 {
		err := errors.New("post id is not valid")
		slog.Info(err.Error())
		return err
	}

	exists, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}
	if !exists {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return err
	}
	return nil
}
