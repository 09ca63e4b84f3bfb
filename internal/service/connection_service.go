package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/platform"
	"github.com/postloom/postloom/internal/repository"
	"github.com/postloom/postloom/pkg/crypto"
)

// ConnectionService is the credential store's front door. Tokens go through
// the cryptor on the way in and never leave the service decrypted.
type ConnectionService interface {
	ConnectURL(platformName, state, verifier string) (string, error)
	Callback(ctx context.Context, userID int64, platformName, code, verifier string) (int64, error)
	List(ctx context.Context, userID int64) ([]*models.Connection, error)
	Disconnect(ctx context.Context, userID, connectionID int64) error
}

type connectionService struct {
	registry *platform.Registry
	cr       repository.ConnectionRepository
	cryptor  *crypto.Cryptor
}

func NewConnectionService(registry *platform.Registry, cr repository.ConnectionRepository, cryptor *crypto.Cryptor) ConnectionService {
	return &connectionService{
		registry: registry,
		cr:       cr,
		cryptor:  cryptor,
	}
}

func (s *connectionService) ConnectURL(platformName, state, verifier string) (string, error) {
	adapter, err := s.registry.Get(platform.Name(platformName))
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	return adapter.AuthURL(state, platform.PKCEChallenge(verifier)), nil
}

func (s *connectionService) Callback(ctx context.Context, userID int64, platformName, code, verifier string) (int64, error) {
	if code == "" {
		err := errors.New("code is empty")
		slog.Info(err.Error())
		return 0, err
	}

	adapter, err := s.registry.Get(platform.Name(platformName))
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	pair, err := adapter.ExchangeCode(ctx, code, verifier)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	account, err := adapter.UserInfo(ctx, pair.AccessToken)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	encAccess, err := s.cryptor.Encrypt([]byte(pair.AccessToken))
	if err != nil {
		return 0, err
	}
	encRefresh := ""
	if pair.RefreshToken != "" {
		encRefresh, err = s.cryptor.Encrypt([]byte(pair.RefreshToken))
		if err != nil {
			return 0, err
		}
	}

	existing, err := s.cr.GetByUserAndPlatform(ctx, userID, platformName)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		// Re-authorizing replaces the stored grant in place.
		err = s.cr.UpdateTokens(ctx, existing.ID, existing.AccessToken, &models.Connection{
			AccessToken:    encAccess,
			RefreshToken:   encRefresh,
			TokenExpiresAt: pair.ExpiresAt,
		})
		if err != nil {
			return 0, err
		}
		return existing.ID, nil
	}

	connectionID, err := s.cr.Create(ctx, nil, &models.Connection{
		UserID:          userID,
		Platform:        platformName,
		AccountID:       account.ID,
		AccountName:     account.Name,
		AccountUsername: account.Username,
		ProfilePicture:  account.AvatarURL,
		AccessToken:     encAccess,
		RefreshToken:    encRefresh,
		TokenExpiresAt:  pair.ExpiresAt,
		Scopes:          pair.Scopes,
		Status:          models.ConnectionStatusActive,
	})
	if err != nil {
		return 0, err
	}

	slog.Info("connection created",
		"user_id", userID, "platform", platformName, "account", account.Username)
	return connectionID, nil
}

func (s *connectionService) List(ctx context.Context, userID int64) ([]*models.Connection, error) {
	connections, err := s.cr.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing connections")
	}
	return connections, nil
}

func (s *connectionService) Disconnect(ctx context.Context, userID, connectionID int64) error {
	exists, err := s.cr.CheckByUserID(ctx, connectionID, userID)
	if err != nil {
		return err
	}
	if !exists {
		err = errors.New("connection doesn't exist")
		slog.Info(err.Error())
		return err
	}

	// Revoked, not deleted; published rows keep their connection reference.
	return s.cr.SetStatus(ctx, connectionID, models.ConnectionStatusRevoked)
}
