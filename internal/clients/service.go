package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/warehouse-allocator/pkg/config"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	pkgerrors "github.com/angelmondragon/warehouse-allocator/pkg/errors"
	"github.com/angelmondragon/warehouse-allocator/pkg/security"
	"gorm.io/gorm"
)

type repository interface {
	Create(ctx context.Context, client *models.Client) error
	FindByAPIKeyPrefix(ctx context.Context, prefix string) (*models.Client, error)
}

// Service authenticates API keys and provisions tenants.
type Service struct {
	repo repository
	auth config.AuthConfig
}

func NewService(repo repository, auth config.AuthConfig) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("clients repository required")
	}
	return &Service{repo: repo, auth: auth}, nil
}

// Authenticate resolves "<prefix>.<secret>" to its client. Every failure
// mode reports the same unauthorized error.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*models.Client, error) {
	prefix, secret, err := security.SplitAPIKey(apiKey)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid api key")
	}
	client, err := s.repo.FindByAPIKeyPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid api key")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup api key")
	}
	ok, err := security.VerifySecret(secret, client.APIKeyHash)
	if err != nil || !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid api key")
	}
	return client, nil
}

// Provision creates a client with a fresh API key. The plain key is only
// available in the returned value.
func (s *Service) Provision(ctx context.Context, name string, admin bool) (*models.Client, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "client name required")
	}
	key, err := security.GenerateAPIKey(s.auth)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate api key")
	}
	client := &models.Client{
		Name:         name,
		APIKeyPrefix: key.Prefix,
		APIKeyHash:   key.Hash,
		IsAdmin:      admin,
	}
	if err := s.repo.Create(ctx, client); err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create client")
	}
	return client, key.Plain, nil
}
