package clients

import (
	"context"

	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes tenant persistence operations.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, client *models.Client) error {
	return r.db.WithContext(ctx).Create(client).Error
}

// FindByAPIKeyPrefix retrieves the client owning the public half of a key.
func (r *Repository) FindByAPIKeyPrefix(ctx context.Context, prefix string) (*models.Client, error) {
	var client models.Client
	if err := r.db.WithContext(ctx).Where("api_key_prefix = ?", prefix).First(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	var client models.Client
	if err := r.db.WithContext(ctx).First(&client, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

// FindByName is used by fixtures to keep seeding idempotent.
func (r *Repository) FindByName(ctx context.Context, name string) (*models.Client, error) {
	var client models.Client
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

// UpdateAPIKey rotates the stored credential.
func (r *Repository) UpdateAPIKey(ctx context.Context, id uuid.UUID, prefix, hash string) error {
	return r.db.WithContext(ctx).
		Model(&models.Client{}).
		Where("id = ?", id).
		Updates(map[string]any{"api_key_prefix": prefix, "api_key_hash": hash}).Error
}
