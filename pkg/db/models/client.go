package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Client is the tenant that owns orders. It authenticates with an API key whose
// public prefix is stored in clear and whose secret is stored as an argon2id hash.
type Client struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name         string    `gorm:"column:name;not null"`
	APIKeyPrefix string    `gorm:"column:api_key_prefix;not null;uniqueIndex"`
	APIKeyHash   string    `gorm:"column:api_key_hash;not null"`
	IsAdmin      bool      `gorm:"column:is_admin;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Client) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}
