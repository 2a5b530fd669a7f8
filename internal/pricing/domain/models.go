// Package domain contains persistence models for unit pricing.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ModelPricing maps one (provider, model) pair to its unit price in credits.
type ModelPricing struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	Provider       string       `gorm:"type:text;not null;uniqueIndex:ux_model_pricing_provider_model,priority:1" json:"provider"`
	Model          string       `gorm:"type:text;not null;uniqueIndex:ux_model_pricing_provider_model,priority:2" json:"model"`
	DisplayName    string       `gorm:"type:text" json:"display_name"`
	CreditsPerUnit int64        `gorm:"not null" json:"credits_per_unit"`
	IsActive       bool         `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ModelPricing) TableName() string { return "model_pricing" }

var (
	ErrPriceNotFound = errors.New("price_not_found")
	ErrInvalidPrice  = errors.New("invalid_price")
)

// Service resolves the credit cost of one generated unit.
type Service interface {
	Resolve(ctx context.Context, provider, model string) (int64, error)
	Upsert(ctx context.Context, pricing ModelPricing) (*ModelPricing, error)
	List(ctx context.Context) ([]ModelPricing, error)
}
