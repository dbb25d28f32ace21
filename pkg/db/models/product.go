package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a catalogue listing priced per kilogram.
type Product struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name        string          `gorm:"column:name;not null"`
	Slug        string          `gorm:"column:slug;not null;uniqueIndex"`
	Description *string         `gorm:"column:description"`
	MinWeightKg decimal.Decimal `gorm:"column:min_weight_kg;type:numeric(8,3);not null"`
	MaxWeightKg decimal.Decimal `gorm:"column:max_weight_kg;type:numeric(8,3);not null"`
	PricePerKg  decimal.Decimal `gorm:"column:price_per_kg;type:numeric(12,2);not null"`
	ImagePath   *string         `gorm:"column:image_path"`
	IsAvailable bool            `gorm:"column:is_available;not null;default:true"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
