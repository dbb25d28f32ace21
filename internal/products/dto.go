package products

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tidecrate/storefront/pkg/db/models"
)

// ProductDTO is the catalogue entry returned to clients.
type ProductDTO struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Description *string         `json:"description,omitempty"`
	MinWeightKg decimal.Decimal `json:"min_weight_kg"`
	MaxWeightKg decimal.Decimal `json:"max_weight_kg"`
	PricePerKg  decimal.Decimal `json:"price_per_kg"`
	ImageURL    *string         `json:"image_url,omitempty"`
	IsAvailable bool            `json:"is_available"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ProductInput carries the editable fields of a product.
type ProductInput struct {
	Name        string          `json:"name" validate:"required,min=2,max=120"`
	Description *string         `json:"description,omitempty" validate:"omitempty,max=4000"`
	MinWeightKg decimal.Decimal `json:"min_weight_kg"`
	MaxWeightKg decimal.Decimal `json:"max_weight_kg"`
	PricePerKg  decimal.Decimal `json:"price_per_kg"`
	IsAvailable *bool           `json:"is_available,omitempty"`
}

func toDTO(p models.Product, imageURL func(string) string) ProductDTO {
	dto := ProductDTO{
		ID:          p.ID,
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		MinWeightKg: p.MinWeightKg,
		MaxWeightKg: p.MaxWeightKg,
		PricePerKg:  p.PricePerKg,
		IsAvailable: p.IsAvailable,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.ImagePath != nil && *p.ImagePath != "" && imageURL != nil {
		if url := imageURL(*p.ImagePath); url != "" {
			dto.ImageURL = &url
		}
	}
	return dto
}
