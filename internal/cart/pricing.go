package cart

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tidecrate/storefront/internal/products"
	"github.com/tidecrate/storefront/pkg/db/models"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
)

// Line is a priced cart row.
type Line struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	ProductSlug string          `json:"product_slug"`
	Variant     string          `json:"variant"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Available   bool            `json:"available"`
}

// View is a user's cart with its running total. Unavailable lines are listed
// but do not count towards the total.
type View struct {
	Items []Line          `json:"items"`
	Total decimal.Decimal `json:"total"`
}

// Price turns stored cart rows into priced lines. Products must be preloaded.
func Price(items []models.CartItem) (View, error) {
	view := View{Items: make([]Line, 0, len(items)), Total: decimal.Zero}
	for _, item := range items {
		if item.Product == nil {
			return View{}, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("cart item %s has no product loaded", item.ID))
		}
		line := Line{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.Product.Name,
			ProductSlug: item.Product.Slug,
			Variant:     item.Variant,
			Quantity:    item.Quantity,
			Available:   item.Product.IsAvailable,
			UnitPrice:   decimal.Zero,
			Subtotal:    decimal.Zero,
		}
		unit, err := products.UnitPrice(*item.Product, item.Variant)
		if err == nil {
			line.UnitPrice = unit
			line.Subtotal = unit.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
		} else {
			line.Available = false
		}
		if line.Available {
			view.Total = view.Total.Add(line.Subtotal)
		}
		view.Items = append(view.Items, line)
	}
	return view, nil
}

// Purchasable returns the lines that can be checked out, or an error naming
// the first line that cannot.
func (v View) Purchasable() ([]Line, error) {
	if len(v.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	for _, line := range v.Items {
		if !line.Available {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("%s (%s) is no longer available", line.ProductName, line.Variant)).
				WithDetails(map[string]any{"item_id": line.ID})
		}
	}
	return v.Items, nil
}
