// Package cart keeps each customer's basket of (product, variant) lines.
package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tidecrate/storefront/internal/changefeed"
	"github.com/tidecrate/storefront/internal/products"
	"github.com/tidecrate/storefront/pkg/db"
	"github.com/tidecrate/storefront/pkg/db/models"
	"github.com/tidecrate/storefront/pkg/enums"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
	"github.com/tidecrate/storefront/pkg/logger"
)

// MaxLineQuantity caps a single cart line.
const MaxLineQuantity = 99

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// AddItemInput adds quantity units of a product variant.
type AddItemInput struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Variant   string    `json:"variant" validate:"required,max=16,weight"`
	Quantity  int       `json:"quantity" validate:"required,min=1,max=99"`
}

// Service exposes cart operations.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*View, error)
	AddItem(ctx context.Context, userID uuid.UUID, input AddItemInput) (*View, error)
	SetQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*View, error)
	RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*View, error)
	Clear(ctx context.Context, userID uuid.UUID) error
}

type service struct {
	repo     Repository
	tx       txRunner
	products productLoader
	feed     changefeed.Notifier
	logg     *logger.Logger
}

// NewService builds a cart service.
func NewService(repo Repository, tx txRunner, productRepo productLoader, feed changefeed.Notifier, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if productRepo == nil {
		return nil, fmt.Errorf("product loader required")
	}
	if feed == nil {
		return nil, fmt.Errorf("change notifier required")
	}
	return &service{repo: repo, tx: tx, products: productRepo, feed: feed, logg: logg}, nil
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*View, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	items, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	view, err := Price(items)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// AddItem merges into an existing (product, variant) line by adding to its
// quantity; otherwise a new line is created.
func (s *service) AddItem(ctx context.Context, userID uuid.UUID, input AddItemInput) (*View, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	variant, err := products.NormalizeVariant(input.Variant)
	if err != nil {
		return nil, err
	}

	product, err := s.products.FindByID(ctx, input.ProductID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if !product.IsAvailable {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("%s is not available", product.Name))
	}
	if _, err := products.UnitPrice(*product, variant); err != nil {
		return nil, err
	}

	var op enums.ChangeOp
	var rowID uuid.UUID
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindLine(ctx, userID, input.ProductID, variant)
		switch {
		case err == nil:
			added, err := repo.AddQuantity(ctx, existing.ID, input.Quantity, MaxLineQuantity)
			if err != nil {
				return wrapWrite(err, "update cart item")
			}
			if !added {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d units per line", MaxLineQuantity))
			}
			op, rowID = enums.ChangeUpdate, existing.ID
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			if input.Quantity > MaxLineQuantity {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d units per line", MaxLineQuantity))
			}
			item := models.CartItem{UserID: userID, ProductID: input.ProductID, Variant: variant, Quantity: input.Quantity}
			if err := repo.Create(ctx, &item); err != nil {
				if db.IsUniqueViolation(err, "") {
					return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "cart line was added concurrently")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart item")
			}
			op, rowID = enums.ChangeInsert, item.ID
			return nil
		default:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
		}
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, userID, rowID, op)
	return s.Get(ctx, userID)
}

// SetQuantity overwrites a line's quantity. Zero removes the line.
func (s *service) SetQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*View, error) {
	if quantity < 0 || quantity > MaxLineQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be between 0 and %d", MaxLineQuantity))
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, userID, itemID)
	}
	if _, err := s.repo.FindItem(ctx, userID, itemID); err != nil {
		return nil, notFoundOr(err, "load cart item")
	}
	if err := s.repo.SetQuantity(ctx, itemID, quantity); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
	}
	s.notify(ctx, userID, itemID, enums.ChangeUpdate)
	return s.Get(ctx, userID)
}

func (s *service) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*View, error) {
	if err := s.repo.Delete(ctx, userID, itemID); err != nil {
		return nil, notFoundOr(err, "delete cart item")
	}
	s.notify(ctx, userID, itemID, enums.ChangeDelete)
	return s.Get(ctx, userID)
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) error {
	n, err := s.repo.Clear(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	if n > 0 {
		s.notify(ctx, userID, uuid.Nil, enums.ChangeDelete)
	}
	return nil
}

func (s *service) notify(ctx context.Context, userID, rowID uuid.UUID, op enums.ChangeOp) {
	_ = s.feed.Publish(ctx, changefeed.Change{
		Table:  enums.ChangeTableCart,
		Op:     op,
		RowID:  rowID,
		Filter: map[string]string{changefeed.ColumnUserID: userID.String()},
	})
}

func wrapWrite(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
