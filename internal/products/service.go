// Package products manages the seafood catalogue: listing, admin CRUD,
// weight-variant pricing and product images.
package products

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tidecrate/storefront/internal/changefeed"
	"github.com/tidecrate/storefront/internal/media"
	"github.com/tidecrate/storefront/pkg/db"
	"github.com/tidecrate/storefront/pkg/db/models"
	"github.com/tidecrate/storefront/pkg/enums"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
	"github.com/tidecrate/storefront/pkg/logger"
	"github.com/tidecrate/storefront/pkg/storage/s3"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Uploader is the slice of media.Service product images need.
type Uploader interface {
	Save(ctx context.Context, kind media.Kind, key string, file media.File) (*media.Stored, error)
	Compensate(ctx context.Context, key string, write func() error) error
	Remove(ctx context.Context, key string) error
	PublicURL(key string) string
}

// Service exposes catalogue operations.
type Service interface {
	ListAvailable(ctx context.Context) ([]ProductDTO, error)
	GetBySlug(ctx context.Context, slug string) (*ProductDTO, error)
	ListAll(ctx context.Context) ([]ProductDTO, error)
	Create(ctx context.Context, input ProductInput) (*ProductDTO, error)
	Update(ctx context.Context, id uuid.UUID, input ProductInput) (*ProductDTO, error)
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) (*ProductDTO, error)
	Delete(ctx context.Context, id uuid.UUID) error
	UploadImage(ctx context.Context, id uuid.UUID, file media.File) (*ProductDTO, error)
	Quote(ctx context.Context, productID uuid.UUID, variant string) (decimal.Decimal, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	media  Uploader
	feed   changefeed.Notifier
	logg   *logger.Logger
	public bool
	now    func() time.Time
}

// ServiceParams bundles the product service dependencies. PublicImages exposes
// product images through the bucket's public URL.
type ServiceParams struct {
	Repo         Repository
	Tx           txRunner
	Media        Uploader
	Feed         changefeed.Notifier
	Logger       *logger.Logger
	PublicImages bool
}

// NewService builds the product service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Media == nil {
		return nil, fmt.Errorf("media uploader required")
	}
	if params.Feed == nil {
		return nil, fmt.Errorf("change notifier required")
	}
	return &service{
		repo:   params.Repo,
		tx:     params.Tx,
		media:  params.Media,
		feed:   params.Feed,
		logg:   params.Logger,
		public: params.PublicImages,
		now:    time.Now,
	}, nil
}

func (s *service) ListAvailable(ctx context.Context) ([]ProductDTO, error) {
	return s.list(ctx, true)
}

func (s *service) ListAll(ctx context.Context) ([]ProductDTO, error) {
	return s.list(ctx, false)
}

func (s *service) list(ctx context.Context, onlyAvailable bool) ([]ProductDTO, error) {
	rows, err := s.repo.List(ctx, onlyAvailable)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}
	out := make([]ProductDTO, 0, len(rows))
	for _, p := range rows {
		out = append(out, toDTO(p, s.imageURL))
	}
	return out, nil
}

// GetBySlug hides unavailable products from customers.
func (s *service) GetBySlug(ctx context.Context, slug string) (*ProductDTO, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "slug required")
	}
	product, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		return nil, notFoundOr(err, "load product")
	}
	if !product.IsAvailable {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	dto := toDTO(*product, s.imageURL)
	return &dto, nil
}

func (s *service) Create(ctx context.Context, input ProductInput) (*ProductDTO, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	base := Slugify(input.Name)
	if base == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name must contain letters or digits")
	}

	product := models.Product{
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		MinWeightKg: input.MinWeightKg,
		MaxWeightKg: input.MaxWeightKg,
		PricePerKg:  input.PricePerKg.Round(2),
		IsAvailable: true,
	}
	if input.IsAvailable != nil {
		product.IsAvailable = *input.IsAvailable
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.SlugsLike(ctx, base)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check slug")
		}
		taken := make(map[string]bool, len(existing))
		for _, slug := range existing {
			taken[slug] = true
		}
		product.Slug = nextSlug(base, taken)
		if err := repo.Create(ctx, &product); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "product slug already taken")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create product")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, product.ID, enums.ChangeInsert)
	dto := toDTO(product, s.imageURL)
	return &dto, nil
}

// Update keeps the slug stable so shared links survive renames.
func (s *service) Update(ctx context.Context, id uuid.UUID, input ProductInput) (*ProductDTO, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	updates := map[string]any{
		"name":          strings.TrimSpace(input.Name),
		"description":   input.Description,
		"min_weight_kg": input.MinWeightKg,
		"max_weight_kg": input.MaxWeightKg,
		"price_per_kg":  input.PricePerKg.Round(2),
	}
	if input.IsAvailable != nil {
		updates["is_available"] = *input.IsAvailable
	}
	return s.update(ctx, id, updates)
}

func (s *service) SetAvailability(ctx context.Context, id uuid.UUID, available bool) (*ProductDTO, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	return s.update(ctx, id, map[string]any{"is_available": available})
}

func (s *service) update(ctx context.Context, id uuid.UUID, updates map[string]any) (*ProductDTO, error) {
	if err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, notFoundOr(err, "update product")
	}
	s.notify(ctx, id, enums.ChangeUpdate)
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "reload product")
	}
	dto := toDTO(*product, s.imageURL)
	return &dto, nil
}

// Delete removes the product row and then its image. Past order items keep
// their name snapshot; cart lines referencing the product go with it.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return notFoundOr(err, "load product")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return notFoundOr(err, "delete product")
	}
	if product.ImagePath != nil && *product.ImagePath != "" {
		if err := s.media.Remove(ctx, *product.ImagePath); err != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "image_path", *product.ImagePath), "orphaned product image")
		}
	}
	s.notify(ctx, id, enums.ChangeDelete)
	return nil
}

// UploadImage stores a new image and points the product at it. The previous
// image is removed only after the row update commits.
func (s *service) UploadImage(ctx context.Context, id uuid.UUID, file media.File) (*ProductDTO, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "load product")
	}

	key := s3.ProductImageKey(id, file.Name, s.now().UTC())
	stored, err := s.media.Save(ctx, media.KindProductImage, key, file)
	if err != nil {
		return nil, err
	}
	err = s.media.Compensate(ctx, stored.Key, func() error {
		if err := s.repo.Update(ctx, id, map[string]any{"image_path": stored.Key}); err != nil {
			return notFoundOr(err, "attach product image")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if product.ImagePath != nil && *product.ImagePath != "" && *product.ImagePath != stored.Key {
		_ = s.media.Remove(ctx, *product.ImagePath)
	}
	s.notify(ctx, id, enums.ChangeUpdate)

	product.ImagePath = &stored.Key
	dto := toDTO(*product, s.imageURL)
	return &dto, nil
}

// Quote prices one unit of variant for an available product.
func (s *service) Quote(ctx context.Context, productID uuid.UUID, variant string) (decimal.Decimal, error) {
	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		return decimal.Zero, notFoundOr(err, "load product")
	}
	if !product.IsAvailable {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("%s is not available", product.Name))
	}
	return UnitPrice(*product, variant)
}

func (s *service) imageURL(key string) string {
	if !s.public {
		return ""
	}
	return s.media.PublicURL(key)
}

func (s *service) notify(ctx context.Context, id uuid.UUID, op enums.ChangeOp) {
	_ = s.feed.Publish(ctx, changefeed.Change{Table: enums.ChangeTableProducts, Op: op, RowID: id})
}

func validateInput(input ProductInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "name required")
	}
	if !input.MinWeightKg.IsPositive() || !input.MaxWeightKg.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "weights must be positive")
	}
	if input.MinWeightKg.GreaterThan(input.MaxWeightKg) {
		return pkgerrors.New(pkgerrors.CodeValidation, "min_weight_kg cannot exceed max_weight_kg")
	}
	if !input.PricePerKg.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "price_per_kg must be positive")
	}
	return nil
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
