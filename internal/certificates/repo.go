package certificates

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tidecrate/storefront/pkg/db/models"
)

// Repository persists certificate metadata rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	OrderOwner(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderCertificate, error)
	PathsForOrder(ctx context.Context, orderID uuid.UUID) ([]string, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.OrderCertificate, error)
	Create(ctx context.Context, cert *models.OrderCertificate) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a certificate repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) OrderOwner(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Select("id", "user_id").Where("id = ?", orderID).First(&order).Error
	if err != nil {
		return uuid.Nil, err
	}
	return order.UserID, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderCertificate, error) {
	var certs []models.OrderCertificate
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC, id DESC").
		Find(&certs).Error
	if err != nil {
		return nil, err
	}
	return certs, nil
}

func (r *repository) PathsForOrder(ctx context.Context, orderID uuid.UUID) ([]string, error) {
	var paths []string
	err := r.db.WithContext(ctx).
		Model(&models.OrderCertificate{}).
		Where("order_id = ?", orderID).
		Pluck("file_path", &paths).Error
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.OrderCertificate, error) {
	var cert models.OrderCertificate
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&cert).Error; err != nil {
		return nil, err
	}
	return &cert, nil
}

func (r *repository) Create(ctx context.Context, cert *models.OrderCertificate) error {
	return r.db.WithContext(ctx).Create(cert).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.OrderCertificate{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
