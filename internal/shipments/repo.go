package shipments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tidecrate/storefront/pkg/db/models"
	"github.com/tidecrate/storefront/pkg/enums"
)

// OrderRef is the slice of an order the shipment service needs.
type OrderRef struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Status enums.OrderStatus
}

// Repository defines persistence for shipment stages and their definitions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrderRef(ctx context.Context, orderID uuid.UUID) (*OrderRef, error)
	ListDefinitions(ctx context.Context) ([]models.ShipmentStageDefinition, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.ShipmentStage, error)
	FindByID(ctx context.Context, stageID uuid.UUID) (*models.ShipmentStage, error)
	CreateStages(ctx context.Context, stages []models.ShipmentStage) error
	UpdateStage(ctx context.Context, stageID uuid.UUID, updates map[string]any) error
	SetLogisticsStage(ctx context.Context, orderID uuid.UUID, stage int) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a shipments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindOrderRef(ctx context.Context, orderID uuid.UUID) (*OrderRef, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Select("id", "user_id", "status").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &OrderRef{ID: order.ID, UserID: order.UserID, Status: order.Status}, nil
}

func (r *repository) ListDefinitions(ctx context.Context) ([]models.ShipmentStageDefinition, error) {
	var defs []models.ShipmentStageDefinition
	err := r.db.WithContext(ctx).
		Order("stage_number ASC").
		Find(&defs).Error
	if err != nil {
		return nil, err
	}
	return defs, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.ShipmentStage, error) {
	var stages []models.ShipmentStage
	err := r.db.WithContext(ctx).
		Preload("Definition").
		Where("order_id = ?", orderID).
		Order("stage_number ASC").
		Find(&stages).Error
	if err != nil {
		return nil, err
	}
	return stages, nil
}

func (r *repository) FindByID(ctx context.Context, stageID uuid.UUID) (*models.ShipmentStage, error) {
	var stage models.ShipmentStage
	err := r.db.WithContext(ctx).
		Preload("Definition").
		Where("id = ?", stageID).
		First(&stage).Error
	if err != nil {
		return nil, err
	}
	return &stage, nil
}

func (r *repository) CreateStages(ctx context.Context, stages []models.ShipmentStage) error {
	if len(stages) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Omit("Definition").Create(&stages).Error
}

func (r *repository) UpdateStage(ctx context.Context, stageID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.ShipmentStage{}).
		Where("id = ?", stageID).
		Updates(updates).Error
}

func (r *repository) SetLogisticsStage(ctx context.Context, orderID uuid.UUID, stage int) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("logistics_stage", stage).Error
}
