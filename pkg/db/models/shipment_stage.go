package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/pkg/enums"
)

// ShipmentStageDefinition is a catalogue entry describing one logistics checkpoint.
type ShipmentStageDefinition struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	StageNumber int       `gorm:"column:stage_number;not null;uniqueIndex"`
	Name        string    `gorm:"column:name;not null"`
	Description *string   `gorm:"column:description"`
	Location    *string   `gorm:"column:location"`
}

// ShipmentStage tracks one checkpoint of one order.
type ShipmentStage struct {
	ID                uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID                 `gorm:"column:order_id;type:uuid;not null"`
	StageDefinitionID uuid.UUID                 `gorm:"column:stage_definition_id;type:uuid;not null"`
	StageNumber       int                       `gorm:"column:stage_number;not null"`
	Status            enums.ShipmentStageStatus `gorm:"column:status;type:shipment_stage_status;not null;default:'pending'"`
	StartedAt         *time.Time                `gorm:"column:started_at"`
	CompletedAt       *time.Time                `gorm:"column:completed_at"`
	AdminNotes        *string                   `gorm:"column:admin_notes"`
	UpdatedBy         *uuid.UUID                `gorm:"column:updated_by;type:uuid"`
	Definition        *ShipmentStageDefinition  `gorm:"foreignKey:StageDefinitionID"`
	CreatedAt         time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
