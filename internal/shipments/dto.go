package shipments

import (
	"time"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/pkg/db/models"
	"github.com/tidecrate/storefront/pkg/enums"
)

// StageDTO is a shipment stage as returned over HTTP.
type StageDTO struct {
	ID          uuid.UUID                 `json:"id"`
	OrderID     uuid.UUID                 `json:"order_id"`
	StageNumber int                       `json:"stage_number"`
	Name        string                    `json:"name"`
	Description *string                   `json:"description,omitempty"`
	Location    *string                   `json:"location,omitempty"`
	Status      enums.ShipmentStageStatus `json:"status"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
	AdminNotes  *string                   `json:"admin_notes,omitempty"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// State is the planner view of the stage.
func (d StageDTO) State() StageState {
	return StageState{ID: d.ID, StageNumber: d.StageNumber, Status: d.Status}
}

// AdvanceResultDTO is the response of the transactional advance endpoint.
type AdvanceResultDTO struct {
	Plan   []Update   `json:"plan"`
	Stages []StageDTO `json:"stages"`
}

// ToDTO maps a stage row, with its definition preloaded, onto the transport shape.
func ToDTO(stage models.ShipmentStage) StageDTO {
	dto := StageDTO{
		ID:          stage.ID,
		OrderID:     stage.OrderID,
		StageNumber: stage.StageNumber,
		Status:      stage.Status,
		StartedAt:   stage.StartedAt,
		CompletedAt: stage.CompletedAt,
		AdminNotes:  stage.AdminNotes,
		UpdatedAt:   stage.UpdatedAt,
	}
	if stage.Definition != nil {
		dto.Name = stage.Definition.Name
		dto.Description = stage.Definition.Description
		dto.Location = stage.Definition.Location
	}
	return dto
}

// ToDTOs maps a stage list.
func ToDTOs(stages []models.ShipmentStage) []StageDTO {
	out := make([]StageDTO, 0, len(stages))
	for _, stage := range stages {
		out = append(out, ToDTO(stage))
	}
	return out
}

// PatchRequest is the body of the single-stage PATCH.
type PatchRequest struct {
	Status     *enums.ShipmentStageStatus `json:"status,omitempty"`
	AdminNotes *string                    `json:"admin_notes,omitempty" validate:"omitempty,max=2000"`
}

// AdvanceRequest is the body of the transactional advance endpoint.
type AdvanceRequest struct {
	StageNumber int `json:"stage_number" validate:"min=0"`
}
