package shipments

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/pkg/enums"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
)

// StageState is the part of a stage the planner reasons about.
type StageState struct {
	ID          uuid.UUID
	StageNumber int
	Status      enums.ShipmentStageStatus
}

// Update moves one stage to a new status.
type Update struct {
	StageID     uuid.UUID                 `json:"stage_id"`
	StageNumber int                       `json:"stage_number"`
	From        enums.ShipmentStageStatus `json:"from"`
	To          enums.ShipmentStageStatus `json:"to"`
}

// PlanAdvance computes the writes that make stages 1..clicked completed and the
// rest pending. Stages already in their target status are left out, so an
// empty plan means nothing needs writing. clicked == 0 retracts every stage.
func PlanAdvance(stages []StageState, clicked int) ([]Update, error) {
	if clicked < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stage number must not be negative")
	}
	if clicked > 0 && !containsStage(stages, clicked) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("order has no shipment stage %d", clicked))
	}

	ordered := sortedByNumber(stages)
	plan := []Update{}
	for _, stage := range ordered {
		target := TargetStatus(stage.StageNumber, clicked)
		if stage.Status == target {
			continue
		}
		plan = append(plan, Update{
			StageID:     stage.ID,
			StageNumber: stage.StageNumber,
			From:        stage.Status,
			To:          target,
		})
	}
	return plan, nil
}

// TargetStatus is the status stageNumber ends in when stage clicked is advanced to.
func TargetStatus(stageNumber, clicked int) enums.ShipmentStageStatus {
	if stageNumber <= clicked {
		return enums.ShipmentStageCompleted
	}
	return enums.ShipmentStagePending
}

// Apply returns a copy of stages with plan applied. The input is not modified.
func Apply(stages []StageState, plan []Update) []StageState {
	targets := make(map[uuid.UUID]enums.ShipmentStageStatus, len(plan))
	for _, u := range plan {
		targets[u.StageID] = u.To
	}
	out := make([]StageState, len(stages))
	for i, stage := range stages {
		if to, ok := targets[stage.ID]; ok {
			stage.Status = to
		}
		out[i] = stage
	}
	return out
}

// IsMonotonicPrefix reports whether the stages, read in stage order, look like
// completed* in_progress? pending*.
func IsMonotonicPrefix(stages []StageState) bool {
	phase := 0
	for _, stage := range sortedByNumber(stages) {
		var rank int
		switch stage.Status {
		case enums.ShipmentStageCompleted:
			rank = 0
		case enums.ShipmentStageInProgress:
			rank = 1
		case enums.ShipmentStagePending:
			rank = 2
		default:
			return false
		}
		if rank < phase {
			return false
		}
		if rank == 1 && phase == 1 {
			return false
		}
		phase = rank
	}
	return true
}

// CurrentStage is the highest completed stage number of a monotonic list, or 0.
func CurrentStage(stages []StageState) int {
	current := 0
	for _, stage := range stages {
		if stage.Status == enums.ShipmentStageCompleted && stage.StageNumber > current {
			current = stage.StageNumber
		}
	}
	return current
}

// Timestamps are the time columns a status change touches.
type Timestamps struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Stamp returns the timestamps after moving to status at now. Completing sets
// completed_at and fills started_at if it was never set; retracting to pending
// clears both.
func (t Timestamps) Stamp(to enums.ShipmentStageStatus, now time.Time) Timestamps {
	switch to {
	case enums.ShipmentStageCompleted:
		started := t.StartedAt
		if started == nil {
			started = &now
		}
		return Timestamps{StartedAt: started, CompletedAt: &now}
	case enums.ShipmentStageInProgress:
		started := t.StartedAt
		if started == nil {
			started = &now
		}
		return Timestamps{StartedAt: started}
	default:
		return Timestamps{}
	}
}

func containsStage(stages []StageState, number int) bool {
	for _, stage := range stages {
		if stage.StageNumber == number {
			return true
		}
	}
	return false
}

func sortedByNumber(stages []StageState) []StageState {
	out := make([]StageState, len(stages))
	copy(out, stages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StageNumber < out[j].StageNumber })
	return out
}
