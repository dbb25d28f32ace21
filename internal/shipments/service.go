// Package shipments provisions and advances the per-order logistics stages.
package shipments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tidecrate/storefront/internal/changefeed"
	"github.com/tidecrate/storefront/pkg/db/models"
	"github.com/tidecrate/storefront/pkg/enums"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
	"github.com/tidecrate/storefront/pkg/logger"
	"github.com/tidecrate/storefront/pkg/metrics"
	"github.com/tidecrate/storefront/pkg/outbox"
	"github.com/tidecrate/storefront/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the shipment-stage operations used by the HTTP layer and by
// the order lifecycle when an order is confirmed.
type Service interface {
	List(ctx context.Context, orderID uuid.UUID) ([]models.ShipmentStage, error)
	Provision(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int, error)
	ProvisionOrder(ctx context.Context, input ProvisionInput) ([]models.ShipmentStage, error)
	Advance(ctx context.Context, input AdvanceInput) (*AdvanceResult, error)
	Patch(ctx context.Context, input PatchInput) (*models.ShipmentStage, error)
}

// ProvisionInput asks for stage rows on an order that has none yet.
type ProvisionInput struct {
	OrderID uuid.UUID
	ActorID uuid.UUID
}

// AdvanceInput is the "click stage N" batch.
type AdvanceInput struct {
	OrderID     uuid.UUID
	StageNumber int
	ActorID     uuid.UUID
}

// AdvanceResult carries the applied plan and the resulting stage list.
type AdvanceResult struct {
	Plan   []Update
	Stages []models.ShipmentStage
}

// PatchInput edits a single stage. Nil fields are left alone. Multi-stage
// moves go through Advance.
type PatchInput struct {
	StageID    uuid.UUID
	Status     *enums.ShipmentStageStatus
	AdminNotes *string
	ActorID    uuid.UUID
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outbox.Emitter
	feed    changefeed.Notifier
	metrics *metrics.LifecycleMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds the shipment service. metrics may be nil.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, feed changefeed.Notifier, m *metrics.LifecycleMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("shipments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if feed == nil {
		return nil, fmt.Errorf("change notifier required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		outbox:  emitter,
		feed:    feed,
		metrics: m,
		logg:    logg,
		now:     time.Now,
	}, nil
}

func (s *service) List(ctx context.Context, orderID uuid.UUID) ([]models.ShipmentStage, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	stages, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shipment stages")
	}
	return stages, nil
}

// Provision creates one pending stage per definition inside tx. Orders that
// already have stages are left untouched and 0 is returned.
func (s *service) Provision(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int, error) {
	repo := s.repo.WithTx(tx)
	existing, err := repo.ListByOrder(ctx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment stages")
	}
	if len(existing) > 0 {
		return 0, nil
	}
	defs, err := repo.ListDefinitions(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stage definitions")
	}
	if len(defs) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "no shipment stage definitions configured")
	}
	stages := make([]models.ShipmentStage, 0, len(defs))
	for _, def := range defs {
		stages = append(stages, models.ShipmentStage{
			OrderID:           orderID,
			StageDefinitionID: def.ID,
			StageNumber:       def.StageNumber,
			Status:            enums.ShipmentStagePending,
		})
	}
	if err := repo.CreateStages(ctx, stages); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create shipment stages")
	}
	return len(stages), nil
}

func (s *service) ProvisionOrder(ctx context.Context, input ProvisionInput) ([]models.ShipmentStage, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var ref *OrderRef
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		ref, err = s.loadOrder(ctx, s.repo.WithTx(tx), input.OrderID)
		if err != nil {
			return err
		}
		if !ref.Status.PaymentCleared() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order in status %s is not shippable", ref.Status))
		}
		created, err := s.Provision(ctx, tx, input.OrderID)
		if err != nil || created == 0 {
			return err
		}
		return s.emit(ctx, tx, ref, input.ActorID, nil, 0)
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, ref)
	return s.List(ctx, input.OrderID)
}

func (s *service) Advance(ctx context.Context, input AdvanceInput) (*AdvanceResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var (
		ref  *OrderRef
		plan []Update
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		ref, err = s.loadOrder(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		stages, err := repo.ListByOrder(ctx, input.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment stages")
		}
		if len(stages) == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no shipment stages")
		}
		plan, err = PlanAdvance(states(stages), input.StageNumber)
		if err != nil || len(plan) == 0 {
			return err
		}

		now := s.now().UTC()
		byID := indexByID(stages)
		for _, u := range plan {
			stage := byID[u.StageID]
			stamps := Timestamps{StartedAt: stage.StartedAt, CompletedAt: stage.CompletedAt}.Stamp(u.To, now)
			if err := repo.UpdateStage(ctx, u.StageID, stageUpdates(u.To, stamps, input.ActorID)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipment stage")
			}
		}
		if err := repo.SetLogisticsStage(ctx, input.OrderID, input.StageNumber); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update logistics stage")
		}
		return s.emit(ctx, tx, ref, input.ActorID, plan, input.StageNumber)
	})
	if err != nil {
		return nil, err
	}

	if len(plan) > 0 {
		s.observe(plan)
		s.notify(ctx, ref)
	}
	stages, err := s.List(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	return &AdvanceResult{Plan: plan, Stages: stages}, nil
}

// Patch changes one stage. A status change that would break the
// completed-prefix shape of the order's stages is refused.
func (s *service) Patch(ctx context.Context, input PatchInput) (*models.ShipmentStage, error) {
	if input.StageID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stage id required")
	}
	if input.Status == nil && input.AdminNotes == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update")
	}
	if input.Status != nil && !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid stage status %q", *input.Status))
	}

	var (
		ref     *OrderRef
		changed *Update
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		stage, err := repo.FindByID(ctx, input.StageID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shipment stage not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment stage")
		}
		ref, err = s.loadOrder(ctx, repo, stage.OrderID)
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if input.ActorID != uuid.Nil {
			updates["updated_by"] = input.ActorID
		}
		if input.AdminNotes != nil {
			updates["admin_notes"] = *input.AdminNotes
		}
		if input.Status != nil && *input.Status != stage.Status {
			siblings, err := repo.ListByOrder(ctx, stage.OrderID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment stages")
			}
			u := Update{StageID: stage.ID, StageNumber: stage.StageNumber, From: stage.Status, To: *input.Status}
			after := Apply(states(siblings), []Update{u})
			if !IsMonotonicPrefix(after) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "stages must be completed in order").
					WithDetails(map[string]any{"stage_number": stage.StageNumber, "status": u.To})
			}
			current := CurrentStage(after)
			stamps := Timestamps{StartedAt: stage.StartedAt, CompletedAt: stage.CompletedAt}.Stamp(u.To, s.now().UTC())
			for k, v := range stageUpdates(u.To, stamps, input.ActorID) {
				updates[k] = v
			}
			if err := repo.SetLogisticsStage(ctx, stage.OrderID, current); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update logistics stage")
			}
			changed = &u
		}
		if len(updates) == 0 {
			return nil
		}
		if err := repo.UpdateStage(ctx, stage.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipment stage")
		}
		if changed == nil {
			return nil
		}
		return s.emit(ctx, tx, ref, input.ActorID, []Update{*changed}, changed.StageNumber)
	})
	if err != nil {
		return nil, err
	}

	if changed != nil {
		s.observe([]Update{*changed})
	}
	s.notify(ctx, ref)

	stage, err := s.repo.FindByID(ctx, input.StageID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload shipment stage")
	}
	return stage, nil
}

func (s *service) loadOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*OrderRef, error) {
	ref, err := repo.FindOrderRef(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return ref, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, ref *OrderRef, actorID uuid.UUID, plan []Update, current int) error {
	changedStages := make([]int, 0, len(plan))
	for _, u := range plan {
		changedStages = append(changedStages, u.StageNumber)
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventShipmentStagesUpdated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   ref.ID,
		Actor:         &outbox.ActorRef{UserID: actorID, Role: enums.AppRoleAdmin},
		Data: payloads.ShipmentStagesUpdatedEvent{
			OrderID:      ref.ID,
			CurrentStage: current,
			Changed:      changedStages,
		},
	})
}

// notify runs after commit; a lost notification only delays a refetch.
func (s *service) notify(ctx context.Context, ref *OrderRef) {
	if ref == nil {
		return
	}
	_ = s.feed.Publish(ctx, changefeed.Change{
		Table:  enums.ChangeTableStages,
		Op:     enums.ChangeUpdate,
		RowID:  ref.ID,
		Filter: map[string]string{changefeed.ColumnOrderID: ref.ID.String()},
	})
	_ = s.feed.Publish(ctx, changefeed.Change{
		Table:  enums.ChangeTableOrders,
		Op:     enums.ChangeUpdate,
		RowID:  ref.ID,
		Filter: map[string]string{changefeed.ColumnUserID: ref.UserID.String()},
	})
}

func (s *service) observe(plan []Update) {
	counts := map[enums.ShipmentStageStatus]int{}
	for _, u := range plan {
		counts[u.To]++
	}
	for status, n := range counts {
		s.metrics.AddStageUpdates(status.String(), n)
	}
}

func stageUpdates(to enums.ShipmentStageStatus, stamps Timestamps, actorID uuid.UUID) map[string]any {
	updates := map[string]any{
		"status":       to,
		"started_at":   stamps.StartedAt,
		"completed_at": stamps.CompletedAt,
	}
	if actorID != uuid.Nil {
		updates["updated_by"] = actorID
	}
	return updates
}

func states(stages []models.ShipmentStage) []StageState {
	out := make([]StageState, 0, len(stages))
	for _, stage := range stages {
		out = append(out, StageState{ID: stage.ID, StageNumber: stage.StageNumber, Status: stage.Status})
	}
	return out
}

func indexByID(stages []models.ShipmentStage) map[uuid.UUID]models.ShipmentStage {
	out := make(map[uuid.UUID]models.ShipmentStage, len(stages))
	for _, stage := range stages {
		out[stage.ID] = stage
	}
	return out
}
