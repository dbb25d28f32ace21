package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/api/responses"
	"github.com/tidecrate/storefront/api/validators"
	"github.com/tidecrate/storefront/internal/lifecycle"
	"github.com/tidecrate/storefront/internal/orders"
	"github.com/tidecrate/storefront/internal/shipments"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
	"github.com/tidecrate/storefront/pkg/logger"
)

// orderReader is the ownership check shared by order-scoped reads.
type orderReader interface {
	Get(ctx context.Context, actor lifecycle.Actor, orderID uuid.UUID) (*orders.OrderDTO, error)
}

// OrderStages lists an order's shipment stages in stage order.
func OrderStages(svc shipments.Service, ordersSvc orderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := ordersSvc.Get(r.Context(), actor, orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stages, err := svc.List(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, shipments.ToDTOs(stages))
	}
}

// AdminStagesProvision creates the stage rows for an order that has none.
func AdminStagesProvision(svc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stages, err := svc.ProvisionOrder(r.Context(), shipments.ProvisionInput{OrderID: orderID, ActorID: actor.UserID})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, shipments.ToDTOs(stages))
	}
}

// AdminStagesAdvance applies the whole advance plan in one transaction.
func AdminStagesAdvance(svc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body shipments.AdvanceRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Advance(r.Context(), shipments.AdvanceInput{
			OrderID:     orderID,
			StageNumber: body.StageNumber,
			ActorID:     actor.UserID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, shipments.AdvanceResultDTO{Plan: result.Plan, Stages: shipments.ToDTOs(result.Stages)})
	}
}

// AdminStagePatch edits one stage.
func AdminStagePatch(svc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stageID, err := validators.ParseUUIDParam(r, "stageId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body shipments.PatchRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.Status == nil && body.AdminNotes == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "status or admin_notes is required"))
			return
		}
		if body.Status != nil && !body.Status.IsValid() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid stage status"))
			return
		}
		if body.AdminNotes != nil {
			notes := validators.SanitizeString(*body.AdminNotes, 2000)
			body.AdminNotes = &notes
		}

		stage, err := svc.Patch(r.Context(), shipments.PatchInput{
			StageID:    stageID,
			Status:     body.Status,
			AdminNotes: body.AdminNotes,
			ActorID:    actor.UserID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, shipments.ToDTO(*stage))
	}
}
