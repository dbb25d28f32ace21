// Package lifecycle decides which order status transitions an actor may request.
package lifecycle

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tidecrate/storefront/pkg/enums"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
)

// Actor identifies who is asking for a transition.
type Actor struct {
	UserID uuid.UUID
	Role   enums.AppRole
}

// IsAdmin reports whether the actor holds the back-office role.
func (a Actor) IsAdmin() bool {
	return a.Role == enums.AppRoleAdmin
}

// Request describes a single transition attempt against the current order state.
type Request struct {
	Action     enums.OrderAction
	Current    enums.OrderStatus
	Target     enums.OrderStatus
	HasReceipt bool
	OwnerID    uuid.UUID
	Actor      Actor
}

// Decision is the outcome of an allowed transition. Remove means the order row
// is deleted instead of moving to Next.
type Decision struct {
	Next   enums.OrderStatus
	Remove bool
}

// Evaluate validates the request and returns the resulting state. It never
// touches storage.
func Evaluate(req Request) (Decision, error) {
	if !req.Action.IsValid() {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order action %q", req.Action))
	}
	if !req.Current.IsValid() {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("order has unknown status %q", req.Current))
	}
	if req.Action == enums.OrderActionSetStatus && !req.Target.IsValid() {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid target status %q", req.Target)).
			WithDetails(map[string]any{"allowed": enums.OrderStatuses()})
	}
	if err := authorize(req); err != nil {
		return Decision{}, err
	}

	switch req.Action {
	case enums.OrderActionApprove:
		if !req.Current.InPaymentReview() {
			return Decision{}, disallowed(req)
		}
		if !req.HasReceipt {
			return Decision{}, pkgerrors.New(pkgerrors.CodeStateConflict, "payment receipt required before approval")
		}
		return Decision{Next: enums.OrderStatusConfirmed}, nil
	case enums.OrderActionReject:
		if !req.Current.InPaymentReview() {
			return Decision{}, disallowed(req)
		}
		return Decision{Next: enums.OrderStatusRejected}, nil
	case enums.OrderActionSetStatus:
		// manual override: any enumerated value from any state
		return Decision{Next: req.Target}, nil
	case enums.OrderActionComplete:
		if req.Current != enums.OrderStatusDelivered {
			return Decision{}, disallowed(req)
		}
		return Decision{Next: enums.OrderStatusCompleted}, nil
	case enums.OrderActionCancel:
		if req.Current.IsTerminal() {
			return Decision{}, disallowed(req)
		}
		return Decision{Next: enums.OrderStatusCancelled}, nil
	case enums.OrderActionDelete:
		if req.Current.IsTerminal() {
			return Decision{}, disallowed(req)
		}
		return Decision{Next: req.Current, Remove: true}, nil
	case enums.OrderActionUploadReceipt:
		if req.Current != enums.OrderStatusAwaitingPayment && req.Current != enums.OrderStatusRejected {
			return Decision{}, disallowed(req)
		}
		return Decision{Next: enums.OrderStatusPaymentReview}, nil
	}
	return Decision{}, pkgerrors.New(pkgerrors.CodeInternal, "unhandled order action")
}

// AllowedActions lists the actions an actor with role may request on an order in
// status. isOwner only matters for customer actions.
func AllowedActions(status enums.OrderStatus, role enums.AppRole, isOwner bool) []enums.OrderAction {
	actor := Actor{Role: role}
	owner := uuid.Nil
	if isOwner {
		actor.UserID = uuid.New()
		owner = actor.UserID
	}
	out := []enums.OrderAction{}
	for _, action := range []enums.OrderAction{
		enums.OrderActionApprove,
		enums.OrderActionReject,
		enums.OrderActionComplete,
		enums.OrderActionCancel,
		enums.OrderActionDelete,
		enums.OrderActionSetStatus,
		enums.OrderActionUploadReceipt,
	} {
		req := Request{
			Action:     action,
			Current:    status,
			Target:     status,
			HasReceipt: true,
			OwnerID:    owner,
			Actor:      actor,
		}
		if _, err := Evaluate(req); err == nil {
			out = append(out, action)
		}
	}
	return out
}

func authorize(req Request) error {
	if req.Action.AdminOnly() {
		if !req.Actor.IsAdmin() {
			return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("%s requires the admin role", req.Action))
		}
		return nil
	}
	if req.Actor.IsAdmin() {
		return nil
	}
	if req.Actor.UserID == uuid.Nil || req.Actor.UserID != req.OwnerID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the order owner may upload a receipt")
	}
	return nil
}

func disallowed(req Request) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot %s an order in status %s", req.Action, req.Current)).
		WithDetails(map[string]any{"action": req.Action, "status": req.Current})
}
