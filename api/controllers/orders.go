package controllers

import (
	"net/http"
	"strings"

	"github.com/tidecrate/storefront/api/responses"
	"github.com/tidecrate/storefront/api/validators"
	"github.com/tidecrate/storefront/internal/orders"
	"github.com/tidecrate/storefront/pkg/enums"
	"github.com/tidecrate/storefront/pkg/logger"
)

// Checkout converts the caller's cart into an order. A JSON body places an
// awaiting_payment order. A multipart body carries the same JSON in the
// "order" field plus an optional "receipt" file, and an order placed with a
// receipt starts in payment_review.
func Checkout(svc orders.Service, maxReceiptBytes int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body orders.CheckoutInput
		if validators.IsMultipart(r) {
			file, release, err := validators.OptionalFormFile(w, r, "receipt", maxReceiptBytes)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			defer release()
			if err := validators.DecodeJSONField(r, "order", &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			body.Receipt = file
		} else if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		body.ContactName = validators.SanitizeString(body.ContactName, 120)

		order, err := svc.Checkout(r.Context(), actor.UserID, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// CustomerOrders returns the caller's orders split into current and past.
// ?view=current or ?view=past narrows the response to one list.
func CustomerOrders(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := validators.QueryOneOf(r, "view", "current", "past")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		split, err := svc.ListForUser(r.Context(), actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		switch view {
		case "current":
			responses.WriteSuccess(w, split.Current)
		case "past":
			responses.WriteSuccess(w, split.Past)
		default:
			responses.WriteSuccess(w, split)
		}
	}
}

// OrderDetail returns one order the caller may see.
func OrderDetail(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
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
		order, err := svc.Get(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// OrderReceipt takes a multipart "file" part and moves the order into review.
func OrderReceipt(svc orders.Service, maxBytes int64, logg *logger.Logger) http.HandlerFunc {
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
		file, release, err := validators.FormFile(w, r, "file", maxBytes)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		defer release()

		order, err := svc.UploadReceipt(r.Context(), orders.ReceiptInput{OrderID: orderID, Actor: actor, File: file})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// AdminOrders pages the back-office list, newest first.
func AdminOrders(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.ParseQuery(r, "status", enums.ParseOrderStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := orders.AdminListInput{Limit: limit, Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")), Status: status}

		page, err := svc.AdminList(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func AdminDashboard(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dash, err := svc.Dashboard(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dash)
	}
}

// AdminOrderAction runs one fixed lifecycle action (approve, reject, ...).
func AdminOrderAction(svc orders.Service, action enums.OrderAction, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transition(w, r, svc, action, "", logg)
	}
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// AdminOrderStatus is the manual override to any enumerated status.
func AdminOrderStatus(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body setStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transition(w, r, svc, enums.OrderActionSetStatus, enums.OrderStatus(strings.TrimSpace(body.Status)), logg)
	}
}

func AdminOrderDelete(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transition(w, r, svc, enums.OrderActionDelete, "", logg)
	}
}

func transition(w http.ResponseWriter, r *http.Request, svc orders.Service, action enums.OrderAction, target enums.OrderStatus, logg *logger.Logger) {
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
	order, err := svc.Transition(r.Context(), orders.TransitionInput{
		OrderID: orderID,
		Action:  action,
		Target:  target,
		Actor:   actor,
	})
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	if order == nil {
		responses.WriteSuccess(w, map[string]string{"status": "deleted", "order_id": orderID.String()})
		return
	}
	responses.WriteSuccess(w, order)
}
