package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/internal/orders"
	"github.com/tidecrate/storefront/internal/projections"
	"github.com/tidecrate/storefront/pkg/enums"
	"github.com/tidecrate/storefront/pkg/querycache"
)

const allOrdersPageSize = 100

// Checkout turns the cart into an awaiting_payment order. idempotencyKey makes
// a retried submission return the first order instead of creating another;
// pass "" to let the client generate one.
func (c *Client) Checkout(ctx context.Context, input orders.CheckoutInput, idempotencyKey string) (*orders.OrderDTO, error) {
	return c.checkout(ctx, input, nil, idempotencyKey)
}

// CheckoutWithReceipt places the order together with its payment receipt, so
// it starts in payment_review.
func (c *Client) CheckoutWithReceipt(ctx context.Context, input orders.CheckoutInput, receipt File, idempotencyKey string) (*orders.OrderDTO, error) {
	return c.checkout(ctx, input, &receipt, idempotencyKey)
}

func (c *Client) checkout(ctx context.Context, input orders.CheckoutInput, receipt *File, idempotencyKey string) (*orders.OrderDTO, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.DeliveryAddress) == "" || strings.TrimSpace(input.ContactName) == "" || strings.TrimSpace(input.ContactPhone) == "" {
		return nil, validation("delivery address, contact name and contact phone are required")
	}
	if receipt != nil {
		if err := receipt.check(MaxCertificateBytes); err != nil {
			return nil, err
		}
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	input.Receipt = nil

	req := c.request(ctx).SetHeader("Idempotency-Key", idempotencyKey)
	if receipt == nil {
		req.SetHeader("Content-Type", "application/json").SetBody(input)
	} else {
		encoded, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("encode checkout: %w", err)
		}
		req.SetMultipartFormData(map[string]string{"order": string(encoded)}).
			SetFileReader("receipt", receipt.Name, receipt.reader())
	}
	var out orders.OrderDTO
	if err := c.send(req, http.MethodPost, "/api/v1/orders", &out); err != nil {
		return nil, err
	}
	c.cache.InvalidatePrefix(querycache.PrefixOrders)
	c.cache.InvalidatePrefix(querycache.PrefixCart)
	return &out, nil
}

// MyOrders returns the signed-in customer's orders split into current and past.
func (c *Client) MyOrders(ctx context.Context) (orders.CustomerOrders, error) {
	if err := c.requireUser(); err != nil {
		return orders.CustomerOrders{}, err
	}
	return querycache.Fetch(ctx, c.cache, querycache.OrdersForUser(c.session.UserID()), func(ctx context.Context) (orders.CustomerOrders, error) {
		var out orders.CustomerOrders
		if err := c.do(ctx, http.MethodGet, "/api/v1/orders", nil, &out); err != nil {
			return orders.CustomerOrders{}, err
		}
		return out, nil
	})
}

// Order fetches one order. Admins read through the back-office route.
func (c *Client) Order(ctx context.Context, orderID uuid.UUID) (*orders.OrderDTO, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	path := "/api/v1/orders/" + orderID.String()
	if c.session.IsAdmin() {
		path = "/api/admin/v1/orders/" + orderID.String()
	}
	out, err := querycache.Fetch(ctx, c.cache, querycache.Order(orderID), func(ctx context.Context) (orders.OrderDTO, error) {
		var dto orders.OrderDTO
		if err := c.do(ctx, http.MethodGet, path, nil, &dto); err != nil {
			return orders.OrderDTO{}, err
		}
		return dto, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AdminOrders returns one page of the back-office list. Pages are not cached.
func (c *Client) AdminOrders(ctx context.Context, input orders.AdminListInput) (*orders.AdminList, error) {
	req := c.request(ctx)
	if input.Status != nil {
		if !input.Status.IsValid() {
			return nil, validation(fmt.Sprintf("invalid status filter %q", *input.Status))
		}
		req.SetQueryParam("status", input.Status.String())
	}
	if input.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(input.Limit))
	}
	if input.Cursor != "" {
		req.SetQueryParam("cursor", input.Cursor)
	}
	var out orders.AdminList
	if err := c.send(req, http.MethodGet, "/api/admin/v1/orders", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AllOrders walks every page of the back-office list, newest first.
func (c *Client) AllOrders(ctx context.Context) ([]orders.OrderDTO, error) {
	return querycache.Fetch(ctx, c.cache, querycache.AllOrders, func(ctx context.Context) ([]orders.OrderDTO, error) {
		out := []orders.OrderDTO{}
		cursor := ""
		for {
			page, err := c.AdminOrders(ctx, orders.AdminListInput{Limit: allOrdersPageSize, Cursor: cursor})
			if err != nil {
				return nil, err
			}
			out = append(out, page.Orders...)
			if page.NextCursor == "" {
				return out, nil
			}
			cursor = page.NextCursor
		}
	})
}

// Dashboard summarizes AllOrders locally.
func (c *Client) Dashboard(ctx context.Context) (projections.Dashboard, error) {
	all, err := c.AllOrders(ctx)
	if err != nil {
		return projections.Dashboard{}, err
	}
	views := make([]projections.OrderView, 0, len(all))
	for _, o := range all {
		views = append(views, o.View())
	}
	return projections.Summarize(views), nil
}

// Approve confirms an order whose receipt has been reviewed.
func (c *Client) Approve(ctx context.Context, orderID uuid.UUID) (*orders.OrderDTO, error) {
	return c.orderAction(ctx, orderID, enums.OrderActionApprove)
}

// Reject sends the customer back to upload another receipt.
func (c *Client) Reject(ctx context.Context, orderID uuid.UUID) (*orders.OrderDTO, error) {
	return c.orderAction(ctx, orderID, enums.OrderActionReject)
}

// Complete closes a delivered order.
func (c *Client) Complete(ctx context.Context, orderID uuid.UUID) (*orders.OrderDTO, error) {
	return c.orderAction(ctx, orderID, enums.OrderActionComplete)
}

// Cancel cancels a non-terminal order.
func (c *Client) Cancel(ctx context.Context, orderID uuid.UUID) (*orders.OrderDTO, error) {
	return c.orderAction(ctx, orderID, enums.OrderActionCancel)
}

// SetStatus forces an order into any enumerated status.
func (c *Client) SetStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (*orders.OrderDTO, error) {
	if !status.IsValid() {
		return nil, validation(fmt.Sprintf("invalid target status %q", status))
	}
	var out orders.OrderDTO
	err := c.mutateOrder(ctx, orderID, func() error {
		body := map[string]enums.OrderStatus{"status": status}
		return c.do(ctx, http.MethodPut, "/api/admin/v1/orders/"+orderID.String()+"/status", body, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteOrder removes an order with its receipt and certificates.
func (c *Client) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	return c.mutateOrder(ctx, orderID, func() error {
		return c.do(ctx, http.MethodDelete, "/api/admin/v1/orders/"+orderID.String(), nil, nil)
	})
}

// UploadReceipt attaches a payment receipt and moves the order into review.
func (c *Client) UploadReceipt(ctx context.Context, orderID uuid.UUID, file File) (*orders.OrderDTO, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	if err := file.check(MaxCertificateBytes); err != nil {
		return nil, err
	}
	var out orders.OrderDTO
	err := c.mutateOrder(ctx, orderID, func() error {
		req := c.request(ctx).SetFileReader("file", file.Name, file.reader())
		return c.send(req, http.MethodPost, "/api/v1/orders/"+orderID.String()+"/receipt", &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) orderAction(ctx context.Context, orderID uuid.UUID, action enums.OrderAction) (*orders.OrderDTO, error) {
	var out orders.OrderDTO
	err := c.mutateOrder(ctx, orderID, func() error {
		return c.do(ctx, http.MethodPost, "/api/admin/v1/orders/"+orderID.String()+"/"+action.String(), nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// mutateOrder runs a single remote write with no optimistic phase. Order
// caches are invalidated only when it succeeds.
func (c *Client) mutateOrder(ctx context.Context, orderID uuid.UUID, write func() error) error {
	if orderID == uuid.Nil {
		return validation("order id required")
	}
	release, err := c.guard.Acquire("status:" + orderID.String())
	if err != nil {
		return err
	}
	defer release()
	if err := write(); err != nil {
		return err
	}
	c.cache.InvalidatePrefix(querycache.PrefixOrders)
	return nil
}
