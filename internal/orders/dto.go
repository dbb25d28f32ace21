package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tidecrate/storefront/internal/media"
	"github.com/tidecrate/storefront/internal/projections"
	"github.com/tidecrate/storefront/pkg/db/models"
	"github.com/tidecrate/storefront/pkg/enums"
)

// CheckoutInput carries the delivery details captured at checkout.
type CheckoutInput struct {
	DeliveryAddress      string     `json:"delivery_address" validate:"required,min=5,max=500"`
	ContactName          string     `json:"contact_name" validate:"required,max=120"`
	ContactPhone         string     `json:"contact_phone" validate:"required,phone"`
	Comments             *string    `json:"comments,omitempty" validate:"omitempty,max=1000"`
	LocationNotes        *string    `json:"location_notes,omitempty" validate:"omitempty,max=500"`
	PreferredTime        *string    `json:"preferred_time,omitempty" validate:"omitempty,max=64"`
	ExpectedDeliveryDate *time.Time `json:"expected_delivery_date,omitempty"`

	// Receipt, when set, is stored with the order, which then starts in
	// payment_review instead of awaiting_payment.
	Receipt *media.File `json:"-"`
}

// ItemDTO is an immutable order line.
type ItemDTO struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   *uuid.UUID      `json:"product_id,omitempty"`
	ProductName string          `json:"product_name"`
	Variant     string          `json:"variant"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// OrderDTO is the order as returned to customers and admins.
type OrderDTO struct {
	ID                   uuid.UUID           `json:"id"`
	OrderNumber          *string             `json:"order_number,omitempty"`
	UserID               uuid.UUID           `json:"user_id"`
	Status               enums.OrderStatus   `json:"status"`
	TotalAmount          decimal.Decimal     `json:"total_amount"`
	DeliveryAddress      string              `json:"delivery_address"`
	ContactName          string              `json:"contact_name"`
	ContactPhone         string              `json:"contact_phone"`
	Comments             *string             `json:"comments,omitempty"`
	LocationNotes        *string             `json:"location_notes,omitempty"`
	PreferredTime        *string             `json:"preferred_time,omitempty"`
	ExpectedDeliveryDate *time.Time          `json:"expected_delivery_date,omitempty"`
	HasReceipt           bool                `json:"has_receipt"`
	ReceiptURL           *string             `json:"receipt_url,omitempty"`
	LogisticsStage       *int                `json:"logistics_stage,omitempty"`
	AllowedActions       []enums.OrderAction `json:"allowed_actions"`
	Items                []ItemDTO           `json:"items"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// View projects the DTO onto the read-projection input.
func (o OrderDTO) View() projections.OrderView {
	return projections.OrderView{ID: o.ID, UserID: o.UserID, Status: o.Status, TotalAmount: o.TotalAmount, CreatedAt: o.CreatedAt}
}

// CustomerOrders is the portal split of a customer's orders.
type CustomerOrders struct {
	Current []OrderDTO `json:"current"`
	Past    []OrderDTO `json:"past"`
}

// AdminListInput filters and pages the back-office list.
type AdminListInput struct {
	Status *enums.OrderStatus
	Limit  int
	Cursor string
}

// AdminList is one page of the back-office list.
type AdminList struct {
	Orders     []OrderDTO `json:"orders"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

func toDTO(o models.Order) OrderDTO {
	dto := OrderDTO{
		ID:                   o.ID,
		OrderNumber:          o.OrderNumber,
		UserID:               o.UserID,
		Status:               o.Status,
		TotalAmount:          o.TotalAmount,
		DeliveryAddress:      o.DeliveryAddress,
		ContactName:          o.ContactName,
		ContactPhone:         o.ContactPhone,
		Comments:             o.Comments,
		LocationNotes:        o.LocationNotes,
		PreferredTime:        o.PreferredTime,
		ExpectedDeliveryDate: o.ExpectedDeliveryDate,
		HasReceipt:           o.HasReceipt(),
		LogisticsStage:       o.LogisticsStage,
		Items:                make([]ItemDTO, 0, len(o.Items)),
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}
	for _, item := range o.Items {
		dto.Items = append(dto.Items, ItemDTO{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Variant:     item.Variant,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		})
	}
	return dto
}

func toView(o models.Order) projections.OrderView {
	return projections.OrderView{ID: o.ID, UserID: o.UserID, Status: o.Status, TotalAmount: o.TotalAmount, CreatedAt: o.CreatedAt}
}
