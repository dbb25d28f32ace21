package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tidecrate/storefront/pkg/enums"
)

// Order is a customer purchase moving through the payment and shipping lifecycle.
type Order struct {
	ID                   uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber          *string           `gorm:"column:order_number"`
	UserID               uuid.UUID         `gorm:"column:user_id;type:uuid;not null"`
	TotalAmount          decimal.Decimal   `gorm:"column:total_amount;type:numeric(12,2);not null"`
	DeliveryAddress      string            `gorm:"column:delivery_address;not null"`
	ContactName          string            `gorm:"column:contact_name;not null"`
	ContactPhone         string            `gorm:"column:contact_phone;not null"`
	Comments             *string           `gorm:"column:comments"`
	LocationNotes        *string           `gorm:"column:location_notes"`
	PreferredTime        *string           `gorm:"column:preferred_time"`
	ExpectedDeliveryDate *time.Time        `gorm:"column:expected_delivery_date;type:date"`
	PaymentReceiptPath   *string           `gorm:"column:payment_receipt_path"`
	Status               enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'awaiting_payment'"`
	LogisticsStage       *int              `gorm:"column:logistics_stage"`
	Items                []OrderItem       `gorm:"foreignKey:OrderID"`
	CreatedAt            time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// HasReceipt reports whether a payment receipt was uploaded.
func (o Order) HasReceipt() bool {
	return o.PaymentReceiptPath != nil && *o.PaymentReceiptPath != ""
}

// OrderItem is an immutable snapshot of a purchased line.
type OrderItem struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID       `gorm:"column:order_id;type:uuid;not null"`
	ProductID   *uuid.UUID      `gorm:"column:product_id;type:uuid"`
	ProductName string          `gorm:"column:product_name;not null"`
	Variant     string          `gorm:"column:variant;not null"`
	Quantity    int             `gorm:"column:quantity;not null"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Subtotal    decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}
