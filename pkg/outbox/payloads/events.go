package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tidecrate/storefront/pkg/enums"
)

// OrderCreatedEvent is emitted when checkout turns a cart into an order.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	UserID      uuid.UUID       `json:"user_id"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	ItemCount   int               `json:"item_count"`
	Status      enums.OrderStatus `json:"status"`
}

// OrderStatusChangedEvent records one lifecycle transition.
type OrderStatusChangedEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	UserID  uuid.UUID         `json:"user_id"`
	Action  enums.OrderAction `json:"action"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
}

// OrderDeletedEvent records the irreversible removal of an order.
type OrderDeletedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	UserID     uuid.UUID         `json:"user_id"`
	LastStatus enums.OrderStatus `json:"last_status"`
}

// ReceiptUploadedEvent tells the back office a payment is waiting for review.
type ReceiptUploadedEvent struct {
	OrderID  uuid.UUID `json:"order_id"`
	UserID   uuid.UUID `json:"user_id"`
	FilePath string    `json:"file_path"`
}

// ShipmentStagesUpdatedEvent summarises a stage batch.
type ShipmentStagesUpdatedEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	CurrentStage int       `json:"current_stage"`
	Changed      []int     `json:"changed_stages"`
}

// CertificateUploadedEvent announces new compliance paperwork for an order.
type CertificateUploadedEvent struct {
	OrderID         uuid.UUID             `json:"order_id"`
	CertificateID   uuid.UUID             `json:"certificate_id"`
	CertificateType enums.CertificateType `json:"certificate_type"`
	UploadedAt      time.Time             `json:"uploaded_at"`
}
