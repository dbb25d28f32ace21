package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/pkg/enums"
)

// OrderCertificate is compliance paperwork stored in the blob store for an order.
type OrderCertificate struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID         uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	CertificateType enums.CertificateType `gorm:"column:certificate_type;not null"`
	FilePath        string                `gorm:"column:file_path;not null"`
	FileName        string                `gorm:"column:file_name;not null"`
	UploadedBy      *uuid.UUID            `gorm:"column:uploaded_by;type:uuid"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
}
