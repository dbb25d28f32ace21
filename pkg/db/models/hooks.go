package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Identifiers are assigned client side so rows inserted in one transaction can
// reference each other before commit.

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (u *User) BeforeCreate(*gorm.DB) error                    { ensureID(&u.ID); return nil }
func (r *UserRole) BeforeCreate(*gorm.DB) error                { ensureID(&r.ID); return nil }
func (p *Product) BeforeCreate(*gorm.DB) error                 { ensureID(&p.ID); return nil }
func (c *CartItem) BeforeCreate(*gorm.DB) error                { ensureID(&c.ID); return nil }
func (o *Order) BeforeCreate(*gorm.DB) error                   { ensureID(&o.ID); return nil }
func (i *OrderItem) BeforeCreate(*gorm.DB) error               { ensureID(&i.ID); return nil }
func (c *OrderCertificate) BeforeCreate(*gorm.DB) error        { ensureID(&c.ID); return nil }
func (d *ShipmentStageDefinition) BeforeCreate(*gorm.DB) error { ensureID(&d.ID); return nil }
func (s *ShipmentStage) BeforeCreate(*gorm.DB) error           { ensureID(&s.ID); return nil }
func (e *OutboxEvent) BeforeCreate(*gorm.DB) error             { ensureID(&e.ID); return nil }
