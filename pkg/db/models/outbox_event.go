package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/pkg/enums"
)

// OutboxEvent is a domain event queued in the same transaction as the change
// that produced it. The publisher sets PublishedAt once Pub/Sub acks the
// message; rows it gives up on keep PublishedAt nil with AttemptCount at the
// configured ceiling.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// NextAttemptExhausts reports whether one more failure would reach maxAttempts.
func (e OutboxEvent) NextAttemptExhausts(maxAttempts int) bool {
	return e.AttemptCount+1 >= maxAttempts
}
