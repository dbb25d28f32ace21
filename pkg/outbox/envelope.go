package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/pkg/enums"
)

// EnvelopeVersion is bumped whenever a field changes meaning. Consumers reject
// versions they do not know instead of guessing.
const EnvelopeVersion = 1

var ErrEmptyPayload = errors.New("envelope has no data")

// ActorRef is whoever caused the event: the customer at checkout, the admin
// driving the lifecycle.
type ActorRef struct {
	UserID uuid.UUID     `json:"user_id"`
	Role   enums.AppRole `json:"role,omitempty"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and shipped
// verbatim as the Pub/Sub message body, so it repeats the event type and
// aggregate for consumers that only see the message.
type PayloadEnvelope struct {
	Version       int                       `json:"version"`
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type,omitempty"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type,omitempty"`
	AggregateID   uuid.UUID                 `json:"aggregate_id,omitzero"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Actor         *ActorRef                 `json:"actor,omitempty"`
	Data          json.RawMessage           `json:"data"`
}

// DecodeEnvelope parses raw and checks the version and that data is present.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version != EnvelopeVersion {
		return PayloadEnvelope{}, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, ErrEmptyPayload
	}
	return env, nil
}
