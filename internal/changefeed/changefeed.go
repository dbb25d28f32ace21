// Package changefeed publishes "something changed" signals over Redis pub/sub.
// Payloads never carry row contents; subscribers refetch from the row store.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/tidecrate/storefront/pkg/enums"
	"github.com/tidecrate/storefront/pkg/logger"
)

// Filter columns rows are announced under.
const (
	ColumnUserID  = "user_id"
	ColumnOrderID = "order_id"
)

// Change is a single notification.
type Change struct {
	Table  enums.ChangeTable `json:"table"`
	Op     enums.ChangeOp    `json:"op"`
	RowID  uuid.UUID         `json:"row_id"`
	Filter map[string]string `json:"filter,omitempty"`
	At     time.Time         `json:"at"`
}

// Topic scopes a subscription to a table and optionally a column=value filter.
type Topic struct {
	Table  enums.ChangeTable `json:"table"`
	Column string            `json:"column,omitempty"`
	Value  string            `json:"value,omitempty"`
}

// Validate rejects topics that cannot map onto a channel.
func (t Topic) Validate() error {
	if t.Table == "" {
		return errors.New("topic table required")
	}
	if (t.Column == "") != (t.Value == "") {
		return errors.New("topic filter needs both column and value")
	}
	if strings.ContainsAny(t.Column+t.Value, ":= ") {
		return fmt.Errorf("invalid topic filter %s=%s", t.Column, t.Value)
	}
	return nil
}

// Channel renders the Redis channel name under prefix.
func (t Topic) Channel(prefix string) string {
	base := fmt.Sprintf("%s:%s", prefix, t.Table)
	if t.Column == "" {
		return base
	}
	return fmt.Sprintf("%s:%s=%s", base, t.Column, t.Value)
}

// OrderTopic watches one customer's orders.
func OrderTopic(userID uuid.UUID) Topic {
	return Topic{Table: enums.ChangeTableOrders, Column: ColumnUserID, Value: userID.String()}
}

// OrderScopedTopic watches rows of table belonging to one order.
func OrderScopedTopic(table enums.ChangeTable, orderID uuid.UUID) Topic {
	return Topic{Table: table, Column: ColumnOrderID, Value: orderID.String()}
}

// Broker is the pub/sub primitive the feed rides on.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error)
}

// Notifier is what write paths depend on.
type Notifier interface {
	Publish(ctx context.Context, change Change) error
}

// Publisher fans a change out to the table channel and one channel per filter.
type Publisher struct {
	broker Broker
	prefix string
	logg   *logger.Logger
	now    func() time.Time
}

func NewPublisher(broker Broker, prefix string, logg *logger.Logger) (*Publisher, error) {
	if broker == nil {
		return nil, errors.New("changefeed broker required")
	}
	if prefix == "" {
		return nil, errors.New("changefeed channel prefix required")
	}
	return &Publisher{broker: broker, prefix: prefix, logg: logg, now: time.Now}, nil
}

// Publish announces change. Every channel is attempted even if one fails.
func (p *Publisher) Publish(ctx context.Context, change Change) error {
	if change.Table == "" {
		return errors.New("change table required")
	}
	if change.At.IsZero() {
		change.At = p.now().UTC()
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}

	var errs error
	for _, channel := range channelsFor(p.prefix, change) {
		if err := p.broker.Publish(ctx, channel, payload); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("publish %s: %w", channel, err))
		}
	}
	if errs != nil && p.logg != nil {
		logCtx := p.logg.WithFields(ctx, map[string]any{
			"table":  change.Table,
			"op":     change.Op,
			"row_id": change.RowID.String(),
		})
		p.logg.Error(logCtx, "changefeed publish failed", errs)
	}
	return errs
}

func channelsFor(prefix string, change Change) []string {
	channels := []string{Topic{Table: change.Table}.Channel(prefix)}
	columns := make([]string, 0, len(change.Filter))
	for column := range change.Filter {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	for _, column := range columns {
		topic := Topic{Table: change.Table, Column: column, Value: change.Filter[column]}
		if topic.Validate() != nil {
			continue
		}
		channels = append(channels, topic.Channel(prefix))
	}
	return channels
}

// Subscriber turns broker messages back into Change values.
type Subscriber struct {
	broker Broker
	prefix string
	logg   *logger.Logger
}

func NewSubscriber(broker Broker, prefix string, logg *logger.Logger) (*Subscriber, error) {
	if broker == nil {
		return nil, errors.New("changefeed broker required")
	}
	if prefix == "" {
		return nil, errors.New("changefeed channel prefix required")
	}
	return &Subscriber{broker: broker, prefix: prefix, logg: logg}, nil
}

// Subscribe streams changes for topic until stop is called or ctx ends.
// Undecodable messages still surface as a bare change on the topic table since
// the only contract is that something changed.
func (s *Subscriber) Subscribe(ctx context.Context, topic Topic) (<-chan Change, func(), error) {
	if err := topic.Validate(); err != nil {
		return nil, nil, err
	}
	raw, closeRaw, err := s.broker.Subscribe(ctx, topic.Channel(s.prefix))
	if err != nil {
		return nil, nil, err
	}

	out := make(chan Change, 16)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			if err := closeRaw(); err != nil && s.logg != nil {
				s.logg.Warn(ctx, fmt.Sprintf("changefeed unsubscribe: %v", err))
			}
		})
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				change := decode(msg, topic)
				select {
				case out <- change:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, stop, nil
}

func decode(msg string, topic Topic) Change {
	var change Change
	if err := json.Unmarshal([]byte(msg), &change); err != nil || change.Table == "" {
		return Change{Table: topic.Table, Op: enums.ChangeUpdate}
	}
	return change
}
