package storefront

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/internal/changefeed"
	"github.com/tidecrate/storefront/pkg/enums"
	"github.com/tidecrate/storefront/pkg/querycache"
)

// ChangeSource delivers change notifications for a topic.
// *changefeed.Subscriber and *ChangeStream both satisfy it.
type ChangeSource interface {
	Subscribe(ctx context.Context, topic changefeed.Topic) (<-chan changefeed.Change, func(), error)
}

// Bridge turns change notifications into cache invalidation plus a refetch.
// Payload contents are never trusted; the store is always re-read.
type Bridge struct {
	client *Client
	source ChangeSource
}

// Bridge builds a bridge over source.
func (c *Client) Bridge(source ChangeSource) *Bridge {
	return &Bridge{client: c, source: source}
}

// Watch blocks until ctx ends or the source closes. Each change marks key
// stale and runs refetch; refetch errors are logged and the watch goes on.
func (b *Bridge) Watch(ctx context.Context, topic changefeed.Topic, key querycache.Key, refetch func(context.Context) error) error {
	if b.source == nil {
		return errors.New("change source required")
	}
	changes, stop, err := b.source.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			b.client.cache.Invalidate(key)
			if err := refetch(ctx); err != nil && ctx.Err() == nil && b.client.logg != nil {
				logCtx := b.client.logg.WithFields(ctx, map[string]any{"table": topic.Table, "key": string(key)})
				b.client.logg.Warn(logCtx, "refetch after change failed: "+err.Error())
			}
		}
	}
}

// WatchMyOrders keeps the signed-in customer's order list current.
func (b *Bridge) WatchMyOrders(ctx context.Context) error {
	userID := b.client.session.UserID()
	if userID == uuid.Nil {
		return b.client.requireUser()
	}
	return b.Watch(ctx, changefeed.OrderTopic(userID), querycache.OrdersForUser(userID), func(ctx context.Context) error {
		_, err := b.client.MyOrders(ctx)
		return err
	})
}

// WatchAllOrders keeps the back-office order list current.
func (b *Bridge) WatchAllOrders(ctx context.Context) error {
	topic := changefeed.Topic{Table: enums.ChangeTableOrders}
	return b.Watch(ctx, topic, querycache.AllOrders, func(ctx context.Context) error {
		_, err := b.client.AllOrders(ctx)
		return err
	})
}

// WatchStages keeps one order's shipment stages current.
func (b *Bridge) WatchStages(ctx context.Context, orderID uuid.UUID) error {
	topic := changefeed.OrderScopedTopic(enums.ChangeTableStages, orderID)
	return b.Watch(ctx, topic, querycache.StagesForOrder(orderID), func(ctx context.Context) error {
		_, err := b.client.Stages(ctx, orderID)
		return err
	})
}

// WatchCertificates keeps one order's certificate list current.
func (b *Bridge) WatchCertificates(ctx context.Context, orderID uuid.UUID) error {
	topic := changefeed.OrderScopedTopic(enums.ChangeTableCertificates, orderID)
	return b.Watch(ctx, topic, querycache.CertificatesForOrder(orderID), func(ctx context.Context) error {
		_, err := b.client.Certificates(ctx, orderID)
		return err
	})
}

// ChangeStream reads the API's server-sent change events.
type ChangeStream struct {
	client *Client
}

// ChangeStream returns a source backed by GET /api/v1/changes.
func (c *Client) ChangeStream() *ChangeStream {
	return &ChangeStream{client: c}
}

// Subscribe opens one event stream for topic.
func (s *ChangeStream) Subscribe(ctx context.Context, topic changefeed.Topic) (<-chan changefeed.Change, func(), error) {
	if err := topic.Validate(); err != nil {
		return nil, nil, validation(err.Error())
	}
	streamCtx, cancel := context.WithCancel(ctx)
	req := s.client.stream.R().
		SetContext(streamCtx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetQueryParam("table", string(topic.Table))
	if topic.Column != "" {
		req.SetQueryParam("column", topic.Column).SetQueryParam("value", topic.Value)
	}
	if token := s.client.session.AccessToken(); token != "" {
		req.SetAuthToken(token)
	}
	resp, err := req.Get("/api/v1/changes")
	if err != nil {
		cancel()
		return nil, nil, &transportError{err: err}
	}
	body := resp.RawBody()
	if resp.IsError() {
		raw, _ := io.ReadAll(body)
		_ = body.Close()
		cancel()
		return nil, nil, decodeError(resp.StatusCode(), raw)
	}

	out := make(chan changefeed.Change, 16)
	go func() {
		defer close(out)
		defer body.Close()
		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var change changefeed.Change
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if err := json.Unmarshal([]byte(payload), &change); err != nil || change.Table == "" {
				change = changefeed.Change{Table: topic.Table, Op: enums.ChangeUpdate}
			}
			select {
			case out <- change:
			case <-streamCtx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}
