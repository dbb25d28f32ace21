package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/api/responses"
	"github.com/tidecrate/storefront/internal/changefeed"
	"github.com/tidecrate/storefront/internal/lifecycle"
	"github.com/tidecrate/storefront/pkg/enums"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
	"github.com/tidecrate/storefront/pkg/logger"
)

const changeKeepAlive = 25 * time.Second

// ChangeSubscriber is satisfied by *changefeed.Subscriber.
type ChangeSubscriber interface {
	Subscribe(ctx context.Context, topic changefeed.Topic) (<-chan changefeed.Change, func(), error)
}

// Changes streams change notifications as server-sent events. The topic comes
// from ?table=&column=&value=. Customers may only watch their own orders and
// cart, or rows scoped to an order they own.
func Changes(sub ChangeSubscriber, ordersSvc orderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		q := r.URL.Query()
		topic := changefeed.Topic{
			Table:  enums.ChangeTable(strings.TrimSpace(q.Get("table"))),
			Column: strings.TrimSpace(q.Get("column")),
			Value:  strings.TrimSpace(q.Get("value")),
		}
		if err := authorizeTopic(r.Context(), actor, topic, ordersSvc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		changes, stop, err := sub.Subscribe(r.Context(), topic)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe to changes"))
			return
		}
		defer stop()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(changeKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case change, ok := <-changes:
				if !ok {
					return
				}
				payload, err := json.Marshal(change)
				if err != nil {
					logg.Error(r.Context(), "encode change event", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func authorizeTopic(ctx context.Context, actor lifecycle.Actor, topic changefeed.Topic, ordersSvc orderReader) error {
	if err := topic.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid change topic")
	}
	switch topic.Table {
	case enums.ChangeTableProducts:
		return nil
	case enums.ChangeTableOrders, enums.ChangeTableCart:
		if actor.IsAdmin() {
			return nil
		}
		if topic.Column != changefeed.ColumnUserID || topic.Value != actor.UserID.String() {
			return pkgerrors.New(pkgerrors.CodeForbidden, "customers may only watch their own rows")
		}
		return nil
	case enums.ChangeTableStages, enums.ChangeTableCertificates:
		if actor.IsAdmin() && topic.Column == "" {
			return nil
		}
		if topic.Column != changefeed.ColumnOrderID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order-scoped tables must be filtered by order_id")
		}
		orderID, err := uuid.Parse(topic.Value)
		if err != nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "order_id filter must be a uuid")
		}
		_, err = ordersSvc.Get(ctx, actor, orderID)
		return err
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown change table").WithDetails(map[string]any{"table": topic.Table})
	}
}
