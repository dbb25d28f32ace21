package storefront

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidecrate/storefront/internal/cart"
	"github.com/tidecrate/storefront/internal/changefeed"
	"github.com/tidecrate/storefront/internal/shipments"
	"github.com/tidecrate/storefront/pkg/enums"
	"github.com/tidecrate/storefront/pkg/querycache"
)

type chanSource struct {
	ch    chan changefeed.Change
	topic changefeed.Topic
}

func (s *chanSource) Subscribe(ctx context.Context, topic changefeed.Topic) (<-chan changefeed.Change, func(), error) {
	s.topic = topic
	return s.ch, func() {}, nil
}

func cartInput(productID uuid.UUID, variant string, qty int) cart.AddItemInput {
	return cart.AddItemInput{ProductID: productID, Variant: variant, Quantity: qty}
}

func TestBridgeRefetchesOnChange(t *testing.T) {
	orderID := uuid.New()
	var gets int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/orders/{id}/stages", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&gets, 1)
		writeData(w, http.StatusOK, []shipments.StageDTO{{ID: uuid.New(), OrderID: orderID, StageNumber: 1, Status: enums.ShipmentStageCompleted}})
	})
	c := newTestClient(t, mux)
	signedIn(t, c, enums.AppRoleCustomer)

	_, err := c.Stages(context.Background(), orderID)
	require.NoError(t, err)

	src := &chanSource{ch: make(chan changefeed.Change, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Bridge(src).WatchStages(ctx, orderID) }()

	// the payload is ignored, only the signal matters
	src.ch <- changefeed.Change{Table: enums.ChangeTableStages, Op: enums.ChangeDelete}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&gets) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, c.cache.IsStale(querycache.StagesForOrder(orderID)))
	assert.Equal(t, changefeed.ColumnOrderID, src.topic.Column)

	cancel()
	require.NoError(t, <-done)
}

func TestBridgeStopsWhenSourceCloses(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())
	src := &chanSource{ch: make(chan changefeed.Change)}
	close(src.ch)
	err := c.Bridge(src).Watch(context.Background(), changefeed.Topic{Table: enums.ChangeTableOrders}, querycache.AllOrders, func(context.Context) error { return nil })
	assert.NoError(t, err)
}
