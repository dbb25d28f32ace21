package orders

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tidecrate/storefront/internal/cart"
	"github.com/tidecrate/storefront/internal/certificates"
	"github.com/tidecrate/storefront/internal/changefeed"
	"github.com/tidecrate/storefront/internal/lifecycle"
	"github.com/tidecrate/storefront/internal/media"
	"github.com/tidecrate/storefront/internal/shipments"
	"github.com/tidecrate/storefront/internal/testdb"
	"github.com/tidecrate/storefront/pkg/db/models"
	"github.com/tidecrate/storefront/pkg/enums"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
	"github.com/tidecrate/storefront/pkg/outbox"
)

type memBlob struct {
	objects map[string][]byte
}

func (m *memBlob) Put(_ context.Context, key string, body io.Reader, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memBlob) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memBlob) PublicURL(key string) string { return "https://cdn.test/" + key }

func (m *memBlob) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.test/" + key, nil
}

type stubEmitter struct {
	events []outbox.DomainEvent
	err    error
}

func (s *stubEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *stubEmitter) types() []enums.OutboxEventType {
	out := make([]enums.OutboxEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type recordingFeed struct {
	changes []changefeed.Change
}

func (r *recordingFeed) Publish(_ context.Context, change changefeed.Change) error {
	r.changes = append(r.changes, change)
	return nil
}

type fixture struct {
	svc      Service
	db       *gorm.DB
	blob     *memBlob
	emitter  *stubEmitter
	feed     *recordingFeed
	customer lifecycle.Actor
	admin    lifecycle.Actor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client, conn := testdb.Client(t)
	blob := &memBlob{objects: map[string][]byte{}}
	uploads, err := media.NewService(blob, map[media.Kind]int64{
		media.KindReceipt:      10 << 20,
		media.KindCertificate:  10 << 20,
		media.KindProductImage: 1 << 20,
	}, nil, nil)
	require.NoError(t, err)
	emitter := &stubEmitter{}
	feed := &recordingFeed{}
	stageSvc, err := shipments.NewService(shipments.NewRepository(conn), client, emitter, feed, nil, nil)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:         NewRepository(conn),
		Cart:         cart.NewRepository(conn),
		Tx:           client,
		Outbox:       emitter,
		Feed:         feed,
		Stages:       stageSvc,
		Media:        uploads,
		Certificates: certificates.NewRepository(conn),
	})
	require.NoError(t, err)

	user := models.User{Email: uuid.NewString() + "@test.local", PasswordHash: "x"}
	require.NoError(t, conn.Create(&user).Error)

	return fixture{
		svc:      svc,
		db:       conn,
		blob:     blob,
		emitter:  emitter,
		feed:     feed,
		customer: lifecycle.Actor{UserID: user.ID, Role: enums.AppRoleCustomer},
		admin:    lifecycle.Actor{UserID: uuid.New(), Role: enums.AppRoleAdmin},
	}
}

func (f fixture) product(t *testing.T, name, pricePerKg string) models.Product {
	t.Helper()
	p := models.Product{
		Name:        name,
		Slug:        uuid.NewString(),
		MinWeightKg: decimal.RequireFromString("0.5"),
		MaxWeightKg: decimal.RequireFromString("2"),
		PricePerKg:  decimal.RequireFromString(pricePerKg),
		IsAvailable: true,
	}
	require.NoError(t, f.db.Create(&p).Error)
	return p
}

func (f fixture) addToCart(t *testing.T, product models.Product, variant string, qty int) {
	t.Helper()
	item := models.CartItem{UserID: f.customer.UserID, ProductID: product.ID, Variant: variant, Quantity: qty}
	require.NoError(t, f.db.Omit("Product").Create(&item).Error)
}

func delivery() CheckoutInput {
	return CheckoutInput{
		DeliveryAddress: "12 Quay Street, Vigo",
		ContactName:     "Ana Pereira",
		ContactPhone:    "+34600111222",
	}
}

func (f fixture) placeOrder(t *testing.T) *OrderDTO {
	t.Helper()
	f.addToCart(t, f.product(t, "Salmon", "10.00"), "1kg", 3)
	f.addToCart(t, f.product(t, "Tuna", "25.00"), "1kg", 1)
	order, err := f.svc.Checkout(context.Background(), f.customer.UserID, delivery())
	require.NoError(t, err)
	return order
}

func receipt() media.File {
	body := append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 128)...)
	return media.File{Name: "transfer.png", Size: int64(len(body)), Body: bytes.NewReader(body)}
}

func TestCheckoutTotalsSubtotalsAndClearsCart(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)

	assert.Equal(t, enums.OrderStatusAwaitingPayment, order.Status)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("55.00")), "got %s", order.TotalAmount)
	require.Len(t, order.Items, 2)
	sum := decimal.Zero
	for _, item := range order.Items {
		sum = sum.Add(item.Subtotal)
	}
	assert.True(t, sum.Equal(order.TotalAmount))
	assert.Contains(t, order.AllowedActions, enums.OrderActionUploadReceipt)

	var remaining int64
	require.NoError(t, f.db.Model(&models.CartItem{}).Where("user_id = ?", f.customer.UserID).Count(&remaining).Error)
	assert.Zero(t, remaining)
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderCreated}, f.emitter.types())
}

func TestCheckoutRejectsEmptyCartAndMissingDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Checkout(ctx, f.customer.UserID, delivery())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	f.addToCart(t, f.product(t, "Salmon", "10.00"), "1kg", 1)
	_, err = f.svc.Checkout(ctx, f.customer.UserID, CheckoutInput{DeliveryAddress: "somewhere"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	var orders int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)
}

func TestCheckoutRollsBackWhenOutboxFails(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.product(t, "Salmon", "10.00"), "1kg", 2)
	f.emitter.err = errors.New("outbox down")

	_, err := f.svc.Checkout(context.Background(), f.customer.UserID, delivery())
	require.Error(t, err)

	var items int64
	require.NoError(t, f.db.Model(&models.CartItem{}).Where("user_id = ?", f.customer.UserID).Count(&items).Error)
	assert.EqualValues(t, 1, items, "cart must survive a failed checkout")
}

func TestCheckoutWithReceiptStartsInReview(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.product(t, "Salmon", "10.00"), "1kg", 2)
	input := delivery()
	file := receipt()
	input.Receipt = &file

	order, err := f.svc.Checkout(context.Background(), f.customer.UserID, input)
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPaymentReview, order.Status)
	assert.True(t, order.HasReceipt)
	require.Len(t, f.blob.objects, 1)

	var stored models.Order
	require.NoError(t, f.db.First(&stored, "id = ?", order.ID).Error)
	require.NotNil(t, stored.PaymentReceiptPath)
	assert.Contains(t, f.blob.objects, *stored.PaymentReceiptPath)
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderCreated, enums.EventReceiptUploaded}, f.emitter.types())
}

func TestCheckoutWithReceiptRemovesBlobWhenOrderFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := delivery()
	file := receipt()
	input.Receipt = &file

	_, err := f.svc.Checkout(ctx, f.customer.UserID, input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "empty cart")
	assert.Empty(t, f.blob.objects)

	f.addToCart(t, f.product(t, "Salmon", "10.00"), "1kg", 1)
	f.emitter.err = errors.New("outbox down")
	file = receipt()
	input.Receipt = &file
	_, err = f.svc.Checkout(ctx, f.customer.UserID, input)
	require.Error(t, err)
	assert.Empty(t, f.blob.objects)

	var orders int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)
}

func TestApproveRequiresReviewAndReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t)

	_, err := f.svc.Transition(ctx, TransitionInput{OrderID: order.ID, Action: enums.OrderActionApprove, Actor: f.admin})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	reviewed, err := f.svc.UploadReceipt(ctx, ReceiptInput{OrderID: order.ID, Actor: f.customer, File: receipt()})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaymentReview, reviewed.Status)
	assert.True(t, reviewed.HasReceipt)
	require.NotNil(t, reviewed.ReceiptURL)

	_, err = f.svc.Transition(ctx, TransitionInput{OrderID: order.ID, Action: enums.OrderActionApprove, Actor: f.customer})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	confirmed, err := f.svc.Transition(ctx, TransitionInput{OrderID: order.ID, Action: enums.OrderActionApprove, Actor: f.admin})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, confirmed.Status)

	var stages int64
	require.NoError(t, f.db.Model(&models.ShipmentStage{}).Where("order_id = ?", order.ID).Count(&stages).Error)
	assert.EqualValues(t, testdb.StageCount, stages)
}

func TestRejectThenReupload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t)

	_, err := f.svc.UploadReceipt(ctx, ReceiptInput{OrderID: order.ID, Actor: f.customer, File: receipt()})
	require.NoError(t, err)
	rejected, err := f.svc.Transition(ctx, TransitionInput{OrderID: order.ID, Action: enums.OrderActionReject, Actor: f.admin})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRejected, rejected.Status)

	again, err := f.svc.UploadReceipt(ctx, ReceiptInput{OrderID: order.ID, Actor: f.customer, File: receipt()})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaymentReview, again.Status)
	assert.Len(t, f.blob.objects, 1, "the replaced receipt is removed")
}

func TestReceiptUploadCompensatesOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t)
	f.emitter.err = errors.New("outbox down")

	_, err := f.svc.UploadReceipt(ctx, ReceiptInput{OrderID: order.ID, Actor: f.customer, File: receipt()})
	require.Error(t, err)
	assert.Empty(t, f.blob.objects)

	f.emitter.err = nil
	reloaded, err := f.svc.Get(ctx, f.customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusAwaitingPayment, reloaded.Status)
	assert.False(t, reloaded.HasReceipt)
}

func TestReceiptUploadByStrangerIsHidden(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)

	stranger := lifecycle.Actor{UserID: uuid.New(), Role: enums.AppRoleCustomer}
	_, err := f.svc.UploadReceipt(context.Background(), ReceiptInput{OrderID: order.ID, Actor: stranger, File: receipt()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Empty(t, f.blob.objects)

	_, err = f.svc.Get(context.Background(), stranger, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSetStatusOverridesAndValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t)

	_, err := f.svc.Transition(ctx, TransitionInput{OrderID: order.ID, Action: enums.OrderActionSetStatus, Target: "lost_at_sea", Actor: f.admin})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	shipped, err := f.svc.Transition(ctx, TransitionInput{OrderID: order.ID, Action: enums.OrderActionSetStatus, Target: enums.OrderStatusShipped, Actor: f.admin})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, shipped.Status)

	_, err = f.svc.Transition(ctx, TransitionInput{OrderID: order.ID, Action: enums.OrderActionComplete, Actor: f.admin})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestDeleteRemovesOrderAndFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t)
	_, err := f.svc.UploadReceipt(ctx, ReceiptInput{OrderID: order.ID, Actor: f.customer, File: receipt()})
	require.NoError(t, err)

	deleted, err := f.svc.Transition(ctx, TransitionInput{OrderID: order.ID, Action: enums.OrderActionDelete, Actor: f.admin})
	require.NoError(t, err)
	assert.Nil(t, deleted)
	assert.Empty(t, f.blob.objects)

	_, err = f.svc.Get(ctx, f.admin, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Contains(t, f.emitter.types(), enums.EventOrderDeleted)

	last := f.feed.changes[len(f.feed.changes)-1]
	assert.Equal(t, enums.ChangeDelete, last.Op)
	assert.Equal(t, order.ID, last.RowID)
}

func TestListForUserSplitsCurrentAndPast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.placeOrder(t)
	closed := f.placeOrder(t)

	_, err := f.svc.Transition(ctx, TransitionInput{OrderID: closed.ID, Action: enums.OrderActionCancel, Actor: f.admin})
	require.NoError(t, err)

	list, err := f.svc.ListForUser(ctx, f.customer.UserID)
	require.NoError(t, err)
	require.Len(t, list.Current, 1)
	require.Len(t, list.Past, 1)
	assert.Equal(t, open.ID, list.Current[0].ID)
	assert.Equal(t, closed.ID, list.Past[0].ID)
}

func TestAdminListPagesAndFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.placeOrder(t)
	}
	cancelled := f.placeOrder(t)
	_, err := f.svc.Transition(ctx, TransitionInput{OrderID: cancelled.ID, Action: enums.OrderActionCancel, Actor: f.admin})
	require.NoError(t, err)

	awaiting := enums.OrderStatusAwaitingPayment
	first, err := f.svc.AdminList(ctx, AdminListInput{Status: &awaiting, Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Orders, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := f.svc.AdminList(ctx, AdminListInput{Status: &awaiting, Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Orders, 1)
	assert.Empty(t, second.NextCursor)

	seen := map[uuid.UUID]bool{}
	for _, o := range append(first.Orders, second.Orders...) {
		assert.False(t, seen[o.ID], "duplicate across pages")
		seen[o.ID] = true
		assert.Equal(t, awaiting, o.Status)
	}

	_, err = f.svc.AdminList(ctx, AdminListInput{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDashboardRevenueCountsClearedOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.placeOrder(t)
	paid := f.placeOrder(t)

	_, err := f.svc.UploadReceipt(ctx, ReceiptInput{OrderID: paid.ID, Actor: f.customer, File: receipt()})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, TransitionInput{OrderID: paid.ID, Action: enums.OrderActionApprove, Actor: f.admin})
	require.NoError(t, err)

	dashboard, err := f.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.True(t, dashboard.Revenue.Equal(decimal.RequireFromString("55.00")), "got %s", dashboard.Revenue)
	assert.Equal(t, 2, dashboard.Total)
	assert.Equal(t, 1, dashboard.Counts[enums.OrderStatusConfirmed])
	assert.Equal(t, 1, dashboard.Counts[enums.OrderStatusAwaitingPayment])
}
