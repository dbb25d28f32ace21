// Package orders turns carts into orders and drives them through the payment
// and fulfilment lifecycle.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tidecrate/storefront/internal/cart"
	"github.com/tidecrate/storefront/internal/changefeed"
	"github.com/tidecrate/storefront/internal/lifecycle"
	"github.com/tidecrate/storefront/internal/media"
	"github.com/tidecrate/storefront/internal/projections"
	"github.com/tidecrate/storefront/pkg/db/models"
	"github.com/tidecrate/storefront/pkg/enums"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
	"github.com/tidecrate/storefront/pkg/logger"
	"github.com/tidecrate/storefront/pkg/metrics"
	"github.com/tidecrate/storefront/pkg/outbox"
	"github.com/tidecrate/storefront/pkg/outbox/payloads"
	"github.com/tidecrate/storefront/pkg/pagination"
	"github.com/tidecrate/storefront/pkg/storage/s3"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// StageProvisioner creates shipment stages inside an open transaction.
type StageProvisioner interface {
	Provision(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int, error)
}

// Uploader is the slice of media.Service receipts need.
type Uploader interface {
	Save(ctx context.Context, kind media.Kind, key string, file media.File) (*media.Stored, error)
	Compensate(ctx context.Context, key string, write func() error) error
	Remove(ctx context.Context, key string) error
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// CertificatePaths lists blob keys attached to an order so they can be
// removed with it.
type CertificatePaths interface {
	PathsForOrder(ctx context.Context, orderID uuid.UUID) ([]string, error)
}

// TransitionInput requests one lifecycle action.
type TransitionInput struct {
	OrderID uuid.UUID
	Action  enums.OrderAction
	Target  enums.OrderStatus
	Actor   lifecycle.Actor
}

// ReceiptInput is a customer's payment receipt upload.
type ReceiptInput struct {
	OrderID uuid.UUID
	Actor   lifecycle.Actor
	File    media.File
}

// Service exposes the order operations.
type Service interface {
	Checkout(ctx context.Context, userID uuid.UUID, input CheckoutInput) (*OrderDTO, error)
	ListForUser(ctx context.Context, userID uuid.UUID) (*CustomerOrders, error)
	Get(ctx context.Context, actor lifecycle.Actor, orderID uuid.UUID) (*OrderDTO, error)
	AdminList(ctx context.Context, input AdminListInput) (*AdminList, error)
	Dashboard(ctx context.Context) (*projections.Dashboard, error)
	Transition(ctx context.Context, input TransitionInput) (*OrderDTO, error)
	UploadReceipt(ctx context.Context, input ReceiptInput) (*OrderDTO, error)
}

// ServiceParams bundles the order service dependencies.
type ServiceParams struct {
	Repo         Repository
	Cart         cart.Repository
	Tx           txRunner
	Outbox       outbox.Emitter
	Feed         changefeed.Notifier
	Stages       StageProvisioner
	Media        Uploader
	Certificates CertificatePaths
	Metrics      *metrics.LifecycleMetrics
	Logger       *logger.Logger
	SignedURLTTL time.Duration
}

type service struct {
	repo    Repository
	cart    cart.Repository
	tx      txRunner
	outbox  outbox.Emitter
	feed    changefeed.Notifier
	stages  StageProvisioner
	media   Uploader
	certs   CertificatePaths
	metrics *metrics.LifecycleMetrics
	logg    *logger.Logger
	urlTTL  time.Duration
	now     func() time.Time
}

// NewService builds the order service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Cart == nil:
		return nil, fmt.Errorf("cart repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Feed == nil:
		return nil, fmt.Errorf("change notifier required")
	case params.Stages == nil:
		return nil, fmt.Errorf("stage provisioner required")
	case params.Media == nil:
		return nil, fmt.Errorf("media uploader required")
	case params.Certificates == nil:
		return nil, fmt.Errorf("certificate lister required")
	}
	ttl := params.SignedURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &service{
		repo:    params.Repo,
		cart:    params.Cart,
		tx:      params.Tx,
		outbox:  params.Outbox,
		feed:    params.Feed,
		stages:  params.Stages,
		media:   params.Media,
		certs:   params.Certificates,
		metrics: params.Metrics,
		logg:    params.Logger,
		urlTTL:  ttl,
		now:     time.Now,
	}, nil
}

// Checkout snapshots the caller's cart into a new order and empties the cart
// in the same transaction. The total is the sum of the line subtotals. An
// order placed with a receipt starts in payment_review; without one it waits
// in awaiting_payment. The receipt blob is deleted again if the order cannot
// be written.
func (s *service) Checkout(ctx context.Context, userID uuid.UUID, input CheckoutInput) (*OrderDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	if err := validateCheckout(input); err != nil {
		return nil, err
	}

	order := models.Order{
		ID:                   uuid.New(),
		UserID:               userID,
		Status:               enums.OrderStatusAwaitingPayment,
		DeliveryAddress:      strings.TrimSpace(input.DeliveryAddress),
		ContactName:          strings.TrimSpace(input.ContactName),
		ContactPhone:         strings.TrimSpace(input.ContactPhone),
		Comments:             input.Comments,
		LocationNotes:        input.LocationNotes,
		PreferredTime:        input.PreferredTime,
		ExpectedDeliveryDate: input.ExpectedDeliveryDate,
	}
	var receipt *media.Stored
	if input.Receipt != nil {
		key := s3.ReceiptKey(userID, order.ID, input.Receipt.Name, s.now().UTC())
		stored, err := s.media.Save(ctx, media.KindReceipt, key, *input.Receipt)
		if err != nil {
			s.metrics.ObserveTransition("checkout", resultFor(err))
			return nil, err
		}
		receipt = stored
		order.Status = enums.OrderStatusPaymentReview
		order.PaymentReceiptPath = &stored.Key
	}

	place := func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.placeOrder(ctx, tx, &order)
		})
	}
	var err error
	if receipt != nil {
		err = s.media.Compensate(ctx, receipt.Key, place)
	} else {
		err = place()
	}
	if err != nil {
		s.metrics.ObserveTransition("checkout", resultFor(err))
		return nil, err
	}
	s.metrics.ObserveTransition("checkout", metrics.ResultOK)

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(s.logg.WithUserID(ctx, userID.String()), order.ID.String())
		s.logg.Info(s.logg.WithField(logCtx, "total_amount", order.TotalAmount.StringFixed(2)), "order placed")
	}
	s.notifyOrder(ctx, order.ID, userID, enums.ChangeInsert)
	_ = s.feed.Publish(ctx, changefeed.Change{
		Table:  enums.ChangeTableCart,
		Op:     enums.ChangeDelete,
		Filter: map[string]string{changefeed.ColumnUserID: userID.String()},
	})

	return s.Get(ctx, lifecycle.Actor{UserID: userID, Role: enums.AppRoleCustomer}, order.ID)
}

// placeOrder writes order from the locked cart, clears the cart and records
// the outbox events, all inside tx.
func (s *service) placeOrder(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	cartRepo := s.cart.WithTx(tx)
	rows, err := cartRepo.ListByUserForUpdate(ctx, order.UserID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	view, err := cart.Price(rows)
	if err != nil {
		return err
	}
	lines, err := view.Purchasable()
	if err != nil {
		return err
	}
	order.Items, order.TotalAmount = itemsFromLines(lines)

	if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	if _, err := cartRepo.Clear(ctx, order.UserID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	customer := &outbox.ActorRef{UserID: order.UserID, Role: enums.AppRoleCustomer}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         customer,
		Data: payloads.OrderCreatedEvent{
			OrderID:     order.ID,
			UserID:      order.UserID,
			TotalAmount: order.TotalAmount,
			ItemCount:   len(order.Items),
			Status:      order.Status,
		},
	}); err != nil {
		return err
	}
	if !order.HasReceipt() {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReceiptUploaded,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         customer,
		Data:          payloads.ReceiptUploadedEvent{OrderID: order.ID, UserID: order.UserID, FilePath: *order.PaymentReceiptPath},
	})
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID) (*CustomerOrders, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	rows, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	byID := make(map[uuid.UUID]models.Order, len(rows))
	views := make([]projections.OrderView, 0, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
		views = append(views, toView(row))
	}
	current, past := projections.SplitCustomer(views)
	actor := lifecycle.Actor{UserID: userID, Role: enums.AppRoleCustomer}
	out := &CustomerOrders{Current: make([]OrderDTO, 0, len(current)), Past: make([]OrderDTO, 0, len(past))}
	for _, v := range current {
		out.Current = append(out.Current, s.decorate(byID[v.ID], actor))
	}
	for _, v := range past {
		out.Past = append(out.Past, s.decorate(byID[v.ID], actor))
	}
	return out, nil
}

// Get returns one order. Customers only see their own; anything else is
// reported as not found.
func (s *service) Get(ctx context.Context, actor lifecycle.Actor, orderID uuid.UUID) (*OrderDTO, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "load order")
	}
	if !actor.IsAdmin() && order.UserID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	dto := s.decorate(*order, actor)
	if order.HasReceipt() {
		url, err := s.media.URL(ctx, *order.PaymentReceiptPath, s.urlTTL)
		if err != nil {
			if s.logg != nil {
				s.logg.Warn(s.logg.WithOrderID(ctx, orderID.String()), "receipt url unavailable")
			}
		} else {
			dto.ReceiptURL = &url
		}
	}
	return &dto, nil
}

func (s *service) AdminList(ctx context.Context, input AdminListInput) (*AdminList, error) {
	query := AdminListQuery{Limit: input.Limit}
	if input.Status != nil {
		if !input.Status.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", *input.Status))
		}
		query.Status = input.Status
	}
	if input.Cursor != "" {
		cursor, err := pagination.Decode(input.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.ListAdmin(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	admin := lifecycle.Actor{Role: enums.AppRoleAdmin}
	out := &AdminList{Orders: make([]OrderDTO, 0, len(rows))}
	for _, row := range rows {
		out.Orders = append(out.Orders, s.decorate(row, admin))
	}
	if next != nil {
		out.NextCursor = next.Encode()
	}
	return out, nil
}

func (s *service) Dashboard(ctx context.Context) (*projections.Dashboard, error) {
	rows, err := s.repo.ListSummaries(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load orders")
	}
	views := make([]projections.OrderView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toView(row))
	}
	dashboard := projections.Summarize(views)
	return &dashboard, nil
}

// Transition applies one lifecycle action. The order row is locked for the
// duration so concurrent actions serialize. A confirmed order gets its
// shipment stages in the same transaction. Delete returns a nil order.
func (s *service) Transition(ctx context.Context, input TransitionInput) (*OrderDTO, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Action == enums.OrderActionUploadReceipt {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "receipts are uploaded through the receipt endpoint")
	}

	var (
		before   models.Order
		decision lifecycle.Decision
		orphans  []string
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindForUpdate(ctx, input.OrderID)
		if err != nil {
			return notFoundOr(err, "load order")
		}
		before = *order
		decision, err = lifecycle.Evaluate(lifecycle.Request{
			Action:     input.Action,
			Current:    order.Status,
			Target:     input.Target,
			HasReceipt: order.HasReceipt(),
			OwnerID:    order.UserID,
			Actor:      input.Actor,
		})
		if err != nil {
			return err
		}

		if decision.Remove {
			orphans, err = s.blobsFor(ctx, order)
			if err != nil {
				return err
			}
			if err := repo.Delete(ctx, order.ID); err != nil {
				return notFoundOr(err, "delete order")
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderDeleted,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         actorRef(input.Actor),
				Data:          payloads.OrderDeletedEvent{OrderID: order.ID, UserID: order.UserID, LastStatus: order.Status},
			})
		}

		if decision.Next == order.Status {
			return nil
		}
		if err := repo.Update(ctx, order.ID, map[string]any{"status": decision.Next}); err != nil {
			return notFoundOr(err, "update order status")
		}
		if decision.Next.PaymentCleared() && !order.Status.PaymentCleared() {
			if _, err := s.stages.Provision(ctx, tx, order.ID); err != nil {
				return err
			}
		}
		return s.emitStatus(ctx, tx, order, input.Action, decision.Next, input.Actor)
	})
	s.metrics.ObserveTransition(input.Action.String(), resultFor(err))
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(s.logg.WithActorRole(ctx, input.Actor.Role.String()), input.OrderID.String())
		s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
			"action": input.Action,
			"from":   before.Status,
			"to":     decision.Next,
		}), "order transition")
	}

	if decision.Remove {
		for _, key := range orphans {
			if err := s.media.Remove(ctx, key); err != nil && s.logg != nil {
				s.logg.Warn(s.logg.WithField(ctx, "blob_key", key), "orphaned order file")
			}
		}
		s.notifyOrder(ctx, before.ID, before.UserID, enums.ChangeDelete)
		return nil, nil
	}
	if decision.Next != before.Status {
		s.notifyOrder(ctx, before.ID, before.UserID, enums.ChangeUpdate)
	}
	return s.Get(ctx, input.Actor, input.OrderID)
}

// UploadReceipt stores the receipt blob, then attaches it and moves the order
// to payment_review. If the row update fails the blob is deleted again.
func (s *service) UploadReceipt(ctx context.Context, input ReceiptInput) (*OrderDTO, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, input.OrderID)
	if err != nil {
		return nil, notFoundOr(err, "load order")
	}
	if !input.Actor.IsAdmin() && order.UserID != input.Actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	req := lifecycle.Request{
		Action:  enums.OrderActionUploadReceipt,
		Current: order.Status,
		OwnerID: order.UserID,
		Actor:   input.Actor,
	}
	if _, err := lifecycle.Evaluate(req); err != nil {
		s.metrics.ObserveTransition(req.Action.String(), resultFor(err))
		return nil, err
	}

	key := s3.ReceiptKey(order.UserID, order.ID, input.File.Name, s.now().UTC())
	stored, err := s.media.Save(ctx, media.KindReceipt, key, input.File)
	if err != nil {
		return nil, err
	}

	var previous *string
	err = s.media.Compensate(ctx, stored.Key, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			locked, err := repo.FindForUpdate(ctx, order.ID)
			if err != nil {
				return notFoundOr(err, "load order")
			}
			req.Current = locked.Status
			decision, err := lifecycle.Evaluate(req)
			if err != nil {
				return err
			}
			previous = locked.PaymentReceiptPath
			if err := repo.Update(ctx, locked.ID, map[string]any{
				"payment_receipt_path": stored.Key,
				"status":               decision.Next,
			}); err != nil {
				return notFoundOr(err, "attach receipt")
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventReceiptUploaded,
				AggregateType: enums.AggregateOrder,
				AggregateID:   locked.ID,
				Actor:         actorRef(input.Actor),
				Data:          payloads.ReceiptUploadedEvent{OrderID: locked.ID, UserID: locked.UserID, FilePath: stored.Key},
			}); err != nil {
				return err
			}
			return s.emitStatus(ctx, tx, locked, req.Action, decision.Next, input.Actor)
		})
	})
	s.metrics.ObserveTransition(req.Action.String(), resultFor(err))
	if err != nil {
		return nil, err
	}

	if previous != nil && *previous != "" && *previous != stored.Key {
		_ = s.media.Remove(ctx, *previous)
	}
	s.notifyOrder(ctx, order.ID, order.UserID, enums.ChangeUpdate)
	return s.Get(ctx, input.Actor, order.ID)
}

func (s *service) blobsFor(ctx context.Context, order *models.Order) ([]string, error) {
	paths, err := s.certs.PathsForOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list certificates")
	}
	if order.HasReceipt() {
		paths = append(paths, *order.PaymentReceiptPath)
	}
	return paths, nil
}

func (s *service) emitStatus(ctx context.Context, tx *gorm.DB, order *models.Order, action enums.OrderAction, next enums.OrderStatus, actor lifecycle.Actor) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data: payloads.OrderStatusChangedEvent{
			OrderID: order.ID,
			UserID:  order.UserID,
			Action:  action,
			From:    order.Status,
			To:      next,
		},
	})
}

func (s *service) decorate(order models.Order, actor lifecycle.Actor) OrderDTO {
	dto := toDTO(order)
	dto.AllowedActions = lifecycle.AllowedActions(order.Status, actor.Role, order.UserID == actor.UserID)
	return dto
}

// notifyOrder runs after commit; a dropped notification only delays a refetch.
func (s *service) notifyOrder(ctx context.Context, orderID, userID uuid.UUID, op enums.ChangeOp) {
	_ = s.feed.Publish(ctx, changefeed.Change{
		Table:  enums.ChangeTableOrders,
		Op:     op,
		RowID:  orderID,
		Filter: map[string]string{changefeed.ColumnUserID: userID.String()},
	})
}

func itemsFromLines(lines []cart.Line) ([]models.OrderItem, decimal.Decimal) {
	items := make([]models.OrderItem, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		productID := line.ProductID
		items = append(items, models.OrderItem{
			ProductID:   &productID,
			ProductName: line.ProductName,
			Variant:     line.Variant,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Subtotal:    line.Subtotal,
		})
		total = total.Add(line.Subtotal)
	}
	return items, total
}

func validateCheckout(input CheckoutInput) error {
	missing := []string{}
	if strings.TrimSpace(input.DeliveryAddress) == "" {
		missing = append(missing, "delivery_address")
	}
	if strings.TrimSpace(input.ContactName) == "" {
		missing = append(missing, "contact_name")
	}
	if strings.TrimSpace(input.ContactPhone) == "" {
		missing = append(missing, "contact_phone")
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "missing delivery details").
			WithDetails(map[string]any{"fields": missing})
	}
	return nil
}

func actorRef(actor lifecycle.Actor) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role}
}

func resultFor(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case pkgerrors.IsCode(err, pkgerrors.CodeValidation),
		pkgerrors.IsCode(err, pkgerrors.CodeForbidden),
		pkgerrors.IsCode(err, pkgerrors.CodeStateConflict),
		pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
