package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tidecrate/storefront/internal/auth"
	"github.com/tidecrate/storefront/internal/orders"
	"github.com/tidecrate/storefront/internal/shipments"
	"github.com/tidecrate/storefront/internal/users"
	"github.com/tidecrate/storefront/pkg/enums"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
	"github.com/tidecrate/storefront/pkg/querycache"
	"github.com/tidecrate/storefront/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.Envelope[any]{Data: data})
}

func writeErr(w http.ResponseWriter, status int, code pkgerrors.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.Failure{Error: types.ErrorBody{Code: string(code), Message: msg}})
}

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	c, err := New(Options{BaseURL: srv.URL, HTTPClient: srv.Client(), RetryBackoff: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		srv.Close()
	})
	return c
}

func signedIn(t *testing.T, c *Client, role enums.AppRole) uuid.UUID {
	t.Helper()
	user := &users.UserDTO{ID: uuid.New(), Email: "ops@tidecrate.test", Role: role}
	c.session.establish(&auth.SessionResponse{AccessToken: "access", RefreshToken: "refresh", User: user}, EventSignedIn)
	return user.ID
}

func sevenStages(orderID uuid.UUID, completedThrough int) []shipments.StageDTO {
	out := make([]shipments.StageDTO, 0, 7)
	for n := 1; n <= 7; n++ {
		status := enums.ShipmentStagePending
		if n <= completedThrough {
			status = enums.ShipmentStageCompleted
		}
		out = append(out, shipments.StageDTO{ID: uuid.New(), OrderID: orderID, StageNumber: n, Status: status})
	}
	return out
}

type stageServer struct {
	mu       sync.Mutex
	stages   []shipments.StageDTO
	gets     int
	advances []int
	fail     bool
}

func (s *stageServer) routes(orderID uuid.UUID) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/orders/"+orderID.String()+"/stages", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.gets++
		writeData(w, http.StatusOK, s.stages)
	})
	mux.HandleFunc("POST /api/admin/v1/orders/"+orderID.String()+"/stages/advance", func(w http.ResponseWriter, r *http.Request) {
		var body shipments.AdvanceRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.advances = append(s.advances, body.StageNumber)
		if s.fail {
			writeErr(w, http.StatusUnprocessableEntity, pkgerrors.CodeStateConflict, "stage locked")
			return
		}
		states := make([]shipments.StageState, 0, len(s.stages))
		for _, stage := range s.stages {
			states = append(states, stage.State())
		}
		plan, err := shipments.PlanAdvance(states, body.StageNumber)
		if err != nil {
			writeErr(w, http.StatusBadRequest, pkgerrors.CodeValidation, err.Error())
			return
		}
		for i, stage := range s.stages {
			s.stages[i].Status = shipments.TargetStatus(stage.StageNumber, body.StageNumber)
		}
		writeData(w, http.StatusOK, shipments.AdvanceResultDTO{Plan: plan, Stages: s.stages})
	})
	return mux
}

func TestAdvanceShipmentWritesOnlyChangedStages(t *testing.T) {
	orderID := uuid.New()
	srv := &stageServer{stages: sevenStages(orderID, 3)}
	c := newTestClient(t, srv.routes(orderID))
	signedIn(t, c, enums.AppRoleAdmin)

	plan, err := c.AdvanceShipment(context.Background(), orderID, 4)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, 4, plan[0].StageNumber)
	assert.Equal(t, enums.ShipmentStageCompleted, plan[0].To)
	assert.Equal(t, []int{4}, srv.advances)

	// initial fetch plus one authoritative refetch
	assert.Equal(t, 2, srv.gets)
	cached, ok := querycache.Peek[[]shipments.StageDTO](c.cache, querycache.StagesForOrder(orderID))
	require.True(t, ok)
	assert.Equal(t, enums.ShipmentStageCompleted, cached[3].Status)
}

func TestAdvanceShipmentRetractsLaterStages(t *testing.T) {
	orderID := uuid.New()
	stages := sevenStages(orderID, 1)
	stages[4].Status = enums.ShipmentStageCompleted
	srv := &stageServer{stages: stages}
	c := newTestClient(t, srv.routes(orderID))
	signedIn(t, c, enums.AppRoleAdmin)

	plan, err := c.AdvanceShipment(context.Background(), orderID, 2)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, 2, plan[0].StageNumber)
	assert.Equal(t, 5, plan[1].StageNumber)
	assert.Equal(t, enums.ShipmentStagePending, plan[1].To)
	assert.Equal(t, []int{2}, srv.advances)
	assert.Equal(t, enums.ShipmentStagePending, srv.stages[4].Status)
}

func TestAdvanceShipmentNoopMakesNoWrites(t *testing.T) {
	orderID := uuid.New()
	srv := &stageServer{stages: sevenStages(orderID, 3)}
	c := newTestClient(t, srv.routes(orderID))
	signedIn(t, c, enums.AppRoleAdmin)

	plan, err := c.AdvanceShipment(context.Background(), orderID, 3)
	require.NoError(t, err)
	assert.Empty(t, plan)
	assert.Empty(t, srv.advances)
	assert.Equal(t, 1, srv.gets)
}

func TestAdvanceShipmentRollsBackOnFailure(t *testing.T) {
	orderID := uuid.New()
	srv := &stageServer{stages: sevenStages(orderID, 1), fail: true}
	c := newTestClient(t, srv.routes(orderID))
	signedIn(t, c, enums.AppRoleAdmin)

	key := querycache.StagesForOrder(orderID)
	before, err := c.Stages(context.Background(), orderID)
	require.NoError(t, err)

	_, err = c.AdvanceShipment(context.Background(), orderID, 4)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	after, ok := querycache.Peek[[]shipments.StageDTO](c.cache, key)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.False(t, c.guard.Busy("advance:"+orderID.String()))

	// the restored list is refetched on next read
	assert.True(t, c.cache.IsStale(key))
	_, err = c.Stages(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, 2, srv.gets)
}

func TestUploadCertificateSizeCeiling(t *testing.T) {
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/v1/orders/{id}/certificates", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = io.Copy(io.Discard, r.Body)
		writeData(w, http.StatusCreated, map[string]any{"id": uuid.New(), "certificate_type": r.FormValue("certificate_type")})
	})
	c := newTestClient(t, mux)
	signedIn(t, c, enums.AppRoleAdmin)
	orderID := uuid.New()

	_, err := c.UploadCertificate(context.Background(), orderID, enums.CertificateHealth, File{Name: "over.pdf", Data: make([]byte, MaxCertificateBytes+1)})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))

	_, err = c.UploadCertificate(context.Background(), orderID, enums.CertificateHealth, File{Name: "exact.pdf", Data: make([]byte, MaxCertificateBytes)})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCheckoutWithReceiptSendsOrderAndFile(t *testing.T) {
	type seen struct {
		order    orders.CheckoutInput
		filename string
		data     string
		key      string
	}
	got := make(chan seen, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		var s seen
		s.key = r.Header.Get("Idempotency-Key")
		if err := json.Unmarshal([]byte(r.FormValue("order")), &s.order); err != nil {
			writeErr(w, http.StatusBadRequest, pkgerrors.CodeValidation, err.Error())
			return
		}
		part, header, err := r.FormFile("receipt")
		if err != nil {
			writeErr(w, http.StatusBadRequest, pkgerrors.CodeValidation, err.Error())
			return
		}
		defer part.Close()
		data, _ := io.ReadAll(part)
		s.filename, s.data = header.Filename, string(data)
		got <- s
		writeData(w, http.StatusCreated, orders.OrderDTO{ID: uuid.New(), Status: enums.OrderStatusPaymentReview})
	})
	c := newTestClient(t, mux)
	signedIn(t, c, enums.AppRoleCustomer)

	input := orders.CheckoutInput{DeliveryAddress: "12 Quay Street", ContactName: "Ana", ContactPhone: "+34600111222"}
	order, err := c.CheckoutWithReceipt(context.Background(), input, File{Name: "transfer.png", Data: []byte("png")}, "checkout-7")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaymentReview, order.Status)

	s := <-got
	assert.Equal(t, "checkout-7", s.key)
	assert.Equal(t, "12 Quay Street", s.order.DeliveryAddress)
	assert.Equal(t, "transfer.png", s.filename)
	assert.Equal(t, "png", s.data)
}

func TestSignInRetriesOnceOnServerError(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeErr(w, http.StatusServiceUnavailable, pkgerrors.CodeDependency, "db down")
			return
		}
		writeData(w, http.StatusOK, auth.SessionResponse{
			AccessToken:  "a1",
			RefreshToken: "r1",
			User:         &users.UserDTO{ID: uuid.New(), Role: enums.AppRoleCustomer},
		})
	})
	c := newTestClient(t, mux)

	user, err := c.SignIn(context.Background(), "diver@tidecrate.test", "pw")
	require.NoError(t, err)
	assert.NotNil(t, user)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, StateReady, c.Session().State())
	assert.Equal(t, "a1", c.Session().AccessToken())
}

func TestSignInNeverRetriesClientErrors(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeErr(w, http.StatusUnauthorized, pkgerrors.CodeUnauthorized, "invalid credentials")
	})
	c := newTestClient(t, mux)

	_, err := c.SignIn(context.Background(), "diver@tidecrate.test", "bad")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&APIError{Status: 502, Err: pkgerrors.New(pkgerrors.CodeInternal, "x")}))
	assert.False(t, IsRetryable(&APIError{Status: 409, Err: pkgerrors.New(pkgerrors.CodeConflict, "x")}))
	assert.True(t, IsRetryable(&transportError{err: errors.New("connection reset")}))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(nil))
}

func TestSessionEventsDeliveredInOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, auth.SessionResponse{AccessToken: "a", RefreshToken: "r", User: &users.UserDTO{ID: uuid.New()}})
	})
	mux.HandleFunc("POST /api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, auth.SessionResponse{AccessToken: "a2", RefreshToken: "r2"})
	})
	mux.HandleFunc("POST /api/v1/auth/signout", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, nil)
	})
	c := newTestClient(t, mux)

	events := make(chan SessionEventType, 8)
	unsubscribe := c.Session().Subscribe(func(e SessionEvent) { events <- e.Type })
	defer unsubscribe()

	ctx := context.Background()
	_, err := c.SignIn(ctx, "a@b.test", "pw")
	require.NoError(t, err)
	require.NoError(t, c.Refresh(ctx))
	assert.NotNil(t, c.Session().Current(), "refresh keeps the user")
	require.NoError(t, c.SignOut(ctx))

	want := []SessionEventType{EventSignedIn, EventTokenRefreshed, EventSignedOut}
	for _, w := range want {
		select {
		case got := <-events:
			assert.Equal(t, w, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
	assert.Equal(t, StateSignedOut, c.Session().State())
	assert.Empty(t, c.Session().AccessToken())
}

func TestRestoreWithRevokedTokenEmitsEmptyInitialSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/auth/session", func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusUnauthorized, pkgerrors.CodeUnauthorized, "revoked")
	})
	mux.HandleFunc("POST /api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusUnauthorized, pkgerrors.CodeUnauthorized, "revoked")
	})
	c := newTestClient(t, mux)

	events := make(chan SessionEvent, 1)
	c.Session().Subscribe(func(e SessionEvent) { events <- e })

	user, err := c.Restore(context.Background(), Credentials{AccessToken: "old", RefreshToken: "old"})
	require.NoError(t, err)
	assert.Nil(t, user)

	select {
	case e := <-events:
		assert.Equal(t, EventInitialSession, e.Type)
		assert.Nil(t, e.User)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial_session event")
	}
	assert.Equal(t, StateSignedOut, c.Session().State())
}

func TestOrderMutationInvalidatesOnlyOnSuccess(t *testing.T) {
	orderID := uuid.New()
	var approveStatus int32 = http.StatusUnprocessableEntity
	var lists int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/admin/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&lists, 1)
		writeData(w, http.StatusOK, orders.AdminList{Orders: []orders.OrderDTO{{ID: orderID, Status: enums.OrderStatusPaymentReview}}})
	})
	mux.HandleFunc("POST /api/admin/v1/orders/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&approveStatus) != http.StatusOK {
			writeErr(w, http.StatusUnprocessableEntity, pkgerrors.CodeStateConflict, "payment receipt required before approval")
			return
		}
		writeData(w, http.StatusOK, orders.OrderDTO{ID: orderID, Status: enums.OrderStatusConfirmed})
	})
	c := newTestClient(t, mux)
	signedIn(t, c, enums.AppRoleAdmin)
	ctx := context.Background()

	_, err := c.AllOrders(ctx)
	require.NoError(t, err)

	_, err = c.Approve(ctx, orderID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.False(t, c.cache.IsStale(querycache.AllOrders))

	atomic.StoreInt32(&approveStatus, http.StatusOK)
	got, err := c.Approve(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, got.Status)
	assert.True(t, c.cache.IsStale(querycache.AllOrders))

	_, err = c.AllOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&lists))
}

func TestDuplicateCertificateUploadRefusedWhileInFlight(t *testing.T) {
	orderID := uuid.New()
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var uploads int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/v1/orders/{id}/certificates", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if atomic.AddInt32(&uploads, 1) == 1 {
			close(entered)
			<-unblock
		}
		writeData(w, http.StatusCreated, map[string]any{"id": uuid.New(), "certificate_type": "health"})
	})
	c := newTestClient(t, mux)
	signedIn(t, c, enums.AppRoleAdmin)
	ctx := context.Background()
	file := File{Name: "health.pdf", Data: []byte("%PDF-1.4")}

	first := make(chan error, 1)
	go func() {
		_, err := c.UploadCertificate(ctx, orderID, enums.CertificateHealth, file)
		first <- err
	}()
	<-entered

	_, err := c.UploadCertificate(ctx, orderID, enums.CertificateHealth, file)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)

	_, err = c.ProvisionStages(ctx, orderID)
	assert.False(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "other mutations stay free")

	close(unblock)
	require.NoError(t, <-first)
	assert.Equal(t, int32(1), atomic.LoadInt32(&uploads))
	assert.False(t, c.guard.Busy("certificate:"+orderID.String()))

	_, err = c.UploadCertificate(ctx, orderID, enums.CertificateHealth, file)
	require.NoError(t, err)
}

func TestDuplicateCartAddRefusedWhileInFlight(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var adds int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/cart/items", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&adds, 1) == 1 {
			close(entered)
			<-unblock
		}
		writeData(w, http.StatusOK, map[string]any{"items": []any{}})
	})
	c := newTestClient(t, mux)
	signedIn(t, c, enums.AppRoleCustomer)
	ctx := context.Background()
	input := cartInput(uuid.New(), "1kg", 2)

	first := make(chan error, 1)
	go func() {
		_, err := c.AddToCart(ctx, input)
		first <- err
	}()
	<-entered

	_, err := c.AddToCart(ctx, input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)

	close(unblock)
	require.NoError(t, <-first)
	assert.Equal(t, int32(1), atomic.LoadInt32(&adds))
}

func TestSetStatusValidatesBeforeNetwork(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())
	signedIn(t, c, enums.AppRoleAdmin)
	_, err := c.SetStatus(context.Background(), uuid.New(), enums.OrderStatus("lost_at_sea"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDashboardWalksEveryPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/admin/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			writeData(w, http.StatusOK, orders.AdminList{
				Orders: []orders.OrderDTO{
					{ID: uuid.New(), Status: enums.OrderStatusConfirmed, TotalAmount: decimal.RequireFromString("55.00")},
					{ID: uuid.New(), Status: enums.OrderStatusPaymentReview, TotalAmount: decimal.RequireFromString("12.00")},
				},
				NextCursor: "page-2",
			})
			return
		}
		writeData(w, http.StatusOK, orders.AdminList{Orders: []orders.OrderDTO{
			{ID: uuid.New(), Status: enums.OrderStatusShipped, TotalAmount: decimal.RequireFromString("20.50")},
		}})
	})
	c := newTestClient(t, mux)
	signedIn(t, c, enums.AppRoleAdmin)

	dash, err := c.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, dash.Total)
	assert.True(t, dash.Revenue.Equal(decimal.RequireFromString("75.50")), dash.Revenue.String())
	assert.Len(t, dash.PendingReview, 1)
	assert.Len(t, dash.InTransit, 1)
}

func TestAddToCartValidatesBeforeNetwork(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())
	signedIn(t, c, enums.AppRoleCustomer)
	ctx := context.Background()

	_, err := c.AddToCart(ctx, cartInput(uuid.New(), "2 lbs", 1))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = c.AddToCart(ctx, cartInput(uuid.New(), "1kg", 100))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
