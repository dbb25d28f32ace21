package routes

import (
	"context"
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidecrate/storefront/api/controllers"
	"github.com/tidecrate/storefront/internal/orders"
	"github.com/tidecrate/storefront/internal/products"
	"github.com/tidecrate/storefront/internal/projections"
	"github.com/tidecrate/storefront/pkg/auth"
	"github.com/tidecrate/storefront/pkg/auth/session"
	"github.com/tidecrate/storefront/pkg/config"
	"github.com/tidecrate/storefront/pkg/enums"
	"github.com/tidecrate/storefront/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubSessions struct{}

func (stubSessions) HasSession(context.Context, string) (bool, error) { return true, nil }

type stubRedis struct{}

func (stubRedis) Get(context.Context, string) (string, error) { return "", nil }
func (stubRedis) SetNX(context.Context, string, any, time.Duration) (bool, error) { return true, nil }
func (stubRedis) Set(context.Context, string, any, time.Duration) error          { return nil }
func (stubRedis) Del(context.Context, ...string) error                            { return nil }
func (stubRedis) IdempotencyKey(scope, id string) string { return scope + ":" + id }
func (stubRedis) IncrWithTTL(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

// Embedding the interface keeps the stubs to the methods a test exercises.
type stubOrders struct {
	orders.Service
	checkouts int
	receipt   []byte
	lastInput orders.CheckoutInput
}

func (s *stubOrders) Dashboard(context.Context) (*projections.Dashboard, error) {
	return &projections.Dashboard{Revenue: decimal.RequireFromString("55.00"), Total: 2}, nil
}

func (s *stubOrders) Checkout(_ context.Context, _ uuid.UUID, input orders.CheckoutInput) (*orders.OrderDTO, error) {
	s.checkouts++
	s.lastInput = input
	if input.Receipt != nil {
		data, err := io.ReadAll(input.Receipt.Body)
		if err != nil {
			return nil, err
		}
		s.receipt = data
	}
	return &orders.OrderDTO{}, nil
}

type stubProducts struct{ products.Service }

func (stubProducts) ListAvailable(context.Context) ([]products.ProductDTO, error) {
	return []products.ProductDTO{{Name: "Atlantic salmon", Slug: "atlantic-salmon"}}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "tidecrate", ExpirationMinutes: 10},
		AuthRateLimit: config.AuthRateLimitConfig{
			SigninWindow: time.Minute, SigninIPLimit: 10, SigninEmailLimit: 10,
			SignupWindow: time.Minute, SignupIPLimit: 10, SignupEmailLimit: 10,
		},
		Uploads: config.UploadsConfig{MaxCertificateBytes: 10 << 20, MaxReceiptBytes: 10 << 20, MaxImageBytes: 5 << 20},
	}
}

func newTestRouter(t *testing.T, deps Dependencies) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	if deps.Sessions == nil {
		deps.Sessions = stubSessions{}
	}
	if deps.Redis == nil {
		deps.Redis = stubRedis{}
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	return NewRouter(cfg, logg, deps), cfg
}

func bearer(t *testing.T, cfg *config.Config, role enums.AppRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), auth.AccessTokenPayload{
		UserID: uuid.New(),
		Email:  "crew@tidecrate.test",
		Role:   role,
		JTI:    session.NewAccessID(),
	})
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealthLive(t *testing.T) {
	router, _ := newTestRouter(t, Dependencies{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-Tidecrate-Env"))
}

func TestHealthReadyReportsFailingDependency(t *testing.T) {
	router, _ := newTestRouter(t, Dependencies{Pingers: map[string]controllers.Pinger{
		"db":    stubPinger{},
		"redis": stubPinger{err: errors.New("connection refused")},
	}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "tc_router_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	router, _ := newTestRouter(t, Dependencies{Gatherer: reg})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tc_router_test_total 1")
}

func TestPublicProductsNeedNoToken(t *testing.T) {
	router, _ := newTestRouter(t, Dependencies{Products: stubProducts{}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "atlantic-salmon")
}

func TestCustomerRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t, Dependencies{})
	for _, path := range []string{"/api/v1/cart", "/api/v1/orders", "/api/v1/changes?table=products"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestAdminRoutesRejectCustomers(t *testing.T) {
	router, cfg := newTestRouter(t, Dependencies{Orders: &stubOrders{}})
	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/orders/dashboard", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.AppRoleCustomer))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminDashboard(t *testing.T) {
	router, cfg := newTestRouter(t, Dependencies{Orders: &stubOrders{}})
	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/orders/dashboard", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.AppRoleAdmin))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"revenue":"55`)
}

func TestCheckoutRequiresIdempotencyKey(t *testing.T) {
	ordersSvc := &stubOrders{}
	router, cfg := newTestRouter(t, Dependencies{Orders: ordersSvc})
	body := `{"delivery_address":"1 Harbour Road","contact_name":"Ana","contact_phone":"+351900000000"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, cfg, enums.AppRoleCustomer))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ordersSvc.checkouts)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, cfg, enums.AppRoleCustomer))
	req.Header.Set("Idempotency-Key", "checkout-1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, ordersSvc.checkouts)
}

func checkoutForm(t *testing.T, order string, receipt []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("order", order))
	if receipt != nil {
		part, err := mw.CreateFormFile("receipt", "transfer.png")
		require.NoError(t, err)
		_, err = part.Write(receipt)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCheckoutAcceptsMultipartReceipt(t *testing.T) {
	ordersSvc := &stubOrders{}
	router, cfg := newTestRouter(t, Dependencies{Orders: ordersSvc})
	order := `{"delivery_address":"1 Harbour Road","contact_name":"Ana","contact_phone":"+351900000000"}`

	body, contentType := checkoutForm(t, order, []byte("receipt-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", body)
	req.Header.Set("Authorization", bearer(t, cfg, enums.AppRoleCustomer))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Idempotency-Key", "checkout-receipt")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, ordersSvc.lastInput.Receipt)
	assert.Equal(t, "transfer.png", ordersSvc.lastInput.Receipt.Name)
	assert.Equal(t, "receipt-bytes", string(ordersSvc.receipt))
	assert.Equal(t, "1 Harbour Road", ordersSvc.lastInput.DeliveryAddress)

	body, contentType = checkoutForm(t, order, nil)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/orders", body)
	req.Header.Set("Authorization", bearer(t, cfg, enums.AppRoleCustomer))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Idempotency-Key", "checkout-no-receipt")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Nil(t, ordersSvc.lastInput.Receipt)
	assert.Equal(t, 2, ordersSvc.checkouts)
}

func TestCheckoutMultipartValidatesOrderField(t *testing.T) {
	ordersSvc := &stubOrders{}
	router, cfg := newTestRouter(t, Dependencies{Orders: ordersSvc})

	body, contentType := checkoutForm(t, `{"delivery_address":"x"}`, []byte("receipt-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", body)
	req.Header.Set("Authorization", bearer(t, cfg, enums.AppRoleCustomer))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Idempotency-Key", "checkout-bad")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ordersSvc.checkouts)
}
