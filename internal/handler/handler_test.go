package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/storefront-api/internal/domain/account"
	"github.com/xenking/storefront-api/internal/domain/auth"
	"github.com/xenking/storefront-api/internal/domain/chat"
	"github.com/xenking/storefront-api/internal/domain/order"
	"github.com/xenking/storefront-api/internal/domain/product"
	"github.com/xenking/storefront-api/internal/domain/promotion"
)

// --- In-memory fakes ---

type fakeProductRepo struct {
	byID map[string]*product.Product
}

func (f *fakeProductRepo) List(context.Context) ([]product.Product, error) {
	out := make([]product.Product, 0, len(f.byID))
	for _, p := range f.byID {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProductRepo) DecrementIfAvailable(_ context.Context, id string, qty int) (*product.Product, error) {
	p, ok := f.byID[id]
	if !ok || p.QuantityOnHand < qty {
		return nil, product.ErrInsufficientStock
	}
	p.QuantityOnHand -= qty
	cp := *p
	return &cp, nil
}

func (f *fakeProductRepo) Increment(_ context.Context, id string, qty int) error {
	if p, ok := f.byID[id]; ok {
		p.QuantityOnHand += qty
	}
	return nil
}

type fakeAccountRepo struct{}

func (fakeAccountRepo) GetByID(context.Context, string) (*account.Account, error) {
	return nil, account.ErrNotFound
}

type fakePromoRepo struct {
	coupons  map[string]*promotion.Coupon
	storeCfg *promotion.StoreConfig
}

func (f *fakePromoRepo) FindByCode(_ context.Context, code string) (*promotion.Coupon, error) {
	c, ok := f.coupons[code]
	if !ok || !c.Active {
		return nil, promotion.ErrInvalidCoupon
	}
	return c, nil
}

func (f *fakePromoRepo) IncrementUsed(context.Context, string) error { return nil }
func (f *fakePromoRepo) DecrementUsed(context.Context, string) error { return nil }

func (f *fakePromoRepo) GetStoreConfig(context.Context) (*promotion.StoreConfig, error) {
	return f.storeCfg, nil
}

func (f *fakePromoRepo) UpsertStoreConfig(_ context.Context, cfg *promotion.StoreConfig) (*promotion.StoreConfig, error) {
	f.storeCfg = cfg
	return cfg, nil
}

type fakeOrderRepo struct {
	created []*order.Order
}

func (f *fakeOrderRepo) Create(_ context.Context, o *order.Order) error {
	f.created = append(f.created, o)
	return nil
}

func (f *fakeOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	for _, o := range f.created {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (f *fakeOrderRepo) GetByNumber(_ context.Context, num string) (*order.Order, error) {
	for _, o := range f.created {
		if o.OrderNumber == num {
			return o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (f *fakeOrderRepo) FindLatestByPhone(_ context.Context, phone string) (*order.Order, error) {
	for i := len(f.created) - 1; i >= 0; i-- {
		if f.created[i].Customer.Phone == phone {
			return f.created[i], nil
		}
	}
	return nil, order.ErrNotFound
}

func (f *fakeOrderRepo) ListByPhone(_ context.Context, phone string) ([]order.Order, error) {
	var out []order.Order
	for _, o := range f.created {
		if o.Customer.Phone == phone {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderRepo) NumberExists(context.Context, string) (bool, error) { return false, nil }

func (f *fakeOrderRepo) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	o, err := f.GetByID(ctx, id)
	if err != nil {
		return err
	}
	o.Status = order.StatusCancelled
	o.CancelledAt = &at
	return nil
}

func (f *fakeOrderRepo) ClearCoupon(ctx context.Context, id string, total decimal.Decimal) error {
	o, err := f.GetByID(ctx, id)
	if err != nil {
		return err
	}
	o.TotalPrice = total
	o.DiscountAmount = decimal.Zero
	o.Coupon = nil
	return nil
}

type fakeChatRepo struct {
	byID map[string]*chat.Session
}

func (f *fakeChatRepo) Create(_ context.Context, s *chat.Session) error {
	for _, existing := range f.byID {
		if existing.Phone == s.Phone && existing.Status == chat.StatusOpen {
			return chat.ErrAlreadyOpen
		}
	}
	cp := *s
	f.byID[s.ID] = &cp
	return nil
}

func (f *fakeChatRepo) GetByID(_ context.Context, id string) (*chat.Session, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeChatRepo) FindOpenByPhone(_ context.Context, phone string) (*chat.Session, error) {
	for _, s := range f.byID {
		if s.Phone == phone && s.Status == chat.StatusOpen {
			cp := *s
			return &cp, nil
		}
	}
	return nil, chat.ErrNotFound
}

func (f *fakeChatRepo) AppendMessage(_ context.Context, id string, msg chat.Message) (*chat.Session, error) {
	s, ok := f.byID[id]
	if !ok || s.Status != chat.StatusOpen {
		return nil, chat.ErrNotFound
	}
	s.Messages = append(s.Messages, msg)
	s.LastMessageAt = msg.SentAt
	cp := *s
	return &cp, nil
}

func (f *fakeChatRepo) Close(_ context.Context, id string, at time.Time) (bool, error) {
	s, ok := f.byID[id]
	if !ok {
		return false, chat.ErrNotFound
	}
	if s.Status == chat.StatusClosed {
		return false, nil
	}
	s.Status = chat.StatusClosed
	s.ClosedAt = &at
	return true, nil
}

func (f *fakeChatRepo) List(_ context.Context, status chat.Status, limit int) ([]chat.Summary, error) {
	var out []chat.Summary
	for _, s := range f.byID {
		if s.Status == status && len(out) < limit {
			out = append(out, chat.Summarize(s))
		}
	}
	return out, nil
}

type noopBus struct{}

func (noopBus) EmitToAdmins(string, any)          {}
func (noopBus) EmitToSession(string, string, any) {}

type fakeKeyRepo struct {
	byHash map[string]*auth.APIKeyInfo
}

func (f *fakeKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if info, ok := f.byHash[hash]; ok {
		return info, nil
	}
	return nil, auth.ErrUnauthorized
}

// --- Fixture ---

const (
	testPhone  = "01234567891"
	testAPIKey = "test-admin-key"
)

var testPepper = []byte("pepper")

type fixture struct {
	products *fakeProductRepo
	promos   *fakePromoRepo
	orders   *fakeOrderRepo
	sessions *fakeChatRepo
	srv      *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lg := zap.NewNop()

	products := &fakeProductRepo{byID: map[string]*product.Product{
		"p1": {ID: "p1", Number: 1, Name: "Widget", Category: "apparel",
			Image: "images/widget.jpg", SellPrice: decimal.NewFromInt(50), QuantityOnHand: 10},
	}}
	promos := &fakePromoRepo{coupons: map[string]*promotion.Coupon{
		"SAVE10": {Code: "SAVE10", Type: promotion.TypePercent, Value: decimal.NewFromInt(10), Active: true},
	}}
	orders := &fakeOrderRepo{}
	sessions := &fakeChatRepo{byID: make(map[string]*chat.Session)}

	orderService := order.NewService(products, fakeAccountRepo{}, promos, orders, lg)
	lifecycle := order.NewLifecycle(orders, promos, lg)
	engine := promotion.NewEngine(promos)
	chatService := chat.NewService(sessions, orders, noopBus{}, lg)

	keyHash := auth.HashKey(testPepper, testAPIKey)
	keys := &fakeKeyRepo{byHash: map[string]*auth.APIKeyInfo{
		keyHash: {ID: "k1", KeyHash: keyHash, Name: "console"},
	}}
	adminAuth := NewAPIKeyAuth(keys, testPepper, lg)

	h := NewHandler(
		Config{ImageBaseURL: "https://cdn.example.com"},
		products, orderService, lifecycle, engine, promos, chatService,
		http.NotFoundHandler(), lg,
	)

	mux := http.NewServeMux()
	h.Register(mux, adminAuth.Middleware)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &fixture{products: products, promos: promos, orders: orders, sessions: sessions, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any, admin bool) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if admin {
		req.Header.Set(APIKeyHeader, testAPIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (f *fixture) placeOrder(t *testing.T, couponCode string) orderResponse {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/orders", createOrderRequest{
		Items:      []orderItemRequest{{ProductID: "p1", Quantity: 2}},
		Customer:   customerRequest{Name: "Nour", Address: "12 Market St", Phone: testPhone},
		CouponCode: couponCode,
	}, false)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var out orderResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

// --- Tests ---

func TestListProducts(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/products", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var products []productResponse
	require.NoError(t, json.Unmarshal(body, &products))
	require.Len(t, products, 1)
	assert.Equal(t, "Widget", products[0].Name)
	assert.Equal(t, "https://cdn.example.com/images/widget.jpg", products[0].Image)
	assert.True(t, products[0].InStock)
}

func TestCreateOrderEndpoint(t *testing.T) {
	f := newFixture(t)

	out := f.placeOrder(t, "save10")
	assert.Equal(t, order.StatusPending, out.Status)
	assert.Len(t, out.OrderNumber, 5)
	assert.InDelta(t, 100.0, out.OriginalTotalPrice, 0.001)
	assert.InDelta(t, 10.0, out.DiscountAmount, 0.001)
	assert.InDelta(t, 90.0, out.TotalPrice, 0.001)
	require.NotNil(t, out.Coupon)
	assert.Equal(t, "SAVE10", out.Coupon.Code)
	assert.NotNil(t, out.CancelableUntil)
}

func TestCreateOrderEndpoint_Validation(t *testing.T) {
	f := newFixture(t)

	// Empty cart.
	resp, _ := f.do(t, http.MethodPost, "/api/orders", createOrderRequest{
		Customer: customerRequest{Name: "Nour", Phone: testPhone},
	}, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Ten-digit phone.
	resp, _ = f.do(t, http.MethodPost, "/api/orders", createOrderRequest{
		Items:    []orderItemRequest{{ProductID: "p1", Quantity: 1}},
		Customer: customerRequest{Name: "Nour", Phone: "0123456789"},
	}, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// More than on hand.
	resp, _ = f.do(t, http.MethodPost, "/api/orders", createOrderRequest{
		Items:    []orderItemRequest{{ProductID: "p1", Quantity: 11}},
		Customer: customerRequest{Name: "Nour", Phone: testPhone},
	}, false)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown coupon.
	resp, _ = f.do(t, http.MethodPost, "/api/orders", createOrderRequest{
		Items:      []orderItemRequest{{ProductID: "p1", Quantity: 1}},
		Customer:   customerRequest{Name: "Nour", Phone: testPhone},
		CouponCode: "NOPE",
	}, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTrackOrder(t *testing.T) {
	f := newFixture(t)
	placed := f.placeOrder(t, "")

	resp, body := f.do(t, http.MethodGet, "/api/orders/track/"+placed.OrderNumber+"?phone="+testPhone, nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out orderResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, placed.ID, out.ID)

	resp, _ = f.do(t, http.MethodGet, "/api/orders/track/"+placed.OrderNumber+"?phone=09999999999", nil, false)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/orders/track/99999?phone="+testPhone, nil, false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTrackOrdersByPhone(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "")
	f.placeOrder(t, "")

	resp, body := f.do(t, http.MethodGet, "/api/orders/track?phone="+testPhone, nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out phoneOrdersResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out.InProgress, 2)
	assert.Empty(t, out.Completed)
}

func TestCancelOrderByPhone(t *testing.T) {
	f := newFixture(t)
	placed := f.placeOrder(t, "")

	resp, body := f.do(t, http.MethodPost, "/api/orders/track/"+placed.OrderNumber+"/cancel",
		cancelByPhoneRequest{Phone: testPhone}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out orderResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, order.StatusCancelled, out.Status)

	// Cancelling again conflicts with the terminal state.
	resp, _ = f.do(t, http.MethodPost, "/api/orders/track/"+placed.OrderNumber+"/cancel",
		cancelByPhoneRequest{Phone: testPhone}, false)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestValidateCouponEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/promotions/validate?code=save10&total=200", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out couponQuoteResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "SAVE10", out.Code)
	assert.InDelta(t, 20.0, out.Discount, 0.001)
	assert.InDelta(t, 180.0, out.Total, 0.001)

	resp, _ = f.do(t, http.MethodGet, "/api/promotions/validate?code=NOPE&total=200", nil, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/promotions/validate?total=200", nil, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/chat/sessions",
		startChatRequest{Phone: testPhone, Name: "Nour"}, false)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var session chatSessionResponse
	require.NoError(t, json.Unmarshal(body, &session))
	assert.Equal(t, chat.StatusOpen, session.Status)
	assert.True(t, session.StartedAsGuest)

	resp, body = f.do(t, http.MethodPost, "/api/chat/sessions/"+session.ID+"/messages",
		postMessageRequest{Text: "  where is my   order? "}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &session))
	require.Len(t, session.Messages, 1)
	assert.Equal(t, "where is my order?", session.Messages[0].Text)
	assert.Equal(t, chat.SenderCustomer, session.Messages[0].Sender)

	resp, body = f.do(t, http.MethodPost, "/api/chat/sessions/"+session.ID+"/close",
		closeChatRequest{By: "Nour"}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &session))
	assert.Equal(t, chat.StatusClosed, session.Status)

	resp, _ = f.do(t, http.MethodGet, "/api/chat/sessions/missing", nil, false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Starting without a name and without order history fails.
	resp, _ = f.do(t, http.MethodPost, "/api/chat/sessions",
		startChatRequest{Phone: "09999999999"}, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostChatMessage_IgnoresClaimedSender(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/chat/sessions",
		startChatRequest{Phone: testPhone, Name: "Nour"}, false)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var session chatSessionResponse
	require.NoError(t, json.Unmarshal(body, &session))

	// The public route carries no identity, so a sender claimed in the
	// body must not stick.
	resp, body = f.do(t, http.MethodPost, "/api/chat/sessions/"+session.ID+"/messages",
		map[string]string{"sender": "admin", "text": "refund approved"}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &session))
	require.Len(t, session.Messages, 1)
	assert.Equal(t, chat.SenderCustomer, session.Messages[0].Sender)
}

func TestAdminRoutesRequireAPIKey(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/admin/chat/sessions", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/api/admin/chat/sessions", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var summaries []chat.Summary
	require.NoError(t, json.Unmarshal(body, &summaries))
	assert.Empty(t, summaries)
}

func TestAdminRemoveCoupon(t *testing.T) {
	f := newFixture(t)
	placed := f.placeOrder(t, "SAVE10")

	resp, body := f.do(t, http.MethodPost, "/api/admin/orders/"+placed.ID+"/remove-coupon", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out orderResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.InDelta(t, placed.OriginalTotalPrice, out.TotalPrice, 0.001)
	assert.Nil(t, out.Coupon)
	assert.Zero(t, out.DiscountAmount)

	resp, _ = f.do(t, http.MethodPost, "/api/admin/orders/"+placed.ID+"/remove-coupon", nil, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAdminStoreDiscount(t *testing.T) {
	f := newFixture(t)

	// Unset config reads as defaults.
	resp, body := f.do(t, http.MethodGet, "/api/admin/store-discount", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg storeDiscountBody
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.False(t, cfg.Active)
	assert.Equal(t, promotion.StoreGeneral, cfg.Type)

	// Validation.
	resp, _ = f.do(t, http.MethodPut, "/api/admin/store-discount",
		storeDiscountBody{Active: true, Type: "threshold", Value: 150}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/api/admin/store-discount",
		storeDiscountBody{Active: true, Type: "weird", Value: 10}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Upsert round trip affects checkout.
	resp, body = f.do(t, http.MethodPut, "/api/admin/store-discount",
		storeDiscountBody{Active: true, Type: "threshold", Value: 5, MinTotal: 80}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.True(t, cfg.Active)
	assert.InDelta(t, 5.0, cfg.Value, 0.001)

	placed := f.placeOrder(t, "")
	assert.InDelta(t, 95.0, placed.TotalPrice, 0.001)
	assert.InDelta(t, 5.0, placed.StoreDiscountAmount, 0.001)
}
