package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradeloop-backend/api/middleware"
	"github.com/angelmondragon/tradeloop-backend/internal/fulfillment"
	internalorders "github.com/angelmondragon/tradeloop-backend/internal/orders"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
)

type stubOrdersService struct {
	create       func(ctx context.Context, requesterID uuid.UUID, in internalorders.CreateInput) (*internalorders.OrderDTO, error)
	cancel       func(ctx context.Context, orderID, requesterID uuid.UUID) (*internalorders.OrderDTO, error)
	updateStatus func(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus, requesterID uuid.UUID) (*internalorders.OrderDTO, error)
	get          func(ctx context.Context, orderID, requesterID uuid.UUID) (*internalorders.OrderDTO, error)
}

func (s *stubOrdersService) Create(ctx context.Context, requesterID uuid.UUID, in internalorders.CreateInput) (*internalorders.OrderDTO, error) {
	return s.create(ctx, requesterID, in)
}

func (s *stubOrdersService) CancelOrder(ctx context.Context, orderID, requesterID uuid.UUID) (*internalorders.OrderDTO, error) {
	return s.cancel(ctx, orderID, requesterID)
}

func (s *stubOrdersService) UpdateStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus, requesterID uuid.UUID) (*internalorders.OrderDTO, error) {
	return s.updateStatus(ctx, orderID, status, requesterID)
}

func (s *stubOrdersService) Get(ctx context.Context, orderID, requesterID uuid.UUID) (*internalorders.OrderDTO, error) {
	return s.get(ctx, orderID, requesterID)
}

type stubDeliveryService struct {
	notify  func(ctx context.Context, orderID, actorID uuid.UUID) (int, error)
	respond func(ctx context.Context, in fulfillment.RespondInput) (*fulfillment.RespondResult, error)
	verify  func(ctx context.Context, orderID uuid.UUID, token string, actorID uuid.UUID) (bool, error)
}

func (s *stubDeliveryService) NotifyDeliveryPartners(ctx context.Context, orderID, actorID uuid.UUID) (int, error) {
	return s.notify(ctx, orderID, actorID)
}

func (s *stubDeliveryService) RespondToDeliveryRequest(ctx context.Context, in fulfillment.RespondInput) (*fulfillment.RespondResult, error) {
	return s.respond(ctx, in)
}

func (s *stubDeliveryService) VerifyDeliveryToken(ctx context.Context, orderID uuid.UUID, token string, actorID uuid.UUID) (bool, error) {
	return s.verify(ctx, orderID, token, actorID)
}

func newRequest(method, target, body string, userID uuid.UUID, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := req.Context()
	if userID != uuid.Nil {
		ctx = middleware.WithUserID(ctx, userID.String())
	}
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return req.WithContext(ctx)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestCreateOrder(t *testing.T) {
	buyer := uuid.New()
	cartID := uuid.New()
	addressID := uuid.New()
	orderID := uuid.New()

	svc := &stubOrdersService{
		create: func(ctx context.Context, requesterID uuid.UUID, in internalorders.CreateInput) (*internalorders.OrderDTO, error) {
			assert.Equal(t, buyer, requesterID)
			assert.Equal(t, cartID, in.CartID)
			assert.Equal(t, addressID, in.AddressID)
			require.NotNil(t, in.Notes)
			assert.Equal(t, "ring the bell", *in.Notes)
			return &internalorders.OrderDTO{ID: orderID, Status: enums.OrderStatusPlaced, TotalCents: 10499}, nil
		},
	}

	body := `{"cartId":"` + cartID.String() + `","addressId":"` + addressID.String() + `","notes":"  ring the bell "}`
	rec := httptest.NewRecorder()
	Create(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/orders", body, buyer, nil))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var dto internalorders.OrderDTO
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &dto))
	assert.Equal(t, orderID, dto.ID)
	assert.Equal(t, int64(10499), dto.TotalCents)
}

func TestCreateOrderValidatesBody(t *testing.T) {
	svc := &stubOrdersService{
		create: func(context.Context, uuid.UUID, internalorders.CreateInput) (*internalorders.OrderDTO, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}

	cases := map[string]string{
		"missing address": `{"cartId":"` + uuid.NewString() + `"}`,
		"bad cart id":     `{"cartId":"nope","addressId":"` + uuid.NewString() + `"}`,
		"unknown field":   `{"cartId":"` + uuid.NewString() + `","addressId":"` + uuid.NewString() + `","total":1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Create(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/orders", body, uuid.New(), nil))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(pkgerrors.CodeValidation), decode(t, rec).Error.Code)
		})
	}
}

func TestCreateOrderRequiresUser(t *testing.T) {
	rec := httptest.NewRecorder()
	Create(&stubOrdersService{}, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/orders", `{}`, uuid.Nil, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDetailNotFound(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		get: func(ctx context.Context, id, requesterID uuid.UUID) (*internalorders.OrderDTO, error) {
			assert.Equal(t, orderID, id)
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		},
	}

	rec := httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/api/orders/"+orderID.String(), "", uuid.New(), map[string]string{"orderId": orderID.String()}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDetailRejectsMalformedID(t *testing.T) {
	rec := httptest.NewRecorder()
	Detail(&stubOrdersService{}, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/api/orders/abc", "", uuid.New(), map[string]string{"orderId": "abc"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelOrderStateConflict(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		cancel: func(context.Context, uuid.UUID, uuid.UUID) (*internalorders.OrderDTO, error) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order can only be cancelled before confirmation")
		},
	}

	rec := httptest.NewRecorder()
	CancelOrder(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", "", uuid.New(), map[string]string{"orderId": orderID.String()}))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, string(pkgerrors.CodeStateConflict), env.Error.Code)
	assert.Equal(t, "order can only be cancelled before confirmation", env.Error.Message)
}

func TestUpdateStatusParsesStatus(t *testing.T) {
	orderID := uuid.New()
	var got enums.OrderStatus
	svc := &stubOrdersService{
		updateStatus: func(ctx context.Context, id uuid.UUID, status enums.OrderStatus, requesterID uuid.UUID) (*internalorders.OrderDTO, error) {
			got = status
			return &internalorders.OrderDTO{ID: id, Status: status}, nil
		},
	}
	params := map[string]string{"orderId": orderID.String()}

	rec := httptest.NewRecorder()
	UpdateStatus(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", `{"status":"order_confirmed"}`, uuid.New(), params))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, enums.OrderStatusConfirmed, got)

	rec = httptest.NewRecorder()
	UpdateStatus(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", `{"status":"TELEPORTED"}`, uuid.New(), params))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRespondToDeliveryRequest(t *testing.T) {
	partner := uuid.New()
	orderID := uuid.New()
	svc := &stubDeliveryService{
		respond: func(ctx context.Context, in fulfillment.RespondInput) (*fulfillment.RespondResult, error) {
			assert.Equal(t, partner, in.PartnerID)
			assert.Equal(t, orderID, in.OrderID)
			assert.True(t, in.Accept)
			return &fulfillment.RespondResult{Accepted: true, PickupToken: "TOKEN123"}, nil
		},
	}
	params := map[string]string{"orderId": orderID.String()}

	rec := httptest.NewRecorder()
	RespondToDeliveryRequest(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", `{"accept":true}`, partner, params))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result fulfillment.RespondResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	assert.Equal(t, "TOKEN123", result.PickupToken)

	rec = httptest.NewRecorder()
	RespondToDeliveryRequest(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", `{}`, partner, params))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "accept is required")
}

func TestRespondToDeliveryRequestAlreadyClaimed(t *testing.T) {
	svc := &stubDeliveryService{
		respond: func(context.Context, fulfillment.RespondInput) (*fulfillment.RespondResult, error) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "delivery already claimed")
		},
	}

	rec := httptest.NewRecorder()
	RespondToDeliveryRequest(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", `{"accept":true}`, uuid.New(), map[string]string{"orderId": uuid.NewString()}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestNotifyAndVerify(t *testing.T) {
	orderID := uuid.New()
	svc := &stubDeliveryService{
		notify: func(context.Context, uuid.UUID, uuid.UUID) (int, error) { return 3, nil },
		verify: func(ctx context.Context, id uuid.UUID, token string, actorID uuid.UUID) (bool, error) {
			return token == "GOOD", nil
		},
	}
	params := map[string]string{"orderId": orderID.String()}

	rec := httptest.NewRecorder()
	NotifyDeliveryPartners(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", "", uuid.New(), params))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"notified":3}`, string(decode(t, rec).Data))

	rec = httptest.NewRecorder()
	VerifyDeliveryToken(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", `{"token":"BAD"}`, uuid.New(), params))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"verified":false}`, string(decode(t, rec).Data))

	rec = httptest.NewRecorder()
	VerifyDeliveryToken(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", `{"token":""}`, uuid.New(), params))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
