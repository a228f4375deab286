package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradeloop-backend/api/middleware"
	internalpayments "github.com/angelmondragon/tradeloop-backend/internal/payments"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
)

type stubIntentService struct {
	order func(ctx context.Context, requesterID uuid.UUID, in internalpayments.OrderIntentInput) (*internalpayments.IntentResult, error)
	p2p   func(ctx context.Context, requesterID uuid.UUID, in internalpayments.P2PIntentInput) (*internalpayments.IntentResult, error)
}

func (s *stubIntentService) CreateOrderPaymentIntent(ctx context.Context, requesterID uuid.UUID, in internalpayments.OrderIntentInput) (*internalpayments.IntentResult, error) {
	return s.order(ctx, requesterID, in)
}

func (s *stubIntentService) CreateP2PPaymentIntent(ctx context.Context, requesterID uuid.UUID, in internalpayments.P2PIntentInput) (*internalpayments.IntentResult, error) {
	return s.p2p(ctx, requesterID, in)
}

type stubMethodService struct {
	attach func(ctx context.Context, userID uuid.UUID, in internalpayments.AttachMethodInput) (*internalpayments.PaymentMethodDTO, error)
	detach func(ctx context.Context, userID, id uuid.UUID) (*internalpayments.PaymentMethodDTO, error)
}

func (s *stubMethodService) AttachPaymentMethod(ctx context.Context, userID uuid.UUID, in internalpayments.AttachMethodInput) (*internalpayments.PaymentMethodDTO, error) {
	return s.attach(ctx, userID, in)
}

func (s *stubMethodService) DetachPaymentMethod(ctx context.Context, userID, id uuid.UUID) (*internalpayments.PaymentMethodDTO, error) {
	return s.detach(ctx, userID, id)
}

func newRequest(method, body string, userID uuid.UUID, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	ctx := middleware.WithUserID(req.Context(), userID.String())
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(ctx, chi.RouteCtxKey, rctx))
}

func TestCreateOrderIntent(t *testing.T) {
	buyer := uuid.New()
	orderID := uuid.New()
	svc := &stubIntentService{
		order: func(ctx context.Context, requesterID uuid.UUID, in internalpayments.OrderIntentInput) (*internalpayments.IntentResult, error) {
			assert.Equal(t, buyer, requesterID)
			assert.Equal(t, orderID, in.OrderID)
			assert.Equal(t, "pm_card_visa", in.PaymentMethodID)
			return &internalpayments.IntentResult{
				IntentID:     "pi_123",
				ClientSecret: "pi_123_secret",
				OrderID:      &orderID,
				AmountCents:  10499,
				Currency:     "usd",
				Status:       enums.PaymentStatusPending,
			}, nil
		},
	}

	rec := httptest.NewRecorder()
	CreateOrderIntent(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, `{"orderId":"`+orderID.String()+`","paymentMethodId":"pm_card_visa"}`, buyer, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var env struct {
		Data internalpayments.IntentResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "pi_123_secret", env.Data.ClientSecret)
	assert.Equal(t, int64(10499), env.Data.AmountCents)
}

func TestCreateOrderIntentRequiresPaymentMethod(t *testing.T) {
	rec := httptest.NewRecorder()
	CreateOrderIntent(&stubIntentService{}, nil).ServeHTTP(rec, newRequest(http.MethodPost, `{"orderId":"`+uuid.NewString()+`"}`, uuid.New(), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrderIntentSurfacesGatewayMessage(t *testing.T) {
	svc := &stubIntentService{
		order: func(context.Context, uuid.UUID, internalpayments.OrderIntentInput) (*internalpayments.IntentResult, error) {
			return nil, pkgerrors.Upstream(errors.New("stripe: card_declined"), "payment gateway: Your card was declined.")
		},
	}

	rec := httptest.NewRecorder()
	CreateOrderIntent(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, `{"orderId":"`+uuid.NewString()+`","paymentMethodId":"pm_1"}`, uuid.New(), nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Your card was declined.")
}

func TestCreateOrderIntentConfigurationMissing(t *testing.T) {
	svc := &stubIntentService{
		order: func(context.Context, uuid.UUID, internalpayments.OrderIntentInput) (*internalpayments.IntentResult, error) {
			return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "no active fee configuration")
		},
	}

	rec := httptest.NewRecorder()
	CreateOrderIntent(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, `{"orderId":"`+uuid.NewString()+`","paymentMethodId":"pm_1"}`, uuid.New(), nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), string(pkgerrors.CodeConfiguration))
}

func TestCreateP2PIntent(t *testing.T) {
	offerID := uuid.New()
	addressID := uuid.New()
	svc := &stubIntentService{
		p2p: func(ctx context.Context, requesterID uuid.UUID, in internalpayments.P2PIntentInput) (*internalpayments.IntentResult, error) {
			assert.Equal(t, offerID, in.OfferID)
			assert.Equal(t, addressID, in.AddressID)
			return &internalpayments.IntentResult{AmountCents: 8799}, nil
		},
	}

	body := `{"offerId":"` + offerID.String() + `","addressId":"` + addressID.String() + `","paymentMethodId":"pm_1"}`
	rec := httptest.NewRecorder()
	CreateP2PIntent(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, body, uuid.New(), nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"amountCents":8799`)
}

func TestAttachAndDetachPaymentMethod(t *testing.T) {
	user := uuid.New()
	methodID := uuid.New()
	svc := &stubMethodService{
		attach: func(ctx context.Context, userID uuid.UUID, in internalpayments.AttachMethodInput) (*internalpayments.PaymentMethodDTO, error) {
			assert.Equal(t, user, userID)
			assert.Equal(t, "pm_1", in.ProviderPaymentMethodID)
			assert.True(t, in.MakeDefault)
			return &internalpayments.PaymentMethodDTO{ID: methodID, IsDefault: true}, nil
		},
		detach: func(ctx context.Context, userID, id uuid.UUID) (*internalpayments.PaymentMethodDTO, error) {
			assert.Equal(t, methodID, id)
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment method not found")
		},
	}

	rec := httptest.NewRecorder()
	AttachPaymentMethod(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, `{"paymentMethodId":"pm_1","makeDefault":true}`, user, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	DetachPaymentMethod(svc, nil).ServeHTTP(rec, newRequest(http.MethodDelete, "", user, map[string]string{"id": methodID.String()}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
