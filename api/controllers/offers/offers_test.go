package offers

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
	internaloffers "github.com/angelmondragon/tradeloop-backend/internal/offers"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
)

type stubOffersService struct {
	create   func(ctx context.Context, buyerID uuid.UUID, in internaloffers.CreateInput) (*internaloffers.CreateResult, error)
	respond  func(ctx context.Context, responderID uuid.UUID, in internaloffers.RespondInput) (*internaloffers.RespondResult, error)
	withdraw func(ctx context.Context, offerID, buyerID uuid.UUID) (*internaloffers.OfferDTO, error)
}

func (s *stubOffersService) CreateOffer(ctx context.Context, buyerID uuid.UUID, in internaloffers.CreateInput) (*internaloffers.CreateResult, error) {
	return s.create(ctx, buyerID, in)
}

func (s *stubOffersService) RespondToOffer(ctx context.Context, responderID uuid.UUID, in internaloffers.RespondInput) (*internaloffers.RespondResult, error) {
	return s.respond(ctx, responderID, in)
}

func (s *stubOffersService) WithdrawOffer(ctx context.Context, offerID, buyerID uuid.UUID) (*internaloffers.OfferDTO, error) {
	return s.withdraw(ctx, offerID, buyerID)
}

func newRequest(body string, userID uuid.UUID, params map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/offers", strings.NewReader(body))
	ctx := middleware.WithUserID(req.Context(), userID.String())
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(ctx, chi.RouteCtxKey, rctx))
}

func TestCreateOffer(t *testing.T) {
	buyer := uuid.New()
	itemID := uuid.New()
	svc := &stubOffersService{
		create: func(ctx context.Context, buyerID uuid.UUID, in internaloffers.CreateInput) (*internaloffers.CreateResult, error) {
			assert.Equal(t, buyer, buyerID)
			assert.Equal(t, itemID, in.ItemID)
			assert.Equal(t, int64(8000), in.OfferAmountCents)
			assert.Nil(t, in.Message, "blank messages are dropped")
			return &internaloffers.CreateResult{Offer: internaloffers.OfferDTO{ItemID: itemID, Status: enums.OfferStatusPending}}, nil
		},
	}

	rec := httptest.NewRecorder()
	Create(svc, nil).ServeHTTP(rec, newRequest(`{"itemId":"`+itemID.String()+`","offerAmountCents":8000,"message":"   "}`, buyer, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var env struct {
		Data internaloffers.CreateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, enums.OfferStatusPending, env.Data.Offer.Status)
}

func TestCreateOfferRejectsNonPositiveAmount(t *testing.T) {
	rec := httptest.NewRecorder()
	Create(&stubOffersService{}, nil).ServeHTTP(rec, newRequest(`{"itemId":"`+uuid.NewString()+`","offerAmountCents":0}`, uuid.New(), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	Create(&stubOffersService{}, nil).ServeHTTP(rec, newRequest(`{"itemId":"`+uuid.NewString()+`","offerAmountCents":-5}`, uuid.New(), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRespondOnlyAcceptsTerminalDecisions(t *testing.T) {
	offerID := uuid.New()
	conversationID := uuid.New()
	var got enums.OfferStatus
	svc := &stubOffersService{
		respond: func(ctx context.Context, responderID uuid.UUID, in internaloffers.RespondInput) (*internaloffers.RespondResult, error) {
			assert.Equal(t, offerID, in.OfferID)
			assert.Equal(t, conversationID, in.ConversationID)
			got = in.Status
			return &internaloffers.RespondResult{}, nil
		},
	}
	params := map[string]string{"offerId": offerID.String()}

	rec := httptest.NewRecorder()
	Respond(svc, nil).ServeHTTP(rec, newRequest(`{"conversationId":"`+conversationID.String()+`","status":"accepted"}`, uuid.New(), params))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, enums.OfferStatusAccepted, got)

	rec = httptest.NewRecorder()
	Respond(svc, nil).ServeHTTP(rec, newRequest(`{"conversationId":"`+conversationID.String()+`","status":"WITHDRAWN"}`, uuid.New(), params))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRespondForbiddenForNonSeller(t *testing.T) {
	svc := &stubOffersService{
		respond: func(context.Context, uuid.UUID, internaloffers.RespondInput) (*internaloffers.RespondResult, error) {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can respond to this offer")
		},
	}

	rec := httptest.NewRecorder()
	Respond(svc, nil).ServeHTTP(rec, newRequest(`{"conversationId":"`+uuid.NewString()+`","status":"REJECTED"}`, uuid.New(), map[string]string{"offerId": uuid.NewString()}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWithdraw(t *testing.T) {
	offerID := uuid.New()
	buyer := uuid.New()
	svc := &stubOffersService{
		withdraw: func(ctx context.Context, id, buyerID uuid.UUID) (*internaloffers.OfferDTO, error) {
			assert.Equal(t, offerID, id)
			assert.Equal(t, buyer, buyerID)
			return &internaloffers.OfferDTO{ID: id, Status: enums.OfferStatusWithdrawn}, nil
		},
	}

	rec := httptest.NewRecorder()
	Withdraw(svc, nil).ServeHTTP(rec, newRequest("", buyer, map[string]string{"offerId": offerID.String()}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"WITHDRAWN"`)
}
