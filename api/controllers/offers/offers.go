package offers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeloop-backend/api/controllers/actorcontext"
	"github.com/angelmondragon/tradeloop-backend/api/responses"
	"github.com/angelmondragon/tradeloop-backend/api/validators"
	internaloffers "github.com/angelmondragon/tradeloop-backend/internal/offers"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
)

const maxOfferMessageLength = 1000

type Service interface {
	CreateOffer(ctx context.Context, buyerID uuid.UUID, in internaloffers.CreateInput) (*internaloffers.CreateResult, error)
	RespondToOffer(ctx context.Context, responderID uuid.UUID, in internaloffers.RespondInput) (*internaloffers.RespondResult, error)
	WithdrawOffer(ctx context.Context, offerID, buyerID uuid.UUID) (*internaloffers.OfferDTO, error)
}

type createOfferRequest struct {
	ItemID           string  `json:"itemId" validate:"required,uuid"`
	OfferAmountCents int64   `json:"offerAmountCents" validate:"required,gt=0"`
	Message          *string `json:"message,omitempty"`
}

type respondOfferRequest struct {
	ConversationID string `json:"conversationId" validate:"required,uuid"`
	Status         string `json:"status" validate:"required"`
}

// Create opens (or continues) the buyer's conversation with an offer message.
func Create(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offers service unavailable"))
			return
		}

		buyerID, err := actorcontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createOfferRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.ParseUUID(payload.ItemID, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var message *string
		if payload.Message != nil {
			if m := validators.SanitizeString(*payload.Message, maxOfferMessageLength); m != "" {
				message = &m
			}
		}

		result, err := svc.CreateOffer(r.Context(), buyerID, internaloffers.CreateInput{
			ItemID:           itemID,
			OfferAmountCents: payload.OfferAmountCents,
			Message:          message,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// Respond lets the seller accept or reject a pending offer.
func Respond(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offers service unavailable"))
			return
		}

		responderID, err := actorcontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offerID, err := validators.URLParamUUID(r, "offerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload respondOfferRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		conversationID, err := validators.ParseUUID(payload.ConversationID, "conversationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := enums.OfferStatus(strings.ToUpper(strings.TrimSpace(payload.Status)))
		if status != enums.OfferStatusAccepted && status != enums.OfferStatusRejected {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "status must be ACCEPTED or REJECTED"))
			return
		}

		result, err := svc.RespondToOffer(r.Context(), responderID, internaloffers.RespondInput{
			OfferID:        offerID,
			ConversationID: conversationID,
			Status:         status,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func Withdraw(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offers service unavailable"))
			return
		}

		buyerID, err := actorcontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offerID, err := validators.URLParamUUID(r, "offerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		offer, err := svc.WithdrawOffer(r.Context(), offerID, buyerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, offer)
	}
}
