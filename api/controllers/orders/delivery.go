package orders

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeloop-backend/api/controllers/actorcontext"
	"github.com/angelmondragon/tradeloop-backend/api/responses"
	"github.com/angelmondragon/tradeloop-backend/api/validators"
	"github.com/angelmondragon/tradeloop-backend/internal/fulfillment"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
)

// DeliveryService is the delivery broadcast surface of the fulfillment service.
type DeliveryService interface {
	NotifyDeliveryPartners(ctx context.Context, orderID, actorID uuid.UUID) (int, error)
	RespondToDeliveryRequest(ctx context.Context, in fulfillment.RespondInput) (*fulfillment.RespondResult, error)
	VerifyDeliveryToken(ctx context.Context, orderID uuid.UUID, token string, actorID uuid.UUID) (bool, error)
}

type respondDeliveryRequest struct {
	Accept          *bool   `json:"accept" validate:"required"`
	RejectionReason *string `json:"rejectionReason,omitempty" validate:"omitempty,max=500"`
}

type verifyTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

func NotifyDeliveryPartners(svc DeliveryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}

		actorID, err := actorcontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.URLParamUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		count, err := svc.NotifyDeliveryPartners(r.Context(), orderID, actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int{"notified": count})
	}
}

// RespondToDeliveryRequest records a partner's accept or reject. The pickup
// token is only present on a winning accept.
func RespondToDeliveryRequest(svc DeliveryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}

		partnerID, err := actorcontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.URLParamUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload respondDeliveryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.RejectionReason != nil {
			reason := validators.SanitizeString(*payload.RejectionReason, 500)
			payload.RejectionReason = &reason
		}

		result, err := svc.RespondToDeliveryRequest(r.Context(), fulfillment.RespondInput{
			OrderID:         orderID,
			PartnerID:       partnerID,
			Accept:          *payload.Accept,
			RejectionReason: payload.RejectionReason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func VerifyDeliveryToken(svc DeliveryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}

		actorID, err := actorcontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.URLParamUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload verifyTokenRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		verified, err := svc.VerifyDeliveryToken(r.Context(), orderID, payload.Token, actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"verified": verified})
	}
}
