package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tradeloop-backend/api/controllers/actorcontext"
	"github.com/angelmondragon/tradeloop-backend/api/responses"
	"github.com/angelmondragon/tradeloop-backend/api/validators"
	"github.com/angelmondragon/tradeloop-backend/internal/feeconfig"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
)

type FeeConfigService interface {
	List(ctx context.Context, actorID uuid.UUID) ([]feeconfig.FeeConfigurationDTO, error)
	Create(ctx context.Context, actorID uuid.UUID, in feeconfig.CreateInput) (*feeconfig.FeeConfigurationDTO, error)
	Activate(ctx context.Context, actorID, id uuid.UUID) (*feeconfig.FeeConfigurationDTO, error)
}

// Percentages accept JSON numbers or strings; the service enforces the 100% sum.
type createFeeConfigRequest struct {
	PlatformFeePercentage decimal.Decimal `json:"platformFeePercentage"`
	ShopFeePercentage     decimal.Decimal `json:"shopFeePercentage"`
	DeliveryFeePercentage decimal.Decimal `json:"deliveryFeePercentage"`
	MinimumPayoutCents    int64           `json:"minimumPayoutCents" validate:"min=0"`
	PayoutSchedule        string          `json:"payoutSchedule" validate:"required"`
}

func ListFeeConfigurations(svc FeeConfigService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fee configuration service unavailable"))
			return
		}

		actorID, err := actorcontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.List(r.Context(), actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

func CreateFeeConfiguration(svc FeeConfigService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fee configuration service unavailable"))
			return
		}

		actorID, err := actorcontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createFeeConfigRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		schedule, err := enums.ParsePayoutSchedule(strings.ToUpper(strings.TrimSpace(payload.PayoutSchedule)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payout schedule"))
			return
		}

		created, err := svc.Create(r.Context(), actorID, feeconfig.CreateInput{
			PlatformFeePercentage: payload.PlatformFeePercentage,
			ShopFeePercentage:     payload.ShopFeePercentage,
			DeliveryFeePercentage: payload.DeliveryFeePercentage,
			MinimumPayoutCents:    payload.MinimumPayoutCents,
			PayoutSchedule:        schedule,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, created)
	}
}

func ActivateFeeConfiguration(svc FeeConfigService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fee configuration service unavailable"))
			return
		}

		actorID, err := actorcontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.URLParamUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		activated, err := svc.Activate(r.Context(), actorID, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, activated)
	}
}
