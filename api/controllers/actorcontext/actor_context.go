package actorcontext

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeloop-backend/api/middleware"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
)

// ResolveUserID extracts the authenticated caller placed in context by middleware.Auth.
func ResolveUserID(r *http.Request) (uuid.UUID, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return id, nil
}
