package users

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	"github.com/angelmondragon/tradeloop-backend/pkg/types"
)

// Actor is the authenticated identity supplied by the auth collaborator.
type Actor struct {
	ID    uuid.UUID
	Email string
	Role  enums.UserRole
}

// Snapshot copies an address-book entry into an owned value.
func Snapshot(addr *models.Address) types.AddressSnapshot {
	if addr == nil {
		return types.AddressSnapshot{}
	}
	return types.AddressSnapshot{
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		Region:     addr.Region,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Latitude:   addr.Latitude,
		Longitude:  addr.Longitude,
	}
}
