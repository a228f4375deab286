package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/internal/inventory"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
)

// Repository defines persistence for orders and the carts they come from.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	AppendEvent(ctx context.Context, event *models.OrderEvent) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindDetail(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error)
	ClearCart(ctx context.Context, cartID uuid.UUID) error
	ShopOwners(ctx context.Context, shopIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error)
	ClaimedPartner(ctx context.Context, orderID uuid.UUID) (*uuid.UUID, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type stockGuard interface {
	LockProducts(ctx context.Context, tx *gorm.DB, lines []inventory.Line) error
	Check(ctx context.Context, tx *gorm.DB, lines []inventory.Line) (map[uuid.UUID]models.Product, error)
	Reserve(ctx context.Context, tx *gorm.DB, lines []inventory.Line) ([]inventory.LowStock, error)
	Release(ctx context.Context, tx *gorm.DB, lines []inventory.Line) (int, error)
}

type userDirectory interface {
	RoleOf(ctx context.Context, id uuid.UUID) (enums.UserRole, error)
	FindOwnedAddress(ctx context.Context, addressID, userID uuid.UUID) (*models.Address, error)
}

// FanOut is what planning fulfillment produced for one order.
type FanOut struct {
	OpportunityID  uuid.UUID
	ShopOwnerIDs   []uuid.UUID
	PartnerUserIDs []uuid.UUID
}

// Fulfillment plans work for new orders and keeps tasks aligned with order
// status. Both methods run inside the caller's transaction.
type Fulfillment interface {
	Plan(ctx context.Context, tx *gorm.DB, order *models.Order) (*FanOut, error)
	SyncOrderStatus(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, status enums.OrderStatus, actorID uuid.UUID) error
}
