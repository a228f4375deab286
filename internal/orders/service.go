// Package orders owns the catalog order lifecycle: checkout from a cart,
// cancellation, role-gated status updates and the transition table behind them.
package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/internal/inventory"
	"github.com/angelmondragon/tradeloop-backend/internal/notifications"
	"github.com/angelmondragon/tradeloop-backend/pkg/config"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tradeloop-backend/pkg/tracing"
)

// Service defines order operations exposed to the API.
type Service interface {
	Create(ctx context.Context, requesterID uuid.UUID, input CreateInput) (*OrderDTO, error)
	CancelOrder(ctx context.Context, orderID, requesterID uuid.UUID) (*OrderDTO, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus, requesterID uuid.UUID) (*OrderDTO, error)
	Get(ctx context.Context, orderID, requesterID uuid.UUID) (*OrderDTO, error)
}

var shopOwnerTargets = map[enums.OrderStatus]bool{
	enums.OrderStatusConfirmed:          true,
	enums.OrderStatusPreparationStarted: true,
	enums.OrderStatusReadyForPickup:     true,
	enums.OrderStatusCancelled:          true,
	enums.OrderStatusRefundRequested:    true,
}

var partnerTargets = map[enums.OrderStatus]bool{
	enums.OrderStatusOutForDelivery:    true,
	enums.OrderStatusDeliveryAttempted: true,
	enums.OrderStatusDelivered:         true,
}

type ServiceParams struct {
	Repo         Repository
	Tx           txRunner
	Outbox       outboxPublisher
	Transitioner *Transitioner
	Inventory    stockGuard
	Users        userDirectory
	Fulfillment  Fulfillment
	Notifier     notifications.Notifier
	Checkout     config.CheckoutConfig
	Logger       *logger.Logger
}

type service struct {
	repo        Repository
	tx          txRunner
	outbox      outboxPublisher
	transitions *Transitioner
	inventory   stockGuard
	users       userDirectory
	fulfillment Fulfillment
	notifier    notifications.Notifier
	checkout    config.CheckoutConfig
	logg        *logger.Logger
}

// NewService builds the order service with the required dependencies.
func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case p.Transitioner == nil:
		return nil, fmt.Errorf("order transitioner required")
	case p.Inventory == nil:
		return nil, fmt.Errorf("inventory guard required")
	case p.Users == nil:
		return nil, fmt.Errorf("user directory required")
	case p.Fulfillment == nil:
		return nil, fmt.Errorf("fulfillment planner required")
	}
	return &service{
		repo:        p.Repo,
		tx:          p.Tx,
		outbox:      p.Outbox,
		transitions: p.Transitioner,
		inventory:   p.Inventory,
		users:       p.Users,
		fulfillment: p.Fulfillment,
		notifier:    p.Notifier,
		checkout:    p.Checkout,
		logg:        p.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, requesterID uuid.UUID, input CreateInput) (dto *OrderDTO, err error) {
	ctx, span := tracing.Start(ctx, "orders.create", attribute.String("cart_id", input.CartID.String()))
	defer func() { tracing.End(span, err) }()

	if requesterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.CartID == uuid.Nil || input.AddressID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id and address id required")
	}
	role, err := s.users.RoleOf(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if role != enums.UserRoleCustomer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can place orders")
	}

	address, err := s.users.FindOwnedAddress(ctx, input.AddressID, requesterID)
	if err != nil {
		return nil, notFoundOr(err, "address not found", "load address")
	}

	var (
		created *models.Order
		fanOut  *FanOut
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		cart, err := repo.FindCart(ctx, input.CartID)
		if err != nil {
			return notFoundOr(err, "cart not found", "load cart")
		}
		if cart.UserID != requesterID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		if len(cart.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}

		lines := make([]inventory.Line, 0, len(cart.Items))
		for _, item := range cart.Items {
			lines = append(lines, inventory.Line{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		if err := s.inventory.LockProducts(ctx, tx, lines); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock products")
		}
		products, err := s.inventory.Check(ctx, tx, lines)
		if err != nil {
			return err
		}

		order := s.price(cart, products)
		order.UserID = requesterID
		order.AddressID = address.ID
		order.Notes = input.Notes
		order.Status = enums.OrderStatusPlaced
		order.Events = []models.OrderEvent{{
			EventType:       enums.OrderStatusPlaced,
			CreatedByUserID: &requesterID,
			Metadata:        map[string]any{"cart_id": cart.ID.String()},
		}}
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		low, err := s.inventory.Reserve(ctx, tx, lines)
		if err != nil {
			return err
		}
		if err := s.emitLowStock(ctx, tx, low); err != nil {
			return err
		}

		if err := repo.ClearCart(ctx, cart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}

		fanOut, err = s.fulfillment.Plan(ctx, tx, order)
		if err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: requesterID, Role: string(enums.UserRoleCustomer)},
			Data: payloads.OrderCreatedEvent{
				OrderID:          order.ID,
				BuyerUserID:      requesterID,
				ShopIDs:          order.ShopIDs(),
				SubtotalCents:    order.SubtotalCents,
				DeliveryFeeCents: order.DeliveryFeeCents,
				TotalCents:       order.TotalCents,
				ItemCount:        len(order.Items),
			},
		}); err != nil {
			return err
		}

		created, err = repo.FindDetail(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyCreated(ctx, created, fanOut)
	out := FromModel(created)
	return &out, nil
}

// price snapshots unit prices and computes totals. The first shop carries the
// base delivery fee; each additional shop adds the per-shop surcharge.
func (s *service) price(cart *models.Cart, products map[uuid.UUID]models.Product) *models.Order {
	order := &models.Order{Items: make([]models.OrderItem, 0, len(cart.Items))}
	shops := map[uuid.UUID]struct{}{}
	for i, item := range cart.Items {
		product := products[item.ProductID]
		unit := product.EffectivePriceCents()
		subtotal := unit * int64(item.Quantity)
		order.Items = append(order.Items, models.OrderItem{
			ProductID:      product.ID,
			ShopID:         product.ShopID,
			Position:       i,
			Quantity:       item.Quantity,
			UnitPriceCents: unit,
			SubtotalCents:  subtotal,
		})
		order.SubtotalCents += subtotal
		shops[product.ShopID] = struct{}{}
	}
	order.DeliveryFeeCents = s.checkout.DeliveryFeeCents
	if extra := len(shops) - 1; extra > 0 {
		order.DeliveryFeeCents += int64(extra) * s.checkout.AdditionalShopFeeCents
	}
	order.TotalCents = order.SubtotalCents + order.DeliveryFeeCents
	return order
}

func (s *service) emitLowStock(ctx context.Context, tx *gorm.DB, low []inventory.LowStock) error {
	for _, l := range low {
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProductLowStock,
			AggregateType: enums.AggregateProduct,
			AggregateID:   l.ProductID,
			Data: payloads.ProductLowStockEvent{
				ProductID:         l.ProductID,
				ShopID:            l.ShopID,
				StockQuantity:     l.StockQuantity,
				LowStockThreshold: l.LowStockThreshold,
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) notifyCreated(ctx context.Context, order *models.Order, fanOut *FanOut) {
	data := map[string]string{"order_id": order.ID.String()}
	msgs := []notifications.Message{{
		Kind:       notifications.KindOrderPlaced,
		Recipients: []uuid.UUID{order.UserID},
		Title:      "Order placed",
		Body:       fmt.Sprintf("Your order total is %d cents.", order.TotalCents),
		Data:       data,
	}}
	if fanOut != nil {
		msgs = append(msgs,
			notifications.Message{
				Kind:       notifications.KindOrderPlaced,
				Recipients: fanOut.ShopOwnerIDs,
				Title:      "New order to prepare",
				Data:       data,
			},
			notifications.Message{
				Kind:       notifications.KindDeliveryRequested,
				Recipients: fanOut.PartnerUserIDs,
				Title:      "New delivery available",
				Data:       data,
			},
		)
	}
	notifications.Deliver(ctx, s.notifier, s.logg, msgs...)
}

func (s *service) CancelOrder(ctx context.Context, orderID, requesterID uuid.UUID) (dto *OrderDTO, err error) {
	ctx, span := tracing.Start(ctx, "orders.cancel", attribute.String("order_id", orderID.String()))
	defer func() { tracing.End(span, err) }()

	var cancelled *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return notFoundOr(err, "order not found", "load order")
		}
		if order.UserID != requesterID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.Status != enums.OrderStatusPlaced {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order can only be cancelled before the shop starts processing")
		}

		if err := s.cancelInTx(ctx, tx, order, requesterID, enums.UserRoleCustomer, "cancelled by customer"); err != nil {
			return err
		}
		cancelled, err = repo.FindDetail(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyCancelled(ctx, cancelled)
	out := FromModel(cancelled)
	return &out, nil
}

// cancelInTx restores stock, moves the order to CANCELLED and closes out its
// fulfillment work.
func (s *service) cancelInTx(ctx context.Context, tx *gorm.DB, order *models.Order, actorID uuid.UUID, role enums.UserRole, reason string) error {
	lines := make([]inventory.Line, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, inventory.Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	restored, err := s.inventory.Release(ctx, tx, lines)
	if err != nil {
		return err
	}

	if _, err := s.transitions.Apply(ctx, tx, TransitionInput{
		OrderID:   order.ID,
		From:      order.Status,
		To:        enums.OrderStatusCancelled,
		ActorID:   &actorID,
		ActorRole: role,
		Reason:    reason,
		Metadata:  map[string]any{"restocked_units": restored},
	}); err != nil {
		return err
	}

	if err := s.fulfillment.SyncOrderStatus(ctx, tx, order.ID, enums.OrderStatusCancelled, actorID); err != nil {
		return err
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: actorID, Role: string(role)},
		Data: payloads.OrderCancelledEvent{
			OrderID:        order.ID,
			CancelledBy:    actorID,
			PreviousStatus: string(order.Status),
			Reason:         reason,
			RestockedUnits: restored,
		},
	})
}

func (s *service) notifyCancelled(ctx context.Context, order *models.Order) {
	owners, err := s.repo.ShopOwners(ctx, order.ShopIDs())
	if err != nil {
		s.logg.Error(ctx, "load shop owners for cancellation notice", err)
	}
	recipients := []uuid.UUID{order.UserID}
	for _, owner := range owners {
		recipients = append(recipients, owner)
	}
	notifications.Deliver(ctx, s.notifier, s.logg, notifications.Message{
		Kind:       notifications.KindOrderCancelled,
		Recipients: recipients,
		Title:      "Order cancelled",
		Data:       map[string]string{"order_id": order.ID.String()},
	})
}

func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus, requesterID uuid.UUID) (dto *OrderDTO, err error) {
	ctx, span := tracing.Start(ctx, "orders.update_status",
		attribute.String("order_id", orderID.String()),
		attribute.String("status", string(status)),
	)
	defer func() { tracing.End(span, err) }()

	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	if status == enums.OrderStatusPickupCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "pickup is completed by delivery acceptance")
	}
	role, err := s.users.RoleOf(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	var (
		updated   *models.Order
		cancelled bool
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return notFoundOr(err, "order not found", "load order")
		}
		if err := s.authorizeStatus(ctx, repo, order, role, requesterID, status); err != nil {
			return err
		}

		if order.Status != status {
			if status == enums.OrderStatusCancelled {
				if !CanTransition(order.Status, status) {
					return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot move from %s to %s", order.Status, status))
				}
				if err := s.cancelInTx(ctx, tx, order, requesterID, role, "cancelled by "+string(role)); err != nil {
					return err
				}
				cancelled = true
			} else {
				if _, err := s.transitions.Apply(ctx, tx, TransitionInput{
					OrderID:   order.ID,
					From:      order.Status,
					To:        status,
					ActorID:   &requesterID,
					ActorRole: role,
				}); err != nil {
					return err
				}
				if err := s.fulfillment.SyncOrderStatus(ctx, tx, order.ID, status, requesterID); err != nil {
					return err
				}
			}
		}

		updated, err = repo.FindDetail(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cancelled {
		s.notifyCancelled(ctx, updated)
	}
	out := FromModel(updated)
	return &out, nil
}

// authorizeStatus applies the role rules for status updates. Actors with no
// relation to the order see NotFound.
func (s *service) authorizeStatus(ctx context.Context, repo Repository, order *models.Order, role enums.UserRole, actorID uuid.UUID, to enums.OrderStatus) error {
	switch role {
	case enums.UserRoleAdmin:
		return nil
	case enums.UserRoleShopOwner:
		owns, err := s.ownsShopIn(ctx, repo, order, actorID)
		if err != nil {
			return err
		}
		if !owns {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if !shopOwnerTargets[to] {
			return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("shop owners cannot set %s", to))
		}
		return nil
	case enums.UserRoleDeliveryPartner:
		claimed, err := repo.ClaimedPartner(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery claim")
		}
		if claimed == nil || *claimed != actorID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if !partnerTargets[to] {
			return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("delivery partners cannot set %s", to))
		}
		return nil
	default:
		if order.UserID == actorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "customers cannot update order status")
		}
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
}

func (s *service) ownsShopIn(ctx context.Context, repo Repository, order *models.Order, actorID uuid.UUID) (bool, error) {
	owners, err := repo.ShopOwners(ctx, order.ShopIDs())
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop owners")
	}
	for _, owner := range owners {
		if owner == actorID {
			return true, nil
		}
	}
	return false, nil
}

func (s *service) Get(ctx context.Context, orderID, requesterID uuid.UUID) (*OrderDTO, error) {
	order, err := s.repo.FindDetail(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "order not found", "load order")
	}
	if order.UserID != requesterID {
		role, err := s.users.RoleOf(ctx, requesterID)
		if err != nil {
			return nil, err
		}
		allowed := role == enums.UserRoleAdmin
		switch role {
		case enums.UserRoleShopOwner:
			if allowed, err = s.ownsShopIn(ctx, s.repo, order, requesterID); err != nil {
				return nil, err
			}
		case enums.UserRoleDeliveryPartner:
			claimed, err := s.repo.ClaimedPartner(ctx, order.ID)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery claim")
			}
			allowed = claimed != nil && *claimed == requesterID
		}
		if !allowed {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
	}
	out := FromModel(order)
	return &out, nil
}

func notFoundOr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
