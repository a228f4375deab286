package orders_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradeloop-backend/internal/fulfillment"
	"github.com/angelmondragon/tradeloop-backend/internal/inventory"
	"github.com/angelmondragon/tradeloop-backend/internal/notifications"
	"github.com/angelmondragon/tradeloop-backend/internal/orders"
	"github.com/angelmondragon/tradeloop-backend/internal/users"
	"github.com/angelmondragon/tradeloop-backend/pkg/config"
	"github.com/angelmondragon/tradeloop-backend/pkg/db"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notifications.Message
}

func (r *recordingNotifier) Notify(_ context.Context, msg notifications.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingNotifier) kinds() []notifications.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notifications.Kind, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Kind)
	}
	return out
}

type harness struct {
	svc         orders.Service
	fulfillment *fulfillment.Service
	client      *db.Client
	notifier    *recordingNotifier
	buyer       *models.User
	address     *models.Address
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	gdb := client.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(gdb), logger.Nop())
	userRepo := users.NewRepository(gdb)
	notifier := &recordingNotifier{}

	transitioner, err := orders.NewTransitioner(outboxSvc, nil)
	require.NoError(t, err)
	ful, err := fulfillment.NewService(fulfillment.ServiceParams{
		Repo:         fulfillment.NewRepository(gdb),
		Tx:           client,
		Outbox:       outboxSvc,
		Transitioner: transitioner,
		Roles:        userRepo,
		Notifier:     notifier,
		Logger:       logger.Nop(),
	})
	require.NoError(t, err)
	svc, err := orders.NewService(orders.ServiceParams{
		Repo:         orders.NewRepository(gdb),
		Tx:           client,
		Outbox:       outboxSvc,
		Transitioner: transitioner,
		Inventory:    inventory.NewGuard(),
		Users:        userRepo,
		Fulfillment:  ful,
		Notifier:     notifier,
		Checkout:     config.CheckoutConfig{DeliveryFeeCents: 499, AdditionalShopFeeCents: 199},
		Logger:       logger.Nop(),
	})
	require.NoError(t, err)

	buyer := dbtest.User(t, gdb, enums.UserRoleCustomer)
	return &harness{
		svc:         svc,
		fulfillment: ful,
		client:      client,
		notifier:    notifier,
		buyer:       buyer,
		address:     dbtest.Address(t, gdb, buyer.ID),
	}
}

func (h *harness) shopWithProduct(t *testing.T, priceCents int64, stock int) (*models.User, *models.Product) {
	t.Helper()
	owner := dbtest.User(t, h.client.DB(), enums.UserRoleShopOwner)
	shop := dbtest.Shop(t, h.client.DB(), owner.ID)
	return owner, dbtest.Product(t, h.client.DB(), shop.ID, priceCents, stock)
}

func (h *harness) placeOrder(t *testing.T, lines map[uuid.UUID]int) *orders.OrderDTO {
	t.Helper()
	cart := dbtest.Cart(t, h.client.DB(), h.buyer.ID, lines)
	dto, err := h.svc.Create(context.Background(), h.buyer.ID, orders.CreateInput{CartID: cart.ID, AddressID: h.address.ID})
	require.NoError(t, err)
	return dto
}

func (h *harness) stock(t *testing.T, productID uuid.UUID) int {
	t.Helper()
	var p models.Product
	require.NoError(t, h.client.DB().First(&p, "id = ?", productID).Error)
	return p.StockQuantity
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := orders.NewService(orders.ServiceParams{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestCreatePricesReservesAndFansOut(t *testing.T) {
	h := newHarness(t)
	partner := dbtest.User(t, h.client.DB(), enums.UserRoleDeliveryPartner)
	dbtest.DeliveryProfile(t, h.client.DB(), partner.ID)
	_, product := h.shopWithProduct(t, 1250, 5)

	dto := h.placeOrder(t, map[uuid.UUID]int{product.ID: 2})

	assert.Equal(t, enums.OrderStatusPlaced, dto.Status)
	assert.EqualValues(t, 2500, dto.SubtotalCents)
	assert.EqualValues(t, 499, dto.DeliveryFeeCents)
	assert.EqualValues(t, 2999, dto.TotalCents)
	require.Len(t, dto.Items, 1)
	assert.EqualValues(t, 1250, dto.Items[0].UnitPriceCents)
	require.NotNil(t, dto.Address)
	assert.Equal(t, "Portland", dto.Address.City)
	require.Len(t, dto.Events, 1)
	assert.Equal(t, enums.OrderStatusPlaced, dto.Events[0].EventType)

	assert.Equal(t, 3, h.stock(t, product.ID))

	var cartItems int64
	require.NoError(t, h.client.DB().Model(&models.CartItem{}).Count(&cartItems).Error)
	assert.Zero(t, cartItems)

	var tasks int64
	require.NoError(t, h.client.DB().Model(&models.Task{}).Where("order_id = ?", dto.ID).Count(&tasks).Error)
	assert.EqualValues(t, 2, tasks)

	var created int64
	require.NoError(t, h.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderCreated).Count(&created).Error)
	assert.EqualValues(t, 1, created)

	assert.Contains(t, h.notifier.kinds(), notifications.KindDeliveryRequested)
}

func TestCreateChargesPerAdditionalShop(t *testing.T) {
	h := newHarness(t)
	_, a := h.shopWithProduct(t, 1000, 5)
	_, b := h.shopWithProduct(t, 500, 5)
	_, c := h.shopWithProduct(t, 300, 5)

	dto := h.placeOrder(t, map[uuid.UUID]int{a.ID: 1, b.ID: 1, c.ID: 1})

	assert.EqualValues(t, 1800, dto.SubtotalCents)
	assert.EqualValues(t, 499+2*199, dto.DeliveryFeeCents)
	assert.EqualValues(t, 1800+499+2*199, dto.TotalCents)
}

func TestCreateUsesSalePrice(t *testing.T) {
	h := newHarness(t)
	_, product := h.shopWithProduct(t, 1000, 5)
	sale := int64(800)
	require.NoError(t, h.client.DB().Model(product).Update("sale_price_cents", sale).Error)

	dto := h.placeOrder(t, map[uuid.UUID]int{product.ID: 1})
	assert.EqualValues(t, 800, dto.SubtotalCents)
}

func TestCreateReportsEveryStockViolation(t *testing.T) {
	h := newHarness(t)
	_, short := h.shopWithProduct(t, 1000, 1)
	_, fine := h.shopWithProduct(t, 1000, 10)
	cart := dbtest.Cart(t, h.client.DB(), h.buyer.ID, map[uuid.UUID]int{short.ID: 3, fine.ID: 1})

	_, err := h.svc.Create(context.Background(), h.buyer.ID, orders.CreateInput{CartID: cart.ID, AddressID: h.address.ID})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	violations, ok := details["items"].([]inventory.Violation)
	require.True(t, ok)
	require.Len(t, violations, 1)
	assert.Equal(t, short.ID, violations[0].ProductID)

	assert.Equal(t, 1, h.stock(t, short.ID))
	assert.Equal(t, 10, h.stock(t, fine.ID))
	var orderCount int64
	require.NoError(t, h.client.DB().Model(&models.Order{}).Count(&orderCount).Error)
	assert.Zero(t, orderCount)
}

func TestCreateHidesOtherUsersCartAndAddress(t *testing.T) {
	h := newHarness(t)
	_, product := h.shopWithProduct(t, 1000, 5)
	stranger := dbtest.User(t, h.client.DB(), enums.UserRoleCustomer)
	cart := dbtest.Cart(t, h.client.DB(), stranger.ID, map[uuid.UUID]int{product.ID: 1})

	_, err := h.svc.Create(context.Background(), h.buyer.ID, orders.CreateInput{CartID: cart.ID, AddressID: h.address.ID})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = h.svc.Create(context.Background(), stranger.ID, orders.CreateInput{CartID: cart.ID, AddressID: h.address.ID})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	empty := dbtest.Cart(t, h.client.DB(), h.buyer.ID, nil)
	_, err = h.svc.Create(context.Background(), h.buyer.ID, orders.CreateInput{CartID: empty.ID, AddressID: h.address.ID})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestCreateIsForCustomers(t *testing.T) {
	h := newHarness(t)
	owner, product := h.shopWithProduct(t, 1000, 5)
	partner := dbtest.User(t, h.client.DB(), enums.UserRoleDeliveryPartner)
	ctx := context.Background()

	for _, user := range []*models.User{owner, partner} {
		addr := dbtest.Address(t, h.client.DB(), user.ID)
		cart := dbtest.Cart(t, h.client.DB(), user.ID, map[uuid.UUID]int{product.ID: 1})
		_, err := h.svc.Create(ctx, user.ID, orders.CreateInput{CartID: cart.ID, AddressID: addr.ID})
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden), "%s: %v", user.Role, err)
	}

	assert.Equal(t, 5, h.stock(t, product.ID))
	var orderCount int64
	require.NoError(t, h.client.DB().Model(&models.Order{}).Count(&orderCount).Error)
	assert.Zero(t, orderCount)
}

func TestCancelRestocksAndClosesFulfillment(t *testing.T) {
	h := newHarness(t)
	_, product := h.shopWithProduct(t, 1000, 5)
	placed := h.placeOrder(t, map[uuid.UUID]int{product.ID: 3})
	require.Equal(t, 2, h.stock(t, product.ID))

	dto, err := h.svc.CancelOrder(context.Background(), placed.ID, h.buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, dto.Status)
	assert.Equal(t, 5, h.stock(t, product.ID))

	var open int64
	require.NoError(t, h.client.DB().Model(&models.Task{}).
		Where("order_id = ? AND status <> ?", placed.ID, enums.TaskStatusCancelled).Count(&open).Error)
	assert.Zero(t, open)

	var opp models.DeliveryOpportunity
	require.NoError(t, h.client.DB().First(&opp, "order_id = ?", placed.ID).Error)
	assert.Equal(t, enums.DeliveryOpportunityCancelled, opp.Status)

	_, err = h.svc.CancelOrder(context.Background(), placed.ID, h.buyer.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
	assert.Contains(t, h.notifier.kinds(), notifications.KindOrderCancelled)
}

func TestCancelByStrangerIsNotFound(t *testing.T) {
	h := newHarness(t)
	_, product := h.shopWithProduct(t, 1000, 5)
	placed := h.placeOrder(t, map[uuid.UUID]int{product.ID: 1})
	stranger := dbtest.User(t, h.client.DB(), enums.UserRoleCustomer)

	_, err := h.svc.CancelOrder(context.Background(), placed.ID, stranger.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestCancelAfterPreparationStartedIsRefused(t *testing.T) {
	h := newHarness(t)
	owner, product := h.shopWithProduct(t, 1000, 5)
	placed := h.placeOrder(t, map[uuid.UUID]int{product.ID: 2})
	ctx := context.Background()

	for _, next := range []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusPreparationStarted} {
		_, err := h.svc.UpdateStatus(ctx, placed.ID, next, owner.ID)
		require.NoError(t, err)
	}
	require.Equal(t, 3, h.stock(t, product.ID))

	_, err := h.svc.CancelOrder(ctx, placed.ID, h.buyer.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict), "got %v", err)

	dto, err := h.svc.Get(ctx, placed.ID, h.buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPreparationStarted, dto.Status)
	assert.Equal(t, 3, h.stock(t, product.ID))

	var cancelled int64
	require.NoError(t, h.client.DB().Model(&models.OrderEvent{}).
		Where("order_id = ? AND event_type = ?", placed.ID, enums.OrderStatusCancelled).Count(&cancelled).Error)
	assert.Zero(t, cancelled)
}

func TestUpdateStatusRoleRules(t *testing.T) {
	h := newHarness(t)
	owner, product := h.shopWithProduct(t, 1000, 5)
	placed := h.placeOrder(t, map[uuid.UUID]int{product.ID: 1})
	otherOwner, _ := h.shopWithProduct(t, 1000, 5)
	ctx := context.Background()

	_, err := h.svc.UpdateStatus(ctx, placed.ID, enums.OrderStatusConfirmed, h.buyer.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	_, err = h.svc.UpdateStatus(ctx, placed.ID, enums.OrderStatusConfirmed, otherOwner.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = h.svc.UpdateStatus(ctx, placed.ID, enums.OrderStatusDelivered, owner.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	_, err = h.svc.UpdateStatus(ctx, placed.ID, enums.OrderStatusPickupCompleted, owner.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))

	_, err = h.svc.UpdateStatus(ctx, placed.ID, enums.OrderStatus("SHIPPED"), owner.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	dto, err := h.svc.UpdateStatus(ctx, placed.ID, enums.OrderStatusConfirmed, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, dto.Status)

	dto, err = h.svc.UpdateStatus(ctx, placed.ID, enums.OrderStatusConfirmed, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, dto.Status)

	dto, err = h.svc.UpdateStatus(ctx, placed.ID, enums.OrderStatusPreparationStarted, owner.ID)
	require.NoError(t, err)
	assert.Len(t, dto.Events, 3)

	_, err = h.svc.UpdateStatus(ctx, placed.ID, enums.OrderStatusConfirmed, owner.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))

	var task models.Task
	require.NoError(t, h.client.DB().First(&task, "order_id = ? AND type = ?", placed.ID, enums.TaskTypeShopFulfillment).Error)
	assert.Equal(t, enums.TaskStatusInProgress, task.Status)
}

func TestDeliveryPartnerDrivesDelivery(t *testing.T) {
	h := newHarness(t)
	partner := dbtest.User(t, h.client.DB(), enums.UserRoleDeliveryPartner)
	dbtest.DeliveryProfile(t, h.client.DB(), partner.ID)
	bystander := dbtest.User(t, h.client.DB(), enums.UserRoleDeliveryPartner)
	_, product := h.shopWithProduct(t, 1000, 5)
	placed := h.placeOrder(t, map[uuid.UUID]int{product.ID: 1})
	ctx := context.Background()

	_, err := h.svc.UpdateStatus(ctx, placed.ID, enums.OrderStatusOutForDelivery, partner.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = h.fulfillment.RespondToDeliveryRequest(ctx, fulfillment.RespondInput{OrderID: placed.ID, PartnerID: partner.ID, Accept: true})
	require.NoError(t, err)

	_, err = h.svc.UpdateStatus(ctx, placed.ID, enums.OrderStatusOutForDelivery, bystander.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = h.svc.UpdateStatus(ctx, placed.ID, enums.OrderStatusConfirmed, partner.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	for _, next := range []enums.OrderStatus{enums.OrderStatusOutForDelivery, enums.OrderStatusDeliveryAttempted, enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered} {
		dto, err := h.svc.UpdateStatus(ctx, placed.ID, next, partner.ID)
		require.NoError(t, err)
		assert.Equal(t, next, dto.Status)
	}

	var assignment models.Task
	require.NoError(t, h.client.DB().First(&assignment, "order_id = ? AND type = ?", placed.ID, enums.TaskTypeDeliveryAssignment).Error)
	assert.Equal(t, enums.TaskStatusCompleted, assignment.Status)

	dto, err := h.svc.Get(ctx, placed.ID, partner.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, dto.Status)
}

func TestAdminCancelAfterConfirmRestocks(t *testing.T) {
	h := newHarness(t)
	owner, product := h.shopWithProduct(t, 1000, 5)
	admin := dbtest.User(t, h.client.DB(), enums.UserRoleAdmin)
	placed := h.placeOrder(t, map[uuid.UUID]int{product.ID: 2})
	ctx := context.Background()

	_, err := h.svc.UpdateStatus(ctx, placed.ID, enums.OrderStatusConfirmed, owner.ID)
	require.NoError(t, err)

	dto, err := h.svc.UpdateStatus(ctx, placed.ID, enums.OrderStatusCancelled, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, dto.Status)
	assert.Equal(t, 5, h.stock(t, product.ID))
}

func TestGetAccess(t *testing.T) {
	h := newHarness(t)
	owner, product := h.shopWithProduct(t, 1000, 5)
	placed := h.placeOrder(t, map[uuid.UUID]int{product.ID: 1})
	admin := dbtest.User(t, h.client.DB(), enums.UserRoleAdmin)
	stranger := dbtest.User(t, h.client.DB(), enums.UserRoleCustomer)
	otherOwner, _ := h.shopWithProduct(t, 1000, 5)
	ctx := context.Background()

	for _, id := range []uuid.UUID{h.buyer.ID, owner.ID, admin.ID} {
		_, err := h.svc.Get(ctx, placed.ID, id)
		require.NoError(t, err)
	}
	for _, id := range []uuid.UUID{stranger.ID, otherOwner.ID} {
		_, err := h.svc.Get(ctx, placed.ID, id)
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
	}
	_, err := h.svc.Get(ctx, uuid.New(), h.buyer.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}
