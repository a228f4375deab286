package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
)

func TestCanTransitionTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to enums.OrderStatus
		want     bool
	}{
		{enums.OrderStatusPlaced, enums.OrderStatusConfirmed, true},
		{enums.OrderStatusPlaced, enums.OrderStatusCancelled, true},
		{enums.OrderStatusPlaced, enums.OrderStatusPickupCompleted, true},
		{enums.OrderStatusPlaced, enums.OrderStatusDelivered, false},
		{enums.OrderStatusConfirmed, enums.OrderStatusPreparationStarted, true},
		{enums.OrderStatusPreparationStarted, enums.OrderStatusConfirmed, false},
		{enums.OrderStatusPickupCompleted, enums.OrderStatusCancelled, false},
		{enums.OrderStatusOutForDelivery, enums.OrderStatusDeliveryAttempted, true},
		{enums.OrderStatusDeliveryAttempted, enums.OrderStatusOutForDelivery, true},
		{enums.OrderStatusDelivered, enums.OrderStatusRefundRequested, true},
		{enums.OrderStatusRefundRequested, enums.OrderStatusRefundProcessed, true},
		{enums.OrderStatusCancelled, enums.OrderStatusPlaced, false},
		{enums.OrderStatusPaymentPending, enums.OrderStatusPlaced, true},
		{enums.OrderStatusPaymentCompleted, enums.OrderStatusPlaced, false},
		{enums.OrderStatusRefundProcessed, enums.OrderStatusDelivered, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	t.Parallel()

	for _, s := range []enums.OrderStatus{enums.OrderStatusCancelled, enums.OrderStatusRefundProcessed} {
		if !IsTerminal(s) {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	if IsTerminal(enums.OrderStatusDelivered) {
		t.Fatalf("delivered orders can still request a refund")
	}
}

func seedOrder(t *testing.T, gdb *gorm.DB, status enums.OrderStatus) *models.Order {
	t.Helper()
	buyer := dbtest.User(t, gdb, enums.UserRoleCustomer)
	addr := dbtest.Address(t, gdb, buyer.ID)
	order := &models.Order{UserID: buyer.ID, AddressID: addr.ID, SubtotalCents: 100, TotalCents: 100, Status: status}
	require.NoError(t, gdb.Create(order).Error)
	return order
}

func TestApplyWritesEventAndOutbox(t *testing.T) {
	client := dbtest.Open(t)
	tr, err := NewTransitioner(outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop()), nil)
	require.NoError(t, err)
	order := seedOrder(t, client.DB(), enums.OrderStatusPlaced)
	actor := uuid.New()

	err = client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := tr.Apply(context.Background(), tx, TransitionInput{
			OrderID:   order.ID,
			From:      enums.OrderStatusPlaced,
			To:        enums.OrderStatusConfirmed,
			ActorID:   &actor,
			ActorRole: enums.UserRoleShopOwner,
			Reason:    "accepted by shop",
		})
		return err
	})
	require.NoError(t, err)

	var reloaded models.Order
	require.NoError(t, client.DB().First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusConfirmed, reloaded.Status)

	var events []models.OrderEvent
	require.NoError(t, client.DB().Where("order_id = ?", order.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, string(enums.OrderStatusPlaced), events[0].Metadata["from"])
	assert.Equal(t, "accepted by shop", events[0].Metadata["reason"])

	var outboxRows int64
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderStatusChanged).Count(&outboxRows).Error)
	assert.EqualValues(t, 1, outboxRows)
}

func TestApplyRejectsStaleFromStatus(t *testing.T) {
	client := dbtest.Open(t)
	tr, err := NewTransitioner(outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop()), nil)
	require.NoError(t, err)
	order := seedOrder(t, client.DB(), enums.OrderStatusConfirmed)

	err = client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := tr.Apply(context.Background(), tx, TransitionInput{
			OrderID: order.ID,
			From:    enums.OrderStatusPlaced,
			To:      enums.OrderStatusPaymentPending,
		})
		return err
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))

	var events int64
	require.NoError(t, client.DB().Model(&models.OrderEvent{}).Count(&events).Error)
	assert.Zero(t, events)
}

func TestApplyIfLegalSkipsIllegalMoves(t *testing.T) {
	client := dbtest.Open(t)
	tr, err := NewTransitioner(outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop()), nil)
	require.NoError(t, err)
	order := seedOrder(t, client.DB(), enums.OrderStatusCancelled)

	var applied bool
	err = client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		applied, err = tr.ApplyIfLegal(context.Background(), tx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusPaymentCompleted})
		return err
	})
	require.NoError(t, err)
	assert.False(t, applied)

	err = client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := tr.ApplyIfLegal(context.Background(), tx, TransitionInput{OrderID: uuid.New(), To: enums.OrderStatusPaymentCompleted})
		return err
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}
