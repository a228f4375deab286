package offers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradeloop-backend/internal/users"
	"github.com/angelmondragon/tradeloop-backend/pkg/db"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
)

type env struct {
	svc    *Service
	client *db.Client
	seller *models.User
	item   *models.UserItem
	now    time.Time
}

func newEnv(t *testing.T, enforceExpiry bool) *env {
	t.Helper()
	client := dbtest.Open(t)
	svc, err := NewService(ServiceParams{
		Repo:          NewRepository(client.DB()),
		Tx:            client,
		Outbox:        outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop()),
		Roles:         users.NewRepository(client.DB()),
		Logger:        logger.Nop(),
		TTL:           48 * time.Hour,
		EnforceExpiry: enforceExpiry,
	})
	require.NoError(t, err)

	e := &env{svc: svc, client: client, now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	svc.now = func() time.Time { return e.now }
	e.seller = dbtest.User(t, client.DB(), enums.UserRoleCustomer)
	e.item = dbtest.UserItem(t, client.DB(), e.seller.ID, 10000)
	return e
}

func (e *env) offer(t *testing.T, amount int64) (*models.User, *CreateResult) {
	t.Helper()
	buyer := dbtest.User(t, e.client.DB(), enums.UserRoleCustomer)
	res, err := e.svc.CreateOffer(context.Background(), buyer.ID, CreateInput{ItemID: e.item.ID, OfferAmountCents: amount})
	require.NoError(t, err)
	return buyer, res
}

func (e *env) offerStatus(t *testing.T, id uuid.UUID) enums.OfferStatus {
	t.Helper()
	var o models.UserItemOffer
	require.NoError(t, e.client.DB().First(&o, "id = ?", id).Error)
	return o.Status
}

func (e *env) messages(t *testing.T, conversationID uuid.UUID) []models.ChatMessage {
	t.Helper()
	var msgs []models.ChatMessage
	require.NoError(t, e.client.DB().Where("conversation_id = ?", conversationID).Order("created_at ASC, id ASC").Find(&msgs).Error)
	return msgs
}

func messageTypes(msgs []models.ChatMessage) []enums.MessageType {
	out := make([]enums.MessageType, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestCreateOfferOpensConversationWithOfferMessage(t *testing.T) {
	e := newEnv(t, true)
	note := "Can pick up today"
	buyer := dbtest.User(t, e.client.DB(), enums.UserRoleCustomer)

	res, err := e.svc.CreateOffer(context.Background(), buyer.ID, CreateInput{ItemID: e.item.ID, OfferAmountCents: 8000, Message: &note})
	require.NoError(t, err)

	assert.Equal(t, enums.OfferStatusPending, res.Offer.Status)
	require.NotNil(t, res.Offer.ValidUntil)
	assert.True(t, res.Offer.ValidUntil.Equal(e.now.Add(48*time.Hour)))
	assert.Equal(t, buyer.ID, res.Conversation.BuyerUserID)
	assert.Equal(t, e.seller.ID, res.Conversation.SellerUserID)
	assert.Equal(t, enums.MessageTypeOffer, res.Message.Type)
	require.NotNil(t, res.Message.OfferID)
	assert.Equal(t, res.Offer.ID, *res.Message.OfferID)
	assert.Nil(t, res.Message.SenderUserID)
	assert.Contains(t, res.Message.Content, "$80.00")

	var conv models.ChatConversation
	require.NoError(t, e.client.DB().First(&conv, "id = ?", res.Conversation.ID).Error)
	require.NotNil(t, conv.LastMessageAt)

	second, err := e.svc.CreateOffer(context.Background(), buyer.ID, CreateInput{ItemID: e.item.ID, OfferAmountCents: 8500})
	require.NoError(t, err)
	assert.Equal(t, res.Conversation.ID, second.Conversation.ID)
	assert.Len(t, e.messages(t, res.Conversation.ID), 2)
}

func TestCreateOfferValidation(t *testing.T) {
	e := newEnv(t, true)
	buyer := dbtest.User(t, e.client.DB(), enums.UserRoleCustomer)
	ctx := context.Background()

	_, err := e.svc.CreateOffer(ctx, buyer.ID, CreateInput{ItemID: e.item.ID, OfferAmountCents: 0})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = e.svc.CreateOffer(ctx, e.seller.ID, CreateInput{ItemID: e.item.ID, OfferAmountCents: 500})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = e.svc.CreateOffer(ctx, buyer.ID, CreateInput{ItemID: uuid.New(), OfferAmountCents: 500})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	require.NoError(t, e.client.DB().Model(e.item).Update("status", enums.UserItemStatusSold).Error)
	_, err = e.svc.CreateOffer(ctx, buyer.ID, CreateInput{ItemID: e.item.ID, OfferAmountCents: 500})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestCreateOfferIsForCustomers(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()

	for _, role := range []enums.UserRole{enums.UserRoleShopOwner, enums.UserRoleDeliveryPartner, enums.UserRoleAdmin} {
		user := dbtest.User(t, e.client.DB(), role)
		_, err := e.svc.CreateOffer(ctx, user.ID, CreateInput{ItemID: e.item.ID, OfferAmountCents: 500})
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden), "%s: %v", role, err)
	}

	_, err := e.svc.CreateOffer(ctx, uuid.New(), CreateInput{ItemID: e.item.ID, OfferAmountCents: 500})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "unknown user: %v", err)

	var count int64
	require.NoError(t, e.client.DB().Model(&models.UserItemOffer{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAcceptRejectsSiblingsAndReservesItem(t *testing.T) {
	e := newEnv(t, true)
	_, winner := e.offer(t, 8000)
	_, loser := e.offer(t, 7000)

	res, err := e.svc.RespondToOffer(context.Background(), e.seller.ID, RespondInput{
		OfferID:        winner.Offer.ID,
		ConversationID: winner.Conversation.ID,
		Status:         enums.OfferStatusAccepted,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OfferStatusAccepted, res.Offer.Status)
	assert.Equal(t, enums.MessageTypeText, res.Message.Type)
	require.NotNil(t, res.PaymentMessage)
	assert.Equal(t, enums.MessageTypePendingPayment, res.PaymentMessage.Type)
	require.NotNil(t, res.PaymentMessage.OfferID)
	assert.Equal(t, winner.Offer.ID, *res.PaymentMessage.OfferID)

	assert.Equal(t, enums.OfferStatusAccepted, e.offerStatus(t, winner.Offer.ID))
	assert.Equal(t, enums.OfferStatusRejected, e.offerStatus(t, loser.Offer.ID))

	var item models.UserItem
	require.NoError(t, e.client.DB().First(&item, "id = ?", e.item.ID).Error)
	assert.Equal(t, enums.UserItemStatusReserved, item.Status)

	assert.ElementsMatch(t, []enums.MessageType{enums.MessageTypeOffer, enums.MessageTypeText}, messageTypes(e.messages(t, loser.Conversation.ID)))

	var accepted int64
	require.NoError(t, e.client.DB().Model(&models.UserItemOffer{}).
		Where("item_id = ? AND status = ?", e.item.ID, enums.OfferStatusAccepted).Count(&accepted).Error)
	assert.EqualValues(t, 1, accepted)

	_, err = e.svc.RespondToOffer(context.Background(), e.seller.ID, RespondInput{
		OfferID:        loser.Offer.ID,
		ConversationID: loser.Conversation.ID,
		Status:         enums.OfferStatusAccepted,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestRejectHasNoSideEffects(t *testing.T) {
	e := newEnv(t, true)
	_, first := e.offer(t, 6000)
	_, other := e.offer(t, 6500)

	res, err := e.svc.RespondToOffer(context.Background(), e.seller.ID, RespondInput{
		OfferID:        first.Offer.ID,
		ConversationID: first.Conversation.ID,
		Status:         enums.OfferStatusRejected,
	})
	require.NoError(t, err)
	assert.Nil(t, res.PaymentMessage)
	assert.Equal(t, enums.OfferStatusRejected, res.Offer.Status)
	assert.Equal(t, enums.OfferStatusPending, e.offerStatus(t, other.Offer.ID))

	var item models.UserItem
	require.NoError(t, e.client.DB().First(&item, "id = ?", e.item.ID).Error)
	assert.Equal(t, enums.UserItemStatusAvailable, item.Status)
}

func TestRespondGuards(t *testing.T) {
	e := newEnv(t, true)
	_, res := e.offer(t, 8000)
	_, other := e.offer(t, 7000)
	ctx := context.Background()

	_, err := e.svc.RespondToOffer(ctx, res.Offer.BuyerUserID, RespondInput{
		OfferID: res.Offer.ID, ConversationID: res.Conversation.ID, Status: enums.OfferStatusAccepted,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	_, err = e.svc.RespondToOffer(ctx, e.seller.ID, RespondInput{
		OfferID: res.Offer.ID, ConversationID: other.Conversation.ID, Status: enums.OfferStatusAccepted,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = e.svc.RespondToOffer(ctx, e.seller.ID, RespondInput{
		OfferID: res.Offer.ID, ConversationID: res.Conversation.ID, Status: enums.OfferStatusExpired,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = e.svc.RespondToOffer(ctx, e.seller.ID, RespondInput{
		OfferID: uuid.New(), ConversationID: res.Conversation.ID, Status: enums.OfferStatusAccepted,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestAcceptExpiredOffer(t *testing.T) {
	for _, enforce := range []bool{true, false} {
		e := newEnv(t, enforce)
		_, res := e.offer(t, 8000)
		e.now = e.now.Add(49 * time.Hour)

		_, err := e.svc.RespondToOffer(context.Background(), e.seller.ID, RespondInput{
			OfferID: res.Offer.ID, ConversationID: res.Conversation.ID, Status: enums.OfferStatusAccepted,
		})
		if enforce {
			require.Error(t, err)
			assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
			assert.Equal(t, "offer expired", pkgerrors.As(err).Message())
		} else {
			require.NoError(t, err)
		}
	}
}

func TestWithdrawOffer(t *testing.T) {
	e := newEnv(t, true)
	buyer, res := e.offer(t, 8000)
	ctx := context.Background()

	_, err := e.svc.WithdrawOffer(ctx, res.Offer.ID, e.seller.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	dto, err := e.svc.WithdrawOffer(ctx, res.Offer.ID, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OfferStatusWithdrawn, dto.Status)
	assert.ElementsMatch(t, []enums.MessageType{enums.MessageTypeOffer, enums.MessageTypeText}, messageTypes(e.messages(t, res.Conversation.ID)))

	_, err = e.svc.WithdrawOffer(ctx, res.Offer.ID, buyer.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestExpireOffers(t *testing.T) {
	e := newEnv(t, true)
	_, stale := e.offer(t, 8000)
	e.now = e.now.Add(24 * time.Hour)
	_, fresh := e.offer(t, 8200)

	n, err := e.svc.ExpireOffers(context.Background(), e.now.Add(25*time.Hour), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, enums.OfferStatusExpired, e.offerStatus(t, stale.Offer.ID))
	assert.Equal(t, enums.OfferStatusPending, e.offerStatus(t, fresh.Offer.ID))

	var expiredEvents int64
	require.NoError(t, e.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOfferExpired).Count(&expiredEvents).Error)
	assert.EqualValues(t, 1, expiredEvents)
}
