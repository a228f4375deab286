package offers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
)

// Repository persists listings, offers and their chat threads.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindItem loads a listing, taking a row lock on Postgres.
func (r *Repository) FindItem(ctx context.Context, id uuid.UUID) (*models.UserItem, error) {
	q := r.db.WithContext(ctx)
	if q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var item models.UserItem
	if err := q.First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// SetItemStatus moves a listing out of from. It reports rows affected.
func (r *Repository) SetItemStatus(ctx context.Context, id uuid.UUID, from, to enums.UserItemStatus) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.UserItem{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected, res.Error
}

func (r *Repository) FindActiveConversation(ctx context.Context, itemID, buyerID, sellerID uuid.UUID) (*models.ChatConversation, error) {
	var conv models.ChatConversation
	err := r.db.WithContext(ctx).
		Where("item_id = ? AND buyer_user_id = ? AND seller_user_id = ? AND status = ?",
			itemID, buyerID, sellerID, enums.ConversationStatusActive).
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// EnsureConversation returns the ACTIVE conversation for the triple, creating
// it when absent. A concurrent creator wins through the partial unique index.
func (r *Repository) EnsureConversation(ctx context.Context, itemID, buyerID, sellerID uuid.UUID) (*models.ChatConversation, error) {
	conv, err := r.FindActiveConversation(ctx, itemID, buyerID, sellerID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	conv = &models.ChatConversation{
		ItemID:       itemID,
		BuyerUserID:  buyerID,
		SellerUserID: sellerID,
		Status:       enums.ConversationStatusActive,
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(conv)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return r.FindActiveConversation(ctx, itemID, buyerID, sellerID)
	}
	return conv, nil
}

func (r *Repository) FindConversation(ctx context.Context, id uuid.UUID) (*models.ChatConversation, error) {
	var conv models.ChatConversation
	if err := r.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendMessage stores msg and bumps the conversation's last_message_at.
func (r *Repository) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&models.ChatConversation{}).
		Where("id = ?", msg.ConversationID).
		Updates(map[string]any{"last_message_at": msg.CreatedAt, "updated_at": msg.CreatedAt}).Error
}

func (r *Repository) CreateOffer(ctx context.Context, offer *models.UserItemOffer) error {
	return r.db.WithContext(ctx).Create(offer).Error
}

func (r *Repository) FindOffer(ctx context.Context, id uuid.UUID) (*models.UserItemOffer, error) {
	var offer models.UserItemOffer
	if err := r.db.WithContext(ctx).Preload("Item").First(&offer, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &offer, nil
}

// SetOfferStatus moves a PENDING offer to status.
func (r *Repository) SetOfferStatus(ctx context.Context, id uuid.UUID, status enums.OfferStatus, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.UserItemOffer{}).
		Where("id = ? AND status = ?", id, enums.OfferStatusPending).
		Updates(map[string]any{"status": status, "responded_at": now, "updated_at": now})
	return res.RowsAffected, res.Error
}

// PendingSiblings lists the other PENDING offers on an item.
func (r *Repository) PendingSiblings(ctx context.Context, itemID, exceptID uuid.UUID) ([]models.UserItemOffer, error) {
	var offers []models.UserItemOffer
	err := r.db.WithContext(ctx).
		Where("item_id = ? AND id <> ? AND status = ?", itemID, exceptID, enums.OfferStatusPending).
		Order("created_at ASC, id ASC").
		Find(&offers).Error
	return offers, err
}

// ExpiredPending lists PENDING offers whose valid_until has passed.
func (r *Repository) ExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.UserItemOffer, error) {
	var offers []models.UserItemOffer
	err := r.db.WithContext(ctx).
		Preload("Item").
		Where("status = ? AND valid_until IS NOT NULL AND valid_until < ?", enums.OfferStatusPending, now).
		Order("valid_until ASC").
		Limit(limit).
		Find(&offers).Error
	return offers, err
}
