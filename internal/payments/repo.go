package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	"github.com/angelmondragon/tradeloop-backend/pkg/types"
)

// Repository persists payments, their fee snapshots, payment methods and the
// P2P orders created at checkout.
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

func (r *Repository) locking(ctx context.Context) *gorm.DB {
	q := r.db.WithContext(ctx)
	if q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func (r *Repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *Repository) FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).First(&shop, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

func (r *Repository) FindOffer(ctx context.Context, id uuid.UUID) (*models.UserItemOffer, error) {
	var offer models.UserItemOffer
	if err := r.db.WithContext(ctx).Preload("Item").First(&offer, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &offer, nil
}

// FindConversation returns the newest conversation for the triple in any status.
func (r *Repository) FindConversation(ctx context.Context, itemID, buyerID, sellerID uuid.UUID) (*models.ChatConversation, error) {
	var conv models.ChatConversation
	err := r.db.WithContext(ctx).
		Where("item_id = ? AND buyer_user_id = ? AND seller_user_id = ?", itemID, buyerID, sellerID).
		Order("created_at DESC").
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *Repository) FindP2POrderByOffer(ctx context.Context, offerID uuid.UUID) (*models.P2POrder, error) {
	var order models.P2POrder
	if err := r.locking(ctx).First(&order, "offer_id = ?", offerID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *Repository) FindP2POrder(ctx context.Context, id uuid.UUID) (*models.P2POrder, error) {
	var order models.P2POrder
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *Repository) CreateP2POrder(ctx context.Context, order *models.P2POrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// SetP2PDeliveryAddress replaces the address snapshot of an unpaid P2P order.
func (r *Repository) SetP2PDeliveryAddress(ctx context.Context, id uuid.UUID, addr types.AddressSnapshot) error {
	return r.db.WithContext(ctx).
		Model(&models.P2POrder{}).
		Where("id = ? AND status = ?", id, enums.P2POrderStatusPendingPayment).
		Updates(map[string]any{
			"address_line1":       addr.Line1,
			"address_line2":       addr.Line2,
			"address_city":        addr.City,
			"address_region":      addr.Region,
			"address_postal_code": addr.PostalCode,
			"address_country":     addr.Country,
			"address_latitude":    addr.Latitude,
			"address_longitude":   addr.Longitude,
		}).Error
}

// SetP2POrderStatus moves a P2P order out of one of from.
func (r *Repository) SetP2POrderStatus(ctx context.Context, id uuid.UUID, from []enums.P2POrderStatus, to enums.P2POrderStatus) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.P2POrder{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	return res.RowsAffected, res.Error
}

func (r *Repository) SetItemStatus(ctx context.Context, id uuid.UUID, from []enums.UserItemStatus, to enums.UserItemStatus) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.UserItem{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	return res.RowsAffected, res.Error
}

// CreatePayment inserts the payment together with its fee snapshot.
func (r *Repository) CreatePayment(ctx context.Context, payment *models.Payment, fee *models.PaymentFee) error {
	if err := r.db.WithContext(ctx).Omit("Fee").Create(payment).Error; err != nil {
		return err
	}
	fee.PaymentID = payment.ID
	return r.db.WithContext(ctx).Create(fee).Error
}

func (r *Repository) FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Preload("Fee").First(&payment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindPaymentByProviderID loads a payment by gateway intent id, taking a row
// lock on Postgres.
func (r *Repository) FindPaymentByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.locking(ctx).First(&payment, "provider_payment_id = ?", providerPaymentID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *Repository) FindFee(ctx context.Context, paymentID uuid.UUID) (*models.PaymentFee, error) {
	var fee models.PaymentFee
	if err := r.db.WithContext(ctx).First(&fee, "payment_id = ?", paymentID).Error; err != nil {
		return nil, err
	}
	return &fee, nil
}

// UpdatePayment writes updates while the payment is still in one of from.
func (r *Repository) UpdatePayment(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, updates map[string]any) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}
	res := q.Updates(updates)
	return res.RowsAffected, res.Error
}

// OpenOrderPayments lists the PENDING and PROCESSING payments of an order.
func (r *Repository) OpenOrderPayments(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	return r.openPayments(ctx, "order_id = ?", orderID)
}

// OpenP2PPayments lists the PENDING and PROCESSING payments of a P2P order.
func (r *Repository) OpenP2PPayments(ctx context.Context, p2pOrderID uuid.UUID) ([]models.Payment, error) {
	return r.openPayments(ctx, "p2p_order_id = ?", p2pOrderID)
}

func (r *Repository) openPayments(ctx context.Context, owner string, id uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where(owner, id).
		Where("status IN ?", []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing}).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, err
}

// CountLiveOrderPayments counts open payments of an order that hold a gateway
// intent.
func (r *Repository) CountLiveOrderPayments(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND provider_payment_id IS NOT NULL AND status IN ?", orderID,
			[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing}).
		Count(&n).Error
	return n, err
}

// AbandonedPending lists PENDING payments that never reached the gateway.
func (r *Repository) AbandonedPending(ctx context.Context, before time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND provider_payment_id IS NULL AND created_at < ?", enums.PaymentStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// StaleOpen lists open payments with a gateway intent not touched since before.
func (r *Repository) StaleOpen(ctx context.Context, before time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ? AND provider_payment_id IS NOT NULL AND updated_at < ?",
			[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing}, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *Repository) FindPaymentMethodByProviderID(ctx context.Context, providerID string) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	if err := r.db.WithContext(ctx).First(&pm, "provider_payment_method_id = ?", providerID).Error; err != nil {
		return nil, err
	}
	return &pm, nil
}

func (r *Repository) FindPaymentMethod(ctx context.Context, id, userID uuid.UUID) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	if err := r.db.WithContext(ctx).First(&pm, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, err
	}
	return &pm, nil
}

func (r *Repository) SavePaymentMethod(ctx context.Context, pm *models.PaymentMethod) error {
	return r.db.WithContext(ctx).Save(pm).Error
}

// ClearDefault unsets is_default on every other method of the user.
func (r *Repository) ClearDefault(ctx context.Context, userID, keepID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentMethod{}).
		Where("user_id = ? AND id <> ? AND is_default = ?", userID, keepID, true).
		Update("is_default", false).Error
}
