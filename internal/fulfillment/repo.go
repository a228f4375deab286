package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
)

// Repository persists tasks, their history and delivery opportunities.
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

func (r *Repository) CreateTask(ctx context.Context, task *models.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *Repository) AppendHistory(ctx context.Context, rows ...models.TaskHistory) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *Repository) FindTasks(ctx context.Context, orderID uuid.UUID, types []enums.TaskType, statuses []enums.TaskStatus) ([]models.Task, error) {
	var tasks []models.Task
	q := r.db.WithContext(ctx).Where("order_id = ?", orderID)
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Order("created_at ASC, id ASC").Find(&tasks).Error
	return tasks, err
}

// UpdateTask writes updates only while the task still has the expected status.
func (r *Repository) UpdateTask(ctx context.Context, id uuid.UUID, expected enums.TaskStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *Repository) ShopOwners(ctx context.Context, shopIDs []uuid.UUID) ([]models.Shop, error) {
	var shops []models.Shop
	if len(shopIDs) == 0 {
		return shops, nil
	}
	err := r.db.WithContext(ctx).Select("id", "owner_user_id").Where("id IN ?", shopIDs).Find(&shops).Error
	return shops, err
}

func (r *Repository) ActiveProfiles(ctx context.Context) ([]models.DeliveryProfile, error) {
	var profiles []models.DeliveryProfile
	err := r.db.WithContext(ctx).
		Joins("JOIN users ON users.id = delivery_profiles.user_id").
		Where("delivery_profiles.is_active = ? AND users.role = ?", true, enums.UserRoleDeliveryPartner).
		Order("delivery_profiles.created_at ASC").
		Find(&profiles).Error
	return profiles, err
}

func (r *Repository) ActiveProfileForUser(ctx context.Context, userID uuid.UUID) (*models.DeliveryProfile, error) {
	var profile models.DeliveryProfile
	err := r.db.WithContext(ctx).Where("user_id = ? AND is_active = ?", userID, true).First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *Repository) CreateOpportunity(ctx context.Context, opp *models.DeliveryOpportunity) error {
	return r.db.WithContext(ctx).Create(opp).Error
}

func (r *Repository) FindOpportunityByOrder(ctx context.Context, orderID uuid.UUID) (*models.DeliveryOpportunity, error) {
	var opp models.DeliveryOpportunity
	err := r.db.WithContext(ctx).
		Preload("Responses", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		First(&opp, "order_id = ?", orderID).Error
	if err != nil {
		return nil, err
	}
	return &opp, nil
}

func (r *Repository) CreateResponses(ctx context.Context, rows []models.DeliveryResponse) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// Claim sets claimed_by only when nobody holds the opportunity yet.
func (r *Repository) Claim(ctx context.Context, oppID, partnerID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryOpportunity{}).
		Where("id = ? AND claimed_by IS NULL AND status = ?", oppID, enums.DeliveryOpportunityOpen).
		Updates(map[string]any{
			"status":     enums.DeliveryOpportunityClaimed,
			"claimed_by": partnerID,
			"claimed_at": now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// Reopen resets the broadcast window of an unclaimed opportunity.
func (r *Repository) Reopen(ctx context.Context, oppID uuid.UUID, expiresAt, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryOpportunity{}).
		Where("id = ? AND claimed_by IS NULL AND status IN ?", oppID,
			[]enums.DeliveryOpportunityStatus{enums.DeliveryOpportunityOpen, enums.DeliveryOpportunityExpired}).
		Updates(map[string]any{
			"status":     enums.DeliveryOpportunityOpen,
			"expires_at": expiresAt,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *Repository) SetOpportunityStatus(ctx context.Context, oppID uuid.UUID, from []enums.DeliveryOpportunityStatus, to enums.DeliveryOpportunityStatus, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryOpportunity{}).
		Where("id = ? AND status IN ?", oppID, from).
		Updates(map[string]any{"status": to, "updated_at": now})
	return res.RowsAffected, res.Error
}

// Decide moves one pending response to decision.
func (r *Repository) Decide(ctx context.Context, responseID uuid.UUID, decision enums.DeliveryDecision, reason *string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryResponse{}).
		Where("id = ? AND decision = ?", responseID, enums.DeliveryDecisionPending).
		Updates(map[string]any{
			"decision":         decision,
			"rejection_reason": reason,
			"responded_at":     now,
			"updated_at":       now,
		})
	return res.RowsAffected, res.Error
}

// SupersedePending closes every still-pending response on the opportunity.
func (r *Repository) SupersedePending(ctx context.Context, oppID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryResponse{}).
		Where("opportunity_id = ? AND decision = ?", oppID, enums.DeliveryDecisionPending).
		Updates(map[string]any{"decision": enums.DeliveryDecisionSuperseded, "updated_at": now})
	return res.RowsAffected, res.Error
}

// FindPickupEvents returns the PICKUP_COMPLETED timeline entries of an order.
func (r *Repository) FindPickupEvents(ctx context.Context, orderID uuid.UUID) ([]models.OrderEvent, error) {
	var events []models.OrderEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND event_type = ?", orderID, enums.OrderStatusPickupCompleted).
		Find(&events).Error
	return events, err
}

func (r *Repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// ExpiredOpen lists open, unclaimed opportunities whose window has passed.
func (r *Repository) ExpiredOpen(ctx context.Context, now time.Time, limit int) ([]models.DeliveryOpportunity, error) {
	var opps []models.DeliveryOpportunity
	err := r.db.WithContext(ctx).
		Where("status = ? AND claimed_by IS NULL AND expires_at < ?", enums.DeliveryOpportunityOpen, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&opps).Error
	return opps, err
}
