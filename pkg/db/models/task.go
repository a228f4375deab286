package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
)

// Task is a unit of fan-out work.
type Task struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Type              enums.TaskType     `gorm:"column:type;not null"`
	Title             string             `gorm:"column:title;not null"`
	Status            enums.TaskStatus   `gorm:"column:status;not null;index"`
	Priority          enums.TaskPriority `gorm:"column:priority;not null"`
	AssigneeUserID    *uuid.UUID         `gorm:"column:assignee_user_id;type:uuid;index"`
	OrderID           *uuid.UUID         `gorm:"column:order_id;type:uuid;index"`
	ShopID            *uuid.UUID         `gorm:"column:shop_id;type:uuid"`
	DeliveryProfileID *uuid.UUID         `gorm:"column:delivery_profile_id;type:uuid"`
	DueAt             *time.Time         `gorm:"column:due_at"`
	Metadata          map[string]any     `gorm:"column:metadata;type:jsonb;serializer:json"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Task) BeforeCreate(*gorm.DB) error {
	assignID(&t.ID)
	return nil
}

// TaskHistory records one change to a task field.
type TaskHistory struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TaskID          uuid.UUID  `gorm:"column:task_id;type:uuid;not null;index"`
	Field           string     `gorm:"column:field;not null"`
	FromValue       *string    `gorm:"column:from_value"`
	ToValue         *string    `gorm:"column:to_value"`
	ChangedByUserID *uuid.UUID `gorm:"column:changed_by_user_id;type:uuid"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (TaskHistory) TableName() string { return "task_histories" }

func (h *TaskHistory) BeforeCreate(*gorm.DB) error {
	assignID(&h.ID)
	return nil
}

// DeliveryOpportunity is the single broadcast record per order. ClaimedBy is
// written once via compare-and-swap.
type DeliveryOpportunity struct {
	ID        uuid.UUID                       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID                       `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_delivery_opportunities_order"`
	Status    enums.DeliveryOpportunityStatus `gorm:"column:status;not null;index"`
	ClaimedBy *uuid.UUID                      `gorm:"column:claimed_by;type:uuid"`
	ClaimedAt *time.Time                      `gorm:"column:claimed_at"`
	ExpiresAt time.Time                       `gorm:"column:expires_at;not null"`
	Responses []DeliveryResponse              `gorm:"foreignKey:OpportunityID;references:ID"`
	CreatedAt time.Time                       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time                       `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *DeliveryOpportunity) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// DeliveryResponse is one partner's slot in a delivery opportunity.
type DeliveryResponse struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OpportunityID     uuid.UUID              `gorm:"column:opportunity_id;type:uuid;not null;uniqueIndex:ux_delivery_responses_partner,priority:1"`
	PartnerUserID     uuid.UUID              `gorm:"column:partner_user_id;type:uuid;not null;uniqueIndex:ux_delivery_responses_partner,priority:2"`
	DeliveryProfileID uuid.UUID              `gorm:"column:delivery_profile_id;type:uuid;not null"`
	Decision          enums.DeliveryDecision `gorm:"column:decision;not null"`
	RejectionReason   *string                `gorm:"column:rejection_reason"`
	RespondedAt       *time.Time             `gorm:"column:responded_at"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *DeliveryResponse) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}
