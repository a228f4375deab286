package feeconfig

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
)

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

func (r *Repository) FindActive(ctx context.Context) (*models.FeeConfiguration, error) {
	var row models.FeeConfiguration
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.FeeConfiguration, error) {
	var row models.FeeConfiguration
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repository) List(ctx context.Context) ([]models.FeeConfiguration, error) {
	var rows []models.FeeConfiguration
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error
	return rows, err
}

func (r *Repository) Create(ctx context.Context, row *models.FeeConfiguration) error {
	return r.db.WithContext(ctx).Create(row).Error
}

// Activate flips the active row in two statements; the partial unique index
// rejects a second active row if a concurrent activation interleaves.
func (r *Repository) Activate(ctx context.Context, id uuid.UUID) (int64, error) {
	if err := r.db.WithContext(ctx).
		Model(&models.FeeConfiguration{}).
		Where("is_active = ? AND id <> ?", true, id).
		Update("is_active", false).Error; err != nil {
		return 0, err
	}
	res := r.db.WithContext(ctx).
		Model(&models.FeeConfiguration{}).
		Where("id = ?", id).
		Update("is_active", true)
	return res.RowsAffected, res.Error
}
